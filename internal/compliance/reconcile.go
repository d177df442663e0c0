package compliance

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngwarden/internal/bot"
	ierrors "github.com/iamwavecut/ngwarden/internal/errors"
	"github.com/iamwavecut/ngwarden/internal/observability"
)

type Resolution string

const (
	ResolutionNotMember         Resolution = "not_member"
	ResolutionChallengeCleared  Resolution = "challenge_cleared"
	ResolutionIncompleteProfile Resolution = "incomplete_profile"
	ResolutionNothingToLift     Resolution = "nothing_to_lift"
	ResolutionAlreadyLifted     Resolution = "already_lifted"
	ResolutionLifted            Resolution = "lifted"
)

// Reconciliation is the result of a direct message to the bot. Missing is
// set only for ResolutionIncompleteProfile.
type Reconciliation struct {
	Resolution Resolution
	Missing    []MissingItem
}

// ReconcileOnDirectMessage lifts a bot-applied restriction for a user who
// wrote to the bot privately, if they now qualify. The first matching check wins.
func (e *Engine) ReconcileOnDirectMessage(ctx context.Context, user *api.User) (result Reconciliation, err error) {
	ctx, span := observability.StartSpan(ctx, "compliance.ReconcileOnDirectMessage")
	defer func() { observability.EndSpan(span, err) }()

	groupID := e.settings.GroupID
	entry := e.getLogEntry().WithFields(log.Fields{
		"method":   "ReconcileOnDirectMessage",
		"user_id":  user.ID,
		"group_id": groupID,
	})

	membership, err := e.platform.GetMembership(ctx, groupID, user.ID)
	if err != nil {
		entry.WithField("error", err.Error()).Debug("membership lookup failed")
		return Reconciliation{Resolution: ResolutionNotMember}, nil
	}
	if !membership.IsMember() {
		return Reconciliation{Resolution: ResolutionNotMember}, nil
	}

	if e.challenges != nil {
		pending, err := e.store.GetPendingChallenge(ctx, user.ID, groupID)
		if err == nil {
			err = e.challenges.ResolveByDirectMessage(ctx, pending)
			if err == nil {
				entry.Info("challenge cleared by direct message")
				return Reconciliation{Resolution: ResolutionChallengeCleared}, nil
			}
			// Not found here means the challenge expired meanwhile; the
			// restriction it left behind is handled below.
			if !ierrors.IsNotFound(err) {
				err = errors.WithMessage(err, "resolve challenge")
			}
		}
		if !ierrors.IsNotFound(err) {
			return Reconciliation{}, err
		}
	}

	check, err := e.profiles.CheckProfile(ctx, user)
	if err != nil {
		return Reconciliation{}, errors.WithMessage(err, "check profile")
	}
	if !check.IsComplete() {
		return Reconciliation{Resolution: ResolutionIncompleteProfile, Missing: check.MissingItems()}, nil
	}

	if _, err := e.store.GetBotRestriction(ctx, user.ID, groupID); err != nil {
		if ierrors.IsNotFound(err) {
			return Reconciliation{Resolution: ResolutionNothingToLift}, nil
		}
		return Reconciliation{}, err
	}

	if membership.Status != bot.StatusRestricted {
		if _, err := e.store.ClearBotRestriction(ctx, user.ID, groupID); err != nil {
			return Reconciliation{}, err
		}
		entry.Info("restriction already lifted remotely")
		return Reconciliation{Resolution: ResolutionAlreadyLifted}, nil
	}

	perms, err := e.platform.GetDefaultPermissions(ctx, groupID)
	if err != nil {
		return Reconciliation{}, errors.WithMessage(err, "get default permissions")
	}
	if err := e.platform.RestrictMember(ctx, groupID, user.ID, perms); err != nil {
		return Reconciliation{}, errors.WithMessage(err, "unrestrict member")
	}
	if _, err := e.store.ClearBotRestriction(ctx, user.ID, groupID); err != nil {
		return Reconciliation{}, err
	}
	entry.Info("restriction lifted")
	return Reconciliation{Resolution: ResolutionLifted}, nil
}
