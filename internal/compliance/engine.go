// Package compliance tracks incomplete-profile users through warning and
// restriction, and lifts bot-applied restrictions once they re-qualify.
package compliance

import (
	"context"
	"fmt"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngwarden/internal/bot"
	"github.com/iamwavecut/ngwarden/internal/db"
	ierrors "github.com/iamwavecut/ngwarden/internal/errors"
	"github.com/iamwavecut/ngwarden/internal/observability"
)

type Outcome string

const (
	OutcomeCompliant      Outcome = "compliant"
	OutcomeWarned         Outcome = "warned"
	OutcomeFirstWarning   Outcome = "first_warning"
	OutcomeCounted        Outcome = "counted"
	OutcomeRestricted     Outcome = "restricted"
	OutcomeAlreadyHandled Outcome = "already_handled"
)

type (
	Platform interface {
		RestrictMember(ctx context.Context, groupID, userID int64, perms api.ChatPermissions) error
		GetMembership(ctx context.Context, groupID, userID int64) (bot.Membership, error)
		GetDefaultPermissions(ctx context.Context, groupID int64) (api.ChatPermissions, error)
		GetProfilePhotoCount(ctx context.Context, userID int64) (int, error)
	}

	Engine struct {
		settings   Settings
		store      Store
		platform   Platform
		notifier   Notifier
		challenges ChallengeResolver
		profiles   *ProfileEvaluator
		now        func() time.Time
	}
)

// NewEngine wires the engine. challenges may be nil when join challenges are off.
func NewEngine(settings Settings, store Store, platform Platform, notifier Notifier, challenges ChallengeResolver) *Engine {
	return &Engine{
		settings:   settings,
		store:      store,
		platform:   platform,
		notifier:   notifier,
		challenges: challenges,
		profiles:   NewProfileEvaluator(store, platform),
		now:        time.Now,
	}
}

func (e *Engine) getLogEntry() *log.Entry {
	return log.WithField("object", "ComplianceEngine")
}

func (e *Engine) Settings() Settings {
	return e.settings
}

// EvaluateMessage applies one non-compliant message, if the author's profile
// is incomplete, to the author's compliance cycle.
func (e *Engine) EvaluateMessage(ctx context.Context, user *api.User) (outcome Outcome, err error) {
	ctx, span := observability.StartSpan(ctx, "compliance.EvaluateMessage")
	defer func() { observability.EndSpan(span, err) }()

	entry := e.getLogEntry().WithFields(log.Fields{
		"method":   "EvaluateMessage",
		"user_id":  user.ID,
		"group_id": e.settings.GroupID,
	})

	check, err := e.profiles.CheckProfile(ctx, user)
	if err != nil {
		return "", errors.WithMessage(err, "check profile")
	}
	if check.IsComplete() {
		return OutcomeCompliant, nil
	}
	missing := check.MissingItems()

	if !e.settings.RestrictFailedUsers {
		if err := e.notifier.WarnIncompleteProfile(ctx, user, missing); err != nil {
			return "", errors.WithMessage(err, "send warning")
		}
		observability.RecordWarning("warning_only")
		return OutcomeWarned, nil
	}

	record, err := e.store.TrackViolation(ctx, user.ID, e.settings.GroupID, e.now())
	if err != nil {
		return "", err
	}
	entry = entry.WithField("message_count", record.MessageCount)

	outcome = OutcomeCounted
	if record.MessageCount == 1 {
		if err := e.notifier.WarnFirstMessage(ctx, user, missing); err != nil {
			entry.WithField("error", err.Error()).Error("cant send first warning")
		} else {
			observability.RecordWarning("first_warning")
		}
		outcome = OutcomeFirstWarning
	}

	if record.MessageCount < e.settings.WarningThreshold {
		entry.Trace("violation counted")
		return outcome, nil
	}

	if err := e.platform.RestrictMember(ctx, e.settings.GroupID, user.ID, bot.MutedPermissions()); err != nil {
		return outcome, errors.WithMessage(err, "restrict member")
	}
	if _, err := e.store.MarkRestricted(ctx, record.ID, db.CauseMessageThreshold, e.now()); err != nil {
		if ierrors.IsNotFound(err) {
			entry.Debug("cycle already closed by another trigger")
			return OutcomeAlreadyHandled, nil
		}
		err = fmt.Errorf("%w: user %d muted but not persisted: %w", ierrors.ErrInconsistentState, user.ID, err)
		entry.WithField("error", err.Error()).Error("restriction not persisted")
		return outcome, err
	}
	observability.RecordRestriction(string(db.CauseMessageThreshold))
	entry.Info("restricted after message threshold")

	if err := e.notifier.NotifyRestrictedByMessages(ctx, user, record.MessageCount, missing); err != nil {
		entry.WithField("error", err.Error()).Error("cant send restriction notice")
	}
	return OutcomeRestricted, nil
}
