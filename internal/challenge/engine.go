// Package challenge mutes new members until they press a verification button.
// An unanswered challenge expires into a bot-owned restriction that the
// direct-message flow can lift later.
package challenge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngwarden/internal/bot"
	"github.com/iamwavecut/ngwarden/internal/db"
	ierrors "github.com/iamwavecut/ngwarden/internal/errors"
	"github.com/iamwavecut/ngwarden/internal/observability"
	"github.com/iamwavecut/ngwarden/internal/scheduler"
)

const CallbackPrefix = "captcha_verify_"

type AckResult string

const (
	AckVerified    AckResult = "verified"
	AckWrongUser   AckResult = "wrong_user"
	AckNoChallenge AckResult = "no_challenge"
)

type (
	Settings struct {
		Enabled        bool
		GroupID        int64
		WarningTopicID int
		Timeout        time.Duration
	}

	Store interface {
		db.ChallengeStore
		EnsureRestricted(ctx context.Context, userID, groupID int64, cause db.RestrictionCause, at time.Time) (*db.ComplianceRecord, error)
	}

	Platform interface {
		RestrictMember(ctx context.Context, groupID, userID int64, perms api.ChatPermissions) error
		GetDefaultPermissions(ctx context.Context, groupID int64) (api.ChatPermissions, error)
		DeleteMessage(ctx context.Context, ref bot.MessageRef) error
	}

	Scheduler interface {
		Schedule(name string, delay time.Duration, job scheduler.Job) bool
		Cancel(name string) bool
	}

	Notifier interface {
		SendChallenge(ctx context.Context, user *api.User, callbackData string) (bot.MessageRef, error)
		ChallengePassed(ctx context.Context, ref bot.MessageRef, userID int64, displayName string) error
		ChallengeExpired(ctx context.Context, ref bot.MessageRef, userID int64, displayName string) error
	}

	// Payload carries everything the timeout job needs without a store read.
	Payload struct {
		UserID      int64
		GroupID     int64
		ChatID      int64
		MessageID   int
		DisplayName string
	}

	Engine struct {
		settings  Settings
		store     Store
		platform  Platform
		scheduler Scheduler
		notifier  Notifier
		now       func() time.Time
	}
)

func NewEngine(settings Settings, store Store, platform Platform, sched Scheduler, notifier Notifier) *Engine {
	return &Engine{
		settings:  settings,
		store:     store,
		platform:  platform,
		scheduler: sched,
		notifier:  notifier,
		now:       time.Now,
	}
}

func (e *Engine) getLogEntry() *log.Entry {
	return log.WithField("object", "ChallengeEngine")
}

func (e *Engine) Enabled() bool {
	return e.settings.Enabled
}

// JobName is the deterministic timeout job key for a user in a group.
func JobName(groupID, userID int64) string {
	return fmt.Sprintf("captcha_timeout_%d_%d", groupID, userID)
}

func CallbackData(userID int64) string {
	return CallbackPrefix + strconv.FormatInt(userID, 10)
}

// ParseCallbackData extracts the target user id from button data.
func ParseCallbackData(data string) (int64, bool) {
	if !strings.HasPrefix(data, CallbackPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(data, CallbackPrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func payloadOf(pending *db.PendingChallenge) Payload {
	return Payload{
		UserID:      pending.UserID,
		GroupID:     pending.GroupID,
		ChatID:      pending.ChatID,
		MessageID:   pending.ChallengeMessageID,
		DisplayName: pending.DisplayName,
	}
}

func (p Payload) ref() bot.MessageRef {
	return bot.MessageRef{ChatID: p.ChatID, MessageID: p.MessageID}
}

func (e *Engine) schedule(payload Payload, delay time.Duration) {
	name := JobName(payload.GroupID, payload.UserID)
	if !e.scheduler.Schedule(name, delay, func(ctx context.Context) {
		if err := e.OnExpire(ctx, payload); err != nil {
			e.getLogEntry().WithFields(log.Fields{
				"method":  "OnExpire",
				"user_id": payload.UserID,
				"error":   err.Error(),
			}).Error("cant expire challenge")
		}
	}) {
		e.getLogEntry().WithField("job", name).Warn("scheduler stopped, job dropped")
	}
}

// Issue mutes each new human member and sends them a challenge. A member
// whose mute fails is skipped; the rest of the batch continues. It returns
// the number of challenges issued.
func (e *Engine) Issue(ctx context.Context, members []api.User) int {
	if !e.settings.Enabled {
		return 0
	}
	issued := 0
	for i := range members {
		member := &members[i]
		if member.IsBot {
			continue
		}
		if err := e.issueOne(ctx, member); err != nil {
			e.getLogEntry().WithFields(log.Fields{
				"method":  "Issue",
				"user_id": member.ID,
				"error":   err.Error(),
			}).Error("cant issue challenge")
			continue
		}
		issued++
	}
	return issued
}

func (e *Engine) issueOne(ctx context.Context, member *api.User) (err error) {
	ctx, span := observability.StartSpan(ctx, "challenge.Issue")
	defer func() { observability.EndSpan(span, err) }()

	groupID := e.settings.GroupID
	if err := e.platform.RestrictMember(ctx, groupID, member.ID, bot.MutedPermissions()); err != nil {
		return errors.WithMessage(err, "mute new member")
	}

	// An outstanding challenge keeps the member muted, so a failed re-issue
	// leaves it in place instead of lifting the mute.
	prev, err := e.store.GetPendingChallenge(ctx, member.ID, groupID)
	switch {
	case ierrors.IsNotFound(err):
		prev = nil
	case err != nil:
		return errors.WithMessage(err, "get pending challenge")
	}

	ref, err := e.notifier.SendChallenge(ctx, member, CallbackData(member.ID))
	if err != nil {
		if prev == nil {
			e.rollbackMute(ctx, member.ID)
		}
		return errors.WithMessage(err, "send challenge")
	}

	pending := &db.PendingChallenge{
		UserID:             member.ID,
		GroupID:            groupID,
		ChatID:             ref.ChatID,
		ChallengeMessageID: ref.MessageID,
		DisplayName:        bot.GetFullName(member),
		CreatedAt:          e.now().UTC(),
	}
	if err := e.store.UpsertPendingChallenge(ctx, pending); err != nil {
		if prev == nil {
			e.rollbackMute(ctx, member.ID)
		}
		e.deleteMessage(ctx, ref)
		return err
	}
	if prev != nil {
		e.deleteMessage(ctx, payloadOf(prev).ref())
	}
	e.schedule(payloadOf(pending), e.settings.Timeout)
	observability.RecordChallenge("issued")

	e.getLogEntry().WithFields(log.Fields{
		"method":  "Issue",
		"user_id": member.ID,
		"timeout": e.settings.Timeout.String(),
	}).Info("challenge issued")
	return nil
}

func (e *Engine) rollbackMute(ctx context.Context, userID int64) {
	if err := e.unmute(ctx, userID); err != nil {
		e.getLogEntry().WithFields(log.Fields{
			"user_id": userID,
			"error":   err.Error(),
		}).Error("cant roll back challenge mute")
	}
}

func (e *Engine) deleteMessage(ctx context.Context, ref bot.MessageRef) {
	if err := e.platform.DeleteMessage(ctx, ref); err != nil {
		e.getLogEntry().WithFields(log.Fields{
			"chat_id":    ref.ChatID,
			"message_id": ref.MessageID,
			"error":      err.Error(),
		}).Warn("cant delete challenge message")
	}
}

// restore puts a taken challenge back after a failed unmute and reschedules
// its timeout for the time it had left.
func (e *Engine) restore(ctx context.Context, pending *db.PendingChallenge) {
	if err := e.store.UpsertPendingChallenge(ctx, pending); err != nil {
		e.getLogEntry().WithFields(log.Fields{
			"user_id": pending.UserID,
			"error":   err.Error(),
		}).Error("cant restore pending challenge")
		return
	}
	e.schedule(payloadOf(pending), pending.Expires(e.settings.Timeout).Sub(e.now()))
}

func (e *Engine) unmute(ctx context.Context, userID int64) error {
	perms, err := e.platform.GetDefaultPermissions(ctx, e.settings.GroupID)
	if err != nil {
		return errors.WithMessage(err, "get default permissions")
	}
	if err := e.platform.RestrictMember(ctx, e.settings.GroupID, userID, perms); err != nil {
		return errors.WithMessage(err, "unmute member")
	}
	return nil
}

// OnAcknowledge handles a press of the challenge button by presser for
// targetID. On a remote failure the challenge stays outstanding with its
// original deadline and the error is returned so the caller can ask for a retry.
func (e *Engine) OnAcknowledge(ctx context.Context, presser *api.User, targetID int64) (result AckResult, err error) {
	ctx, span := observability.StartSpan(ctx, "challenge.OnAcknowledge")
	defer func() { observability.EndSpan(span, err) }()

	if presser.ID != targetID {
		return AckWrongUser, nil
	}
	groupID := e.settings.GroupID
	entry := e.getLogEntry().WithFields(log.Fields{
		"method":   "OnAcknowledge",
		"user_id":  targetID,
		"group_id": groupID,
	})

	// Taking the row first decides the race with a firing timeout job: only
	// the side that removed the row acts on the member.
	pending, err := e.store.TakePendingChallenge(ctx, targetID, groupID)
	if err != nil {
		if ierrors.IsNotFound(err) {
			return AckNoChallenge, nil
		}
		return "", err
	}

	e.scheduler.Cancel(JobName(groupID, targetID))
	if err := e.unmute(ctx, targetID); err != nil {
		e.restore(ctx, pending)
		return "", err
	}
	observability.RecordChallenge("passed")
	entry.Info("challenge passed")

	name := bot.GetFullName(presser)
	if name == "" {
		name = pending.DisplayName
	}
	if err := e.notifier.ChallengePassed(ctx, payloadOf(pending).ref(), targetID, name); err != nil {
		entry.WithField("error", err.Error()).Error("cant edit challenge message")
	}
	return AckVerified, nil
}

// OnExpire keeps the user muted and records a bot-owned restriction. It is a
// no-op when the challenge was already resolved.
func (e *Engine) OnExpire(ctx context.Context, payload Payload) (err error) {
	ctx, span := observability.StartSpan(ctx, "challenge.OnExpire")
	defer func() { observability.EndSpan(span, err) }()

	entry := e.getLogEntry().WithFields(log.Fields{
		"method":   "OnExpire",
		"user_id":  payload.UserID,
		"group_id": payload.GroupID,
	})

	if _, err := e.store.TakePendingChallenge(ctx, payload.UserID, payload.GroupID); err != nil {
		if ierrors.IsNotFound(err) {
			entry.Debug("challenge already resolved")
			return nil
		}
		return err
	}
	if _, err := e.store.EnsureRestricted(ctx, payload.UserID, payload.GroupID, db.CauseChallengeTimeout, e.now()); err != nil {
		return fmt.Errorf("%w: challenge for user %d dropped without restriction record: %w", ierrors.ErrInconsistentState, payload.UserID, err)
	}
	observability.RecordChallenge("expired")
	observability.RecordRestriction(string(db.CauseChallengeTimeout))
	entry.Info("challenge expired, user kept restricted")

	if err := e.notifier.ChallengeExpired(ctx, payload.ref(), payload.UserID, payload.DisplayName); err != nil {
		entry.WithField("error", err.Error()).Error("cant edit challenge message")
	}
	return nil
}

// ResolveByDirectMessage clears a pending challenge for a user who wrote to
// the bot privately. The row is kept if the unmute fails. It returns a
// not-found error when the challenge was resolved or expired in the meantime.
func (e *Engine) ResolveByDirectMessage(ctx context.Context, pending *db.PendingChallenge) (err error) {
	ctx, span := observability.StartSpan(ctx, "challenge.ResolveByDirectMessage")
	defer func() { observability.EndSpan(span, err) }()

	taken, err := e.store.TakePendingChallenge(ctx, pending.UserID, pending.GroupID)
	if err != nil {
		return err
	}
	e.scheduler.Cancel(JobName(taken.GroupID, taken.UserID))
	if err := e.unmute(ctx, taken.UserID); err != nil {
		e.restore(ctx, taken)
		return err
	}
	pending = taken
	observability.RecordChallenge("cleared_by_dm")

	if err := e.notifier.ChallengePassed(ctx, payloadOf(pending).ref(), pending.UserID, pending.DisplayName); err != nil {
		e.getLogEntry().WithFields(log.Fields{
			"method":  "ResolveByDirectMessage",
			"user_id": pending.UserID,
			"error":   err.Error(),
		}).Error("cant edit challenge message")
	}
	return nil
}
