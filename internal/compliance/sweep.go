package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngwarden/internal/bot"
	"github.com/iamwavecut/ngwarden/internal/db"
	ierrors "github.com/iamwavecut/ngwarden/internal/errors"
	"github.com/iamwavecut/ngwarden/internal/observability"
)

type SweepReport struct {
	Examined   int
	Restricted int
	Removed    int
	Failed     int
}

// SweepExpiredByTime restricts every active cycle older than threshold.
// Failures are counted per record and never abort the batch.
func (e *Engine) SweepExpiredByTime(ctx context.Context, threshold time.Duration) (report SweepReport, err error) {
	ctx, span := observability.StartSpan(ctx, "compliance.SweepExpiredByTime")
	defer func() { observability.EndSpan(span, err) }()
	defer observability.StartSweep()()

	entry := e.getLogEntry().WithFields(log.Fields{
		"method":    "SweepExpiredByTime",
		"threshold": threshold.String(),
	})

	records, err := e.store.ListExpiredActive(ctx, e.now().Add(-threshold))
	if err != nil {
		return report, err
	}

	for _, record := range records {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Examined++
		cause, err := e.expireRecord(ctx, record)
		if err != nil {
			report.Failed++
			entry.WithFields(log.Fields{
				"user_id":  record.UserID,
				"group_id": record.GroupID,
				"error":    err.Error(),
			}).Error("cant expire record")
			continue
		}
		switch cause {
		case db.CauseTimeThreshold:
			report.Restricted++
		case db.CauseMemberRemoved:
			report.Removed++
		}
	}

	if report.Examined > 0 {
		entry.WithFields(log.Fields{
			"examined":   report.Examined,
			"restricted": report.Restricted,
			"removed":    report.Removed,
			"failed":     report.Failed,
		}).Info("sweep finished")
	}
	return report, nil
}

// expireRecord closes one expired cycle. A banned user is retired without a
// mute; everyone else is muted, including users who already left or are
// muted, since a repeated mute is harmless.
func (e *Engine) expireRecord(ctx context.Context, record *db.ComplianceRecord) (db.RestrictionCause, error) {
	membership, err := e.platform.GetMembership(ctx, record.GroupID, record.UserID)
	if err != nil {
		e.getLogEntry().WithFields(log.Fields{
			"user_id": record.UserID,
			"error":   err.Error(),
		}).Warn("membership unknown, restricting anyway")
		membership = bot.Membership{Status: bot.StatusUnknown}
	}

	if membership.Removed() {
		return e.closeRecord(ctx, record, db.CauseMemberRemoved)
	}

	if err := e.platform.RestrictMember(ctx, record.GroupID, record.UserID, bot.MutedPermissions()); err != nil {
		return db.CauseNone, errors.WithMessage(err, "restrict member")
	}
	if _, err := e.store.MarkRestricted(ctx, record.ID, db.CauseTimeThreshold, e.now()); err != nil {
		if ierrors.IsNotFound(err) {
			return db.CauseNone, nil
		}
		return db.CauseNone, fmt.Errorf("%w: user %d muted but not persisted: %w", ierrors.ErrInconsistentState, record.UserID, err)
	}
	observability.RecordRestriction(string(db.CauseTimeThreshold))

	if err := e.notifier.NotifyRestrictedByTime(ctx, record.UserID, membership.User); err != nil {
		e.getLogEntry().WithFields(log.Fields{
			"user_id": record.UserID,
			"error":   err.Error(),
		}).Error("cant send time restriction notice")
	}
	return db.CauseTimeThreshold, nil
}

func (e *Engine) closeRecord(ctx context.Context, record *db.ComplianceRecord, cause db.RestrictionCause) (db.RestrictionCause, error) {
	if _, err := e.store.MarkRestricted(ctx, record.ID, cause, e.now()); err != nil {
		if ierrors.IsNotFound(err) {
			return db.CauseNone, nil
		}
		return db.CauseNone, err
	}
	observability.RecordRestriction(string(cause))
	return cause, nil
}
