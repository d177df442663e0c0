package compliance

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngwarden/internal/db"
	"github.com/iamwavecut/ngwarden/internal/observability"
)

// GrantExemption whitelists userID against the photo check, lifts any mute
// on a best-effort basis and deletes the user's compliance history. It returns
// the number of deleted records; a clearance notice goes to the group only when
// that number is positive. A second grant fails with db.ErrDuplicate.
func (e *Engine) GrantExemption(ctx context.Context, userID, adminID int64, notes string) (cleared int64, err error) {
	ctx, span := observability.StartSpan(ctx, "compliance.GrantExemption")
	defer func() { observability.EndSpan(span, err) }()

	groupID := e.settings.GroupID
	entry := e.getLogEntry().WithFields(log.Fields{
		"method":   "GrantExemption",
		"user_id":  userID,
		"admin_id": adminID,
		"group_id": groupID,
	})

	if err := e.store.AddExemption(ctx, &db.Exemption{
		UserID:    userID,
		GrantedBy: adminID,
		GrantedAt: e.now().UTC(),
		Notes:     notes,
	}); err != nil {
		return 0, err
	}

	if perms, err := e.platform.GetDefaultPermissions(ctx, groupID); err != nil {
		entry.WithField("error", err.Error()).Warn("cant get default permissions")
	} else if err := e.platform.RestrictMember(ctx, groupID, userID, perms); err != nil {
		entry.WithField("error", err.Error()).Debug("unrestrict skipped")
	}

	cleared, err = e.store.DeleteRecords(ctx, userID, groupID)
	if err != nil {
		return 0, err
	}
	entry.WithField("cleared", cleared).Info("exemption granted")

	if cleared > 0 {
		membership, err := e.platform.GetMembership(ctx, groupID, userID)
		if err != nil {
			entry.WithField("error", err.Error()).Debug("cant resolve user for clearance notice")
		}
		if err := e.notifier.NotifyExemptionClearance(ctx, userID, membership.User); err != nil {
			entry.WithField("error", err.Error()).Error("cant send clearance notice")
		}
	}
	return cleared, nil
}

// RevokeExemption removes the whitelist entry, db.ErrNotFound when absent.
func (e *Engine) RevokeExemption(ctx context.Context, userID int64) error {
	if err := e.store.RemoveExemption(ctx, userID); err != nil {
		return err
	}
	e.getLogEntry().WithFields(log.Fields{
		"method":  "RevokeExemption",
		"user_id": userID,
	}).Info("exemption revoked")
	return nil
}
