package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pborman/uuid"

	"github.com/iamwavecut/ngwarden/internal/db"
)

const complianceColumns = `id, user_id, group_id, message_count, first_warned_at, last_activity_at, is_restricted, restricted_by_bot, cause`

func (c *sqliteClient) TrackViolation(ctx context.Context, userID, groupID int64, at time.Time) (*db.ComplianceRecord, error) {
	at = at.UTC()
	var record db.ComplianceRecord
	err := c.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &record, `
			SELECT `+complianceColumns+`
			FROM compliance_records
			WHERE user_id = ? AND group_id = ? AND is_restricted = 0
		`, userID, groupID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			record = db.ComplianceRecord{
				ID:             uuid.New(),
				UserID:         userID,
				GroupID:        groupID,
				MessageCount:   1,
				FirstWarnedAt:  at,
				LastActivityAt: at,
			}
			_, err := tx.NamedExecContext(ctx, `
				INSERT INTO compliance_records (`+complianceColumns+`)
				VALUES (:id, :user_id, :group_id, :message_count, :first_warned_at, :last_activity_at, :is_restricted, :restricted_by_bot, :cause)
			`, &record)
			return err
		case err != nil:
			return err
		}

		record.MessageCount++
		record.LastActivityAt = at
		_, err = tx.ExecContext(ctx, `
			UPDATE compliance_records
			SET message_count = ?, last_activity_at = ?
			WHERE id = ?
		`, record.MessageCount, record.LastActivityAt, record.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("track violation: %w", err)
	}
	return &record, nil
}

func (c *sqliteClient) MarkRestricted(ctx context.Context, recordID string, cause db.RestrictionCause, at time.Time) (*db.ComplianceRecord, error) {
	var record db.ComplianceRecord
	err := c.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE compliance_records
			SET is_restricted = 1, restricted_by_bot = ?, cause = ?, last_activity_at = ?
			WHERE id = ? AND is_restricted = 0
		`, cause.ByBot(), cause, at.UTC(), recordID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return db.ErrNotFound
		}
		return tx.GetContext(ctx, &record, `SELECT `+complianceColumns+` FROM compliance_records WHERE id = ?`, recordID)
	})
	if err != nil {
		return nil, fmt.Errorf("mark restricted: %w", err)
	}
	return &record, nil
}

func (c *sqliteClient) EnsureRestricted(ctx context.Context, userID, groupID int64, cause db.RestrictionCause, at time.Time) (*db.ComplianceRecord, error) {
	at = at.UTC()
	var record db.ComplianceRecord
	err := c.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &record, `
			SELECT `+complianceColumns+`
			FROM compliance_records
			WHERE user_id = ? AND group_id = ? AND is_restricted = 0
		`, userID, groupID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			record = db.ComplianceRecord{
				ID:             uuid.New(),
				UserID:         userID,
				GroupID:        groupID,
				MessageCount:   1,
				FirstWarnedAt:  at,
				LastActivityAt: at,
			}
		case err != nil:
			return err
		}
		record.IsRestricted = true
		record.RestrictedByBot = cause.ByBot()
		record.Cause = cause
		record.LastActivityAt = at

		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO compliance_records (`+complianceColumns+`)
			VALUES (:id, :user_id, :group_id, :message_count, :first_warned_at, :last_activity_at, :is_restricted, :restricted_by_bot, :cause)
			ON CONFLICT(id) DO UPDATE SET
				is_restricted = excluded.is_restricted,
				restricted_by_bot = excluded.restricted_by_bot,
				cause = excluded.cause,
				last_activity_at = excluded.last_activity_at
		`, &record)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ensure restricted: %w", err)
	}
	return &record, nil
}

func (c *sqliteClient) GetActiveRecord(ctx context.Context, userID, groupID int64) (*db.ComplianceRecord, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var record db.ComplianceRecord
	err := c.db.GetContext(ctx, &record, `
		SELECT `+complianceColumns+`
		FROM compliance_records
		WHERE user_id = ? AND group_id = ? AND is_restricted = 0
	`, userID, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (c *sqliteClient) GetBotRestriction(ctx context.Context, userID, groupID int64) (*db.ComplianceRecord, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var record db.ComplianceRecord
	err := c.db.GetContext(ctx, &record, `
		SELECT `+complianceColumns+`
		FROM compliance_records
		WHERE user_id = ? AND group_id = ? AND is_restricted = 1 AND restricted_by_bot = 1
		ORDER BY last_activity_at DESC
		LIMIT 1
	`, userID, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (c *sqliteClient) ClearBotRestriction(ctx context.Context, userID, groupID int64) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	res, err := c.db.ExecContext(ctx, `
		UPDATE compliance_records
		SET restricted_by_bot = 0
		WHERE user_id = ? AND group_id = ? AND is_restricted = 1 AND restricted_by_bot = 1
	`, userID, groupID)
	if err != nil {
		return 0, fmt.Errorf("clear bot restriction: %w", err)
	}
	return res.RowsAffected()
}

// ListExpiredActive returns active records whose cycle started at or before cutoff.
// The active set is small, so the time filter runs here rather than in SQL date functions.
func (c *sqliteClient) ListExpiredActive(ctx context.Context, cutoff time.Time) ([]*db.ComplianceRecord, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var active []*db.ComplianceRecord
	if err := c.db.SelectContext(ctx, &active, `
		SELECT `+complianceColumns+`
		FROM compliance_records
		WHERE is_restricted = 0
		ORDER BY first_warned_at
	`); err != nil {
		return nil, fmt.Errorf("list active records: %w", err)
	}

	expired := make([]*db.ComplianceRecord, 0, len(active))
	for _, record := range active {
		if !record.FirstWarnedAt.After(cutoff) {
			expired = append(expired, record)
		}
	}
	return expired, nil
}

func (c *sqliteClient) DeleteRecords(ctx context.Context, userID, groupID int64) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	res, err := c.db.ExecContext(ctx, `DELETE FROM compliance_records WHERE user_id = ? AND group_id = ?`, userID, groupID)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	return res.RowsAffected()
}
