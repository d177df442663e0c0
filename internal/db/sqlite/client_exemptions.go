package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/iamwavecut/ngwarden/internal/db"
)

func (c *sqliteClient) AddExemption(ctx context.Context, exemption *db.Exemption) error {
	err := c.withTx(ctx, func(tx *sqlx.Tx) error {
		var exists int
		err := tx.GetContext(ctx, &exists, `SELECT 1 FROM exemptions WHERE user_id = ?`, exemption.UserID)
		switch {
		case err == nil:
			return db.ErrDuplicate
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		row := *exemption
		row.GrantedAt = row.GrantedAt.UTC()
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO exemptions (user_id, granted_by, granted_at, notes)
			VALUES (:user_id, :granted_by, :granted_at, :notes)
		`, &row)
		return err
	})
	if err != nil {
		return fmt.Errorf("add exemption: %w", err)
	}
	return nil
}

func (c *sqliteClient) RemoveExemption(ctx context.Context, userID int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	res, err := c.db.ExecContext(ctx, `DELETE FROM exemptions WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("remove exemption: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove exemption: %w", err)
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (c *sqliteClient) GetExemption(ctx context.Context, userID int64) (*db.Exemption, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var exemption db.Exemption
	err := c.db.GetContext(ctx, &exemption, `
		SELECT user_id, granted_by, granted_at, notes
		FROM exemptions
		WHERE user_id = ?
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	return &exemption, nil
}

func (c *sqliteClient) IsExempt(ctx context.Context, userID int64) (bool, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var count int
	if err := c.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM exemptions WHERE user_id = ?`, userID); err != nil {
		return false, fmt.Errorf("check exemption: %w", err)
	}
	return count > 0, nil
}
