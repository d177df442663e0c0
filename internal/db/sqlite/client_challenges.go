package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/iamwavecut/ngwarden/internal/db"
)

const challengeColumns = `user_id, group_id, chat_id, message_id, display_name, created_at`

func (c *sqliteClient) UpsertPendingChallenge(ctx context.Context, challenge *db.PendingChallenge) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	row := *challenge
	row.CreatedAt = row.CreatedAt.UTC()
	_, err := c.db.NamedExecContext(ctx, `
		INSERT INTO pending_challenges (`+challengeColumns+`)
		VALUES (:user_id, :group_id, :chat_id, :message_id, :display_name, :created_at)
		ON CONFLICT(user_id, group_id) DO UPDATE SET
			chat_id = excluded.chat_id,
			message_id = excluded.message_id,
			display_name = excluded.display_name,
			created_at = excluded.created_at
	`, &row)
	if err != nil {
		return fmt.Errorf("upsert pending challenge: %w", err)
	}
	return nil
}

func (c *sqliteClient) GetPendingChallenge(ctx context.Context, userID, groupID int64) (*db.PendingChallenge, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var challenge db.PendingChallenge
	err := c.db.GetContext(ctx, &challenge, `
		SELECT `+challengeColumns+`
		FROM pending_challenges
		WHERE user_id = ? AND group_id = ?
	`, userID, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	return &challenge, nil
}

func (c *sqliteClient) TakePendingChallenge(ctx context.Context, userID, groupID int64) (*db.PendingChallenge, error) {
	var challenge db.PendingChallenge
	err := c.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &challenge, `
			SELECT `+challengeColumns+`
			FROM pending_challenges
			WHERE user_id = ? AND group_id = ?
		`, userID, groupID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return db.ErrNotFound
			}
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM pending_challenges WHERE user_id = ? AND group_id = ?`, userID, groupID)
		return err
	})
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("take pending challenge: %w", err)
	}
	return &challenge, nil
}

func (c *sqliteClient) ListPendingChallenges(ctx context.Context) ([]*db.PendingChallenge, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var challenges []*db.PendingChallenge
	if err := c.db.SelectContext(ctx, &challenges, `
		SELECT `+challengeColumns+`
		FROM pending_challenges
		ORDER BY created_at
	`); err != nil {
		return nil, fmt.Errorf("list pending challenges: %w", err)
	}
	return challenges, nil
}
