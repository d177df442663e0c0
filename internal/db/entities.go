package db

import (
	"database/sql/driver"
	"fmt"
	"time"

	ierrors "github.com/iamwavecut/ngwarden/internal/errors"
)

var (
	ErrNotFound  = ierrors.ErrNotFound
	ErrDuplicate = ierrors.ErrDuplicate
)

type (
	// ComplianceRecord is one compliance cycle of a user in a group.
	// At most one record per (user, group) has IsRestricted == false.
	ComplianceRecord struct {
		ID              string           `db:"id"`
		UserID          int64            `db:"user_id"`
		GroupID         int64            `db:"group_id"`
		MessageCount    int              `db:"message_count"`
		FirstWarnedAt   time.Time        `db:"first_warned_at"`
		LastActivityAt  time.Time        `db:"last_activity_at"`
		IsRestricted    bool             `db:"is_restricted"`
		RestrictedByBot bool             `db:"restricted_by_bot"`
		Cause           RestrictionCause `db:"cause"`
	}

	Exemption struct {
		UserID    int64     `db:"user_id"`
		GrantedBy int64     `db:"granted_by"`
		GrantedAt time.Time `db:"granted_at"`
		Notes     string    `db:"notes"`
	}

	PendingChallenge struct {
		UserID             int64     `db:"user_id"`
		GroupID            int64     `db:"group_id"`
		ChatID             int64     `db:"chat_id"`
		ChallengeMessageID int       `db:"message_id"`
		DisplayName        string    `db:"display_name"`
		CreatedAt          time.Time `db:"created_at"`
	}

	RestrictionCause string
)

const (
	CauseNone             RestrictionCause = ""
	CauseMessageThreshold RestrictionCause = "message_threshold"
	CauseTimeThreshold    RestrictionCause = "time_threshold"
	CauseChallengeTimeout RestrictionCause = "challenge_timeout"
	CauseAdminManual      RestrictionCause = "admin_manual"
	CauseMemberRemoved    RestrictionCause = "member_removed"
)

// ByBot reports whether the cause is a restriction this bot applies and may lift.
func (c RestrictionCause) ByBot() bool {
	switch c {
	case CauseMessageThreshold, CauseTimeThreshold, CauseChallengeTimeout:
		return true
	default:
		return false
	}
}

func (c RestrictionCause) Value() (driver.Value, error) {
	return string(c), nil
}

func (c *RestrictionCause) Scan(v interface{}) error {
	switch data := v.(type) {
	case nil:
		*c = CauseNone
	case string:
		*c = RestrictionCause(data)
	case []byte:
		*c = RestrictionCause(data)
	default:
		return fmt.Errorf("cannot scan type %T into RestrictionCause", v)
	}
	return nil
}

// Active reports whether the record is the open cycle for its user.
func (r *ComplianceRecord) Active() bool {
	return r != nil && !r.IsRestricted
}

// Expires returns the moment the challenge times out.
func (p *PendingChallenge) Expires(timeout time.Duration) time.Time {
	return p.CreatedAt.Add(timeout)
}
