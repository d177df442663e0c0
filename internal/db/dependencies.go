package db

import (
	"context"
	"time"
)

type ComplianceStore interface {
	// TrackViolation counts one non-compliant message against the active record,
	// creating it with MessageCount 1 when none exists.
	TrackViolation(ctx context.Context, userID, groupID int64, at time.Time) (*ComplianceRecord, error)
	// MarkRestricted closes the active record with the given cause. It returns
	// ErrNotFound when no active record exists, so only one caller wins a transition.
	MarkRestricted(ctx context.Context, recordID string, cause RestrictionCause, at time.Time) (*ComplianceRecord, error)
	// EnsureRestricted creates the active record if needed and closes it with cause.
	EnsureRestricted(ctx context.Context, userID, groupID int64, cause RestrictionCause, at time.Time) (*ComplianceRecord, error)
	GetActiveRecord(ctx context.Context, userID, groupID int64) (*ComplianceRecord, error)
	GetBotRestriction(ctx context.Context, userID, groupID int64) (*ComplianceRecord, error)
	ClearBotRestriction(ctx context.Context, userID, groupID int64) (int64, error)
	ListExpiredActive(ctx context.Context, cutoff time.Time) ([]*ComplianceRecord, error)
	DeleteRecords(ctx context.Context, userID, groupID int64) (int64, error)
}

type ExemptionStore interface {
	AddExemption(ctx context.Context, exemption *Exemption) error
	RemoveExemption(ctx context.Context, userID int64) error
	GetExemption(ctx context.Context, userID int64) (*Exemption, error)
	IsExempt(ctx context.Context, userID int64) (bool, error)
}

type ChallengeStore interface {
	UpsertPendingChallenge(ctx context.Context, challenge *PendingChallenge) error
	GetPendingChallenge(ctx context.Context, userID, groupID int64) (*PendingChallenge, error)
	// TakePendingChallenge deletes and returns the row, ErrNotFound when absent.
	TakePendingChallenge(ctx context.Context, userID, groupID int64) (*PendingChallenge, error)
	ListPendingChallenges(ctx context.Context) ([]*PendingChallenge, error)
}

type Client interface {
	ComplianceStore
	ExemptionStore
	ChallengeStore
	Close() error
}
