package compliance

import (
	"context"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/ngwarden/internal/db"
)

type (
	// Settings is the slice of configuration the engine consumes.
	Settings struct {
		GroupID             int64
		RestrictFailedUsers bool
		WarningThreshold    int
		TimeThreshold       time.Duration
	}

	Store interface {
		db.ComplianceStore
		db.ExemptionStore
		GetPendingChallenge(ctx context.Context, userID, groupID int64) (*db.PendingChallenge, error)
	}

	Notifier interface {
		WarnIncompleteProfile(ctx context.Context, user *api.User, missing []MissingItem) error
		WarnFirstMessage(ctx context.Context, user *api.User, missing []MissingItem) error
		NotifyRestrictedByMessages(ctx context.Context, user *api.User, messageCount int, missing []MissingItem) error
		// NotifyRestrictedByTime mentions user when known, otherwise the bare id.
		NotifyRestrictedByTime(ctx context.Context, userID int64, user *api.User) error
		NotifyExemptionClearance(ctx context.Context, userID int64, user *api.User) error
	}

	// ChallengeResolver clears a pending join challenge on behalf of a user
	// who wrote to the bot directly.
	ChallengeResolver interface {
		ResolveByDirectMessage(ctx context.Context, pending *db.PendingChallenge) error
	}
)
