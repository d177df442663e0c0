package private

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngwarden/internal/compliance"
	"github.com/iamwavecut/ngwarden/internal/handlers/base"
)

type (
	reconciler interface {
		ReconcileOnDirectMessage(ctx context.Context, user *api.User) (compliance.Reconciliation, error)
	}

	reconcileReplies interface {
		ReconcileReply(result compliance.Reconciliation, err error) string
		Reply(ctx context.Context, chatID int64, text string) error
	}

	// DirectMessages lets a restricted user ask the bot to lift their
	// restriction by writing to it privately.
	DirectMessages struct {
		*base.BaseHandler
		engine  reconciler
		replies reconcileReplies
	}
)

func NewDirectMessages(groupID int64, engine reconciler, replies reconcileReplies) *DirectMessages {
	return &DirectMessages{
		BaseHandler: base.NewBaseHandler("direct_messages", groupID),
		engine:      engine,
		replies:     replies,
	}
}

func (d *DirectMessages) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if err := d.ValidateUpdate(u, chat, user); err != nil {
		return true, nil
	}
	if u.Message == nil || !base.IsPrivate(chat) || user.IsBot {
		return true, nil
	}

	entry := d.GetLogger().WithFields(log.Fields{
		"method":  "Handle",
		"user_id": user.ID,
	})
	result, err := d.engine.ReconcileOnDirectMessage(ctx, user)
	if err != nil {
		entry.WithField("error", err.Error()).Error("cant reconcile user")
	} else {
		entry.WithField("resolution", string(result.Resolution)).Info("direct message handled")
	}
	if err := d.replies.Reply(ctx, chat.ID, d.replies.ReconcileReply(result, err)); err != nil {
		entry.WithField("error", err.Error()).Warn("cant reply")
	}
	return false, nil
}
