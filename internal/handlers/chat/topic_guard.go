package chat

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngwarden/internal/bot"
	"github.com/iamwavecut/ngwarden/internal/handlers/base"
)

type (
	adminChecker interface {
		IsAdmin(userID int64) bool
	}

	messageDeleter interface {
		DeleteMessage(ctx context.Context, ref bot.MessageRef) error
	}

	// TopicGuard keeps the warning topic for bot notices: anything else posted
	// there by a non-admin is deleted and not processed further.
	TopicGuard struct {
		*base.BaseHandler
		topicID  int
		botID    int64
		admins   adminChecker
		platform messageDeleter
	}
)

func NewTopicGuard(groupID int64, topicID int, botID int64, admins adminChecker, platform messageDeleter) *TopicGuard {
	return &TopicGuard{
		BaseHandler: base.NewBaseHandler("topic_guard", groupID),
		topicID:     topicID,
		botID:       botID,
		admins:      admins,
		platform:    platform,
	}
}

func (g *TopicGuard) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if err := g.ValidateUpdate(u, chat, user); err != nil {
		return true, nil
	}
	msg := u.Message
	if msg == nil || !g.InGroup(chat) || g.topicID == 0 || msg.MessageThreadID != g.topicID {
		return true, nil
	}
	if user.ID == g.botID || g.admins.IsAdmin(user.ID) {
		return true, nil
	}

	entry := g.GetLogger().WithFields(log.Fields{
		"method":     "Handle",
		"user_id":    user.ID,
		"message_id": msg.MessageID,
	})
	if err := g.platform.DeleteMessage(ctx, bot.MessageRef{ChatID: chat.ID, MessageID: msg.MessageID}); err != nil {
		entry.WithField("error", err.Error()).Warn("cant delete message in warning topic")
	} else {
		entry.Debug("deleted message in warning topic")
	}
	return false, nil
}
