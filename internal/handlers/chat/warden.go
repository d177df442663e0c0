package chat

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngwarden/internal/compliance"
	"github.com/iamwavecut/ngwarden/internal/handlers/base"
)

type messageEvaluator interface {
	EvaluateMessage(ctx context.Context, user *api.User) (compliance.Outcome, error)
}

// Warden feeds every human message in the group to the compliance engine.
type Warden struct {
	*base.BaseHandler
	engine messageEvaluator
}

func NewWarden(groupID int64, engine messageEvaluator) *Warden {
	return &Warden{
		BaseHandler: base.NewBaseHandler("warden", groupID),
		engine:      engine,
	}
}

func (w *Warden) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if err := w.ValidateUpdate(u, chat, user); err != nil {
		return true, nil
	}
	msg := u.Message
	if msg == nil || !w.InGroup(chat) || user.IsBot || msg.From == nil {
		return true, nil
	}
	if len(msg.NewChatMembers) > 0 || msg.LeftChatMember != nil {
		return true, nil
	}

	outcome, err := w.engine.EvaluateMessage(ctx, user)
	if err != nil {
		w.GetLogger().WithFields(log.Fields{
			"method":  "Handle",
			"user_id": user.ID,
			"error":   err.Error(),
		}).Error("cant evaluate message")
		return true, nil
	}
	if outcome != compliance.OutcomeCompliant {
		w.GetLogger().WithFields(log.Fields{
			"user_id": user.ID,
			"outcome": string(outcome),
		}).Debug("message evaluated")
	}
	return true, nil
}
