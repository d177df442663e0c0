package chat

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngwarden/internal/challenge"
	"github.com/iamwavecut/ngwarden/internal/handlers/base"
)

type (
	challengeEngine interface {
		Issue(ctx context.Context, members []api.User) int
		OnAcknowledge(ctx context.Context, presser *api.User, targetID int64) (challenge.AckResult, error)
	}

	ackRenderer interface {
		AckReply(result challenge.AckResult, err error) (text string, alert bool)
	}

	callbackAnswerer interface {
		AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	}

	// Gatekeeper challenges new members and handles their button presses.
	Gatekeeper struct {
		*base.BaseHandler
		engine   challengeEngine
		replies  ackRenderer
		platform callbackAnswerer
	}
)

func NewGatekeeper(groupID int64, engine challengeEngine, replies ackRenderer, platform callbackAnswerer) *Gatekeeper {
	return &Gatekeeper{
		BaseHandler: base.NewBaseHandler("gatekeeper", groupID),
		engine:      engine,
		replies:     replies,
		platform:    platform,
	}
}

func (g *Gatekeeper) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if err := g.ValidateUpdate(u, chat, user); err != nil {
		return true, nil
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	switch {
	case u.CallbackQuery != nil:
		targetID, ok := challenge.ParseCallbackData(u.CallbackQuery.Data)
		if !ok {
			return true, nil
		}
		return false, g.handleAcknowledge(ctx, u.CallbackQuery, targetID)
	case u.Message != nil && len(u.Message.NewChatMembers) > 0 && g.InGroup(chat):
		issued := g.engine.Issue(ctx, u.Message.NewChatMembers)
		g.GetLogger().WithFields(log.Fields{
			"joined": len(u.Message.NewChatMembers),
			"issued": issued,
		}).Debug("new members processed")
		return true, nil
	default:
		return true, nil
	}
}

func (g *Gatekeeper) handleAcknowledge(ctx context.Context, query *api.CallbackQuery, targetID int64) error {
	entry := g.GetLogger().WithFields(log.Fields{
		"method":    "handleAcknowledge",
		"user_id":   query.From.ID,
		"target_id": targetID,
	})

	result, err := g.engine.OnAcknowledge(ctx, query.From, targetID)
	if err != nil {
		entry.WithField("error", err.Error()).Error("cant complete challenge")
	}
	text, alert := g.replies.AckReply(result, err)
	if err := g.platform.AnswerCallback(ctx, query.ID, text, alert); err != nil {
		entry.WithField("error", err.Error()).Warn("cant answer callback")
	}
	return nil
}
