package private

import (
	"context"
	"strconv"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngwarden/internal/bot"
	ierrors "github.com/iamwavecut/ngwarden/internal/errors"
	"github.com/iamwavecut/ngwarden/internal/handlers/base"
	"github.com/iamwavecut/ngwarden/internal/notify"
)

const (
	commandVerify   = "verify"
	commandUnverify = "unverify"
)

type (
	exemptionManager interface {
		GrantExemption(ctx context.Context, userID, adminID int64, notes string) (int64, error)
		RevokeExemption(ctx context.Context, userID int64) error
	}

	adminChecker interface {
		IsAdmin(userID int64) bool
	}

	commandReplies interface {
		CommandText(reply notify.CommandReply, command string, userID int64) string
		Reply(ctx context.Context, chatID int64, text string) error
	}

	// Commands serves /verify and /unverify for group administrators.
	Commands struct {
		*base.BaseHandler
		engine  exemptionManager
		admins  adminChecker
		replies commandReplies
	}
)

func NewCommands(groupID int64, engine exemptionManager, admins adminChecker, replies commandReplies) *Commands {
	return &Commands{
		BaseHandler: base.NewBaseHandler("commands", groupID),
		engine:      engine,
		admins:      admins,
		replies:     replies,
	}
}

func (c *Commands) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if err := c.ValidateUpdate(u, chat, user); err != nil {
		return true, nil
	}
	msg := u.Message
	if msg == nil || !msg.IsCommand() {
		return true, nil
	}
	command := msg.Command()
	if command != commandVerify && command != commandUnverify {
		return true, nil
	}

	reply, targetID := c.run(ctx, command, chat, user, msg.CommandArguments())
	if err := c.replies.Reply(ctx, chat.ID, c.replies.CommandText(reply, command, targetID)); err != nil {
		c.GetLogger().WithFields(log.Fields{
			"method":  "Handle",
			"command": command,
			"error":   err.Error(),
		}).Warn("cant reply to command")
	}
	return false, nil
}

func (c *Commands) run(ctx context.Context, command string, chat *api.Chat, user *api.User, arguments string) (notify.CommandReply, int64) {
	if !base.IsPrivate(chat) {
		return notify.ReplyPrivateOnly, 0
	}
	if !c.admins.IsAdmin(user.ID) {
		c.GetLogger().WithFields(log.Fields{
			"command": command,
			"user_id": user.ID,
			"name":    bot.GetUN(user),
		}).Warn("non-admin used operator command")
		return notify.ReplyNoPermission, 0
	}

	args := strings.Fields(arguments)
	if len(args) == 0 {
		return notify.ReplyUsage, 0
	}
	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return notify.ReplyNotANumber, 0
	}

	entry := c.GetLogger().WithFields(log.Fields{
		"command":   command,
		"admin_id":  user.ID,
		"target_id": targetID,
	})

	if command == commandUnverify {
		switch err := c.engine.RevokeExemption(ctx, targetID); {
		case err == nil:
			return notify.ReplyUnverified, targetID
		case ierrors.IsNotFound(err):
			return notify.ReplyNotWhitelisted, targetID
		default:
			entry.WithField("error", err.Error()).Error("cant revoke exemption")
			return notify.ReplyFailure, targetID
		}
	}

	cleared, err := c.engine.GrantExemption(ctx, targetID, user.ID, "")
	switch {
	case err == nil:
		entry.WithField("cleared", cleared).Info("user verified by admin")
		return notify.ReplyVerified, targetID
	case ierrors.IsDuplicate(err):
		return notify.ReplyAlreadyWhitelisted, targetID
	default:
		entry.WithField("error", err.Error()).Error("cant grant exemption")
		return notify.ReplyFailure, targetID
	}
}
