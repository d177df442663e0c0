package telegram

import (
	"context"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/ngwarden/internal/bot"
	ierrors "github.com/iamwavecut/ngwarden/internal/errors"
)

// Operations implements bot.Platform over the Telegram Bot API.
type Operations struct {
	bot *api.BotAPI
}

var _ bot.Platform = (*Operations)(nil)

func NewOperations(bot *api.BotAPI) *Operations {
	return &Operations{bot: bot}
}

func (o *Operations) RestrictMember(ctx context.Context, groupID, userID int64, perms api.ChatPermissions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	config := api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{
				ChatID: groupID,
			},
			UserID: userID,
		},
		Permissions:                   &perms,
		UseIndependentChatPermissions: true,
	}
	if _, err := o.bot.Request(config); err != nil {
		if strings.Contains(err.Error(), "not enough rights") {
			return ierrors.Remote("restrict member: not enough rights", err)
		}
		return ierrors.Remote("restrict member", err)
	}
	return nil
}

func (o *Operations) GetMembership(ctx context.Context, groupID, userID int64) (bot.Membership, error) {
	if err := ctx.Err(); err != nil {
		return bot.Membership{}, err
	}
	member, err := o.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{
				ChatID: groupID,
			},
			UserID: userID,
		},
	})
	if err != nil {
		return bot.Membership{Status: bot.StatusUnknown}, ierrors.Remote("get chat member", err)
	}

	status := bot.MembershipStatus(member.Status)
	if status == bot.StatusRestricted && !member.IsMember {
		status = bot.StatusLeft
	}
	return bot.Membership{Status: status, User: member.User}, nil
}

func (o *Operations) GetDefaultPermissions(ctx context.Context, groupID int64) (api.ChatPermissions, error) {
	if err := ctx.Err(); err != nil {
		return api.ChatPermissions{}, err
	}
	chat, err := o.bot.GetChat(api.ChatInfoConfig{
		ChatConfig: api.ChatConfig{
			ChatID: groupID,
		},
	})
	if err != nil {
		return api.ChatPermissions{}, ierrors.Remote("get chat", err)
	}
	if chat.Permissions == nil {
		return api.ChatPermissions{}, ierrors.Remote("get chat", ierrors.ErrNotFound)
	}
	return *chat.Permissions, nil
}

func (o *Operations) GetAdministratorIDs(ctx context.Context, groupID int64) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	admins, err := o.bot.GetChatAdministrators(api.ChatAdministratorsConfig{
		ChatConfig: api.ChatConfig{
			ChatID: groupID,
		},
	})
	if err != nil {
		return nil, ierrors.Remote("get chat administrators", err)
	}
	ids := make([]int64, 0, len(admins))
	for _, admin := range admins {
		if admin.User != nil {
			ids = append(ids, admin.User.ID)
		}
	}
	return ids, nil
}

func (o *Operations) GetProfilePhotoCount(ctx context.Context, userID int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cfg := api.NewUserProfilePhotos(userID)
	cfg.Limit = 1
	photos, err := o.bot.GetUserProfilePhotos(cfg)
	if err != nil {
		return 0, ierrors.Remote("get user profile photos", err)
	}
	return photos.TotalCount, nil
}

func (o *Operations) SendMessage(ctx context.Context, msg bot.OutgoingMessage) (bot.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return bot.MessageRef{}, err
	}
	out := api.NewMessage(msg.ChatID, msg.Text)
	out.ParseMode = api.ModeMarkdown
	out.MessageThreadID = msg.ThreadID
	if msg.Markup != nil {
		out.ReplyMarkup = msg.Markup
	}
	sent, err := o.bot.Send(out)
	if err != nil {
		return bot.MessageRef{}, ierrors.Remote("send message", err)
	}
	return bot.MessageRef{ChatID: sent.Chat.ID, MessageID: sent.MessageID}, nil
}

func (o *Operations) EditMessage(ctx context.Context, ref bot.MessageRef, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := api.NewEditMessageText(ref.ChatID, ref.MessageID, text)
	edit.ParseMode = api.ModeMarkdown
	if _, err := o.bot.Send(edit); err != nil {
		return ierrors.Remote("edit message", err)
	}
	return nil
}

func (o *Operations) DeleteMessage(ctx context.Context, ref bot.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := o.bot.Request(api.NewDeleteMessage(ref.ChatID, ref.MessageID)); err != nil {
		return ierrors.Remote("delete message", err)
	}
	return nil
}

func (o *Operations) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := api.NewCallback(callbackID, text)
	if alert {
		cfg = api.NewCallbackWithAlert(callbackID, text)
	}
	if _, err := o.bot.Request(cfg); err != nil {
		return ierrors.Remote("answer callback", err)
	}
	return nil
}

func (o *Operations) BotUsername() string {
	return o.bot.Self.UserName
}
