package bot

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
)

// Handler defines the interface for all update handlers in the system
type Handler interface {
	Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (proceed bool, err error)
}

// Platform is the remote chat capability set the engines depend on.
type Platform interface {
	RestrictMember(ctx context.Context, groupID, userID int64, perms api.ChatPermissions) error
	GetMembership(ctx context.Context, groupID, userID int64) (Membership, error)
	GetDefaultPermissions(ctx context.Context, groupID int64) (api.ChatPermissions, error)
	GetAdministratorIDs(ctx context.Context, groupID int64) ([]int64, error)
	GetProfilePhotoCount(ctx context.Context, userID int64) (int, error)
	SendMessage(ctx context.Context, msg OutgoingMessage) (MessageRef, error)
	EditMessage(ctx context.Context, ref MessageRef, text string) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	BotUsername() string
}
