package base

import (
	"errors"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNilUpdate     = errors.New("nil update")
	ErrNilChatOrUser = errors.New("nil chat or user")
)

// BaseHandler carries what every update handler shares: its logger and the
// monitored group it is scoped to.
type BaseHandler struct {
	groupID int64
	logger  *log.Entry
}

func NewBaseHandler(handlerName string, groupID int64) *BaseHandler {
	return &BaseHandler{
		groupID: groupID,
		logger:  log.WithField("handler", handlerName),
	}
}

func (h *BaseHandler) GetLogger() *log.Entry {
	return h.logger
}

func (h *BaseHandler) GroupID() int64 {
	return h.groupID
}

// ValidateUpdate performs common update validation
func (h *BaseHandler) ValidateUpdate(u *api.Update, chat *api.Chat, user *api.User) error {
	if u == nil {
		return ErrNilUpdate
	}
	if chat == nil || user == nil {
		return ErrNilChatOrUser
	}
	return nil
}

// InGroup reports whether chat is the monitored group.
func (h *BaseHandler) InGroup(chat *api.Chat) bool {
	return chat != nil && chat.ID == h.groupID
}

func IsPrivate(chat *api.Chat) bool {
	return chat != nil && chat.Type == "private"
}
