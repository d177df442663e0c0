package bot

import (
	api "github.com/OvyFlash/telegram-bot-api"
)

type MembershipStatus string

const (
	StatusUnknown       MembershipStatus = ""
	StatusCreator       MembershipStatus = "creator"
	StatusAdministrator MembershipStatus = "administrator"
	StatusMember        MembershipStatus = "member"
	StatusRestricted    MembershipStatus = "restricted"
	StatusLeft          MembershipStatus = "left"
	StatusKicked        MembershipStatus = "kicked"
)

type (
	// Membership is a user's standing in a group. User is nil when unknown.
	Membership struct {
		Status MembershipStatus
		User   *api.User
	}

	MessageRef struct {
		ChatID    int64
		MessageID int
	}

	// OutgoingMessage is always sent with Markdown parse mode.
	OutgoingMessage struct {
		ChatID   int64
		ThreadID int
		Text     string
		Markup   *api.InlineKeyboardMarkup
	}
)

// IsMember reports whether the user currently belongs to the group, muted or not.
func (m Membership) IsMember() bool {
	switch m.Status {
	case StatusCreator, StatusAdministrator, StatusMember, StatusRestricted:
		return true
	default:
		return false
	}
}

// Removed reports a ban, as opposed to leaving voluntarily.
func (m Membership) Removed() bool {
	return m.Status == StatusKicked
}

// MutedPermissions is the permission set applied when restricting a member.
func MutedPermissions() api.ChatPermissions {
	return api.ChatPermissions{}
}
