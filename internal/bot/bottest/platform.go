// Package bottest provides a recording fake of bot.Platform.
package bottest

import (
	"context"
	"sync"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/ngwarden/internal/bot"
)

type (
	Restriction struct {
		GroupID int64
		UserID  int64
		Perms   api.ChatPermissions
	}

	Edit struct {
		Ref  bot.MessageRef
		Text string
	}

	CallbackAnswer struct {
		ID    string
		Text  string
		Alert bool
	}

	// Platform records every call. Errors and lookups are configured through
	// the exported fields before use.
	Platform struct {
		mu sync.Mutex

		Username           string
		Memberships        map[int64]bot.Membership
		PhotoCounts        map[int64]int
		Admins             []int64
		DefaultPermissions api.ChatPermissions

		RestrictErr   error
		MembershipErr error
		PhotoErr      error
		SendErr       error
		EditErr       error
		AdminsErr     error
		PermsErr      error

		Restrictions []Restriction
		Sent         []bot.OutgoingMessage
		Edits        []Edit
		Deleted      []bot.MessageRef
		Answers      []CallbackAnswer
		PhotoLookups int
		nextID       int
	}
)

var _ bot.Platform = (*Platform)(nil)

func NewPlatform() *Platform {
	return &Platform{
		Username:    "warden_bot",
		Memberships: map[int64]bot.Membership{},
		PhotoCounts: map[int64]int{},
		DefaultPermissions: api.ChatPermissions{
			CanSendMessages: true,
			CanSendPhotos:   true,
		},
	}
}

func (p *Platform) RestrictMember(_ context.Context, groupID, userID int64, perms api.ChatPermissions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.RestrictErr != nil {
		return p.RestrictErr
	}
	p.Restrictions = append(p.Restrictions, Restriction{GroupID: groupID, UserID: userID, Perms: perms})
	return nil
}

func (p *Platform) GetMembership(_ context.Context, _, userID int64) (bot.Membership, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.MembershipErr != nil {
		return bot.Membership{Status: bot.StatusUnknown}, p.MembershipErr
	}
	m, ok := p.Memberships[userID]
	if !ok {
		return bot.Membership{Status: bot.StatusMember, User: &api.User{ID: userID}}, nil
	}
	return m, nil
}

func (p *Platform) GetDefaultPermissions(context.Context, int64) (api.ChatPermissions, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PermsErr != nil {
		return api.ChatPermissions{}, p.PermsErr
	}
	return p.DefaultPermissions, nil
}

func (p *Platform) GetAdministratorIDs(context.Context, int64) ([]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AdminsErr != nil {
		return nil, p.AdminsErr
	}
	return append([]int64(nil), p.Admins...), nil
}

func (p *Platform) GetProfilePhotoCount(_ context.Context, userID int64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PhotoLookups++
	if p.PhotoErr != nil {
		return 0, p.PhotoErr
	}
	return p.PhotoCounts[userID], nil
}

func (p *Platform) SendMessage(_ context.Context, msg bot.OutgoingMessage) (bot.MessageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SendErr != nil {
		return bot.MessageRef{}, p.SendErr
	}
	p.nextID++
	p.Sent = append(p.Sent, msg)
	return bot.MessageRef{ChatID: msg.ChatID, MessageID: p.nextID}, nil
}

func (p *Platform) EditMessage(_ context.Context, ref bot.MessageRef, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.EditErr != nil {
		return p.EditErr
	}
	p.Edits = append(p.Edits, Edit{Ref: ref, Text: text})
	return nil
}

func (p *Platform) DeleteMessage(_ context.Context, ref bot.MessageRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Deleted = append(p.Deleted, ref)
	return nil
}

func (p *Platform) AnswerCallback(_ context.Context, callbackID, text string, alert bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Answers = append(p.Answers, CallbackAnswer{ID: callbackID, Text: text, Alert: alert})
	return nil
}

func (p *Platform) BotUsername() string {
	return p.Username
}

// SetMembership configures the status GetMembership reports for userID.
func (p *Platform) SetMembership(userID int64, status bot.MembershipStatus, user *api.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if user == nil {
		user = &api.User{ID: userID}
	}
	p.Memberships[userID] = bot.Membership{Status: status, User: user}
}

// Mutes returns the restrictions that revoked sending messages.
func (p *Platform) Mutes() []Restriction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Restriction, 0, len(p.Restrictions))
	for _, r := range p.Restrictions {
		if !r.Perms.CanSendMessages {
			out = append(out, r)
		}
	}
	return out
}

// Unmutes returns the restrictions that allowed sending messages.
func (p *Platform) Unmutes() []Restriction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Restriction, 0, len(p.Restrictions))
	for _, r := range p.Restrictions {
		if r.Perms.CanSendMessages {
			out = append(out, r)
		}
	}
	return out
}

func (p *Platform) SentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Sent)
}
