// Package notify renders localized notices and sends them to the group's
// warning topic or back to the user.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"
	"github.com/pkg/errors"

	"github.com/iamwavecut/ngwarden/internal/bot"
	"github.com/iamwavecut/ngwarden/internal/challenge"
	"github.com/iamwavecut/ngwarden/internal/compliance"
	"github.com/iamwavecut/ngwarden/internal/i18n"
)

type (
	Settings struct {
		GroupID          int64
		WarningTopicID   int
		RulesLink        string
		Language         string
		WarningThreshold int
		TimeThreshold    time.Duration
		ChallengeTimeout time.Duration
	}

	Platform interface {
		SendMessage(ctx context.Context, msg bot.OutgoingMessage) (bot.MessageRef, error)
		EditMessage(ctx context.Context, ref bot.MessageRef, text string) error
		BotUsername() string
	}

	Notifier struct {
		settings Settings
		platform Platform
	}
)

var (
	_ compliance.Notifier = (*Notifier)(nil)
	_ challenge.Notifier  = (*Notifier)(nil)
)

func NewNotifier(settings Settings, platform Platform) *Notifier {
	return &Notifier{settings: settings, platform: platform}
}

func (n *Notifier) lang() string {
	return n.settings.Language
}

// DMLink points to a private chat with the bot.
func (n *Notifier) DMLink() string {
	return "https://t.me/" + n.platform.BotUsername()
}

// FormatThreshold renders whole hours from 60 minutes up, minutes below.
func FormatThreshold(d time.Duration, lang string) string {
	minutes := int(d / time.Minute)
	if minutes >= 60 {
		return tool.ExecTemplate(i18n.Get("{{ .hours }} hours", lang), map[string]any{"hours": minutes / 60})
	}
	return tool.ExecTemplate(i18n.Get("{{ .minutes }} minutes", lang), map[string]any{"minutes": minutes})
}

// FormatMissing joins the missing profile items, photo first.
func FormatMissing(items []compliance.MissingItem, lang string) string {
	names := make([]string, 0, len(items))
	for _, item := range items {
		switch item {
		case compliance.MissingPhoto:
			names = append(names, i18n.Get("profile photo", lang))
		case compliance.MissingHandle:
			names = append(names, i18n.Get("username", lang))
		}
	}
	return strings.Join(names, i18n.Get(" and ", lang))
}

func mentionOf(userID int64, user *api.User) string {
	if user == nil {
		return bot.Mention(userID, "")
	}
	return bot.MentionUser(user)
}

func (n *Notifier) toGroup(ctx context.Context, text string, markup *api.InlineKeyboardMarkup) (bot.MessageRef, error) {
	ref, err := n.platform.SendMessage(ctx, bot.OutgoingMessage{
		ChatID:   n.settings.GroupID,
		ThreadID: n.settings.WarningTopicID,
		Text:     text,
		Markup:   markup,
	})
	if err != nil {
		return ref, errors.WithMessage(err, "send group notice")
	}
	return ref, nil
}

func (n *Notifier) WarnIncompleteProfile(ctx context.Context, user *api.User, missing []compliance.MissingItem) error {
	text := tool.ExecTemplate(i18n.Get("⚠️ Hi {{ .mention }}, please complete your {{ .missing }} to follow the group rules.\nYou will be restricted after {{ .threshold }}.\n\n📖 [Read the group rules]({{ .rules_link }})", n.lang()), map[string]any{
		"mention":    bot.MentionUser(user),
		"missing":    FormatMissing(missing, n.lang()),
		"threshold":  FormatThreshold(n.settings.TimeThreshold, n.lang()),
		"rules_link": n.settings.RulesLink,
	})
	_, err := n.toGroup(ctx, text, nil)
	return err
}

func (n *Notifier) WarnFirstMessage(ctx context.Context, user *api.User, missing []compliance.MissingItem) error {
	text := tool.ExecTemplate(i18n.Get("⚠️ Hi {{ .mention }}, please complete your {{ .missing }} to follow the group rules.\nYou will be restricted after {{ .warning_threshold }} messages or {{ .threshold }}.\n\n📖 [Read the group rules]({{ .rules_link }})", n.lang()), map[string]any{
		"mention":           bot.MentionUser(user),
		"missing":           FormatMissing(missing, n.lang()),
		"warning_threshold": n.settings.WarningThreshold,
		"threshold":         FormatThreshold(n.settings.TimeThreshold, n.lang()),
		"rules_link":        n.settings.RulesLink,
	})
	_, err := n.toGroup(ctx, text, nil)
	return err
}

func (n *Notifier) NotifyRestrictedByMessages(ctx context.Context, user *api.User, messageCount int, missing []compliance.MissingItem) error {
	text := tool.ExecTemplate(i18n.Get("🚫 {{ .mention }} has been restricted after {{ .message_count }} messages.\nPlease complete your {{ .missing }} to follow the group rules.\n\n📖 [Read the group rules]({{ .rules_link }})\n✉️ [Message the bot directly to lift the restriction]({{ .dm_link }})", n.lang()), map[string]any{
		"mention":       bot.MentionUser(user),
		"message_count": messageCount,
		"missing":       FormatMissing(missing, n.lang()),
		"rules_link":    n.settings.RulesLink,
		"dm_link":       n.DMLink(),
	})
	_, err := n.toGroup(ctx, text, nil)
	return err
}

func (n *Notifier) NotifyRestrictedByTime(ctx context.Context, userID int64, user *api.User) error {
	text := tool.ExecTemplate(i18n.Get("🚫 {{ .mention }} has been restricted for not completing the profile within {{ .threshold }}.\n\n📖 [Read the group rules]({{ .rules_link }})\n✉️ [Message the bot directly to lift the restriction]({{ .dm_link }})", n.lang()), map[string]any{
		"mention":    mentionOf(userID, user),
		"threshold":  FormatThreshold(n.settings.TimeThreshold, n.lang()),
		"rules_link": n.settings.RulesLink,
		"dm_link":    n.DMLink(),
	})
	_, err := n.toGroup(ctx, text, nil)
	return err
}

func (n *Notifier) NotifyExemptionClearance(ctx context.Context, userID int64, user *api.User) error {
	text := tool.ExecTemplate(i18n.Get("✅ {{ .mention }} has been verified by an admin. Feel free to join the discussion again.", n.lang()), map[string]any{
		"mention": mentionOf(userID, user),
	})
	_, err := n.toGroup(ctx, text, nil)
	return err
}

func (n *Notifier) SendChallenge(ctx context.Context, user *api.User, callbackData string) (bot.MessageRef, error) {
	text := tool.ExecTemplate(i18n.Get("👋 Welcome {{ .mention }}!\n\nTo make sure you are not a robot, please press the button below within {{ .timeout }} seconds.", n.lang()), map[string]any{
		"mention": bot.MentionUser(user),
		"timeout": int(n.settings.ChallengeTimeout / time.Second),
	})
	markup := api.NewInlineKeyboardMarkup(
		api.NewInlineKeyboardRow(
			api.NewInlineKeyboardButtonData(i18n.Get("✅ I am not a robot", n.lang()), callbackData),
		),
	)
	return n.toGroup(ctx, text, &markup)
}

func (n *Notifier) ChallengePassed(ctx context.Context, ref bot.MessageRef, userID int64, displayName string) error {
	text := tool.ExecTemplate(i18n.Get("✅ Thank you {{ .mention }}, verification passed! Welcome aboard.", n.lang()), map[string]any{
		"mention": bot.Mention(userID, displayName),
	})
	return errors.WithMessage(n.platform.EditMessage(ctx, ref, text), "edit challenge")
}

func (n *Notifier) ChallengeExpired(ctx context.Context, ref bot.MessageRef, userID int64, displayName string) error {
	text := tool.ExecTemplate(i18n.Get("🚫 {{ .mention }} did not complete verification in time.\n\nPlease [message the bot]({{ .dm_link }}) to lift the restriction.", n.lang()), map[string]any{
		"mention": bot.Mention(userID, displayName),
		"dm_link": n.DMLink(),
	})
	return errors.WithMessage(n.platform.EditMessage(ctx, ref, text), "edit challenge")
}

// AckReply is the callback answer for a challenge button press; alert is
// set for presses that need the user's attention.
func (n *Notifier) AckReply(result challenge.AckResult, err error) (text string, alert bool) {
	switch {
	case err != nil:
		return i18n.Get("Verification failed. Please try again.", n.lang()), true
	case result == challenge.AckWrongUser:
		return i18n.Get("❌ This button is not for you.", n.lang()), true
	default:
		return "", false
	}
}

// ReconcileReply is the private answer to a user who wrote to the bot.
func (n *Notifier) ReconcileReply(result compliance.Reconciliation, err error) string {
	if err != nil {
		return i18n.Get("❌ Something went wrong. Please try again later.", n.lang())
	}
	switch result.Resolution {
	case compliance.ResolutionNotMember:
		return i18n.Get("❌ You have not joined the group yet.\nPlease join the group first.", n.lang())
	case compliance.ResolutionIncompleteProfile:
		return tool.ExecTemplate(i18n.Get("❌ You do not meet the requirements yet.\n\nPlease complete your {{ .missing }} first, then message this bot again.\n\n📖 [Read the group rules]({{ .rules_link }})", n.lang()), map[string]any{
			"missing":    FormatMissing(result.Missing, n.lang()),
			"rules_link": n.settings.RulesLink,
		})
	case compliance.ResolutionNothingToLift:
		return i18n.Get("ℹ️ You have no restriction from this bot.\nIf an admin restricted you, please contact the group admins directly.", n.lang())
	case compliance.ResolutionAlreadyLifted:
		return i18n.Get("ℹ️ You are no longer restricted in the group.\nWelcome back!", n.lang())
	case compliance.ResolutionLifted:
		return i18n.Get("✅ Congratulations! You now meet the requirements.\nYour restriction in the group has been lifted. Welcome back!", n.lang())
	case compliance.ResolutionChallengeCleared:
		return i18n.Get("✅ Your verification is complete.\nYour restriction in the group has been lifted. Welcome!", n.lang())
	default:
		return i18n.Get("❌ Something went wrong. Please try again later.", n.lang())
	}
}

type CommandReply int

const (
	ReplyPrivateOnly CommandReply = iota
	ReplyNoPermission
	ReplyNotANumber
	ReplyUsage
	ReplyVerified
	ReplyAlreadyWhitelisted
	ReplyUnverified
	ReplyNotWhitelisted
	ReplyFailure
)

// CommandText renders an operator command reply. command is used by
// ReplyUsage, userID by the whitelist replies.
func (n *Notifier) CommandText(reply CommandReply, command string, userID int64) string {
	data := map[string]any{
		"command": "/" + command,
		"user_id": strconv.FormatInt(userID, 10),
	}
	switch reply {
	case ReplyPrivateOnly:
		return i18n.Get("❌ This command can only be used in a private chat with the bot.", n.lang())
	case ReplyNoPermission:
		return i18n.Get("❌ You do not have permission to use this command.", n.lang())
	case ReplyNotANumber:
		return i18n.Get("❌ User ID must be a number.", n.lang())
	case ReplyUsage:
		return tool.ExecTemplate(i18n.Get("❌ Usage: {{ .command }} USER_ID", n.lang()), data)
	case ReplyVerified:
		return tool.ExecTemplate(i18n.Get("✅ User with ID {{ .user_id }} has been verified:\n• Added to the profile photo whitelist\n• Restriction lifted (if any)\n• Warning history deleted\n\nThis user will not be checked for a profile photo again.", n.lang()), data)
	case ReplyAlreadyWhitelisted:
		return tool.ExecTemplate(i18n.Get("ℹ️ User with ID {{ .user_id }} is already whitelisted.", n.lang()), data)
	case ReplyUnverified:
		return tool.ExecTemplate(i18n.Get("✅ User with ID {{ .user_id }} has been removed from the photo verification whitelist.", n.lang()), data)
	case ReplyNotWhitelisted:
		return tool.ExecTemplate(i18n.Get("ℹ️ User with ID {{ .user_id }} is not whitelisted.", n.lang()), data)
	default:
		return i18n.Get("❌ Something went wrong. Please try again later.", n.lang())
	}
}

// Reply sends text to a private chat.
func (n *Notifier) Reply(ctx context.Context, chatID int64, text string) error {
	_, err := n.platform.SendMessage(ctx, bot.OutgoingMessage{ChatID: chatID, Text: text})
	if err != nil {
		return errors.WithMessage(err, fmt.Sprintf("reply to %d", chatID))
	}
	return nil
}
