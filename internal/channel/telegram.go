package channel

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"supernotify/internal/engine"
)

// TelegramKind delivers to Telegram chats. Targets are chat ids; recipients
// contribute their configured chat id. The bot is send-only, no poller.
type TelegramKind struct {
	bot *tele.Bot
}

func NewTelegramKind(token string) (*TelegramKind, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	return &TelegramKind{bot: b}, nil
}

func (k *TelegramKind) Name() string         { return "telegram" }
func (k *TelegramKind) NeedsServiceID() bool { return false }
func (k *TelegramKind) NeedsTargets() bool   { return true }

func (k *TelegramKind) ValidateTarget(target string) bool {
	_, err := strconv.ParseInt(target, 10, 64)
	return err == nil
}

func (k *TelegramKind) ValidateEntry(_ context.Context, e *engine.CatalogEntry) error {
	switch e.Options["parse_mode"] {
	case "", "HTML", "Markdown", "MarkdownV2":
		return nil
	default:
		return fmt.Errorf("unknown parse_mode %q", e.Options["parse_mode"])
	}
}

func (k *TelegramKind) RecipientTargets(r engine.Recipient) []string {
	if r.TelegramChatID == 0 {
		return nil
	}
	return []string{strconv.FormatInt(r.TelegramChatID, 10)}
}

func (k *TelegramKind) Send(_ context.Context, call *Call) (string, error) {
	chatID, err := strconv.ParseInt(call.Target, 10, 64)
	if err != nil {
		return "", fmt.Errorf("chat id %q: %w", call.Target, err)
	}
	text := call.Envelope.Message
	if call.Envelope.Title != "" {
		text = call.Envelope.Title + "\n\n" + text
	}
	opt := &tele.SendOptions{
		ParseMode:             call.Entry.Options["parse_mode"],
		DisableWebPagePreview: true,
	}
	msg, err := k.bot.Send(&tele.Chat{ID: chatID}, text, opt)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("message %d", msg.ID), nil
}
