// Package bot drives the mood selection flow from a Telegram chat.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/moodflow/backend/internal/expiry"
	"github.com/moodflow/backend/internal/flow"
	"github.com/moodflow/backend/internal/mood"
	"github.com/moodflow/backend/internal/session"
)

const sessionPrefix = "tg:"

// Sender is the part of tgbotapi.BotAPI the bot talks through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Sessions is the registry the bot opens chat sessions in.
type Sessions interface {
	Open(ctx context.Context, id string) (*session.Session, error)
	OnOpen(h session.OpenHook)
	OnExpire(h session.ExpireHook)
}

// Bot maps Telegram updates onto mood sessions.
type Bot struct {
	api      Sender
	sessions Sessions
	logger   *slog.Logger
}

// New wires a bot to the registry. Chat sessions get a flow observer that
// plays the typing step and the ingredient prompt, and expired moods are
// announced in their chat.
func New(api Sender, sessions Sessions, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bot{api: api, sessions: sessions, logger: logger.With(slog.String("component", "bot"))}
	sessions.OnOpen(b.attach)
	sessions.OnExpire(b.expired)
	return b
}

// SessionID returns the session key of a chat.
func SessionID(chatID int64) string {
	return sessionPrefix + strconv.FormatInt(chatID, 10)
}

func chatID(sessionID string) (int64, bool) {
	raw, ok := strings.CutPrefix(sessionID, sessionPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil
}

// Run handles updates until ctx is canceled or the channel closes.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	b.logger.Info("telegram bot started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, upd)
		}
	}
}

// HandleUpdate processes one update. Every update counts as keyboard
// activity for the chat's expiry tracker.
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if cq := upd.CallbackQuery; cq != nil && cq.Message == nil {
		b.answer(cq)
		return
	}
	chat := upd.FromChat()
	if chat == nil {
		return
	}

	s, err := b.sessions.Open(ctx, SessionID(chat.ID))
	if err != nil {
		b.logger.Error("open chat session", "chat_id", chat.ID, "error", err)
		return
	}
	s.Tracker.Activity(expiry.KeyDown)

	switch {
	case upd.CallbackQuery != nil:
		b.handleCallback(s, upd.CallbackQuery)
	case upd.Message != nil && upd.Message.IsCommand():
		b.handleCommand(s, upd.Message)
	case upd.Message != nil:
		b.handleText(s, upd.Message)
	}
}

func (b *Bot) handleCommand(s *session.Session, msg *tgbotapi.Message) {
	chat := msg.Chat.ID
	switch msg.Command() {
	case "start", "mood":
		b.sendKeyboard(chat, txtPickMood)
	case "back":
		s.Flow.Back()
		b.send(chat, txtBack)
	case "reset":
		s.Flow.Reset()
		b.send(chat, txtReset)
	case "status":
		b.send(chat, statusText(s.Store.Mood(), s.Tracker.Remaining()))
	default:
		b.send(chat, txtHint)
	}
}

func (b *Bot) answer(cq *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		b.logger.Warn("answer callback", "error", err)
	}
}

func (b *Bot) handleCallback(s *session.Session, cq *tgbotapi.CallbackQuery) {
	b.answer(cq)

	raw, ok := strings.CutPrefix(cq.Data, callbackPrefix)
	if !ok {
		return
	}
	v, err := mood.Parse(raw)
	if err != nil {
		b.send(cq.Message.Chat.ID, txtUnknownMood)
		return
	}

	// After /back the flow is already idle, so a deselect shows up only
	// as the mood disappearing.
	had := s.Store.Mood()
	s.Flow.Select(v)
	if had != mood.Unset && s.Store.Mood() == mood.Unset {
		b.send(cq.Message.Chat.ID, txtDeselected)
	}
}

func (b *Bot) handleText(s *session.Session, msg *tgbotapi.Message) {
	if s.Flow.State() != flow.ShowingIngredients {
		b.send(msg.Chat.ID, txtHint)
		return
	}

	items := parseIngredients(msg.Text)
	if len(items) == 0 {
		b.send(msg.Chat.ID, txtIngredients)
		return
	}
	b.logger.Info("ingredients received", "session_id", s.ID, "mood", s.Store.Mood(), "count", len(items))
	b.send(msg.Chat.ID, fmt.Sprintf("Got it: %s. Looking for %s-mood recipes.", strings.Join(items, ", "), s.Store.Mood()))
}

// attach observes the flow of chat sessions. The intro message stands in
// for the typing animation, so its delivery completes the typing step.
func (b *Bot) attach(s *session.Session) {
	chat, ok := chatID(s.ID)
	if !ok {
		return
	}
	s.Flow.OnTransition(func(tr flow.Transition) {
		switch {
		case tr.To == flow.MoodSelected && tr.From == flow.Idle:
			if _, err := b.api.Request(tgbotapi.NewChatAction(chat, tgbotapi.ChatTyping)); err != nil {
				b.logger.Warn("send typing action", "chat_id", chat, "error", err)
			}
			b.send(chat, introText(tr.Mood))
			s.Flow.TypingComplete()
		case tr.To == flow.ShowingIngredients:
			b.send(chat, txtIngredients)
		}
	})
}

func (b *Bot) expired(s *session.Session) {
	chat, ok := chatID(s.ID)
	if !ok {
		return
	}
	b.sendKeyboard(chat, txtExpired)
}

func (b *Bot) send(chat int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chat, text)); err != nil {
		b.logger.Warn("send message", "chat_id", chat, "error", err)
	}
}

func (b *Bot) sendKeyboard(chat int64, text string) {
	msg := tgbotapi.NewMessage(chat, text)
	msg.ReplyMarkup = moodKeyboard
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("send mood keyboard", "chat_id", chat, "error", err)
	}
}
