// Package notify forwards operational events to an admin log chat.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Level int

const (
	LevelInfo Level = iota
	LevelError
)

const DefaultBuffer = 256

type Event struct {
	Level Level
	Title string
	Text  string
	Photo []byte
}

// Sink accepts events without blocking the caller.
type Sink interface {
	Notify(Event)
}

type Nop struct{}

func (Nop) Notify(Event) {}

// Info and Error build plain events.
func Info(title, format string, args ...any) Event {
	return Event{Level: LevelInfo, Title: title, Text: fmt.Sprintf(format, args...)}
}

func Error(title, format string, args ...any) Event {
	return Event{Level: LevelError, Title: title, Text: fmt.Sprintf(format, args...)}
}

type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram queues events and delivers them from Run.
type Telegram struct {
	sender     Sender
	chatID     int64
	errorsOnly bool
	queue      chan Event
	log        *slog.Logger
}

func NewTelegram(sender Sender, chatID int64, errorsOnly bool, buffer int, log *slog.Logger) *Telegram {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Telegram{
		sender:     sender,
		chatID:     chatID,
		errorsOnly: errorsOnly,
		queue:      make(chan Event, buffer),
		log:        log,
	}
}

func (t *Telegram) Notify(e Event) {
	if t.errorsOnly && e.Level < LevelError {
		return
	}
	select {
	case t.queue <- e:
	default:
		t.log.Warn("notification dropped", "title", e.Title)
	}
}

func (t *Telegram) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-t.queue:
			if err := t.deliver(e); err != nil {
				t.log.Error("notification delivery failed", "title", e.Title, "err", err)
			}
		}
	}
}

func (t *Telegram) deliver(e Event) error {
	text := format(e)
	var msg tgbotapi.Chattable
	if len(e.Photo) > 0 {
		photo := tgbotapi.NewPhoto(t.chatID, tgbotapi.FileBytes{Name: "image.png", Bytes: e.Photo})
		photo.Caption = truncate(text, 1024)
		msg = photo
	} else {
		msg = tgbotapi.NewMessage(t.chatID, truncate(text, 4096))
	}
	_, err := t.sender.Send(msg)
	return err
}

func format(e Event) string {
	prefix := "ℹ️"
	if e.Level == LevelError {
		prefix = "❗️"
	}
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(" ")
	b.WriteString(e.Title)
	if e.Text != "" {
		b.WriteString("\n")
		b.WriteString(e.Text)
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
