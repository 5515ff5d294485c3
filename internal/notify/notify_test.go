package notify

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
}

func (r *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, c)
	return tgbotapi.Message{}, nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestTelegramDelivers(t *testing.T) {
	sender := &recordingSender{}
	sink := NewTelegram(sender, 42, false, 4, discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { sink.Run(ctx); close(done) }()

	sink.Notify(Info("Новый пользователь", "id=%d", 7))
	sink.Notify(Event{Level: LevelError, Title: "Ошибка", Photo: []byte("png")})

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if sender.count() != 2 {
		t.Fatalf("sent = %d, want 2", sender.count())
	}
	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	if !ok || msg.ChatID != 42 || !strings.Contains(msg.Text, "id=7") {
		t.Fatalf("first message = %+v", sender.sent[0])
	}
	if _, ok := sender.sent[1].(tgbotapi.PhotoConfig); !ok {
		t.Fatalf("second message = %T, want PhotoConfig", sender.sent[1])
	}
}

func TestTelegramErrorsOnlyAndDrop(t *testing.T) {
	sink := NewTelegram(&recordingSender{}, 1, true, 1, discard())
	sink.Notify(Info("skip", ""))
	if len(sink.queue) != 0 {
		t.Fatalf("info event queued with errors-only")
	}
	sink.Notify(Error("a", ""))
	sink.Notify(Error("b", ""))
	if len(sink.queue) != 1 {
		t.Fatalf("queue = %d, want 1 (overflow dropped)", len(sink.queue))
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("привет", 4); got != "при…" {
		t.Fatalf("truncate() = %q", got)
	}
	if got := truncate("ok", 4); got != "ok" {
		t.Fatalf("truncate() = %q", got)
	}
}
