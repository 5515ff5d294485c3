package telegram

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/digkill/TGImageBot/internal/quota"
	"github.com/digkill/TGImageBot/internal/service"
	"github.com/digkill/TGImageBot/internal/workflow"
)

func TestCardPromptFitsPromptLimit(t *testing.T) {
	data := workflow.Data{
		workflow.FieldPlatform:    "yandex",
		workflow.FieldName:        strings.Repeat("н", 120),
		workflow.FieldPrice:       "1234567.89",
		workflow.FieldDescription: strings.Repeat("о", workflow.MaxCardDescriptionLength),
	}
	p := cardPrompt(data)
	if n := utf8.RuneCountInString(p); n > workflow.MaxPromptLength {
		t.Fatalf("cardPrompt() length = %d, want <= %d", n, workflow.MaxPromptLength)
	}
	if !strings.Contains(p, "Яндекс Маркет") {
		t.Fatalf("cardPrompt() = %q, want platform title", p)
	}
}

func TestEveryStateHasPrompt(t *testing.T) {
	states := []workflow.State{
		workflow.StateAwaitingFirstImage, workflow.StateAwaitingSecondImage, workflow.StateAwaitingCompositionPrompt,
		workflow.StateAwaitingCardPlatform, workflow.StateAwaitingCardName, workflow.StateAwaitingCardPrice,
		workflow.StateAwaitingCardDescription, workflow.StateAwaitingCardPhoto, workflow.StateAwaitingGenerationPrompt,
		workflow.StateAwaitingKey, workflow.StateAwaitingFeedback, workflow.StateAwaitingKeyDuration,
		workflow.StateAwaitingReferralReward, workflow.StateAwaitingBroadcast, workflow.StateAwaitingSearchQuery,
		workflow.StateAwaitingMuteDuration, workflow.StateAwaitingUserMessage, workflow.StateAwaitingPlanUpdate,
	}
	for _, s := range states {
		if _, ok := stepPrompts[s]; !ok {
			t.Errorf("no prompt for state %s", s)
		}
	}
}

func TestDeniedText(t *testing.T) {
	reset := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		d    quota.Decision
		want string
	}{
		{name: "banned", d: quota.Decision{Reason: quota.ReasonBanned}, want: "заблокирован"},
		{name: "muted", d: quota.Decision{Reason: quota.ReasonMuted, ResetAt: reset}, want: "11.06.2025 00:00"},
		{name: "daily", d: quota.Decision{Reason: quota.ReasonDailyLimit, Used: 3, Limit: 3, ResetAt: reset}, want: "(3/3)"},
		{name: "hourly", d: quota.Decision{Reason: quota.ReasonHourlyLimit, HourlyUsed: 100, HourlyCap: 100, ResetAt: reset}, want: "(100/100)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deniedText(tt.d); !strings.Contains(got, tt.want) {
				t.Fatalf("deniedText() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestRemainingText(t *testing.T) {
	if got := remainingText(quota.Decision{Remaining: -1}); strings.Contains(got, "Осталось") {
		t.Fatalf("remainingText(unbounded) = %q", got)
	}
	if got := remainingText(quota.Decision{Remaining: 2}); !strings.HasSuffix(got, "Осталось: 2") {
		t.Fatalf("remainingText(2) = %q", got)
	}
}

func TestRouteMenuBeforeSession(t *testing.T) {
	tests := []struct {
		name      string
		flow      workflow.Flow
		in        Incoming
		isAdmin   bool
		want      Action
		outcome   workflow.Outcome
		keepsFlow bool
	}{
		{name: "menu button during prompt", flow: workflow.FlowGenerate, in: Incoming{Text: btnCompose}, want: ComposeMenu{}, outcome: workflow.OutcomeIdle},
		{name: "start during composition", flow: workflow.FlowComposition, in: Incoming{Text: "/start"}, want: Start{}, outcome: workflow.OutcomeIdle},
		{name: "known command during feedback", flow: workflow.FlowFeedback, in: Incoming{Text: "/help"}, want: Help{}, outcome: workflow.OutcomeIdle},
		{name: "cancel command", flow: workflow.FlowFeedback, in: Incoming{Text: " /CANCEL "}, want: Cancel{}, outcome: workflow.OutcomeIdle},
		{name: "cancel button", flow: workflow.FlowComposition, in: Incoming{Text: btnCancel}, want: Cancel{}, outcome: workflow.OutcomeIdle},
		{name: "admin button for admin", flow: workflow.FlowGenerate, in: Incoming{Text: btnAdminAnalytics}, isAdmin: true, want: AdminAnalytics{}, outcome: workflow.OutcomeIdle},
		{name: "admin label from user is text", flow: workflow.FlowFeedback, in: Incoming{Text: btnAdminAnalytics}, want: FreePrompt{Text: btnAdminAnalytics}, outcome: workflow.OutcomeComplete},
		{name: "free text feeds prompt", flow: workflow.FlowGenerate, in: Incoming{Text: "a red fox"}, want: FreePrompt{Text: "a red fox"}, outcome: workflow.OutcomeComplete},
		{name: "photo feeds composition", flow: workflow.FlowComposition, in: Incoming{PhotoFileID: "file-a"}, want: EditPhoto{FileID: "file-a"}, outcome: workflow.OutcomeAdvanced, keepsFlow: true},
		{name: "text during image step", flow: workflow.FlowComposition, in: Incoming{Text: "hello"}, want: FreePrompt{Text: "hello"}, outcome: workflow.OutcomeReprompt, keepsFlow: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flows := workflow.NewController(time.Minute)
			const user = 7
			if _, err := flows.Begin(user, tt.flow, nil); err != nil {
				t.Fatalf("Begin() error = %v", err)
			}
			action, res, _ := route(flows, user, tt.in, tt.isAdmin)
			if action != tt.want {
				t.Fatalf("route() action = %#v, want %#v", action, tt.want)
			}
			if res.Outcome != tt.outcome {
				t.Fatalf("route() outcome = %v, want %v", res.Outcome, tt.outcome)
			}
			if _, _, ok := flows.Current(user); ok != tt.keepsFlow {
				t.Fatalf("session active = %v, want %v", ok, tt.keepsFlow)
			}
		})
	}
}

func TestRouteMenuLabelNotStored(t *testing.T) {
	flows := workflow.NewController(time.Minute)
	const user = 7
	if _, err := flows.Begin(user, workflow.FlowGenerate, nil); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, res, _ := route(flows, user, Incoming{Text: btnCompose}, false); res.Outcome != workflow.OutcomeIdle {
		t.Fatalf("route(menu) outcome = %v, want idle", res.Outcome)
	}
	if _, res, _ := route(flows, user, Incoming{Text: "a red fox"}, false); res.Outcome != workflow.OutcomeIdle {
		t.Fatalf("route(text after menu) outcome = %v, want idle", res.Outcome)
	}
	if _, err := flows.Begin(user, workflow.FlowGenerate, nil); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	_, res, _ := route(flows, user, Incoming{Text: "a red fox"}, false)
	if res.Outcome != workflow.OutcomeComplete || res.Data[workflow.FieldPrompt] != "a red fox" {
		t.Fatalf("route(prompt) = %v %v, want complete with the prompt", res.Outcome, res.Data)
	}
}

func TestNormalizeImageContentType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	if ct, err := normalizeImageContentType("application/octet-stream", png); err != nil || ct != "image/png" {
		t.Fatalf("normalizeImageContentType(png) = %q, %v", ct, err)
	}
	if _, err := normalizeImageContentType("text/plain", []byte("hello")); err != errReferenceNotImage {
		t.Fatalf("normalizeImageContentType(text) error = %v, want errReferenceNotImage", err)
	}
}

func TestAdminErrorText(t *testing.T) {
	driverErr := fmt.Errorf("update plan: %w", errors.New("Error 1045 (28000): Access denied for user 'bot'@'10.0.0.5'"))
	tests := []struct {
		name    string
		err     error
		want    string
		notWant string
	}{
		{name: "not found", err: fmt.Errorf("gift: %w", service.ErrNotFound), want: "не найден"},
		{name: "invalid input", err: fmt.Errorf("%w: days must be positive", service.ErrInvalidInput), want: "days must be positive"},
		{name: "storage failure", err: driverErr, want: "Подробности в логах", notWant: "Access denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := adminErrorText(tt.err)
			if !strings.Contains(got, tt.want) {
				t.Fatalf("adminErrorText() = %q, want it to contain %q", got, tt.want)
			}
			if tt.notWant != "" && strings.Contains(got, tt.notWant) {
				t.Fatalf("adminErrorText() = %q leaks %q", got, tt.notWant)
			}
		})
	}
}
