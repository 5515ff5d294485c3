package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/TGImageBot/internal/history"
	"github.com/digkill/TGImageBot/internal/imagegen"
	"github.com/digkill/TGImageBot/internal/metrics"
	"github.com/digkill/TGImageBot/internal/models"
	"github.com/digkill/TGImageBot/internal/notify"
	"github.com/digkill/TGImageBot/internal/quota"
	"github.com/digkill/TGImageBot/internal/workflow"
)

type GenerationService struct {
	quota     *QuotaService
	generator imagegen.Generator
	media     *MediaService
	history   *history.Store
	notifier  notify.Sink
	log       *slog.Logger
}

type GenerationRequest struct {
	Action     models.Action
	Prompt     string
	References []imagegen.Reference
	// UseHistory prepends the user's recent prompts as context.
	UseHistory bool
}

type GenerationResult struct {
	Image    *imagegen.Image
	Prompt   string
	Decision quota.Decision
}

func NewGenerationService(q *QuotaService, generator imagegen.Generator, media *MediaService, hist *history.Store, notifier notify.Sink, log *slog.Logger) *GenerationService {
	return &GenerationService{
		quota:     q,
		generator: generator,
		media:     media,
		history:   hist,
		notifier:  notifier,
		log:       log,
	}
}

// Generate runs one billable action. Usage is charged only after the
// generator returned an image.
func (s *GenerationService) Generate(ctx context.Context, user *models.User, req GenerationRequest) (*GenerationResult, error) {
	if !req.Action.Valid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, req.Action)
	}
	decision, err := s.quota.Check(ctx, user, req.Action)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		metrics.QuotaDenials.WithLabelValues(string(decision.Reason)).Inc()
		metrics.Actions.WithLabelValues(string(req.Action), metrics.OutcomeDenied).Inc()
		return nil, &DeniedError{Decision: decision}
	}

	prompt, err := workflow.ValidatePrompt(req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	full := prompt
	if req.UseHistory {
		full = withContext(s.history.Context(user.ID), prompt)
	}

	img, err := s.generator.Generate(ctx, imagegen.Request{Prompt: full, References: req.References})
	if err != nil {
		if errors.Is(err, imagegen.ErrNoImage) {
			metrics.Actions.WithLabelValues(string(req.Action), metrics.OutcomeRefused).Inc()
			s.log.Warn("generator returned no image", "user", user.ID, "action", req.Action)
			return nil, err
		}
		metrics.Actions.WithLabelValues(string(req.Action), metrics.OutcomeFailed).Inc()
		return nil, fmt.Errorf("generate image: %w", err)
	}

	if err := s.quota.Record(ctx, user.ID, req.Action); err != nil {
		s.log.Error("failed to record usage", "user", user.ID, "action", req.Action, "err", err)
	} else {
		decision.Used++
		if decision.HourlyCap > 0 {
			decision.HourlyUsed++
		}
		if decision.Remaining > 0 {
			decision.Remaining--
		}
	}
	metrics.Actions.WithLabelValues(string(req.Action), metrics.OutcomeSuccess).Inc()

	if _, err := s.media.Save(ctx, user.ID, req.Action, prompt, img); err != nil {
		s.log.Error("failed to archive image", "user", user.ID, "err", err)
	}
	s.history.Add(user.ID, prompt)
	s.notifier.Notify(notify.Event{
		Level: notify.LevelInfo,
		Title: actionTitle(req.Action),
		Text:  fmt.Sprintf("Пользователь %d (@%s)\nЗапрос: %s", user.ID, user.Username, prompt),
		Photo: img.Bytes,
	})

	return &GenerationResult{Image: img, Prompt: prompt, Decision: decision}, nil
}

func withContext(previous []string, prompt string) string {
	if len(previous) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString("Контекст предыдущих запросов:\n")
	for _, p := range previous {
		b.WriteString("- ")
		b.WriteString(p)
		b.WriteString("\n")
	}
	b.WriteString("\nТекущий запрос: ")
	b.WriteString(prompt)
	return b.String()
}

func actionTitle(a models.Action) string {
	if a == models.ActionEdit {
		return "Редактирование"
	}
	return "Генерация"
}
