package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/TGImageBot/internal/imagegen"
	"github.com/digkill/TGImageBot/internal/models"
)

const generatedPrefix = "generated"

type Uploader interface {
	Upload(ctx context.Context, prefix string, data []byte, contentType string) (string, error)
}

// MediaService archives generated images. Without an uploader only images
// that already carry a public URL are recorded.
type MediaService struct {
	uploader Uploader
	images   ImageStore
	log      *slog.Logger
	now      func() time.Time
}

func NewMediaService(uploader Uploader, images ImageStore, log *slog.Logger) *MediaService {
	return &MediaService{uploader: uploader, images: images, log: log, now: time.Now}
}

func (s *MediaService) Save(ctx context.Context, userID int64, action models.Action, prompt string, img *imagegen.Image) (*models.Image, error) {
	if img == nil {
		return nil, nil
	}
	url := img.URL
	if len(img.Bytes) > 0 && s.uploader != nil {
		uploaded, err := s.uploader.Upload(ctx, generatedPrefix, img.Bytes, img.MimeType)
		if err != nil {
			return nil, fmt.Errorf("upload image: %w", err)
		}
		url = uploaded
		img.URL = uploaded
	}
	if url == "" {
		return nil, nil
	}
	rec := &models.Image{
		ID:        uuid.NewString(),
		UserID:    userID,
		Action:    action,
		Prompt:    prompt,
		URL:       url,
		CreatedAt: s.now().UTC(),
	}
	if err := s.images.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert image: %w", err)
	}
	return rec, nil
}

func (s *MediaService) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Image, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.images.ListByUser(ctx, userID, limit)
}
