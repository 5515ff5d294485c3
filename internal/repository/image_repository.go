package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/TGImageBot/internal/models"
)

type ImageRepository struct {
	db *sql.DB
}

func NewImageRepository(db *sql.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

func (r *ImageRepository) Create(ctx context.Context, img *models.Image) error {
	const query = `INSERT INTO images (id, user_id, action, prompt, url, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, img.ID, img.UserID, img.Action, img.Prompt, img.URL, img.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	return nil
}

func (r *ImageRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Image, error) {
	const query = `
SELECT id, user_id, action, prompt, url, created_at FROM images
WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []models.Image
	for rows.Next() {
		var img models.Image
		if err := rows.Scan(&img.ID, &img.UserID, &img.Action, &img.Prompt, &img.URL, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}
