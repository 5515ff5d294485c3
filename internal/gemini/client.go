// Package gemini generates and edits images with the Gemini API.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/digkill/TGImageBot/internal/imagegen"
)

const DefaultModel = "gemini-2.5-flash-image-preview"

// contentGenerator is the subset of genai.Models the client calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Client struct {
	models contentGenerator
	model  string
	log    *slog.Logger
}

func NewClient(ctx context.Context, apiKey, model string, log *slog.Logger) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{models: client.Models, model: model, log: log}, nil
}

func (c *Client) Generate(ctx context.Context, req imagegen.Request) (*imagegen.Image, error) {
	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	for _, ref := range req.References {
		if len(ref.Data) == 0 {
			continue
		}
		mime := ref.MimeType
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, genai.NewPartFromBytes(ref.Data, mime))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	config := &genai.GenerateContentConfig{ResponseModalities: []string{"TEXT", "IMAGE"}}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	img, text := firstImage(resp)
	if img == nil {
		if c.log != nil {
			c.log.Warn("gemini returned no image", "model", c.model, "text", truncate(text, 200))
		}
		return nil, imagegen.ErrNoImage
	}
	return img, nil
}

// firstImage returns the first inline image of any candidate along with
// whatever text the model produced.
func firstImage(resp *genai.GenerateContentResponse) (*imagegen.Image, string) {
	if resp == nil {
		return nil, ""
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				mime := part.InlineData.MIMEType
				if mime == "" {
					mime = "image/png"
				}
				return &imagegen.Image{Bytes: part.InlineData.Data, MimeType: mime}, text.String()
			}
			text.WriteString(part.Text)
		}
	}
	return nil, text.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
