package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/TGImageBot/internal/imagegen"
)

const (
	Model              = "nano-banana-pro"
	defaultPollEvery   = 2 * time.Second
	defaultMaxAttempts = 60
	referencePrefix    = "references"
)

// Uploader publishes reference images so the API can fetch them by URL.
type Uploader interface {
	Upload(ctx context.Context, prefix string, data []byte, contentType string) (string, error)
}

type Config struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	PollEvery   time.Duration
	MaxAttempts int
}

type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	uploader    Uploader
	pollEvery   time.Duration
	maxAttempts int
	log         *slog.Logger
}

func NewClient(cfg Config, uploader Uploader, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	pollEvery := cfg.PollEvery
	if pollEvery <= 0 {
		pollEvery = defaultPollEvery
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
		uploader:    uploader,
		pollEvery:   pollEvery,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

func (c *Client) Generate(ctx context.Context, req imagegen.Request) (*imagegen.Image, error) {
	urls := make([]string, 0, len(req.References))
	for _, ref := range req.References {
		if ref.URL != "" {
			urls = append(urls, ref.URL)
			continue
		}
		if len(ref.Data) == 0 {
			continue
		}
		if c.uploader == nil {
			return nil, fmt.Errorf("kie: reference upload not configured")
		}
		u, err := c.uploader.Upload(ctx, referencePrefix, ref.Data, ref.MimeType)
		if err != nil {
			return nil, fmt.Errorf("upload reference: %w", err)
		}
		urls = append(urls, u)
	}

	input := map[string]any{
		"prompt":        req.Prompt,
		"aspect_ratio":  "1:1",
		"resolution":    "1K",
		"output_format": "png",
	}
	if len(urls) > 0 {
		input["image_input"] = urls
	}

	// Задача асинхронная: создаём и опрашиваем до готовности.
	taskID, err := c.createTask(ctx, map[string]any{"model": Model, "input": input})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return c.pollTaskStatus(ctx, taskID)
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if query != nil {
		ref.RawQuery = query.Encode()
	}
	return base.ResolveReference(ref).String(), nil
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, fullURL string, body []byte) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s kie: %w", strings.ToLower(method), err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("KIE request failed", "status", resp.StatusCode, "url", fullURL, "body", truncateBody(rawBody))
		}
		return nil, fmt.Errorf("kie error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var env envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if env.Code != http.StatusOK {
		return nil, fmt.Errorf("kie api error: code=%d msg=%s", env.Code, env.Msg)
	}
	return env.Data, nil
}

func (c *Client) createTask(ctx context.Context, payload map[string]any) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/createTask", nil)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	raw, err := c.do(ctx, http.MethodPost, fullURL, body)
	if err != nil {
		return "", err
	}
	var data struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("decode task: %w", err)
	}
	if data.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response")
	}
	if c.log != nil {
		c.log.Info("KIE task created", "task_id", data.TaskID)
	}
	return data.TaskID, nil
}

func (c *Client) pollTaskStatus(ctx context.Context, taskID string) (*imagegen.Image, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/recordInfo", url.Values{"taskId": {taskID}})
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		raw, err := c.do(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("get task status: %w", err)
		}
		var status struct {
			State      string `json:"state"`
			ResultJSON string `json:"resultJson"`
			FailCode   string `json:"failCode"`
			FailMsg    string `json:"failMsg"`
		}
		if err := json.Unmarshal(raw, &status); err != nil {
			return nil, fmt.Errorf("decode status: %w", err)
		}

		switch status.State {
		case "success":
			var result struct {
				ResultURLs []string `json:"resultUrls"`
			}
			if status.ResultJSON != "" {
				if err := json.Unmarshal([]byte(status.ResultJSON), &result); err != nil {
					return nil, fmt.Errorf("parse resultJson: %w", err)
				}
			}
			if len(result.ResultURLs) == 0 {
				return nil, imagegen.ErrNoImage
			}
			if c.log != nil {
				c.log.Info("KIE task completed", "task_id", taskID, "attempt", attempt+1)
			}
			return &imagegen.Image{URL: result.ResultURLs[0], MimeType: "image/png"}, nil

		case "fail":
			if c.log != nil {
				c.log.Warn("KIE task failed", "task_id", taskID, "fail_code", status.FailCode, "fail_msg", status.FailMsg)
			}
			return nil, fmt.Errorf("task %s: %s: %w", taskID, status.FailMsg, imagegen.ErrNoImage)

		case "waiting", "generating", "processing", "queued", "queueing":
			if c.log != nil && attempt%10 == 0 {
				c.log.Info("KIE task waiting", "task_id", taskID, "attempt", attempt+1, "max_attempts", c.maxAttempts)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.pollEvery):
			}

		default:
			return nil, fmt.Errorf("unknown task state: %s", status.State)
		}
	}
	return nil, fmt.Errorf("task timeout after %d attempts", c.maxAttempts)
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
