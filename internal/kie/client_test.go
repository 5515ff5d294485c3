package kie

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/digkill/TGImageBot/internal/imagegen"
)

type fakeUploader struct{ calls int }

func (f *fakeUploader) Upload(_ context.Context, prefix string, _ []byte, _ string) (string, error) {
	f.calls++
	return "https://cdn.example.com/" + prefix + "/ref.jpg", nil
}

func newTestServer(t *testing.T, states []string, result string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var polls atomic.Int32
	var created map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/v1/jobs/createTask":
			json.NewDecoder(r.Body).Decode(&created)
			json.NewEncoder(w).Encode(map[string]any{"code": 200, "data": map[string]any{"taskId": "task-1"}})
		case "/api/v1/jobs/recordInfo":
			if r.URL.Query().Get("taskId") != "task-1" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			i := int(polls.Add(1)) - 1
			if i >= len(states) {
				i = len(states) - 1
			}
			json.NewEncoder(w).Encode(map[string]any{"code": 200, "data": map[string]any{
				"state": states[i], "resultJson": result, "failMsg": "nsfw",
			}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &created
}

func TestGenerateSuccess(t *testing.T) {
	srv, created := newTestServer(t, []string{"waiting", "generating", "success"}, `{"resultUrls":["https://out/1.png"]}`)
	up := &fakeUploader{}
	c := NewClient(Config{APIKey: "secret", BaseURL: srv.URL, PollEvery: time.Millisecond}, up, nil)

	img, err := c.Generate(context.Background(), imagegen.Request{
		Prompt:     "a robot",
		References: []imagegen.Reference{{Data: []byte("jpeg"), MimeType: "image/jpeg"}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if img.URL != "https://out/1.png" {
		t.Fatalf("URL = %q", img.URL)
	}
	if up.calls != 1 {
		t.Fatalf("uploads = %d, want 1", up.calls)
	}
	input, _ := (*created)["input"].(map[string]any)
	if refs, _ := input["image_input"].([]any); len(refs) != 1 {
		t.Fatalf("image_input = %v, want one url", input["image_input"])
	}
	if (*created)["model"] != Model {
		t.Fatalf("model = %v, want %s", (*created)["model"], Model)
	}
}

func TestGenerateFailureIsNoImage(t *testing.T) {
	srv, _ := newTestServer(t, []string{"fail"}, "")
	c := NewClient(Config{APIKey: "secret", BaseURL: srv.URL, PollEvery: time.Millisecond}, nil, nil)
	_, err := c.Generate(context.Background(), imagegen.Request{Prompt: "x"})
	if !errors.Is(err, imagegen.ErrNoImage) {
		t.Fatalf("Generate() error = %v, want ErrNoImage", err)
	}
}

func TestGenerateTimeout(t *testing.T) {
	srv, _ := newTestServer(t, []string{"queued"}, "")
	c := NewClient(Config{APIKey: "secret", BaseURL: srv.URL, PollEvery: time.Millisecond, MaxAttempts: 3}, nil, nil)
	_, err := c.Generate(context.Background(), imagegen.Request{Prompt: "x"})
	if err == nil || errors.Is(err, imagegen.ErrNoImage) {
		t.Fatalf("Generate() error = %v, want transient timeout", err)
	}
}

func TestGenerateUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t, []string{"success"}, "")
	c := NewClient(Config{APIKey: "wrong", BaseURL: srv.URL}, nil, nil)
	if _, err := c.Generate(context.Background(), imagegen.Request{Prompt: "x"}); err == nil {
		t.Fatalf("Generate() error = nil, want status error")
	}
}
