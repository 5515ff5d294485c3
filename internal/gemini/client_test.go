package gemini

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"

	"github.com/digkill/TGImageBot/internal/imagegen"
)

type fakeModels struct {
	resp     *genai.GenerateContentResponse
	err      error
	gotParts int
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.gotParts = len(contents[0].Parts)
	return f.resp, f.err
}

func TestGenerate(t *testing.T) {
	imageResp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{
			{Text: "here you go"},
			{InlineData: &genai.Blob{Data: []byte{0x89, 'P', 'N', 'G'}, MIMEType: "image/png"}},
		}},
	}}}
	refusal := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: "I can't help with that"}}},
	}}}
	transport := errors.New("connection reset")

	tests := []struct {
		name    string
		fake    *fakeModels
		refs    []imagegen.Reference
		wantErr error
		parts   int
	}{
		{name: "image", fake: &fakeModels{resp: imageResp}, parts: 1},
		{name: "with references", fake: &fakeModels{resp: imageResp}, refs: []imagegen.Reference{{Data: []byte("a")}, {Data: []byte("b")}, {}}, parts: 3},
		{name: "refusal", fake: &fakeModels{resp: refusal}, wantErr: imagegen.ErrNoImage, parts: 1},
		{name: "no candidates", fake: &fakeModels{resp: &genai.GenerateContentResponse{}}, wantErr: imagegen.ErrNoImage, parts: 1},
		{name: "transport", fake: &fakeModels{err: transport}, wantErr: transport, parts: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Client{models: tt.fake, model: DefaultModel}
			img, err := c.Generate(context.Background(), imagegen.Request{Prompt: "a cat", References: tt.refs})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Generate() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && (img == nil || img.MimeType != "image/png" || len(img.Bytes) != 4) {
				t.Fatalf("Generate() image = %+v", img)
			}
			if tt.fake.gotParts != tt.parts {
				t.Fatalf("parts sent = %d, want %d", tt.fake.gotParts, tt.parts)
			}
		})
	}
}
