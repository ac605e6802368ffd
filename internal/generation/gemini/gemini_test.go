package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/generation"
)

type fakeImages struct {
	resp   *genai.GenerateImagesResponse
	err    error
	model  string
	prompt string
	config *genai.GenerateImagesConfig
}

func (f *fakeImages) GenerateImages(_ context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error) {
	f.model, f.prompt, f.config = model, prompt, config
	return f.resp, f.err
}

func TestGenerate_ReturnsBytes(t *testing.T) {
	api := &fakeImages{resp: &genai.GenerateImagesResponse{
		GeneratedImages: []*genai.GeneratedImage{
			{Image: &genai.Image{ImageBytes: []byte("png"), MIMEType: "image/png"}},
		},
	}}
	g := &Generator{api: api, model: DefaultModel}

	img, err := g.Generate(context.Background(), generation.Request{
		Prompt:         "sunset over mountains",
		NegativePrompt: "people",
		Width:          1920,
		Height:         1080,
	})

	require.NoError(t, err)
	assert.Equal(t, []byte("png"), img.Data)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, DefaultModel, api.model)
	assert.Equal(t, "sunset over mountains", api.prompt)
	assert.Equal(t, "people", api.config.NegativePrompt)
	assert.Equal(t, "16:9", api.config.AspectRatio)
}

func TestGenerate_Filtered(t *testing.T) {
	api := &fakeImages{resp: &genai.GenerateImagesResponse{
		GeneratedImages: []*genai.GeneratedImage{{RAIFilteredReason: "unsafe content"}},
	}}
	g := &Generator{api: api, model: DefaultModel}

	_, err := g.Generate(context.Background(), generation.Request{Prompt: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "unsafe content")
}

func TestGenerate_NoImages(t *testing.T) {
	g := &Generator{api: &fakeImages{resp: &genai.GenerateImagesResponse{}}, model: DefaultModel}

	_, err := g.Generate(context.Background(), generation.Request{Prompt: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGenerate_ErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"quota", genai.APIError{Code: 429, Message: "quota"}, domain.ErrTransient},
		{"unavailable", genai.APIError{Code: 503, Message: "down"}, domain.ErrTransient},
		{"bad key", genai.APIError{Code: 403, Message: "denied"}, domain.ErrConfiguration},
		{"bad request", genai.APIError{Code: 400, Message: "invalid"}, domain.ErrValidation},
		{"network", errors.New("connection reset"), domain.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &Generator{api: &fakeImages{err: tt.err}, model: DefaultModel}
			_, err := g.Generate(context.Background(), generation.Request{Prompt: "x"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(context.Background(), "", "")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestAspectRatio(t *testing.T) {
	assert.Equal(t, "1:1", aspectRatio(1024, 1024))
	assert.Equal(t, "16:9", aspectRatio(1920, 1080))
	assert.Equal(t, "9:16", aspectRatio(1080, 1920))
	assert.Equal(t, "4:3", aspectRatio(1024, 768))
	assert.Equal(t, "3:4", aspectRatio(768, 1024))
	assert.Equal(t, "1:1", aspectRatio(0, 0))
}
