// Package gemini — генератор изображений на Imagen через Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"math"

	"google.golang.org/genai"

	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/generation"
	"github.com/shaiso/postmill/internal/httpx"
)

// DefaultModel — модель Imagen по умолчанию.
const DefaultModel = "imagen-3.0-generate-002"

// imagesAPI — часть genai.Models, которой пользуется генератор.
type imagesAPI interface {
	GenerateImages(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
}

// Generator реализует generation.Generator.
type Generator struct {
	api   imagesAPI
	model string
}

// New создаёт клиент Gemini API.
func New(ctx context.Context, apiKey, model string) (*Generator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key cannot be empty", domain.ErrConfiguration)
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create gemini client: %v", domain.ErrConfiguration, err)
	}

	return &Generator{api: client.Models, model: model}, nil
}

func (g *Generator) Name() string { return "gemini" }

// Generate запрашивает одно изображение и возвращает его байты.
func (g *Generator) Generate(ctx context.Context, req generation.Request) (*generation.Image, error) {
	resp, err := g.api.GenerateImages(ctx, g.model, req.Prompt, &genai.GenerateImagesConfig{
		NumberOfImages:   1,
		NegativePrompt:   req.NegativePrompt,
		AspectRatio:      aspectRatio(req.Width, req.Height),
		OutputMIMEType:   "image/png",
		IncludeRAIReason: true,
	})
	if err != nil {
		return nil, classify(err)
	}
	if resp == nil || len(resp.GeneratedImages) == 0 {
		return nil, fmt.Errorf("%w: no images generated", domain.ErrValidation)
	}

	out := resp.GeneratedImages[0]
	if out.Image == nil || len(out.Image.ImageBytes) == 0 {
		reason := "empty image"
		if out.RAIFilteredReason != "" {
			reason = "blocked: " + out.RAIFilteredReason
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, reason)
	}

	mimeType := out.Image.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}

	return &generation.Image{
		Data:     out.Image.ImageBytes,
		MIMEType: mimeType,
		Metadata: map[string]any{
			"model":           g.model,
			"style":           req.Style,
			"aspect_ratio":    aspectRatio(req.Width, req.Height),
			"quality":         req.Quality,
			"negative_prompt": req.NegativePrompt,
		},
	}, nil
}

// classify сводит ошибку genai к domain sentinels.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("gemini: %w", &httpx.StatusError{StatusCode: apiErr.Code, Body: apiErr.Message})
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return fmt.Errorf("gemini: %w", &httpx.StatusError{StatusCode: apiErrPtr.Code, Body: apiErrPtr.Message})
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: gemini: %w", domain.ErrTransient, err)
}

// Соотношения сторон, которые принимает Imagen.
var ratios = []struct {
	name  string
	value float64
}{
	{"1:1", 1},
	{"3:4", 3.0 / 4},
	{"4:3", 4.0 / 3},
	{"9:16", 9.0 / 16},
	{"16:9", 16.0 / 9},
}

// aspectRatio подбирает ближайшее поддерживаемое соотношение сторон.
func aspectRatio(w, h int) string {
	if w <= 0 || h <= 0 {
		return "1:1"
	}
	want := float64(w) / float64(h)
	best, bestDiff := ratios[0].name, math.Inf(1)
	for _, r := range ratios {
		if d := math.Abs(math.Log(want / r.value)); d < bestDiff {
			best, bestDiff = r.name, d
		}
	}
	return best
}
