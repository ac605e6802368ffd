// Package httpgen — клиент HTTP API генерации изображений в стиле Blackbox.
//
// POST {url} с JSON {prompt, width, height, steps, guidance_scale, negative_prompt}
// и заголовком Authorization: Bearer. Ответ содержит ссылку на изображение
// в одном из полей image_url, url или data.url.
package httpgen

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/generation"
	"github.com/shaiso/postmill/internal/httpx"
)

const (
	stepsStandard = 30
	stepsHD       = 50
	guidanceScale = 7.5
)

// Client реализует generation.Generator.
type Client struct {
	url    string
	apiKey string
	http   *http.Client
}

// New создаёт клиент. Таймаут запроса задаёт вызывающий через ctx.
func New(url, apiKey string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{url: url, apiKey: apiKey, http: client}
}

func (c *Client) Name() string { return "blackbox" }

type request struct {
	Prompt         string  `json:"prompt"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	GuidanceScale  float64 `json:"guidance_scale"`
	NegativePrompt *string `json:"negative_prompt"`
}

type response struct {
	ImageURL string `json:"image_url"`
	URL      string `json:"url"`
	Data     struct {
		URL string `json:"url"`
	} `json:"data"`
}

func (r response) imageURL() string {
	switch {
	case r.ImageURL != "":
		return r.ImageURL
	case r.URL != "":
		return r.URL
	default:
		return r.Data.URL
	}
}

// Generate вызывает API и возвращает ссылку на изображение.
func (c *Client) Generate(ctx context.Context, req generation.Request) (*generation.Image, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: generator api key is not set", domain.ErrConfiguration)
	}

	steps := stepsStandard
	if req.Quality == domain.QualityHD {
		steps = stepsHD
	}
	body := request{
		Prompt:        req.Prompt,
		Width:         req.Width,
		Height:        req.Height,
		Steps:         steps,
		GuidanceScale: guidanceScale,
	}
	if req.NegativePrompt != "" {
		body.NegativePrompt = &req.NegativePrompt
	}

	var resp response
	err := httpx.DoJSON(ctx, c.http, httpx.Request{
		Method:  http.MethodPost,
		URL:     c.url,
		Headers: map[string]string{"Authorization": "Bearer " + c.apiKey},
		Body:    body,
	}, &resp)
	if err != nil {
		return nil, err
	}

	url := resp.imageURL()
	if url == "" {
		return nil, fmt.Errorf("%w: no image url in response", domain.ErrTransient)
	}

	return &generation.Image{
		URL: url,
		Metadata: map[string]any{
			"model":           "blackbox-ai",
			"style":           req.Style,
			"width":           req.Width,
			"height":          req.Height,
			"quality":         req.Quality,
			"steps":           steps,
			"guidance_scale":  guidanceScale,
			"negative_prompt": req.NegativePrompt,
		},
	}, nil
}
