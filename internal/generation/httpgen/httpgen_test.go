package httpgen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/generation"
)

func TestGenerate_RequestAndResponseShapes(t *testing.T) {
	tests := []struct {
		name      string
		quality   string
		negative  string
		reply     string
		wantSteps float64
		wantURL   string
	}{
		{"image_url", domain.QualityStandard, "", `{"image_url":"https://a/1.png"}`, 30, "https://a/1.png"},
		{"url", domain.QualityHD, "blurry", `{"url":"https://a/2.png"}`, 50, "https://a/2.png"},
		{"data.url", domain.QualityStandard, "", `{"data":{"url":"https://a/3.png"}}`, 30, "https://a/3.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				_, _ = w.Write([]byte(tt.reply))
			}))
			defer server.Close()

			c := New(server.URL, "key", server.Client())
			img, err := c.Generate(context.Background(), generation.Request{
				Prompt:         "sunset over mountains, photorealistic",
				NegativePrompt: tt.negative,
				Width:          1024,
				Height:         768,
				Quality:        tt.quality,
			})

			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, img.URL)
			assert.Equal(t, "sunset over mountains, photorealistic", got["prompt"])
			assert.Equal(t, tt.wantSteps, got["steps"])
			assert.Equal(t, 7.5, got["guidance_scale"])
			assert.Equal(t, float64(768), got["height"])
			if tt.negative == "" {
				assert.Nil(t, got["negative_prompt"])
			} else {
				assert.Equal(t, tt.negative, got["negative_prompt"])
			}
		})
	}
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"overloaded", http.StatusServiceUnavailable, `{}`, domain.ErrTransient},
		{"rate limited", http.StatusTooManyRequests, `{}`, domain.ErrTransient},
		{"bad key", http.StatusUnauthorized, `{}`, domain.ErrConfiguration},
		{"bad prompt", http.StatusBadRequest, `{"error":"nsfw"}`, domain.ErrValidation},
		{"no url", http.StatusOK, `{"status":"queued"}`, domain.ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := New(server.URL, "key", server.Client()).Generate(context.Background(), generation.Request{Prompt: "x"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGenerate_MissingKey(t *testing.T) {
	_, err := New("http://unused", "", nil).Generate(context.Background(), generation.Request{Prompt: "x"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
