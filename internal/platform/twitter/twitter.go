// Package twitter публикует посты через Twitter API v2.
package twitter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/httpx"
	"github.com/shaiso/postmill/internal/platform"
)

const (
	// DefaultAPIURL — базовый адрес API v2.
	DefaultAPIURL = "https://api.twitter.com/2"

	// MaxTweetLength — предел длины текста в символах.
	MaxTweetLength = 280
)

// Publisher реализует platform.Publisher.
type Publisher struct {
	token  string
	apiURL string
	http   *http.Client
}

// New создаёт Publisher с bearer-токеном пользователя.
func New(token, apiURL string, client *http.Client) *Publisher {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Publisher{token: token, apiURL: strings.TrimRight(apiURL, "/"), http: client}
}

func (p *Publisher) Platform() domain.Platform { return domain.PlatformTwitter }

func (p *Publisher) auth() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.token}
}

// Publish публикует текст. Изображение в твит не загружается:
// media upload требует OAuth 1.0a, которого у адаптера нет.
func (p *Publisher) Publish(ctx context.Context, c platform.Content) (*platform.Result, error) {
	if err := platform.Require(p.token, "twitter bearer token"); err != nil {
		return nil, err
	}
	if err := platform.Require(c.AccountID, "twitter username"); err != nil {
		return nil, err
	}
	if n := utf8.RuneCountInString(c.Text); n > MaxTweetLength {
		return nil, fmt.Errorf("%w: tweet is %d characters, limit %d", domain.ErrValidation, n, MaxTweetLength)
	}

	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	err := httpx.DoJSON(ctx, p.http, httpx.Request{
		Method:  http.MethodPost,
		URL:     p.apiURL + "/tweets",
		Headers: p.auth(),
		Body:    map[string]string{"text": c.Text},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("create tweet: %w", err)
	}
	if resp.Data.ID == "" {
		return nil, fmt.Errorf("%w: empty tweet id", domain.ErrTransient)
	}

	username := strings.TrimPrefix(c.AccountID, "@")
	return &platform.Result{
		PostRef: resp.Data.ID,
		URL:     "https://twitter.com/" + url.PathEscape(username) + "/status/" + resp.Data.ID,
	}, nil
}

// Analytics возвращает public_metrics твита.
func (p *Publisher) Analytics(ctx context.Context, postRef string) (*domain.Metrics, error) {
	if err := platform.Require(p.token, "twitter bearer token"); err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			PublicMetrics struct {
				LikeCount       int64 `json:"like_count"`
				ReplyCount      int64 `json:"reply_count"`
				RetweetCount    int64 `json:"retweet_count"`
				QuoteCount      int64 `json:"quote_count"`
				ImpressionCount int64 `json:"impression_count"`
			} `json:"public_metrics"`
		} `json:"data"`
	}
	err := httpx.DoJSON(ctx, p.http, httpx.Request{
		URL:     p.apiURL + "/tweets/" + url.PathEscape(postRef),
		Query:   url.Values{"tweet.fields": {"public_metrics"}},
		Headers: p.auth(),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("fetch tweet metrics: %w", err)
	}

	pm := resp.Data.PublicMetrics
	return &domain.Metrics{
		Likes:       pm.LikeCount,
		Comments:    pm.ReplyCount,
		Shares:      pm.RetweetCount + pm.QuoteCount,
		Views:       pm.ImpressionCount,
		Impressions: pm.ImpressionCount,
		Raw: map[string]any{
			"like_count":       pm.LikeCount,
			"reply_count":      pm.ReplyCount,
			"retweet_count":    pm.RetweetCount,
			"quote_count":      pm.QuoteCount,
			"impression_count": pm.ImpressionCount,
		},
	}, nil
}
