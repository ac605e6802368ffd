// Package instagram публикует изображения через Instagram Graph API.
//
// Публикация в два шага: контейнер media, затем media_publish.
// После публикации запрашивается permalink; его отсутствие ошибкой не считается.
package instagram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/httpx"
	"github.com/shaiso/postmill/internal/platform"
)

// DefaultAPIURL — базовый адрес Graph API.
const DefaultAPIURL = "https://graph.instagram.com/v18.0"

// Publisher реализует platform.Publisher.
type Publisher struct {
	token  string
	apiURL string
	http   *http.Client
	logger *slog.Logger
}

// New создаёт Publisher. Пустой apiURL заменяется DefaultAPIURL.
func New(token, apiURL string, client *http.Client, logger *slog.Logger) *Publisher {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		token:  token,
		apiURL: strings.TrimRight(apiURL, "/"),
		http:   client,
		logger: logger.With("publisher", "instagram"),
	}
}

func (p *Publisher) Platform() domain.Platform { return domain.PlatformInstagram }

type idResponse struct {
	ID string `json:"id"`
}

// Publish создаёт контейнер и публикует его.
func (p *Publisher) Publish(ctx context.Context, c platform.Content) (*platform.Result, error) {
	if err := platform.Require(p.token, "instagram access token"); err != nil {
		return nil, err
	}
	if err := platform.Require(c.AccountID, "instagram business account"); err != nil {
		return nil, err
	}
	if c.ImageURL == "" {
		return nil, fmt.Errorf("%w: instagram requires an image", domain.ErrValidation)
	}

	var container idResponse
	err := httpx.DoJSON(ctx, p.http, httpx.Request{
		Method: http.MethodPost,
		URL:    p.apiURL + "/" + url.PathEscape(c.AccountID) + "/media",
		Form: url.Values{
			"image_url":    {c.ImageURL},
			"caption":      {c.Text},
			"access_token": {p.token},
		},
	}, &container)
	if err != nil {
		return nil, fmt.Errorf("create media container: %w", err)
	}
	if container.ID == "" {
		return nil, fmt.Errorf("%w: empty media container id", domain.ErrTransient)
	}

	var published idResponse
	err = httpx.DoJSON(ctx, p.http, httpx.Request{
		Method: http.MethodPost,
		URL:    p.apiURL + "/" + url.PathEscape(c.AccountID) + "/media_publish",
		Form: url.Values{
			"creation_id":  {container.ID},
			"access_token": {p.token},
		},
	}, &published)
	if err != nil {
		return nil, fmt.Errorf("publish media: %w", err)
	}
	if published.ID == "" {
		return nil, fmt.Errorf("%w: empty media id", domain.ErrTransient)
	}

	return &platform.Result{PostRef: published.ID, URL: p.permalink(ctx, published.ID)}, nil
}

func (p *Publisher) permalink(ctx context.Context, mediaID string) string {
	var media struct {
		Permalink string `json:"permalink"`
	}
	err := httpx.DoJSON(ctx, p.http, httpx.Request{
		URL:   p.apiURL + "/" + url.PathEscape(mediaID),
		Query: url.Values{"fields": {"permalink"}, "access_token": {p.token}},
	}, &media)
	if err != nil {
		p.logger.Warn("failed to fetch permalink", "media_id", mediaID, "error", err)
		return ""
	}
	return media.Permalink
}

// Analytics возвращает лайки, комментарии и insights публикации.
func (p *Publisher) Analytics(ctx context.Context, postRef string) (*domain.Metrics, error) {
	if err := platform.Require(p.token, "instagram access token"); err != nil {
		return nil, err
	}

	var media struct {
		LikeCount     int64 `json:"like_count"`
		CommentsCount int64 `json:"comments_count"`
	}
	err := httpx.DoJSON(ctx, p.http, httpx.Request{
		URL:   p.apiURL + "/" + url.PathEscape(postRef),
		Query: url.Values{"fields": {"like_count,comments_count"}, "access_token": {p.token}},
	}, &media)
	if err != nil {
		return nil, fmt.Errorf("fetch media counters: %w", err)
	}

	var insights platform.GraphInsights
	err = httpx.DoJSON(ctx, p.http, httpx.Request{
		URL:   p.apiURL + "/" + url.PathEscape(postRef) + "/insights",
		Query: url.Values{"metric": {"impressions,reach,shares,views"}, "access_token": {p.token}},
	}, &insights)
	if err != nil {
		return nil, fmt.Errorf("fetch media insights: %w", err)
	}

	raw := insights.Raw()
	raw["like_count"] = media.LikeCount
	raw["comments_count"] = media.CommentsCount

	return &domain.Metrics{
		Likes:       media.LikeCount,
		Comments:    media.CommentsCount,
		Shares:      insights.Value("shares"),
		Views:       insights.Value("views"),
		Reach:       insights.Value("reach"),
		Impressions: insights.Value("impressions"),
		Raw:         raw,
	}, nil
}
