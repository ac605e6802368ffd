// Package facebook публикует фото на страницу через Facebook Graph API.
package facebook

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/httpx"
	"github.com/shaiso/postmill/internal/platform"
)

// DefaultAPIURL — базовый адрес Graph API.
const DefaultAPIURL = "https://graph.facebook.com/v18.0"

// Publisher реализует platform.Publisher.
type Publisher struct {
	token  string
	apiURL string
	http   *http.Client
}

// New создаёт Publisher. token — page access token.
func New(token, apiURL string, client *http.Client) *Publisher {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Publisher{token: token, apiURL: strings.TrimRight(apiURL, "/"), http: client}
}

func (p *Publisher) Platform() domain.Platform { return domain.PlatformFacebook }

// Publish публикует фото с подписью. Без изображения — текстовый пост в ленту.
func (p *Publisher) Publish(ctx context.Context, c platform.Content) (*platform.Result, error) {
	if err := platform.Require(p.token, "facebook page access token"); err != nil {
		return nil, err
	}
	if err := platform.Require(c.AccountID, "facebook page id"); err != nil {
		return nil, err
	}

	page := url.PathEscape(c.AccountID)
	req := httpx.Request{Method: http.MethodPost}
	if c.ImageURL != "" {
		req.URL = p.apiURL + "/" + page + "/photos"
		req.Form = url.Values{"url": {c.ImageURL}, "caption": {c.Text}, "access_token": {p.token}}
	} else {
		req.URL = p.apiURL + "/" + page + "/feed"
		req.Form = url.Values{"message": {c.Text}, "access_token": {p.token}}
	}

	var resp struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if err := httpx.DoJSON(ctx, p.http, req, &resp); err != nil {
		return nil, fmt.Errorf("publish to page: %w", err)
	}

	ref := resp.PostID
	if ref == "" {
		ref = resp.ID
	}
	if ref == "" {
		return nil, fmt.Errorf("%w: empty post id", domain.ErrTransient)
	}

	return &platform.Result{PostRef: ref, URL: "https://www.facebook.com/" + ref}, nil
}

type summary struct {
	Summary struct {
		TotalCount int64 `json:"total_count"`
	} `json:"summary"`
}

// Analytics возвращает реакции и insights поста.
func (p *Publisher) Analytics(ctx context.Context, postRef string) (*domain.Metrics, error) {
	if err := platform.Require(p.token, "facebook page access token"); err != nil {
		return nil, err
	}

	var post struct {
		Likes    summary `json:"likes"`
		Comments summary `json:"comments"`
		Shares   struct {
			Count int64 `json:"count"`
		} `json:"shares"`
	}
	err := httpx.DoJSON(ctx, p.http, httpx.Request{
		URL: p.apiURL + "/" + url.PathEscape(postRef),
		Query: url.Values{
			"fields":       {"likes.summary(true).limit(0),comments.summary(true).limit(0),shares"},
			"access_token": {p.token},
		},
	}, &post)
	if err != nil {
		return nil, fmt.Errorf("fetch post counters: %w", err)
	}

	var insights platform.GraphInsights
	err = httpx.DoJSON(ctx, p.http, httpx.Request{
		URL: p.apiURL + "/" + url.PathEscape(postRef) + "/insights",
		Query: url.Values{
			"metric":       {"post_impressions,post_impressions_unique,post_video_views"},
			"access_token": {p.token},
		},
	}, &insights)
	if err != nil {
		return nil, fmt.Errorf("fetch post insights: %w", err)
	}

	raw := insights.Raw()
	raw["likes"] = post.Likes.Summary.TotalCount
	raw["comments"] = post.Comments.Summary.TotalCount
	raw["shares"] = post.Shares.Count

	return &domain.Metrics{
		Likes:       post.Likes.Summary.TotalCount,
		Comments:    post.Comments.Summary.TotalCount,
		Shares:      post.Shares.Count,
		Views:       insights.Value("post_video_views"),
		Reach:       insights.Value("post_impressions_unique"),
		Impressions: insights.Value("post_impressions"),
		Raw:         raw,
	}, nil
}
