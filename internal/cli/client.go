package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ownerHeader совпадает с заголовком, который проверяет API.
const ownerHeader = "X-Owner-ID"

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// PromptResponse — параметры генерации.
type PromptResponse struct {
	Text           string `json:"text"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Style          string `json:"style"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Quality        string `json:"quality"`
}

// JobResponse — задание генерации из API.
type JobResponse struct {
	ID              string         `json:"id"`
	State           string         `json:"state"`
	Prompt          PromptResponse `json:"prompt"`
	AttemptCount    int            `json:"attempt_count"`
	LastError       string         `json:"last_error,omitempty"`
	ResultRef       string         `json:"result_ref,omitempty"`
	ThumbnailRef    string         `json:"thumbnail_ref,omitempty"`
	GenerationMS    int64          `json:"generation_ms,omitempty"`
	ValidationNotes string         `json:"validation_notes,omitempty"`
	CreatedAt       string         `json:"created_at"`
}

// PostResponse — запланированный пост из API.
type PostResponse struct {
	ID           string `json:"id"`
	ArtifactID   string `json:"artifact_id"`
	Platform     string `json:"platform"`
	ScheduledAt  string `json:"scheduled_at"`
	Caption      string `json:"caption"`
	Hashtags     string `json:"hashtags,omitempty"`
	State        string `json:"state"`
	AttemptCount int    `json:"attempt_count"`
	LastError    string `json:"last_error,omitempty"`
	PostRef      string `json:"platform_post_ref,omitempty"`
	PostURL      string `json:"platform_post_url,omitempty"`
	PostedAt     string `json:"posted_at,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// AnalyticsResponse — метрики поста из API.
type AnalyticsResponse struct {
	PostID         string  `json:"post_id"`
	Likes          int64   `json:"likes"`
	Comments       int64   `json:"comments"`
	Shares         int64   `json:"shares"`
	Views          int64   `json:"views"`
	Reach          int64   `json:"reach"`
	Impressions    int64   `json:"impressions"`
	EngagementRate float64 `json:"engagement_rate"`
	LastSyncedAt   string  `json:"last_synced_at,omitempty"`
}

// AccountResponse — привязанный аккаунт платформы.
type AccountResponse struct {
	Platform  string `json:"platform"`
	AccountID string `json:"account_id"`
}

// StatsResponse — сводка владельца.
type StatsResponse struct {
	Jobs              map[string]int `json:"jobs"`
	Posts             map[string]int `json:"posts"`
	Platforms         map[string]int `json:"platforms"`
	AverageEngagement float64        `json:"average_engagement"`
}

// --- Request types ---

// SubmitJobRequest — новое задание генерации.
type SubmitJobRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Style          string `json:"style,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	Quality        string `json:"quality,omitempty"`
}

// SchedulePostRequest — планирование публикации.
type SchedulePostRequest struct {
	ArtifactID  string    `json:"artifact_id"`
	Platform    string    `json:"platform"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Caption     string    `json:"caption,omitempty"`
	Hashtags    string    `json:"hashtags,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ошибка, которую вернул сервер.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для Postmill API.
type Client struct {
	baseURL    string
	owner      string
	httpClient *http.Client
}

// NewClient создаёт клиент для API от имени владельца owner.
func NewClient(baseURL, owner string) *Client {
	return &Client{
		baseURL: baseURL,
		owner:   owner,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Jobs ---

// SubmitJob создаёт задание генерации.
func (c *Client) SubmitJob(ctx context.Context, req SubmitJobRequest) (*JobResponse, error) {
	var job JobResponse
	err := c.doData(ctx, http.MethodPost, "/api/v1/jobs", req, &job)
	return &job, err
}

// GetJob возвращает задание по ID.
func (c *Client) GetJob(ctx context.Context, id string) (*JobResponse, error) {
	var job JobResponse
	err := c.doData(ctx, http.MethodGet, "/api/v1/jobs/"+id, nil, &job)
	return &job, err
}

// ListJobs возвращает задания владельца.
func (c *Client) ListJobs(ctx context.Context, limit int) ([]JobResponse, error) {
	var jobs []JobResponse
	err := c.list(ctx, "/api/v1/jobs", limitParams(limit), &jobs)
	return jobs, err
}

// ValidateJob одобряет изображение.
func (c *Client) ValidateJob(ctx context.Context, id, notes string) (*JobResponse, error) {
	return c.review(ctx, id, "validate", notes)
}

// RejectJob отклоняет изображение.
func (c *Client) RejectJob(ctx context.Context, id, notes string) (*JobResponse, error) {
	return c.review(ctx, id, "reject", notes)
}

func (c *Client) review(ctx context.Context, id, action, notes string) (*JobResponse, error) {
	var body any
	if notes != "" {
		body = map[string]string{"notes": notes}
	}
	var job JobResponse
	err := c.doData(ctx, http.MethodPost, "/api/v1/jobs/"+id+"/"+action, body, &job)
	return &job, err
}

// --- Posts ---

// SchedulePost планирует публикацию.
func (c *Client) SchedulePost(ctx context.Context, req SchedulePostRequest) (*PostResponse, error) {
	var post PostResponse
	err := c.doData(ctx, http.MethodPost, "/api/v1/posts", req, &post)
	return &post, err
}

// GetPost возвращает пост по ID.
func (c *Client) GetPost(ctx context.Context, id string) (*PostResponse, error) {
	var post PostResponse
	err := c.doData(ctx, http.MethodGet, "/api/v1/posts/"+id, nil, &post)
	return &post, err
}

// ListPosts возвращает посты владельца.
func (c *Client) ListPosts(ctx context.Context, limit int) ([]PostResponse, error) {
	var posts []PostResponse
	err := c.list(ctx, "/api/v1/posts", limitParams(limit), &posts)
	return posts, err
}

// CancelPost отменяет пост. false — пост уже в работе или завершён.
func (c *Client) CancelPost(ctx context.Context, id string) (bool, error) {
	var resp struct {
		Cancelled bool `json:"cancelled"`
	}
	err := c.doData(ctx, http.MethodPost, "/api/v1/posts/"+id+"/cancel", nil, &resp)
	return resp.Cancelled, err
}

// PublishNow публикует пост немедленно.
func (c *Client) PublishNow(ctx context.Context, id string) (*PostResponse, error) {
	var post PostResponse
	err := c.doData(ctx, http.MethodPost, "/api/v1/posts/"+id+"/publish", nil, &post)
	return &post, err
}

// GetAnalytics возвращает метрики поста.
func (c *Client) GetAnalytics(ctx context.Context, id string) (*AnalyticsResponse, error) {
	var rec AnalyticsResponse
	err := c.doData(ctx, http.MethodGet, "/api/v1/posts/"+id+"/analytics", nil, &rec)
	return &rec, err
}

// SyncAnalytics ставит синхронизацию метрик в очередь.
func (c *Client) SyncAnalytics(ctx context.Context, id string) error {
	return c.doData(ctx, http.MethodPost, "/api/v1/posts/"+id+"/analytics/sync", nil, nil)
}

// --- Accounts & stats ---

// LinkAccount привязывает аккаунт платформы.
func (c *Client) LinkAccount(ctx context.Context, platform, accountID string) (*AccountResponse, error) {
	var acc AccountResponse
	body := map[string]string{"account_id": accountID}
	err := c.doData(ctx, http.MethodPut, "/api/v1/accounts/"+url.PathEscape(platform), body, &acc)
	return &acc, err
}

// Stats возвращает сводку владельца.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var stats StatsResponse
	err := c.doData(ctx, http.MethodGet, "/api/v1/stats", nil, &stats)
	return &stats, err
}

// --- HTTP helpers ---

func limitParams(limit int) url.Values {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	return params
}

func (c *Client) list(ctx context.Context, path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(ctx context.Context, method, path string, body any, result any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}

	// 202 от sync и 204 приходят без тела
	if result == nil {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(dr.Data, result)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.owner != "" {
		req.Header.Set(ownerHeader, c.owner)
	}

	return c.httpClient.Do(req)
}

func checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
