package domain

import (
	"time"

	"github.com/google/uuid"
)

// Metrics — счётчики вовлечённости, которые отдаёт платформа.
type Metrics struct {
	Likes       int64          `json:"likes"`
	Comments    int64          `json:"comments"`
	Shares      int64          `json:"shares"`
	Views       int64          `json:"views"`
	Reach       int64          `json:"reach"`
	Impressions int64          `json:"impressions"`
	Raw         map[string]any `json:"raw,omitempty"`
}

// EngagementRate = (likes + comments + shares) / impressions * 100.
// Без показов ставка равна нулю.
func (m Metrics) EngagementRate() float64 {
	if m.Impressions <= 0 {
		return 0
	}
	return float64(m.Likes+m.Comments+m.Shares) / float64(m.Impressions) * 100
}

// PlatformAnalytics — снимок метрик опубликованного поста (один к одному).
type PlatformAnalytics struct {
	PostID uuid.UUID `json:"post_id"`

	Likes       int64 `json:"likes"`
	Comments    int64 `json:"comments"`
	Shares      int64 `json:"shares"`
	Views       int64 `json:"views"`
	Reach       int64 `json:"reach"`
	Impressions int64 `json:"impressions"`

	EngagementRate float64        `json:"engagement_rate"`
	Raw            map[string]any `json:"raw,omitempty"`

	// LastSyncedAt — nil у пустой заготовки, которая ещё ни разу не синхронизировалась.
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NewAnalyticsPlaceholder создаёт пустую запись метрик для только что опубликованного поста.
func NewAnalyticsPlaceholder(postID uuid.UUID, now time.Time) *PlatformAnalytics {
	return &PlatformAnalytics{PostID: postID, CreatedAt: now}
}

// Apply переносит свежие метрики и пересчитывает engagement rate.
func (a *PlatformAnalytics) Apply(m Metrics, now time.Time) {
	a.Likes = m.Likes
	a.Comments = m.Comments
	a.Shares = m.Shares
	a.Views = m.Views
	a.Reach = m.Reach
	a.Impressions = m.Impressions
	a.Raw = m.Raw
	a.EngagementRate = m.EngagementRate()
	a.LastSyncedAt = &now
}
