package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/postmill/internal/domain"
)

// JobResponse — задание генерации.
type JobResponse struct {
	ID              uuid.UUID       `json:"id"`
	State           domain.JobState `json:"state"`
	Prompt          domain.Prompt   `json:"prompt"`
	AttemptCount    int             `json:"attempt_count"`
	LastError       string          `json:"last_error,omitempty"`
	ResultRef       string          `json:"result_ref,omitempty"`
	ThumbnailRef    string          `json:"thumbnail_ref,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	GenerationMS    int64           `json:"generation_ms,omitempty"`
	ValidationNotes string          `json:"validation_notes,omitempty"`
	ValidatedAt     *time.Time      `json:"validated_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// JobFromDomain конвертирует domain.GenerationJob в JobResponse.
func JobFromDomain(j domain.GenerationJob) JobResponse {
	return JobResponse{
		ID:              j.ID,
		State:           j.State,
		Prompt:          j.Prompt,
		AttemptCount:    j.AttemptCount,
		LastError:       j.LastError,
		ResultRef:       j.ResultRef,
		ThumbnailRef:    j.ThumbnailRef,
		Metadata:        j.Metadata,
		GenerationMS:    j.GenerationTime.Milliseconds(),
		ValidationNotes: j.ValidationNotes,
		ValidatedAt:     j.ValidatedAt,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}

// PostResponse — запланированная публикация.
type PostResponse struct {
	ID           uuid.UUID        `json:"id"`
	ArtifactID   uuid.UUID        `json:"artifact_id"`
	Platform     domain.Platform  `json:"platform"`
	ScheduledAt  time.Time        `json:"scheduled_at"`
	Caption      string           `json:"caption"`
	Hashtags     string           `json:"hashtags,omitempty"`
	State        domain.PostState `json:"state"`
	AttemptCount int              `json:"attempt_count"`
	LastError    string           `json:"last_error,omitempty"`
	PostRef      string           `json:"platform_post_ref,omitempty"`
	PostURL      string           `json:"platform_post_url,omitempty"`
	PostedAt     *time.Time       `json:"posted_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// PostFromDomain конвертирует domain.ScheduledPost в PostResponse.
func PostFromDomain(p domain.ScheduledPost) PostResponse {
	return PostResponse{
		ID:           p.ID,
		ArtifactID:   p.ArtifactID,
		Platform:     p.Platform,
		ScheduledAt:  p.ScheduledAt,
		Caption:      p.Caption,
		Hashtags:     p.Hashtags,
		State:        p.State,
		AttemptCount: p.AttemptCount,
		LastError:    p.LastError,
		PostRef:      p.PlatformPostRef,
		PostURL:      p.PlatformPostURL,
		PostedAt:     p.PostedAt,
		CreatedAt:    p.CreatedAt,
	}
}

// CancelResponse — результат отмены.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}
