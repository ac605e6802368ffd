package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxCaptionLength — предел длины подписи в символах.
const MaxCaptionLength = 2200

// ScheduledPost — публикация артефакта на платформе в заданное время.
type ScheduledPost struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"owner_id"`

	// ArtifactID — задание генерации, чьё изображение публикуется.
	ArtifactID uuid.UUID `json:"artifact_id"`

	Platform    Platform  `json:"platform"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Caption     string    `json:"caption"`
	Hashtags    string    `json:"hashtags,omitempty"`

	State        PostState `json:"state"`
	AttemptCount int       `json:"attempt_count"`
	LastError    string    `json:"last_error,omitempty"`

	// PlatformPostRef и PlatformPostURL заполняются только при переходе в POSTED.
	PlatformPostRef string     `json:"platform_post_ref,omitempty"`
	PlatformPostURL string     `json:"platform_post_url,omitempty"`
	PostedAt        *time.Time `json:"posted_at,omitempty"`

	// NextAttemptAt — когда захваченный пост снова можно брать в работу.
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewScheduledPost создаёт пост в SCHEDULED.
func NewScheduledPost(owner, artifact uuid.UUID, platform Platform, at time.Time, caption, hashtags string, now time.Time) *ScheduledPost {
	return &ScheduledPost{
		ID:          uuid.New(),
		OwnerID:     owner,
		ArtifactID:  artifact,
		Platform:    platform,
		ScheduledAt: at.UTC(),
		Caption:     caption,
		Hashtags:    NormalizeHashtags(hashtags),
		State:       PostScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsDue возвращает true, если время публикации наступило.
func (p *ScheduledPost) IsDue(now time.Time) bool {
	return p.State == PostScheduled && !p.ScheduledAt.After(now)
}

// Content собирает итоговый текст поста.
func (p *ScheduledPost) Content() string {
	return ComposeContent(p.Caption, p.Hashtags)
}

// ComposeContent склеивает тело и блок хэштегов через пустую строку.
func ComposeContent(caption, hashtags string) string {
	tags := NormalizeHashtags(hashtags)
	if tags == "" {
		return caption
	}
	if caption == "" {
		return tags
	}
	return caption + "\n\n" + tags
}

// NormalizeHashtags разбивает строку по пробелам и запятым, добавляет '#'
// и убирает повторы (без учёта регистра), сохраняя порядок.
func NormalizeHashtags(raw string) string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})

	seen := make(map[string]struct{}, len(fields))
	tags := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimLeft(f, "#")
		if f == "" {
			continue
		}
		key := strings.ToLower(f)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		tags = append(tags, "#"+f)
	}
	return strings.Join(tags, " ")
}

// CaptionTooLong проверяет предел длины подписи.
func CaptionTooLong(caption string) bool {
	return utf8.RuneCountInString(caption) > MaxCaptionLength
}
