package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Стили и качество генерации.
const (
	StyleRealistic  = "realistic"
	StyleArtistic   = "artistic"
	StyleCartoon    = "cartoon"
	StyleAbstract   = "abstract"
	StyleVintage    = "vintage"
	StyleMinimalist = "minimalist"
	StyleAnime      = "anime"
	StyleDigitalArt = "digital_art"

	QualityStandard = "standard"
	QualityHD       = "hd"

	DefaultImageSize = 1024
)

// styleSuffixes дописываются к промпту, чтобы задать стиль.
var styleSuffixes = map[string]string{
	StyleRealistic:  "photorealistic, high quality, detailed, 8k resolution",
	StyleArtistic:   "artistic, creative, expressive, masterpiece",
	StyleCartoon:    "cartoon style, animated, colorful, vibrant",
	StyleAbstract:   "abstract art, modern, conceptual, unique",
	StyleVintage:    "vintage style, retro, classic, nostalgic",
	StyleMinimalist: "minimalist, simple, clean design, elegant",
	StyleAnime:      "anime style, manga, japanese animation",
	StyleDigitalArt: "digital art, concept art, trending on artstation",
}

// Prompt — параметры генерации.
type Prompt struct {
	Text           string `json:"text"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Style          string `json:"style"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Quality        string `json:"quality"`
}

// WithDefaults заполняет пустые поля значениями по умолчанию.
func (p Prompt) WithDefaults() Prompt {
	if p.Style == "" {
		p.Style = StyleRealistic
	}
	if p.Width == 0 {
		p.Width = DefaultImageSize
	}
	if p.Height == 0 {
		p.Height = DefaultImageSize
	}
	if p.Quality == "" {
		p.Quality = QualityStandard
	}
	return p
}

// Styled возвращает текст промпта с суффиксом стиля.
// Неизвестный стиль промпт не меняет.
func (p Prompt) Styled() string {
	if suffix, ok := styleSuffixes[p.Style]; ok {
		return p.Text + ", " + suffix
	}
	return p.Text
}

// GenerationJob — задание на генерацию изображения.
//
// Создаётся по запросу пользователя, дальше меняется только пайплайном
// генерации и явной проверкой человеком (validate/reject).
// Reaper удаляет FAILED/REJECTED задания после срока хранения.
type GenerationJob struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"owner_id"`
	Prompt  Prompt    `json:"prompt"`
	State   JobState  `json:"state"`

	// AttemptCount — сколько попыток генерации уже начато.
	AttemptCount int `json:"attempt_count"`

	// LastError — текст последней ошибки (остаётся после успеха для истории).
	LastError string `json:"last_error,omitempty"`

	// ResultRef — ссылка на изображение в blob store.
	// Заполняется только при переходе в GENERATED.
	ResultRef    string `json:"result_ref,omitempty"`
	ThumbnailRef string `json:"thumbnail_ref,omitempty"`

	// SourceURL — адрес, который вернул генератор (если вернул).
	SourceURL string `json:"source_url,omitempty"`

	Metadata       map[string]any `json:"metadata,omitempty"`
	GenerationTime time.Duration  `json:"generation_time"`

	ValidationNotes string     `json:"validation_notes,omitempty"`
	ValidatedAt     *time.Time `json:"validated_at,omitempty"`

	// NextAttemptAt — когда задание снова можно брать в работу.
	// Nil для заданий, где генерация закончена.
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewGenerationJob создаёт задание в PENDING, готовое к немедленной отправке.
func NewGenerationJob(owner uuid.UUID, prompt Prompt, now time.Time) *GenerationJob {
	return &GenerationJob{
		ID:            uuid.New(),
		OwnerID:       owner,
		Prompt:        prompt.WithDefaults(),
		State:         JobPending,
		NextAttemptAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsReady возвращает true, если изображение можно публиковать.
func (j *GenerationJob) IsReady() bool {
	return j.State.IsReady() && j.ResultRef != ""
}

// ArtifactKey — детерминированный ключ изображения в blob store.
// Повторная попытка перезаписывает тот же объект, а не плодит новый.
func (j *GenerationJob) ArtifactKey(ext string) string {
	return fmt.Sprintf("generated/%s/%s.%s", j.CreatedAt.UTC().Format("2006/01/02"), j.ID, ext)
}

// ThumbnailKey — детерминированный ключ миниатюры.
func (j *GenerationJob) ThumbnailKey() string {
	return fmt.Sprintf("thumbnails/%s/%s.jpg", j.CreatedAt.UTC().Format("2006/01/02"), j.ID)
}

// GenerationResult — то, что пайплайн записывает при переходе в GENERATED.
type GenerationResult struct {
	ResultRef    string
	ThumbnailRef string
	SourceURL    string
	Metadata     map[string]any
	Duration     time.Duration
}
