package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/shaiso/postmill/internal/domain"
)

// GenerationRequest — параметры нового задания генерации.
type GenerationRequest struct {
	Prompt         string `json:"prompt" validate:"required,max=1000"`
	NegativePrompt string `json:"negative_prompt,omitempty" validate:"max=1000"`
	Style          string `json:"style,omitempty" validate:"omitempty,oneof=realistic artistic cartoon abstract vintage minimalist anime digital_art"`
	Width          int    `json:"width,omitempty" validate:"omitempty,min=256,max=2048"`
	Height         int    `json:"height,omitempty" validate:"omitempty,min=256,max=2048"`
	Quality        string `json:"quality,omitempty" validate:"omitempty,oneof=standard hd"`
}

func (r GenerationRequest) prompt() domain.Prompt {
	return domain.Prompt{
		Text:           strings.TrimSpace(r.Prompt),
		NegativePrompt: r.NegativePrompt,
		Style:          r.Style,
		Width:          r.Width,
		Height:         r.Height,
		Quality:        r.Quality,
	}.WithDefaults()
}

// ScheduleRequest — публикация готового артефакта в заданное время.
type ScheduleRequest struct {
	ArtifactID  uuid.UUID `json:"artifact_id" validate:"required"`
	Platform    string    `json:"platform" validate:"required"`
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
	Caption     string    `json:"caption" validate:"max=2200"`
	Hashtags    string    `json:"hashtags,omitempty" validate:"max=500"`
}

// ReviewRequest — решение человека по сгенерированному изображению.
type ReviewRequest struct {
	Notes string `json:"notes,omitempty" validate:"max=1000"`
}

// AccountRequest — привязка аккаунта платформы.
type AccountRequest struct {
	AccountID string `json:"account_id" validate:"required,max=255"`
}

// Stats — сводка по владельцу.
type Stats struct {
	Jobs              map[domain.JobState]int  `json:"jobs"`
	Posts             map[domain.PostState]int `json:"posts"`
	Platforms         map[domain.Platform]int  `json:"platforms"`
	AverageEngagement float64                  `json:"average_engagement"`
}

// NewValidator создаёт validator, который называет поля по json-тегам.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validate проверяет struct-теги и сводит ошибки validator к domain.ErrValidation.
func validate(v *validator.Validate, req any) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
