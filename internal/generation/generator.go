package generation

import (
	"context"

	"github.com/shaiso/postmill/internal/domain"
)

// Request — запрос к генератору.
type Request struct {
	// Prompt — текст с суффиксом стиля.
	Prompt         string
	NegativePrompt string
	Style          string
	Width          int
	Height         int
	Quality        string
}

// NewRequest собирает запрос из параметров задания.
func NewRequest(p domain.Prompt) Request {
	p = p.WithDefaults()
	return Request{
		Prompt:         p.Styled(),
		NegativePrompt: p.NegativePrompt,
		Style:          p.Style,
		Width:          p.Width,
		Height:         p.Height,
		Quality:        p.Quality,
	}
}

// Image — результат генерации. Заполнено либо Data, либо URL.
type Image struct {
	URL      string
	Data     []byte
	MIMEType string
	Metadata map[string]any
}

// Generator — внешний сервис генерации изображений.
//
// Ошибки классифицируются через domain sentinels: ErrValidation для
// отклонённого промпта, ErrConfiguration для неверного ключа,
// ErrTransient для сетевых сбоев и перегрузки.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Image, error)
}
