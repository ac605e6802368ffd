// Package platform описывает публикацию во внешние социальные сети.
//
// Publisher — адаптер одной платформы. Registry сопоставляет
// domain.Platform с адаптером; платформа без адаптера даёт
// domain.ErrConfiguration, и пост сразу уходит в FAILED.
//
// Адаптеры проверяют свои предусловия (токен, аккаунт, длину текста)
// до любого сетевого вызова.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/postmill/internal/domain"
)

// ErrNotRegistered — для платформы нет адаптера.
var ErrNotRegistered = fmt.Errorf("%w: platform publisher not registered", domain.ErrConfiguration)

// Content — то, что публикуется.
type Content struct {
	PostID uuid.UUID

	// AccountID — аккаунт владельца на платформе
	// (Instagram business account, Facebook page, Twitter username).
	AccountID string

	Text     string
	ImageURL string
}

// Result — ссылка на опубликованный пост.
type Result struct {
	PostRef string
	URL     string
}

// Publisher — адаптер платформы.
type Publisher interface {
	Platform() domain.Platform
	Publish(ctx context.Context, c Content) (*Result, error)
	Analytics(ctx context.Context, postRef string) (*domain.Metrics, error)
}

// Registry — реестр адаптеров по платформе. Потокобезопасен.
type Registry struct {
	mu         sync.RWMutex
	publishers map[domain.Platform]Publisher
}

// NewRegistry создаёт реестр с переданными адаптерами.
func NewRegistry(publishers ...Publisher) *Registry {
	r := &Registry{publishers: make(map[domain.Platform]Publisher)}
	for _, p := range publishers {
		r.Register(p)
	}
	return r
}

// Register регистрирует адаптер. Адаптер той же платформы перезаписывается.
func (r *Registry) Register(p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishers[p.Platform()] = p
}

// Get возвращает адаптер платформы или ErrNotRegistered.
func (r *Registry) Get(platform domain.Platform) (Publisher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.publishers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, platform)
	}
	return p, nil
}

// Platforms возвращает отсортированный список зарегистрированных платформ.
func (r *Registry) Platforms() []domain.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Platform, 0, len(r.publishers))
	for p := range r.publishers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Require возвращает ErrConfiguration с описанием, если value пусто.
func Require(value, what string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is not configured", domain.ErrConfiguration, what)
	}
	return nil
}

// IsNotRegistered проверяет, что ошибка — отсутствие адаптера.
func IsNotRegistered(err error) bool {
	return errors.Is(err, ErrNotRegistered)
}
