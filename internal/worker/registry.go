package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/postmill/internal/domain"
)

// Handler исполняет задачу над сущностью id.
//
// nil — задача доведена до исхода (успех, повтор назначен, провал
// записан или делать нечего). Ошибка — исход не записан, задачу
// нужно доставить снова.
type Handler func(ctx context.Context, id uuid.UUID) error

// Registry — обработчики по виду задачи.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.TaskKind]Handler
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.TaskKind]Handler)}
}

// Register добавляет обработчик. Повторная регистрация заменяет прежний.
func (r *Registry) Register(kind domain.TaskKind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Get возвращает обработчик вида задачи.
func (r *Registry) Get(kind domain.TaskKind) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskKind, kind)
	}
	return h, nil
}

// Kinds возвращает зарегистрированные виды задач по алфавиту.
func (r *Registry) Kinds() []domain.TaskKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]domain.TaskKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
