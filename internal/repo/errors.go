package repo

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/postmill/internal/domain"
)

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	// Оборачивает domain.ErrNotFound, чтобы сервисный слой проверял одно значение.
	ErrNotFound = fmt.Errorf("record %w", domain.ErrNotFound)
)

// Cursor — позиция keyset-пагинации: (время, id) последней строки страницы.
// Нулевой Cursor означает начало выборки.
type Cursor struct {
	At time.Time
	ID uuid.UUID
}

// IsZero возвращает true для курсора начала выборки.
func (c Cursor) IsZero() bool {
	return c.At.IsZero() && c.ID == uuid.Nil
}

// After сравнивает позицию (at, id) с курсором.
func (c Cursor) After(at time.Time, id uuid.UUID) bool {
	if c.IsZero() {
		return true
	}
	if at.Equal(c.At) {
		return bytes.Compare(id[:], c.ID[:]) > 0
	}
	return at.After(c.At)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
