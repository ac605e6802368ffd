// Package clock отделяет компоненты от системного времени.
//
// Периодические задачи (poller, analytics sync, reaper) получают Clock
// через конфиг, поэтому в тестах время можно двигать вручную.
package clock

import (
	"sync"
	"time"
)

// Clock возвращает текущее время.
type Clock interface {
	Now() time.Time
}

// Real — системные часы (UTC).
type Real struct{}

// Now возвращает time.Now() в UTC.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fake — ручные часы для тестов. Безопасны для конкурентного использования.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake создаёт часы, остановленные на t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set переставляет часы.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance сдвигает часы вперёд на d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// OrReal возвращает c, а если он nil — системные часы.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real{}
	}
	return c
}
