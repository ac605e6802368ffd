// Package platformtest — адаптер платформы для тестов.
package platformtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/platform"
)

// Publisher записывает вызовы и возвращает ошибки из очереди Errors.
type Publisher struct {
	mu sync.Mutex

	platform domain.Platform

	// Errors возвращаются по одной на каждый Publish; пустая очередь — успех.
	Errors []error

	// Metrics возвращаются из Analytics. AnalyticsErr имеет приоритет.
	Metrics      domain.Metrics
	AnalyticsErr error

	published []platform.Content
	analytics []string
}

// New создаёт Publisher для платформы.
func New(p domain.Platform) *Publisher {
	return &Publisher{platform: p}
}

func (p *Publisher) Platform() domain.Platform { return p.platform }

func (p *Publisher) Publish(_ context.Context, c platform.Content) (*platform.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.published = append(p.published, c)
	if len(p.Errors) > 0 {
		err := p.Errors[0]
		p.Errors = p.Errors[1:]
		if err != nil {
			return nil, err
		}
	}

	ref := fmt.Sprintf("%s-%d", p.platform, len(p.published))
	return &platform.Result{PostRef: ref, URL: "https://example.test/" + ref}, nil
}

func (p *Publisher) Analytics(_ context.Context, postRef string) (*domain.Metrics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.analytics = append(p.analytics, postRef)
	if p.AnalyticsErr != nil {
		return nil, p.AnalyticsErr
	}
	m := p.Metrics
	return &m, nil
}

// Published возвращает копию опубликованного.
func (p *Publisher) Published() []platform.Content {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]platform.Content(nil), p.published...)
}

// AnalyticsCalls возвращает ссылки, по которым запрашивалась аналитика.
func (p *Publisher) AnalyticsCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.analytics...)
}
