package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/postmill/internal/blob"
	"github.com/shaiso/postmill/internal/clock"
	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/executor"
	"github.com/shaiso/postmill/internal/generation"
	"github.com/shaiso/postmill/internal/repo/memstore"
	"github.com/shaiso/postmill/internal/telemetry"
)

var t0 = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

// --- Registry ---

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(domain.TaskPublish, func(context.Context, uuid.UUID) error { return nil })
	r.Register(domain.TaskGenerate, func(context.Context, uuid.UUID) error { return nil })

	assert.Equal(t, []domain.TaskKind{domain.TaskGenerate, domain.TaskPublish}, r.Kinds())

	_, err := r.Get(domain.TaskPublish)
	assert.NoError(t, err)

	_, err = r.Get(domain.TaskSyncAnalytics)
	assert.ErrorIs(t, err, ErrUnknownTaskKind)
}

// --- Dispatch ---

func TestDispatch_RoutesByKind(t *testing.T) {
	var got []uuid.UUID
	r := NewRegistry()
	r.Register(domain.TaskPublish, func(_ context.Context, id uuid.UUID) error {
		got = append(got, id)
		return nil
	})
	w := New(Config{Registry: r, Logger: telemetry.Discard()})

	id := uuid.New()
	require.NoError(t, w.Dispatch(context.Background(), domain.TaskRef{Kind: domain.TaskPublish, EntityID: id}))
	assert.Equal(t, []uuid.UUID{id}, got)
}

func TestDispatch_UnknownKindIsDropped(t *testing.T) {
	w := New(Config{Logger: telemetry.Discard()})

	err := w.Dispatch(context.Background(), domain.TaskRef{Kind: "resize", EntityID: uuid.New()})
	assert.NoError(t, err)
}

func TestDispatch_PropagatesHandlerError(t *testing.T) {
	boom := errors.New("database is down")
	r := NewRegistry()
	r.Register(domain.TaskGenerate, func(context.Context, uuid.UUID) error { return boom })
	w := New(Config{Registry: r, Logger: telemetry.Discard()})

	err := w.Dispatch(context.Background(), domain.TaskRef{Kind: domain.TaskGenerate, EntityID: uuid.New()})
	assert.ErrorIs(t, err, boom)
}

func TestDispatch_RecoversPanic(t *testing.T) {
	r := NewRegistry()
	r.Register(domain.TaskGenerate, func(context.Context, uuid.UUID) error { panic("nil map") })
	w := New(Config{Registry: r, Logger: telemetry.Discard()})
	task := domain.TaskRef{Kind: domain.TaskGenerate, EntityID: uuid.New()}

	err := w.Dispatch(context.Background(), task)
	assert.ErrorIs(t, err, ErrTaskPanicked)

	// После паники задача не остаётся занятой.
	assert.False(t, w.isActive(task))
}

func TestDispatch_SkipsTaskAlreadyInProgress(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32

	r := NewRegistry()
	r.Register(domain.TaskPublish, func(context.Context, uuid.UUID) error {
		calls.Add(1)
		close(entered)
		<-release
		return nil
	})
	w := New(Config{Registry: r, Logger: telemetry.Discard()})
	task := domain.TaskRef{Kind: domain.TaskPublish, EntityID: uuid.New()}

	done := make(chan error, 1)
	go func() { done <- w.Dispatch(context.Background(), task) }()
	<-entered

	assert.NoError(t, w.Dispatch(context.Background(), task))
	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, int32(1), calls.Load())
}

// --- Poll ---

type fakeJobs []domain.GenerationJob

func (f fakeJobs) ListDispatchable(context.Context, time.Time, int) ([]domain.GenerationJob, error) {
	return f, nil
}

type fakePosts []domain.ScheduledPost

func (f fakePosts) ListDispatchable(context.Context, time.Time, int) ([]domain.ScheduledPost, error) {
	return f, nil
}

func TestPoll_DispatchesWithinConcurrencyLimit(t *testing.T) {
	const limit = 2

	var running, peak atomic.Int32
	var mu sync.Mutex
	seen := make(map[domain.TaskRef]bool)

	handler := func(kind domain.TaskKind) Handler {
		return func(_ context.Context, id uuid.UUID) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)

			mu.Lock()
			seen[domain.TaskRef{Kind: kind, EntityID: id}] = true
			mu.Unlock()
			return nil
		}
	}

	r := NewRegistry()
	r.Register(domain.TaskGenerate, handler(domain.TaskGenerate))
	r.Register(domain.TaskPublish, handler(domain.TaskPublish))

	jobs := make(fakeJobs, 3)
	posts := make(fakePosts, 3)
	for i := range jobs {
		jobs[i].ID = uuid.New()
		posts[i].ID = uuid.New()
	}

	w := New(Config{
		Registry:    r,
		Jobs:        jobs,
		Posts:       posts,
		Concurrency: limit,
		Logger:      telemetry.Discard(),
	})

	started := w.Poll(context.Background())
	w.Wait()

	assert.Equal(t, 6, started)
	assert.Len(t, seen, 6)
	assert.LessOrEqual(t, peak.Load(), int32(limit))
	for _, j := range jobs {
		assert.True(t, seen[domain.TaskRef{Kind: domain.TaskGenerate, EntityID: j.ID}])
	}
}

func TestPoll_NothingDue(t *testing.T) {
	w := New(Config{Jobs: fakeJobs{}, Posts: fakePosts{}, Logger: telemetry.Discard()})
	assert.Zero(t, w.Poll(context.Background()))
}

// --- Handlers ---

type fakeSyncer struct{ err error }

func (f fakeSyncer) SyncPost(context.Context, uuid.UUID) (*domain.PlatformAnalytics, error) {
	return &domain.PlatformAnalytics{}, f.err
}

func TestAnalyticsHandler(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"synced", nil, false},
		{"post not posted", fmt.Errorf("%w: post is SCHEDULED", domain.ErrValidation), false},
		{"post gone", domain.ErrNotFound, false},
		{"platform down", fmt.Errorf("%w: HTTP 503", domain.ErrTransient), true},
		{"shutdown", context.Canceled, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := AnalyticsHandler(fakeSyncer{err: tt.err}, telemetry.Discard())
			err := h(context.Background(), uuid.New())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// --- Poll fallback end to end ---

type stubGenerator struct{ calls atomic.Int32 }

func (g *stubGenerator) Name() string { return "stub" }

func (g *stubGenerator) Generate(context.Context, generation.Request) (*generation.Image, error) {
	g.calls.Add(1)
	return &generation.Image{Data: []byte("not really a png"), MIMEType: "image/png"}, nil
}

func TestPoll_RecoversPendingJobWithoutBroker(t *testing.T) {
	ctx := context.Background()
	c := clock.NewFake(t0)
	store := memstore.New(c)
	gen := &stubGenerator{}

	job := domain.NewGenerationJob(uuid.New(), domain.Prompt{Text: "sunset over mountains"}, t0)
	require.NoError(t, store.Jobs().Create(ctx, job))

	pipeline := generation.NewPipeline(generation.Config{
		Jobs:      store.Jobs(),
		Generator: gen,
		Blobs:     blob.NewMemoryStore(),
		Executor:  executor.New(executor.Config{Clock: c, Logger: telemetry.Discard()}),
		Clock:     c,
		Logger:    telemetry.Discard(),
	})

	r := NewRegistry()
	r.Register(domain.TaskGenerate, PipelineHandler(pipeline))
	w := New(Config{Registry: r, Jobs: store.Jobs(), Clock: c, Logger: telemetry.Discard()})

	assert.Equal(t, 1, w.Poll(ctx))
	w.Wait()

	got, err := store.Jobs().GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobGenerated, got.State)
	assert.Nil(t, got.NextAttemptAt)

	// Завершённое задание polling больше не видит.
	assert.Zero(t, w.Poll(ctx))
	assert.Equal(t, int32(1), gen.calls.Load())
}
