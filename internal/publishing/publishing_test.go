package publishing

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
	"github.com/shaiso/postmill/internal/platform"
	"github.com/shaiso/postmill/internal/platform/platformtest"
	"github.com/shaiso/postmill/internal/repo/memstore"
	"github.com/shaiso/postmill/internal/telemetry"
)

var t0 = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

type recordingTrigger struct {
	mu   sync.Mutex
	refs []domain.TaskRef
	err  error
}

func (r *recordingTrigger) Enqueue(_ context.Context, ref domain.TaskRef, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs = append(r.refs, ref)
	return r.err
}

type fixture struct {
	clock   *clock.Fake
	store   *memstore.Store
	pub     *platformtest.Publisher
	trigger *recordingTrigger
	disp    *Dispatcher
	pipe    *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:   clock.NewFake(t0),
		pub:     platformtest.New(domain.PlatformInstagram),
		trigger: &recordingTrigger{},
	}
	f.store = memstore.New(f.clock)
	logger := telemetry.Discard()
	f.disp = NewDispatcher(f.store.Posts(), f.trigger, f.clock, logger)
	f.pipe = f.pipeline(f.pub)
	return f
}

// pipeline создаёт ещё один пайплайн (второй воркер) над тем же хранилищем.
func (f *fixture) pipeline(pub platform.Publisher) *Pipeline {
	return NewPipeline(Config{
		Posts:     f.store.Posts(),
		Jobs:      f.store.Jobs(),
		Accounts:  f.store.Accounts(),
		Analytics: f.store.Analytics(),
		Registry:  platform.NewRegistry(pub),
		Blobs:     blob.NewMemoryStore(),
		Clock:     f.clock,
		Logger:    telemetry.Discard(),
	})
}

// gatedPublisher задерживает первый Publish до закрытия release.
type gatedPublisher struct {
	*platformtest.Publisher
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newGatedPublisher(inner *platformtest.Publisher) *gatedPublisher {
	return &gatedPublisher{
		Publisher: inner,
		started:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (g *gatedPublisher) Publish(ctx context.Context, c platform.Content) (*platform.Result, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
		<-g.release
	}
	return g.Publisher.Publish(ctx, c)
}

type runResult struct {
	outcome executor.Outcome
	err     error
}

// runInBackground запускает pipe.Run и ждёт, пока попытка дойдёт до Publish.
func runInBackground(pipe *Pipeline, gate *gatedPublisher, id uuid.UUID) <-chan runResult {
	done := make(chan runResult, 1)
	go func() {
		outcome, err := pipe.Run(context.Background(), id)
		done <- runResult{outcome, err}
	}()
	<-gate.started
	return done
}

// seed создаёт готовый артефакт и пост на платформе p.
func (f *fixture) seed(t *testing.T, p domain.Platform) *domain.ScheduledPost {
	t.Helper()
	ctx := context.Background()

	job := domain.NewGenerationJob(uuid.New(), domain.Prompt{Text: "sunset"}, t0)
	job.State = domain.JobGenerated
	job.ResultRef = job.ArtifactKey("png")
	require.NoError(t, f.store.Jobs().Create(ctx, job))
	require.NoError(t, f.store.Accounts().Link(ctx, domain.LinkedAccount{
		OwnerID: job.OwnerID, Platform: p, AccountID: "acct-1",
	}))

	post := domain.NewScheduledPost(job.OwnerID, job.ID, p, t0, "Golden hour", "sun, #mountains", t0)
	require.NoError(t, f.store.Posts().Create(ctx, post))
	return post
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *domain.ScheduledPost {
	t.Helper()
	post, err := f.store.Posts().GetByID(context.Background(), id)
	require.NoError(t, err)
	return post
}

func TestClaimAndDispatch_Exclusive(t *testing.T) {
	f := newFixture(t)
	post := f.seed(t, domain.PlatformInstagram)

	const n = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := f.disp.ClaimAndDispatch(context.Background(), post.ID, domain.PostScheduled)
			assert.NoError(t, err)
			if won {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, []domain.TaskRef{{Kind: domain.TaskPublish, EntityID: post.ID}}, f.trigger.refs)
	assert.Equal(t, domain.PostProcessing, f.get(t, post.ID).State)
}

func TestClaimAndDispatch_EnqueueFailureKeepsClaim(t *testing.T) {
	f := newFixture(t)
	f.trigger.err = errors.New("broker down")
	post := f.seed(t, domain.PlatformInstagram)

	won, err := f.disp.ClaimAndDispatch(context.Background(), post.ID, domain.PostScheduled)

	require.NoError(t, err)
	assert.True(t, won)
	got := f.get(t, post.ID)
	assert.Equal(t, domain.PostProcessing, got.State)
	require.NotNil(t, got.NextAttemptAt)
	assert.Equal(t, t0, *got.NextAttemptAt)
}

func TestClaimAndDispatch_FromProcessingIsInvalid(t *testing.T) {
	f := newFixture(t)
	post := f.seed(t, domain.PlatformInstagram)

	_, err := f.disp.ClaimAndDispatch(context.Background(), post.ID, domain.PostProcessing)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestPipeline_Success(t *testing.T) {
	f := newFixture(t)
	post := f.seed(t, domain.PlatformInstagram)
	ctx := context.Background()

	_, err := f.disp.ClaimAndDispatch(ctx, post.ID, domain.PostScheduled)
	require.NoError(t, err)

	outcome, err := f.pipe.Run(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeSucceeded, outcome)

	got := f.get(t, post.ID)
	assert.Equal(t, domain.PostPosted, got.State)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, "instagram-1", got.PlatformPostRef)
	assert.Equal(t, "https://example.test/instagram-1", got.PlatformPostURL)
	require.NotNil(t, got.PostedAt)
	assert.Equal(t, t0, *got.PostedAt)
	assert.Nil(t, got.NextAttemptAt)

	published := f.pub.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "Golden hour\n\n#sun #mountains", published[0].Text)
	assert.Equal(t, "acct-1", published[0].AccountID)
	assert.Contains(t, published[0].ImageURL, "generated/2026/05/10/")

	placeholder, err := f.store.Analytics().GetByPostID(ctx, post.ID)
	require.NoError(t, err)
	assert.Zero(t, placeholder.Impressions)
	assert.Nil(t, placeholder.LastSyncedAt)
}

func TestPipeline_UnregisteredPlatformFailsImmediately(t *testing.T) {
	f := newFixture(t)
	post := f.seed(t, domain.PlatformLinkedIn)
	ctx := context.Background()

	_, err := f.disp.ClaimAndDispatch(ctx, post.ID, domain.PostScheduled)
	require.NoError(t, err)

	outcome, err := f.pipe.Run(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeFailed, outcome)

	got := f.get(t, post.ID)
	assert.Equal(t, domain.PostFailed, got.State)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Contains(t, got.LastError, "not registered")
	assert.Empty(t, got.PlatformPostRef)
}

func TestPipeline_TransientThenSuccess(t *testing.T) {
	f := newFixture(t)
	f.pub.Errors = []error{fmt.Errorf("%w: HTTP 503", domain.ErrTransient)}
	post := f.seed(t, domain.PlatformInstagram)
	ctx := context.Background()

	_, err := f.disp.ClaimAndDispatch(ctx, post.ID, domain.PostScheduled)
	require.NoError(t, err)

	outcome, err := f.pipe.Run(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeRetrying, outcome)

	got := f.get(t, post.ID)
	assert.Equal(t, domain.PostProcessing, got.State)
	assert.Contains(t, got.LastError, "HTTP 503")
	require.NotNil(t, got.NextAttemptAt)
	assert.Equal(t, t0.Add(300*time.Second), *got.NextAttemptAt)

	f.clock.Advance(300 * time.Second)
	outcome, err = f.pipe.Run(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeSucceeded, outcome)
	assert.Equal(t, 2, f.get(t, post.ID).AttemptCount)
}

func TestPipeline_Exhaustion(t *testing.T) {
	f := newFixture(t)
	boom := fmt.Errorf("%w: connection refused", domain.ErrTransient)
	f.pub.Errors = []error{boom, boom, boom}
	post := f.seed(t, domain.PlatformInstagram)
	ctx := context.Background()

	_, err := f.disp.ClaimAndDispatch(ctx, post.ID, domain.PostScheduled)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.pipe.Run(ctx, post.ID)
		require.NoError(t, err)
		f.clock.Advance(300 * time.Second)
	}

	got := f.get(t, post.ID)
	assert.Equal(t, domain.PostFailed, got.State)
	assert.Equal(t, executor.PublishPolicy.MaxAttempts, got.AttemptCount)
	assert.Contains(t, got.LastError, "connection refused")

	// Повторная отправка из FAILED сбрасывает счётчик.
	won, err := f.disp.ClaimAndDispatch(ctx, post.ID, domain.PostFailed)
	require.NoError(t, err)
	require.True(t, won)

	outcome, err := f.pipe.Run(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeSucceeded, outcome)
	assert.Equal(t, 1, f.get(t, post.ID).AttemptCount)
}

func TestPipeline_ResumeAfterPostedIsNoop(t *testing.T) {
	f := newFixture(t)
	post := f.seed(t, domain.PlatformInstagram)
	ctx := context.Background()

	_, err := f.disp.ClaimAndDispatch(ctx, post.ID, domain.PostScheduled)
	require.NoError(t, err)
	_, err = f.pipe.Run(ctx, post.ID)
	require.NoError(t, err)

	outcome, err := f.pipe.Run(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeSkipped, outcome)
	assert.Len(t, f.pub.Published(), 1)
}

func TestPipeline_ScheduledPostIsNotPublished(t *testing.T) {
	f := newFixture(t)
	post := f.seed(t, domain.PlatformInstagram)

	outcome, err := f.pipe.Run(context.Background(), post.ID)

	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeSkipped, outcome)
	assert.Empty(t, f.pub.Published())
	assert.Equal(t, domain.PostScheduled, f.get(t, post.ID).State)
}

func TestPipeline_ArtifactNotReadyIsFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := domain.NewGenerationJob(uuid.New(), domain.Prompt{Text: "x"}, t0)
	require.NoError(t, f.store.Jobs().Create(ctx, job))
	post := domain.NewScheduledPost(job.OwnerID, job.ID, domain.PlatformInstagram, t0, "c", "", t0)
	require.NoError(t, f.store.Posts().Create(ctx, post))

	_, err := f.disp.ClaimAndDispatch(ctx, post.ID, domain.PostScheduled)
	require.NoError(t, err)

	outcome, err := f.pipe.Run(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeFailed, outcome)
	assert.Contains(t, f.get(t, post.ID).LastError, "PENDING")
	assert.Empty(t, f.pub.Published())
}

func TestPipeline_DuplicateDeliveryDuringAttempt(t *testing.T) {
	f := newFixture(t)
	post := f.seed(t, domain.PlatformInstagram)
	ctx := context.Background()

	_, err := f.disp.ClaimAndDispatch(ctx, post.ID, domain.PostScheduled)
	require.NoError(t, err)

	gate := newGatedPublisher(f.pub)
	first := f.pipeline(gate)
	second := f.pipeline(gate)

	done := runInBackground(first, gate, post.ID)

	// Та же задача пришла второй раз (poll + очередь), попытка 1 ещё идёт.
	f.clock.Advance(time.Second)
	outcome, err := second.Run(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeSkipped, outcome)
	assert.Equal(t, int32(1), gate.calls.Load())
	assert.Equal(t, 1, f.get(t, post.ID).AttemptCount)

	close(gate.release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, executor.OutcomeSucceeded, res.outcome)

	got := f.get(t, post.ID)
	assert.Equal(t, domain.PostPosted, got.State)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Len(t, f.pub.Published(), 1)
}

func TestPipeline_FinalAttemptInFlightIsNotAbandoned(t *testing.T) {
	f := newFixture(t)
	boom := fmt.Errorf("%w: HTTP 502", domain.ErrTransient)
	f.pub.Errors = []error{boom, boom}
	post := f.seed(t, domain.PlatformInstagram)
	ctx := context.Background()

	_, err := f.disp.ClaimAndDispatch(ctx, post.ID, domain.PostScheduled)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		outcome, err := f.pipe.Run(ctx, post.ID)
		require.NoError(t, err)
		require.Equal(t, executor.OutcomeRetrying, outcome)
		f.clock.Advance(300 * time.Second)
	}

	gate := newGatedPublisher(f.pub)
	done := runInBackground(f.pipeline(gate), gate, post.ID)

	// Попытка 3 из 3 идёт: дубликат не должен объявить её брошенной.
	f.clock.Advance(time.Second)
	outcome, err := f.pipeline(gate).Run(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeSkipped, outcome)
	assert.Equal(t, domain.PostProcessing, f.get(t, post.ID).State)

	close(gate.release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, executor.OutcomeSucceeded, res.outcome)

	got := f.get(t, post.ID)
	assert.Equal(t, domain.PostPosted, got.State)
	assert.Equal(t, 3, got.AttemptCount)
	assert.NotEmpty(t, got.PlatformPostRef)
}

func TestPipeline_AbandonedAfterLeaseExpiry(t *testing.T) {
	f := newFixture(t)
	post := f.seed(t, domain.PlatformInstagram)
	ctx := context.Background()
	posts := f.store.Posts()

	won, err := posts.Claim(ctx, post.ID, domain.PostScheduled, t0)
	require.NoError(t, err)
	require.True(t, won)
	lease := t0
	for seen := 0; seen < 3; seen++ {
		won, err := posts.StartAttempt(ctx, post.ID, seen, lease, lease.Add(DefaultLease))
		require.NoError(t, err)
		require.True(t, won)
		lease = lease.Add(DefaultLease)
	}

	// lease последней попытки ещё жив
	outcome, err := f.pipe.Run(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeSkipped, outcome)
	assert.Equal(t, domain.PostProcessing, f.get(t, post.ID).State)

	f.clock.Set(lease)
	outcome, err = f.pipe.Run(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeSkipped, outcome)

	got := f.get(t, post.ID)
	assert.Equal(t, domain.PostFailed, got.State)
	assert.Contains(t, got.LastError, "abandoned")
	assert.Empty(t, got.PlatformPostRef)
	assert.Empty(t, f.pub.Published())
}
