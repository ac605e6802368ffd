package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/postmill/internal/clock"
	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/publishing"
	"github.com/shaiso/postmill/internal/repo/memstore"
	"github.com/shaiso/postmill/internal/telemetry"
)

var t0 = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

type recordingTrigger struct {
	mu    sync.Mutex
	tasks []domain.TaskRef
	err   error
}

func (r *recordingTrigger) Enqueue(_ context.Context, task domain.TaskRef, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.tasks = append(r.tasks, task)
	return nil
}

func (r *recordingTrigger) Tasks() []domain.TaskRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TaskRef(nil), r.tasks...)
}

type env struct {
	clock   *clock.Fake
	store   *memstore.Store
	trigger *recordingTrigger
	svc     *Service
	owner   uuid.UUID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		clock:   clock.NewFake(t0),
		trigger: &recordingTrigger{},
		owner:   uuid.New(),
	}
	e.store = memstore.New(e.clock)
	e.svc = New(Config{
		Jobs:       e.store.Jobs(),
		Posts:      e.store.Posts(),
		Analytics:  e.store.Analytics(),
		Accounts:   e.store.Accounts(),
		Dispatcher: publishing.NewDispatcher(e.store.Posts(), e.trigger, e.clock, telemetry.Discard()),
		Trigger:    e.trigger,
		Clock:      e.clock,
		Logger:     telemetry.Discard(),
	})
	return e
}

// readyArtifact создаёт задание владельца в GENERATED с результатом.
func (e *env) readyArtifact(t *testing.T) *domain.GenerationJob {
	t.Helper()
	job := domain.NewGenerationJob(e.owner, domain.Prompt{Text: "sunset over mountains"}, t0)
	job.State = domain.JobGenerated
	job.ResultRef = job.ArtifactKey("png")
	job.NextAttemptAt = nil
	require.NoError(t, e.store.Jobs().Create(context.Background(), job))
	return job
}

func (e *env) schedule(t *testing.T, p domain.Platform) *domain.ScheduledPost {
	t.Helper()
	job := e.readyArtifact(t)
	post, err := e.svc.SubmitSchedule(context.Background(), e.owner, ScheduleRequest{
		ArtifactID:  job.ID,
		Platform:    string(p),
		ScheduledAt: t0.Add(time.Hour),
		Caption:     "Golden hour",
		Hashtags:    "sun, mountains",
	})
	require.NoError(t, err)
	return post
}

// --- Generation ---

func TestSubmitGeneration(t *testing.T) {
	e := newEnv(t)

	job, err := e.svc.SubmitGeneration(context.Background(), e.owner, GenerationRequest{
		Prompt:  "  sunset over mountains ",
		Style:   domain.StyleArtistic,
		Quality: domain.QualityHD,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, job.State)
	assert.Equal(t, "sunset over mountains", job.Prompt.Text)
	assert.Equal(t, domain.DefaultImageSize, job.Prompt.Width)
	assert.Equal(t, []domain.TaskRef{{Kind: domain.TaskGenerate, EntityID: job.ID}}, e.trigger.Tasks())

	got, err := e.svc.GetJob(context.Background(), e.owner, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestSubmitGeneration_EnqueueFailureKeepsJob(t *testing.T) {
	e := newEnv(t)
	e.trigger.err = errors.New("broker down")

	job, err := e.svc.SubmitGeneration(context.Background(), e.owner, GenerationRequest{Prompt: "cat"})

	require.NoError(t, err)
	got, err := e.svc.GetJob(context.Background(), e.owner, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextAttemptAt)
	assert.Equal(t, t0, *got.NextAttemptAt)
}

func TestSubmitGeneration_Validation(t *testing.T) {
	tests := map[string]GenerationRequest{
		"empty prompt":  {},
		"unknown style": {Prompt: "x", Style: "baroque"},
		"tiny width":    {Prompt: "x", Width: 16},
		"bad quality":   {Prompt: "x", Quality: "ultra"},
		"long prompt":   {Prompt: strings.Repeat("a", 1001)},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t)
			_, err := e.svc.SubmitGeneration(context.Background(), e.owner, req)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Empty(t, e.trigger.Tasks())
		})
	}
}

func TestGetJob_OtherOwnerIsNotFound(t *testing.T) {
	e := newEnv(t)
	job := e.readyArtifact(t)

	_, err := e.svc.GetJob(context.Background(), uuid.New(), job.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReview(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	job := e.readyArtifact(t)

	got, err := e.svc.ValidateJob(ctx, e.owner, job.ID, ReviewRequest{Notes: "looks great"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobValidated, got.State)
	assert.Equal(t, "looks great", got.ValidationNotes)
	require.NotNil(t, got.ValidatedAt)

	_, err = e.svc.RejectJob(ctx, e.owner, job.ID, ReviewRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

// --- Scheduling ---

func TestSubmitSchedule(t *testing.T) {
	e := newEnv(t)

	post := e.schedule(t, domain.PlatformInstagram)

	assert.Equal(t, domain.PostScheduled, post.State)
	assert.Equal(t, "#sun #mountains", post.Hashtags)
	assert.Equal(t, "Golden hour\n\n#sun #mountains", post.Content())
}

func TestSubmitSchedule_Rejects(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ready := e.readyArtifact(t)

	pending := domain.NewGenerationJob(e.owner, domain.Prompt{Text: "x"}, t0)
	require.NoError(t, e.store.Jobs().Create(ctx, pending))

	foreign := domain.NewGenerationJob(uuid.New(), domain.Prompt{Text: "x"}, t0)
	foreign.State = domain.JobGenerated
	foreign.ResultRef = "generated/x.png"
	require.NoError(t, e.store.Jobs().Create(ctx, foreign))

	future := t0.Add(time.Hour)
	tests := []struct {
		name string
		req  ScheduleRequest
		want error
	}{
		{"past time", ScheduleRequest{ArtifactID: ready.ID, Platform: "instagram", ScheduledAt: t0.Add(-time.Minute)}, domain.ErrValidation},
		{"now", ScheduleRequest{ArtifactID: ready.ID, Platform: "instagram", ScheduledAt: t0}, domain.ErrValidation},
		{"unknown platform", ScheduleRequest{ArtifactID: ready.ID, Platform: "myspace", ScheduledAt: future}, domain.ErrValidation},
		{"artifact not ready", ScheduleRequest{ArtifactID: pending.ID, Platform: "instagram", ScheduledAt: future}, domain.ErrValidation},
		{"missing artifact", ScheduleRequest{ArtifactID: uuid.New(), Platform: "instagram", ScheduledAt: future}, domain.ErrNotFound},
		{"foreign artifact", ScheduleRequest{ArtifactID: foreign.ID, Platform: "instagram", ScheduledAt: future}, domain.ErrNotFound},
		{"no artifact id", ScheduleRequest{Platform: "instagram", ScheduledAt: future}, domain.ErrValidation},
		{"caption too long", ScheduleRequest{ArtifactID: ready.ID, Platform: "instagram", ScheduledAt: future, Caption: strings.Repeat("я", 2201)}, domain.ErrValidation},
		{"caption plus tags too long", ScheduleRequest{ArtifactID: ready.ID, Platform: "instagram", ScheduledAt: future, Caption: strings.Repeat("a", 2195), Hashtags: "sunset"}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.SubmitSchedule(ctx, e.owner, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSubmitSchedule_PlatformIsCaseInsensitive(t *testing.T) {
	e := newEnv(t)
	job := e.readyArtifact(t)

	post, err := e.svc.SubmitSchedule(context.Background(), e.owner, ScheduleRequest{
		ArtifactID:  job.ID,
		Platform:    "  Twitter ",
		ScheduledAt: t0.Add(time.Minute),
	})

	require.NoError(t, err)
	assert.Equal(t, domain.PlatformTwitter, post.Platform)
}

// --- Cancel & publish now ---

func TestCancel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	post := e.schedule(t, domain.PlatformInstagram)

	ok, err := e.svc.Cancel(ctx, e.owner, post.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := e.svc.GetPost(ctx, e.owner, post.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PostCancelled, got.State)

	// Повторная отмена — false, без ошибки.
	ok, err = e.svc.Cancel(ctx, e.owner, post.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancel_WhileProcessingIsRejected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	post := e.schedule(t, domain.PlatformInstagram)

	require.NoError(t, e.svc.PublishNow(ctx, e.owner, post.ID))

	ok, err := e.svc.Cancel(ctx, e.owner, post.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := e.svc.GetPost(ctx, e.owner, post.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PostProcessing, got.State)
}

func TestCancel_OtherOwner(t *testing.T) {
	e := newEnv(t)
	post := e.schedule(t, domain.PlatformInstagram)

	_, err := e.svc.Cancel(context.Background(), uuid.New(), post.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPublishNow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	post := e.schedule(t, domain.PlatformFacebook)

	require.NoError(t, e.svc.PublishNow(ctx, e.owner, post.ID))

	got, err := e.svc.GetPost(ctx, e.owner, post.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PostProcessing, got.State)
	assert.Contains(t, e.trigger.Tasks(), domain.TaskRef{Kind: domain.TaskPublish, EntityID: post.ID})

	err = e.svc.PublishNow(ctx, e.owner, post.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestPublishNow_FromFailedResetsAttempts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	post := e.schedule(t, domain.PlatformFacebook)
	posts := e.store.Posts()

	won, err := posts.Claim(ctx, post.ID, domain.PostScheduled, t0)
	require.NoError(t, err)
	require.True(t, won)
	for i := 0; i < 3; i++ {
		won, err = posts.StartAttempt(ctx, post.ID, i, t0, t0)
		require.NoError(t, err)
		require.True(t, won)
	}
	won, err = posts.MarkFailed(ctx, post.ID, 3, "HTTP 503")
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, e.svc.PublishNow(ctx, e.owner, post.ID))

	got, err := e.svc.GetPost(ctx, e.owner, post.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PostProcessing, got.State)
	assert.Zero(t, got.AttemptCount)
}

func TestPublishNow_Cancelled(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	post := e.schedule(t, domain.PlatformFacebook)
	_, err := e.svc.Cancel(ctx, e.owner, post.ID)
	require.NoError(t, err)

	err = e.svc.PublishNow(ctx, e.owner, post.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

// --- Analytics ---

func (e *env) markPosted(t *testing.T, post *domain.ScheduledPost) {
	t.Helper()
	ctx := context.Background()
	posts := e.store.Posts()
	_, err := posts.Claim(ctx, post.ID, domain.PostScheduled, t0)
	require.NoError(t, err)
	_, err = posts.StartAttempt(ctx, post.ID, 0, t0, t0)
	require.NoError(t, err)
	won, err := posts.MarkPosted(ctx, post.ID, "ig-1", "https://instagram.com/p/1", t0)
	require.NoError(t, err)
	require.True(t, won)
}

func TestGetAnalytics(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	post := e.schedule(t, domain.PlatformInstagram)

	_, err := e.svc.GetAnalytics(ctx, e.owner, post.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)

	e.markPosted(t, post)

	// Заготовки нет: отдаём пустую запись.
	rec, err := e.svc.GetAnalytics(ctx, e.owner, post.ID)
	require.NoError(t, err)
	assert.Nil(t, rec.LastSyncedAt)
	assert.Zero(t, rec.EngagementRate)

	stored := domain.NewAnalyticsPlaceholder(post.ID, t0)
	stored.Apply(domain.Metrics{Likes: 9, Comments: 1, Impressions: 200}, t0.Add(time.Hour))
	require.NoError(t, e.store.Analytics().Upsert(ctx, stored))

	rec, err = e.svc.GetAnalytics(ctx, e.owner, post.ID)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, rec.EngagementRate, 1e-9)
}

func TestRequestAnalyticsSync(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	post := e.schedule(t, domain.PlatformInstagram)

	assert.ErrorIs(t, e.svc.RequestAnalyticsSync(ctx, e.owner, post.ID), domain.ErrValidation)

	e.markPosted(t, post)
	require.NoError(t, e.svc.RequestAnalyticsSync(ctx, e.owner, post.ID))
	assert.Contains(t, e.trigger.Tasks(), domain.TaskRef{Kind: domain.TaskSyncAnalytics, EntityID: post.ID})
}

// --- Accounts & stats ---

func TestLinkAccount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	acc, err := e.svc.LinkAccount(ctx, e.owner, "Instagram", AccountRequest{AccountID: "1784"})
	require.NoError(t, err)
	assert.Equal(t, domain.PlatformInstagram, acc.Platform)

	got, err := e.store.Accounts().Get(ctx, e.owner, domain.PlatformInstagram)
	require.NoError(t, err)
	assert.Equal(t, "1784", got.AccountID)

	_, err = e.svc.LinkAccount(ctx, e.owner, "instagram", AccountRequest{})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = e.svc.LinkAccount(ctx, e.owner, "orkut", AccountRequest{AccountID: "1"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStats(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.schedule(t, domain.PlatformInstagram)
	e.schedule(t, domain.PlatformTwitter)
	posted := e.schedule(t, domain.PlatformInstagram)
	e.markPosted(t, posted)

	stats, err := e.svc.Stats(ctx, e.owner)

	require.NoError(t, err)
	assert.Equal(t, 3, stats.Jobs[domain.JobGenerated])
	assert.Equal(t, 2, stats.Posts[domain.PostScheduled])
	assert.Equal(t, 1, stats.Posts[domain.PostPosted])
	assert.Equal(t, 2, stats.Platforms[domain.PlatformInstagram])
	assert.Equal(t, 1, stats.Platforms[domain.PlatformTwitter])
}

func TestValidationMessageUsesJSONNames(t *testing.T) {
	err := validate(NewValidator(), ScheduleRequest{})

	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "artifact_id is required")
	assert.Contains(t, err.Error(), "platform is required")
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultListLimit, clampLimit(0))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, MaxListLimit, clampLimit(10_000))
}
