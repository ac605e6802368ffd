package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/postmill/internal/clock"
	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/platform"
	"github.com/shaiso/postmill/internal/platform/platformtest"
	"github.com/shaiso/postmill/internal/repo/memstore"
	"github.com/shaiso/postmill/internal/telemetry"
)

var t0 = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

type env struct {
	clock *clock.Fake
	store *memstore.Store
	ig    *platformtest.Publisher
	tw    *platformtest.Publisher
	sync  *Sync
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		clock: clock.NewFake(t0),
		ig:    platformtest.New(domain.PlatformInstagram),
		tw:    platformtest.New(domain.PlatformTwitter),
	}
	e.store = memstore.New(e.clock)
	e.sync = New(Config{
		Posts:     e.store.Posts(),
		Analytics: e.store.Analytics(),
		Registry:  platform.NewRegistry(e.ig, e.tw),
		Clock:     e.clock,
		Logger:    telemetry.Discard(),
		PageSize:  2,
	})
	return e
}

// posted создаёт пост и проводит его до POSTED в момент at.
func (e *env) posted(t *testing.T, p domain.Platform, ref string, at time.Time) *domain.ScheduledPost {
	t.Helper()
	ctx := context.Background()
	posts := e.store.Posts()

	job := domain.NewGenerationJob(uuid.New(), domain.Prompt{Text: "p"}, at)
	job.State = domain.JobGenerated
	job.ResultRef = job.ArtifactKey("png")
	require.NoError(t, e.store.Jobs().Create(ctx, job))

	post := domain.NewScheduledPost(job.OwnerID, job.ID, p, at, "c", "", at)
	require.NoError(t, posts.Create(ctx, post))

	won, err := posts.Claim(ctx, post.ID, domain.PostScheduled, at)
	require.NoError(t, err)
	require.True(t, won)
	won, err = posts.StartAttempt(ctx, post.ID, 0, at, at)
	require.NoError(t, err)
	require.True(t, won)
	won, err = posts.MarkPosted(ctx, post.ID, ref, "", at)
	require.NoError(t, err)
	require.True(t, won)

	got, err := posts.GetByID(ctx, post.ID)
	require.NoError(t, err)
	return got
}

func TestRun_UpdatesMetricsWithinWindow(t *testing.T) {
	e := newEnv(t)
	e.ig.Metrics = domain.Metrics{Likes: 30, Comments: 5, Shares: 5, Impressions: 400, Reach: 300}
	e.tw.Metrics = domain.Metrics{Likes: 1}

	recent := e.posted(t, domain.PlatformInstagram, "ig-1", t0.Add(-24*time.Hour))
	zeroImpr := e.posted(t, domain.PlatformTwitter, "tw-1", t0.Add(-48*time.Hour))
	e.posted(t, domain.PlatformInstagram, "ig-2", t0.Add(-5*24*time.Hour))
	old := e.posted(t, domain.PlatformInstagram, "ig-old", t0.Add(-40*24*time.Hour))
	require.NoError(t, e.store.Analytics().CreatePlaceholder(context.Background(), recent.ID, *recent.PostedAt))

	report, err := e.sync.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Report{Total: 3, Synced: 3}, report)
	assert.NotContains(t, e.ig.AnalyticsCalls(), "ig-old")

	rec, err := e.store.Analytics().GetByPostID(context.Background(), recent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), rec.Likes)
	assert.Equal(t, int64(400), rec.Impressions)
	assert.InDelta(t, 10.0, rec.EngagementRate, 1e-9)
	require.NotNil(t, rec.LastSyncedAt)
	assert.Equal(t, t0, *rec.LastSyncedAt)
	assert.Equal(t, recent.PostedAt.UTC(), rec.CreatedAt.UTC())

	rec, err = e.store.Analytics().GetByPostID(context.Background(), zeroImpr.ID)
	require.NoError(t, err)
	assert.Zero(t, rec.EngagementRate)

	_, err = e.store.Analytics().GetByPostID(context.Background(), old.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRun_IsolatesFailures(t *testing.T) {
	e := newEnv(t)
	e.ig.AnalyticsErr = fmt.Errorf("%w: HTTP 500", domain.ErrTransient)
	e.tw.Metrics = domain.Metrics{Likes: 2, Impressions: 10}

	failing := e.posted(t, domain.PlatformInstagram, "ig-1", t0.Add(-time.Hour))
	ok := e.posted(t, domain.PlatformTwitter, "tw-1", t0.Add(-2*time.Hour))
	linkedin := e.posted(t, domain.PlatformLinkedIn, "li-1", t0.Add(-3*time.Hour))

	report, err := e.sync.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Report{Total: 3, Synced: 1, Failed: 2}, report)

	rec, err := e.store.Analytics().GetByPostID(context.Background(), ok.ID)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, rec.EngagementRate, 1e-9)

	for _, id := range []uuid.UUID{failing.ID, linkedin.ID} {
		_, err := e.store.Analytics().GetByPostID(context.Background(), id)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
}

func TestSyncPost(t *testing.T) {
	e := newEnv(t)
	e.ig.Metrics = domain.Metrics{Likes: 4, Comments: 1, Impressions: 50}
	post := e.posted(t, domain.PlatformInstagram, "ig-1", t0.Add(-time.Hour))

	rec, err := e.sync.SyncPost(context.Background(), post.ID)

	require.NoError(t, err)
	assert.InDelta(t, 10.0, rec.EngagementRate, 1e-9)
	assert.Equal(t, []string{"ig-1"}, e.ig.AnalyticsCalls())
}

func TestSyncPost_RequiresPosted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	job := domain.NewGenerationJob(uuid.New(), domain.Prompt{Text: "p"}, t0)
	require.NoError(t, e.store.Jobs().Create(ctx, job))
	post := domain.NewScheduledPost(job.OwnerID, job.ID, domain.PlatformInstagram, t0, "c", "", t0)
	require.NoError(t, e.store.Posts().Create(ctx, post))

	_, err := e.sync.SyncPost(ctx, post.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.sync.SyncPost(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSyncPost_ReplacesCounters(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	post := e.posted(t, domain.PlatformTwitter, "tw-1", t0.Add(-time.Hour))

	e.tw.Metrics = domain.Metrics{Likes: 5, Impressions: 100}
	_, err := e.sync.SyncPost(ctx, post.ID)
	require.NoError(t, err)

	e.clock.Advance(24 * time.Hour)
	e.tw.Metrics = domain.Metrics{Likes: 8, Shares: 2, Impressions: 200}
	rec, err := e.sync.SyncPost(ctx, post.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(8), rec.Likes)
	assert.Equal(t, int64(2), rec.Shares)
	assert.InDelta(t, 5.0, rec.EngagementRate, 1e-9)
	assert.Equal(t, t0, rec.CreatedAt)
	require.NotNil(t, rec.LastSyncedAt)
	assert.Equal(t, t0.Add(24*time.Hour), *rec.LastSyncedAt)
}
