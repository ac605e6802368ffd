package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/postmill/internal/blob"
	"github.com/shaiso/postmill/internal/clock"
	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/repo/memstore"
	"github.com/shaiso/postmill/internal/telemetry"
)

var now = time.Date(2026, 6, 1, 2, 0, 0, 0, time.UTC)

type env struct {
	store  *memstore.Store
	blobs  *blob.MemoryStore
	reaper *Reaper
}

func newEnv(t *testing.T, pageSize int) *env {
	t.Helper()
	c := clock.NewFake(now)
	e := &env{store: memstore.New(c), blobs: blob.NewMemoryStore()}
	e.reaper = New(Config{
		Jobs:     e.store.Jobs(),
		Blobs:    e.blobs,
		Clock:    c,
		Logger:   telemetry.Discard(),
		PageSize: pageSize,
	})
	return e
}

// seedJob создаёт задание в состоянии state возрастом age и кладёт его объекты в blob store.
func (e *env) seedJob(t *testing.T, state domain.JobState, age time.Duration) *domain.GenerationJob {
	t.Helper()
	ctx := context.Background()

	job := domain.NewGenerationJob(uuid.New(), domain.Prompt{Text: "sunset"}, now.Add(-age))
	job.State = state
	job.NextAttemptAt = nil
	if state != domain.JobFailed {
		job.ResultRef = job.ArtifactKey("png")
		job.ThumbnailRef = job.ThumbnailKey()
		_, err := e.blobs.Put(ctx, job.ResultRef, []byte("img"), "image/png")
		require.NoError(t, err)
		_, err = e.blobs.Put(ctx, job.ThumbnailRef, []byte("thumb"), "image/jpeg")
		require.NoError(t, err)
	} else {
		// Попытка успела записать объект, но не зафиксировала результат.
		_, err := e.blobs.Put(ctx, job.ArtifactKey("webp"), []byte("orphan"), "image/webp")
		require.NoError(t, err)
	}
	require.NoError(t, e.store.Jobs().Create(ctx, job))
	return job
}

func TestRun_ReapsOnlyExpiredJobs(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	old := e.seedJob(t, domain.JobRejected, 35*24*time.Hour)
	recent := e.seedJob(t, domain.JobRejected, 10*24*time.Hour)

	report, err := e.reaper.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, Report{Candidates: 1, Reaped: 1}, report)

	_, err = e.store.Jobs().GetByID(ctx, old.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.store.Jobs().GetByID(ctx, recent.ID)
	assert.NoError(t, err)

	assert.ElementsMatch(t, []string{recent.ResultRef, recent.ThumbnailRef}, e.blobs.Keys())
}

func TestRun_PurgesUncommittedArtifacts(t *testing.T) {
	e := newEnv(t, 0)

	job := e.seedJob(t, domain.JobFailed, 40*24*time.Hour)
	require.Contains(t, e.blobs.Keys(), job.ArtifactKey("webp"))

	report, err := e.reaper.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Reaped)
	assert.Empty(t, e.blobs.Keys())
}

func TestRun_KeepsLiveStates(t *testing.T) {
	e := newEnv(t, 0)

	for _, s := range []domain.JobState{domain.JobPending, domain.JobGenerated, domain.JobValidated} {
		e.seedJob(t, s, 60*24*time.Hour)
	}

	report, err := e.reaper.Run(context.Background())

	require.NoError(t, err)
	assert.Zero(t, report.Candidates)
	assert.Len(t, e.blobs.Keys(), 6)
}

func TestRun_PurgeFailureKeepsRecord(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	job := e.seedJob(t, domain.JobRejected, 35*24*time.Hour)
	e.blobs.FailDelete = errors.New("bucket unavailable")

	report, err := e.reaper.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, Report{Candidates: 1, Failed: 1}, report)
	_, err = e.store.Jobs().GetByID(ctx, job.ID)
	require.NoError(t, err)

	// Следующий проход доводит удаление до конца.
	e.blobs.FailDelete = nil
	report, err = e.reaper.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Reaped)
	_, err = e.store.Jobs().GetByID(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, e.blobs.Keys())
}

func TestRun_KeepsReferencedJobs(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	job := e.seedJob(t, domain.JobRejected, 35*24*time.Hour)
	post := domain.NewScheduledPost(job.OwnerID, job.ID, domain.PlatformInstagram, now, "c", "", now)
	require.NoError(t, e.store.Posts().Create(ctx, post))

	report, err := e.reaper.Run(ctx)

	require.NoError(t, err)
	assert.Zero(t, report.Reaped)
	_, err = e.store.Jobs().GetByID(ctx, job.ID)
	assert.NoError(t, err)
}

func TestRun_Paging(t *testing.T) {
	e := newEnv(t, 2)

	for i := 0; i < 5; i++ {
		e.seedJob(t, domain.JobFailed, time.Duration(31+i)*24*time.Hour)
	}

	report, err := e.reaper.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Report{Candidates: 5, Reaped: 5}, report)
}

func TestBlobKeys_Deduplicates(t *testing.T) {
	job := domain.NewGenerationJob(uuid.New(), domain.Prompt{Text: "x"}, now)
	job.ResultRef = job.ArtifactKey("png")
	job.ThumbnailRef = job.ThumbnailKey()

	keys := blobKeys(job)

	assert.Len(t, keys, len(artifactExts)+1)
	assert.Equal(t, job.ResultRef, keys[0])
}
