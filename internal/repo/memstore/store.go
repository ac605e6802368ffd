// Package memstore — хранилище в памяти с теми же методами, что у
// репозиториев Postgres.
//
// Условные переходы выполняются под мьютексом, поэтому семантика
// "сравнить состояние и записать новое" совпадает с UPDATE ... WHERE state = $x.
// Используется в тестах пайплайнов и планировщика.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/postmill/internal/clock"
	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/repo"
)

// Store держит задания, посты, метрики и привязки аккаунтов.
// Наружу всегда отдаются копии.
type Store struct {
	mu        sync.Mutex
	clock     clock.Clock
	jobs      map[uuid.UUID]domain.GenerationJob
	posts     map[uuid.UUID]domain.ScheduledPost
	analytics map[uuid.UUID]domain.PlatformAnalytics
	accounts  map[accountKey]string
}

type accountKey struct {
	owner    uuid.UUID
	platform domain.Platform
}

// New создаёт пустое хранилище. clock задаёт updated_at.
func New(c clock.Clock) *Store {
	return &Store{
		clock:     clock.OrReal(c),
		jobs:      make(map[uuid.UUID]domain.GenerationJob),
		posts:     make(map[uuid.UUID]domain.ScheduledPost),
		analytics: make(map[uuid.UUID]domain.PlatformAnalytics),
		accounts:  make(map[accountKey]string),
	}
}

// Jobs возвращает представление хранилища с методами JobRepo.
func (s *Store) Jobs() *JobStore { return &JobStore{s} }

// Posts возвращает представление с методами PostRepo.
func (s *Store) Posts() *PostStore { return &PostStore{s} }

// Analytics возвращает представление с методами AnalyticsRepo.
func (s *Store) Analytics() *AnalyticsStore { return &AnalyticsStore{s} }

// Accounts возвращает представление с методами AccountRepo.
func (s *Store) Accounts() *AccountStore { return &AccountStore{s} }

// --- Jobs ---

type JobStore struct{ s *Store }

func (j *JobStore) Create(_ context.Context, job *domain.GenerationJob) error {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()

	if _, ok := j.s.jobs[job.ID]; ok {
		return fmt.Errorf("insert generation job: duplicate id %s", job.ID)
	}
	j.s.jobs[job.ID] = *job
	return nil
}

func (j *JobStore) GetByID(_ context.Context, id uuid.UUID) (*domain.GenerationJob, error) {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()

	job, ok := j.s.jobs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &job, nil
}

func (j *JobStore) ListByOwner(_ context.Context, owner uuid.UUID, limit int) ([]domain.GenerationJob, error) {
	out := j.s.filterJobs(func(job *domain.GenerationJob) bool { return job.OwnerID == owner })
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return head(out, limit), nil
}

func (j *JobStore) StartAttempt(_ context.Context, id uuid.UUID, from domain.JobState, seen int, now, leaseUntil time.Time) (bool, error) {
	if !from.IsInFlight() {
		return false, fmt.Errorf("%w: cannot start attempt from %s", domain.ErrInvalidTransition, from)
	}
	return j.s.updateJob(id, func(job *domain.GenerationJob) bool {
		if job.State != from || job.AttemptCount != seen || !leaseExpired(job.NextAttemptAt, now) {
			return false
		}
		job.State = domain.JobGenerating
		job.AttemptCount++
		job.NextAttemptAt = &leaseUntil
		return true
	}), nil
}

func (j *JobStore) Defer(_ context.Context, id uuid.UUID, attempt int, lastErr string, nextAt time.Time) error {
	j.s.updateJob(id, func(job *domain.GenerationJob) bool {
		if job.State != domain.JobGenerating || job.AttemptCount != attempt {
			return false
		}
		job.LastError = lastErr
		job.NextAttemptAt = &nextAt
		return true
	})
	return nil
}

func (j *JobStore) MarkGenerated(_ context.Context, id uuid.UUID, res domain.GenerationResult) (bool, error) {
	return j.s.updateJob(id, func(job *domain.GenerationJob) bool {
		if job.State != domain.JobGenerating {
			return false
		}
		job.State = domain.JobGenerated
		job.ResultRef = res.ResultRef
		job.ThumbnailRef = res.ThumbnailRef
		job.SourceURL = res.SourceURL
		job.Metadata = res.Metadata
		job.GenerationTime = res.Duration.Truncate(time.Millisecond)
		job.NextAttemptAt = nil
		return true
	}), nil
}

func (j *JobStore) MarkFailed(_ context.Context, id uuid.UUID, attempt int, lastErr string) (bool, error) {
	return j.s.updateJob(id, func(job *domain.GenerationJob) bool {
		if job.State != domain.JobGenerating || job.AttemptCount != attempt {
			return false
		}
		failJob(job, lastErr)
		return true
	}), nil
}

func (j *JobStore) MarkAbandoned(_ context.Context, id uuid.UUID, lastErr string, now time.Time) (bool, error) {
	return j.s.updateJob(id, func(job *domain.GenerationJob) bool {
		if job.State != domain.JobGenerating || !leaseExpired(job.NextAttemptAt, now) {
			return false
		}
		failJob(job, lastErr)
		return true
	}), nil
}

func failJob(job *domain.GenerationJob, lastErr string) {
	job.State = domain.JobFailed
	job.LastError = lastErr
	job.NextAttemptAt = nil
}

func (j *JobStore) Review(_ context.Context, id uuid.UUID, to domain.JobState, notes string, at time.Time) (bool, error) {
	if !domain.CanTransitionJob(domain.JobGenerated, to) {
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, domain.JobGenerated, to)
	}
	return j.s.updateJob(id, func(job *domain.GenerationJob) bool {
		if job.State != domain.JobGenerated {
			return false
		}
		job.State = to
		job.ValidationNotes = notes
		if to == domain.JobValidated {
			job.ValidatedAt = &at
		}
		return true
	}), nil
}

func (j *JobStore) ListDispatchable(_ context.Context, now time.Time, limit int) ([]domain.GenerationJob, error) {
	out := j.s.filterJobs(func(job *domain.GenerationJob) bool {
		return job.State.IsInFlight() && job.NextAttemptAt != nil && !job.NextAttemptAt.After(now)
	})
	sort.Slice(out, func(a, b int) bool { return out[a].NextAttemptAt.Before(*out[b].NextAttemptAt) })
	return head(out, limit), nil
}

func (j *JobStore) ListReapable(_ context.Context, before time.Time, after repo.Cursor, limit int) ([]domain.GenerationJob, error) {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()

	var out []domain.GenerationJob
	for _, job := range j.s.jobs {
		if j.s.reapableLocked(&job, before) && after.After(job.CreatedAt, job.ID) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(a, b int) bool { return cursorLess(out[a].CreatedAt, out[a].ID, out[b].CreatedAt, out[b].ID) })
	return head(out, limit), nil
}

// Reap повторяет семантику JobRepo.Reap: purge вне блокировки, затем условное удаление.
func (j *JobStore) Reap(ctx context.Context, id uuid.UUID, before time.Time, purge func(context.Context, *domain.GenerationJob) error) (bool, error) {
	j.s.mu.Lock()
	job, ok := j.s.jobs[id]
	reapable := ok && j.s.reapableLocked(&job, before)
	j.s.mu.Unlock()
	if !reapable {
		return false, nil
	}

	if err := purge(ctx, &job); err != nil {
		return false, fmt.Errorf("purge artifacts: %w", err)
	}

	j.s.mu.Lock()
	defer j.s.mu.Unlock()
	current, ok := j.s.jobs[id]
	if !ok || !j.s.reapableLocked(&current, before) {
		return false, nil
	}
	delete(j.s.jobs, id)
	return true, nil
}

func (j *JobStore) CountByState(_ context.Context, owner uuid.UUID) (map[domain.JobState]int, error) {
	counts := make(map[domain.JobState]int)
	for _, job := range j.s.filterJobs(func(job *domain.GenerationJob) bool { return job.OwnerID == owner }) {
		counts[job.State]++
	}
	return counts, nil
}

// --- Posts ---

type PostStore struct{ s *Store }

func (p *PostStore) Create(_ context.Context, post *domain.ScheduledPost) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	if _, ok := p.s.jobs[post.ArtifactID]; !ok {
		return fmt.Errorf("insert scheduled post: artifact %s does not exist", post.ArtifactID)
	}
	if _, ok := p.s.posts[post.ID]; ok {
		return fmt.Errorf("insert scheduled post: duplicate id %s", post.ID)
	}
	p.s.posts[post.ID] = *post
	return nil
}

func (p *PostStore) GetByID(_ context.Context, id uuid.UUID) (*domain.ScheduledPost, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	post, ok := p.s.posts[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &post, nil
}

func (p *PostStore) ListByOwner(_ context.Context, owner uuid.UUID, limit int) ([]domain.ScheduledPost, error) {
	out := p.s.filterPosts(func(post *domain.ScheduledPost) bool { return post.OwnerID == owner })
	sort.Slice(out, func(a, b int) bool { return out[a].ScheduledAt.After(out[b].ScheduledAt) })
	return head(out, limit), nil
}

func (p *PostStore) ListDue(_ context.Context, now time.Time, after repo.Cursor, limit int) ([]domain.ScheduledPost, error) {
	out := p.s.filterPosts(func(post *domain.ScheduledPost) bool {
		return post.IsDue(now) && after.After(post.ScheduledAt, post.ID)
	})
	sort.Slice(out, func(a, b int) bool {
		return cursorLess(out[a].ScheduledAt, out[a].ID, out[b].ScheduledAt, out[b].ID)
	})
	return head(out, limit), nil
}

func (p *PostStore) Claim(_ context.Context, id uuid.UUID, from domain.PostState, now time.Time) (bool, error) {
	if !domain.CanTransitionPost(from, domain.PostProcessing) {
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, domain.PostProcessing)
	}
	return p.s.updatePost(id, func(post *domain.ScheduledPost) bool {
		if post.State != from {
			return false
		}
		if post.State == domain.PostFailed {
			post.AttemptCount = 0
		}
		post.State = domain.PostProcessing
		post.NextAttemptAt = &now
		return true
	}), nil
}

func (p *PostStore) StartAttempt(_ context.Context, id uuid.UUID, seen int, now, leaseUntil time.Time) (bool, error) {
	return p.s.updatePost(id, func(post *domain.ScheduledPost) bool {
		if post.State != domain.PostProcessing || post.AttemptCount != seen || !leaseExpired(post.NextAttemptAt, now) {
			return false
		}
		post.AttemptCount++
		post.NextAttemptAt = &leaseUntil
		return true
	}), nil
}

func (p *PostStore) Defer(_ context.Context, id uuid.UUID, attempt int, lastErr string, nextAt time.Time) error {
	p.s.updatePost(id, func(post *domain.ScheduledPost) bool {
		if post.State != domain.PostProcessing || post.AttemptCount != attempt {
			return false
		}
		post.LastError = lastErr
		post.NextAttemptAt = &nextAt
		return true
	})
	return nil
}

func (p *PostStore) MarkPosted(_ context.Context, id uuid.UUID, ref, url string, at time.Time) (bool, error) {
	return p.s.updatePost(id, func(post *domain.ScheduledPost) bool {
		if post.State != domain.PostProcessing {
			return false
		}
		post.State = domain.PostPosted
		post.PlatformPostRef = ref
		post.PlatformPostURL = url
		post.PostedAt = &at
		post.NextAttemptAt = nil
		return true
	}), nil
}

func (p *PostStore) MarkFailed(_ context.Context, id uuid.UUID, attempt int, lastErr string) (bool, error) {
	return p.s.updatePost(id, func(post *domain.ScheduledPost) bool {
		if post.State != domain.PostProcessing || post.AttemptCount != attempt {
			return false
		}
		failPost(post, lastErr)
		return true
	}), nil
}

func (p *PostStore) MarkAbandoned(_ context.Context, id uuid.UUID, lastErr string, now time.Time) (bool, error) {
	return p.s.updatePost(id, func(post *domain.ScheduledPost) bool {
		if post.State != domain.PostProcessing || !leaseExpired(post.NextAttemptAt, now) {
			return false
		}
		failPost(post, lastErr)
		return true
	}), nil
}

func failPost(post *domain.ScheduledPost, lastErr string) {
	post.State = domain.PostFailed
	post.LastError = lastErr
	post.NextAttemptAt = nil
}

func (p *PostStore) Cancel(_ context.Context, id uuid.UUID) (bool, error) {
	return p.s.updatePost(id, func(post *domain.ScheduledPost) bool {
		if !post.State.CanCancel() {
			return false
		}
		post.State = domain.PostCancelled
		post.NextAttemptAt = nil
		return true
	}), nil
}

func (p *PostStore) ListDispatchable(_ context.Context, now time.Time, limit int) ([]domain.ScheduledPost, error) {
	out := p.s.filterPosts(func(post *domain.ScheduledPost) bool {
		return post.State == domain.PostProcessing && post.NextAttemptAt != nil && !post.NextAttemptAt.After(now)
	})
	sort.Slice(out, func(a, b int) bool { return out[a].NextAttemptAt.Before(*out[b].NextAttemptAt) })
	return head(out, limit), nil
}

func (p *PostStore) ListPosted(_ context.Context, since time.Time, after repo.Cursor, limit int) ([]domain.ScheduledPost, error) {
	out := p.s.filterPosts(func(post *domain.ScheduledPost) bool {
		return post.State == domain.PostPosted && post.PostedAt != nil &&
			!post.PostedAt.Before(since) && after.After(*post.PostedAt, post.ID)
	})
	sort.Slice(out, func(a, b int) bool {
		return cursorLess(*out[a].PostedAt, out[a].ID, *out[b].PostedAt, out[b].ID)
	})
	return head(out, limit), nil
}

func (p *PostStore) CountByState(_ context.Context, owner uuid.UUID) (map[domain.PostState]int, error) {
	counts := make(map[domain.PostState]int)
	for _, post := range p.s.filterPosts(func(post *domain.ScheduledPost) bool { return post.OwnerID == owner }) {
		counts[post.State]++
	}
	return counts, nil
}

func (p *PostStore) CountByPlatform(_ context.Context, owner uuid.UUID) (map[domain.Platform]int, error) {
	counts := make(map[domain.Platform]int)
	for _, post := range p.s.filterPosts(func(post *domain.ScheduledPost) bool { return post.OwnerID == owner }) {
		counts[post.Platform]++
	}
	return counts, nil
}

// --- Analytics ---

type AnalyticsStore struct{ s *Store }

func (a *AnalyticsStore) CreatePlaceholder(_ context.Context, postID uuid.UUID, now time.Time) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	if _, ok := a.s.analytics[postID]; !ok {
		a.s.analytics[postID] = *domain.NewAnalyticsPlaceholder(postID, now)
	}
	return nil
}

func (a *AnalyticsStore) Upsert(_ context.Context, rec *domain.PlatformAnalytics) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	if existing, ok := a.s.analytics[rec.PostID]; ok {
		cp := *rec
		cp.CreatedAt = existing.CreatedAt
		a.s.analytics[rec.PostID] = cp
		return nil
	}
	a.s.analytics[rec.PostID] = *rec
	return nil
}

func (a *AnalyticsStore) GetByPostID(_ context.Context, postID uuid.UUID) (*domain.PlatformAnalytics, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	rec, ok := a.s.analytics[postID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &rec, nil
}

func (a *AnalyticsStore) AverageEngagement(_ context.Context, owner uuid.UUID) (float64, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	var sum float64
	var n int
	for postID, rec := range a.s.analytics {
		post, ok := a.s.posts[postID]
		if !ok || post.OwnerID != owner || rec.LastSyncedAt == nil {
			continue
		}
		sum += rec.EngagementRate
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

// --- Accounts ---

type AccountStore struct{ s *Store }

func (a *AccountStore) Link(_ context.Context, acc domain.LinkedAccount) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	a.s.accounts[accountKey{acc.OwnerID, acc.Platform}] = acc.AccountID
	return nil
}

func (a *AccountStore) Get(_ context.Context, owner uuid.UUID, platform domain.Platform) (*domain.LinkedAccount, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	id, ok := a.s.accounts[accountKey{owner, platform}]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &domain.LinkedAccount{OwnerID: owner, Platform: platform, AccountID: id}, nil
}

// --- Helpers ---

func (s *Store) updateJob(id uuid.UUID, apply func(*domain.GenerationJob) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || !apply(&job) {
		return false
	}
	job.UpdatedAt = s.clock.Now()
	s.jobs[id] = job
	return true
}

func (s *Store) updatePost(id uuid.UUID, apply func(*domain.ScheduledPost) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[id]
	if !ok || !apply(&post) {
		return false
	}
	post.UpdatedAt = s.clock.Now()
	s.posts[id] = post
	return true
}

func (s *Store) filterJobs(keep func(*domain.GenerationJob) bool) []domain.GenerationJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.GenerationJob
	for _, job := range s.jobs {
		if keep(&job) {
			out = append(out, job)
		}
	}
	return out
}

func (s *Store) filterPosts(keep func(*domain.ScheduledPost) bool) []domain.ScheduledPost {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ScheduledPost
	for _, post := range s.posts {
		if keep(&post) {
			out = append(out, post)
		}
	}
	return out
}

func (s *Store) reapableLocked(job *domain.GenerationJob, before time.Time) bool {
	if job.State != domain.JobRejected && job.State != domain.JobFailed {
		return false
	}
	if !job.CreatedAt.Before(before) {
		return false
	}
	for _, post := range s.posts {
		if post.ArtifactID == job.ID {
			return false
		}
	}
	return true
}

// leaseExpired повторяет условие next_attempt_at IS NULL OR next_attempt_at <= now.
func leaseExpired(next *time.Time, now time.Time) bool {
	return next == nil || !next.After(now)
}

func cursorLess(at1 time.Time, id1 uuid.UUID, at2 time.Time, id2 uuid.UUID) bool {
	if at1.Equal(at2) {
		return bytes.Compare(id1[:], id2[:]) < 0
	}
	return at1.Before(at2)
}

func head[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
