package api

import (
	"net/http"

	"github.com/shaiso/postmill/internal/service"
)

// SchedulePost планирует публикацию.
// POST /api/v1/posts
func (h *Handler) SchedulePost(w http.ResponseWriter, r *http.Request) {
	var req service.ScheduleRequest
	if !decode(w, r, &req) {
		return
	}

	post, err := h.svc.SubmitSchedule(r.Context(), OwnerFrom(r.Context()), req)
	if HandleError(w, h.logger, err) {
		return
	}
	Created(w, PostFromDomain(*post))
}

// ListPosts возвращает посты владельца.
// GET /api/v1/posts?limit=...
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.svc.ListPosts(r.Context(), OwnerFrom(r.Context()), limitParam(r))
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]PostResponse, len(posts))
	for i, p := range posts {
		result[i] = PostFromDomain(p)
	}
	List(w, result, len(result))
}

// GetPost возвращает пост.
// GET /api/v1/posts/{id}
func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	post, err := h.svc.GetPost(r.Context(), OwnerFrom(r.Context()), id)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, PostFromDomain(*post))
}

// CancelPost отменяет пост. Пост в работе или уже опубликованный
// не отменяется: ответ 200 с cancelled=false.
// POST /api/v1/posts/{id}/cancel
func (h *Handler) CancelPost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	cancelled, err := h.svc.Cancel(r.Context(), OwnerFrom(r.Context()), id)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, CancelResponse{Cancelled: cancelled})
}

// PublishNow публикует пост немедленно.
// POST /api/v1/posts/{id}/publish
func (h *Handler) PublishNow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	owner := OwnerFrom(r.Context())
	if HandleError(w, h.logger, h.svc.PublishNow(r.Context(), owner, id)) {
		return
	}

	post, err := h.svc.GetPost(r.Context(), owner, id)
	if HandleError(w, h.logger, err) {
		return
	}
	Accepted(w, PostFromDomain(*post))
}

// GetAnalytics возвращает метрики опубликованного поста.
// GET /api/v1/posts/{id}/analytics
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rec, err := h.svc.GetAnalytics(r.Context(), OwnerFrom(r.Context()), id)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, rec)
}

// SyncAnalytics ставит синхронизацию метрик поста.
// POST /api/v1/posts/{id}/analytics/sync
func (h *Handler) SyncAnalytics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if HandleError(w, h.logger, h.svc.RequestAnalyticsSync(r.Context(), OwnerFrom(r.Context()), id)) {
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
