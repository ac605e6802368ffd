package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/service"
)

// SubmitJob создаёт задание генерации.
// POST /api/v1/jobs
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req service.GenerationRequest
	if !decode(w, r, &req) {
		return
	}

	job, err := h.svc.SubmitGeneration(r.Context(), OwnerFrom(r.Context()), req)
	if HandleError(w, h.logger, err) {
		return
	}
	Created(w, JobFromDomain(*job))
}

// ListJobs возвращает задания владельца.
// GET /api/v1/jobs?limit=...
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.svc.ListJobs(r.Context(), OwnerFrom(r.Context()), limitParam(r))
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]JobResponse, len(jobs))
	for i, j := range jobs {
		result[i] = JobFromDomain(j)
	}
	List(w, result, len(result))
}

// GetJob возвращает задание.
// GET /api/v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	job, err := h.svc.GetJob(r.Context(), OwnerFrom(r.Context()), id)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, JobFromDomain(*job))
}

// ValidateJob одобряет изображение.
// POST /api/v1/jobs/{id}/validate
func (h *Handler) ValidateJob(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.svc.ValidateJob)
}

// RejectJob отклоняет изображение.
// POST /api/v1/jobs/{id}/reject
func (h *Handler) RejectJob(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.svc.RejectJob)
}

type reviewFunc func(ctx context.Context, owner, id uuid.UUID, req service.ReviewRequest) (*domain.GenerationJob, error)

func (h *Handler) review(w http.ResponseWriter, r *http.Request, fn reviewFunc) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req service.ReviewRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	job, err := fn(r.Context(), OwnerFrom(r.Context()), id, req)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, JobFromDomain(*job))
}
