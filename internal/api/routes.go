package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
		Owner(),
	)

	// Jobs
	mux.Handle("POST /api/v1/jobs", chain(http.HandlerFunc(h.SubmitJob)))
	mux.Handle("GET /api/v1/jobs", chain(http.HandlerFunc(h.ListJobs)))
	mux.Handle("GET /api/v1/jobs/{id}", chain(http.HandlerFunc(h.GetJob)))
	mux.Handle("POST /api/v1/jobs/{id}/validate", chain(http.HandlerFunc(h.ValidateJob)))
	mux.Handle("POST /api/v1/jobs/{id}/reject", chain(http.HandlerFunc(h.RejectJob)))

	// Posts
	mux.Handle("POST /api/v1/posts", chain(http.HandlerFunc(h.SchedulePost)))
	mux.Handle("GET /api/v1/posts", chain(http.HandlerFunc(h.ListPosts)))
	mux.Handle("GET /api/v1/posts/{id}", chain(http.HandlerFunc(h.GetPost)))
	mux.Handle("POST /api/v1/posts/{id}/cancel", chain(http.HandlerFunc(h.CancelPost)))
	mux.Handle("POST /api/v1/posts/{id}/publish", chain(http.HandlerFunc(h.PublishNow)))
	mux.Handle("GET /api/v1/posts/{id}/analytics", chain(http.HandlerFunc(h.GetAnalytics)))
	mux.Handle("POST /api/v1/posts/{id}/analytics/sync", chain(http.HandlerFunc(h.SyncAnalytics)))

	// Accounts & stats
	mux.Handle("PUT /api/v1/accounts/{platform}", chain(http.HandlerFunc(h.LinkAccount)))
	mux.Handle("GET /api/v1/stats", chain(http.HandlerFunc(h.Stats)))
}
