package api

import (
	"net/http"

	"github.com/shaiso/postmill/internal/service"
)

// LinkAccount привязывает аккаунт платформы.
// PUT /api/v1/accounts/{platform}
func (h *Handler) LinkAccount(w http.ResponseWriter, r *http.Request) {
	var req service.AccountRequest
	if !decode(w, r, &req) {
		return
	}

	acc, err := h.svc.LinkAccount(r.Context(), OwnerFrom(r.Context()), r.PathValue("platform"), req)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, acc)
}

// Stats возвращает сводку по владельцу.
// GET /api/v1/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context(), OwnerFrom(r.Context()))
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, stats)
}
