package api

import (
	"log/slog"

	"github.com/shaiso/postmill/internal/service"
)

// Handler — главный обработчик API.
type Handler struct {
	svc    *service.Service
	logger *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Service *service.Service
	Logger  *slog.Logger
}

// NewHandler создаёт Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:    cfg.Service,
		logger: logger.With("component", "api"),
	}
}
