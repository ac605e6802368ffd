// Package telemetry обеспечивает наблюдаемость сервисов Postmill.
//
// Включает:
//   - logging.go — structured logging через slog (JSON или tint)
//   - metrics.go — Prometheus метрики пайплайнов
//
// Все бинарники используют единый формат логирования
// и отдают метрики на /metrics.
package telemetry
