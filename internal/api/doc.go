// Package api — HTTP API поверх service.Service.
//
// Структура:
//   - handler.go         — Handler с зависимостями
//   - routes.go          — регистрация маршрутов
//   - middleware.go      — logging, recovery, владелец из X-Owner-ID
//   - response.go        — унифицированные JSON-ответы и маппинг ошибок
//   - dto.go             — Data Transfer Objects
//   - job_handler.go     — /jobs
//   - post_handler.go    — /posts
//   - account_handler.go — /accounts и /stats
//
// Аутентификации нет: владелец берётся из заголовка X-Owner-ID,
// который проставляет шлюз перед API.
package api
