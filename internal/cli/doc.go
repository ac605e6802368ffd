// Package cli реализует инструмент командной строки Postmill.
//
// # Обзор
//
// CLI работает с Postmill API по HTTP и не импортирует внутренние пакеты:
// типы ответов продублированы в client.go. Владелец передаётся заголовком
// X-Owner-ID (флаг --owner или переменная POSTMILL_OWNER).
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент: запросы, разбор DataResponse/ListResponse/ErrorResponse,
// ошибки сервера как *APIError.
//
//	client := cli.NewClient("http://localhost:8080", owner)
//	job, err := client.SubmitJob(ctx, cli.SubmitJobRequest{Prompt: "sunset"})
//
// ## Output
//
// Таблицы (text/tabwriter) по умолчанию, JSON с флагом --json.
// Данные идут в stdout, сообщения в stderr:
//
//	postmill post list --json | jq '.[] | select(.state == "FAILED")'
//
// ## Commands
//
//   - job: submit, get, list, validate, reject
//   - post: schedule, get, list, cancel, publish, analytics, sync
//   - account: link
//   - stats
//
// Каждая группа создаётся фабрикой (NewJobCmd и т.д.), принимающей clientFn
// и outputFn: Client и Output создаются после разбора PersistentFlags.
package cli
