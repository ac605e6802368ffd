// Package scheduler запускает периодические задачи сервиса.
//
// Структура:
//   - poller.go — Poller: находит наступившие посты и захватывает их
//   - cron.go   — разбор cron-выражений и вычисление следующего запуска
//   - runner.go — Runner: robfig/cron с recover и leader election
//
// Использование:
//
//	poller := scheduler.NewPoller(scheduler.PollerConfig{
//	    Posts:      postRepo,
//	    Dispatcher: dispatcher,
//	    Logger:     logger,
//	})
//
//	runner := scheduler.NewRunner(leader, logger)
//	runner.Add(scheduler.Job{Name: "poller", Spec: "@every 5m", Run: poller.Run})
//	runner.Add(scheduler.Job{Name: "analytics", Spec: "0 3 * * *", Run: sync.Run})
//	runner.Start(ctx) // блокирует до отмены ctx
//
// Leader Election:
//
// Запускать задачи может только один процесс. Перед каждым запуском
// Runner вызывает Leader.TryAcquire (pg_try_advisory_lock); не лидер
// пропускает запуск.
package scheduler
