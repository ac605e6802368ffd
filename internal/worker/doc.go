// Package worker исполняет фоновые задачи: генерацию, публикацию и
// синхронизацию метрик.
//
// # Обзор
//
// Задачи приходят двумя путями:
//   - из очереди tasks.ready (mq.Consumer), event-driven;
//   - из polling fallback: сущности в работе с next_attempt_at <= now.
//
// Оба пути делят один semaphore, поэтому одновременно в работе не больше
// Concurrency задач. Повторная доставка безопасна: pipeline сам проверяет
// состояние и выигрывает попытку условным UPDATE. Без RabbitMQ воркер
// работает только на polling.
//
// Workers масштабируются горизонтально.
//
// # Использование
//
//	reg := worker.NewRegistry()
//	reg.Register(domain.TaskGenerate, worker.PipelineHandler(genPipeline))
//	reg.Register(domain.TaskPublish, worker.PipelineHandler(pubPipeline))
//	reg.Register(domain.TaskSyncAnalytics, worker.AnalyticsHandler(sync, logger))
//
//	w := worker.New(worker.Config{
//	    Registry:    reg,
//	    Conn:        conn,
//	    Jobs:        jobRepo,
//	    Posts:       postRepo,
//	    Concurrency: 8,
//	    Logger:      logger,
//	})
//	err := w.Run(ctx) // блокируется до отмены ctx
//
// # Ошибки
//
// Handler возвращает ошибку только если исход не записан (хранилище
// недоступно, воркер останавливается). Такое сообщение возвращается в
// очередь. Неизвестный вид задачи подтверждается и логируется,
// паника обработчика перехватывается и превращается в ErrTaskPanicked.
package worker
