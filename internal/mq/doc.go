// Package mq — транспорт задач через RabbitMQ.
//
// Структура:
//   - connection.go — соединение с reconnect и graceful shutdown
//   - topology.go   — exchanges, очереди и очереди задержки
//   - publisher.go  — Publisher.Enqueue (реализует executor.Trigger)
//   - consumer.go   — потребление tasks.ready с ограничением параллелизма
//
// Сообщение несёт только domain.TaskRef: вид задачи и ID сущности.
// Всё состояние читается из БД, поэтому потерянное или повторное
// сообщение безопасно: worker подберёт сущность через polling, а
// повтор закончится no-op на условном UPDATE.
//
// Отложенные задачи:
//
//	publish ─► "" (default) ─► tasks.delay.<ms> (x-message-ttl=<ms>)
//	              истёк TTL ─► postmill.tasks ─► tasks.ready ─► Worker
//
// Очередь задержки объявляется лениво на каждое уникальное значение
// задержки и удаляется брокером после простоя (x-expires).
package mq
