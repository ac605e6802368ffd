// Package executor выполняет единицу работы с ограниченным числом попыток.
//
// # Модель
//
// Каждая попытка начинается с Unit.Begin: единица перечитывает своё
// состояние из хранилища и условным UPDATE занимает следующую попытку.
// Если сущность уже в финальном или более продвинутом состоянии, Begin
// возвращает ErrSettled, и Execute завершается без побочных эффектов.
// Так повторная доставка задачи после падения воркера не приводит
// к двойной записи файла или двойной публикации.
//
// # Классификация ошибок
//
//   - fatal: domain.ErrValidation, domain.ErrConfiguration, domain.ErrNotFound,
//     domain.ErrInvalidTransition — сущность сразу переходит в FAILED
//   - transient: всё остальное, включая таймауты и сетевые ошибки
//
// Transient-ошибка при оставшихся попытках записывается в last_error,
// next_attempt_at сдвигается на задержку backoff, а задача ставится
// в отложенную очередь через Trigger. После последней попытки Unit.Fail
// переводит сущность в FAILED ровно один раз (условный UPDATE).
//
// # Пример
//
//	ex := executor.New(executor.Config{Trigger: publisher, Logger: logger})
//	outcome, err := ex.Execute(ctx, ref, unit, executor.GenerationPolicy)
package executor
