package domain

import "errors"

// Таксономия ошибок ядра.
//
// Ошибки оборачиваются через fmt.Errorf("%w: ...") и проверяются errors.Is.
// Executor решает, повторять ли попытку, только по этим значениям.
var (
	// ErrValidation — некорректный ввод. Не повторяется.
	ErrValidation = errors.New("validation error")

	// ErrConfiguration — нет учётных данных или платформа не поддерживается.
	// Не повторяется, сущность сразу переходит в FAILED.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransient — сетевая ошибка или таймаут. Повторяется по политике backoff.
	ErrTransient = errors.New("transient error")

	// ErrNotFound — сущность не найдена.
	ErrNotFound = errors.New("not found")

	// ErrConflict — проигран конкурентный claim. Для вызывающего это no-op.
	ErrConflict = errors.New("concurrency conflict")

	// ErrInvalidTransition — запрошен переход, которого нет в таблице.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// IsFatal возвращает true для ошибок, которые бессмысленно повторять.
func IsFatal(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidTransition)
}
