package worker

import "errors"

var (
	// ErrUnknownTaskKind — нет обработчика для вида задачи.
	ErrUnknownTaskKind = errors.New("unknown task kind")

	// ErrTaskPanicked — обработчик запаниковал; паника перехвачена.
	ErrTaskPanicked = errors.New("task handler panicked")
)
