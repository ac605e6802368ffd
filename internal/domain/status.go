package domain

// JobState — состояние задания на генерацию изображения.
//
// Жизненный цикл:
//
//	PENDING → GENERATING → GENERATED → VALIDATED
//	                     ↘ FAILED    ↘ REJECTED
//
// Повторные попытки генерации происходят внутри GENERATING
// (растёт AttemptCount), отдельного состояния для них нет.
type JobState string

const (
	// JobPending — задание создано, генерация ещё не начиналась.
	JobPending JobState = "PENDING"

	// JobGenerating — идёт генерация (или ожидается повторная попытка).
	JobGenerating JobState = "GENERATING"

	// JobGenerated — изображение готово и ждёт проверки человеком.
	JobGenerated JobState = "GENERATED"

	// JobValidated — изображение одобрено.
	JobValidated JobState = "VALIDATED"

	// JobRejected — изображение отклонено.
	JobRejected JobState = "REJECTED"

	// JobFailed — генерация не удалась после всех попыток.
	JobFailed JobState = "FAILED"
)

var jobTransitions = map[JobState][]JobState{
	JobPending:    {JobGenerating},
	JobGenerating: {JobGenerated, JobFailed},
	JobGenerated:  {JobValidated, JobRejected},
}

// AllJobStates перечисляет все состояния задания.
var AllJobStates = []JobState{JobPending, JobGenerating, JobGenerated, JobValidated, JobRejected, JobFailed}

// IsTerminal возвращает true для финальных состояний.
// Повторная генерация делается новым заданием, а не рестартом старого.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobValidated, JobRejected, JobFailed:
		return true
	default:
		return false
	}
}

// IsReady возвращает true, если артефакт можно ставить в публикацию.
func (s JobState) IsReady() bool {
	return s == JobGenerated || s == JobValidated
}

// IsInFlight возвращает true, пока генерация ещё не закончилась.
func (s JobState) IsInFlight() bool {
	return s == JobPending || s == JobGenerating
}

// Valid проверяет, что значение входит в перечисление.
func (s JobState) Valid() bool {
	for _, v := range AllJobStates {
		if s == v {
			return true
		}
	}
	return false
}

func (s JobState) String() string {
	return string(s)
}

// CanTransitionJob проверяет, есть ли ребро from → to.
func CanTransitionJob(from, to JobState) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PostState — состояние запланированной публикации.
//
// Жизненный цикл:
//
//	SCHEDULED → PROCESSING → POSTED
//	    ↓           ↓
//	CANCELLED ← FAILED → PROCESSING (повторная отправка)
//
// Из SCHEDULED в PROCESSING пост попадает только через атомарный claim.
type PostState string

const (
	// PostScheduled — пост ждёт своего времени.
	PostScheduled PostState = "SCHEDULED"

	// PostProcessing — пост захвачен и публикуется.
	PostProcessing PostState = "PROCESSING"

	// PostPosted — пост опубликован на платформе.
	PostPosted PostState = "POSTED"

	// PostFailed — публикация не удалась. Можно отменить или отправить снова.
	PostFailed PostState = "FAILED"

	// PostCancelled — пост отменён владельцем.
	PostCancelled PostState = "CANCELLED"
)

var postTransitions = map[PostState][]PostState{
	PostScheduled:  {PostProcessing, PostCancelled},
	PostProcessing: {PostPosted, PostFailed},
	PostFailed:     {PostProcessing, PostCancelled},
}

// AllPostStates перечисляет все состояния поста.
var AllPostStates = []PostState{PostScheduled, PostProcessing, PostPosted, PostFailed, PostCancelled}

// IsTerminal возвращает true для POSTED и CANCELLED.
func (s PostState) IsTerminal() bool {
	return s == PostPosted || s == PostCancelled
}

// CanCancel возвращает true, если из этого состояния разрешена отмена.
func (s PostState) CanCancel() bool {
	return CanTransitionPost(s, PostCancelled)
}

// CanDispatch возвращает true, если пост можно захватить на публикацию.
func (s PostState) CanDispatch() bool {
	return CanTransitionPost(s, PostProcessing)
}

func (s PostState) Valid() bool {
	for _, v := range AllPostStates {
		if s == v {
			return true
		}
	}
	return false
}

func (s PostState) String() string {
	return string(s)
}

// CanTransitionPost проверяет, есть ли ребро from → to.
func CanTransitionPost(from, to PostState) bool {
	for _, next := range postTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
