package executor

import "time"

// Policy — политика повторов.
type Policy struct {
	// MaxAttempts — сколько попыток всего (включая первую).
	MaxAttempts int

	// Backoff — "fixed" или "exponential".
	Backoff string

	// InitialDelay — задержка после первой неудачи.
	InitialDelay time.Duration

	// MaxDelay — верхняя граница задержки для exponential.
	MaxDelay time.Duration

	// Timeout — ограничение на одну попытку. 0 — без ограничения.
	Timeout time.Duration
}

// Политики по умолчанию.
var (
	GenerationPolicy = Policy{
		MaxAttempts:  3,
		Backoff:      "fixed",
		InitialDelay: 60 * time.Second,
		Timeout:      120 * time.Second,
	}

	PublishPolicy = Policy{
		MaxAttempts:  3,
		Backoff:      "fixed",
		InitialDelay: 300 * time.Second,
		Timeout:      30 * time.Second,
	}
)

// Delay возвращает задержку перед попыткой attempt+1.
func (p Policy) Delay(attempt int) time.Duration {
	return calculateBackoff(attempt, p)
}

// calculateBackoff вычисляет задержку перед retry.
func calculateBackoff(attempt int, p Policy) time.Duration {
	initial := p.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}

	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = initial
	}

	switch p.Backoff {
	case "exponential":
		// delay = initial * 2^(attempt-1)
		delay := initial
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay >= maxDelay {
				return maxDelay
			}
		}
		return min(delay, maxDelay)
	default:
		// "fixed" или неизвестный
		return initial
	}
}
