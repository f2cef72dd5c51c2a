package llmdriver

import (
	"errors"
	"math"
	"math/rand"
	"strings"
)

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// Decision is the outcome of DecideRetry: either retry after DelayMs or fail.
type Decision struct {
	Retry   bool
	DelayMs int64
}

var transientSubstrings = []string{
	"timeout", "timed out", "rate limit", "econnreset",
	"socket hang up", "enotfound", "eai_again",
	"connection reset", "dns", "broken pipe",
}

// DecideRetry is the pure (error, attempt, aborted) -> Retry(delayMs) | Fail
// decision. attempt is 1-indexed (the attempt that just failed).
func DecideRetry(err error, attempt int, aborted bool) Decision {
	return decideRetryWithRand(err, attempt, aborted, rand.Float64())
}

func decideRetryWithRand(err error, attempt int, aborted bool, randValue float64) Decision {
	if aborted || err == nil {
		return Decision{Retry: false}
	}
	if !isRetryable(err) {
		return Decision{Retry: false}
	}
	base := math.Min(8000, 500*math.Pow(2, float64(attempt-1)))
	jitter := 0.5 + randValue // random in [0.5, 1.5)
	delay := math.Round(base * jitter)
	return Decision{Retry: true, DelayMs: int64(delay)}
}

func isRetryable(err error) bool {
	var coder StatusCoder
	if errors.As(err, &coder) {
		code := coder.StatusCode()
		if code == 408 || code == 409 || code == 429 || (code >= 500 && code <= 599) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, sub := range transientSubstrings {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}
