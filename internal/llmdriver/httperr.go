package llmdriver

import "fmt"

// httpStatusError wraps a non-2xx HTTP response so DecideRetry can classify
// it by status code.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.status, e.body)
}

func (e *httpStatusError) StatusCode() int { return e.status }
