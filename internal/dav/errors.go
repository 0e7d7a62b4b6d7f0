package dav

import "fmt"

// StatusError reports an upstream reply outside the expected status set.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("dav: upstream returned %d: %s", e.Code, body)
}
