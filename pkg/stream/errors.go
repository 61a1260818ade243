package stream

import (
	"fmt"
)

const noResponseBodyMessage = "Response error: No response body"

// ResponseError is the terminal error of a stream built from a non-2xx
// response. Its message is the response body text.
type ResponseError struct {
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	if e.Body == "" {
		return noResponseBodyMessage
	}
	return e.Body
}

// CallbackError wraps an error returned by one of the caller's callbacks.
type CallbackError struct {
	Hook string
	Err  error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("%s callback failed: %v", e.Hook, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }
