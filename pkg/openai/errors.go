package openai

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// APIError is a structured error returned by the upstream API.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
	Param      string
	Code       string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("OpenAI API error (status %d)", e.StatusCode)
	}
	return e.Message
}

// StatusError is returned for a failed response whose body is not a
// structured API error.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return "OpenAI API returned an error: " + status
}

// TransportError is returned when the request itself could not be made.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "Network error: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// decodeError builds the error for a failed response from its body.
func decodeError(statusCode int, status string, body []byte) error {
	if gjson.ValidBytes(body) {
		if e := gjson.GetBytes(body, "error"); e.IsObject() {
			return &APIError{
				StatusCode: statusCode,
				Message:    e.Get("message").String(),
				Type:       e.Get("type").String(),
				Param:      e.Get("param").String(),
				Code:       e.Get("code").String(),
			}
		}
	}
	return &StatusError{
		StatusCode: statusCode,
		Status:     status,
		Body:       strings.TrimSpace(string(body)),
	}
}
