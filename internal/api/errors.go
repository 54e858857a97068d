package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	errorsx "github.com/instill-ai/x/errors"
)

// Error is a non-2xx response from the backend.
type Error struct {
	Status int
	Code   string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("backend returned %d", e.Status)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap maps the status onto the shared domain errors so callers can use errors.Is.
func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return errorsx.ErrInvalidArgument
	case http.StatusUnauthorized:
		return errorsx.ErrUnauthenticated
	case http.StatusForbidden:
		return errorsx.ErrUnauthorized
	case http.StatusNotFound:
		return errorsx.ErrNotFound
	case http.StatusTooManyRequests:
		return errorsx.ErrRateLimiting
	}
	return nil
}

// errorBody covers the shapes the backend uses for failures.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

// decodeError turns a failed response body into an *Error carrying a
// user-facing message. Structured detail is preferred, then a plain string,
// then a generic message for the status.
func decodeError(status int, body []byte) error {
	e := &Error{Status: status}
	var b errorBody
	if err := json.Unmarshal(body, &b); err != nil {
		e.Detail = strings.TrimSpace(truncate(string(body), 200))
		return errorsx.AddMessage(e, genericMessage(status))
	}
	e.Code = b.Code

	msg := structuredDetail(b.Detail)
	if msg == "" {
		msg = stringDetail(b.Detail)
	}
	if msg == "" {
		msg = strings.TrimSpace(b.Message)
	}
	if msg == "" {
		msg = strings.TrimSpace(b.Error)
	}
	e.Detail = msg
	if msg == "" {
		msg = genericMessage(status)
	}
	return errorsx.AddMessage(e, msg)
}

func structuredDetail(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var obj struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		return obj.Msg
	}
	var list []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &list); err == nil {
		var parts []string
		for _, it := range list {
			if it.Msg != "" {
				parts = append(parts, it.Msg)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

func stringDetail(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func genericMessage(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "Your session is not authorised. Check the backend token."
	case status == http.StatusNotFound:
		return "The requested resource was not found."
	case status == http.StatusTooManyRequests:
		return "Too many requests. Try again in a moment."
	case status >= 500:
		return "The server ran into a problem. Try again later."
	}
	return "The request failed. Try again."
}

func networkError(op string, err error) error {
	return errorsx.AddMessage(fmt.Errorf("%s: %w", op, err), "Could not reach the server. Check your connection.")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
