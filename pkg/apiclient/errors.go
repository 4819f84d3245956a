package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors classifying API failures.
var (
	// ErrUnauthenticated indicates the server rejected the credential (401/403).
	// The session has already been cleared when this is returned.
	ErrUnauthenticated = errors.New("session is no longer valid")

	// ErrValidation indicates the server rejected the request (4xx other than
	// 401/403). Detail carries the server's explanation.
	ErrValidation = errors.New("request rejected")

	// ErrServer indicates a 5xx response.
	ErrServer = errors.New("server error")

	// ErrTransport indicates the request never produced a response.
	ErrTransport = errors.New("transport error")

	// ErrDecode indicates a 2xx response whose body did not decode.
	ErrDecode = errors.New("unexpected response body")
)

// genericDetail is shown when the server gives no explanation.
const genericDetail = "An unexpected error occurred. Please try again."

// APIError wraps an API failure with context.
type APIError struct {
	// Op is the client operation that failed (e.g., "UploadSales").
	Op string

	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	// Detail is the human-readable explanation, from the server when present.
	Detail string

	// Err is the classifying sentinel, possibly wrapping a cause.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Detail, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *APIError) Unwrap() error {
	return e.Err
}

// IsUnauthenticated returns true if the error indicates the session was invalidated.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// IsValidation returns true if the server rejected the request.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsTransient returns true for failures worth retrying later: no response,
// or a 5xx.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrServer)
}

// StatusCode extracts the HTTP status of an API error, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// UserMessage returns the text to show a user for err: the server's detail
// when present, else a generic fallback.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if strings.TrimSpace(apiErr.Detail) != "" {
			return apiErr.Detail
		}
		return genericDetail
	}
	return err.Error()
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthenticated
	case code >= 500:
		return ErrServer
	default:
		return ErrValidation
	}
}

// parseDetail extracts FastAPI's "detail" field, which is either a string or
// a list of validation issues.
func parseDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var issues []struct {
		Loc []any  `json:"loc"`
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &issues); err == nil {
		parts := make([]string, 0, len(issues))
		for _, issue := range issues {
			if issue.Msg == "" {
				continue
			}
			if field := issueField(issue.Loc); field != "" {
				parts = append(parts, field+": "+issue.Msg)
			} else {
				parts = append(parts, issue.Msg)
			}
		}
		return strings.Join(parts, "; ")
	}

	return strings.TrimSpace(string(envelope.Detail))
}

func issueField(loc []any) string {
	if len(loc) == 0 {
		return ""
	}
	// loc[0] is the request part ("body", "query"); the rest names the field.
	parts := make([]string, 0, len(loc))
	for i, l := range loc {
		if i == 0 && len(loc) > 1 {
			continue
		}
		parts = append(parts, fmt.Sprint(l))
	}
	return strings.Join(parts, ".")
}
