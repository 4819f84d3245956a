package jobs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/3leaps/inventoryctl/pkg/forecast"
)

// ErrMalformedResult indicates a SUCCESS job whose payload could not be
// interpreted. It is distinct from a FAILED job and from a poll error.
var ErrMalformedResult = errors.New("malformed job result")

// Result is the interpreted outcome of a job observation. It is one of
// Pending, Failed or Succeeded.
type Result interface {
	result()
}

// Pending is the result of a non-terminal job. Note is the server's progress
// text, if any.
type Pending struct {
	Note string
}

// Failed is the result of a FAILED job.
type Failed struct {
	Message string
}

// Succeeded is the result of a SUCCESS job. Payload is the JSON value the
// job produced; a payload the server double-encoded as a JSON string is
// unwrapped when the inner text is itself JSON.
type Succeeded struct {
	Payload json.RawMessage
}

func (Pending) result()   {}
func (Failed) result()    {}
func (Succeeded) result() {}

// Text returns the payload as text: the contents of a JSON string, or the
// raw JSON otherwise.
func (s Succeeded) Text() string {
	var str string
	if err := json.Unmarshal(s.Payload, &str); err == nil {
		return str
	}
	return string(s.Payload)
}

const defaultFailureMessage = "job failed without a message"

// ResultFromResponse interprets the raw "result" field for a given status.
func ResultFromResponse(status Status, raw json.RawMessage) Result {
	switch status {
	case StatusSuccess:
		return Succeeded{Payload: unwrapPayload(raw)}
	case StatusFailed:
		msg := rawText(raw)
		if msg == "" {
			msg = defaultFailureMessage
		}
		return Failed{Message: msg}
	default:
		return Pending{Note: rawText(raw)}
	}
}

func unwrapPayload(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil {
		trimmed := strings.TrimSpace(inner)
		if trimmed != "" && json.Valid([]byte(trimmed)) {
			return json.RawMessage(trimmed)
		}
	}
	return append(json.RawMessage(nil), raw...)
}

// rawText renders a result field for humans: strings unquoted, anything else
// as compact JSON.
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		return buf.String()
	}
	return string(raw)
}

// Decode unmarshals a successful payload into T. A value of T that has a
// Validate method is validated as well. Any failure wraps ErrMalformedResult.
func Decode[T any](s Succeeded) (T, error) {
	var v T
	if len(s.Payload) == 0 {
		return v, fmt.Errorf("%w: empty payload", ErrMalformedResult)
	}
	if err := json.Unmarshal(s.Payload, &v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrMalformedResult, err)
	}
	if vv, ok := any(&v).(interface{ Validate() error }); ok {
		if err := vv.Validate(); err != nil {
			return v, fmt.Errorf("%w: %w", ErrMalformedResult, err)
		}
	}
	return v, nil
}

// DecodePrediction reads a demand prediction job's payload.
func DecodePrediction(s Succeeded) (forecast.Prediction, error) {
	return Decode[forecast.Prediction](s)
}

// DecodeImportSummary reads a sales import job's payload.
func DecodeImportSummary(s Succeeded) (forecast.ImportSummary, error) {
	summary, err := forecast.ParseImportSummary(s.Text())
	if err != nil {
		return summary, fmt.Errorf("%w: %w", ErrMalformedResult, err)
	}
	return summary, nil
}
