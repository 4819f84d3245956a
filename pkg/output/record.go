// Package output renders inventoryctl results and job events.
//
// One-shot results (a product list, company details) go through Printer
// as a table, indented JSON or YAML. Long-running commands that watch jobs
// stream events through a Writer: JSONLWriter emits typed record envelopes,
// one self-contained JSON object per line; TextWriter emits one human
// readable line per event.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: inventoryctl.<type>.v<version>
const (
	// TypeJobEvent identifies job tracker event records.
	TypeJobEvent = "inventoryctl.job_event.v1"

	// TypeSummary identifies the final summary of a watch.
	TypeSummary = "inventoryctl.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "inventoryctl.job_event.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was written.
	TS time.Time `json:"ts"`

	// Command is the CLI command that produced the stream (e.g., "sales import").
	Command string `json:"command"`

	// CompanyID is the tenant the jobs belong to.
	CompanyID int64 `json:"company_id,omitempty"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// JobEventRecord is the data payload for one tracker event.
type JobEventRecord struct {
	JobID int64 `json:"job_id"`

	// Kind is one of status, poll_error, terminal, abandoned.
	Kind string `json:"kind"`

	// Status is the last accepted job status.
	Status string `json:"status,omitempty"`

	// Message carries the failure message or the text of a SUCCESS result.
	Message string `json:"message,omitempty"`

	// Result is a structured SUCCESS payload, when the job produced one.
	Result json.RawMessage `json:"result,omitempty"`

	// Error describes a poll error, the reason tracking was abandoned, or
	// why a SUCCESS result could not be read.
	Error string `json:"error,omitempty"`

	At time.Time `json:"at"`
}

// SummaryRecord is emitted once every watched job has ended.
type SummaryRecord struct {
	Jobs      int `json:"jobs"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Malformed int `json:"malformed"`
	Abandoned int `json:"abandoned"`

	// Duration is the total watch duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")

	// ErrNoTable is returned when a value has no table rendering.
	ErrNoTable = errors.New("value has no table rendering")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
