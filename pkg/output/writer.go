package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Writer streams job events.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Each Write* method emits one complete line.
type Writer interface {
	// WriteJobEvent emits a job event.
	WriteJobEvent(ctx context.Context, ev *JobEventRecord) error

	// WriteSummary emits the final summary.
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// NewWriter returns the event writer for a format. Table output uses
// TextWriter; JSON and YAML both stream JSONL.
func NewWriter(w io.Writer, f Format, command string, companyID int64) Writer {
	if f == FormatTable {
		return NewTextWriter(w)
	}
	return NewJSONLWriter(w, command, companyID)
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// JSONLWriter is safe for concurrent use. Writes are serialized using
// a mutex to ensure atomic line writes (no interleaved output).
type JSONLWriter struct {
	w         io.Writer
	command   string
	companyID int64
	mu        sync.Mutex

	// now is replaced in tests.
	now func() time.Time

	closed bool
}

// NewJSONLWriter creates a new JSONL writer.
//
// Parameters:
//   - w: The underlying writer (stdout, file, etc.)
//   - command: The command producing the stream (e.g., "jobs watch")
//   - companyID: The active company, or 0 when unknown
func NewJSONLWriter(w io.Writer, command string, companyID int64) *JSONLWriter {
	return &JSONLWriter{
		w:         w,
		command:   command,
		companyID: companyID,
		now:       time.Now,
	}
}

// WriteJobEvent emits a job event record.
func (jw *JSONLWriter) WriteJobEvent(ctx context.Context, ev *JobEventRecord) error {
	return jw.writeRecord(ctx, TypeJobEvent, ev)
}

// WriteSummary emits a summary record.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

// Close marks the writer as closed.
//
// If the underlying writer implements io.Closer, it is NOT closed.
// The caller is responsible for closing the underlying writer.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// writeRecord marshals data and writes a complete record line while
// holding the mutex.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	record := Record{
		Type:      recordType,
		TS:        jw.now().UTC(),
		Command:   jw.command,
		CompanyID: jw.companyID,
		Data:      dataBytes,
	}
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// TextWriter writes one human readable line per event:
//
//	job 42: RUNNING
//	job 42: SUCCESS 120 sales records successfully imported.
//	job 43: poll error: server error (HTTP 502)
//	job 44: SUCCESS, unreadable result: malformed job result: empty payload
type TextWriter struct {
	w      io.Writer
	mu     sync.Mutex
	closed bool
}

func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: w}
}

// WriteJobEvent emits a job event line.
func (tw *TextWriter) WriteJobEvent(ctx context.Context, ev *JobEventRecord) error {
	var line string
	switch ev.Kind {
	case "poll_error":
		line = fmt.Sprintf("job %d: poll error: %s", ev.JobID, ev.Error)
	case "abandoned":
		line = fmt.Sprintf("job %d: stopped tracking (last status %s): %s", ev.JobID, ev.Status, ev.Error)
	default:
		line = fmt.Sprintf("job %d: %s", ev.JobID, ev.Status)
		switch {
		case ev.Error != "":
			line += ", unreadable result: " + ev.Error
		case ev.Message != "":
			line += " " + ev.Message
		case len(ev.Result) > 0:
			line += " " + string(ev.Result)
		}
	}
	return tw.writeLine(ctx, line)
}

// WriteSummary emits the totals line.
func (tw *TextWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	line := fmt.Sprintf("%d job(s): %d succeeded, %d failed, %d malformed, %d abandoned in %s",
		sum.Jobs, sum.Succeeded, sum.Failed, sum.Malformed, sum.Abandoned, sum.DurationHuman)
	return tw.writeLine(ctx, line)
}

func (tw *TextWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	tw.closed = true
	return nil
}

func (tw *TextWriter) writeLine(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return ErrWriterClosed
	}
	if err := writeAll(tw.w, []byte(line+"\n")); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeAll writes all bytes to w, handling short writes.
//
// io.Writer.Write may return n < len(p) with a nil error (short write).
// This loops until all bytes are written or an error occurs, so no
// partial lines are emitted.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			// No progress made - avoid infinite loop
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var (
	_ Writer = (*JSONLWriter)(nil)
	_ Writer = (*TextWriter)(nil)
)
