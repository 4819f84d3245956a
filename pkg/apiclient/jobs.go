package apiclient

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
)

// UploadSales submits a sales CSV for asynchronous import.
//
// The body is streamed; content is never buffered whole in memory.
func (c *Client) UploadSales(ctx context.Context, filename string, content io.Reader) (*JobSubmission, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("upload file name is required")
	}
	if content == nil {
		return nil, fmt.Errorf("upload content is required")
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, content); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	r := request{
		op:          "UploadSales",
		method:      http.MethodPost,
		path:        "/api/v1/sales/upload",
		body:        pr,
		contentType: mw.FormDataContentType(),
	}
	var out JobSubmission
	err := c.do(ctx, r, &out)
	// Unblock the writer goroutine if the request ended before consuming the body.
	_ = pr.Close()
	if err != nil {
		return nil, err
	}
	return acceptedJob(r.op, &out)
}

// TriggerPrediction schedules a demand forecast for a product of the active
// company.
func (c *Client) TriggerPrediction(ctx context.Context, productID int64) (*JobSubmission, error) {
	r := request{op: "TriggerPrediction", method: http.MethodPost, path: fmt.Sprintf("/api/v1/predictions/product/%d", productID)}
	var out JobSubmission
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return acceptedJob(r.op, &out)
}

// acceptedJob rejects a 2xx submission that does not name a job, such as an
// empty body.
func acceptedJob(op string, out *JobSubmission) (*JobSubmission, error) {
	if out.JobID <= 0 {
		return nil, &APIError{
			Op:     op,
			Detail: "the API accepted the request but returned no job id",
			Err:    fmt.Errorf("%w: job_id %d", ErrDecode, out.JobID),
		}
	}
	return out, nil
}

// JobStatus fetches the current state of a job. Fetching is idempotent.
func (c *Client) JobStatus(ctx context.Context, jobID int64) (*JobStatusResponse, error) {
	r := request{op: "JobStatus", method: http.MethodGet, path: fmt.Sprintf("/api/v1/sales/jobs/%d", jobID)}
	var out JobStatusResponse
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
