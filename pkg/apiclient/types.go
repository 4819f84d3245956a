package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/inventoryctl/pkg/session"
)

// LoginResponse is returned by the token endpoint.
type LoginResponse struct {
	AccessToken string              `json:"access_token"`
	TokenType   string              `json:"token_type"`
	User        session.UserProfile `json:"user"`
}

// JobSubmission is the handle returned when long-running work is accepted.
type JobSubmission struct {
	JobID   int64  `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// JobStatusResponse is the server's view of a job.
//
// Result is kept raw: it is a message string for pending and failed jobs and
// a serialized payload (string or object) for successful ones.
type JobStatusResponse struct {
	JobID       int64           `json:"job_id"`
	Status      string          `json:"status"`
	CreatedAt   Timestamp       `json:"created_at"`
	StartedAt   *Timestamp      `json:"started_at,omitempty"`
	CompletedAt *Timestamp      `json:"completed_at,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// CompanyMember is a member row of a company's details.
type CompanyMember struct {
	ID       int64        `json:"id"`
	Email    string       `json:"email"`
	IsActive bool         `json:"is_active"`
	Role     session.Role `json:"role"`
}

// CompanyDetails describes the active company and its members.
type CompanyDetails struct {
	ID      int64           `json:"id"`
	Name    string          `json:"name"`
	Members []CompanyMember `json:"members"`
}

type Product struct {
	ID          int64   `json:"id"`
	SKU         string  `json:"sku"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	CompanyID   int64   `json:"company_id"`
}

type ProductCreate struct {
	SKU         string  `json:"sku"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// ProductUpdate is a partial update; nil fields are left unchanged.
type ProductUpdate struct {
	SKU         *string `json:"sku,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u ProductUpdate) Empty() bool {
	return u.SKU == nil && u.Name == nil && u.Description == nil
}

// Timestamp accepts RFC 3339 timestamps as well as the zone-less ISO 8601
// form the API emits for naive UTC datetimes.
type Timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed.UTC()
		return nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// TimePtr converts an optional Timestamp.
func (t *Timestamp) TimePtr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}
