// Package apitest provides an in-process fake of the forecasting API for tests.
//
// The fake keeps accounts, companies, products and jobs in memory, enforces
// bearer tokens and the X-Company-ID tenant header the way the real backend
// does, and lets a test script the sequence of statuses a job reports.
package apitest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/3leaps/inventoryctl/pkg/session"
)

// Step is one scripted answer to a job status poll.
type Step struct {
	// Status is the job status reported (PENDING, RUNNING, SUCCESS, FAILED).
	Status string

	// Result is the raw JSON "result" value. Empty means a placeholder string.
	Result json.RawMessage

	// HTTPStatus, when non-zero, makes this poll fail with that status
	// instead of answering (e.g. 500, 401).
	HTTPStatus int

	// Delay holds the response back before answering.
	Delay time.Duration
}

// StringResult encodes s as a JSON string result.
func StringResult(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// RecordedRequest is what the fake saw of an inbound request.
type RecordedRequest struct {
	Method        string
	Path          string
	Authorization string
	CompanyID     string
	RequestID     string
}

type account struct {
	password string
	profile  session.UserProfile
}

type job struct {
	id        int64
	ownerID   int64
	createdAt time.Time
	steps     []Step
	polls     int
}

type product struct {
	ID          int64   `json:"id"`
	SKU         string  `json:"sku"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	CompanyID   int64   `json:"company_id"`
}

// Server is the fake API.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	accounts      map[string]*account
	tokens        map[string]string
	companies     map[int64]string
	products      map[int64]*product
	jobs          map[int64]*job
	scripts       map[int64][]Step
	uploads       map[string][]byte
	dashboards    map[int64]json.RawMessage
	requests      []RecordedRequest
	nextUserID    int64
	nextCompanyID int64
	nextProductID int64
	nextJobID     int64
}

// NewServer starts a fake API. It is closed when the test ends.
func NewServer(t interface{ Cleanup(func()) }) *Server {
	s := &Server{
		accounts:      make(map[string]*account),
		tokens:        make(map[string]string),
		companies:     make(map[int64]string),
		products:      make(map[int64]*product),
		jobs:          make(map[int64]*job),
		scripts:       make(map[int64][]Step),
		uploads:       make(map[string][]byte),
		dashboards:    make(map[int64]json.RawMessage),
		nextUserID:    1,
		nextCompanyID: 1,
		nextProductID: 1,
		nextJobID:     1,
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.record)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login/token", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)
			r.Get("/users/me", s.handleMe)
			r.Post("/company/", s.handleCreateCompany)
			r.Get("/sales/jobs/{jobID}", s.handleJobStatus)

			r.Group(func(r chi.Router) {
				r.Use(s.requireCompany)
				r.Get("/company/", s.handleCompanyDetails)
				r.Post("/company/invite", s.handleInvite)
				r.Get("/products/", s.handleListProducts)
				r.Post("/products/", s.handleCreateProduct)
				r.Put("/products/{productID}", s.handleUpdateProduct)
				r.Delete("/products/{productID}", s.handleDeleteProduct)
				r.Get("/dashboard/product/{productID}", s.handleDashboard)
				r.Post("/sales/upload", s.handleUpload)
				r.Post("/predictions/product/{productID}", s.handlePredict)
			})
		})
	})
	return r
}

// --- test setup -------------------------------------------------------------

// AddUser seeds an account with memberships in the named companies, creating
// them as needed. The first company listed gets the lowest id.
func (s *Server) AddUser(email, password string, companies ...string) session.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile := session.UserProfile{ID: s.nextUserID, Email: email, IsActive: true}
	s.nextUserID++
	for _, name := range companies {
		id := s.companyIDLocked(name)
		profile.Companies = append(profile.Companies, session.Membership{ID: id, Name: name, Role: session.RoleAdmin})
	}
	s.accounts[email] = &account{password: password, profile: profile}
	return profile
}

func (s *Server) companyIDLocked(name string) int64 {
	for id, n := range s.companies {
		if n == name {
			return id
		}
	}
	id := s.nextCompanyID
	s.nextCompanyID++
	s.companies[id] = name
	return id
}

// IssueToken returns a valid bearer token for email.
func (s *Server) IssueToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := "tok-" + uuid.NewString()
	s.tokens[tok] = email
	return tok
}

// RevokeTokens invalidates every issued token.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]string)
}

// AddProduct seeds a product in a company.
func (s *Server) AddProduct(companyID int64, sku, name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextProductID
	s.nextProductID++
	s.products[id] = &product{ID: id, SKU: sku, Name: name, CompanyID: companyID}
	return id
}

// SetDashboard sets the raw dashboard body returned for a product.
func (s *Server) SetDashboard(productID int64, body json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dashboards[productID] = body
}

// SetNextJobID makes the next submission return id.
func (s *Server) SetNextJobID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextJobID = id
}

// ScriptJob sets the poll answers for job id. Once exhausted, the last step
// repeats. Scripts may be set before or after the job is submitted.
func (s *Server) ScriptJob(id int64, steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[id] = steps
	if j, ok := s.jobs[id]; ok {
		j.steps = steps
	}
}

// AddJob registers a job owned by email without a submission call.
func (s *Server) AddJob(id int64, email string, steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var owner int64
	if a, ok := s.accounts[email]; ok {
		owner = a.profile.ID
	}
	s.jobs[id] = &job{id: id, ownerID: owner, createdAt: time.Now().UTC(), steps: steps}
}

// PollCount returns how many status polls job id has answered.
func (s *Server) PollCount(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		return j.polls
	}
	return 0
}

// Upload returns the bytes received for an uploaded file name.
func (s *Server) Upload(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.uploads[name]
	return b, ok
}

// Requests returns every request seen so far.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// --- middleware -------------------------------------------------------------

type ctxKey int

const (
	ctxAccount ctxKey = iota
	ctxCompany
)

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			CompanyID:     r.Header.Get("X-Company-ID"),
			RequestID:     r.Header.Get("X-Request-ID"),
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		s.mu.Lock()
		email, valid := s.tokens[token]
		acct := s.accounts[email]
		s.mu.Unlock()
		if !valid || acct == nil {
			writeDetail(w, http.StatusForbidden, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(withValue(r, ctxAccount, acct)))
	})
}

func (s *Server) requireCompany(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-Company-ID")
		if raw == "" {
			writeDetail(w, http.StatusBadRequest, "X-Company-ID header is required")
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "X-Company-ID must be an integer")
			return
		}
		s.mu.Lock()
		member := accountFrom(r).profile.HasCompany(id)
		s.mu.Unlock()
		if !member {
			writeDetail(w, http.StatusForbidden, "User does not have access to this company")
			return
		}
		next.ServeHTTP(w, r.WithContext(withValue(r, ctxCompany, id)))
	})
}

// --- handlers ---------------------------------------------------------------

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email == "" || in.Password == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{"loc": []string{"body", "email"}, "msg": "field required", "type": "value_error.missing"}},
		})
		return
	}

	s.mu.Lock()
	if _, exists := s.accounts[in.Email]; exists {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "The user with this email already exists in the system.")
		return
	}
	profile := session.UserProfile{ID: s.nextUserID, Email: in.Email, IsActive: true, Companies: []session.Membership{}}
	s.nextUserID++
	s.accounts[in.Email] = &account{password: in.Password, profile: profile}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid form")
		return
	}
	email, password := r.PostForm.Get("username"), r.PostForm.Get("password")

	s.mu.Lock()
	acct, ok := s.accounts[email]
	var profile session.UserProfile
	if ok {
		profile = acct.profile
	}
	s.mu.Unlock()
	if !ok || acct.password != password {
		writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": s.IssueToken(email),
		"token_type":   "bearer",
		"user":         profile,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	profile := accountFrom(r).profile
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Name) == "" {
		writeDetail(w, http.StatusBadRequest, "Company name is required")
		return
	}

	acct := accountFrom(r)
	s.mu.Lock()
	id := s.nextCompanyID
	s.nextCompanyID++
	s.companies[id] = in.Name
	acct.profile.Companies = append(acct.profile.Companies, session.Membership{ID: id, Name: in.Name, Role: session.RoleAdmin})
	details := s.companyDetailsLocked(id)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, details)
}

func (s *Server) companyDetailsLocked(id int64) map[string]any {
	members := make([]map[string]any, 0)
	emails := make([]string, 0, len(s.accounts))
	for email := range s.accounts {
		emails = append(emails, email)
	}
	sort.Strings(emails)
	for _, email := range emails {
		a := s.accounts[email]
		if m, ok := a.profile.Company(id); ok {
			members = append(members, map[string]any{
				"id": a.profile.ID, "email": email, "is_active": a.profile.IsActive, "role": m.Role,
			})
		}
	}
	return map[string]any{"id": id, "name": s.companies[id], "members": members}
}

func (s *Server) handleCompanyDetails(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	details := s.companyDetailsLocked(companyFrom(r))
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string       `json:"email"`
		Role  session.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email == "" {
		writeDetail(w, http.StatusBadRequest, "email is required")
		return
	}
	companyID := companyFrom(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	if m, _ := accountFrom(r).profile.Company(companyID); m.Role != session.RoleAdmin {
		writeDetail(w, http.StatusForbidden, "Admin role required")
		return
	}
	acct, ok := s.accounts[in.Email]
	if !ok {
		acct = &account{profile: session.UserProfile{ID: s.nextUserID, Email: in.Email, IsActive: true}}
		s.nextUserID++
		s.accounts[in.Email] = acct
	}
	if acct.profile.HasCompany(companyID) {
		writeDetail(w, http.StatusBadRequest, "User is already a member of this company.")
		return
	}
	acct.profile.Companies = append(acct.profile.Companies, session.Membership{ID: companyID, Name: s.companies[companyID], Role: in.Role})
	writeJSON(w, http.StatusOK, acct.profile)
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	companyID := companyFrom(r)
	s.mu.Lock()
	out := make([]*product, 0)
	for _, p := range s.products {
		if p.CompanyID == companyID {
			out = append(out, p)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var in product
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.SKU == "" || in.Name == "" {
		writeDetail(w, http.StatusBadRequest, "sku and name are required")
		return
	}
	companyID := companyFrom(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.CompanyID == companyID && p.SKU == in.SKU {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Product with SKU '%s' already exists.", in.SKU))
			return
		}
	}
	in.ID = s.nextProductID
	in.CompanyID = companyID
	s.nextProductID++
	s.products[in.ID] = &in
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) productForRequest(w http.ResponseWriter, r *http.Request) *product {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid product id")
		return nil
	}
	p, ok := s.products[id]
	if !ok || p.CompanyID != companyFrom(r) {
		writeDetail(w, http.StatusNotFound, "Product not found or you don't have access to it.")
		return nil
	}
	return p
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SKU         *string `json:"sku"`
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.productForRequest(w, r)
	if p == nil {
		return
	}
	if in.SKU != nil {
		p.SKU = *in.SKU
	}
	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.Description != nil {
		p.Description = in.Description
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.productForRequest(w, r)
	if p == nil {
		return
	}
	delete(s.products, p.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	p := s.productForRequest(w, r)
	if p == nil {
		s.mu.Unlock()
		return
	}
	body, ok := s.dashboards[p.ID]
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "No dashboard data for this product.")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "file is required")
		return
	}
	defer func() { _ = file.Close() }()
	if !strings.HasSuffix(header.Filename, ".csv") {
		writeDetail(w, http.StatusBadRequest, "Invalid file type. Please upload a CSV file.")
		return
	}
	content, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "could not read file")
		return
	}

	s.mu.Lock()
	s.uploads[header.Filename] = content
	id := s.submitLocked(accountFrom(r).profile.ID, Step{Status: "SUCCESS", Result: StringResult("1 sales records successfully imported.")})
	s.mu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":  id,
		"status":  "PENDING",
		"message": "Sales data upload has been scheduled. Check job status for progress.",
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	p := s.productForRequest(w, r)
	if p == nil {
		s.mu.Unlock()
		return
	}
	id := s.submitLocked(accountFrom(r).profile.ID, Step{Status: "FAILED", Result: StringResult("no forecast scripted")})
	sku := p.SKU
	s.mu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":  id,
		"status":  "PENDING",
		"message": fmt.Sprintf("Prediction job for product SKU '%s' has been scheduled.", sku),
	})
}

func (s *Server) submitLocked(ownerID int64, fallback Step) int64 {
	id := s.nextJobID
	s.nextJobID++
	steps, ok := s.scripts[id]
	if !ok {
		steps = []Step{{Status: "PENDING"}, fallback}
	}
	s.jobs[id] = &job{id: id, ownerID: ownerID, createdAt: time.Now().UTC(), steps: steps}
	return id
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid job id")
		return
	}

	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Job not found.")
		return
	}
	if j.ownerID != 0 && j.ownerID != accountFrom(r).profile.ID {
		s.mu.Unlock()
		writeDetail(w, http.StatusForbidden, "Not authorized to view this job.")
		return
	}
	step := Step{Status: "PENDING"}
	if len(j.steps) > 0 {
		idx := min(j.polls, len(j.steps)-1)
		step = j.steps[idx]
	}
	j.polls++
	createdAt := j.createdAt
	s.mu.Unlock()

	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-r.Context().Done():
			return
		}
	}
	if step.HTTPStatus != 0 {
		writeDetail(w, step.HTTPStatus, http.StatusText(step.HTTPStatus))
		return
	}

	result := step.Result
	if len(result) == 0 {
		result = StringResult("Waiting...")
	}
	body := map[string]any{
		"job_id":     id,
		"status":     step.Status,
		"created_at": createdAt.Format("2006-01-02T15:04:05.000000"),
		"result":     result,
	}
	if step.Status != "PENDING" {
		body["started_at"] = createdAt.Format("2006-01-02T15:04:05.000000")
	}
	if step.Status == "SUCCESS" || step.Status == "FAILED" {
		body["completed_at"] = time.Now().UTC().Format("2006-01-02T15:04:05.000000")
	}
	writeJSON(w, http.StatusOK, body)
}

// --- helpers ----------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func withValue(r *http.Request, key ctxKey, v any) context.Context {
	return context.WithValue(r.Context(), key, v)
}

func accountFrom(r *http.Request) *account {
	a, _ := r.Context().Value(ctxAccount).(*account)
	if a == nil {
		return &account{}
	}
	return a
}

func companyFrom(r *http.Request) int64 {
	id, _ := r.Context().Value(ctxCompany).(int64)
	return id
}
