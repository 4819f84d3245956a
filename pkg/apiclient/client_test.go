package apiclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/inventoryctl/internal/apitest"
	"github.com/3leaps/inventoryctl/pkg/apiclient"
	"github.com/3leaps/inventoryctl/pkg/session"
)

func newClient(t *testing.T, baseURL string, opts ...apiclient.Option) (*apiclient.Client, *session.Store) {
	t.Helper()
	store := session.NewStore(session.NewMemoryPersister())
	c, err := apiclient.New(baseURL, store, opts...)
	require.NoError(t, err)
	return c, store
}

func TestNew_Validation(t *testing.T) {
	store := session.NewStore(nil)

	tests := []struct {
		name    string
		baseURL string
		store   *session.Store
		wantErr string
	}{
		{name: "empty base url", baseURL: " ", store: store, wantErr: "base url is required"},
		{name: "non http scheme", baseURL: "ftp://example.com", store: store, wantErr: "must be http(s)"},
		{name: "missing store", baseURL: "http://localhost:8000", wantErr: "session store is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := apiclient.New(tt.baseURL, tt.store)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	c, err := apiclient.New("http://localhost:8000/", store)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000", c.BaseURL())
	assert.Same(t, store, c.Session())
}

func TestClient_AuthenticateAndTenantHeaders(t *testing.T) {
	ctx := context.Background()
	srv := apitest.NewServer(t)
	srv.AddUser("ops@example.com", "secret", "Acme", "Globex")

	c, store := newClient(t, srv.URL)

	user, err := c.Authenticate(ctx, "ops@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", user.Email)
	require.True(t, store.IsAuthenticated())

	_, err = c.ListProducts(ctx)
	require.NoError(t, err)

	require.NoError(t, store.SetActiveCompany(ctx, 2))
	_, err = c.ListProducts(ctx)
	require.NoError(t, err)

	reqs := srv.Requests()
	require.Len(t, reqs, 3)

	login := reqs[0]
	assert.Equal(t, "/api/v1/login/token", login.Path)
	assert.Empty(t, login.Authorization)
	assert.Empty(t, login.CompanyID)
	assert.NotEmpty(t, login.RequestID)

	assert.Equal(t, "Bearer "+store.Token(), reqs[1].Authorization)
	assert.Equal(t, "1", reqs[1].CompanyID)
	assert.Equal(t, "2", reqs[2].CompanyID)
	assert.NotEqual(t, reqs[1].RequestID, reqs[2].RequestID)
}

func TestClient_LoginBadCredentials(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddUser("ops@example.com", "secret", "Acme")

	var hooked atomic.Int32
	c, store := newClient(t, srv.URL, apiclient.WithUnauthenticatedHandler(func(context.Context, int) {
		hooked.Add(1)
	}))

	_, err := c.Authenticate(context.Background(), "ops@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, apiclient.IsUnauthenticated(err))
	assert.Equal(t, "Incorrect email or password", apiclient.UserMessage(err))
	assert.False(t, store.IsAuthenticated())
	assert.Equal(t, int32(1), hooked.Load())
}

func TestClient_RejectedCredentialClearsSession(t *testing.T) {
	ctx := context.Background()

	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"detail":"Could not validate credentials"}`))
			}))
			t.Cleanup(srv.Close)

			var gotStatus atomic.Int32
			p := session.NewMemoryPersister()
			store := session.NewStore(p)
			store.Login(ctx, session.UserProfile{
				ID: 1, Email: "a@example.com", IsActive: true,
				Companies: []session.Membership{{ID: 4, Name: "Acme", Role: session.RoleAdmin}},
			}, "expired")

			c, err := apiclient.New(srv.URL, store, apiclient.WithUnauthenticatedHandler(func(_ context.Context, code int) {
				gotStatus.Store(int32(code))
			}))
			require.NoError(t, err)

			_, err = c.ListProducts(ctx)
			require.Error(t, err)
			assert.True(t, apiclient.IsUnauthenticated(err))
			assert.Equal(t, status, apiclient.StatusCode(err))

			assert.Equal(t, session.Snapshot{}, store.Snapshot())
			assert.Equal(t, 0, p.Len())
			assert.Equal(t, int32(status), gotStatus.Load())
		})
	}
}

func TestClient_RejectedCredentialWithoutDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	p := session.NewMemoryPersister()
	store := session.NewStore(p)
	store.Login(context.Background(), session.UserProfile{ID: 1, Email: "a@example.com"}, "tok")

	c, err := apiclient.New(srv.URL, store)
	require.NoError(t, err)

	_, err = c.Me(context.Background())
	require.Error(t, err)
	assert.Equal(t, "authentication required", apiclient.UserMessage(err))
	assert.False(t, store.IsAuthenticated())
	assert.Equal(t, 0, p.Len())
}

func TestClient_ErrorDetail(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
		wantErr    error
	}{
		{
			name:       "string detail",
			status:     http.StatusBadRequest,
			body:       `{"detail":"Product with SKU 'A-1' already exists."}`,
			wantDetail: "Product with SKU 'A-1' already exists.",
			wantErr:    apiclient.ErrValidation,
		},
		{
			name:       "validation issues",
			status:     http.StatusUnprocessableEntity,
			body:       `{"detail":[{"loc":["body","email"],"msg":"field required"},{"loc":["body","password"],"msg":"too short"}]}`,
			wantDetail: "email: field required; password: too short",
			wantErr:    apiclient.ErrValidation,
		},
		{
			name:       "no detail falls back to generic",
			status:     http.StatusBadRequest,
			body:       `not json`,
			wantDetail: "An unexpected error occurred. Please try again.",
			wantErr:    apiclient.ErrValidation,
		},
		{
			name:       "server error",
			status:     http.StatusInternalServerError,
			body:       `{"detail":"Internal Server Error"}`,
			wantDetail: "Internal Server Error",
			wantErr:    apiclient.ErrServer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			c, store := newClient(t, srv.URL)
			store.Login(context.Background(), session.UserProfile{ID: 1}, "tok")

			_, err := c.ListProducts(context.Background())
			require.Error(t, err)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantDetail, apiclient.UserMessage(err))
			assert.Equal(t, tt.status, apiclient.StatusCode(err))
			assert.True(t, store.IsAuthenticated(), "non-auth errors keep the session")
		})
	}
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := newClient(t, url, apiclient.WithTimeout(2*time.Second))
	_, err := c.Me(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apiclient.ErrTransport)
	assert.True(t, apiclient.IsTransient(err))
	assert.Equal(t, 0, apiclient.StatusCode(err))
}

func TestClient_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id": "not-a-number"}`))
	}))
	t.Cleanup(srv.Close)

	c, _ := newClient(t, srv.URL)
	_, err := c.Me(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apiclient.ErrDecode)
	assert.False(t, apiclient.IsTransient(err))
}

func TestClient_SubmissionWithoutJobID(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "zero id", body: `{"job_id": 0, "status": "PENDING"}`},
		{name: "no id field", body: `{"status": "PENDING"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusAccepted)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			c, _ := newClient(t, srv.URL)
			sub, err := c.TriggerPrediction(context.Background(), 1)
			require.Error(t, err)
			assert.Nil(t, sub)
			assert.ErrorIs(t, err, apiclient.ErrDecode)

			sub, err = c.UploadSales(context.Background(), "jan.csv", strings.NewReader("date,sku,quantity\n"))
			require.Error(t, err)
			assert.Nil(t, sub)
			assert.ErrorIs(t, err, apiclient.ErrDecode)
		})
	}
}

func TestClient_CompanyLifecycle(t *testing.T) {
	ctx := context.Background()
	srv := apitest.NewServer(t)
	c, store := newClient(t, srv.URL)

	_, err := c.RegisterAndAuthenticate(ctx, "founder@example.com", "pw")
	require.NoError(t, err)
	_, hasCompany := store.ActiveCompanyID()
	require.False(t, hasCompany)

	details, err := c.CreateCompany(ctx, "  Acme  ")
	require.NoError(t, err)
	assert.Equal(t, "Acme", details.Name)

	_, err = c.RefreshSession(ctx)
	require.NoError(t, err)
	id, ok := store.ActiveCompanyID()
	require.True(t, ok)
	assert.Equal(t, details.ID, id)

	_, err = c.InviteUser(ctx, "analyst@example.com", session.RoleMember)
	require.NoError(t, err)

	got, err := c.CompanyDetails(ctx)
	require.NoError(t, err)
	require.Len(t, got.Members, 2)
	assert.Equal(t, "analyst@example.com", got.Members[0].Email)
	assert.Equal(t, session.RoleMember, got.Members[0].Role)

	_, err = c.InviteUser(ctx, "x@example.com", "owner")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid role")
}

func TestClient_ProductCRUD(t *testing.T) {
	ctx := context.Background()
	srv := apitest.NewServer(t)
	srv.AddUser("ops@example.com", "secret", "Acme")
	c, _ := newClient(t, srv.URL)
	_, err := c.Authenticate(ctx, "ops@example.com", "secret")
	require.NoError(t, err)

	created, err := c.CreateProduct(ctx, apiclient.ProductCreate{SKU: "A-1", Name: "Widget"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.CompanyID)

	_, err = c.CreateProduct(ctx, apiclient.ProductCreate{SKU: "A-1", Name: "Dup"})
	require.ErrorIs(t, err, apiclient.ErrValidation)
	assert.Contains(t, apiclient.UserMessage(err), "already exists")

	name := "Widget Pro"
	updated, err := c.UpdateProduct(ctx, created.ID, apiclient.ProductUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Widget Pro", updated.Name)
	assert.Equal(t, "A-1", updated.SKU)

	_, err = c.UpdateProduct(ctx, created.ID, apiclient.ProductUpdate{})
	require.Error(t, err)

	list, err := c.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, c.DeleteProduct(ctx, created.ID))
	err = c.DeleteProduct(ctx, created.ID)
	require.ErrorIs(t, err, apiclient.ErrValidation)
	assert.Equal(t, http.StatusNotFound, apiclient.StatusCode(err))
}

func TestClient_UploadSalesStreamsMultipart(t *testing.T) {
	ctx := context.Background()
	srv := apitest.NewServer(t)
	srv.AddUser("ops@example.com", "secret", "Acme")
	srv.SetNextJobID(41)
	c, _ := newClient(t, srv.URL)
	_, err := c.Authenticate(ctx, "ops@example.com", "secret")
	require.NoError(t, err)

	csv := "date,sku,quantity\n2024-01-01,A-1,3\n"
	sub, err := c.UploadSales(ctx, "/tmp/exports/sales.csv", strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, int64(41), sub.JobID)
	assert.Equal(t, "PENDING", sub.Status)

	got, ok := srv.Upload("sales.csv")
	require.True(t, ok)
	assert.Equal(t, csv, string(got))

	_, err = c.UploadSales(ctx, "notes.txt", strings.NewReader("x"))
	require.ErrorIs(t, err, apiclient.ErrValidation)
	assert.Equal(t, "Invalid file type. Please upload a CSV file.", apiclient.UserMessage(err))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestClient_UploadSalesReaderFailure(t *testing.T) {
	ctx := context.Background()
	srv := apitest.NewServer(t)
	srv.AddUser("ops@example.com", "secret", "Acme")
	c, _ := newClient(t, srv.URL)
	_, err := c.Authenticate(ctx, "ops@example.com", "secret")
	require.NoError(t, err)

	_, err = c.UploadSales(ctx, "sales.csv", failingReader{})
	require.Error(t, err)
	_, uploaded := srv.Upload("sales.csv")
	assert.False(t, uploaded)
}

func TestClient_JobStatus(t *testing.T) {
	ctx := context.Background()
	srv := apitest.NewServer(t)
	srv.AddUser("ops@example.com", "secret", "Acme")
	productID := srv.AddProduct(1, "A-1", "Widget")
	srv.SetNextJobID(9)
	srv.ScriptJob(9,
		apitest.Step{Status: "RUNNING"},
		apitest.Step{Status: "SUCCESS", Result: apitest.StringResult(`{"forecast_90_days":{"dates":["2024-01-01"],"predicted_demand":[1.5]}}`)},
	)
	c, _ := newClient(t, srv.URL)
	_, err := c.Authenticate(ctx, "ops@example.com", "secret")
	require.NoError(t, err)

	sub, err := c.TriggerPrediction(ctx, productID)
	require.NoError(t, err)
	require.Equal(t, int64(9), sub.JobID)
	assert.Contains(t, sub.Message, "A-1")

	first, err := c.JobStatus(ctx, sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", first.Status)
	assert.False(t, first.CreatedAt.IsZero())
	assert.Equal(t, time.UTC, first.CreatedAt.Location())
	assert.NotNil(t, first.StartedAt.TimePtr())
	assert.Nil(t, first.CompletedAt.TimePtr())

	second, err := c.JobStatus(ctx, sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", second.Status)
	assert.NotNil(t, second.CompletedAt.TimePtr())
	assert.Equal(t, 2, srv.PollCount(9))

	_, err = c.JobStatus(ctx, 404)
	require.ErrorIs(t, err, apiclient.ErrValidation)
	assert.Equal(t, "Job not found.", apiclient.UserMessage(err))
}

func TestClient_RateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"id":1,"email":"a@example.com","is_active":true,"companies":[]}`))
	}))
	t.Cleanup(srv.Close)

	c, _ := newClient(t, srv.URL, apiclient.WithRateLimit(1, 1))

	_, err := c.Me(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Me(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, apiclient.ErrTransport)
	assert.Equal(t, int32(1), hits.Load())
}

func TestTimestamp_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{name: "naive microseconds", in: `"2024-05-01T10:20:30.123456"`, want: time.Date(2024, 5, 1, 10, 20, 30, 123456000, time.UTC)},
		{name: "naive seconds", in: `"2024-05-01T10:20:30"`, want: time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC)},
		{name: "space separated", in: `"2024-05-01 10:20:30"`, want: time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC)},
		{name: "rfc3339 offset", in: `"2024-05-01T12:20:30+02:00"`, want: time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC)},
		{name: "null", in: `null`},
		{name: "empty", in: `""`},
		{name: "garbage", in: `"yesterday"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts apiclient.Timestamp
			err := ts.UnmarshalJSON([]byte(tt.in))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(ts.Time), "got %s", ts.Time)
		})
	}
}
