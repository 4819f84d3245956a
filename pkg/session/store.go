package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrCompanyNotMember is returned when selecting a company the user does
	// not belong to. The session is left unchanged.
	ErrCompanyNotMember = errors.New("company is not one of the user's memberships")

	// ErrNotAuthenticated is returned by operations that need a session.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Store is the single source of truth for who is logged in, with what
// credential, and on behalf of which tenant.
//
// The exported methods are the only way to mutate session state. Each
// mutation is written through to the Persister before the method returns.
// Persistence failures are logged; they never fail the operation, so the
// in-memory session stays authoritative for the life of the process.
//
// A Store is safe for concurrent use.
type Store struct {
	persister Persister
	logger    *zap.Logger

	mu              sync.RWMutex
	user            *UserProfile
	token           string
	activeCompanyID *int64
	authenticated   bool

	initOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for rejected tenant switches and
// persistence failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore returns an empty (logged out) store backed by p.
// Call InitializeAuth once at process start to rehydrate persisted state.
func NewStore(p Persister, opts ...Option) *Store {
	if p == nil {
		p = NewMemoryPersister()
	}
	s := &Store{persister: p, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login installs a validated user profile and bearer token. The first
// membership, if any, becomes the active company.
func (s *Store) Login(ctx context.Context, user UserProfile, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := user.clone()
	s.user = u
	s.token = token
	s.activeCompanyID = u.defaultCompanyID()
	s.authenticated = true

	s.persistAllLocked(ctx)
	s.logger.Debug("Session started",
		zap.Int64("user_id", u.ID),
		zap.Int("companies", len(u.Companies)))
}

// Logout clears the session and erases its persisted copy. Idempotent.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logoutLocked(ctx)
}

func (s *Store) logoutLocked(ctx context.Context) {
	s.user = nil
	s.token = ""
	s.activeCompanyID = nil
	s.authenticated = false

	for _, key := range persistedKeys {
		if err := s.persister.Delete(ctx, key); err != nil {
			s.logger.Warn("Failed to erase persisted session key", zap.String("key", key), zap.Error(err))
		}
	}
}

// SetActiveCompany switches the active tenant. companyID must be one of the
// user's memberships; otherwise the request is logged and rejected with
// ErrCompanyNotMember and nothing changes.
func (s *Store) SetActiveCompany(ctx context.Context, companyID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.user.HasCompany(companyID) {
		s.logger.Error("Rejected switch to a company outside the user's memberships",
			zap.Int64("company_id", companyID))
		return fmt.Errorf("%w: %d", ErrCompanyNotMember, companyID)
	}

	id := companyID
	s.activeCompanyID = &id
	s.persistCompanyLocked(ctx)
	return nil
}

// RefreshUser replaces the user profile after a "who am I" call, for example
// once a company was created or a membership changed. The active company is
// kept while the user still belongs to it; otherwise the first membership is
// selected.
func (s *Store) RefreshUser(ctx context.Context, user UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authenticated {
		return ErrNotAuthenticated
	}

	u := user.clone()
	s.user = u
	if s.activeCompanyID == nil || !u.HasCompany(*s.activeCompanyID) {
		s.activeCompanyID = u.defaultCompanyID()
	}

	s.persistUserLocked(ctx)
	s.persistCompanyLocked(ctx)
	return nil
}

// InitializeAuth rehydrates the session from the Persister. Only the first
// call has an effect.
//
// A session needs both a token and a user record. A user record that does not
// parse is treated as corruption and the session is fully logged out, as is a
// partial record (one of token/user missing). A stored active company that is
// unparsable or no longer a membership falls back to the first membership.
func (s *Store) InitializeAuth(ctx context.Context) {
	s.initOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.initializeLocked(ctx)
	})
}

// readFailedLocked handles a persister read error during rehydration. Corrupt
// storage is reset and the session fully logged out, so that later writes
// land on a readable, empty state. Any other error leaves storage untouched.
func (s *Store) readFailedLocked(ctx context.Context, key string, err error) {
	if !errors.Is(err, ErrCorrupt) {
		s.logger.Warn("Failed to read persisted session", zap.String("key", key), zap.Error(err))
		return
	}

	s.logger.Error("Persisted session is corrupt; clearing session", zap.Error(err))
	if r, ok := s.persister.(Resetter); ok {
		if err := r.Reset(ctx); err != nil {
			s.logger.Warn("Failed to reset persisted session", zap.Error(err))
		}
	}
	s.logoutLocked(ctx)
}

func (s *Store) initializeLocked(ctx context.Context) {
	token, hasToken, err := s.persister.Get(ctx, KeyToken)
	if err != nil {
		s.readFailedLocked(ctx, KeyToken, err)
		return
	}
	userJSON, hasUser, err := s.persister.Get(ctx, KeyUser)
	if err != nil {
		s.readFailedLocked(ctx, KeyUser, err)
		return
	}

	if !hasToken && !hasUser {
		return
	}
	if !hasToken || !hasUser || token == "" {
		s.logger.Warn("Discarding incomplete persisted session",
			zap.Bool("has_token", hasToken && token != ""),
			zap.Bool("has_user", hasUser))
		s.logoutLocked(ctx)
		return
	}

	var user UserProfile
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		s.logger.Error("Persisted user profile is corrupt; clearing session", zap.Error(err))
		s.logoutLocked(ctx)
		return
	}

	s.user = &user
	s.token = token
	s.authenticated = true
	s.activeCompanyID = nil

	companyStr, hasCompany, err := s.persister.Get(ctx, KeyActiveCompanyID)
	if err != nil {
		s.logger.Warn("Failed to read persisted session", zap.String("key", KeyActiveCompanyID), zap.Error(err))
	}
	if hasCompany {
		id, perr := strconv.ParseInt(strings.TrimSpace(companyStr), 10, 64)
		if perr == nil && user.HasCompany(id) {
			s.activeCompanyID = &id
			return
		}
		s.logger.Warn("Persisted active company is not usable; selecting default",
			zap.String("value", companyStr))
	}

	s.activeCompanyID = user.defaultCompanyID()
	s.persistCompanyLocked(ctx)
}

// Snapshot returns a copy of the current session state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		User:            s.user.clone(),
		Token:           s.token,
		IsAuthenticated: s.authenticated,
	}
	if s.activeCompanyID != nil {
		id := *s.activeCompanyID
		snap.ActiveCompanyID = &id
	}
	return snap
}

// Token returns the bearer token, or "" when logged out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// ActiveCompanyID returns the active tenant, if one is selected.
func (s *Store) ActiveCompanyID() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeCompanyID == nil {
		return 0, false
	}
	return *s.activeCompanyID, true
}

func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// User returns a copy of the logged-in user, or nil.
func (s *Store) User() *UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.clone()
}

func (s *Store) persistAllLocked(ctx context.Context) {
	if err := s.persister.Set(ctx, KeyToken, s.token); err != nil {
		s.logger.Warn("Failed to persist session key", zap.String("key", KeyToken), zap.Error(err))
	}
	s.persistUserLocked(ctx)
	s.persistCompanyLocked(ctx)
}

func (s *Store) persistUserLocked(ctx context.Context) {
	b, err := json.Marshal(s.user)
	if err != nil {
		s.logger.Warn("Failed to encode user profile", zap.Error(err))
		return
	}
	if err := s.persister.Set(ctx, KeyUser, string(b)); err != nil {
		s.logger.Warn("Failed to persist session key", zap.String("key", KeyUser), zap.Error(err))
	}
}

func (s *Store) persistCompanyLocked(ctx context.Context) {
	var err error
	if s.activeCompanyID == nil {
		err = s.persister.Delete(ctx, KeyActiveCompanyID)
	} else {
		err = s.persister.Set(ctx, KeyActiveCompanyID, strconv.FormatInt(*s.activeCompanyID, 10))
	}
	if err != nil {
		s.logger.Warn("Failed to persist session key", zap.String("key", KeyActiveCompanyID), zap.Error(err))
	}
}
