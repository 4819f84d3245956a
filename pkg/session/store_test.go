package session

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func twoCompanyUser() UserProfile {
	return UserProfile{
		ID:       7,
		Email:    "ops@example.com",
		IsActive: true,
		Companies: []Membership{
			{ID: 1, Name: "Acme", Role: RoleAdmin},
			{ID: 2, Name: "Globex", Role: RoleMember},
		},
	}
}

func requireInvariants(t *testing.T, snap Snapshot) {
	t.Helper()
	if snap.User == nil {
		assert.Empty(t, snap.Token)
		assert.Nil(t, snap.ActiveCompanyID)
		assert.False(t, snap.IsAuthenticated)
		return
	}
	assert.True(t, snap.IsAuthenticated)
	if snap.ActiveCompanyID != nil {
		assert.True(t, snap.User.HasCompany(*snap.ActiveCompanyID), "dangling active company %d", *snap.ActiveCompanyID)
	}
}

func TestStore_LoginSelectsFirstCompanyAndPersists(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister()
	s := NewStore(p)

	s.Login(ctx, twoCompanyUser(), "tok-1")

	snap := s.Snapshot()
	requireInvariants(t, snap)
	require.NotNil(t, snap.ActiveCompanyID)
	assert.Equal(t, int64(1), *snap.ActiveCompanyID)
	assert.Equal(t, "tok-1", snap.Token)

	tok, ok, err := p.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok-1", tok)

	company, ok, err := p.Get(ctx, KeyActiveCompanyID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", company)

	_, ok, err = p.Get(ctx, KeyUser)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_LoginWithoutCompanies(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister()
	s := NewStore(p)

	s.Login(ctx, UserProfile{ID: 3, Email: "new@example.com", IsActive: true}, "tok")

	snap := s.Snapshot()
	requireInvariants(t, snap)
	assert.Nil(t, snap.ActiveCompanyID)
	assert.True(t, snap.IsAuthenticated)

	_, ok, err := p.Get(ctx, KeyActiveCompanyID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SetActiveCompany(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.ErrorLevel)
	p := NewMemoryPersister()
	s := NewStore(p, WithLogger(zap.New(core)))

	s.Login(ctx, twoCompanyUser(), "tok")

	require.NoError(t, s.SetActiveCompany(ctx, 2))
	id, ok := s.ActiveCompanyID()
	require.True(t, ok)
	assert.Equal(t, int64(2), id)
	stored, _, _ := p.Get(ctx, KeyActiveCompanyID)
	assert.Equal(t, "2", stored)

	before := s.Snapshot()
	err := s.SetActiveCompany(ctx, 99)
	require.ErrorIs(t, err, ErrCompanyNotMember)
	assert.Equal(t, before, s.Snapshot())
	stored, _, _ = p.Get(ctx, KeyActiveCompanyID)
	assert.Equal(t, "2", stored)
	assert.Equal(t, 1, logs.Len())
}

func TestStore_SetActiveCompanyWhileLoggedOut(t *testing.T) {
	s := NewStore(nil)

	err := s.SetActiveCompany(context.Background(), 1)
	require.ErrorIs(t, err, ErrCompanyNotMember)
	requireInvariants(t, s.Snapshot())
}

func TestStore_LogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister()
	s := NewStore(p)
	s.Login(ctx, twoCompanyUser(), "tok")

	s.Logout(ctx)
	once := s.Snapshot()
	s.Logout(ctx)
	twice := s.Snapshot()

	assert.Equal(t, once, twice)
	assert.Equal(t, Snapshot{}, twice)
	assert.Equal(t, 0, p.Len())
}

func TestStore_RestartRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister()
	user := twoCompanyUser()

	first := NewStore(p)
	first.Login(ctx, user, "tok-rt")
	require.NoError(t, first.SetActiveCompany(ctx, 2))

	restarted := NewStore(p)
	restarted.InitializeAuth(ctx)

	snap := restarted.Snapshot()
	requireInvariants(t, snap)
	require.NotNil(t, snap.User)
	assert.Equal(t, user, *snap.User)
	assert.Equal(t, "tok-rt", snap.Token)
	require.NotNil(t, snap.ActiveCompanyID)
	assert.Equal(t, int64(2), *snap.ActiveCompanyID)
}

func TestStore_InitializeAuth(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		seed        map[string]string
		wantAuth    bool
		wantCompany *int64
		wantEmpty   bool
	}{
		{
			name:      "nothing persisted",
			seed:      map[string]string{},
			wantAuth:  false,
			wantEmpty: true,
		},
		{
			name: "corrupt user json clears everything",
			seed: map[string]string{
				KeyToken:           "tok",
				KeyUser:            "{not valid json",
				KeyActiveCompanyID: "1",
			},
			wantAuth:  false,
			wantEmpty: true,
		},
		{
			name:      "token without user is discarded",
			seed:      map[string]string{KeyToken: "tok"},
			wantAuth:  false,
			wantEmpty: true,
		},
		{
			name: "unparsable company falls back to first membership",
			seed: map[string]string{
				KeyToken:           "tok",
				KeyUser:            `{"id":7,"email":"ops@example.com","is_active":true,"companies":[{"id":1,"name":"Acme","role":"admin"},{"id":2,"name":"Globex","role":"member"}]}`,
				KeyActiveCompanyID: "abc",
			},
			wantAuth:    true,
			wantCompany: ptr(int64(1)),
		},
		{
			name: "company no longer a membership falls back",
			seed: map[string]string{
				KeyToken:           "tok",
				KeyUser:            `{"id":7,"email":"ops@example.com","is_active":true,"companies":[{"id":2,"name":"Globex","role":"member"}]}`,
				KeyActiveCompanyID: "1",
			},
			wantAuth:    true,
			wantCompany: ptr(int64(2)),
		},
		{
			name: "missing company key selects default",
			seed: map[string]string{
				KeyToken: "tok",
				KeyUser:  `{"id":7,"email":"ops@example.com","is_active":true,"companies":[{"id":5,"name":"Initech","role":"admin"}]}`,
			},
			wantAuth:    true,
			wantCompany: ptr(int64(5)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewMemoryPersister()
			for k, v := range tt.seed {
				require.NoError(t, p.Set(ctx, k, v))
			}

			s := NewStore(p)
			s.InitializeAuth(ctx)
			snap := s.Snapshot()
			requireInvariants(t, snap)

			assert.Equal(t, tt.wantAuth, snap.IsAuthenticated)
			assert.Equal(t, tt.wantCompany, snap.ActiveCompanyID)
			if tt.wantEmpty {
				assert.Equal(t, Snapshot{}, snap)
				assert.Equal(t, 0, p.Len())
			}
			if tt.wantCompany != nil {
				stored, ok, err := p.Get(ctx, KeyActiveCompanyID)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, strconv.FormatInt(*tt.wantCompany, 10), stored)
			}
		})
	}
}

func TestStore_InitializeAuthRunsOnce(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister()
	seed := NewStore(p)
	seed.Login(ctx, twoCompanyUser(), "tok")

	s := NewStore(p)
	s.InitializeAuth(ctx)
	s.Logout(ctx)

	// Re-seed storage; a second InitializeAuth must not pick it up.
	seed.Login(ctx, twoCompanyUser(), "tok-2")
	s.InitializeAuth(ctx)

	assert.False(t, s.IsAuthenticated())
}

func TestStore_RefreshUser(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps active company while still a member", func(t *testing.T) {
		s := NewStore(nil)
		s.Login(ctx, twoCompanyUser(), "tok")
		require.NoError(t, s.SetActiveCompany(ctx, 2))

		u := twoCompanyUser()
		u.Companies = append(u.Companies, Membership{ID: 3, Name: "Umbrella", Role: RoleAdmin})
		require.NoError(t, s.RefreshUser(ctx, u))

		id, ok := s.ActiveCompanyID()
		require.True(t, ok)
		assert.Equal(t, int64(2), id)
		assert.Len(t, s.User().Companies, 3)
		assert.Equal(t, "tok", s.Token())
	})

	t.Run("falls back when membership was removed", func(t *testing.T) {
		s := NewStore(nil)
		s.Login(ctx, twoCompanyUser(), "tok")
		require.NoError(t, s.SetActiveCompany(ctx, 2))

		u := twoCompanyUser()
		u.Companies = u.Companies[:1]
		require.NoError(t, s.RefreshUser(ctx, u))

		id, ok := s.ActiveCompanyID()
		require.True(t, ok)
		assert.Equal(t, int64(1), id)
	})

	t.Run("first company after onboarding", func(t *testing.T) {
		s := NewStore(nil)
		s.Login(ctx, UserProfile{ID: 1, Email: "a@example.com", IsActive: true}, "tok")
		_, ok := s.ActiveCompanyID()
		require.False(t, ok)

		require.NoError(t, s.RefreshUser(ctx, UserProfile{
			ID: 1, Email: "a@example.com", IsActive: true,
			Companies: []Membership{{ID: 11, Name: "New Co", Role: RoleAdmin}},
		}))
		id, ok := s.ActiveCompanyID()
		require.True(t, ok)
		assert.Equal(t, int64(11), id)
	})

	t.Run("requires a session", func(t *testing.T) {
		s := NewStore(nil)
		err := s.RefreshUser(ctx, twoCompanyUser())
		require.ErrorIs(t, err, ErrNotAuthenticated)
		requireInvariants(t, s.Snapshot())
	})
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	s.Login(ctx, twoCompanyUser(), "tok")

	snap := s.Snapshot()
	snap.User.Companies[0].ID = 999
	*snap.ActiveCompanyID = 999

	again := s.Snapshot()
	assert.Equal(t, int64(1), again.User.Companies[0].ID)
	assert.Equal(t, int64(1), *again.ActiveCompanyID)
}

func TestStore_ConcurrentAccessKeepsInvariants(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryPersister())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				switch (i + j) % 4 {
				case 0:
					s.Login(ctx, twoCompanyUser(), "tok")
				case 1:
					_ = s.SetActiveCompany(ctx, int64(j%3))
				case 2:
					s.Logout(ctx)
				default:
					requireInvariants(t, s.Snapshot())
				}
			}
		}(i)
	}
	wg.Wait()
	requireInvariants(t, s.Snapshot())
}

func ptr[T any](v T) *T {
	return &v
}
