package claims

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luqma-backoffice/backend/internal/models"
	"github.com/luqma-backoffice/backend/pkg/apperr"
)

var errNoPrincipal = apperr.New(apperr.NotFound, "principal_not_found", "principal not found")

type fakeAuthority struct {
	mu         sync.Mutex
	principals map[string]*models.Principal
	writes     int
	getErr     error
	// beforeSet runs once, inside the next SetCustomClaims, before the version check.
	beforeSet func()
	// conflicts forces this many SetCustomClaims calls to fail with ErrClaimsConflict.
	conflicts int
}

func newFakeAuthority(uids ...string) *fakeAuthority {
	f := &fakeAuthority{principals: make(map[string]*models.Principal)}
	for _, uid := range uids {
		f.principals[uid] = &models.Principal{UID: uid}
	}
	return f
}

func (f *fakeAuthority) GetPrincipal(_ context.Context, uid string) (*models.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.principals[uid]
	if !ok {
		return nil, errNoPrincipal
	}
	cp := *p
	cp.CustomClaims = make(map[string]interface{}, len(p.CustomClaims))
	for k, v := range p.CustomClaims {
		cp.CustomClaims[k] = v
	}
	return &cp, nil
}

func (f *fakeAuthority) SetCustomClaims(_ context.Context, uid string, c map[string]interface{}, ifVersion int64) (int64, error) {
	if hook := f.takeHook(); hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflicts > 0 {
		f.conflicts--
		return 0, ErrClaimsConflict
	}
	p, ok := f.principals[uid]
	if !ok {
		return 0, errNoPrincipal
	}
	if ifVersion != AnyVersion && ifVersion != p.ClaimsVersion {
		return 0, ErrClaimsConflict
	}
	p.CustomClaims = c
	p.ClaimsVersion++
	f.writes++
	return p.ClaimsVersion, nil
}

func (f *fakeAuthority) takeHook() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.beforeSet
	f.beforeSet = nil
	return h
}

func (f *fakeAuthority) set(t *testing.T, uid string) Set {
	t.Helper()
	p, err := f.GetPrincipal(context.Background(), uid)
	require.NoError(t, err)
	s, err := FromMap(p.CustomClaims)
	require.NoError(t, err)
	return s
}

type recordingNotifier struct {
	uids []string
}

func (n *recordingNotifier) ClaimsChanged(uid string, _ Set) { n.uids = append(n.uids, uid) }

func TestGrantMembership_Merges(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority("u1")
	notifier := &recordingNotifier{}
	s := NewSynchronizer(auth, nil, WithNotifier(notifier))

	_, err := s.GrantMembership(ctx, "u1", "biz1", models.RoleAdmin)
	require.NoError(t, err)
	got, err := s.GrantMembership(ctx, "u1", "biz2", models.RoleDriver)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"biz1", "biz2"}, got.BusinessIDs)
	assert.ElementsMatch(t, []string{"admin", "driver"}, got.Roles)
	assert.True(t, got.Equal(auth.set(t, "u1")))
	assert.Equal(t, []string{"u1", "u1"}, notifier.uids)
}

func TestGrantMembership_UnchangedSkipsWrite(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority("u1")
	s := NewSynchronizer(auth, nil)

	_, err := s.GrantMembership(ctx, "u1", "biz1", models.RoleDriver)
	require.NoError(t, err)
	_, err = s.GrantMembership(ctx, "u1", "biz1", models.RoleDriver)
	require.NoError(t, err)

	assert.Equal(t, 1, auth.writes)
}

func TestGrantMembership_KeepsForeignClaimKeys(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority("u1")
	auth.principals["u1"].CustomClaims = map[string]interface{}{"tier": "gold"}
	s := NewSynchronizer(auth, nil)

	_, err := s.GrantMembership(ctx, "u1", "biz1", models.RoleAdmin)
	require.NoError(t, err)

	assert.Equal(t, "gold", auth.principals["u1"].CustomClaims["tier"])
}

func TestRevokeMembership_KeepsRoles(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority("u1")
	s := NewSynchronizer(auth, nil)
	_, err := s.GrantMembership(ctx, "u1", "biz1", models.RoleAdmin)
	require.NoError(t, err)

	got, err := s.RevokeMembership(ctx, "u1", "biz1")
	require.NoError(t, err)
	assert.Empty(t, got.BusinessIDs)
	assert.Equal(t, []string{"admin"}, got.Roles)

	// Revoking again is a no-op.
	writes := auth.writes
	_, err = s.RevokeMembership(ctx, "u1", "biz1")
	require.NoError(t, err)
	assert.Equal(t, writes, auth.writes)
}

func TestGrantMembership_LookupErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing principal keeps NotFound kind", func(t *testing.T) {
		s := NewSynchronizer(newFakeAuthority(), nil)
		_, err := s.GrantMembership(ctx, "ghost", "biz1", models.RoleDriver)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errNoPrincipal))
		assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
	})

	t.Run("authority failure aborts", func(t *testing.T) {
		auth := newFakeAuthority("u1")
		auth.getErr = errors.New("authority unavailable")
		s := NewSynchronizer(auth, nil)
		_, err := s.GrantMembership(ctx, "u1", "biz1", models.RoleDriver)
		require.Error(t, err)
		assert.Equal(t, apperr.Internal, apperr.KindOf(err))
		assert.Equal(t, 0, auth.writes)
	})
}

func TestGrantMembership_ConcurrentGrantIsRetried(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority("u1")
	s := NewSynchronizer(auth, nil)
	auth.beforeSet = func() {
		_, err := s.GrantMembership(ctx, "u1", "biz2", models.RoleDriver)
		require.NoError(t, err)
	}

	_, err := s.GrantMembership(ctx, "u1", "biz1", models.RoleAdmin)
	require.NoError(t, err)

	got := auth.set(t, "u1")
	assert.ElementsMatch(t, []string{"biz1", "biz2"}, got.BusinessIDs)
	assert.ElementsMatch(t, []string{"admin", "driver"}, got.Roles)
}

func TestGrantMembership_LastWriteWinsDropsConcurrentGrant(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority("u1")
	s := NewSynchronizer(auth, nil, WithLastWriteWins())
	auth.beforeSet = func() {
		_, err := s.GrantMembership(ctx, "u1", "biz2", models.RoleDriver)
		require.NoError(t, err)
	}

	_, err := s.GrantMembership(ctx, "u1", "biz1", models.RoleAdmin)
	require.NoError(t, err)

	got := auth.set(t, "u1")
	assert.Equal(t, []string{"biz1"}, got.BusinessIDs)
	assert.Equal(t, []string{"admin"}, got.Roles)
}

func TestGrantMembership_ConflictExhaustion(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority("u1")
	auth.conflicts = DefaultMaxAttempts
	s := NewSynchronizer(auth, nil)

	_, err := s.GrantMembership(ctx, "u1", "biz1", models.RoleAdmin)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClaimsConflict)
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
	assert.Equal(t, 0, auth.writes)
}

func TestOverwrite(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority("u1")
	auth.principals["u1"].CustomClaims = map[string]interface{}{
		"businessIds": []interface{}{"stale"},
		"roles":       []interface{}{"admin"},
		"tier":        "gold",
	}
	s := NewSynchronizer(auth, nil)
	want := Set{BusinessIDs: []string{"biz1"}, Roles: []string{"driver"}}

	changed, err := s.Overwrite(ctx, "u1", want)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, want.Equal(auth.set(t, "u1")))
	_, hasTier := auth.principals["u1"].CustomClaims["tier"]
	assert.False(t, hasTier, "overwrite replaces the whole claim object")

	changed, err = s.Overwrite(ctx, "u1", want)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, auth.writes)
}
