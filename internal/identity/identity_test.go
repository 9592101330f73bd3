package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luqma-backoffice/backend/internal/claims"
	"github.com/luqma-backoffice/backend/pkg/apperr"
)

func TestMemoryAuthority_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAuthority()

	p, err := a.CreatePrincipal(ctx, CreatePrincipalParams{Email: " D@X.com ", DisplayName: "Dana"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.UID)
	assert.Equal(t, "d@x.com", p.Email)

	byEmail, err := a.GetPrincipalByEmail(ctx, "d@x.com")
	require.NoError(t, err)
	assert.Equal(t, p.UID, byEmail.UID)

	_, err = a.CreatePrincipal(ctx, CreatePrincipalParams{Email: "d@x.com"})
	assert.ErrorIs(t, err, ErrPrincipalExists)

	_, err = a.GetPrincipalByPhone(ctx, "+100")
	assert.ErrorIs(t, err, ErrPrincipalNotFound)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestMemoryAuthority_ConditionalClaimsWrite(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAuthority()
	p, err := a.CreatePrincipal(ctx, CreatePrincipalParams{UID: "u1"})
	require.NoError(t, err)

	v, err := a.SetCustomClaims(ctx, "u1", map[string]interface{}{"roles": []string{"admin"}}, p.ClaimsVersion)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	_, err = a.SetCustomClaims(ctx, "u1", map[string]interface{}{}, 0)
	assert.ErrorIs(t, err, claims.ErrClaimsConflict)

	_, err = a.SetCustomClaims(ctx, "u1", map[string]interface{}{}, claims.AnyVersion)
	assert.NoError(t, err)

	_, err = a.SetCustomClaims(ctx, "ghost", nil, claims.AnyVersion)
	assert.ErrorIs(t, err, ErrPrincipalNotFound)
}

func TestMemoryAuthority_DeleteTwice(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAuthority()
	_, err := a.CreatePrincipal(ctx, CreatePrincipalParams{UID: "u1"})
	require.NoError(t, err)

	require.NoError(t, a.DeletePrincipal(ctx, "u1"))
	assert.ErrorIs(t, a.DeletePrincipal(ctx, "u1"), ErrPrincipalNotFound)
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAuthority()
	p, err := a.CreatePrincipal(ctx, CreatePrincipalParams{UID: "u1", Email: "a@x.com"})
	require.NoError(t, err)
	_, err = a.SetCustomClaims(ctx, "u1", claims.Set{BusinessIDs: []string{"biz1"}, Roles: []string{"admin"}}.ToMap(nil), claims.AnyVersion)
	require.NoError(t, err)
	p, err = a.GetPrincipal(ctx, p.UID)
	require.NoError(t, err)

	issuer := NewTokenIssuer("secret", "backoffice", 1)
	token, _, err := issuer.Issue(p)
	require.NoError(t, err)

	tc, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", tc.UID())
	assert.Equal(t, []string{"biz1"}, tc.Set().BusinessIDs)
	assert.Equal(t, []string{"admin"}, tc.Set().Roles)

	_, err = NewTokenIssuer("other", "backoffice", 1).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_Expired(t *testing.T) {
	issuer := NewTokenIssuer("secret", "", 1)
	issuer.SetClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	a := NewMemoryAuthority()
	p, err := a.CreatePrincipal(context.Background(), CreatePrincipalParams{UID: "u1"})
	require.NoError(t, err)
	token, _, err := issuer.Issue(p)
	require.NoError(t, err)

	issuer.SetClock(time.Now)
	_, err = issuer.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

type guardFixture struct {
	authority *MemoryAuthority
	store     *MemoryRevocationStore
	issuer    *TokenIssuer
}

func newGuardFixture(t *testing.T) *guardFixture {
	t.Helper()
	a := NewMemoryAuthority()
	_, err := a.CreatePrincipal(context.Background(), CreatePrincipalParams{UID: "u1"})
	require.NoError(t, err)
	return &guardFixture{authority: a, store: NewMemoryRevocationStore(), issuer: NewTokenIssuer("secret", "", 1)}
}

// issueAt signs a token for u1 as if it had been issued at the given time.
func (f *guardFixture) issueAt(t *testing.T, at time.Time) *TokenClaims {
	t.Helper()
	p, err := f.authority.GetPrincipal(context.Background(), "u1")
	require.NoError(t, err)
	f.issuer.SetClock(func() time.Time { return at })
	defer f.issuer.SetClock(time.Now)
	_, tc, err := f.issuer.Issue(p)
	require.NoError(t, err)
	return tc
}

type revokedRecorder struct{ uids []string }

func (r *revokedRecorder) SessionRevoked(uid string) { r.uids = append(r.uids, uid) }

func TestSessionGuard_RevokeRejectsOlderTokens(t *testing.T) {
	ctx := context.Background()
	f := newGuardFixture(t)
	guard := NewSessionGuard(f.authority, f.store, 16, time.Hour, nil)
	rec := &revokedRecorder{}
	guard.SetNotifier(rec)

	old := f.issueAt(t, time.Now().Add(-time.Minute))
	require.NoError(t, guard.Check(ctx, old))

	require.NoError(t, guard.Revoke(ctx, "u1"))
	err := guard.Check(ctx, old)
	assert.ErrorIs(t, err, ErrSessionRevoked)
	assert.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))
	assert.Equal(t, []string{"u1"}, rec.uids)

	fresh := f.issueAt(t, time.Now())
	assert.NoError(t, guard.Check(ctx, fresh))
}

func TestSessionGuard_RevokeWithinTheSameSecond(t *testing.T) {
	ctx := context.Background()
	f := newGuardFixture(t)
	guard := NewSessionGuard(f.authority, f.store, 16, time.Hour, nil)
	second := time.Now().Add(-30 * time.Minute).Truncate(time.Second)

	before := f.issueAt(t, second.Add(100*time.Millisecond))
	f.authority.SetClock(func() time.Time { return second.Add(900 * time.Millisecond) })
	require.NoError(t, guard.Revoke(ctx, "u1"))
	after := f.issueAt(t, second.Add(950*time.Millisecond))

	require.Equal(t, before.IssuedAt.Unix(), after.IssuedAt.Unix())
	assert.ErrorIs(t, guard.Check(ctx, before), ErrSessionRevoked)
	assert.NoError(t, guard.Check(ctx, after))

	// The sub-second issue time survives signing, and a cold instance reads the stored cutoff.
	p, err := f.authority.GetPrincipal(ctx, "u1")
	require.NoError(t, err)
	f.issuer.SetClock(func() time.Time { return second.Add(200 * time.Millisecond) })
	signed, _, err := f.issuer.Issue(p)
	f.issuer.SetClock(time.Now)
	require.NoError(t, err)
	parsed, err := f.issuer.Validate(signed)
	require.NoError(t, err)
	cold := NewSessionGuard(f.authority, f.store, 16, time.Hour, nil)
	assert.ErrorIs(t, cold.Check(ctx, parsed), ErrSessionRevoked)
}

func TestSessionGuard_OtherInstanceSeesRevocationAfterStaleness(t *testing.T) {
	ctx := context.Background()
	f := newGuardFixture(t)
	revoker := NewSessionGuard(f.authority, f.store, 16, time.Hour, nil)
	stale := NewSessionGuard(f.authority, f.store, 16, 50*time.Millisecond, nil)

	old := f.issueAt(t, time.Now().Add(-time.Minute))
	require.NoError(t, stale.Check(ctx, old))

	require.NoError(t, revoker.Revoke(ctx, "u1"))

	// Cached cutoff still honours the old token inside the staleness window.
	assert.NoError(t, stale.Check(ctx, old))
	// A cold instance reads the shared store immediately.
	cold := NewSessionGuard(f.authority, f.store, 16, time.Hour, nil)
	assert.ErrorIs(t, cold.Check(ctx, old), ErrSessionRevoked)

	assert.Eventually(t, func() bool {
		return stale.Check(ctx, old) != nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSessionGuard_DeletedPrincipal(t *testing.T) {
	ctx := context.Background()
	f := newGuardFixture(t)
	guard := NewSessionGuard(f.authority, nil, 16, time.Hour, nil)
	tc := f.issueAt(t, time.Now())
	require.NoError(t, f.authority.DeletePrincipal(ctx, "u1"))

	assert.ErrorIs(t, guard.Check(ctx, tc), ErrSessionRevoked)
}

func TestLoginHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	a := NewMemoryAuthority()
	_, err := a.CreatePrincipal(ctx, CreatePrincipalParams{UID: "u1", Email: "d@x.com", Phone: "+201", Secret: "hunter22"})
	require.NoError(t, err)
	_, err = a.SetCustomClaims(ctx, "u1", claims.Set{BusinessIDs: []string{"biz1"}, Roles: []string{"driver"}}.ToMap(nil), claims.AnyVersion)
	require.NoError(t, err)
	issuer := NewTokenIssuer("secret", "", 1)
	h := NewHandler(a, issuer, nil)
	r := gin.New()
	r.POST("/auth/login", h.Login)

	login := func(body map[string]string) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	tests := []struct {
		name   string
		body   map[string]string
		status int
	}{
		{"email", map[string]string{"email": "d@x.com", "secret": "hunter22"}, http.StatusOK},
		{"phone", map[string]string{"phone": "+201", "secret": "hunter22"}, http.StatusOK},
		{"wrong secret", map[string]string{"email": "d@x.com", "secret": "nope"}, http.StatusUnauthorized},
		{"unknown principal", map[string]string{"email": "z@x.com", "secret": "hunter22"}, http.StatusUnauthorized},
		{"no identifier", map[string]string{"secret": "hunter22"}, http.StatusBadRequest},
		{"no secret", map[string]string{"email": "d@x.com"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := login(tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	w := login(map[string]string{"email": "d@x.com", "secret": "hunter22"})
	var body struct {
		Data TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	tc, err := issuer.Validate(body.Data.Token)
	require.NoError(t, err)
	assert.Equal(t, []string{"biz1"}, tc.BusinessIDs)
	assert.Equal(t, "u1", body.Data.Principal.UID)
}
