package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luqma-backoffice/backend/internal/claims"
	"github.com/luqma-backoffice/backend/internal/identity"
	"github.com/luqma-backoffice/backend/internal/members"
	"github.com/luqma-backoffice/backend/internal/models"
)

// brokenAuthority fails claim writes for the uids in fail.
type brokenAuthority struct {
	*identity.MemoryAuthority
	fail map[string]bool
}

func (a *brokenAuthority) SetCustomClaims(ctx context.Context, uid string, c map[string]interface{}, ifVersion int64) (int64, error) {
	if a.fail[uid] {
		return 0, errors.New("authority unavailable")
	}
	return a.MemoryAuthority.SetCustomClaims(ctx, uid, c, ifVersion)
}

type captureArchiver struct {
	mu      sync.Mutex
	reports []*Report
}

func (a *captureArchiver) ArchiveReport(_ context.Context, r *Report) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reports = append(a.reports, r)
	return "reconcile/test.json", nil
}

type env struct {
	authority *brokenAuthority
	store     *members.MemoryStore
	archiver  *captureArchiver
	job       *Job
}

func newEnv(t *testing.T) *env {
	t.Helper()
	authority := &brokenAuthority{MemoryAuthority: identity.NewMemoryAuthority(), fail: map[string]bool{}}
	store := members.NewMemoryStore()
	archiver := &captureArchiver{}
	return &env{
		authority: authority,
		store:     store,
		archiver:  archiver,
		job:       NewJob(store, claims.NewSynchronizer(authority, nil), archiver, nil),
	}
}

func (e *env) principal(t *testing.T, uid string) {
	t.Helper()
	_, err := e.authority.CreatePrincipal(context.Background(), identity.CreatePrincipalParams{UID: uid, Email: uid + "@x.com"})
	require.NoError(t, err)
}

func (e *env) member(t *testing.T, biz, uid string, role models.Role, status models.MembershipStatus) {
	t.Helper()
	require.NoError(t, e.store.Save(context.Background(), &models.Membership{
		BusinessID: biz, UID: uid, Role: role, Status: status,
	}))
}

func (e *env) claimsOf(t *testing.T, uid string) claims.Set {
	t.Helper()
	p, err := e.authority.GetPrincipal(context.Background(), uid)
	require.NoError(t, err)
	s, err := claims.FromMap(p.CustomClaims)
	require.NoError(t, err)
	return s
}

func (e *env) rawClaims(t *testing.T, uid string, c map[string]interface{}) {
	t.Helper()
	_, err := e.authority.SetCustomClaims(context.Background(), uid, c, claims.AnyVersion)
	require.NoError(t, err)
}

func TestRun_ReachesFixedPoint(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.principal(t, "u1")
	e.principal(t, "u2")
	e.member(t, "biz1", "u1", models.RoleDriver, models.MembershipActive)
	e.member(t, "biz2", "u1", models.RoleAdmin, models.MembershipActive)
	e.member(t, "biz1", "u2", models.RoleDriver, models.MembershipRemoved)

	first, err := e.job.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, first.Scanned)
	assert.Equal(t, 2, first.Principals)
	assert.Equal(t, 2, first.Updated)
	assert.Empty(t, first.Failed)

	u1 := e.claimsOf(t, "u1")
	assert.Equal(t, []string{"biz1", "biz2"}, u1.BusinessIDs)
	assert.Equal(t, []string{"admin", "driver"}, u1.Roles)
	assert.True(t, e.claimsOf(t, "u2").Empty())

	second, err := e.job.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Updated)
	assert.Zero(t, second.Drifted)
}

func TestRun_RepairsLostWrite(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.principal(t, "u1")
	e.member(t, "biz1", "u1", models.RoleDriver, models.MembershipActive)
	e.member(t, "biz2", "u1", models.RoleDriver, models.MembershipActive)
	// Two racing grants under last-write-wins: the biz2 grant was lost.
	e.rawClaims(t, "u1", claims.Set{BusinessIDs: []string{"biz1"}, Roles: []string{"driver"}}.ToMap(nil))

	report, err := e.job.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Drifted)
	res, ok := report.Result("u1")
	require.True(t, ok)
	assert.True(t, res.Drifted)
	assert.Equal(t, []string{"biz1", "biz2"}, e.claimsOf(t, "u1").BusinessIDs)
}

func TestRun_OverwriteDropsForeignKeys(t *testing.T) {
	e := newEnv(t)
	e.principal(t, "u1")
	e.member(t, "biz1", "u1", models.RoleAdmin, models.MembershipActive)
	e.rawClaims(t, "u1", map[string]interface{}{"legacy": true, "businessIds": []interface{}{"biz1"}, "roles": []interface{}{"admin"}})

	report, err := e.job.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Drifted)

	p, err := e.authority.GetPrincipal(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotContains(t, p.CustomClaims, "legacy")
}

func TestRun_IsolatesFailures(t *testing.T) {
	e := newEnv(t)
	for _, uid := range []string{"u1", "u2", "u3"} {
		e.principal(t, uid)
		e.member(t, "biz1", uid, models.RoleDriver, models.MembershipActive)
	}
	e.authority.fail["u2"] = true

	report, err := e.job.Run(context.Background(), Options{Concurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Updated)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "u2", report.Failed[0].UID)
	assert.Contains(t, report.Failed[0].Error, "authority unavailable")
	assert.Equal(t, []string{"biz1"}, e.claimsOf(t, "u1").BusinessIDs)
	assert.Equal(t, []string{"biz1"}, e.claimsOf(t, "u3").BusinessIDs)
}

func TestRun_MissingPrincipal(t *testing.T) {
	e := newEnv(t)
	e.member(t, "biz1", "purged", models.RoleDriver, models.MembershipRemoved)
	e.member(t, "biz1", "ghost", models.RoleDriver, models.MembershipActive)

	report, err := e.job.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "ghost", report.Failed[0].UID)
}

func TestRun_DryRunDoesNotWrite(t *testing.T) {
	e := newEnv(t)
	e.principal(t, "u1")
	e.member(t, "biz1", "u1", models.RoleDriver, models.MembershipActive)

	report, err := e.job.Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Drifted)
	assert.True(t, e.claimsOf(t, "u1").Empty())

	report, err = e.job.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Drifted)

	report, err = e.job.Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.Zero(t, report.Drifted)
}

func TestRun_Archive(t *testing.T) {
	e := newEnv(t)
	e.principal(t, "u1")
	e.member(t, "biz1", "u1", models.RoleDriver, models.MembershipActive)

	report, err := e.job.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Empty(t, report.ArchiveKey)
	assert.Empty(t, e.archiver.reports)

	report, err = e.job.Run(context.Background(), Options{Archive: true})
	require.NoError(t, err)
	assert.Equal(t, "reconcile/test.json", report.ArchiveKey)
	assert.Len(t, e.archiver.reports, 1)
}

func TestRun_CancelledContext(t *testing.T) {
	e := newEnv(t)
	e.principal(t, "u1")
	e.member(t, "biz1", "u1", models.RoleDriver, models.MembershipActive)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.job.Run(ctx, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReconcilePrincipalAndInspect(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.principal(t, "u1")
	e.member(t, "biz1", "u1", models.RoleAdmin, models.MembershipActive)

	in, err := e.job.Inspect(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, in.InSync)
	assert.Equal(t, []string{"biz1"}, in.Computed.BusinessIDs)
	assert.Len(t, in.Records, 1)

	res, err := e.job.ReconcilePrincipal(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Drifted)

	in, err = e.job.Inspect(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, in.InSync)

	e.authority.fail["u1"] = true
	require.NoError(t, e.store.MarkRemoved(ctx, "biz1", "u1"))
	_, err = e.job.ReconcilePrincipal(ctx, "u1")
	assert.Error(t, err)
}
