package claims

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/luqma-backoffice/backend/internal/metrics"
	"github.com/luqma-backoffice/backend/internal/models"
	"github.com/luqma-backoffice/backend/pkg/apperr"
)

// AnyVersion disables the version precondition on a claims write.
const AnyVersion int64 = -1

// DefaultMaxAttempts bounds read-modify-write retries after a version conflict.
const DefaultMaxAttempts = 3

// ErrClaimsConflict is returned by an authority when a conditional claims write loses.
var ErrClaimsConflict = apperr.New(apperr.Conflict, "claims_conflict", "claims changed concurrently")

// Authority is the part of the identity authority the synchronizer reads and writes.
// SetCustomClaims replaces the whole claim object; when ifVersion is not AnyVersion the write
// only succeeds if the stored version still equals ifVersion, otherwise ErrClaimsConflict.
type Authority interface {
	GetPrincipal(ctx context.Context, uid string) (*models.Principal, error)
	SetCustomClaims(ctx context.Context, uid string, claims map[string]interface{}, ifVersion int64) (int64, error)
}

// Notifier is told about every claim set that was written.
type Notifier interface {
	ClaimsChanged(uid string, set Set)
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithNotifier publishes claim changes to connected clients.
func WithNotifier(n Notifier) Option {
	return func(s *Synchronizer) { s.notifier = n }
}

// WithLastWriteWins writes without a version precondition. Concurrent grants for one uid can then
// drop each other's changes until the next reconciliation run.
func WithLastWriteWins() Option {
	return func(s *Synchronizer) { s.lastWriteWins = true }
}

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// Synchronizer translates membership changes into claim set writes.
type Synchronizer struct {
	authority     Authority
	notifier      Notifier
	logger        *zap.Logger
	lastWriteWins bool
	maxAttempts   int
}

// NewSynchronizer creates a claims synchronizer.
func NewSynchronizer(authority Authority, logger *zap.Logger, opts ...Option) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Synchronizer{authority: authority, logger: logger, maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GrantMembership merges businessID and roles into uid's current claim set.
// Existing sessions keep presenting the old set until they are revoked.
func (s *Synchronizer) GrantMembership(ctx context.Context, uid, businessID string, roles ...models.Role) (Set, error) {
	set, _, err := s.update(ctx, "grant", uid, false, func(cur Set) Set {
		return cur.WithBusiness(businessID, roles...)
	})
	return set, err
}

// RevokeMembership removes businessID from uid's claim set and leaves roles untouched.
func (s *Synchronizer) RevokeMembership(ctx context.Context, uid, businessID string) (Set, error) {
	set, _, err := s.update(ctx, "revoke", uid, false, func(cur Set) Set {
		return cur.WithoutBusiness(businessID)
	})
	return set, err
}

// Overwrite replaces uid's whole claim object with set, dropping any other keys.
// It reports whether a write was needed.
func (s *Synchronizer) Overwrite(ctx context.Context, uid string, set Set) (bool, error) {
	_, changed, err := s.update(ctx, "overwrite", uid, true, func(Set) Set { return set })
	return changed, err
}

// Drifted reports whether Overwrite(ctx, uid, set) would write, without writing.
func (s *Synchronizer) Drifted(ctx context.Context, uid string, set Set) (bool, error) {
	p, err := s.authority.GetPrincipal(ctx, uid)
	if err != nil {
		return false, fmt.Errorf("get principal %s: %w", uid, err)
	}
	cur, err := FromMap(p.CustomClaims)
	if err != nil {
		return false, apperr.Internalf(err, "claims of %s", uid)
	}
	return !settled(p.CustomClaims, cur, set, true), nil
}

// Current returns uid's claim set as stored by the authority.
func (s *Synchronizer) Current(ctx context.Context, uid string) (Set, error) {
	p, err := s.authority.GetPrincipal(ctx, uid)
	if err != nil {
		return Set{}, fmt.Errorf("get principal %s: %w", uid, err)
	}
	set, err := FromMap(p.CustomClaims)
	if err != nil {
		return Set{}, apperr.Internalf(err, "claims of %s", uid)
	}
	return set, nil
}

func (s *Synchronizer) update(ctx context.Context, op, uid string, replace bool, mutate func(Set) Set) (Set, bool, error) {
	for attempt := 1; ; attempt++ {
		p, err := s.authority.GetPrincipal(ctx, uid)
		if err != nil {
			metrics.ClaimWrite(op, "lookup_error")
			return Set{}, false, fmt.Errorf("get principal %s: %w", uid, err)
		}
		cur, err := FromMap(p.CustomClaims)
		if err != nil {
			metrics.ClaimWrite(op, "decode_error")
			return Set{}, false, apperr.Internalf(err, "claims of %s", uid)
		}
		next := mutate(cur)

		base := p.CustomClaims
		if replace {
			base = nil
		}
		if settled(p.CustomClaims, cur, next, replace) {
			metrics.ClaimWrite(op, "unchanged")
			return cur, false, nil
		}

		version := p.ClaimsVersion
		if s.lastWriteWins {
			version = AnyVersion
		}
		_, err = s.authority.SetCustomClaims(ctx, uid, next.ToMap(base), version)
		if err == nil {
			metrics.ClaimWrite(op, "ok")
			s.logger.Info("claims updated",
				zap.String("op", op),
				zap.String("uid", uid),
				zap.Strings("business_ids", next.BusinessIDs),
				zap.Strings("roles", next.Roles),
			)
			if s.notifier != nil {
				s.notifier.ClaimsChanged(uid, next)
			}
			return next, true, nil
		}
		if errors.Is(err, ErrClaimsConflict) && attempt < s.maxAttempts {
			metrics.ClaimWrite(op, "conflict_retry")
			s.logger.Warn("claims write conflict, retrying",
				zap.String("op", op), zap.String("uid", uid), zap.Int("attempt", attempt))
			continue
		}
		metrics.ClaimWrite(op, "error")
		return Set{}, false, fmt.Errorf("set claims for %s: %w", uid, err)
	}
}

// settled reports whether raw already holds next. A replace also requires that raw carries
// exactly the two set keys.
func settled(raw map[string]interface{}, cur, next Set, replace bool) bool {
	if !next.Equal(cur) {
		return false
	}
	return !replace || len(raw) == 2 && hasSetKeys(raw)
}

func hasSetKeys(m map[string]interface{}) bool {
	_, b := m[KeyBusinessIDs]
	_, r := m[KeyRoles]
	return b && r
}
