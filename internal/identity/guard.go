package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/luqma-backoffice/backend/pkg/apperr"
)

// ErrSessionRevoked is returned for a token issued before its principal's revocation cutoff.
var ErrSessionRevoked = apperr.New(apperr.Unauthenticated, "session_revoked", "session revoked, sign in again")

// RevocationNotifier is told when a principal's sessions were revoked.
type RevocationNotifier interface {
	SessionRevoked(uid string)
}

// SessionGuard rejects tokens issued before the principal's tokens-valid-after cutoff.
//
// Cutoffs are looked up in a local LRU, then the shared store, then the authority. The local
// entry lives for the staleness window, so a revocation made on another instance may take that
// long to be enforced here. Revocations made through this guard apply locally at once.
type SessionGuard struct {
	authority Authority
	store     RevocationStore
	cache     *expirable.LRU[string, time.Time]
	notifier  RevocationNotifier
	logger    *zap.Logger
}

// NewSessionGuard creates a guard. store may be nil.
func NewSessionGuard(authority Authority, store RevocationStore, cacheSize int, staleness time.Duration, logger *zap.Logger) *SessionGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	return &SessionGuard{
		authority: authority,
		store:     store,
		cache:     expirable.NewLRU[string, time.Time](cacheSize, nil, staleness),
		logger:    logger,
	}
}

// SetNotifier sets the receiver of revocation events.
func (g *SessionGuard) SetNotifier(n RevocationNotifier) { g.notifier = n }

// Check returns nil when the token is still honoured.
func (g *SessionGuard) Check(ctx context.Context, tc *TokenClaims) error {
	if tc == nil || tc.IssuedAt == nil {
		return ErrInvalidToken
	}
	cutoff, err := g.validAfter(ctx, tc.UID())
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return ErrSessionRevoked
		}
		return err
	}
	if tc.IssuedTime().Before(cutoff) {
		return ErrSessionRevoked
	}
	return nil
}

// Revoke invalidates every session of uid issued up to now.
func (g *SessionGuard) Revoke(ctx context.Context, uid string) error {
	cutoff, err := g.authority.RevokeSessions(ctx, uid)
	if err != nil {
		return fmt.Errorf("revoke sessions of %s: %w", uid, err)
	}
	g.cache.Add(uid, cutoff)
	if g.store != nil {
		if err := g.store.Set(ctx, uid, cutoff); err != nil {
			return apperr.Internalf(err, "share revocation of %s", uid)
		}
	}
	g.logger.Info("sessions revoked", zap.String("uid", uid), zap.Time("valid_after", cutoff))
	if g.notifier != nil {
		g.notifier.SessionRevoked(uid)
	}
	return nil
}

func (g *SessionGuard) validAfter(ctx context.Context, uid string) (time.Time, error) {
	if t, ok := g.cache.Get(uid); ok {
		return t, nil
	}
	if g.store != nil {
		t, ok, err := g.store.Get(ctx, uid)
		if err != nil {
			g.logger.Warn("revocation store lookup failed", zap.String("uid", uid), zap.Error(err))
		} else if ok {
			g.cache.Add(uid, t)
			return t, nil
		}
	}
	p, err := g.authority.GetPrincipal(ctx, uid)
	if err != nil {
		return time.Time{}, fmt.Errorf("get principal %s: %w", uid, err)
	}
	g.cache.Add(uid, p.TokensValidAfter)
	if g.store != nil {
		if err := g.store.Set(ctx, uid, p.TokensValidAfter); err != nil {
			g.logger.Warn("revocation store fill failed", zap.String("uid", uid), zap.Error(err))
		}
	}
	return p.TokensValidAfter, nil
}
