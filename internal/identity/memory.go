package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/luqma-backoffice/backend/internal/claims"
	"github.com/luqma-backoffice/backend/internal/models"
	"github.com/luqma-backoffice/backend/pkg/utils"
)

// MemoryAuthority is a process-local Authority for development and tests.
type MemoryAuthority struct {
	mu         sync.RWMutex
	principals map[string]*models.Principal
	now        func() time.Time
}

// NewMemoryAuthority creates an empty in-memory authority.
func NewMemoryAuthority() *MemoryAuthority {
	return &MemoryAuthority{principals: make(map[string]*models.Principal), now: time.Now}
}

// SetClock replaces the time source.
func (a *MemoryAuthority) SetClock(now func() time.Time) {
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

func (a *MemoryAuthority) CreatePrincipal(_ context.Context, params CreatePrincipalParams) (*models.Principal, error) {
	hash := ""
	if params.Secret != "" {
		h, err := utils.HashPassword(params.Secret)
		if err != nil {
			return nil, fmt.Errorf("hash secret: %w", err)
		}
		hash = h
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	uid := params.UID
	if uid == "" {
		uid = uuid.New().String()
	}
	if _, ok := a.principals[uid]; ok {
		return nil, ErrPrincipalExists
	}
	email := normalizeEmail(params.Email)
	for _, p := range a.principals {
		if (email != "" && p.Email == email) || (params.Phone != "" && p.Phone == params.Phone) {
			return nil, ErrPrincipalExists
		}
	}
	now := a.now().UTC()
	p := &models.Principal{
		UID:          uid,
		Email:        email,
		Phone:        params.Phone,
		DisplayName:  params.DisplayName,
		SecretHash:   hash,
		CustomClaims: map[string]interface{}{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	a.principals[uid] = p
	return copyPrincipal(p), nil
}

func (a *MemoryAuthority) GetPrincipal(_ context.Context, uid string) (*models.Principal, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.principals[uid]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	return copyPrincipal(p), nil
}

func (a *MemoryAuthority) GetPrincipalByEmail(_ context.Context, email string) (*models.Principal, error) {
	email = normalizeEmail(email)
	return a.find(func(p *models.Principal) bool { return email != "" && p.Email == email })
}

func (a *MemoryAuthority) GetPrincipalByPhone(_ context.Context, phone string) (*models.Principal, error) {
	return a.find(func(p *models.Principal) bool { return phone != "" && p.Phone == phone })
}

func (a *MemoryAuthority) find(match func(*models.Principal) bool) (*models.Principal, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, p := range a.principals {
		if match(p) {
			return copyPrincipal(p), nil
		}
	}
	return nil, ErrPrincipalNotFound
}

func (a *MemoryAuthority) UpdatePrincipal(_ context.Context, uid string, params UpdatePrincipalParams) (*models.Principal, error) {
	hash := ""
	if params.Secret != nil {
		h, err := utils.HashPassword(*params.Secret)
		if err != nil {
			return nil, fmt.Errorf("hash secret: %w", err)
		}
		hash = h
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.principals[uid]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	if params.DisplayName != nil {
		p.DisplayName = *params.DisplayName
	}
	if params.Secret != nil {
		p.SecretHash = hash
	}
	p.UpdatedAt = a.now().UTC()
	return copyPrincipal(p), nil
}

func (a *MemoryAuthority) SetCustomClaims(_ context.Context, uid string, c map[string]interface{}, ifVersion int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.principals[uid]
	if !ok {
		return 0, ErrPrincipalNotFound
	}
	if ifVersion != claims.AnyVersion && ifVersion != p.ClaimsVersion {
		return 0, claims.ErrClaimsConflict
	}
	p.CustomClaims = copyClaims(c)
	p.ClaimsVersion++
	p.UpdatedAt = a.now().UTC()
	return p.ClaimsVersion, nil
}

func (a *MemoryAuthority) RevokeSessions(_ context.Context, uid string) (time.Time, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.principals[uid]
	if !ok {
		return time.Time{}, ErrPrincipalNotFound
	}
	p.TokensValidAfter = revocationCutoff(a.now())
	return p.TokensValidAfter, nil
}

func (a *MemoryAuthority) DeletePrincipal(_ context.Context, uid string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.principals[uid]; !ok {
		return ErrPrincipalNotFound
	}
	delete(a.principals, uid)
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func copyPrincipal(p *models.Principal) *models.Principal {
	cp := *p
	cp.CustomClaims = copyClaims(p.CustomClaims)
	return &cp
}

func copyClaims(c map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
