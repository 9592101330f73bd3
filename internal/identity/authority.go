// Package identity is the identity authority: principals, their secrets and claim objects,
// session tokens, and session revocation.
package identity

import (
	"context"
	"time"

	"github.com/luqma-backoffice/backend/internal/models"
	"github.com/luqma-backoffice/backend/pkg/apperr"
)

var (
	// ErrPrincipalNotFound is returned when no principal matches the lookup.
	ErrPrincipalNotFound = apperr.New(apperr.NotFound, "principal_not_found", "principal not found")
	// ErrPrincipalExists is returned when creating a principal whose uid, email or phone is taken.
	ErrPrincipalExists = apperr.New(apperr.Conflict, "principal_exists", "principal already exists")
)

// CreatePrincipalParams describes a new principal. UID is optional; when empty one is generated.
type CreatePrincipalParams struct {
	UID         string
	Email       string
	Phone       string
	DisplayName string
	// Secret is the plain credential; stored hashed. Empty means the principal cannot sign in yet.
	Secret string
}

// UpdatePrincipalParams holds the principal fields to change; nil fields are left untouched.
type UpdatePrincipalParams struct {
	DisplayName *string
	Secret      *string
}

// Authority issues principals and stores their claim objects.
type Authority interface {
	CreatePrincipal(ctx context.Context, params CreatePrincipalParams) (*models.Principal, error)
	GetPrincipal(ctx context.Context, uid string) (*models.Principal, error)
	GetPrincipalByEmail(ctx context.Context, email string) (*models.Principal, error)
	GetPrincipalByPhone(ctx context.Context, phone string) (*models.Principal, error)
	UpdatePrincipal(ctx context.Context, uid string, params UpdatePrincipalParams) (*models.Principal, error)
	// SetCustomClaims replaces the claim object. ifVersion is a precondition on the stored
	// claims version unless it is claims.AnyVersion. Returns the new version.
	SetCustomClaims(ctx context.Context, uid string, claims map[string]interface{}, ifVersion int64) (int64, error)
	// RevokeSessions invalidates every token issued before now and returns the new cutoff.
	RevokeSessions(ctx context.Context, uid string) (time.Time, error)
	DeletePrincipal(ctx context.Context, uid string) error
}

// revocationCutoff keeps microseconds, the precision of both token issue times and timestamptz.
func revocationCutoff(now time.Time) time.Time {
	return now.UTC().Truncate(time.Microsecond)
}
