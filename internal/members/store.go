// Package members manages business membership records and keeps principals' claims in step with them.
package members

import (
	"context"

	"github.com/luqma-backoffice/backend/internal/models"
	"github.com/luqma-backoffice/backend/pkg/apperr"
)

// ErrMembershipNotFound is returned when no record exists for (businessID, uid).
var ErrMembershipNotFound = apperr.New(apperr.NotFound, "membership_not_found", "membership not found")

// Store persists membership records keyed by (BusinessID, UID). Writes to different keys are
// independent; there is no multi-record transaction.
type Store interface {
	Get(ctx context.Context, businessID, uid string) (*models.Membership, error)
	// FindByEmail returns the record in businessID with the given email and role, in any status.
	FindByEmail(ctx context.Context, businessID, email string, role models.Role) (*models.Membership, error)
	// Save upserts m. InvitedBy and InvitedAt are only written when the record is created.
	Save(ctx context.Context, m *models.Membership) error
	// MarkRemoved sets the record's status to removed. Removing a removed record is a no-op.
	MarkRemoved(ctx context.Context, businessID, uid string) error
	UpdateDisplayName(ctx context.Context, businessID, uid, displayName string) error
	ListByUID(ctx context.Context, uid string) ([]models.Membership, error)
	ListByBusiness(ctx context.Context, businessID string) ([]models.Membership, error)
	// Scan calls fn for every record of every business. A non-nil error from fn stops the scan.
	Scan(ctx context.Context, fn func(models.Membership) error) error
}
