// Package session turns a token's claim set into the session state a client acts on.
package session

import (
	"github.com/luqma-backoffice/backend/internal/claims"
	"github.com/luqma-backoffice/backend/internal/models"
)

// State is the outcome of resolving a session.
type State string

const (
	StateOK State = "ok"
	// StateNoAccess means the principal belongs to no business. Only an administrator can fix it.
	StateNoAccess State = "no_access"
	// StateNoRole means the principal has businesses but neither admin nor driver role.
	StateNoRole State = "no_role"
	// StateBusinessMismatch means the client is pinned to a business the principal cannot access.
	// The client must sign out and sign in with the right principal; sessions are never switched.
	StateBusinessMismatch State = "business_mismatch"
)

// Resolution describes the active business and role for a session.
type Resolution struct {
	State            State       `json:"state"`
	ActiveBusinessID string      `json:"activeBusinessId,omitempty"`
	Role             models.Role `json:"role,omitempty"`
	// BusinessIDs lists every business the principal can access.
	BusinessIDs []string `json:"businessIds"`
}

// Resolver picks the active business for a session.
type Resolver struct {
	// DefaultBusinessID is preferred when the principal has access to it.
	DefaultBusinessID string
}

// Resolve evaluates set. pinnedBusinessID, when set, is the business the client is bound to.
func (r Resolver) Resolve(set claims.Set, pinnedBusinessID string) Resolution {
	res := Resolution{BusinessIDs: append([]string{}, set.BusinessIDs...)}
	if len(set.BusinessIDs) == 0 {
		res.State = StateNoAccess
		return res
	}

	switch {
	case set.HasRole(models.RoleAdmin):
		res.Role = models.RoleAdmin
	case set.HasRole(models.RoleDriver):
		res.Role = models.RoleDriver
	default:
		res.State = StateNoRole
		return res
	}

	switch {
	case pinnedBusinessID != "":
		res.ActiveBusinessID = pinnedBusinessID
	case r.DefaultBusinessID != "" && set.HasBusiness(r.DefaultBusinessID):
		res.ActiveBusinessID = r.DefaultBusinessID
	default:
		res.ActiveBusinessID = set.BusinessIDs[0]
	}
	if !set.HasBusiness(res.ActiveBusinessID) {
		res.State = StateBusinessMismatch
		return res
	}
	res.State = StateOK
	return res
}
