// Package claims keeps a principal's token-embedded claim set derived from its membership records.
package claims

import (
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"

	"github.com/luqma-backoffice/backend/internal/models"
)

// Claim keys inside the identity authority's custom claim object.
const (
	KeyBusinessIDs = "businessIds"
	KeyRoles       = "roles"
)

// Set is the authorization payload embedded in a session token.
// Roles are global across businesses: a principal that is admin anywhere is admin everywhere
// it has a businessId. Callers must not assume per-business role scoping.
type Set struct {
	BusinessIDs []string `json:"businessIds" mapstructure:"businessIds"`
	Roles       []string `json:"roles" mapstructure:"roles"`
}

// FromMap decodes the claim set out of a raw custom claim object. Unknown keys are ignored.
func FromMap(raw map[string]interface{}) (Set, error) {
	var s Set
	if len(raw) == 0 {
		return s, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &s,
		TagName: "mapstructure",
	})
	if err != nil {
		return Set{}, fmt.Errorf("build claims decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return Set{}, fmt.Errorf("decode claims: %w", err)
	}
	s.BusinessIDs = dedupe(s.BusinessIDs)
	s.Roles = dedupe(s.Roles)
	return s, nil
}

// ToMap returns base with the claim set keys replaced. base is not modified.
func (s Set) ToMap(base map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+2)
	for k, v := range base {
		out[k] = v
	}
	out[KeyBusinessIDs] = nonNil(s.BusinessIDs)
	out[KeyRoles] = nonNil(s.Roles)
	return out
}

// HasBusiness reports whether businessID is in the set.
func (s Set) HasBusiness(businessID string) bool {
	return contains(s.BusinessIDs, businessID)
}

// HasRole reports whether role is in the set.
func (s Set) HasRole(role models.Role) bool {
	return contains(s.Roles, string(role))
}

// Empty reports whether the set grants nothing.
func (s Set) Empty() bool {
	return len(s.BusinessIDs) == 0 && len(s.Roles) == 0
}

// WithBusiness returns a copy of s with businessID and roles added.
func (s Set) WithBusiness(businessID string, roles ...models.Role) Set {
	out := Set{
		BusinessIDs: appendUnique(clone(s.BusinessIDs), businessID),
		Roles:       clone(s.Roles),
	}
	for _, r := range roles {
		out.Roles = appendUnique(out.Roles, string(r))
	}
	return out
}

// WithoutBusiness returns a copy of s with businessID removed. Roles are kept because they are
// not scoped to a business and may still be needed elsewhere.
func (s Set) WithoutBusiness(businessID string) Set {
	out := Set{BusinessIDs: make([]string, 0, len(s.BusinessIDs)), Roles: clone(s.Roles)}
	for _, id := range s.BusinessIDs {
		if id != businessID {
			out.BusinessIDs = append(out.BusinessIDs, id)
		}
	}
	return out
}

// Equal compares two sets ignoring order.
func (s Set) Equal(o Set) bool {
	return sameMembers(s.BusinessIDs, o.BusinessIDs) && sameMembers(s.Roles, o.Roles)
}

// Compute derives the complete claim set from one principal's membership records.
// Only active records contribute. Output is sorted so repeated runs produce identical sets.
func Compute(records []models.Membership) Set {
	s := Set{BusinessIDs: []string{}, Roles: []string{}}
	for _, m := range records {
		if !m.Active() {
			continue
		}
		s.BusinessIDs = appendUnique(s.BusinessIDs, m.BusinessID)
		s.Roles = appendUnique(s.Roles, string(m.Role))
	}
	sort.Strings(s.BusinessIDs)
	sort.Strings(s.Roles)
	return s
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func appendUnique(list []string, v string) []string {
	if v == "" || contains(list, v) {
		return list
	}
	return append(list, v)
}

func dedupe(list []string) []string {
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		out = appendUnique(out, v)
	}
	return out
}

func clone(list []string) []string {
	out := make([]string, len(list))
	copy(out, list)
	return out
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func sameMembers(a, b []string) bool {
	a, b = dedupe(a), dedupe(b)
	if len(a) != len(b) {
		return false
	}
	for _, v := range a {
		if !contains(b, v) {
			return false
		}
	}
	return true
}
