package members

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/luqma-backoffice/backend/internal/models"
)

type recordKey struct {
	businessID string
	uid        string
}

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]models.Membership
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]models.Membership)}
}

func (s *MemoryStore) Get(_ context.Context, businessID, uid string) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.records[recordKey{businessID, uid}]
	if !ok {
		return nil, ErrMembershipNotFound
	}
	return &m, nil
}

func (s *MemoryStore) FindByEmail(_ context.Context, businessID, email string, role models.Role) (*models.Membership, error) {
	email = strings.TrimSpace(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Membership
	for k, m := range s.records {
		if k.businessID != businessID || email == "" || !strings.EqualFold(m.Email, email) || m.Role != role {
			continue
		}
		// Most recently updated wins, as in the Postgres store; uid breaks ties.
		if found == nil || m.UpdatedAt.After(found.UpdatedAt) ||
			(m.UpdatedAt.Equal(found.UpdatedAt) && m.UID < found.UID) {
			m := m
			found = &m
		}
	}
	if found == nil {
		return nil, ErrMembershipNotFound
	}
	return found, nil
}

func (s *MemoryStore) Save(_ context.Context, m *models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := recordKey{m.BusinessID, m.UID}
	rec := *m
	if prev, ok := s.records[k]; ok {
		rec.InvitedBy = prev.InvitedBy
		rec.InvitedAt = prev.InvitedAt
		rec.CreatedAt = prev.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	s.records[k] = rec
	return nil
}

func (s *MemoryStore) MarkRemoved(_ context.Context, businessID, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := recordKey{businessID, uid}
	m, ok := s.records[k]
	if !ok {
		return ErrMembershipNotFound
	}
	if m.Status == models.MembershipRemoved {
		return nil
	}
	m.Status = models.MembershipRemoved
	m.UpdatedAt = time.Now().UTC()
	s.records[k] = m
	return nil
}

func (s *MemoryStore) UpdateDisplayName(_ context.Context, businessID, uid, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := recordKey{businessID, uid}
	m, ok := s.records[k]
	if !ok {
		return ErrMembershipNotFound
	}
	m.DisplayName = displayName
	m.UpdatedAt = time.Now().UTC()
	s.records[k] = m
	return nil
}

func (s *MemoryStore) ListByUID(_ context.Context, uid string) ([]models.Membership, error) {
	return s.filter(func(m models.Membership) bool { return m.UID == uid }), nil
}

func (s *MemoryStore) ListByBusiness(_ context.Context, businessID string) ([]models.Membership, error) {
	return s.filter(func(m models.Membership) bool { return m.BusinessID == businessID }), nil
}

func (s *MemoryStore) Scan(ctx context.Context, fn func(models.Membership) error) error {
	for _, m := range s.filter(func(models.Membership) bool { return true }) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

// filter returns matching records ordered by business then uid.
func (s *MemoryStore) filter(match func(models.Membership) bool) []models.Membership {
	s.mu.RLock()
	out := make([]models.Membership, 0)
	for _, m := range s.records {
		if match(m) {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].BusinessID != out[j].BusinessID {
			return out[i].BusinessID < out[j].BusinessID
		}
		return out[i].UID < out[j].UID
	})
	return out
}
