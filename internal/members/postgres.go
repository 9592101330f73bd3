package members

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luqma-backoffice/backend/internal/models"
)

const memberColumns = `business_id, uid, role, status, display_name, COALESCE(email,''), COALESCE(phone,''),
	invited_by, invited_at, created_at, updated_at`

// PostgresStore keeps membership records in the business_members table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed membership store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, businessID, uid string) (*models.Membership, error) {
	q := `SELECT ` + memberColumns + ` FROM business_members WHERE business_id = $1 AND uid = $2`
	m, err := scanMember(s.pool.QueryRow(ctx, q, businessID, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) FindByEmail(ctx context.Context, businessID, email string, role models.Role) (*models.Membership, error) {
	q := `SELECT ` + memberColumns + ` FROM business_members
		WHERE business_id = $1 AND lower(email) = lower(trim($2)) AND role = $3
		ORDER BY updated_at DESC LIMIT 1`
	m, err := scanMember(s.pool.QueryRow(ctx, q, businessID, email, string(role)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, fmt.Errorf("find membership by email: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) Save(ctx context.Context, m *models.Membership) error {
	const q = `INSERT INTO business_members
		(business_id, uid, role, status, display_name, email, phone, invited_by, invited_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), NULLIF($7,''), $8, COALESCE($9, NOW()), NOW(), NOW())
		ON CONFLICT (business_id, uid) DO UPDATE SET
			role = EXCLUDED.role,
			status = EXCLUDED.status,
			display_name = EXCLUDED.display_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			updated_at = NOW()`
	var invitedAt interface{}
	if !m.InvitedAt.IsZero() {
		invitedAt = m.InvitedAt
	}
	_, err := s.pool.Exec(ctx, q, m.BusinessID, m.UID, string(m.Role), string(m.Status), m.DisplayName,
		m.Email, m.Phone, m.InvitedBy, invitedAt)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkRemoved(ctx context.Context, businessID, uid string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE business_members
		SET status = 'removed', updated_at = CASE WHEN status = 'removed' THEN updated_at ELSE NOW() END
		WHERE business_id = $1 AND uid = $2`, businessID, uid)
	if err != nil {
		return fmt.Errorf("mark membership removed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateDisplayName(ctx context.Context, businessID, uid, displayName string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE business_members SET display_name = $3, updated_at = NOW()
		WHERE business_id = $1 AND uid = $2`, businessID, uid, displayName)
	if err != nil {
		return fmt.Errorf("update display name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

func (s *PostgresStore) ListByUID(ctx context.Context, uid string) ([]models.Membership, error) {
	return s.list(ctx, `SELECT `+memberColumns+` FROM business_members WHERE uid = $1 ORDER BY business_id`, uid)
}

func (s *PostgresStore) ListByBusiness(ctx context.Context, businessID string) ([]models.Membership, error) {
	return s.list(ctx, `SELECT `+memberColumns+` FROM business_members WHERE business_id = $1
		ORDER BY display_name, uid`, businessID)
}

func (s *PostgresStore) Scan(ctx context.Context, fn func(models.Membership) error) error {
	rows, err := s.pool.Query(ctx, `SELECT `+memberColumns+` FROM business_members ORDER BY business_id, uid`)
	if err != nil {
		return fmt.Errorf("scan memberships: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return fmt.Errorf("scan membership row: %w", err)
		}
		if err := fn(*m); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *PostgresStore) list(ctx context.Context, q string, arg string) ([]models.Membership, error) {
	rows, err := s.pool.Query(ctx, q, arg)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()
	list := make([]models.Membership, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership row: %w", err)
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

func scanMember(row pgx.Row) (*models.Membership, error) {
	var m models.Membership
	var role, status string
	err := row.Scan(&m.BusinessID, &m.UID, &role, &status, &m.DisplayName, &m.Email, &m.Phone,
		&m.InvitedBy, &m.InvitedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Role = models.Role(role)
	m.Status = models.MembershipStatus(status)
	return &m, nil
}
