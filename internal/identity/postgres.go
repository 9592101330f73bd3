package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luqma-backoffice/backend/internal/claims"
	"github.com/luqma-backoffice/backend/internal/models"
	"github.com/luqma-backoffice/backend/pkg/utils"
)

const principalColumns = `uid, COALESCE(email,''), COALESCE(phone,''), display_name, secret_hash,
	custom_claims, claims_version, tokens_valid_after, created_at, updated_at`

// PostgresAuthority stores principals in the principals table.
type PostgresAuthority struct {
	pool *pgxpool.Pool
}

// NewPostgresAuthority creates a Postgres-backed authority.
func NewPostgresAuthority(pool *pgxpool.Pool) *PostgresAuthority {
	return &PostgresAuthority{pool: pool}
}

func (a *PostgresAuthority) CreatePrincipal(ctx context.Context, params CreatePrincipalParams) (*models.Principal, error) {
	hash := ""
	if params.Secret != "" {
		h, err := utils.HashPassword(params.Secret)
		if err != nil {
			return nil, fmt.Errorf("hash secret: %w", err)
		}
		hash = h
	}
	uid := params.UID
	if uid == "" {
		uid = uuid.New().String()
	}
	q := `INSERT INTO principals (uid, email, phone, display_name, secret_hash, custom_claims)
		VALUES ($1, NULLIF($2,''), NULLIF($3,''), $4, $5, '{}'::jsonb)
		RETURNING ` + principalColumns
	p, err := scanPrincipal(a.pool.QueryRow(ctx, q, uid, normalizeEmail(params.Email), params.Phone, params.DisplayName, hash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrPrincipalExists
		}
		return nil, fmt.Errorf("insert principal: %w", err)
	}
	return p, nil
}

func (a *PostgresAuthority) GetPrincipal(ctx context.Context, uid string) (*models.Principal, error) {
	return a.getBy(ctx, "uid", uid)
}

func (a *PostgresAuthority) GetPrincipalByEmail(ctx context.Context, email string) (*models.Principal, error) {
	return a.getBy(ctx, "email", normalizeEmail(email))
}

func (a *PostgresAuthority) GetPrincipalByPhone(ctx context.Context, phone string) (*models.Principal, error) {
	return a.getBy(ctx, "phone", phone)
}

func (a *PostgresAuthority) getBy(ctx context.Context, column, value string) (*models.Principal, error) {
	if value == "" {
		return nil, ErrPrincipalNotFound
	}
	q := `SELECT ` + principalColumns + ` FROM principals WHERE ` + column + ` = $1`
	p, err := scanPrincipal(a.pool.QueryRow(ctx, q, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("get principal by %s: %w", column, err)
	}
	return p, nil
}

func (a *PostgresAuthority) UpdatePrincipal(ctx context.Context, uid string, params UpdatePrincipalParams) (*models.Principal, error) {
	var hash *string
	if params.Secret != nil {
		h, err := utils.HashPassword(*params.Secret)
		if err != nil {
			return nil, fmt.Errorf("hash secret: %w", err)
		}
		hash = &h
	}
	q := `UPDATE principals SET
		display_name = COALESCE($2, display_name),
		secret_hash = COALESCE($3, secret_hash),
		updated_at = NOW()
		WHERE uid = $1
		RETURNING ` + principalColumns
	p, err := scanPrincipal(a.pool.QueryRow(ctx, q, uid, params.DisplayName, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("update principal: %w", err)
	}
	return p, nil
}

func (a *PostgresAuthority) SetCustomClaims(ctx context.Context, uid string, c map[string]interface{}, ifVersion int64) (int64, error) {
	const q = `UPDATE principals SET custom_claims = $2, claims_version = claims_version + 1, updated_at = NOW()
		WHERE uid = $1 AND ($3::bigint < 0 OR claims_version = $3)
		RETURNING claims_version`
	var version int64
	err := a.pool.QueryRow(ctx, q, uid, c, ifVersion).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("set custom claims: %w", err)
	}
	if ifVersion == claims.AnyVersion {
		return 0, ErrPrincipalNotFound
	}
	var exists bool
	if err := a.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM principals WHERE uid = $1)`, uid).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check principal: %w", err)
	}
	if !exists {
		return 0, ErrPrincipalNotFound
	}
	return 0, claims.ErrClaimsConflict
}

func (a *PostgresAuthority) RevokeSessions(ctx context.Context, uid string) (time.Time, error) {
	cutoff := revocationCutoff(time.Now())
	tag, err := a.pool.Exec(ctx, `UPDATE principals SET tokens_valid_after = $2, updated_at = NOW() WHERE uid = $1`, uid, cutoff)
	if err != nil {
		return time.Time{}, fmt.Errorf("revoke sessions: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return time.Time{}, ErrPrincipalNotFound
	}
	return cutoff, nil
}

func (a *PostgresAuthority) DeletePrincipal(ctx context.Context, uid string) error {
	tag, err := a.pool.Exec(ctx, `DELETE FROM principals WHERE uid = $1`, uid)
	if err != nil {
		return fmt.Errorf("delete principal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}

func scanPrincipal(row pgx.Row) (*models.Principal, error) {
	var p models.Principal
	err := row.Scan(&p.UID, &p.Email, &p.Phone, &p.DisplayName, &p.SecretHash,
		&p.CustomClaims, &p.ClaimsVersion, &p.TokensValidAfter, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
