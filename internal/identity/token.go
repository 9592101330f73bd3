package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/luqma-backoffice/backend/internal/claims"
	"github.com/luqma-backoffice/backend/internal/models"
	"github.com/luqma-backoffice/backend/pkg/apperr"
)

var (
	ErrInvalidToken = apperr.New(apperr.Unauthenticated, "invalid_token", "invalid or expired token")
)

// TokenClaims is the signed session token payload. The claim set is a snapshot taken at issue time.
type TokenClaims struct {
	BusinessIDs []string `json:"businessIds"`
	Roles       []string `json:"roles"`
	Email       string   `json:"email,omitempty"`
	// IssuedAtMicros is the issue instant in Unix microseconds; iat only carries whole seconds.
	IssuedAtMicros int64 `json:"iat_us,omitempty"`
	jwt.RegisteredClaims
}

// UID returns the token subject.
func (c *TokenClaims) UID() string { return c.Subject }

// IssuedTime is the issue instant at the finest precision the token carries.
func (c *TokenClaims) IssuedTime() time.Time {
	if c.IssuedAtMicros > 0 {
		return time.UnixMicro(c.IssuedAtMicros).UTC()
	}
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// Set returns the embedded claim set.
func (c *TokenClaims) Set() claims.Set {
	return claims.Set{BusinessIDs: c.BusinessIDs, Roles: c.Roles}
}

// TokenIssuer signs and validates session tokens.
type TokenIssuer struct {
	secret      []byte
	issuer      string
	expireHours int
	now         func() time.Time
}

// NewTokenIssuer creates an HS256 token issuer.
func NewTokenIssuer(secret, issuer string, expireHours int) *TokenIssuer {
	return &TokenIssuer{
		secret:      []byte(secret),
		issuer:      issuer,
		expireHours: expireHours,
		now:         time.Now,
	}
}

// SetClock replaces the time source used for iat and exp.
func (s *TokenIssuer) SetClock(now func() time.Time) { s.now = now }

// TTL is the lifetime of issued tokens.
func (s *TokenIssuer) TTL() time.Duration {
	return time.Duration(s.expireHours) * time.Hour
}

// Issue creates a token for p embedding its current claim set.
func (s *TokenIssuer) Issue(p *models.Principal) (string, *TokenClaims, error) {
	set, err := claims.FromMap(p.CustomClaims)
	if err != nil {
		return "", nil, apperr.Internalf(err, "claims of %s", p.UID)
	}
	now := s.now()
	tc := &TokenClaims{
		BusinessIDs:    nonNil(set.BusinessIDs),
		Roles:          nonNil(set.Roles),
		Email:          p.Email,
		IssuedAtMicros: now.UnixMicro(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL())),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tc)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, apperr.Internalf(err, "sign token")
	}
	return signed, tc, nil
}

// Validate parses and validates a token, returning its claims or ErrInvalidToken.
func (s *TokenIssuer) Validate(tokenString string) (*TokenClaims, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(s.now), jwt.WithIssuedAt()}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, ErrInvalidToken
	}
	tc, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid || tc.Subject == "" || tc.IssuedAt == nil {
		return nil, ErrInvalidToken
	}
	return tc, nil
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
