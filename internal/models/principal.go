package models

import "time"

// Principal is an identity known to the identity authority.
type Principal struct {
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	SecretHash  string `json:"-"`
	// CustomClaims is the signed claim object embedded in every session token.
	CustomClaims map[string]interface{} `json:"custom_claims,omitempty"`
	// ClaimsVersion increments on every claims write; used for conditional writes.
	ClaimsVersion int64 `json:"claims_version"`
	// TokensValidAfter rejects any session token issued before it.
	TokensValidAfter time.Time `json:"tokens_valid_after"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PrincipalPublic is Principal without secrets for API responses.
type PrincipalPublic struct {
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// ToPublic converts Principal to PrincipalPublic.
func (p *Principal) ToPublic() PrincipalPublic {
	return PrincipalPublic{
		UID:         p.UID,
		Email:       p.Email,
		Phone:       p.Phone,
		DisplayName: p.DisplayName,
	}
}
