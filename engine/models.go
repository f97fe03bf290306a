package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-idp"
)

// User is the credential record backing a Principal.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id,omitempty"`
	Email         string     `bun:"email,notnull,unique" json:"email,omitempty"`
	Name          string     `bun:"name,notnull" json:"name,omitempty"`
	EmailVerified bool       `bun:"is_email_verified" json:"is_email_verified,omitempty"`
	PasswordHash  string     `bun:"password_hash,notnull" json:"-"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Principal adapts the record into the orchestration-layer identity value.
func (u *User) Principal() *idp.Principal {
	if u == nil {
		return nil
	}
	return &idp.Principal{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		EmailVerified: u.EmailVerified,
	}
}

// Session stores a hash of the opaque handle, never the handle itself.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:ses"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id,omitempty"`
	TokenHash     string     `bun:"token_hash,notnull,unique" json:"-"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User          *User      `bun:"rel:has-one,join:user_id=id" json:"user,omitempty"`
	Revoked       bool       `bun:"revoked" json:"revoked,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at,omitempty"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// Live reports whether the session can still authenticate requests.
func (s *Session) Live(now time.Time) bool {
	return s != nil && !s.Revoked && now.Before(s.ExpiresAt)
}

// IssuedToken is the shared record for every single-use token kind. A token
// is redeemable exactly once and only before ExpiresAt; RedeemedAt flips via
// a conditional update so concurrent redeems serialize in the store.
type IssuedToken struct {
	bun.BaseModel `bun:"table:issued_tokens,alias:tok"`
	ID            uuid.UUID     `bun:"id,pk,type:uuid" json:"id,omitempty"`
	Kind          idp.TokenKind `bun:"kind,notnull" json:"kind,omitempty"`
	TokenHash     string        `bun:"token_hash,notnull,unique" json:"-"`
	UserID        uuid.UUID     `bun:"user_id,type:uuid" json:"user_id,omitempty"`
	Email         string        `bun:"email,notnull" json:"email,omitempty"`
	IssuedAt      time.Time     `bun:"issued_at,notnull" json:"issued_at,omitempty"`
	ExpiresAt     time.Time     `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	RedeemedAt    *time.Time    `bun:"redeemed_at,nullzero" json:"redeemed_at,omitempty"`
}

// Invitation is the organization-invitation record.
type Invitation struct {
	bun.BaseModel  `bun:"table:invitations,alias:inv"`
	ID             uuid.UUID  `bun:"id,pk,type:uuid" json:"id,omitempty"`
	Email          string     `bun:"email,notnull" json:"email,omitempty"`
	Role           string     `bun:"role,notnull" json:"role,omitempty"`
	OrganizationID uuid.UUID  `bun:"organization_id,notnull,type:uuid" json:"organization_id,omitempty"`
	InviterID      uuid.UUID  `bun:"inviter_id,notnull,type:uuid" json:"inviter_id,omitempty"`
	CreatedAt      time.Time  `bun:"created_at,notnull" json:"created_at,omitempty"`
	ExpiresAt      time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	RedeemedAt     *time.Time `bun:"redeemed_at,nullzero" json:"redeemed_at,omitempty"`
}

// Value adapts the record into the orchestration-layer invitation value.
func (i *Invitation) Value() *idp.Invitation {
	if i == nil {
		return nil
	}
	return &idp.Invitation{
		ID:             i.ID,
		Email:          i.Email,
		Role:           i.Role,
		OrganizationID: i.OrganizationID,
		InviterID:      i.InviterID,
		ExpiresAt:      i.ExpiresAt,
	}
}
