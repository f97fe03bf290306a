package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Principal is the authenticated user identity record. Identity fields are
// immutable after registration; EmailVerified flips on verification-token
// redemption.
type Principal struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	EmailVerified bool      `json:"emailVerified"`
}

// Session references an engine-owned session by opaque handle.
type Session struct {
	ID        string     `json:"id"`
	Principal *Principal `json:"user"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// SessionGrant is the credential pair returned by sign-in/sign-up: the opaque
// token doubles as bearer token and session cookie value.
type SessionGrant struct {
	Token     string     `json:"token"`
	Principal *Principal `json:"user"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// RequestCredentials carries whatever the inbound request supplied to
// reference a session. At most one of the two is required.
type RequestCredentials struct {
	BearerToken   string
	SessionCookie string
}

// Token returns the bearer token if present, the cookie value otherwise.
func (rc RequestCredentials) Token() string {
	if rc.BearerToken != "" {
		return rc.BearerToken
	}
	return rc.SessionCookie
}

// Empty reports whether the request supplied no credential at all.
func (rc RequestCredentials) Empty() bool {
	return rc.BearerToken == "" && rc.SessionCookie == ""
}

// TokenKind tags the single-use token variants the engine issues.
type TokenKind string

const (
	TokenKindVerification  TokenKind = "verification"
	TokenKindPasswordReset TokenKind = "password_reset"
	TokenKindInvitation    TokenKind = "invitation"
)

// Invitation is an organization-membership invitation issued by an
// authenticated inviter and redeemed by the invitee.
type Invitation struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	OrganizationID uuid.UUID `json:"organizationId"`
	InviterID      uuid.UUID `json:"inviterId"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// TokenObserver is the seam between the opaque engine and our orchestration:
// the engine invokes it at the moment a token has been durably recorded,
// never before. A non-nil error from the observer propagates out of the
// operation that minted the token.
type TokenObserver interface {
	OnVerificationTokenIssued(ctx context.Context, principal *Principal, url, token string) error
	OnResetTokenIssued(ctx context.Context, principal *Principal, url, token string) error
	OnInvitationIssued(ctx context.Context, invitation *Invitation, inviter *Principal) error
}

// CredentialEngine wraps the external identity engine. Password hashing,
// session signing, JWT key material, and single-use token redemption all
// live behind this interface.
type CredentialEngine interface {
	RegisterUser(ctx context.Context, email, password, name string) (*SessionGrant, error)
	Authenticate(ctx context.Context, email, password string) (*SessionGrant, error)
	DestroySession(ctx context.Context, creds RequestCredentials) error
	SessionToJWT(ctx context.Context, creds RequestCredentials) (string, error)
	GetSession(ctx context.Context, creds RequestCredentials) (*Session, error)

	IssueVerificationToken(ctx context.Context, email string) error
	RedeemVerificationToken(ctx context.Context, token string) (*SessionGrant, error)
	IssueResetToken(ctx context.Context, email string) error
	RedeemResetToken(ctx context.Context, token, newPassword string) error
	IssueInvitation(ctx context.Context, invitation *Invitation) (*Invitation, error)
	RedeemInvitation(ctx context.Context, invitationID uuid.UUID, creds RequestCredentials) error

	JWKS(ctx context.Context) (json.RawMessage, error)
}

// EmailMessage is the payload handed to the mail transport.
type EmailMessage struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// MailTransport is the outbound delivery capability the dispatcher depends
// on. Implementations must be safe for concurrent use.
type MailTransport interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// DefaultLogger returns the stdout logger used when no Logger is provided.
func DefaultLogger() Logger {
	return defLogger{}
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDP "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDP "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDP "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDP "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
