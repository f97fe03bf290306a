// Package engine is the embedded reference implementation of the credential
// engine the orchestration layer wraps. It owns password hashing, opaque
// session handles, single-use token redemption, and JWT minting; deployments
// with an external identity engine swap this package out behind the
// idp.CredentialEngine interface.
package engine

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-idp"
)

const (
	defaultSessionTTL = 7 * 24 * time.Hour
	defaultJWTTTL     = 15 * time.Minute
	defaultBasePath   = "/api/auth"

	sessionTokenBytes = 32
	issuedTokenBytes  = 32
)

// Config shapes the engine per the orchestrator's policy. Observer is the
// injection seam: the engine invokes it right after a token is durably
// recorded and propagates its error to the caller, so no token is ever
// issued without an attempted notification.
type Config struct {
	Secret     string
	BaseURL    string
	BasePath   string
	Issuer     string
	Audience   []string
	SessionTTL time.Duration
	JWTTTL     time.Duration
	Policy     idp.Policy
	Observer   idp.TokenObserver
	Logger     idp.Logger

	// SigningKey optionally pins the JWT keypair; nil generates a fresh one.
	SigningKey *rsa.PrivateKey
}

// Engine implements idp.CredentialEngine on top of the bun-backed Store.
type Engine struct {
	store    *Store
	cfg      Config
	key      *signingKey
	secret   []byte
	observer idp.TokenObserver
	logger   idp.Logger
}

var _ idp.CredentialEngine = (*Engine)(nil)

// New builds the engine. The secret keys the HMAC applied to every opaque
// handle before it touches storage, so a leaked database never yields usable
// tokens.
func New(store *Store, cfg Config) (*Engine, error) {
	if cfg.Secret == "" {
		return nil, goerrors.New("engine secret is required", goerrors.CategoryBadInput)
	}
	if store == nil {
		return nil, goerrors.New("engine store is required", goerrors.CategoryBadInput)
	}

	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.JWTTTL == 0 {
		cfg.JWTTTL = defaultJWTTTL
	}
	if cfg.BasePath == "" {
		cfg.BasePath = defaultBasePath
	}
	if cfg.Logger == nil {
		cfg.Logger = idp.DefaultLogger()
	}

	key, err := newSigningKey(cfg.SigningKey)
	if err != nil {
		return nil, err
	}

	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Engine{
		store:    store,
		cfg:      cfg,
		key:      key,
		secret:   []byte(cfg.Secret),
		observer: observer,
		logger:   cfg.Logger,
	}, nil
}

// RegisterUser creates the principal and opens a session. When the policy
// sends verification on sign-up, the verification token is recorded and
// dispatched before this returns; a dispatch failure fails the call.
func (e *Engine) RegisterUser(ctx context.Context, email, password, name string) (*idp.SessionGrant, error) {
	if email == "" || password == "" || name == "" {
		return nil, goerrors.New("email, password and name are required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &User{
		ID:           e.newUserID(email),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
	}

	if existing, lookupErr := e.store.GetUserByEmail(ctx, email); lookupErr == nil && existing != nil {
		return nil, idp.ErrUserAlreadyExists
	}

	var grant *idp.SessionGrant

	err = e.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		// The unique email constraint closes the lookup race.
		if err := e.store.CreateUser(ctx, tx, user); err != nil {
			return idp.ErrUserAlreadyExists
		}

		var err error
		grant, err = e.openSession(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	if e.cfg.Policy.SendVerificationOnSignUp {
		if err := e.issueVerification(ctx, user); err != nil {
			return nil, err
		}
	}

	return grant, nil
}

// Authenticate verifies credentials and opens a session. Unknown email and
// wrong password are indistinguishable; unverified email is its own failure
// when the policy requires verification.
func (e *Engine) Authenticate(ctx context.Context, email, password string) (*idp.SessionGrant, error) {
	user, err := e.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, idp.ErrInvalidCredentials
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		return nil, idp.ErrInvalidCredentials
	}

	if e.cfg.Policy.RequireEmailVerification && !user.EmailVerified {
		return nil, idp.ErrEmailNotVerified
	}

	var grant *idp.SessionGrant
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		var err error
		grant, err = e.openSession(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	return grant, nil
}

// DestroySession revokes the session behind the supplied credential.
func (e *Engine) DestroySession(ctx context.Context, creds idp.RequestCredentials) error {
	if creds.Empty() {
		return idp.ErrNoSession
	}
	return e.store.RevokeSession(ctx, e.hashToken(creds.Token()), time.Now())
}

// GetSession resolves the live session referenced by the credential.
func (e *Engine) GetSession(ctx context.Context, creds idp.RequestCredentials) (*idp.Session, error) {
	if creds.Empty() {
		return nil, idp.ErrNoSession
	}

	session, err := e.store.GetLiveSession(ctx, e.hashToken(creds.Token()), time.Now())
	if err != nil {
		return nil, err
	}

	return &idp.Session{
		ID:        session.ID.String(),
		Principal: session.User.Principal(),
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name"`
}

// SessionToJWT exchanges a live session for a short-lived signed JWT.
func (e *Engine) SessionToJWT(ctx context.Context, creds idp.RequestCredentials) (string, error) {
	session, err := e.GetSession(ctx, creds)
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := &jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    e.cfg.Issuer,
			Subject:   session.Principal.ID.String(),
			Audience:  jwt.ClaimStrings(e.cfg.Audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(e.cfg.JWTTTL)),
		},
		Email: session.Principal.Email,
		Name:  session.Principal.Name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = e.key.keyID

	signed, err := token.SignedString(e.key.private)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signed, nil
}

// JWKS returns the key set describing the JWT signing key.
func (e *Engine) JWKS(ctx context.Context) (json.RawMessage, error) {
	return e.key.jwkSet, nil
}

// IssueVerificationToken mints a fresh verification token for the account.
// Already-verified accounts are a no-op.
func (e *Engine) IssueVerificationToken(ctx context.Context, email string) error {
	user, err := e.store.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	if user.EmailVerified {
		return nil
	}

	return e.issueVerification(ctx, user)
}

// RedeemVerificationToken consumes the token, marks the email verified, and
// opens a fresh session for auto sign-in.
func (e *Engine) RedeemVerificationToken(ctx context.Context, token string) (*idp.SessionGrant, error) {
	now := time.Now()

	record, err := e.store.RedeemToken(ctx, e.hashToken(token), idp.TokenKindVerification, now)
	if err != nil {
		return nil, err
	}

	user, err := e.store.GetUserByID(ctx, record.UserID)
	if err != nil {
		return nil, err
	}

	var grant *idp.SessionGrant
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := e.store.MarkEmailVerified(ctx, tx, user.ID); err != nil {
			return err
		}
		user.EmailVerified = true

		var err error
		grant, err = e.openSession(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	return grant, nil
}

// IssueResetToken mints a password-reset token. Unknown emails surface as
// not-found so the orchestrator can suppress enumeration at its boundary.
func (e *Engine) IssueResetToken(ctx context.Context, email string) error {
	user, err := e.store.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	raw, record, err := e.newIssuedToken(user, idp.TokenKindPasswordReset, e.cfg.Policy.ResetTokenTTL)
	if err != nil {
		return err
	}

	if err := e.store.CreateToken(ctx, nil, record); err != nil {
		return err
	}

	resetURL := e.actionURL("/reset-password", raw)
	return e.observer.OnResetTokenIssued(ctx, user.Principal(), resetURL, raw)
}

// RedeemResetToken consumes the token, installs the new password, and
// revokes every live session the account holds.
func (e *Engine) RedeemResetToken(ctx context.Context, token, newPassword string) error {
	now := time.Now()

	record, err := e.store.RedeemToken(ctx, e.hashToken(token), idp.TokenKindPasswordReset, now)
	if err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	return e.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := e.store.UpdateUserPassword(ctx, tx, record.UserID, hash); err != nil {
			return err
		}
		return e.store.RevokeSessionsForUser(ctx, tx, record.UserID)
	})
}

// IssueInvitation records the invitation and dispatches the invitee email
// through the observer.
func (e *Engine) IssueInvitation(ctx context.Context, invitation *idp.Invitation) (*idp.Invitation, error) {
	inviter, err := e.store.GetUserByID(ctx, invitation.InviterID)
	if err != nil {
		return nil, err
	}

	record := &Invitation{
		ID:             uuid.New(),
		Email:          invitation.Email,
		Role:           invitation.Role,
		OrganizationID: invitation.OrganizationID,
		InviterID:      invitation.InviterID,
		CreatedAt:      time.Now(),
		ExpiresAt:      invitation.ExpiresAt,
	}

	if err := e.store.CreateInvitation(ctx, nil, record); err != nil {
		return nil, err
	}

	created := record.Value()
	if err := e.observer.OnInvitationIssued(ctx, created, inviter.Principal()); err != nil {
		return nil, err
	}

	return created, nil
}

// RedeemInvitation consumes the invitation on behalf of the authenticated
// invitee. The session email must match the invitee email.
func (e *Engine) RedeemInvitation(ctx context.Context, invitationID uuid.UUID, creds idp.RequestCredentials) error {
	session, err := e.GetSession(ctx, creds)
	if err != nil {
		return err
	}

	invitation, err := e.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return err
	}

	if invitation.Email != session.Principal.Email {
		return goerrors.New("invitation was issued to a different email", goerrors.CategoryAuthz).
			WithCode(goerrors.CodeForbidden)
	}

	return e.store.RedeemInvitation(ctx, invitationID, time.Now())
}

func (e *Engine) issueVerification(ctx context.Context, user *User) error {
	raw, record, err := e.newIssuedToken(user, idp.TokenKindVerification, e.cfg.Policy.VerificationTokenTTL)
	if err != nil {
		return err
	}

	if err := e.store.CreateToken(ctx, nil, record); err != nil {
		return err
	}

	verifyURL := e.actionURL("/verify-email", raw)
	return e.observer.OnVerificationTokenIssued(ctx, user.Principal(), verifyURL, raw)
}

func (e *Engine) openSession(ctx context.Context, tx bun.Tx, user *User) (*idp.SessionGrant, error) {
	raw, err := randomToken(sessionTokenBytes)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &Session{
		ID:        uuid.New(),
		TokenHash: e.hashToken(raw),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(e.cfg.SessionTTL),
	}

	if err := e.store.CreateSession(ctx, tx, session); err != nil {
		return nil, err
	}

	return &idp.SessionGrant{
		Token:     raw,
		Principal: user.Principal(),
		ExpiresAt: session.ExpiresAt,
	}, nil
}

func (e *Engine) newIssuedToken(user *User, kind idp.TokenKind, ttl time.Duration) (string, *IssuedToken, error) {
	raw, err := randomToken(issuedTokenBytes)
	if err != nil {
		return "", nil, err
	}

	now := time.Now()
	record := &IssuedToken{
		ID:        uuid.New(),
		Kind:      kind,
		TokenHash: e.hashToken(raw),
		UserID:    user.ID,
		Email:     user.Email,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	return raw, record, nil
}

func (e *Engine) actionURL(path, token string) string {
	return fmt.Sprintf("%s%s%s?token=%s", e.cfg.BaseURL, e.cfg.BasePath, path, url.QueryEscape(token))
}

// hashToken keys every opaque handle through an HMAC before storage.
func (e *Engine) hashToken(raw string) string {
	mac := hmac.New(sha256.New, e.secret)
	mac.Write([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// newUserID derives a deterministic id from the email, falling back to a
// random one if derivation fails.
func (e *Engine) newUserID(email string) uuid.UUID {
	if id, err := hashid.NewUUID(email); err == nil {
		return id
	}
	return uuid.New()
}

func randomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate token")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

type nopObserver struct{}

func (nopObserver) OnVerificationTokenIssued(context.Context, *idp.Principal, string, string) error {
	return nil
}

func (nopObserver) OnResetTokenIssued(context.Context, *idp.Principal, string, string) error {
	return nil
}

func (nopObserver) OnInvitationIssued(context.Context, *idp.Invitation, *idp.Principal) error {
	return nil
}
