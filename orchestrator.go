package idp

import (
	"context"
	"encoding/json"

	goerrors "github.com/goliatone/go-errors"
)

// Orchestrator is the sole entry point the transport layer calls. It wraps
// the credential engine with mode-dependent policy and exposes the auth
// lifecycle operations; all side-effecting notification work happens through
// the DispatchObserver handed to the engine at construction.
type Orchestrator struct {
	engine CredentialEngine
	policy Policy
	logger Logger
}

type OrchestratorOption func(*Orchestrator)

// WithLogger overrides the default logger.
func WithLogger(logger Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrchestrator composes the engine with the policy derived from the
// deployment mode. The engine must already carry the DispatchObserver so
// notification dispatch happens only after the engine durably recorded the
// token.
func NewOrchestrator(engine CredentialEngine, policy Policy, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		engine: engine,
		policy: policy,
		logger: defLogger{},
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Policy exposes the immutable policy value-set this orchestrator runs with.
func (o *Orchestrator) Policy() Policy {
	return o.policy
}

// SignUp registers a new principal and opens a session. In deployments that
// send verification on sign-up, the engine issues the verification token and
// the dispatch runs before this returns; a dispatch failure fails the whole
// operation so no token goes out unannounced.
func (o *Orchestrator) SignUp(ctx context.Context, email, password, name string) (*SessionGrant, error) {
	grant, err := o.engine.RegisterUser(ctx, email, password, name)
	if err != nil {
		o.logger.Error("sign-up failed email=%s: %v", email, err)
		return nil, err
	}

	o.logger.Info("principal registered principal=%s", grant.Principal.ID)
	return grant, nil
}

// SignIn authenticates credentials and opens a session.
func (o *Orchestrator) SignIn(ctx context.Context, email, password string) (*SessionGrant, error) {
	grant, err := o.engine.Authenticate(ctx, email, password)
	if err != nil {
		o.logger.Warn("sign-in rejected email=%s: %v", email, err)
		return nil, err
	}

	return grant, nil
}

// SignOut destroys the session behind the supplied credential. A missing or
// invalid credential is an auth failure, applied uniformly.
func (o *Orchestrator) SignOut(ctx context.Context, creds RequestCredentials) error {
	if creds.Empty() {
		return ErrNoSession
	}

	if err := o.engine.DestroySession(ctx, creds); err != nil {
		o.logger.Warn("sign-out with invalid session: %v", err)
		return err
	}

	return nil
}

// CurrentSession resolves the session referenced by the request credential.
func (o *Orchestrator) CurrentSession(ctx context.Context, creds RequestCredentials) (*Session, error) {
	if creds.Empty() {
		return nil, ErrNoSession
	}
	return o.engine.GetSession(ctx, creds)
}

// MintToken exchanges a live session for a signed JWT.
func (o *Orchestrator) MintToken(ctx context.Context, creds RequestCredentials) (string, error) {
	if creds.Empty() {
		return "", ErrNoSession
	}
	return o.engine.SessionToJWT(ctx, creds)
}

// JWKS returns the key set describing the JWT signing keys.
func (o *Orchestrator) JWKS(ctx context.Context) (json.RawMessage, error) {
	return o.engine.JWKS(ctx)
}

// VerifyEmail redeems a verification token. With auto sign-in enabled the
// returned grant carries a fresh session; otherwise only the principal is
// populated.
func (o *Orchestrator) VerifyEmail(ctx context.Context, token string) (*SessionGrant, error) {
	grant, err := o.engine.RedeemVerificationToken(ctx, token)
	if err != nil {
		o.logger.Warn("verification token rejected: %v", err)
		return nil, err
	}

	if !o.policy.AutoSignInAfterVerification {
		grant.Token = ""
	}

	o.logger.Info("email verified principal=%s", grant.Principal.ID)
	return grant, nil
}

// RequestPasswordReset issues a reset token when an account exists for the
// email. Unknown emails are deliberately indistinguishable from known ones
// to the caller; only transport failures surface.
func (o *Orchestrator) RequestPasswordReset(ctx context.Context, email string) error {
	err := o.engine.IssueResetToken(ctx, email)
	if err == nil {
		return nil
	}

	if IsSendError(err) {
		return err
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Category == goerrors.CategoryNotFound {
		o.logger.Debug("reset requested for unknown email email=%s", email)
		return nil
	}

	return err
}

// ResetPassword redeems a reset token and installs the new password.
func (o *Orchestrator) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := o.engine.RedeemResetToken(ctx, token, newPassword); err != nil {
		o.logger.Warn("reset token rejected: %v", err)
		return err
	}

	return nil
}
