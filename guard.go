package idp

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// DefaultSessionCookie is the cookie name the engine sets and the guard
// reads.
const DefaultSessionCookie = "idp.session_token"

// PrincipalLocalsKey is where the guard stores the resolved principal in the
// fiber request scope.
const PrincipalLocalsKey = "idp.principal"

const bearerScheme = "Bearer "

// SessionGuard protects routes: each request re-validates its credential
// against the engine, with no caching, so the only stale-session window is
// the engine's own expiry policy.
type SessionGuard struct {
	engine     CredentialEngine
	cookieName string
	logger     Logger
}

type SessionGuardOption func(*SessionGuard)

// WithGuardCookieName overrides the session cookie the guard looks up.
func WithGuardCookieName(name string) SessionGuardOption {
	return func(g *SessionGuard) {
		if name != "" {
			g.cookieName = name
		}
	}
}

// WithGuardLogger overrides the default logger.
func WithGuardLogger(logger Logger) SessionGuardOption {
	return func(g *SessionGuard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewSessionGuard builds a guard backed by the given engine.
func NewSessionGuard(engine CredentialEngine, opts ...SessionGuardOption) *SessionGuard {
	g := &SessionGuard{
		engine:     engine,
		cookieName: DefaultSessionCookie,
		logger:     defLogger{},
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Protect is the middleware: it extracts request credentials, resolves the
// session, attaches the principal to the request context, and rejects with
// 401 otherwise.
func (g *SessionGuard) Protect() fiber.Handler {
	return func(c *fiber.Ctx) error {
		creds := g.ExtractCredentials(c)
		if creds.Empty() {
			return rejectUnauthenticated(c)
		}

		session, err := g.engine.GetSession(c.UserContext(), creds)
		if err != nil || session == nil || session.Principal == nil {
			if err != nil {
				g.logger.Debug("session guard rejected request: %v", err)
			}
			return rejectUnauthenticated(c)
		}

		c.Locals(PrincipalLocalsKey, session.Principal)
		ctx := WithPrincipal(c.UserContext(), session.Principal)
		ctx = WithSession(ctx, session)
		c.SetUserContext(ctx)

		return c.Next()
	}
}

// ExtractCredentials pulls the bearer token and session cookie off the
// inbound request.
func (g *SessionGuard) ExtractCredentials(c *fiber.Ctx) RequestCredentials {
	creds := RequestCredentials{
		SessionCookie: c.Cookies(g.cookieName),
	}

	header := c.Get(fiber.HeaderAuthorization)
	if strings.HasPrefix(header, bearerScheme) {
		creds.BearerToken = strings.TrimSpace(strings.TrimPrefix(header, bearerScheme))
	}

	return creds
}

// GuardedPrincipal returns the principal a passing guard attached to the
// request scope.
func GuardedPrincipal(c *fiber.Ctx) (*Principal, bool) {
	principal, ok := c.Locals(PrincipalLocalsKey).(*Principal)
	return principal, ok
}

func rejectUnauthenticated(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"status":  "error",
		"message": "Invalid or expired token",
	})
}
