package idp_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	idp "github.com/goliatone/go-idp"
	"github.com/goliatone/go-idp/engine"
)

var stackSeq atomic.Int64

type testStack struct {
	app     *fiber.App
	capture *captureTransport
}

func newTestStack(t *testing.T, testMode bool) *testStack {
	t.Helper()

	dsn := fmt.Sprintf("file:stack%d?mode=memory&cache=shared", stackSeq.Add(1))
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	t.Cleanup(func() { sqldb.Close() })

	db := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, engine.Migrate(context.Background(), db))

	capture := &captureTransport{}
	mailer := idp.NewMailer(&idp.DeploymentConfig{
		FromEmail:   "noreply@example.com",
		FrontendURL: "https://app.example.com",
	}, idp.WithTransport(capture))

	policy := idp.PolicyForMode(testMode)
	observer := idp.NewDispatchObserver(mailer)

	eng, err := engine.New(engine.NewStore(db), engine.Config{
		Secret:   "test-secret",
		BaseURL:  "https://auth.example.com",
		Issuer:   "https://auth.example.com",
		Audience: []string{"https://auth.example.com"},
		Policy:   policy,
		Observer: observer,
	})
	require.NoError(t, err)

	orchestrator := idp.NewOrchestrator(eng, policy)
	guard := idp.NewSessionGuard(eng)
	controller := idp.NewAuthController(orchestrator, guard)

	app := fiber.New()
	idp.RegisterAuthRoutes(app.Group("/api/auth"), controller)
	app.Get("/health", controller.HealthGet)

	return &testStack{app: app, capture: capture}
}

func (s *testStack) request(t *testing.T, method, path string, body any, token string) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	payload := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &payload), "body: %s", raw)
	}

	return resp, payload
}

func (s *testStack) signUp(t *testing.T, email, password, name string) (*http.Response, map[string]any) {
	return s.request(t, http.MethodPost, "/api/auth/sign-up/email", map[string]string{
		"email":    email,
		"password": password,
		"name":     name,
	}, "")
}

func (s *testStack) signIn(t *testing.T, email, password string) (*http.Response, map[string]any) {
	return s.request(t, http.MethodPost, "/api/auth/sign-in/email", map[string]string{
		"email":    email,
		"password": password,
	}, "")
}

// tokenFromLink pulls the token query parameter out of the first link found
// in a plain-text email body.
func tokenFromLink(t *testing.T, text string) string {
	t.Helper()

	idx := strings.Index(text, "http")
	require.GreaterOrEqual(t, idx, 0, "no link in message: %s", text)

	link := strings.Fields(text[idx:])[0]
	parsed, err := url.Parse(link)
	require.NoError(t, err)

	token := parsed.Query().Get("token")
	require.NotEmpty(t, token, "no token in link: %s", link)
	return token
}

func TestSignUpTestMode(t *testing.T) {
	stack := newTestStack(t, true)

	resp, body := stack.signUp(t, "jane@example.com", "password123", "Jane")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(idp.AuthTokenHeader))

	user := body["user"].(map[string]any)
	assert.Equal(t, "jane@example.com", user["email"])
	assert.Equal(t, "Jane", user["name"])

	// Test mode skips sign-up verification dispatch entirely.
	assert.Empty(t, stack.capture.sent())
}

func TestSignUpDuplicateEmail(t *testing.T) {
	stack := newTestStack(t, true)

	resp, _ := stack.signUp(t, "jane@example.com", "password123", "Jane")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := stack.signUp(t, "jane@example.com", "password123", "Jane Again")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "USER_ALREADY_EXISTS", body["code"])
}

func TestSignUpValidation(t *testing.T) {
	stack := newTestStack(t, true)

	resp, body := stack.request(t, http.MethodPost, "/api/auth/sign-up/email", map[string]string{
		"email":    "not-an-email",
		"password": "short",
		"name":     "",
	}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "error", body["status"])
}

func TestProductionVerificationFlow(t *testing.T) {
	stack := newTestStack(t, false)

	resp, _ := stack.signUp(t, "jane@example.com", "password123", "Jane")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sent := stack.capture.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Verify your email", sent[0].Subject)

	// Unverified accounts cannot sign in while verification is required.
	resp, body := stack.signIn(t, "jane@example.com", "password123")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "EMAIL_NOT_VERIFIED", body["code"])

	token := tokenFromLink(t, sent[0].Text)
	resp, body = stack.request(t, http.MethodGet, "/api/auth/verify-email?token="+url.QueryEscape(token), nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])
	assert.NotEmpty(t, resp.Header.Get(idp.AuthTokenHeader))

	user := body["user"].(map[string]any)
	assert.Equal(t, true, user["emailVerified"])

	resp, _ = stack.signIn(t, "jane@example.com", "password123")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestVerificationTokenSingleUse(t *testing.T) {
	stack := newTestStack(t, false)

	resp, _ := stack.signUp(t, "jane@example.com", "password123", "Jane")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	token := tokenFromLink(t, stack.capture.sent()[0].Text)
	path := "/api/auth/verify-email?token=" + url.QueryEscape(token)

	resp, _ = stack.request(t, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := stack.request(t, http.MethodGet, path, nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "TOKEN_SPENT", body["code"])
}

func TestSessionLifecycle(t *testing.T) {
	stack := newTestStack(t, true)

	resp, _ := stack.signUp(t, "jane@example.com", "password123", "Jane")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := resp.Header.Get(idp.AuthTokenHeader)

	resp, body := stack.request(t, http.MethodGet, "/api/auth/session", nil, token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	session := body["session"].(map[string]any)
	assert.NotEmpty(t, session["id"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "jane@example.com", user["email"])

	// No credential at all.
	resp, body = stack.request(t, http.MethodGet, "/api/auth/session", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "NO_SESSION", body["code"])

	// Sign out invalidates the handle.
	resp, body = stack.request(t, http.MethodPost, "/api/auth/sign-out", nil, token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, _ = stack.request(t, http.MethodGet, "/api/auth/session", nil, token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Sign-out with a garbage token is a 401, same as any invalid session.
	resp, _ = stack.request(t, http.MethodPost, "/api/auth/sign-out", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A fresh sign-in still works after sign-out.
	resp, _ = stack.signIn(t, "jane@example.com", "password123")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenMintAndJWKS(t *testing.T) {
	stack := newTestStack(t, true)

	resp, _ := stack.signUp(t, "jane@example.com", "password123", "Jane")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	session := resp.Header.Get(idp.AuthTokenHeader)

	resp, body := stack.request(t, http.MethodGet, "/api/auth/token", nil, session)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	signed := body["token"].(string)
	assert.Len(t, strings.Split(signed, "."), 3)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/jwks", nil)
	jwksResp, err := stack.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, jwksResp.StatusCode)

	jwksRaw, err := io.ReadAll(jwksResp.Body)
	require.NoError(t, err)

	jwks, err := keyfunc.NewJSON(jwksRaw)
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, jwks.Keyfunc)
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "jane@example.com", claims["email"])
	assert.Equal(t, "Jane", claims["name"])
	assert.Equal(t, "https://auth.example.com", claims["iss"])
	assert.NotEmpty(t, claims["sub"])
	assert.NotEmpty(t, parsed.Header["kid"])
}

func TestPasswordResetFlow(t *testing.T) {
	stack := newTestStack(t, true)

	resp, _ := stack.signUp(t, "jane@example.com", "oldpassword1", "Jane")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	session := resp.Header.Get(idp.AuthTokenHeader)

	resp, body := stack.request(t, http.MethodPost, "/api/auth/request-password-reset", map[string]string{
		"email": "jane@example.com",
	}, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])

	sent := stack.capture.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "https://app.example.com/set-new-password?token=")

	token := tokenFromLink(t, sent[0].Text)
	resp, body = stack.request(t, http.MethodPost, "/api/auth/reset-password", map[string]string{
		"token":       token,
		"newPassword": "newpassword1",
	}, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	// The reset revoked every live session.
	resp, _ = stack.request(t, http.MethodGet, "/api/auth/session", nil, session)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = stack.signIn(t, "jane@example.com", "oldpassword1")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = stack.signIn(t, "jane@example.com", "newpassword1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The reset token is spent.
	resp, body = stack.request(t, http.MethodPost, "/api/auth/reset-password", map[string]string{
		"token":       token,
		"newPassword": "anotherpassword1",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "TOKEN_SPENT", body["code"])
}

func TestPasswordResetUnknownEmail(t *testing.T) {
	stack := newTestStack(t, true)

	resp, body := stack.request(t, http.MethodPost, "/api/auth/request-password-reset", map[string]string{
		"email": "nobody@example.com",
	}, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])
	assert.Empty(t, stack.capture.sent())
}

func TestInvitationFlow(t *testing.T) {
	stack := newTestStack(t, true)

	resp, _ := stack.signUp(t, "boss@example.com", "password123", "Boss")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	inviterSession := resp.Header.Get(idp.AuthTokenHeader)

	orgID := "6f1b0a47-9f3e-4f33-8a0e-2f3f16d5b301"
	resp, body := stack.request(t, http.MethodPost, "/api/auth/organization/invite", map[string]string{
		"email":          "newhire@example.com",
		"role":           "member",
		"organizationId": orgID,
	}, inviterSession)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)

	invitation := body["invitation"].(map[string]any)
	invitationID := invitation["id"].(string)
	assert.Equal(t, "newhire@example.com", invitation["email"])

	sent := stack.capture.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "newhire@example.com", sent[0].To)
	assert.Contains(t, sent[0].HTML, invitationID)

	// Invitee registers, then accepts.
	resp, _ = stack.signUp(t, "newhire@example.com", "password123", "New Hire")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	inviteeSession := resp.Header.Get(idp.AuthTokenHeader)

	resp, body = stack.request(t, http.MethodPost, "/api/auth/organization/accept-invitation", map[string]string{
		"invitationId": invitationID,
	}, inviteeSession)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)
	assert.Equal(t, true, body["success"])

	// Invitations are single use.
	resp, body = stack.request(t, http.MethodPost, "/api/auth/organization/accept-invitation", map[string]string{
		"invitationId": invitationID,
	}, inviteeSession)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "TOKEN_SPENT", body["code"])
}

func TestInvitationWrongInvitee(t *testing.T) {
	stack := newTestStack(t, true)

	resp, _ := stack.signUp(t, "boss@example.com", "password123", "Boss")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	inviterSession := resp.Header.Get(idp.AuthTokenHeader)

	resp, body := stack.request(t, http.MethodPost, "/api/auth/organization/invite", map[string]string{
		"email":          "newhire@example.com",
		"role":           "member",
		"organizationId": "6f1b0a47-9f3e-4f33-8a0e-2f3f16d5b301",
	}, inviterSession)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	invitationID := body["invitation"].(map[string]any)["id"].(string)

	resp, _ = stack.signUp(t, "interloper@example.com", "password123", "Interloper")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	wrongSession := resp.Header.Get(idp.AuthTokenHeader)

	resp, _ = stack.request(t, http.MethodPost, "/api/auth/organization/accept-invitation", map[string]string{
		"invitationId": invitationID,
	}, wrongSession)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestInviteRequiresSession(t *testing.T) {
	stack := newTestStack(t, true)

	resp, body := stack.request(t, http.MethodPost, "/api/auth/organization/invite", map[string]string{
		"email":          "newhire@example.com",
		"role":           "member",
		"organizationId": "6f1b0a47-9f3e-4f33-8a0e-2f3f16d5b301",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid or expired token", body["message"])
}

func TestHealthEndpoint(t *testing.T) {
	stack := newTestStack(t, true)

	resp, body := stack.request(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestSendFailureFailsSignUp(t *testing.T) {
	stack := newTestStack(t, false)
	stack.capture.err = fmt.Errorf("provider rejected the message")

	resp, body := stack.signUp(t, "jane@example.com", "password123", "Jane")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "An unexpected error occurred", body["message"])
}
