package idp

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

// AuthTokenHeader carries the opaque session token on successful sign-in and
// sign-up responses, alongside the session cookie.
const AuthTokenHeader = "set-auth-token"

type AuthControllerRoutes struct {
	SignUp        string
	SignIn        string
	SignOut       string
	Session       string
	Token         string
	JWKS          string
	VerifyEmail   string
	RequestReset  string
	ResetPassword string
	InviteMember  string
	AcceptInvite  string
}

// AuthController exposes the auth lifecycle over HTTP. It owns boundary
// concerns only: payload validation, error translation, cookie and header
// handling. All behavior lives in the orchestrator.
type AuthController struct {
	Debug        bool
	Logger       Logger
	Orchestrator *Orchestrator
	Guard        *SessionGuard
	Routes       *AuthControllerRoutes
	CookieName   string
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		if logger != nil {
			a.Logger = logger
		}
		return a
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Debug = debug
		return a
	}
}

func WithCookieName(name string) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		if name != "" {
			a.CookieName = name
		}
		return a
	}
}

func NewAuthController(orchestrator *Orchestrator, guard *SessionGuard, opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:       defLogger{},
		Orchestrator: orchestrator,
		Guard:        guard,
		CookieName:   DefaultSessionCookie,
		Routes: &AuthControllerRoutes{
			SignUp:        "/sign-up/email",
			SignIn:        "/sign-in/email",
			SignOut:       "/sign-out",
			Session:       "/session",
			Token:         "/token",
			JWKS:          "/jwks",
			VerifyEmail:   "/verify-email",
			RequestReset:  "/request-password-reset",
			ResetPassword: "/reset-password",
			InviteMember:  "/organization/invite",
			AcceptInvite:  "/organization/accept-invitation",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Orchestrator == nil {
		panic("Missing Orchestrator in auth controller...")
	}

	if c.Guard == nil {
		panic("Missing SessionGuard in auth controller...")
	}

	return c
}

// RegisterAuthRoutes mounts the full auth surface on the given router, which
// is typically an app.Group for the auth base path.
func RegisterAuthRoutes(app fiber.Router, controller *AuthController) {
	app.Post(controller.Routes.SignUp, controller.SignUpPost)
	app.Post(controller.Routes.SignIn, controller.SignInPost)
	app.Post(controller.Routes.SignOut, controller.SignOutPost)
	app.Get(controller.Routes.Session, controller.SessionGet)
	app.Get(controller.Routes.Token, controller.TokenGet)
	app.Get(controller.Routes.JWKS, controller.JWKSGet)
	app.Get(controller.Routes.VerifyEmail, controller.VerifyEmailGet)
	app.Post(controller.Routes.RequestReset, controller.RequestResetPost)
	app.Post(controller.Routes.ResetPassword, controller.ResetPasswordPost)

	protect := controller.Guard.Protect()
	app.Post(controller.Routes.InviteMember, protect, controller.InviteMemberPost)
	app.Post(controller.Routes.AcceptInvite, protect, controller.AcceptInvitePost)
}

// SignUpRequest payload
type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Validate will run validation rules
func (r SignUpRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 128)),
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
	)
}

func (a *AuthController) SignUpPost(c *fiber.Ctx) error {
	payload := new(SignUpRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.renderBadRequest(c, "Error parsing body", err)
	}

	if err := payload.Validate(); err != nil {
		return a.renderBadRequest(c, "Error validating payload", err)
	}

	if a.Debug {
		fmt.Println("======= AUTH SIGN UP ====")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("=========================")
	}

	grant, err := a.Orchestrator.SignUp(c.UserContext(), payload.Email, payload.Password, payload.Name)
	if err != nil {
		return a.renderError(c, err)
	}

	a.grantCredentials(c, grant)

	return c.JSON(fiber.Map{"user": grant.Principal})
}

// SignInRequest payload
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r SignInRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AuthController) SignInPost(c *fiber.Ctx) error {
	payload := new(SignInRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.renderBadRequest(c, "Error parsing body", err)
	}

	if err := payload.Validate(); err != nil {
		return a.renderBadRequest(c, "Error validating payload", err)
	}

	grant, err := a.Orchestrator.SignIn(c.UserContext(), payload.Email, payload.Password)
	if err != nil {
		return a.renderError(c, err)
	}

	a.grantCredentials(c, grant)

	return c.JSON(fiber.Map{"user": grant.Principal})
}

func (a *AuthController) SignOutPost(c *fiber.Ctx) error {
	creds := a.Guard.ExtractCredentials(c)

	if err := a.Orchestrator.SignOut(c.UserContext(), creds); err != nil {
		return a.renderError(c, err)
	}

	a.clearCredentials(c)

	return c.JSON(fiber.Map{"success": true})
}

func (a *AuthController) SessionGet(c *fiber.Ctx) error {
	creds := a.Guard.ExtractCredentials(c)

	session, err := a.Orchestrator.CurrentSession(c.UserContext(), creds)
	if err != nil {
		return a.renderError(c, err)
	}

	return c.JSON(fiber.Map{
		"session": fiber.Map{
			"id":        session.ID,
			"expiresAt": session.ExpiresAt,
		},
		"user": session.Principal,
	})
}

func (a *AuthController) TokenGet(c *fiber.Ctx) error {
	creds := a.Guard.ExtractCredentials(c)

	token, err := a.Orchestrator.MintToken(c.UserContext(), creds)
	if err != nil {
		return a.renderError(c, err)
	}

	return c.JSON(fiber.Map{"token": token})
}

func (a *AuthController) JWKSGet(c *fiber.Ctx) error {
	keys, err := a.Orchestrator.JWKS(c.UserContext())
	if err != nil {
		return a.renderError(c, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(keys)
}

func (a *AuthController) VerifyEmailGet(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return a.renderBadRequest(c, "Missing verification token", nil)
	}

	grant, err := a.Orchestrator.VerifyEmail(c.UserContext(), token)
	if err != nil {
		return a.renderError(c, err)
	}

	if grant.Token != "" {
		a.grantCredentials(c, grant)
	}

	return c.JSON(fiber.Map{
		"status": "success",
		"user":   grant.Principal,
	})
}

// RequestResetRequest payload
type RequestResetRequest struct {
	Email string `json:"email"`
}

// Validate will run validation rules
func (r RequestResetRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *AuthController) RequestResetPost(c *fiber.Ctx) error {
	payload := new(RequestResetRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.renderBadRequest(c, "Error parsing body", err)
	}

	if err := payload.Validate(); err != nil {
		return a.renderBadRequest(c, "Error validating payload", err)
	}

	if err := a.Orchestrator.RequestPasswordReset(c.UserContext(), payload.Email); err != nil {
		return a.renderError(c, err)
	}

	// Same response whether or not an account exists for the email.
	return c.JSON(fiber.Map{"status": "success"})
}

// ResetPasswordRequest payload
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// Validate will run validation rules
func (r ResetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 128)),
	)
}

func (a *AuthController) ResetPasswordPost(c *fiber.Ctx) error {
	payload := new(ResetPasswordRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.renderBadRequest(c, "Error parsing body", err)
	}

	if err := payload.Validate(); err != nil {
		return a.renderBadRequest(c, "Error validating payload", err)
	}

	if err := a.Orchestrator.ResetPassword(c.UserContext(), payload.Token, payload.NewPassword); err != nil {
		return a.renderError(c, err)
	}

	return c.JSON(fiber.Map{"success": true})
}

// InviteMemberRequest payload
type InviteMemberRequest struct {
	Email          string `json:"email"`
	Role           string `json:"role"`
	OrganizationID string `json:"organizationId"`
}

// Validate will run validation rules
func (r InviteMemberRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Role, validation.Required, validation.In("member", "admin", "owner")),
		validation.Field(&r.OrganizationID, validation.Required, is.UUID),
	)
}

func (a *AuthController) InviteMemberPost(c *fiber.Ctx) error {
	payload := new(InviteMemberRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.renderBadRequest(c, "Error parsing body", err)
	}

	if err := payload.Validate(); err != nil {
		return a.renderBadRequest(c, "Error validating payload", err)
	}

	inviter, ok := GuardedPrincipal(c)
	if !ok {
		return rejectUnauthenticated(c)
	}

	orgID, err := uuid.Parse(payload.OrganizationID)
	if err != nil {
		return a.renderBadRequest(c, "Invalid organization id", err)
	}

	var res *InviteMemberResponse
	msg := InviteMemberMessage{
		Email:          payload.Email,
		Role:           payload.Role,
		OrganizationID: orgID,
		Inviter:        inviter,
		OnResponse: func(resp *InviteMemberResponse) {
			res = resp
		},
	}

	handler := NewInviteMemberHandler(a.Orchestrator.engine, a.Orchestrator.policy)
	if err := handler.Execute(c.UserContext(), msg); err != nil {
		return a.renderError(c, err)
	}

	return c.JSON(fiber.Map{"invitation": res.Invitation})
}

// AcceptInviteRequest payload
type AcceptInviteRequest struct {
	InvitationID string `json:"invitationId"`
}

// Validate will run validation rules
func (r AcceptInviteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.InvitationID, validation.Required, is.UUID),
	)
}

func (a *AuthController) AcceptInvitePost(c *fiber.Ctx) error {
	payload := new(AcceptInviteRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.renderBadRequest(c, "Error parsing body", err)
	}

	if err := payload.Validate(); err != nil {
		return a.renderBadRequest(c, "Error validating payload", err)
	}

	invitationID, err := uuid.Parse(payload.InvitationID)
	if err != nil {
		return a.renderBadRequest(c, "Invalid invitation id", err)
	}

	var res *AcceptInvitationResponse
	msg := AcceptInvitationMessage{
		InvitationID: invitationID,
		Credentials:  a.Guard.ExtractCredentials(c),
		OnResponse: func(resp *AcceptInvitationResponse) {
			res = resp
		},
	}

	handler := NewAcceptInvitationHandler(a.Orchestrator.engine)
	if err := handler.Execute(c.UserContext(), msg); err != nil {
		return a.renderError(c, err)
	}

	return c.JSON(fiber.Map{"success": res.Success})
}

// HealthGet reports process liveness.
func (a *AuthController) HealthGet(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *AuthController) grantCredentials(c *fiber.Ctx, grant *SessionGrant) {
	c.Set(AuthTokenHeader, grant.Token)
	c.Cookie(&fiber.Cookie{
		Name:     a.CookieName,
		Value:    grant.Token,
		Expires:  grant.ExpiresAt,
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *AuthController) clearCredentials(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     a.CookieName,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *AuthController) renderBadRequest(c *fiber.Ctx, message string, err error) error {
	if err != nil {
		a.Logger.Error("auth controller bad request %s: %v", message, err)
	}

	body := fiber.Map{
		"status":  "error",
		"message": message,
	}
	if err != nil {
		body["detail"] = err.Error()
	}

	return c.Status(fiber.StatusBadRequest).JSON(body)
}

// renderError translates rich errors into the stable HTTP contract. Engine
// internals never reach the caller: internal failures all map to the same
// 500 body.
func (a *AuthController) renderError(c *fiber.Ctx, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		a.Logger.Error("auth controller unexpected error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "error",
			"message": "An unexpected error occurred",
		})
	}

	status := richErr.Code
	if status < fiber.StatusBadRequest {
		status = fiber.StatusInternalServerError
	}

	message := richErr.Message
	if richErr.Category == goerrors.CategoryInternal {
		a.Logger.Error("auth controller internal error: %v", err)
		message = "An unexpected error occurred"
	}

	body := fiber.Map{
		"status":  "error",
		"message": message,
	}
	if richErr.TextCode != "" {
		body["code"] = richErr.TextCode
	}

	return c.Status(status).JSON(body)
}
