package idp

import (
	"context"
	"fmt"
	"net/url"
	"sync"
)

// Mailer is the notification dispatcher: it renders transactional messages
// and pushes them through the outbound transport. The transport client is
// built lazily on first send and reused; construction is guarded by a single
// initialization barrier so concurrent first sends race safely.
type Mailer struct {
	fromEmail      string
	frontendURL    string
	logger         Logger
	buildTransport func() MailTransport

	once      sync.Once
	transport MailTransport
}

type MailerOption func(*Mailer)

// WithMailerLogger overrides the default logger.
func WithMailerLogger(logger Logger) MailerOption {
	return func(m *Mailer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTransport injects a prebuilt transport, bypassing lazy construction.
// Tests use this to capture outbound messages.
func WithTransport(transport MailTransport) MailerOption {
	return func(m *Mailer) {
		m.buildTransport = func() MailTransport { return transport }
	}
}

// WithTransportBuilder overrides how the transport is constructed on first
// send while keeping the lazy initialization path.
func WithTransportBuilder(build func() MailTransport) MailerOption {
	return func(m *Mailer) {
		if build != nil {
			m.buildTransport = build
		}
	}
}

// NewMailer builds a dispatcher from the resolved deployment configuration.
func NewMailer(cfg *DeploymentConfig, opts ...MailerOption) *Mailer {
	m := &Mailer{
		fromEmail:   cfg.FromEmail,
		frontendURL: cfg.FrontendURL,
		logger:      defLogger{},
	}

	apiKey := cfg.MailAPIKey
	m.buildTransport = func() MailTransport {
		return NewResendTransport(apiKey)
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Mailer) client() MailTransport {
	m.once.Do(func() {
		m.transport = m.buildTransport()
		m.logger.Debug("mail transport initialized")
	})
	return m.transport
}

// SendVerification delivers the email-verification message. The verify URL
// is passed through exactly as the engine minted it.
func (m *Mailer) SendVerification(ctx context.Context, principal *Principal, verifyURL, token string) error {
	subject := "Verify your email"
	html := fmt.Sprintf(`
        <div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
            <h2>Verify Your Email Address</h2>
            <p>Hi %s,</p>
            <p>Thank you for signing up! Please click the button below to verify your email address.</p>
            <div style="margin: 20px 0;">
                <a href="%s" style="background-color: #007bff; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px;">
                    Verify Email
                </a>
            </div>
            <p>If you didn't create an account with us, you can safely ignore this email.</p>
            <p>This verification link will expire soon.</p>
        </div>`, greeting(principal), verifyURL)

	text := fmt.Sprintf("Verify your email using this link: %s", verifyURL)

	if err := m.client().Send(ctx, EmailMessage{
		From:    m.fromEmail,
		To:      principal.Email,
		Subject: subject,
		HTML:    html,
		Text:    text,
	}); err != nil {
		m.logger.Error("verification email delivery failed to=%s: %v", principal.Email, err)
		return WrapSendError(err, "failed to send verification email")
	}

	m.logger.Info("verification email sent to=%s", principal.Email)
	return nil
}

// SendPasswordReset delivers the reset message. The link is always rewritten
// to the frontend's set-new-password route with the token as a query
// parameter, regardless of the URL the engine minted.
func (m *Mailer) SendPasswordReset(ctx context.Context, principal *Principal, resetURL, token string) error {
	link := m.resetLink(token)

	subject := "Reset your password"
	html := fmt.Sprintf(`
        <div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
            <h2>Reset Your Password</h2>
            <p>Hi %s,</p>
            <p>Please click the link below to reset your password. This link will expire soon.</p>
            <div style="margin: 20px 0;">
                <a href="%s" style="background-color: #007bff; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px;">
                    Reset Password
                </a>
            </div>
            <p>If you didn't request this, you can safely ignore this email.</p>
        </div>`, greeting(principal), link)

	text := fmt.Sprintf("Reset your password using this link: %s", link)

	if err := m.client().Send(ctx, EmailMessage{
		From:    m.fromEmail,
		To:      principal.Email,
		Subject: subject,
		HTML:    html,
		Text:    text,
	}); err != nil {
		m.logger.Error("password reset email delivery failed to=%s: %v", principal.Email, err)
		return WrapSendError(err, "failed to send password reset email")
	}

	m.logger.Info("password reset email sent to=%s", principal.Email)
	return nil
}

// SendInvitation delivers an organization-invitation message to the invitee.
func (m *Mailer) SendInvitation(ctx context.Context, invitation *Invitation, inviter *Principal, organization string) error {
	link := fmt.Sprintf("%s/accept-invitation?id=%s", m.frontendURL, invitation.ID)

	subject := fmt.Sprintf("You've been invited to join %s", organization)
	html := fmt.Sprintf(`
        <div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
            <h2>Organization Invitation</h2>
            <p>Hi,</p>
            <p>%s has invited you to join %s as %s.</p>
            <div style="margin: 20px 0;">
                <a href="%s" style="background-color: #007bff; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px;">
                    Accept Invitation
                </a>
            </div>
            <p>If you weren't expecting this invitation, you can safely ignore this email.</p>
        </div>`, greeting(inviter), organization, invitation.Role, link)

	text := fmt.Sprintf("Accept your invitation to %s using this link: %s", organization, link)

	if err := m.client().Send(ctx, EmailMessage{
		From:    m.fromEmail,
		To:      invitation.Email,
		Subject: subject,
		HTML:    html,
		Text:    text,
	}); err != nil {
		m.logger.Error("invitation email delivery failed to=%s: %v", invitation.Email, err)
		return WrapSendError(err, "failed to send invitation email")
	}

	m.logger.Info("invitation email sent to=%s organization=%s", invitation.Email, invitation.OrganizationID)
	return nil
}

func (m *Mailer) resetLink(token string) string {
	return fmt.Sprintf("%s/set-new-password?token=%s", m.frontendURL, url.QueryEscape(token))
}

func greeting(principal *Principal) string {
	if principal == nil {
		return "there"
	}
	if principal.Name != "" {
		return principal.Name
	}
	return principal.Email
}
