package idp_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	idp "github.com/goliatone/go-idp"
)

func testMailerConfig() *idp.DeploymentConfig {
	return &idp.DeploymentConfig{
		FromEmail:   "noreply@example.com",
		FrontendURL: "https://app.example.com",
		MailAPIKey:  "re_test_key",
	}
}

func testPrincipal() *idp.Principal {
	return &idp.Principal{
		ID:    uuid.New(),
		Email: "jane@example.com",
		Name:  "Jane",
	}
}

func TestSendVerificationPassesURLThrough(t *testing.T) {
	capture := &captureTransport{}
	mailer := idp.NewMailer(testMailerConfig(), idp.WithTransport(capture))

	verifyURL := "https://auth.example.com/api/auth/verify-email?token=abc123"
	err := mailer.SendVerification(context.Background(), testPrincipal(), verifyURL, "abc123")
	require.NoError(t, err)

	sent := capture.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "noreply@example.com", sent[0].From)
	assert.Equal(t, "jane@example.com", sent[0].To)
	assert.Equal(t, "Verify your email", sent[0].Subject)
	assert.Contains(t, sent[0].HTML, verifyURL)
	assert.Contains(t, sent[0].HTML, "Hi Jane,")
	assert.Contains(t, sent[0].Text, verifyURL)
}

func TestSendPasswordResetRewritesLinkToFrontend(t *testing.T) {
	capture := &captureTransport{}
	mailer := idp.NewMailer(testMailerConfig(), idp.WithTransport(capture))

	engineURL := "https://auth.example.com/api/auth/reset-password?token=tok%2Fvalue"
	err := mailer.SendPasswordReset(context.Background(), testPrincipal(), engineURL, "tok/value")
	require.NoError(t, err)

	sent := capture.sent()
	require.Len(t, sent, 1)
	expected := "https://app.example.com/set-new-password?token=tok%2Fvalue"
	assert.Contains(t, sent[0].HTML, expected)
	assert.Contains(t, sent[0].Text, expected)
	assert.NotContains(t, sent[0].HTML, "auth.example.com")
}

func TestSendInvitationLinksAcceptRoute(t *testing.T) {
	capture := &captureTransport{}
	mailer := idp.NewMailer(testMailerConfig(), idp.WithTransport(capture))

	invitation := &idp.Invitation{
		ID:             uuid.New(),
		Email:          "newhire@example.com",
		Role:           "member",
		OrganizationID: uuid.New(),
	}

	err := mailer.SendInvitation(context.Background(), invitation, testPrincipal(), "Acme")
	require.NoError(t, err)

	sent := capture.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "newhire@example.com", sent[0].To)
	assert.Contains(t, sent[0].Subject, "Acme")
	assert.Contains(t, sent[0].HTML, "https://app.example.com/accept-invitation?id="+invitation.ID.String())
}

func TestSendFailureWrapsAsSendError(t *testing.T) {
	transport := &MockMailTransport{}
	transport.On("Send", mock.Anything, mock.Anything).Return(errors.New("socket closed"))

	mailer := idp.NewMailer(testMailerConfig(), idp.WithTransport(transport))

	err := mailer.SendVerification(context.Background(), testPrincipal(), "https://auth.example.com/v?token=x", "x")
	require.Error(t, err)
	assert.True(t, idp.IsSendError(err))
}

func TestGreetingFallsBackToEmail(t *testing.T) {
	capture := &captureTransport{}
	mailer := idp.NewMailer(testMailerConfig(), idp.WithTransport(capture))

	principal := testPrincipal()
	principal.Name = ""

	err := mailer.SendVerification(context.Background(), principal, "https://auth.example.com/v?token=x", "x")
	require.NoError(t, err)

	sent := capture.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].HTML, "Hi jane@example.com,")
}

func TestTransportInitializedOnce(t *testing.T) {
	var mu sync.Mutex
	builds := 0
	capture := &captureTransport{}

	mailer := idp.NewMailer(testMailerConfig())
	idp.WithTransportBuilder(func() idp.MailTransport {
		mu.Lock()
		builds++
		mu.Unlock()
		return capture
	})(mailer)

	principal := testPrincipal()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = mailer.SendVerification(context.Background(), principal, "https://auth.example.com/v?token=x", "x")
		}()
	}
	wg.Wait()

	mu.Lock()
	assert.Equal(t, 1, builds)
	mu.Unlock()
	assert.Len(t, capture.sent(), 8)
}
