package idp_test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	idp "github.com/goliatone/go-idp"
)

// MockCredentialEngine implements idp.CredentialEngine
type MockCredentialEngine struct {
	mock.Mock
}

func (m *MockCredentialEngine) RegisterUser(ctx context.Context, email, password, name string) (*idp.SessionGrant, error) {
	args := m.Called(ctx, email, password, name)
	grant, _ := args.Get(0).(*idp.SessionGrant)
	return grant, args.Error(1)
}

func (m *MockCredentialEngine) Authenticate(ctx context.Context, email, password string) (*idp.SessionGrant, error) {
	args := m.Called(ctx, email, password)
	grant, _ := args.Get(0).(*idp.SessionGrant)
	return grant, args.Error(1)
}

func (m *MockCredentialEngine) DestroySession(ctx context.Context, creds idp.RequestCredentials) error {
	args := m.Called(ctx, creds)
	return args.Error(0)
}

func (m *MockCredentialEngine) SessionToJWT(ctx context.Context, creds idp.RequestCredentials) (string, error) {
	args := m.Called(ctx, creds)
	return args.String(0), args.Error(1)
}

func (m *MockCredentialEngine) GetSession(ctx context.Context, creds idp.RequestCredentials) (*idp.Session, error) {
	args := m.Called(ctx, creds)
	session, _ := args.Get(0).(*idp.Session)
	return session, args.Error(1)
}

func (m *MockCredentialEngine) IssueVerificationToken(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockCredentialEngine) RedeemVerificationToken(ctx context.Context, token string) (*idp.SessionGrant, error) {
	args := m.Called(ctx, token)
	grant, _ := args.Get(0).(*idp.SessionGrant)
	return grant, args.Error(1)
}

func (m *MockCredentialEngine) IssueResetToken(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockCredentialEngine) RedeemResetToken(ctx context.Context, token, newPassword string) error {
	args := m.Called(ctx, token, newPassword)
	return args.Error(0)
}

func (m *MockCredentialEngine) IssueInvitation(ctx context.Context, invitation *idp.Invitation) (*idp.Invitation, error) {
	args := m.Called(ctx, invitation)
	created, _ := args.Get(0).(*idp.Invitation)
	return created, args.Error(1)
}

func (m *MockCredentialEngine) RedeemInvitation(ctx context.Context, invitationID uuid.UUID, creds idp.RequestCredentials) error {
	args := m.Called(ctx, invitationID, creds)
	return args.Error(0)
}

func (m *MockCredentialEngine) JWKS(ctx context.Context) (json.RawMessage, error) {
	args := m.Called(ctx)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

// MockMailTransport implements idp.MailTransport
type MockMailTransport struct {
	mock.Mock
}

func (m *MockMailTransport) Send(ctx context.Context, msg idp.EmailMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// captureTransport records every message instead of delivering it.
type captureTransport struct {
	mu       sync.Mutex
	messages []idp.EmailMessage
	err      error
}

func (t *captureTransport) Send(ctx context.Context, msg idp.EmailMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.messages = append(t.messages, msg)
	return nil
}

func (t *captureTransport) sent() []idp.EmailMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]idp.EmailMessage, len(t.messages))
	copy(out, t.messages)
	return out
}
