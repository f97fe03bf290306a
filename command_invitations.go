package idp

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type InviteMemberMessage struct {
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Inviter        *Principal
	OnResponse     func(*InviteMemberResponse)
}

func (m InviteMemberMessage) Type() string { return "organization.invite_member" }

type InviteMemberResponse struct {
	Invitation *Invitation
	Success    bool
}

// InviteMemberHandler issues an organization invitation on behalf of an
// authenticated inviter. The engine records the invitation and calls back
// into the dispatcher, so the invitee email goes out before Execute returns.
type InviteMemberHandler struct {
	engine CredentialEngine
	policy Policy
}

func NewInviteMemberHandler(engine CredentialEngine, policy Policy) *InviteMemberHandler {
	return &InviteMemberHandler{engine: engine, policy: policy}
}

func (h *InviteMemberHandler) Execute(ctx context.Context, event InviteMemberMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during member invitation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InviteMemberHandler) execute(ctx context.Context, event InviteMemberMessage) error {
	if event.Inviter == nil {
		return goerrors.New("invitation requires an authenticated inviter", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	invitation := &Invitation{
		Email:          event.Email,
		Role:           event.Role,
		OrganizationID: event.OrganizationID,
		InviterID:      event.Inviter.ID,
		ExpiresAt:      time.Now().Add(h.policy.InvitationTTL),
	}

	created, err := h.engine.IssueInvitation(ctx, invitation)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue invitation")
	}

	if event.OnResponse != nil {
		event.OnResponse(&InviteMemberResponse{
			Invitation: created,
			Success:    true,
		})
	}

	return nil
}

type AcceptInvitationMessage struct {
	InvitationID uuid.UUID `json:"invitation_id"`
	Credentials  RequestCredentials
	OnResponse   func(*AcceptInvitationResponse)
}

func (m AcceptInvitationMessage) Type() string { return "organization.accept_invitation" }

type AcceptInvitationResponse struct {
	Success bool
}

// AcceptInvitationHandler redeems an invitation for the authenticated
// invitee. Membership mechanics belong to the engine; redemption here only
// enforces the single-use, time-limited token semantics.
type AcceptInvitationHandler struct {
	engine CredentialEngine
}

func NewAcceptInvitationHandler(engine CredentialEngine) *AcceptInvitationHandler {
	return &AcceptInvitationHandler{engine: engine}
}

func (h *AcceptInvitationHandler) Execute(ctx context.Context, event AcceptInvitationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during invitation acceptance",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *AcceptInvitationHandler) execute(ctx context.Context, event AcceptInvitationMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := h.engine.RedeemInvitation(ctx, event.InvitationID, event.Credentials); err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to redeem invitation")
	}

	if event.OnResponse != nil {
		event.OnResponse(&AcceptInvitationResponse{Success: true})
	}

	return nil
}
