package idp

import (
	"context"
)

// OrganizationNameResolver maps an organization id to a display name for
// invitation emails.
type OrganizationNameResolver func(ctx context.Context, invitation *Invitation) string

// DispatchObserver turns engine token-issuance callbacks into notification
// dispatches. It is handed to the engine at construction time, which keeps
// the "engine calls back into our notification logic" behavior without any
// global hook: minting stays an engine responsibility, notification stays
// ours.
type DispatchObserver struct {
	mailer  *Mailer
	logger  Logger
	orgName OrganizationNameResolver
}

var _ TokenObserver = (*DispatchObserver)(nil)

type DispatchObserverOption func(*DispatchObserver)

// WithOrganizationNameResolver overrides how invitation emails name the
// organization. The default falls back to the raw organization id.
func WithOrganizationNameResolver(resolver OrganizationNameResolver) DispatchObserverOption {
	return func(o *DispatchObserver) {
		if resolver != nil {
			o.orgName = resolver
		}
	}
}

// WithObserverLogger overrides the default logger.
func WithObserverLogger(logger Logger) DispatchObserverOption {
	return func(o *DispatchObserver) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewDispatchObserver wires token-issuance events to the dispatcher.
func NewDispatchObserver(mailer *Mailer, opts ...DispatchObserverOption) *DispatchObserver {
	o := &DispatchObserver{
		mailer: mailer,
		logger: defLogger{},
		orgName: func(_ context.Context, invitation *Invitation) string {
			return invitation.OrganizationID.String()
		},
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

func (o *DispatchObserver) OnVerificationTokenIssued(ctx context.Context, principal *Principal, url, token string) error {
	o.logger.Debug("verification token issued principal=%s", principal.ID)
	return o.mailer.SendVerification(ctx, principal, url, token)
}

func (o *DispatchObserver) OnResetTokenIssued(ctx context.Context, principal *Principal, url, token string) error {
	o.logger.Debug("reset token issued principal=%s", principal.ID)
	return o.mailer.SendPasswordReset(ctx, principal, url, token)
}

func (o *DispatchObserver) OnInvitationIssued(ctx context.Context, invitation *Invitation, inviter *Principal) error {
	o.logger.Debug("invitation issued invitation=%s", invitation.ID)
	return o.mailer.SendInvitation(ctx, invitation, inviter, o.orgName(ctx, invitation))
}
