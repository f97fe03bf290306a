package idp

import "time"

// Verification and reset tokens carry the same one hour lifetime in every
// deployment mode.
const (
	VerificationTokenTTL = 3600 * time.Second
	ResetTokenTTL        = 3600 * time.Second
	InvitationTTL        = 72 * time.Hour
)

// Policy is the mode-dependent behavior set, built once from the TestMode
// flag before the orchestrator is constructed. Handlers never branch on the
// flag itself.
type Policy struct {
	RequireEmailVerification    bool
	SendVerificationOnSignUp    bool
	AutoSignInAfterVerification bool
	VerificationTokenTTL        time.Duration
	ResetTokenTTL               time.Duration
	InvitationTTL               time.Duration
}

// PolicyForMode derives the full policy value-set from the deployment mode.
func PolicyForMode(testMode bool) Policy {
	return Policy{
		RequireEmailVerification:    !testMode,
		SendVerificationOnSignUp:    !testMode,
		AutoSignInAfterVerification: true,
		VerificationTokenTTL:        VerificationTokenTTL,
		ResetTokenTTL:               ResetTokenTTL,
		InvitationTTL:               InvitationTTL,
	}
}
