// Package idp orchestrates an identity provider around a pluggable
// credential engine: session issuance, verification and password reset
// tokens, organization invitations, and the HTTP surface that exposes them.
//
// Deployment modes:
//   - Behavior that differs between test and production deployments is
//     captured once in a Policy value built from the deployment mode. The
//     orchestrator and engine consume the policy; nothing else branches on
//     the mode flag.
//
// Token lifecycle:
//   - Verification, reset, and invitation tokens are single use. The embedded
//     engine enforces exactly-once redemption at the storage layer with
//     conditional updates, so concurrent redeems of the same token serialize
//     to one winner.
//
// Notification dispatch:
//   - The engine reports issued tokens through a TokenObserver injected at
//     construction. DispatchObserver forwards them to the Mailer, which
//     rewrites reset links to the frontend and delivers through a lazily
//     initialized MailTransport. A dispatch failure fails the operation that
//     issued the token.
package idp
