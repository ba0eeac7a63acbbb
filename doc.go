// Package accounts provides the account authentication and lifecycle core:
// password policy enforcement, JWT issuance and validation, token revocation,
// and the registration, approval, and activation workflow.
//
// Account lifecycle:
//   - Accounts carry independent status flags (registration_pending, enabled,
//     active, account_locked) persisted via Bun; State derives a display state
//     from them. Valid combinations are constrained by AccountLifecycle, which
//     centralizes registration, approval, rejection, activation, and the admin
//     flag toggles. Pass ActorRef metadata whenever an admin moves an account.
//
// Authentication:
//   - AuthenticationGateway handles credential login with anti-enumeration
//     errors, state gating, and attempt throttling. RequestAuthenticator
//     validates bearer tokens on incoming requests and exposes router
//     middleware; logout goes through the RevocationRegistry so access tokens
//     die before their cryptographic expiry.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by the lifecycle and
//     the gateway to describe registration, login, and flag-change events.
//     Sinks run best-effort (errors are logged) so you can forward to a
//     database or queue without blocking authentication.
package accounts
