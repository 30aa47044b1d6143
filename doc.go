// Package identity is an authentication and authorization core: credential
// storage, password hashing, claims principals, token and session issuance,
// policy evaluation, and account lifecycle management.
//
// Principals and credentials:
//   - PrincipalBuilder assembles a Principal from a stored user: identity
//     claims, direct grants, and the claims carried by every assigned role,
//     deduplicated and sorted so two builds of the same user compare equal.
//   - CredentialIssuer mints credentials for a principal. TokenIssuer signs
//     stateless JWTs; SessionIssuer writes server-side sessions keyed by an
//     opaque handle. Both validate and revoke through the same interface so
//     callers can swap strategies without touching login code.
//
// User lifecycle:
//   - Users carry an AccountStatus persisted via Bun. Statuses cover pending,
//     active, suspended, disabled, and archived flows so every product can
//     opt into the same invariants.
//   - UserStateMachine centralizes the transition graph, timestamp handling,
//     hooks, and persistence. AccountManager drives it for suspend and
//     reinstate; invoke Transition directly with ActorRef metadata for
//     anything richer.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by AccountManager and
//     the state machine to describe lifecycle, login, grant, and password
//     reset events. Sinks run best-effort (errors are logged) so you can
//     forward to a database or queue without blocking authentication.
//
// Claims decoration:
//   - ClaimsDecorator is invoked before JWTs are signed. Decorators may enrich
//     extension fields such as resource roles or metadata while protected
//     claims (sub, iss, aud, exp, etc.) remain immutable.
package identity
