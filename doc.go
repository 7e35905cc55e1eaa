// Package walletauth provides the authentication orchestration layer for
// wallet-based sign in and asynchronous, webhook-driven account creation.
//
// Wallet challenge flow:
//   - NonceStore issues a single live nonce per address with a TTL. The
//     WalletChallengeService verifies an EIP-191 personal_sign signature
//     against the stored nonce, consumes the nonce (one-time use), resolves
//     or provisions the backing user through an IdentityStore collaborator,
//     and mints an opaque bearer token. The nonce is deleted before
//     provisioning so a partial provisioning failure can never be retried
//     with the same signed challenge.
//
// Signup orchestration:
//   - SessionManager tracks each signup as a session moving through
//     pending-creation, pending-verification, ready-for-login and
//     authenticated, with failed and expired as terminal states. The
//     identity store confirms account creation out-of-band via webhooks;
//     WebhookIngress classifies those events, memoizes creations in a
//     short-lived cache (so a webhook arriving before its session is
//     created still completes the flow), and forwards transitions to the
//     session manager.
//
// Push delivery:
//   - Broadcaster fans session transitions out to subscribed server-sent
//     event connections. ReconnectingClient is the consumer side: it keeps
//     a single logical subscription alive with capped exponential backoff
//     and surfaces a terminal error once reconnect attempts are exhausted.
//     The channel is a notification hint, not a source of truth; clients
//     re-fetch session state after a reconnect.
//
// Activity sinks:
//   - ActivitySink is a best-effort audit emitter used across the flows.
//     Sink errors are logged, never propagated, so auditing cannot block
//     authentication. Secret material (nonces, tokens, passwords) is never
//     placed in events or logs.
//
// All orchestrator state (nonces, sessions, rate limit windows, the
// creation cache) is in-memory and owned by a single process; a restart
// loses in-flight flows and callers restart the challenge or signup.
package walletauth
