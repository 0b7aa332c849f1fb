// Package errs centralizes the error kinds of the coordinator's error
// handling design: which failures are fatal, which are retried, and
// which are rejected at a component boundary without ever reaching a
// chat user verbatim.
package errs

import "errors"

// Sentinels for errors.Is matching. Kinds are grouped by propagation
// policy, not by component, since the policy is what call sites need
// to branch on.
var (
	// ErrIdentity marks a fatal identity/HKDF/HMAC failure. Never recoverable;
	// the process must exit.
	ErrIdentity = errors.New("identity error")

	// ErrInvariantViolation marks a rejected trust-graph mutation. The
	// caller must roll back its own FSM or drop the external event; it
	// must never propagate the underlying detail to a chat user.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrVerificationFailure marks a failed holder challenge-response.
	// Non-fatal: triggers suspicion tracking and possibly re-placement.
	ErrVerificationFailure = errors.New("verification failure")

	// ErrSubstrateTransient marks a retryable substrate put/get timeout.
	ErrSubstrateTransient = errors.New("substrate transient error")

	// ErrRecovery marks a fatal recovery-time failure: chain mismatch,
	// signature mismatch, or decryption failure. The process must exit
	// rather than silently proceed on a possibly-rolled-back state.
	ErrRecovery = errors.New("recovery error")

	// ErrChatTransient marks a retryable chat-collaborator timeout.
	ErrChatTransient = errors.New("chat transient error")
)

// Fatal reports whether err's kind must terminate the process rather
// than being retried or rejected locally.
func Fatal(err error) bool {
	return errors.Is(err, ErrIdentity) || errors.Is(err, ErrRecovery)
}

// Retryable reports whether err's kind should be retried with backoff
// instead of surfaced as a failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrSubstrateTransient) || errors.Is(err, ErrChatTransient)
}

// Refusal turns any boundary rejection into the generic user-facing
// string the chat-side handler is allowed to show. Anything more
// specific than "action refused" risks leaking trust-graph topology.
func Refusal(err error) string {
	if err == nil {
		return ""
	}
	return "action refused"
}
