package agentmesh

import (
	"errors"
	"fmt"
)

// Kind tags an error with its protocol-level category. Every error that
// crosses a component boundary carries exactly one kind.
type Kind string

// Input errors.
const (
	KindInvalidArgument Kind = "invalid_argument"
	KindPrecisionLoss   Kind = "precision_loss"
)

// Auth and identity errors.
const (
	KindKeyNotFound           Kind = "key_not_found"
	KindAlreadyRegistered     Kind = "already_registered"
	KindUnauthorizedValidator Kind = "unauthorized_validator"
)

// Payment errors.
const (
	KindPaymentRequired     Kind = "payment_required"
	KindInvalidSignature    Kind = "invalid_signature"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindNonceConsumed       Kind = "nonce_consumed"
	KindPaymentExpired      Kind = "payment_expired"
	KindPaymentNotAccepted  Kind = "payment_not_accepted"
	KindSettlementFailed    Kind = "settlement_failed"
)

// Validation errors.
const (
	KindRequestNotFound  Kind = "request_not_found"
	KindAlreadyResponded Kind = "already_responded"
	KindRequestExpired   Kind = "request_expired"
	KindDataMalformed    Kind = "data_malformed"
)

// Transport errors. These are the only kinds recovered with local retries.
const (
	KindTimeout            Kind = "timeout"
	KindNetworkUnavailable Kind = "network_unavailable"
	KindRpcUnavailable     Kind = "rpc_unavailable"
	KindInvalidAgentCard   Kind = "invalid_agent_card"
)

// KindInternal marks a violated post-condition. Never caught and retried.
const KindInternal Kind = "internal"

// Error is the runtime's error value: a kind, a human-readable message and
// an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a new tagged error.
func E(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Ef builds a new tagged error with a formatted message.
func Ef(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error. A nil cause yields nil.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain. Untagged errors report
// KindInternal; nil reports the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// Retryable reports whether an error belongs to the transport category that
// local bounded backoff is allowed to absorb.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindNetworkUnavailable, KindRpcUnavailable:
		return true
	}
	return false
}
