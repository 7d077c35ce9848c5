package failure

import (
	"errors"
	"fmt"
)

// Kind is the closed taxonomy every ledger, storage and precondition failure
// is reported under.
type Kind string

const (
	KindUserCancelled                 Kind = "USER_CANCELLED"
	KindInsufficientFunds             Kind = "INSUFFICIENT_FUNDS"
	KindNetworkUnavailable            Kind = "NETWORK_UNAVAILABLE"
	KindRemoteProgramRejected         Kind = "REMOTE_PROGRAM_REJECTED"
	KindAccountMissingOrUninitialized Kind = "ACCOUNT_MISSING_OR_UNINITIALIZED"
	KindRegistryNotReady              Kind = "REGISTRY_NOT_READY"
	KindInvalidNamespaceInput         Kind = "INVALID_NAMESPACE_INPUT"
	KindUnknown                       Kind = "UNKNOWN"
)

// Kinds lists every member of the taxonomy.
var Kinds = []Kind{
	KindUserCancelled,
	KindInsufficientFunds,
	KindNetworkUnavailable,
	KindRemoteProgramRejected,
	KindAccountMissingOrUninitialized,
	KindRegistryNotReady,
	KindInvalidNamespaceInput,
	KindUnknown,
}

// Error is a classified failure.
type Error struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Code      string `json:"code,omitempty"`
	Raw       string `json:"raw,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error by kind and, when set on the target, by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// New builds an unwrapped failure of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: kind == KindNetworkUnavailable}
}

// InvalidNamespace reports a malformed address derivation input.
func InvalidNamespace(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidNamespaceInput, Message: fmt.Sprintf(format, args...)}
}

// RegistryNotReady reports that the global registry is absent and the caller
// may not create it.
func RegistryNotReady(message string) *Error {
	return &Error{Kind: KindRegistryNotReady, Message: message}
}

// Rejected builds a remote program rejection carrying the given code.
func Rejected(code string) *Error {
	info := lookupCode(code)
	return &Error{
		Kind:      KindRemoteProgramRejected,
		Message:   info.Message,
		Code:      info.Name,
		Retryable: info.Transient,
	}
}

// KindOf returns the taxonomy kind of err, classifying it when necessary.
func KindOf(err error) Kind {
	return Classify(err).Kind
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether the classified failure may be retried.
func IsRetryable(err error) bool {
	return err != nil && Classify(err).Retryable
}

// IsAlreadyExists reports a rejection caused by creating an account that is
// already present.
func IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	ce := Classify(err)
	if ce.Kind != KindRemoteProgramRejected {
		return false
	}
	switch ce.Code {
	case CodeAccountAlreadyInUse, CodeRegistryAlreadyInitialized, CodeDuplicateProjectID:
		return true
	}
	return false
}

// IsAccountMissing reports whether err means the referenced account is
// absent, either as a plain lookup miss or as the program's
// AccountNotInitialized rejection.
func IsAccountMissing(err error) bool {
	if err == nil {
		return false
	}
	ce := Classify(err)
	if ce.Kind == KindAccountMissingOrUninitialized {
		return true
	}
	return ce.Kind == KindRemoteProgramRejected && ce.Code == CodeAccountNotInitialized
}

func as(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
