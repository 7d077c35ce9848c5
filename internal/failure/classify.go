package failure

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"

	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
)

var (
	cancelPatterns = []string{
		"user rejected",
		"user cancelled",
		"user canceled",
		"user denied",
		"transaction cancelled",
		"signature request rejected",
	}
	fundsPatterns = []string{
		"insufficient funds",
		"insufficient lamports",
		"attempt to debit an account but found no record of a prior credit",
	}
	transportPatterns = []string{
		"too many requests",
		"timeout",
		"timed out",
		"network",
		"fetch failed",
		"connection refused",
		"connection reset",
		"no such host",
		"service unavailable",
	}
	missingPatterns = []string{
		"account does not exist",
		"accountnotinitialized",
		"could not find account",
		"account not found",
	}

	// Status codes only count as standalone tokens.
	statusCodePattern = regexp.MustCompile(`\b(429|502|503|504)\b`)
	// Account addresses and signatures are long base58 runs that can
	// contain any of the text patterns by accident.
	base58Run = regexp.MustCompile(`[1-9A-HJ-NP-Za-km-z]{32,88}`)

	anchorCodePattern = regexp.MustCompile(`Error Code: (\w+)`)
	customCodePattern = regexp.MustCompile(`custom program error: 0x([0-9a-fA-F]+)`)
)

// Classify maps any failure onto the taxonomy. It never panics and always
// returns a non-nil *Error. Rules are applied in a fixed order: signer
// cancellation, fee funding, transport, program codes, missing accounts.
// A cancelled context is not a signer cancellation and classifies as
// Unknown.
func Classify(err error) *Error {
	if err == nil {
		return &Error{Kind: KindUnknown, Message: "An unknown error occurred"}
	}
	if ce, ok := as(err); ok {
		return ce
	}

	raw := err.Error()
	lower := strings.ToLower(base58Run.ReplaceAllString(raw, "<address>"))

	if errors.Is(err, ledger.ErrSignatureRejected) || containsAny(lower, cancelPatterns) {
		return &Error{
			Kind:    KindUserCancelled,
			Message: "Transaction cancelled by user",
			Raw:     raw,
			cause:   err,
		}
	}

	if containsAny(lower, fundsPatterns) {
		return &Error{
			Kind:    KindInsufficientFunds,
			Message: "Insufficient balance for transaction fee",
			Raw:     raw,
			cause:   err,
		}
	}

	if isTransport(err) || containsAny(lower, transportPatterns) || statusCodePattern.MatchString(lower) {
		return &Error{
			Kind:      KindNetworkUnavailable,
			Message:   "Network error. Please check your connection and try again.",
			Retryable: true,
			Raw:       raw,
			cause:     err,
		}
	}

	if m := anchorCodePattern.FindStringSubmatch(raw); m != nil {
		return rejection(lookupCode(m[1]), raw, err)
	}
	if m := customCodePattern.FindStringSubmatch(raw); m != nil {
		return rejection(lookupHex(m[1]), raw, err)
	}

	if errors.Is(err, ledger.ErrAccountNotFound) || containsAny(lower, missingPatterns) {
		return &Error{
			Kind:    KindAccountMissingOrUninitialized,
			Message: "Required account does not exist or is not initialized",
			Raw:     raw,
			cause:   err,
		}
	}

	msg := raw
	if strings.TrimSpace(msg) == "" {
		msg = "An unknown error occurred"
	}
	return &Error{Kind: KindUnknown, Message: msg, Raw: raw, cause: err}
}

func rejection(info CodeInfo, raw string, cause error) *Error {
	return &Error{
		Kind:      KindRemoteProgramRejected,
		Message:   info.Message,
		Code:      info.Name,
		Retryable: info.Transient,
		Raw:       raw,
		cause:     cause,
	}
}

func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
