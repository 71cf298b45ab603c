// Package connection classifies provider failures into the verdicts that
// drive retry and reconnection behavior.
package connection

import (
	"errors"
	"fmt"

	"github.com/nestegg-fi/nestegg/internal/model"
)

// VerdictKind is the classified failure category.
type VerdictKind int

// Verdict kinds, most specific first. The raw provider code is retained only
// as diagnostic metadata; behavior is driven by the kind.
const (
	// KindTransient covers rate limits, timeouts, and provider maintenance.
	KindTransient VerdictKind = iota
	// KindAuthFailure is an explicit credential or authorization failure.
	KindAuthFailure
	// KindAmbiguousNotFound is a 404 against a per-account sub-resource,
	// which may mean "not yet synced" rather than "deleted".
	KindAmbiguousNotFound
	// KindUnknown is anything unrecognized.
	KindUnknown
)

func (k VerdictKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuthFailure:
		return "auth_failure"
	case KindAmbiguousNotFound:
		return "ambiguous_not_found"
	default:
		return "unknown"
	}
}

// ProviderError carries an HTTP-like status and an optional provider error
// code from a failed upstream call.
type ProviderError struct {
	Err        error
	Code       string
	Message    string
	StatusCode int
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider error %d %s: %v", e.StatusCode, e.Code, e.Err)
	}
	return fmt.Sprintf("provider error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Verdict is the classification of one failed provider call. It is ephemeral:
// produced per failure, never persisted.
type Verdict struct {
	UserMessage            string
	ErrorCode              string
	NextStatus             model.ConnectionStatus
	Kind                   VerdictKind
	IsTransient            bool
	ShouldRetry            bool
	ShouldMarkDisconnected bool
}

var transientCodes = map[string]bool{
	"TEMPORARY":  true,
	"TIMEOUT":    true,
	"RATE_LIMIT": true,
}

var authCodes = map[string]bool{
	"INVALID_CREDENTIALS":   true,
	"ACCESS_REVOKED":        true,
	"AUTHORIZATION_EXPIRED": true,
}

var transientStatuses = map[int]bool{
	408: true,
	429: true,
	503: true,
	504: true,
}

// Classify maps a provider failure to a verdict. The decision table is
// checked in order, first match wins:
//
//  1. transient status or code: retry, keep stored status
//  2. explicit auth failure: do not retry, mark disconnected
//  3. 404: ambiguous, treated as transient
//  4. anything else: retry, never silently revoke the link
//
// Only rule 2 may ever change a stored connection status. A false
// "disconnected" forces the user through re-auth, which is far more
// disruptive than a few wasted retries.
func Classify(err error) Verdict {
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		return unknownVerdict("")
	}

	switch {
	case transientStatuses[providerErr.StatusCode] || transientCodes[providerErr.Code]:
		return Verdict{
			Kind:        KindTransient,
			IsTransient: true,
			ShouldRetry: true,
			ErrorCode:   providerErr.Code,
			UserMessage: "The provider is temporarily unavailable. Please try again in a moment.",
		}
	case providerErr.StatusCode == 401 || providerErr.StatusCode == 403 || authCodes[providerErr.Code]:
		return Verdict{
			Kind:                   KindAuthFailure,
			ShouldMarkDisconnected: true,
			NextStatus:             authStatus(providerErr.Code),
			ErrorCode:              providerErr.Code,
			UserMessage:            "This account needs to be reconnected. Please sign in to the provider again.",
		}
	case providerErr.StatusCode == 404:
		return Verdict{
			Kind:        KindAmbiguousNotFound,
			IsTransient: true,
			ShouldRetry: true,
			ErrorCode:   providerErr.Code,
			UserMessage: "The provider has not finished syncing this account. Please try again.",
		}
	default:
		return unknownVerdict(providerErr.Code)
	}
}

func unknownVerdict(code string) Verdict {
	return Verdict{
		Kind:        KindUnknown,
		ShouldRetry: true,
		ErrorCode:   code,
		UserMessage: "Something went wrong talking to the provider. Please try again.",
	}
}

// authStatus picks the stored status an auth failure flips the account to.
func authStatus(code string) model.ConnectionStatus {
	if code == "AUTHORIZATION_EXPIRED" {
		return model.StatusAuthExpired
	}
	return model.StatusDisconnected
}
