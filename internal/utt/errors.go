// errors.go - Error taxonomy shared by the wallet, the builders and the signers.

package utt

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind groups failures by who has to act on them.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindConfiguration: the wallet or signer is not set up for the request.
	KindConfiguration
	// KindValidation: the request itself is unacceptable.
	KindValidation
	// KindThreshold: not enough consistent validator material.
	KindThreshold
	// KindCollaborator: an injected dependency (encryptor, storage) failed.
	KindCollaborator
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "CONFIGURATION"
	case KindValidation:
		return "VALIDATION"
	case KindThreshold:
		return "THRESHOLD"
	case KindCollaborator:
		return "COLLABORATOR"
	default:
		return "UNKNOWN"
	}
}

// Error is a typed protocol failure. Sentinels below are compared with errors.Is
// after any amount of wrapping.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

var byCode = make(map[string]*Error)

func newError(kind ErrorKind, code, msg string) *Error {
	e := &Error{Kind: kind, Code: code, Message: msg}
	byCode[code] = e
	return e
}

// ErrorByCode returns the sentinel for code, so that a failure reported by a
// remote validator still matches with errors.Is.
func ErrorByCode(code string) (*Error, bool) {
	e, ok := byCode[code]
	return e, ok
}

var (
	ErrWalletNotConfigured = newError(KindConfiguration, "wallet_not_configured", "wallet is not configured")
	ErrWalletConfigured    = newError(KindConfiguration, "wallet_configured", "wallet is already configured")
	ErrNotRegistered       = newError(KindConfiguration, "not_registered", "user is not registered")
	ErrAlreadyRegistered   = newError(KindConfiguration, "already_registered", "user is already registered")
	ErrRegistrationState   = newError(KindConfiguration, "registration_state", "no registration is pending")

	ErrMalformedCoin          = newError(KindValidation, "malformed_coin", "malformed coin")
	ErrInvalidCoinsInTransfer = newError(KindValidation, "invalid_coins_in_transfer", "invalid coins in transfer")
	ErrInsufficientBalance    = newError(KindValidation, "insufficient_balance", "insufficient balance")
	ErrInsufficientBudget     = newError(KindValidation, "insufficient_budget", "insufficient budget")
	ErrInvalidTransaction     = newError(KindValidation, "invalid_transaction", "invalid transaction")
	ErrInvalidRegistration    = newError(KindValidation, "invalid_registration", "invalid registration request")
	ErrTransactionPending     = newError(KindValidation, "transaction_pending", "another transaction is in flight")
	ErrBuilderState           = newError(KindValidation, "builder_state", "transaction builder used out of order")
	ErrConflictingClaim       = newError(KindValidation, "conflicting_claim", "claim conflicts with an earlier claim")
	ErrInvalidArgument        = newError(KindValidation, "invalid_argument", "invalid argument")

	ErrIncompleteClaim = newError(KindThreshold, "incomplete_claim", "not enough valid signature shares")
	ErrNullifierReused = newError(KindThreshold, "nullifier_reused", "nullifier already used")

	ErrEncryptionFailure = newError(KindCollaborator, "encryption_failure", "encryption failed")
	ErrStorageFailure    = newError(KindCollaborator, "storage_failure", "storage failed")
)

// KindOf returns the kind of the first typed error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the machine readable code of err, or "" for untyped errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
