package rpc

import (
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"privwallet/internal/utt"
)

// codeOf maps a wallet failure to the status callers see.
func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, utt.ErrWalletNotConfigured), errors.Is(err, utt.ErrNotRegistered):
		return codes.NotFound
	case errors.Is(err, utt.ErrWalletConfigured), errors.Is(err, utt.ErrAlreadyRegistered):
		return codes.AlreadyExists
	case errors.Is(err, utt.ErrIncompleteClaim), errors.Is(err, utt.ErrConflictingClaim),
		errors.Is(err, utt.ErrNullifierReused), errors.Is(err, utt.ErrRegistrationState):
		return codes.Aborted
	case errors.Is(err, utt.ErrInvalidArgument):
		return codes.InvalidArgument
	}
	switch utt.KindOf(err) {
	case utt.KindValidation, utt.KindConfiguration:
		return codes.FailedPrecondition
	case utt.KindThreshold:
		return codes.Aborted
	default:
		return codes.Internal
	}
}

// toStatus converts err for the wire. Untyped errors may come from anywhere
// below the wallet, so their text is not forwarded.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codeOf(err)
	if utt.KindOf(err) == utt.KindUnknown {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}
