package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrOracleUnavailable  = errors.New("oracle unavailable")
	ErrInvalidPrice       = errors.New("invalid price")
	ErrUnsupportedToken   = errors.New("unsupported token")
	ErrUnsupportedNetwork = errors.New("unsupported network")
	ErrMissingField       = errors.New("missing field")
	ErrInvalidMultiplier  = errors.New("premium multiplier must be greater than zero")
	ErrSimulationFailed   = errors.New("simulation failed")
	ErrSubmissionRejected = errors.New("submission rejected")
	ErrNonceTooHigh       = errors.New("account nonce advanced past bundle")
	ErrSignatureMismatch  = errors.New("signature does not recover to sender")
	ErrRetryDeadline      = errors.New("bundle retry deadline exceeded")
	ErrEmptyBundle        = errors.New("bundle has no transactions")
	ErrInvalidDecimals    = errors.New("token decimals out of range")
)

// MissingFieldError names the field a partial transaction lacks.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("must include '%s' field", e.Field)
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// SimulationError carries the relay's simulation verdict for a rejected bundle.
type SimulationError struct {
	Result SimulationResult
}

func (e *SimulationError) Error() string {
	switch e.Result.Kind {
	case SimulationReverted:
		return fmt.Sprintf("simulation error: transaction %d reverted: %s", e.Result.RevertIndex, e.Result.Message)
	default:
		return fmt.Sprintf("simulation error: %s", e.Result.Message)
	}
}

func (e *SimulationError) Is(target error) bool {
	return target == ErrSimulationFailed
}

// RelayError is a structured error returned by the relay instead of accepting a bundle.
type RelayError struct {
	Code    int
	Message string
}

func (e *RelayError) Error() string {
	return e.Message
}

func (e *RelayError) Is(target error) bool {
	return target == ErrSubmissionRejected
}
