package domain

import (
	"errors"
	"fmt"
)

// RecoverableError marks errors after which the controller keeps its state and
// waits for the next message.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable checks if an error only affects the message that caused it.
func IsRecoverable(err error) bool {
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return false
}

// IsFatal reports whether err halts the current run.
func IsFatal(err error) bool {
	return err != nil && !IsRecoverable(err)
}

// RetriableError defines an interface for I/O errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// TransportError represents a broker or data store failure that may be retriable
type TransportError struct {
	Op        string // Operation that failed (e.g., "connect", "write", "query")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) IsRetriable() bool {
	return e.Retriable
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new retriable transport error
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err, Retriable: true}
}

// NewFatalTransportError creates a non-retriable transport error
func NewFatalTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a run configuration error (fatal to the run)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRecoverable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// UnsupportedError is returned for cost or profile representations that are
// deliberately not implemented.
type UnsupportedError struct {
	What string
	Type string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported %s type %q", e.What, e.Type)
}

func (e *UnsupportedError) IsRecoverable() bool {
	return false
}

// MessageError wraps a malformed, incomplete or out-of-order message.
// The message is dropped and the controller state is left untouched.
type MessageError struct {
	Topic string
	Err   error
}

func (e *MessageError) Error() string {
	return "message [" + e.Topic + "]: " + e.Err.Error()
}

func (e *MessageError) IsRecoverable() bool {
	return true
}

func (e *MessageError) Unwrap() error {
	return e.Err
}

// ResolutionError is returned when a clearing price cannot be mapped onto the
// stored bid curve. The market process broke its contract, so the run halts.
type ResolutionError struct {
	Step    int
	Carrier string
	Price   float64
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("step %d carrier %s price %g: %v", e.Step, e.Carrier, e.Price, e.Err)
}

func (e *ResolutionError) IsRecoverable() bool {
	return false
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

var (
	// ErrArbitrage is returned when the marginal charge cost exceeds the marginal discharge cost.
	ErrArbitrage = errors.New("marginal charge costs exceed marginal discharge costs")

	// ErrPriceOutOfDomain is returned when a clearing price lies outside the bid curve.
	ErrPriceOutOfDomain = errors.New("price outside bid curve domain")

	// ErrStepOutOfOrder is returned when a bid or allocation does not match the step timeline.
	ErrStepOutOfOrder = errors.New("step out of order")

	// ErrUnexpectedMessage is returned when a message is not valid in the current protocol state.
	ErrUnexpectedMessage = errors.New("unexpected message for protocol state")

	// ErrNoActiveRun is returned when a run message arrives before configuration.
	ErrNoActiveRun = errors.New("no active run")

	// ErrMissingAttribute is returned when a required model attribute is absent.
	ErrMissingAttribute = errors.New("missing required attribute")

	// ErrUnknownCarrier is returned for a carrier id the asset is not connected to.
	ErrUnknownCarrier = errors.New("unknown carrier")
)
