package contract

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrAdapterUnavailable  = errors.New("adapter unavailable")
	ErrTransport           = errors.New("transport error")
	ErrProtocol            = errors.New("protocol error")
	ErrPriceFloorViolation = errors.New("price floor violation")
	ErrConsentRequired     = errors.New("consent required")
	ErrDuplicateStep       = errors.New("duplicate booking step")
	ErrDealBookingFailed   = errors.New("deal booking failed")
	ErrStateViolation      = errors.New("booking state violation")
	ErrNotFound            = errors.New("not found")

	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
)

type ErrorKind string

const (
	ErrorKindNone               ErrorKind = ""
	ErrorKindValidation         ErrorKind = "validation"
	ErrorKindAdapterUnavailable ErrorKind = "adapter_unavailable"
	ErrorKindTransport          ErrorKind = "transport"
	ErrorKindProtocol           ErrorKind = "protocol"
	ErrorKindPriceFloor         ErrorKind = "price_floor_violation"
	ErrorKindConsentRequired    ErrorKind = "consent_required"
	ErrorKindDuplicateStep      ErrorKind = "duplicate_step"
	ErrorKindBookingFailed      ErrorKind = "deal_booking_failed"
	ErrorKindStateViolation     ErrorKind = "state_violation"
	ErrorKindUnknown            ErrorKind = "unknown"
)

// KindOf maps err onto the error taxonomy. A seller rejection reads as a
// protocol error even inside a booking failure; any other booking failure
// wins over its cause.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrProtocol):
		return ErrorKindProtocol
	case errors.Is(err, ErrDealBookingFailed):
		return ErrorKindBookingFailed
	case errors.Is(err, ErrValidation):
		return ErrorKindValidation
	case errors.Is(err, ErrAdapterUnavailable):
		return ErrorKindAdapterUnavailable
	case errors.Is(err, ErrTransport):
		return ErrorKindTransport
	case errors.Is(err, ErrPriceFloorViolation):
		return ErrorKindPriceFloor
	case errors.Is(err, ErrConsentRequired):
		return ErrorKindConsentRequired
	case errors.Is(err, ErrDuplicateStep):
		return ErrorKindDuplicateStep
	case errors.Is(err, ErrStateViolation):
		return ErrorKindStateViolation
	default:
		return ErrorKindUnknown
	}
}

// Retryable reports whether err is a transient transport failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport)
}

// ProtocolError carries the remote rejection message verbatim.
type ProtocolError struct {
	Operation string
	Message   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: operation=%s: %s", e.Operation, e.Message)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

func NewProtocolError(operation, message string) *ProtocolError {
	return &ProtocolError{Operation: operation, Message: message}
}

// TransportError wraps a network or timeout failure of one remote call.
type TransportError struct {
	Operation string
	Cause     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: operation=%s: %v", e.Operation, e.Cause)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Cause} }

func NewTransportError(operation string, cause error) *TransportError {
	return &TransportError{Operation: operation, Cause: cause}
}

// PriceFloorError reports a computed price below the product floor.
type PriceFloorError struct {
	ProductID string
	Price     float64
	Floor     float64
}

func (e *PriceFloorError) Error() string {
	return fmt.Sprintf("price floor violation: product=%s price=%.4f floor=%.4f", e.ProductID, e.Price, e.Floor)
}

func (e *PriceFloorError) Unwrap() error { return ErrPriceFloorViolation }

// BookingFailedError is the terminal error of a booking session that
// entered the Failed state.
type BookingFailedError struct {
	AtState string
	Step    string
	LastID  string
	Cause   error
}

func (e *BookingFailedError) Error() string {
	return fmt.Sprintf("deal booking failed at state=%s step=%s last_id=%s: %v", e.AtState, e.Step, e.LastID, e.Cause)
}

func (e *BookingFailedError) Unwrap() []error { return []error{ErrDealBookingFailed, e.Cause} }
