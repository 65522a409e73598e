package contract

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	rejected := NewProtocolError("create_order", "budget exceeds account credit limit")
	timedOut := NewTransportError("create_line", context.DeadlineExceeded)

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: ErrorKindNone},
		{name: "validation", err: fmt.Errorf("%w: name is required", ErrValidation), want: ErrorKindValidation},
		{name: "transport", err: timedOut, want: ErrorKindTransport},
		{name: "protocol", err: rejected, want: ErrorKindProtocol},
		{
			name: "booking failed on transport",
			err:  &BookingFailedError{AtState: "order_created", Step: "line", Cause: timedOut},
			want: ErrorKindBookingFailed,
		},
		{
			name: "booking failed on seller rejection",
			err:  &BookingFailedError{AtState: "account_ready", Step: "order", Cause: rejected},
			want: ErrorKindProtocol,
		},
		{name: "unknown", err: errors.New("boom"), want: ErrorKindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBookingFailedKeepsSellerMessage(t *testing.T) {
	t.Parallel()

	err := error(&BookingFailedError{
		AtState: "account_ready",
		Step:    "order",
		Cause:   NewProtocolError("create_order", "budget exceeds account credit limit"),
	})
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Message != "budget exceeds account credit limit" {
		t.Fatalf("seller message lost: %v", err)
	}
	if !errors.Is(err, ErrDealBookingFailed) {
		t.Fatalf("expected ErrDealBookingFailed in %v", err)
	}
	if Retryable(err) {
		t.Fatal("a seller rejection must not be retried")
	}
}
