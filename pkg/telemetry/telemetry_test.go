package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestStartCallWithGlobalNoopProviders(t *testing.T) {
	t.Parallel()

	in := New()
	ctx, end := in.StartCall(context.Background(), "structured", "list_products")
	if ctx == nil {
		t.Fatal("StartCall returned nil context")
	}
	end(errors.New("boom"))
}

func TestNilInstrumentsAreSafe(t *testing.T) {
	t.Parallel()

	var in *Instruments
	_, end := in.StartCall(context.Background(), "conversational", "send_message")
	end(nil)
}
