package transport

import (
	"context"
	"testing"

	"github.com/szichedelic/flbridge-core/internal/flbridge/flerr"
)

func TestSendBeforeOpenIsTransportLost(t *testing.T) {
	tr := New("fl-bridge-in", "fl-bridge-out", nil)
	err := tr.Send(context.Background(), []byte("frame"))
	if !flerr.IsTransportLost(err) {
		t.Fatalf("expected TransportLost before Open, got %v", err)
	}
}

func TestConnectedInitiallyFalse(t *testing.T) {
	tr := New("fl-bridge-in", "fl-bridge-out", nil)
	if tr.Connected() {
		t.Fatalf("expected Connected() == false before Open")
	}
}

func TestCloseBeforeOpenIsNoop(t *testing.T) {
	tr := New("fl-bridge-in", "fl-bridge-out", nil)
	if err := tr.Close(); err != nil {
		t.Fatalf("expected no error closing an unopened transport, got %v", err)
	}
}
