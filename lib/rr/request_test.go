package rr

import (
	"testing"
)

// expectPanic fails the test unless fn panics.
func expectPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}

// TestRequestUseAfterSendPanics tests that a sent request buffer cannot be
// touched again
func TestRequestUseAfterSendPanics(t *testing.T) {
	client, _ := newEchoPair(t, nil)

	u, err := client.LoanUninit()
	if err != nil {
		t.Fatalf("loan failed: %v", err)
	}
	m := u.AssumeInit()
	*RequestPayloadOf[uint64](m) = 1

	pending, err := m.Send()
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	defer pending.Close()

	expectPanic(t, "payload after send", func() { m.Payload() })
	expectPanic(t, "user header after send", func() { m.UserHeader() })
	expectPanic(t, "second send", func() { m.Send() })
}

// TestRequestUseAfterClosePanics tests that a closed request buffer cannot
// be touched again
func TestRequestUseAfterClosePanics(t *testing.T) {
	client, _ := newEchoPair(t, nil)

	u, err := client.LoanUninit()
	if err != nil {
		t.Fatalf("loan failed: %v", err)
	}
	m := u.AssumeInit()
	m.Close()

	expectPanic(t, "payload after close", func() { m.Payload() })
	expectPanic(t, "send after close", func() { m.Send() })

	// Close itself stays idempotent
	m.Close()
}

// TestResponseUseAfterSendPanics tests the same guard on the response side
func TestResponseUseAfterSendPanics(t *testing.T) {
	client, server := newEchoPair(t, nil)

	pending, err := SendCopyAs[uint64](client, 1)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	defer pending.Close()

	ar, ok, err := server.Receive()
	if err != nil || !ok {
		t.Fatalf("receive failed: ok=%v err=%v", ok, err)
	}
	defer ar.Close()

	rm, err := ar.Loan()
	if err != nil {
		t.Fatalf("loan failed: %v", err)
	}
	*ResponseMutPayloadOf[uint64](rm) = 2
	if err := rm.Send(); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	expectPanic(t, "payload after send", func() { rm.Payload() })
	expectPanic(t, "second send", func() { rm.Send() })
}

// TestWritePayload tests the copy-based initialization path
func TestWritePayload(t *testing.T) {
	client, server := newEchoPair(t, nil)

	u, err := client.LoanUninit()
	if err != nil {
		t.Fatalf("loan failed: %v", err)
	}

	payload := make([]byte, 8)
	payload[0] = 0x2a
	payload[7] = 0x99

	pending, err := u.WritePayload(payload).Send()
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	defer pending.Close()

	ar, ok, err := server.Receive()
	if err != nil || !ok {
		t.Fatalf("receive failed: ok=%v err=%v", ok, err)
	}
	defer ar.Close()

	got := ar.Payload()
	if len(got) != len(payload) {
		t.Fatalf("payload length = %d, want %d", len(got), len(payload))
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("payload[%d] = %#x, want %#x", i, got[i], payload[i])
		}
	}
}

// TestConfigCodecRoundTrip tests that the committed contract decodes
// byte-identically
func TestConfigCodecRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestPayload = TypeDetailOf[uint64]()
	cfg.RequestHeader = TypeDetailOf[uint32]()
	cfg.ResponsePayload = SliceTypeDetailOf[float64]()
	cfg.ResponseHeader = unitTypeDetail
	cfg.MaxClients = 7
	cfg.MaxResponseBufferSize = 9
	cfg.EnableFireAndForgetRequests = false
	cfg.RequestUnableToDeliver = DiscardSample
	cfg.MaxSliceLen = 33

	got, err := decodeConfig(encodeConfig(cfg))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != cfg {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, cfg)
	}
}

// TestTypeDetails tests the derived type descriptors
func TestTypeDetails(t *testing.T) {
	d := TypeDetailOf[uint64]()
	if d.Variant != FixedSize || d.Size != 8 || d.Alignment != 8 {
		t.Errorf("uint64 detail = %+v", d)
	}

	s := SliceTypeDetailOf[uint32]()
	if s.Variant != Dynamic || s.Size != 4 {
		t.Errorf("[]uint32 detail = %+v", s)
	}

	if TypeDetailOf[uint64]().Equal(TypeDetailOf[int64]()) {
		t.Error("distinct types compare equal")
	}
	if !TypeDetailOf[uint64]().Equal(TypeDetailOf[uint64]()) {
		t.Error("identical types compare unequal")
	}
}
