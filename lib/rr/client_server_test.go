package rr

import (
	"testing"
)

// newEchoPair creates a service with one client and one server port. The
// builder mutator lets tests tweak the contract.
func newEchoPair(t *testing.T, mutate func(*RequestResponseBuilder)) (*Client, *Server) {
	t.Helper()

	node := newTestNode(t)
	t.Cleanup(node.Close)

	b := node.Service("pair").
		RequestResponse(TypeDetailOf[uint64](), TypeDetailOf[uint64]())
	if mutate != nil {
		mutate(b)
	}

	svc, err := b.Create()
	if err != nil {
		t.Fatalf("create service failed: %v", err)
	}

	client, err := svc.Client().Create()
	if err != nil {
		t.Fatalf("create client failed: %v", err)
	}
	server, err := svc.Server().Create()
	if err != nil {
		t.Fatalf("create server failed: %v", err)
	}
	return client, server
}

// TestRequestResponseRoundTrip tests one full exchange: a request carrying
// 42 answered with the stream 1, 2, 3
func TestRequestResponseRoundTrip(t *testing.T) {
	client, server := newEchoPair(t, func(b *RequestResponseBuilder) {
		b.MaxResponseBufferSize(4)
	})

	pending, err := SendCopyAs[uint64](client, 42)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	defer pending.Close()

	ar, ok, err := server.Receive()
	if err != nil || !ok {
		t.Fatalf("receive failed: ok=%v err=%v", ok, err)
	}
	if got := *ActivePayloadOf[uint64](ar); got != 42 {
		t.Fatalf("request payload = %d, want 42", got)
	}

	for _, v := range []uint64{1, 2, 3} {
		if err := RespondCopyAs(ar, v); err != nil {
			t.Fatalf("respond %d failed: %v", v, err)
		}
	}
	ar.Close()

	for _, want := range []uint64{1, 2, 3} {
		resp, ok, err := pending.Receive()
		if err != nil || !ok {
			t.Fatalf("expected response %d: ok=%v err=%v", want, ok, err)
		}
		if got := *ResponsePayloadOf[uint64](resp); got != want {
			t.Errorf("response = %d, want %d", got, want)
		}
		if resp.Origin() != server.ID() {
			t.Errorf("response origin mismatch")
		}
		resp.Close()
	}

	// the server finished, no more responses can arrive
	if pending.IsConnected() {
		t.Error("pending response still connected after the server finished")
	}
	if _, ok, _ := pending.Receive(); ok {
		t.Error("received a response that was never sent")
	}
}

// TestRequestDeliveredAtMostOnce tests that one send yields exactly one
// receive per server
func TestRequestDeliveredAtMostOnce(t *testing.T) {
	client, server := newEchoPair(t, nil)

	pending, err := SendCopyAs[uint64](client, 7)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	defer pending.Close()

	ar, ok, err := server.Receive()
	if err != nil || !ok {
		t.Fatalf("first receive failed: ok=%v err=%v", ok, err)
	}
	defer ar.Close()

	if _, ok, _ := server.Receive(); ok {
		t.Fatal("the same request was delivered twice")
	}
}

// TestRequestOrderPerConnection tests that requests of one client arrive in
// send order
func TestRequestOrderPerConnection(t *testing.T) {
	client, server := newEchoPair(t, func(b *RequestResponseBuilder) {
		b.MaxActiveRequestsPerClient(8)
	})

	var pendings []*PendingResponse
	for v := uint64(0); v < 5; v++ {
		p, err := SendCopyAs[uint64](client, v)
		if err != nil {
			t.Fatalf("send %d failed: %v", v, err)
		}
		pendings = append(pendings, p)
	}
	defer func() {
		for _, p := range pendings {
			p.Close()
		}
	}()

	for want := uint64(0); want < 5; want++ {
		ar, ok, err := server.Receive()
		if err != nil || !ok {
			t.Fatalf("receive %d failed: ok=%v err=%v", want, ok, err)
		}
		if got := *ActivePayloadOf[uint64](ar); got != want {
			t.Fatalf("request out of order: got %d, want %d", got, want)
		}
		if got := ar.Header().RequestID; got != want+1 {
			t.Errorf("request id = %d, want %d", got, want+1)
		}
		ar.Close()
	}
}

// TestUserHeaders tests that user headers travel with both directions
func TestUserHeaders(t *testing.T) {
	type meta struct {
		Tag uint32
		Seq uint32
	}

	node := newTestNode(t)
	defer node.Close()

	svc, err := node.Service("headered").
		RequestResponse(TypeDetailOf[uint64](), TypeDetailOf[uint64]()).
		RequestUserHeader(TypeDetailOf[meta]()).
		ResponseUserHeader(TypeDetailOf[meta]()).
		Create()
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	client, err := svc.Client().Create()
	if err != nil {
		t.Fatalf("create client failed: %v", err)
	}
	server, err := svc.Server().Create()
	if err != nil {
		t.Fatalf("create server failed: %v", err)
	}

	u, err := client.LoanUninit()
	if err != nil {
		t.Fatalf("loan failed: %v", err)
	}
	m := u.AssumeInit()
	*RequestPayloadOf[uint64](m) = 99
	*RequestUserHeaderOf[meta](m) = meta{Tag: 0xbeef, Seq: 1}

	pending, err := m.Send()
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	defer pending.Close()

	ar, ok, err := server.Receive()
	if err != nil || !ok {
		t.Fatalf("receive failed: ok=%v err=%v", ok, err)
	}
	if hdr := *ActiveUserHeaderOf[meta](ar); hdr.Tag != 0xbeef || hdr.Seq != 1 {
		t.Fatalf("request user header = %+v", hdr)
	}

	ru, err := ar.LoanUninit()
	if err != nil {
		t.Fatalf("response loan failed: %v", err)
	}
	rm := ru.AssumeInit()
	*ResponseMutPayloadOf[uint64](rm) = 100
	*ResponseMutUserHeaderOf[meta](rm) = meta{Tag: 0xcafe, Seq: 2}
	if err := rm.Send(); err != nil {
		t.Fatalf("response send failed: %v", err)
	}
	ar.Close()

	resp, ok, err := pending.Receive()
	if err != nil || !ok {
		t.Fatalf("response receive failed: ok=%v err=%v", ok, err)
	}
	defer resp.Close()
	if hdr := *ResponseUserHeaderOf[meta](resp); hdr.Tag != 0xcafe || hdr.Seq != 2 {
		t.Fatalf("response user header = %+v", hdr)
	}
	if got := *ResponsePayloadOf[uint64](resp); got != 100 {
		t.Fatalf("response payload = %d, want 100", got)
	}
}

// TestSlicePayloads tests Dynamic payloads end to end
func TestSlicePayloads(t *testing.T) {
	node := newTestNode(t)
	defer node.Close()

	svc, err := node.Service("sliced").
		RequestResponse(SliceTypeDetailOf[uint32](), SliceTypeDetailOf[uint32]()).
		MaxSliceLen(16).
		Create()
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	client, err := svc.Client().Create()
	if err != nil {
		t.Fatalf("create client failed: %v", err)
	}
	server, err := svc.Server().Create()
	if err != nil {
		t.Fatalf("create server failed: %v", err)
	}

	pending, err := SendSliceCopyAs(client, []uint32{10, 20, 30})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	defer pending.Close()

	ar, ok, err := server.Receive()
	if err != nil || !ok {
		t.Fatalf("receive failed: ok=%v err=%v", ok, err)
	}

	in := PayloadAsSlice[uint32](ar.Payload(), 3)
	out := make([]uint32, len(in))
	for i, v := range in {
		out[i] = v * 2
	}

	rm, err := ar.LoanSlice(len(out))
	if err != nil {
		t.Fatalf("slice loan failed: %v", err)
	}
	copy(PayloadAsSlice[uint32](rm.Payload(), len(out)), out)
	if err := rm.Send(); err != nil {
		t.Fatalf("send response failed: %v", err)
	}
	ar.Close()

	resp, ok, err := pending.Receive()
	if err != nil || !ok {
		t.Fatalf("response receive failed: ok=%v err=%v", ok, err)
	}
	defer resp.Close()

	got := ResponsePayloadSliceOf[uint32](resp)
	want := []uint32{20, 40, 60}
	if len(got) != len(want) {
		t.Fatalf("response slice length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("response[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

// TestMultipleServers tests fan-out: every connected server receives its
// own copy of the request
func TestMultipleServers(t *testing.T) {
	node := newTestNode(t)
	defer node.Close()

	svc, err := node.Service("fanout").
		RequestResponse(TypeDetailOf[uint64](), TypeDetailOf[uint64]()).
		MaxServers(2).
		Create()
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	client, err := svc.Client().Create()
	if err != nil {
		t.Fatalf("create client failed: %v", err)
	}
	srvA, err := svc.Server().Create()
	if err != nil {
		t.Fatalf("create server a failed: %v", err)
	}
	srvB, err := svc.Server().Create()
	if err != nil {
		t.Fatalf("create server b failed: %v", err)
	}

	pending, err := SendCopyAs[uint64](client, 5)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	defer pending.Close()

	if got := pending.NumberOfServerConnections(); got != 2 {
		t.Fatalf("server connections = %d, want 2", got)
	}

	for _, srv := range []*Server{srvA, srvB} {
		ar, ok, err := srv.Receive()
		if err != nil || !ok {
			t.Fatalf("server %s receive failed: ok=%v err=%v", srv.ID(), ok, err)
		}
		if err := RespondCopyAs[uint64](ar, 6); err != nil {
			t.Fatalf("respond failed: %v", err)
		}
		ar.Close()
	}

	received := 0
	for {
		resp, ok, err := pending.Receive()
		if err != nil {
			t.Fatalf("receive failed: %v", err)
		}
		if !ok {
			break
		}
		resp.Close()
		received++
	}
	if received != 2 {
		t.Fatalf("received %d responses, want 2", received)
	}
}
