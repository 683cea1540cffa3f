package rr

import (
	"errors"
	"testing"

	"github.com/ferryipc/ferry/lib/arena"
)

// TestSendWindowBlock tests that a full in-flight window surfaces
// backpressure and that the request stays sendable for the retry
func TestSendWindowBlock(t *testing.T) {
	client, server := newEchoPair(t, func(b *RequestResponseBuilder) {
		b.MaxActiveRequestsPerClient(2).
			EnableSafeOverflowForRequests(false).
			RequestUnableToDeliver(Block).
			MaxLoanedRequests(4)
	})

	var pendings []*PendingResponse
	for i := 0; i < 2; i++ {
		p, err := SendCopyAs[uint64](client, uint64(i))
		if err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
		pendings = append(pendings, p)
	}

	u, err := client.LoanUninit()
	if err != nil {
		t.Fatalf("loan failed: %v", err)
	}
	m := u.AssumeInit()
	*RequestPayloadOf[uint64](m) = 2

	if _, err := m.Send(); !errors.Is(err, SendErrExceedsMaxActiveRequests) {
		t.Fatalf("expected SendErrExceedsMaxActiveRequests, got %v", err)
	}

	// the server frees one window slot, the identical buffer sends fine
	ar, ok, err := server.Receive()
	if err != nil || !ok {
		t.Fatalf("receive failed: ok=%v err=%v", ok, err)
	}
	ar.Close()

	p, err := m.Send()
	if err != nil {
		t.Fatalf("retry after backpressure failed: %v", err)
	}
	pendings = append(pendings, p)

	for _, p := range pendings {
		p.Close()
	}
}

// TestSendCopyReleasesLoanOnBackpressure tests that a failed copy send
// hands its loan back so the caller can back off and retry
func TestSendCopyReleasesLoanOnBackpressure(t *testing.T) {
	client, server := newEchoPair(t, func(b *RequestResponseBuilder) {
		b.MaxActiveRequestsPerClient(1).
			EnableSafeOverflowForRequests(false).
			RequestUnableToDeliver(Block).
			MaxLoanedRequests(2)
	})

	first, err := SendCopyAs[uint64](client, 1)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	defer first.Close()

	// more failed sends than the loan budget holds; each must release
	// its loan or the budget runs dry
	payload := make([]byte, 8)
	for i := 0; i < 3; i++ {
		if _, err := client.SendCopy(payload); !errors.Is(err, SendErrExceedsMaxActiveRequests) {
			t.Fatalf("send %d: expected SendErrExceedsMaxActiveRequests, got %v", i, err)
		}
	}

	// the server drains the window, the retry goes through
	ar, ok, err := server.Receive()
	if err != nil || !ok {
		t.Fatalf("receive failed: ok=%v err=%v", ok, err)
	}
	ar.Close()

	retry, err := client.SendCopy(payload)
	if err != nil {
		t.Fatalf("retry after backoff failed: %v", err)
	}
	retry.Close()
}

// TestSendWindowDiscard tests that the DiscardSample strategy drops
// silently instead of failing
func TestSendWindowDiscard(t *testing.T) {
	node := newTestNode(t)
	defer node.Close()

	svc, err := node.Service("discard").
		RequestResponse(TypeDetailOf[uint64](), TypeDetailOf[uint64]()).
		MaxActiveRequestsPerClient(1).
		EnableSafeOverflowForRequests(false).
		MaxLoanedRequests(4).
		Create()
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	client, err := svc.Client().UnableToDeliver(DiscardSample).Create()
	if err != nil {
		t.Fatalf("create client failed: %v", err)
	}
	server, err := svc.Server().Create()
	if err != nil {
		t.Fatalf("create server failed: %v", err)
	}

	first, err := SendCopyAs[uint64](client, 1)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	defer first.Close()

	// window full: the send succeeds but delivers to nobody
	dropped, err := SendCopyAs[uint64](client, 2)
	if err != nil {
		t.Fatalf("discard send failed: %v", err)
	}
	defer dropped.Close()
	if got := dropped.NumberOfServerConnections(); got != 0 {
		t.Fatalf("dropped request has %d deliveries, want 0", got)
	}

	ar, ok, err := server.Receive()
	if err != nil || !ok {
		t.Fatalf("receive failed: ok=%v err=%v", ok, err)
	}
	if got := *ActivePayloadOf[uint64](ar); got != 1 {
		t.Fatalf("payload = %d, want 1", got)
	}
	ar.Close()

	if _, ok, _ := server.Receive(); ok {
		t.Fatal("the discarded request was delivered")
	}
}

// TestSafeOverflowEvictsOldestRequest tests that with safe overflow the
// newest request evicts the oldest still-queued one
func TestSafeOverflowEvictsOldestRequest(t *testing.T) {
	client, server := newEchoPair(t, func(b *RequestResponseBuilder) {
		b.MaxActiveRequestsPerClient(2).
			EnableSafeOverflowForRequests(true).
			MaxLoanedRequests(4)
	})

	var pendings []*PendingResponse
	for i := uint64(0); i < 3; i++ {
		p, err := SendCopyAs[uint64](client, i)
		if err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
		pendings = append(pendings, p)
	}
	defer func() {
		for _, p := range pendings {
			p.Close()
		}
	}()

	// request 0 was evicted, 1 and 2 remain
	if pendings[0].IsConnected() {
		t.Error("evicted request still reports a server connection")
	}

	for _, want := range []uint64{1, 2} {
		ar, ok, err := server.Receive()
		if err != nil || !ok {
			t.Fatalf("receive failed: ok=%v err=%v", ok, err)
		}
		if got := *ActivePayloadOf[uint64](ar); got != want {
			t.Fatalf("payload = %d, want %d", got, want)
		}
		ar.Close()
	}
	if _, ok, _ := server.Receive(); ok {
		t.Fatal("received more requests than the window holds")
	}
}

// TestResponseBufferBlock tests backpressure on the response path
func TestResponseBufferBlock(t *testing.T) {
	node := newTestNode(t)
	defer node.Close()

	svc, err := node.Service("resp-block").
		RequestResponse(TypeDetailOf[uint64](), TypeDetailOf[uint64]()).
		MaxResponseBufferSize(1).
		EnableSafeOverflowForResponses(false).
		MaxLoanedResponsesPerRequest(4).
		Create()
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	client, err := svc.Client().Create()
	if err != nil {
		t.Fatalf("create client failed: %v", err)
	}
	server, err := svc.Server().UnableToDeliver(Block).Create()
	if err != nil {
		t.Fatalf("create server failed: %v", err)
	}

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

	if err := RespondCopyAs[uint64](ar, 10); err != nil {
		t.Fatalf("first response failed: %v", err)
	}

	rm, err := ar.Loan()
	if err != nil {
		t.Fatalf("loan failed: %v", err)
	}
	*ResponseMutPayloadOf[uint64](rm) = 11
	if err := rm.Send(); !errors.Is(err, RespSendErrExceedsMaxResponseBuffer) {
		t.Fatalf("expected RespSendErrExceedsMaxResponseBuffer, got %v", err)
	}

	// the client frees the buffer slot, the identical response sends fine
	resp, ok, err := pending.Receive()
	if err != nil || !ok {
		t.Fatalf("response receive failed: ok=%v err=%v", ok, err)
	}
	resp.Close()

	if err := rm.Send(); err != nil {
		t.Fatalf("retry after backpressure failed: %v", err)
	}
}

// TestSafeOverflowEvictsOldestResponse tests that with safe overflow the
// newest response evicts the oldest buffered one
func TestSafeOverflowEvictsOldestResponse(t *testing.T) {
	client, server := newEchoPair(t, func(b *RequestResponseBuilder) {
		b.MaxResponseBufferSize(2).
			EnableSafeOverflowForResponses(true).
			MaxLoanedResponsesPerRequest(4)
	})

	pending, err := SendCopyAs[uint64](client, 1)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	defer pending.Close()

	ar, ok, err := server.Receive()
	if err != nil || !ok {
		t.Fatalf("receive failed: ok=%v err=%v", ok, err)
	}

	for _, v := range []uint64{10, 11, 12} {
		if err := RespondCopyAs(ar, v); err != nil {
			t.Fatalf("respond %d failed: %v", v, err)
		}
	}
	ar.Close()

	// 10 was evicted, 11 and 12 survive in order
	for _, want := range []uint64{11, 12} {
		resp, ok, err := pending.Receive()
		if err != nil || !ok {
			t.Fatalf("response receive failed: ok=%v err=%v", ok, err)
		}
		if got := *ResponsePayloadOf[uint64](resp); got != want {
			t.Errorf("response = %d, want %d", got, want)
		}
		resp.Close()
	}
	if _, ok, _ := pending.Receive(); ok {
		t.Fatal("received an evicted response")
	}
}

// TestClientLoanBudget tests the per-client loan cap
func TestClientLoanBudget(t *testing.T) {
	client, _ := newEchoPair(t, func(b *RequestResponseBuilder) {
		b.MaxLoanedRequests(2)
	})

	a, err := client.LoanUninit()
	if err != nil {
		t.Fatalf("loan 1 failed: %v", err)
	}
	if _, err := client.LoanUninit(); err != nil {
		t.Fatalf("loan 2 failed: %v", err)
	}
	if _, err := client.LoanUninit(); !errors.Is(err, arena.LoanErrExceedsMaxLoans) {
		t.Fatalf("expected LoanErrExceedsMaxLoans, got %v", err)
	}

	// releasing one loan frees the budget
	a.Close()
	if _, err := client.LoanUninit(); err != nil {
		t.Fatalf("loan after release failed: %v", err)
	}
}

// TestResponseLoanBudget tests the per-request response loan cap
func TestResponseLoanBudget(t *testing.T) {
	client, server := newEchoPair(t, func(b *RequestResponseBuilder) {
		b.MaxLoanedResponsesPerRequest(1)
	})

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

	held, err := ar.LoanUninit()
	if err != nil {
		t.Fatalf("loan failed: %v", err)
	}
	if _, err := ar.LoanUninit(); !errors.Is(err, arena.LoanErrExceedsMaxLoans) {
		t.Fatalf("expected LoanErrExceedsMaxLoans, got %v", err)
	}
	held.Close()
	if _, err := ar.LoanUninit(); err != nil {
		t.Fatalf("loan after release failed: %v", err)
	}
}

// TestReceiveBorrowCap tests that a server cannot hoard more requests than
// its borrow budget
func TestReceiveBorrowCap(t *testing.T) {
	node := newTestNode(t)
	defer node.Close()

	svc, err := node.Service("borrows").
		RequestResponse(TypeDetailOf[uint64](), TypeDetailOf[uint64]()).
		MaxClients(1).
		MaxActiveRequestsPerClient(2).
		MaxLoanedRequests(4).
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

	var pendings []*PendingResponse
	var actives []*ActiveRequest
	for i := 0; i < 2; i++ {
		p, err := SendCopyAs[uint64](client, uint64(i))
		if err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
		pendings = append(pendings, p)

		ar, ok, err := server.Receive()
		if err != nil || !ok {
			t.Fatalf("receive %d failed: ok=%v err=%v", i, ok, err)
		}
		actives = append(actives, ar)
	}

	// borrow budget exhausted
	if _, _, err := server.Receive(); !errors.Is(err, RecvErrExceedsMaxBorrows) {
		t.Fatalf("expected RecvErrExceedsMaxBorrows, got %v", err)
	}

	actives[0].Close()
	p, err := SendCopyAs[uint64](client, 9)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	pendings = append(pendings, p)
	if _, ok, err := server.Receive(); err != nil || !ok {
		t.Fatalf("receive after close failed: ok=%v err=%v", ok, err)
	}

	for _, p := range pendings {
		p.Close()
	}
}

// TestSliceLenBudget tests the element budget of slice loans
func TestSliceLenBudget(t *testing.T) {
	node := newTestNode(t)
	defer node.Close()

	svc, err := node.Service("slice-budget").
		RequestResponse(SliceTypeDetailOf[uint32](), SliceTypeDetailOf[uint32]()).
		MaxSliceLen(4).
		Create()
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	client, err := svc.Client().Create()
	if err != nil {
		t.Fatalf("create client failed: %v", err)
	}

	if _, err := client.LoanSliceUninit(4); err != nil {
		t.Fatalf("loan within budget failed: %v", err)
	}
	if _, err := client.LoanSliceUninit(5); !errors.Is(err, ErrInvalidSliceLen) {
		t.Errorf("oversized loan: expected ErrInvalidSliceLen, got %v", err)
	}
	if _, err := client.LoanSliceUninit(0); !errors.Is(err, ErrInvalidSliceLen) {
		t.Errorf("empty loan: expected ErrInvalidSliceLen, got %v", err)
	}

	// fixed-size loans are the wrong variant for a slice-typed service
	if _, err := client.LoanUninit(); !errors.Is(err, ErrIncompatiblePayloadVariant) {
		t.Errorf("expected ErrIncompatiblePayloadVariant, got %v", err)
	}
}

// TestSliceLenOverrideCapped tests that a port cannot ask for a larger
// slice length than the contract holds memory for
func TestSliceLenOverrideCapped(t *testing.T) {
	node := newTestNode(t)
	defer node.Close()

	svc, err := node.Service("slice-override").
		RequestResponse(SliceTypeDetailOf[uint32](), SliceTypeDetailOf[uint32]()).
		MaxSliceLen(4).
		Create()
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := svc.Client().InitialMaxSliceLen(8).Create(); !errors.Is(err, ErrInvalidSliceLen) {
		t.Errorf("client override: expected ErrInvalidSliceLen, got %v", err)
	}
	if _, err := svc.Server().InitialMaxSliceLen(8).Create(); !errors.Is(err, ErrInvalidSliceLen) {
		t.Errorf("server override: expected ErrInvalidSliceLen, got %v", err)
	}

	// a smaller override is honored and enforced on loans
	client, err := svc.Client().InitialMaxSliceLen(2).Create()
	if err != nil {
		t.Fatalf("client with smaller override failed: %v", err)
	}
	if _, err := client.LoanSliceUninit(3); !errors.Is(err, ErrInvalidSliceLen) {
		t.Errorf("loan past the override: expected ErrInvalidSliceLen, got %v", err)
	}
}
