package rr

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ferryipc/ferry/lib/arena"
	"github.com/ferryipc/ferry/lib/queue"
)

// --------------------------------------------------------------------------
// Client Builder
// --------------------------------------------------------------------------

// ClientBuilder configures a new client port. The zero values come from the
// service contract; the setters override them for this port only.
type ClientBuilder struct {
	svc *Service

	strategy    UnableToDeliverStrategy
	maxLoans    int
	maxSliceLen int
}

// UnableToDeliver overrides the full-channel strategy of this client.
func (b *ClientBuilder) UnableToDeliver(s UnableToDeliverStrategy) *ClientBuilder {
	b.strategy = s
	return b
}

// MaxLoanedRequests overrides the loan budget of this client. It cannot
// exceed the service contract.
func (b *ClientBuilder) MaxLoanedRequests(n int) *ClientBuilder {
	b.maxLoans = n
	return b
}

// InitialMaxSliceLen overrides the element budget of Dynamic payload loans
// for this client.
func (b *ClientBuilder) InitialMaxSliceLen(n int) *ClientBuilder {
	b.maxSliceLen = n
	return b
}

// Create connects the client port to the service.
func (b *ClientBuilder) Create() (*Client, error) {
	if b.svc.closed.Load() {
		return nil, ErrServiceClosed
	}

	shared := b.svc.shared
	maxLoans := b.maxLoans
	if maxLoans > shared.cfg.MaxLoanedRequests {
		return nil, OpenErrDoesNotSupportRequestedAmountOfClientRequestLoans
	}
	// the slabs are sized with the contract's slice length, a larger
	// override could never be served
	if b.maxSliceLen > shared.cfg.MaxSliceLen {
		return nil, ErrInvalidSliceLen
	}

	c := &Client{
		id:          newUniquePortID(),
		shared:      shared,
		strategy:    b.strategy,
		maxLoans:    int64(maxLoans),
		maxSliceLen: b.maxSliceLen,
		conns:       xsync.NewMapOf[UniquePortID, *connection](),
	}

	if err := shared.registerClient(c); err != nil {
		return nil, err
	}
	return c, nil
}

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// Client is the request-sending port of a service.
//
// Thread-safety: a client is single-writer, one goroutine drives it at a
// time. Different ports of the same service may run concurrently.
type Client struct {
	id     UniqueClientID
	shared *serviceShared

	strategy    UnableToDeliverStrategy
	maxLoans    int64
	maxSliceLen int

	conns *xsync.MapOf[UniquePortID, *connection]

	loans         atomic.Int64
	nextRequestID atomic.Uint64

	closed atomic.Bool
}

// ID returns the unique id of this client port.
func (c *Client) ID() UniqueClientID { return c.id }

// UnableToDeliverStrategy returns the full-channel strategy of this client.
func (c *Client) UnableToDeliverStrategy() UnableToDeliverStrategy { return c.strategy }

// MaxSliceLen returns the element budget of this client's Dynamic payload
// loans.
func (c *Client) MaxSliceLen() int { return c.maxSliceLen }

// NumberOfServerConnections returns how many servers this client is
// currently connected to.
func (c *Client) NumberOfServerConnections() int {
	return c.conns.Size()
}

// Close disconnects the client. Queued but not yet received requests are
// withdrawn from every server; requests a server already holds stay valid
// until finished, their responses are discarded.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.shared.deregisterClient(c)
}

// --------------------------------------------------------------------------
// Loans
// --------------------------------------------------------------------------

// takeLoanBudget reserves one loan against the client's budget.
func (c *Client) takeLoanBudget() error {
	if c.loans.Add(1) > c.maxLoans {
		c.loans.Add(-1)
		return arena.LoanErrExceedsMaxLoans
	}
	return nil
}

// loanRaw reserves a request slot covering the user header and payloadLen
// payload bytes.
func (c *Client) loanRaw(payloadLen int) (*RequestMutUninit, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if err := c.takeLoanBudget(); err != nil {
		return nil, err
	}

	hdrSize := int(c.shared.cfg.RequestHeader.Size)
	hdrOff := int(alignUp(c.shared.cfg.RequestHeader.Size, 8))

	loan, err := c.shared.reqSlab.Loan(hdrOff + payloadLen)
	if err != nil {
		c.loans.Add(-1)
		return nil, err
	}

	buf := loan.Bytes()
	return &RequestMutUninit{inner: RequestMut{
		client:     c,
		loan:       loan,
		userHeader: buf[:hdrSize],
		payload:    buf[hdrOff:],
	}}, nil
}

// LoanUninit reserves a request buffer for one fixed-size payload value.
// The payload content is unspecified until written.
func (c *Client) LoanUninit() (*RequestMutUninit, error) {
	if c.shared.cfg.RequestPayload.Variant != FixedSize {
		return nil, ErrIncompatiblePayloadVariant
	}
	return c.loanRaw(int(c.shared.cfg.RequestPayload.Size))
}

// Loan reserves a request buffer for one fixed-size payload value and
// zeroes it.
func (c *Client) Loan() (*RequestMut, error) {
	m, err := c.LoanUninit()
	if err != nil {
		return nil, err
	}
	clear(m.inner.payload)
	clear(m.inner.userHeader)
	return m.AssumeInit(), nil
}

// LoanSliceUninit reserves a request buffer for a slice payload of n
// elements. The payload content is unspecified until written.
func (c *Client) LoanSliceUninit(n int) (*RequestMutUninit, error) {
	if c.shared.cfg.RequestPayload.Variant != Dynamic {
		return nil, ErrIncompatiblePayloadVariant
	}
	if n < 1 || n > c.maxSliceLen {
		return nil, ErrInvalidSliceLen
	}
	return c.loanRaw(n * int(c.shared.cfg.RequestPayload.Size))
}

// LoanSlice reserves a request buffer for a slice payload of n elements and
// zeroes it.
func (c *Client) LoanSlice(n int) (*RequestMut, error) {
	m, err := c.LoanSliceUninit(n)
	if err != nil {
		return nil, err
	}
	clear(m.inner.payload)
	clear(m.inner.userHeader)
	return m.AssumeInit(), nil
}

// SendCopy loans a request buffer, copies payload into it and sends it.
// The convenience path for callers that already hold the bytes; the loan
// APIs avoid the copy.
func (c *Client) SendCopy(payload []byte) (*PendingResponse, error) {
	u, err := c.loanVariant(len(payload))
	if err != nil {
		return nil, err
	}
	m := u.WritePayload(payload)
	resp, err := m.Send()
	if err != nil {
		m.Close()
		return nil, err
	}
	return resp, nil
}

func (c *Client) loanVariant(payloadLen int) (*RequestMutUninit, error) {
	if c.shared.cfg.RequestPayload.Variant == Dynamic {
		elem := int(c.shared.cfg.RequestPayload.Size)
		if elem == 0 || payloadLen%elem != 0 {
			return nil, ErrInvalidSliceLen
		}
		return c.LoanSliceUninit(payloadLen / elem)
	}
	return c.LoanUninit()
}

// --------------------------------------------------------------------------
// Send
// --------------------------------------------------------------------------

// send delivers a written request to every connected server and returns the
// handle that correlates the responses. With the Block strategy a full
// in-flight window fails the whole send and the request stays usable; with
// DiscardSample full windows are skipped silently.
func (c *Client) send(m *RequestMut) (*PendingResponse, error) {
	if c.closed.Load() {
		return nil, SendErrConnectionBrokenSinceSenderNoLongerExists
	}

	cfg := &c.shared.cfg
	window := int64(cfg.MaxActiveRequestsPerClient)
	safeOverflow := cfg.EnableSafeOverflowForRequests

	conns := make([]*connection, 0, 2)
	c.conns.Range(func(_ UniquePortID, conn *connection) bool {
		conns = append(conns, conn)
		return true
	})

	// with Block the send is all-or-nothing: check every window before
	// consuming the request
	if c.strategy == Block {
		for _, conn := range conns {
			blocked := conn.inflight.Load() >= window &&
				!(safeOverflow && conn.queue.Len() > 0)
			if blocked {
				return nil, SendErrExceedsMaxActiveRequests
			}
		}
	}

	m.markConsumed()
	c.loans.Add(-1)

	respPolicy := queue.Reject
	if cfg.EnableSafeOverflowForResponses {
		respPolicy = queue.Overwrite
	}

	req := &request{
		svc: c.shared,
		header: RequestHeader{
			Client:    c.id,
			RequestID: c.nextRequestID.Add(1),
		},
		loan:       m.loan,
		userHeader: m.userHeader,
		payload:    m.payload,
		responses:  queue.NewRing[*response](cfg.MaxResponseBufferSize, respPolicy),
		client:     c,
	}
	req.pendingAlive.Store(true)
	req.refs.Store(1) // held by the PendingResponse

	for _, conn := range conns {
		if c.deliverTo(conn, req, safeOverflow) {
			c.shared.requestsSent.Inc()
		} else {
			c.shared.requestsDropped.Inc()
		}
	}

	return &PendingResponse{req: req}, nil
}

// deliverTo enqueues one delivery on one connection, evicting the oldest
// queued request if the window is full and safe overflow allows it.
func (c *Client) deliverTo(conn *connection, req *request, safeOverflow bool) bool {
	window := int64(conn.queue.Cap())

	for conn.inflight.Add(1) > window {
		conn.inflight.Add(-1)
		if !safeOverflow {
			return false
		}
		old, ok := conn.queue.PopOldest()
		if !ok {
			// every in-flight request is already at the server, nothing
			// left to evict
			return false
		}
		if old.cancelQueued() {
			c.shared.requestsEvicted.Inc()
		}
	}

	req.ref()
	req.producers.Add(1)

	d := &delivery{req: req, conn: conn}
	if _, res := conn.queue.Push(d); res == queue.Rejected {
		// cannot happen while the port is single-writer; recover anyway
		d.cancelQueued()
		return false
	}
	return true
}
