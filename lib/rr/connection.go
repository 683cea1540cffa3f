package rr

import (
	"sync/atomic"

	"github.com/ferryipc/ferry/lib/arena"
	"github.com/ferryipc/ferry/lib/queue"
)

// --------------------------------------------------------------------------
// In-Flight Request State
// --------------------------------------------------------------------------

// request is the shared state of one sent request. It lives from Send until
// both the client dropped its PendingResponse and every server finished its
// delivery; the last reference releases the payload loan and every response
// still buffered.
type request struct {
	svc    *serviceShared
	header RequestHeader

	loan       *arena.Loan
	userHeader []byte
	payload    []byte

	// responses buffered for the client, fed by all connected servers
	responses *queue.Ring[*response]

	// producers counts deliveries that can still yield responses
	producers atomic.Int64
	// pendingAlive is true while the client still holds the
	// PendingResponse handle of this request
	pendingAlive atomic.Bool

	client *Client

	refs atomic.Int64
}

func (r *request) ref() {
	r.refs.Add(1)
}

func (r *request) unref() {
	if r.refs.Add(-1) > 0 {
		return
	}
	r.responses.Drain(func(resp *response) { resp.release() })
	r.loan.Release()
}

// response is one delivered response, buffered until the client picks it up.
type response struct {
	header     ResponseHeader
	loan       *arena.Loan
	userHeader []byte
	payload    []byte
}

func (r *response) release() {
	r.loan.Release()
}

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

// connection is the bounded request channel between one client and one
// server. The client enqueues, the server dequeues; both ends account the
// in-flight window.
type connection struct {
	client *Client
	server *Server

	queue *queue.Ring[*delivery]

	// inflight counts deliveries that are queued or active but not yet
	// finished, bounded by the in-flight window of the service
	inflight atomic.Int64
}

func newConnection(c *Client, s *Server, window int) *connection {
	return &connection{
		client: c,
		server: s,
		queue:  queue.NewRing[*delivery](window, queue.Reject),
	}
}

// Delivery states. Queued deliveries can be cancelled by safe overflow or
// teardown; active deliveries are owned by the server until finished.
const (
	dQueued uint32 = iota
	dActive
	dDone
)

// delivery is one request's position in one connection.
type delivery struct {
	req   *request
	conn  *connection
	state atomic.Uint32
}

// activate claims a queued delivery for the server. Reports false if the
// delivery was cancelled in the meantime.
func (d *delivery) activate() bool {
	return d.state.CompareAndSwap(dQueued, dActive)
}

// cancelQueued retires a still-queued delivery, used by safe overflow and
// port teardown. Reports whether this call won the transition.
func (d *delivery) cancelQueued() bool {
	if !d.state.CompareAndSwap(dQueued, dDone) {
		return false
	}
	d.retire()
	return true
}

// finishActive retires a delivery the server finished working on.
func (d *delivery) finishActive() bool {
	if !d.state.CompareAndSwap(dActive, dDone) {
		return false
	}
	d.retire()
	return true
}

func (d *delivery) retire() {
	d.conn.inflight.Add(-1)
	d.req.producers.Add(-1)
	d.req.unref()
}
