package rr

import (
	"sync/atomic"
	"unsafe"
)

// --------------------------------------------------------------------------
// Pending Response
// --------------------------------------------------------------------------

// PendingResponse is the client-side handle of one sent request. It keeps
// the request payload loaned, receives the responses in send order and
// tracks which servers can still answer.
//
// Closing it signals lost interest: responses not yet received are
// discarded and servers stop delivering new ones for this request.
type PendingResponse struct {
	req    *request
	closed atomic.Bool
}

// Receive returns the next buffered response. The boolean is false if no
// response is buffered right now; that is not an error.
func (p *PendingResponse) Receive() (*Response, bool, error) {
	if p.closed.Load() {
		return nil, false, ErrPendingResponseClosed
	}

	resp, ok := p.req.responses.Pop()
	if !ok {
		return nil, false, nil
	}
	return &Response{resp: resp}, true, nil
}

// HasResponse reports whether a response is buffered right now.
func (p *PendingResponse) HasResponse() (bool, error) {
	if p.closed.Load() {
		return false, ErrPendingResponseClosed
	}
	return p.req.responses.Len() > 0, nil
}

// NumberOfServerConnections returns how many deliveries of the request can
// still yield responses: servers that hold it active plus copies still
// queued.
func (p *PendingResponse) NumberOfServerConnections() int {
	return int(p.req.producers.Load())
}

// IsConnected reports whether at least one server can still answer.
func (p *PendingResponse) IsConnected() bool {
	return !p.closed.Load() &&
		!p.req.client.closed.Load() &&
		p.req.producers.Load() > 0
}

// Header returns the system header the request was sent with.
func (p *PendingResponse) Header() RequestHeader {
	return p.req.header
}

// RequestID returns the per-client id of the sent request.
func (p *PendingResponse) RequestID() uint64 {
	return p.req.header.RequestID
}

// Payload returns the sent request payload. Valid until Close.
func (p *PendingResponse) Payload() []byte {
	return p.req.payload
}

// UserHeader returns the sent request's user header. Valid until Close.
func (p *PendingResponse) UserHeader() []byte {
	return p.req.userHeader
}

// Close drops interest in further responses. Buffered responses are
// discarded; servers still working on the request observe the disconnect
// and their future sends for it are dropped silently.
func (p *PendingResponse) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.req.pendingAlive.Store(false)
	p.req.responses.Drain(func(r *response) { r.release() })
	p.req.unref()
}

// --------------------------------------------------------------------------
// Received Response
// --------------------------------------------------------------------------

// Response is one received response. The payload stays loaned until Close.
type Response struct {
	resp   *response
	closed atomic.Bool
}

// Payload returns the response payload. Valid until Close.
func (r *Response) Payload() []byte {
	return r.resp.payload
}

// UserHeader returns the response's user header. Valid until Close.
func (r *Response) UserHeader() []byte {
	return r.resp.userHeader
}

// Origin returns the id of the server port that sent the response.
func (r *Response) Origin() UniqueServerID {
	return r.resp.header.Server
}

// Close releases the response buffer. Safe to call more than once.
func (r *Response) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.resp.release()
}

// --------------------------------------------------------------------------
// Typed Views
// --------------------------------------------------------------------------

// ResponsePayloadOf returns the payload of a received response as a typed
// value. The pointer is valid until the response is closed.
func ResponsePayloadOf[T any](r *Response) *T {
	return PayloadAs[T](r.Payload())
}

// ResponseUserHeaderOf returns the user header of a received response as a
// typed value.
func ResponseUserHeaderOf[H any](r *Response) *H {
	return PayloadAs[H](r.UserHeader())
}

// ResponsePayloadSliceOf returns the payload of a received response as a
// typed slice; the element count is derived from the payload length.
func ResponsePayloadSliceOf[T any](r *Response) []T {
	var v T
	elem := unsafe.Sizeof(v)
	if elem == 0 {
		return nil
	}
	return PayloadAsSlice[T](r.Payload(), len(r.Payload())/int(elem))
}
