package rr

import (
	"sync/atomic"

	"github.com/ferryipc/ferry/lib/arena"
	"github.com/ferryipc/ferry/lib/queue"
)

// --------------------------------------------------------------------------
// Active Request
// --------------------------------------------------------------------------

// ActiveRequest is one received request a server is working on. It gives
// read access to the request payload, loans response buffers and streams
// responses back to the requesting client.
//
// The request payload stays loaned until Close; closing signals the client
// that this server finished answering.
type ActiveRequest struct {
	server *Server
	d      *delivery

	// loans counts outstanding response buffers for this request
	loans atomic.Int64

	closed atomic.Bool
}

// Payload returns the request payload. Valid until Close.
func (ar *ActiveRequest) Payload() []byte {
	return ar.d.req.payload
}

// UserHeader returns the request's user header. Valid until Close.
func (ar *ActiveRequest) UserHeader() []byte {
	return ar.d.req.userHeader
}

// Header returns the system header the request was sent with.
func (ar *ActiveRequest) Header() RequestHeader {
	return ar.d.req.header
}

// Origin returns the id of the client port that sent the request.
func (ar *ActiveRequest) Origin() UniqueClientID {
	return ar.d.req.header.Client
}

// IsConnected reports whether the requesting client still awaits
// responses. Sending to a disconnected request is not an error, the
// response is dropped silently.
func (ar *ActiveRequest) IsConnected() bool {
	req := ar.d.req
	return req.pendingAlive.Load() && !req.client.closed.Load()
}

// Close finishes the request unanswered from this point on: the payload
// loan is returned and the client's server connection count drops. Safe to
// call more than once.
func (ar *ActiveRequest) Close() {
	if !ar.closed.CompareAndSwap(false, true) {
		return
	}
	ar.server.borrows.Add(-1)
	ar.server.forgetActive(ar)
	ar.d.finishActive()
}

// --------------------------------------------------------------------------
// Response Loans
// --------------------------------------------------------------------------

func (ar *ActiveRequest) loanRaw(payloadLen int) (*ResponseMutUninit, error) {
	if ar.closed.Load() {
		return nil, ErrActiveRequestClosed
	}
	if ar.loans.Add(1) > ar.server.maxLoans {
		ar.loans.Add(-1)
		return nil, arena.LoanErrExceedsMaxLoans
	}

	cfg := &ar.server.shared.cfg
	hdrSize := int(cfg.ResponseHeader.Size)
	hdrOff := int(alignUp(cfg.ResponseHeader.Size, 8))

	loan, err := ar.server.shared.respSlab.Loan(hdrOff + payloadLen)
	if err != nil {
		ar.loans.Add(-1)
		return nil, err
	}

	buf := loan.Bytes()
	return &ResponseMutUninit{inner: ResponseMut{
		ar:         ar,
		loan:       loan,
		userHeader: buf[:hdrSize],
		payload:    buf[hdrOff:],
	}}, nil
}

// LoanUninit reserves a response buffer for one fixed-size payload value.
// The payload content is unspecified until written.
func (ar *ActiveRequest) LoanUninit() (*ResponseMutUninit, error) {
	if ar.server.shared.cfg.ResponsePayload.Variant != FixedSize {
		return nil, ErrIncompatiblePayloadVariant
	}
	return ar.loanRaw(int(ar.server.shared.cfg.ResponsePayload.Size))
}

// Loan reserves a response buffer for one fixed-size payload value and
// zeroes it.
func (ar *ActiveRequest) Loan() (*ResponseMut, error) {
	u, err := ar.LoanUninit()
	if err != nil {
		return nil, err
	}
	clear(u.inner.payload)
	clear(u.inner.userHeader)
	return u.AssumeInit(), nil
}

// LoanSliceUninit reserves a response buffer for a slice payload of n
// elements. The payload content is unspecified until written.
func (ar *ActiveRequest) LoanSliceUninit(n int) (*ResponseMutUninit, error) {
	if ar.server.shared.cfg.ResponsePayload.Variant != Dynamic {
		return nil, ErrIncompatiblePayloadVariant
	}
	if n < 1 || n > ar.server.maxSliceLen {
		return nil, ErrInvalidSliceLen
	}
	return ar.loanRaw(n * int(ar.server.shared.cfg.ResponsePayload.Size))
}

// LoanSlice reserves a response buffer for a slice payload of n elements
// and zeroes it.
func (ar *ActiveRequest) LoanSlice(n int) (*ResponseMut, error) {
	u, err := ar.LoanSliceUninit(n)
	if err != nil {
		return nil, err
	}
	clear(u.inner.payload)
	clear(u.inner.userHeader)
	return u.AssumeInit(), nil
}

// SendCopy loans a response buffer, copies payload into it and sends it.
func (ar *ActiveRequest) SendCopy(payload []byte) error {
	cfg := &ar.server.shared.cfg

	var u *ResponseMutUninit
	var err error
	if cfg.ResponsePayload.Variant == Dynamic {
		elem := int(cfg.ResponsePayload.Size)
		if elem == 0 || len(payload)%elem != 0 {
			return ErrInvalidSliceLen
		}
		u, err = ar.LoanSliceUninit(len(payload) / elem)
	} else {
		u, err = ar.LoanUninit()
	}
	if err != nil {
		return err
	}

	copy(u.inner.payload, payload)
	clear(u.inner.userHeader)
	m := u.AssumeInit()
	if err := m.Send(); err != nil {
		m.Close()
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Sending
// --------------------------------------------------------------------------

// sendResponse delivers one written response into the request's buffer.
// A disconnected client is not an error: the response is dropped silently.
// On a genuine error the buffer stays usable for a retry.
func (ar *ActiveRequest) sendResponse(m *ResponseMut) error {
	if ar.closed.Load() {
		return ErrActiveRequestClosed
	}

	shared := ar.server.shared

	if !ar.IsConnected() {
		m.markConsumed()
		ar.loans.Add(-1)
		m.loan.Release()
		shared.responsesDropped.Inc()
		return nil
	}

	resp := &response{
		header:     ResponseHeader{Server: ar.server.id},
		loan:       m.loan,
		userHeader: m.userHeader,
		payload:    m.payload,
	}

	evicted, res := ar.d.req.responses.Push(resp)
	switch res {
	case queue.Rejected:
		if ar.server.strategy == Block {
			return RespSendErrExceedsMaxResponseBuffer
		}
		m.markConsumed()
		ar.loans.Add(-1)
		m.loan.Release()
		shared.responsesDropped.Inc()
		return nil
	case queue.PushedEvicted:
		evicted.release()
	}

	m.markConsumed()
	ar.loans.Add(-1)
	shared.responsesSent.Inc()
	return nil
}

// --------------------------------------------------------------------------
// Typed Views
// --------------------------------------------------------------------------

// ActivePayloadOf returns the payload of a received request as a typed
// value. The pointer is valid until the active request is closed.
func ActivePayloadOf[T any](ar *ActiveRequest) *T {
	return PayloadAs[T](ar.Payload())
}

// ActiveUserHeaderOf returns the user header of a received request as a
// typed value.
func ActiveUserHeaderOf[H any](ar *ActiveRequest) *H {
	return PayloadAs[H](ar.UserHeader())
}

// RespondCopyAs loans a response, copies value into its payload and sends
// it.
func RespondCopyAs[T any](ar *ActiveRequest, value T) error {
	u, err := ar.LoanUninit()
	if err != nil {
		return err
	}
	m := u.AssumeInit()
	*PayloadAs[T](m.payload) = value
	clear(m.userHeader)
	if err := m.Send(); err != nil {
		m.Close()
		return err
	}
	return nil
}
