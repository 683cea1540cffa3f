package rr

import (
	"sync/atomic"

	"github.com/ferryipc/ferry/lib/arena"
)

// --------------------------------------------------------------------------
// Loaned Requests
// --------------------------------------------------------------------------

// RequestMut is a loaned, writable request buffer. Send and Close both
// consume it; any use afterwards is a bug and panics.
type RequestMut struct {
	client *Client

	loan       *arena.Loan
	userHeader []byte
	payload    []byte

	consumed atomic.Bool
}

func (m *RequestMut) check() {
	if m.consumed.Load() {
		panic("rr: use of consumed request")
	}
}

func (m *RequestMut) markConsumed() {
	if !m.consumed.CompareAndSwap(false, true) {
		panic("rr: request already consumed")
	}
}

// Payload returns the writable payload bytes of the loaned buffer.
func (m *RequestMut) Payload() []byte {
	m.check()
	return m.payload
}

// UserHeader returns the writable user header bytes of the loaned buffer.
func (m *RequestMut) UserHeader() []byte {
	m.check()
	return m.userHeader
}

// Send delivers the request to every connected server and consumes the
// buffer. If the send fails the buffer stays usable, so the caller can
// retry without loaning and writing again.
func (m *RequestMut) Send() (*PendingResponse, error) {
	m.check()
	return m.client.send(m)
}

// Close releases a request that will not be sent. The payload never
// reaches any server.
func (m *RequestMut) Close() {
	if !m.consumed.CompareAndSwap(false, true) {
		return
	}
	m.loan.Release()
	m.client.loans.Add(-1)
}

// --------------------------------------------------------------------------
// Uninitialized Loans
// --------------------------------------------------------------------------

// RequestMutUninit is a loaned request buffer whose payload has not been
// initialized yet. Writing the payload (or asserting that it was written)
// turns it into a sendable RequestMut.
type RequestMutUninit struct {
	inner RequestMut
}

// Payload returns the uninitialized payload bytes for writing.
func (u *RequestMutUninit) Payload() []byte {
	u.inner.check()
	return u.inner.payload
}

// UserHeader returns the user header bytes for writing.
func (u *RequestMutUninit) UserHeader() []byte {
	u.inner.check()
	return u.inner.userHeader
}

// WritePayload copies b into the payload buffer and finalizes the loan.
func (u *RequestMutUninit) WritePayload(b []byte) *RequestMut {
	u.inner.check()
	copy(u.inner.payload, b)
	clear(u.inner.userHeader)
	return &u.inner
}

// WriteFromFn fills every payload byte from fn and finalizes the loan.
func (u *RequestMutUninit) WriteFromFn(fn func(i int) byte) *RequestMut {
	u.inner.check()
	for i := range u.inner.payload {
		u.inner.payload[i] = fn(i)
	}
	clear(u.inner.userHeader)
	return &u.inner
}

// AssumeInit finalizes the loan without touching the buffer. The caller
// asserts that every payload byte was written.
func (u *RequestMutUninit) AssumeInit() *RequestMut {
	u.inner.check()
	return &u.inner
}

// Close releases a loan that will not be sent.
func (u *RequestMutUninit) Close() {
	u.inner.Close()
}

// --------------------------------------------------------------------------
// Typed Views
// --------------------------------------------------------------------------

// RequestPayloadOf returns the payload of a loaned request as a typed
// value. The pointer writes straight into the loaned buffer.
func RequestPayloadOf[T any](m *RequestMut) *T {
	return PayloadAs[T](m.Payload())
}

// RequestUserHeaderOf returns the user header of a loaned request as a
// typed value.
func RequestUserHeaderOf[H any](m *RequestMut) *H {
	return PayloadAs[H](m.UserHeader())
}

// SendCopyAs loans a request, copies value into its payload and sends it.
func SendCopyAs[T any](c *Client, value T) (*PendingResponse, error) {
	u, err := c.LoanUninit()
	if err != nil {
		return nil, err
	}
	m := u.AssumeInit()
	*PayloadAs[T](m.payload) = value
	clear(m.userHeader)
	resp, err := m.Send()
	if err != nil {
		m.Close()
		return nil, err
	}
	return resp, nil
}

// SendSliceCopyAs loans a slice request, copies values into its payload and
// sends it.
func SendSliceCopyAs[T any](c *Client, values []T) (*PendingResponse, error) {
	u, err := c.LoanSliceUninit(len(values))
	if err != nil {
		return nil, err
	}
	m := u.AssumeInit()
	copy(PayloadAsSlice[T](m.payload, len(values)), values)
	clear(m.userHeader)
	resp, err := m.Send()
	if err != nil {
		m.Close()
		return nil, err
	}
	return resp, nil
}
