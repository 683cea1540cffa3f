package rr

import (
	"sync/atomic"

	"github.com/ferryipc/ferry/lib/arena"
)

// --------------------------------------------------------------------------
// Loaned Responses
// --------------------------------------------------------------------------

// ResponseMut is a loaned, writable response buffer bound to one active
// request. Send and Close both consume it; any use afterwards is a bug and
// panics.
type ResponseMut struct {
	ar *ActiveRequest

	loan       *arena.Loan
	userHeader []byte
	payload    []byte

	consumed atomic.Bool
}

func (m *ResponseMut) check() {
	if m.consumed.Load() {
		panic("rr: use of consumed response")
	}
}

func (m *ResponseMut) markConsumed() {
	if !m.consumed.CompareAndSwap(false, true) {
		panic("rr: response already consumed")
	}
}

// Payload returns the writable payload bytes of the loaned buffer.
func (m *ResponseMut) Payload() []byte {
	m.check()
	return m.payload
}

// UserHeader returns the writable user header bytes of the loaned buffer.
func (m *ResponseMut) UserHeader() []byte {
	m.check()
	return m.userHeader
}

// Send delivers the response to the requesting client and consumes the
// buffer. If the send fails the buffer stays usable, so the caller can
// retry without loaning and writing again.
func (m *ResponseMut) Send() error {
	m.check()
	return m.ar.sendResponse(m)
}

// Close releases a response that will not be sent.
func (m *ResponseMut) Close() {
	if !m.consumed.CompareAndSwap(false, true) {
		return
	}
	m.loan.Release()
	m.ar.loans.Add(-1)
}

// --------------------------------------------------------------------------
// Uninitialized Loans
// --------------------------------------------------------------------------

// ResponseMutUninit is a loaned response buffer whose payload has not been
// initialized yet.
type ResponseMutUninit struct {
	inner ResponseMut
}

// Payload returns the uninitialized payload bytes for writing.
func (u *ResponseMutUninit) Payload() []byte {
	u.inner.check()
	return u.inner.payload
}

// UserHeader returns the user header bytes for writing.
func (u *ResponseMutUninit) UserHeader() []byte {
	u.inner.check()
	return u.inner.userHeader
}

// WritePayload copies b into the payload buffer and finalizes the loan.
func (u *ResponseMutUninit) WritePayload(b []byte) *ResponseMut {
	u.inner.check()
	copy(u.inner.payload, b)
	clear(u.inner.userHeader)
	return &u.inner
}

// WriteFromFn fills every payload byte from fn and finalizes the loan.
func (u *ResponseMutUninit) WriteFromFn(fn func(i int) byte) *ResponseMut {
	u.inner.check()
	for i := range u.inner.payload {
		u.inner.payload[i] = fn(i)
	}
	clear(u.inner.userHeader)
	return &u.inner
}

// AssumeInit finalizes the loan without touching the buffer. The caller
// asserts that every payload byte was written.
func (u *ResponseMutUninit) AssumeInit() *ResponseMut {
	u.inner.check()
	return &u.inner
}

// Close releases a loan that will not be sent.
func (u *ResponseMutUninit) Close() {
	u.inner.Close()
}

// --------------------------------------------------------------------------
// Typed Views
// --------------------------------------------------------------------------

// ResponseMutPayloadOf returns the payload of a loaned response as a typed
// value. The pointer writes straight into the loaned buffer.
func ResponseMutPayloadOf[T any](m *ResponseMut) *T {
	return PayloadAs[T](m.Payload())
}

// ResponseMutUserHeaderOf returns the user header of a loaned response as
// a typed value.
func ResponseMutUserHeaderOf[H any](m *ResponseMut) *H {
	return PayloadAs[H](m.UserHeader())
}
