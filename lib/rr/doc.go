// Package rr implements ferry's request-response messaging core: typed
// services, client and server ports, loaned zero-copy payload buffers and
// the correlation handles that tie one sent request to its streamed
// responses.
//
// Data flow:
//
//	Client.LoanUninit() -> write payload -> RequestMut.Send()
//	  -> request channel (bounded, per client-server connection)
//	  -> Server.Receive() yields ActiveRequest
//	  -> ActiveRequest loans/writes/sends zero or more responses
//	  -> response channel (bounded, per request)
//	  -> PendingResponse.Receive() yields the responses in send order
//
// The core is strictly poll-based: Receive on either side never suspends,
// absence of data is a first-class non-error outcome. Waiting belongs to
// the caller (spin, ticker, or an external reactor), not to this layer.
//
// Every port is single-writer: one goroutine drives a Client or Server at
// a time. Different ports of the same service may be driven from different
// goroutines (or processes of a shared runtime) concurrently; the
// channels, loan pools and the service directory are safe for that.
//
// All fallible operations return typed errors (one variant per
// distinguishable failure mode, see errors.go); callers branch on cause,
// never on message strings.
package rr
