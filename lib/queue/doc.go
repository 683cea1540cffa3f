// Package queue provides a bounded, generic FIFO ring buffer with an explicit
// full-queue policy. It is the channel primitive underneath ferry's request
// and response delivery: every (client, server) connection owns one ring for
// requests and every in-flight request owns one ring for its responses.
//
// Features and Guarantees:
//
//   - Bounded: capacity is fixed at construction time, no hidden growth
//   - FIFO: values are popped in push order
//   - Eviction policy: a full ring either rejects the new value or evicts
//     the oldest one (safe overflow), selected per ring
//   - Thread-Safe: all methods may be called concurrently
//   - Non-Blocking: no method ever suspends the caller; absence of data or
//     space is reported through return values, never through waiting
//
// The ring intentionally trades lock-freedom for a short critical section
// under a mutex: pushes and pops also update per-connection accounting that
// must stay consistent with ring occupancy.
package queue
