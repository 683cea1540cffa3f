// Package arena provides fixed-capacity slot pools for loaned payload
// buffers. A Slab stands in for a sender's shared-memory data segment: a
// loan reserves a slot for writing, sending hands the slot over by
// reference, and releasing returns it to the pool. Payload bytes are never
// copied between loan and delivery.
//
// The package focuses on:
//   - Bounded capacity: a Slab never allocates beyond its configured slot
//     count, exhaustion is reported as a typed error
//   - Loan accounting: concurrent outstanding loans are capped per Slab
//   - Idempotent release: releasing a loan twice is safe
//
// Key Components:
//
//   - Slab: the slot pool itself. Slots are pre-allocated at construction
//     and recycled through an internal free list.
//
//   - Loan: a handle to one reserved slot. The holder writes through
//     Bytes() and eventually calls Release() exactly once (extra calls are
//     ignored). Ownership of a Loan moves with the message it backs.
//
// Outstanding-loan gauges are exported per Slab via VictoriaMetrics under
// ferry_arena_loans{slab="..."}.
package arena
