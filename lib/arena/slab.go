package arena

import (
	"fmt"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Error Types
// --------------------------------------------------------------------------

// LoanError is the typed error for failed loans.
type LoanError uint8

const (
	// LoanErrOutOfMemory: all slots of the slab are currently loaned or
	// in flight.
	LoanErrOutOfMemory LoanError = iota
	// LoanErrExceedsMaxLoanSize: the requested size does not fit a slot.
	LoanErrExceedsMaxLoanSize
	// LoanErrExceedsMaxLoans: the caller already holds the configured
	// maximum number of concurrent loans.
	LoanErrExceedsMaxLoans
)

func (e LoanError) Error() string {
	switch e {
	case LoanErrOutOfMemory:
		return "arena: out of memory, all slots loaned"
	case LoanErrExceedsMaxLoanSize:
		return "arena: requested size exceeds max loan size"
	case LoanErrExceedsMaxLoans:
		return "arena: exceeds max number of concurrent loans"
	default:
		return "arena: unknown loan error"
	}
}

// --------------------------------------------------------------------------
// Slab
// --------------------------------------------------------------------------

// Slab is a pool of equally sized payload slots.
//
// Thread-safety: all methods are safe for concurrent use.
type Slab struct {
	name     string
	slotSize int
	maxLoans int64

	free        chan []byte
	outstanding atomic.Int64
	loansGauge  *metrics.Gauge
}

// New creates a slab with slotCount slots of slotSize bytes each.
// maxLoans caps the number of concurrently outstanding loans; a value
// of 0 or less means "as many as there are slots".
func New(name string, slotSize, slotCount, maxLoans int) *Slab {
	if slotCount < 1 {
		slotCount = 1
	}
	if slotSize < 1 {
		slotSize = 1
	}
	if maxLoans <= 0 || maxLoans > slotCount {
		maxLoans = slotCount
	}

	s := &Slab{
		name:     name,
		slotSize: slotSize,
		maxLoans: int64(maxLoans),
		free:     make(chan []byte, slotCount),
	}

	// pre-allocate all slots, the slab never grows afterwards
	for i := 0; i < slotCount; i++ {
		s.free <- make([]byte, slotSize)
	}

	s.loansGauge = metrics.GetOrCreateGauge(
		fmt.Sprintf(`ferry_arena_loans{slab=%q}`, name),
		func() float64 { return float64(s.outstanding.Load()) },
	)

	return s
}

// Loan reserves a slot and returns a handle covering the first size bytes.
// The content of the returned buffer is unspecified until written.
func (s *Slab) Loan(size int) (*Loan, error) {
	if size > s.slotSize {
		return nil, LoanErrExceedsMaxLoanSize
	}

	// reserve a loan slot first so the cap also covers the race between
	// check and take
	if s.outstanding.Add(1) > s.maxLoans {
		s.outstanding.Add(-1)
		return nil, LoanErrExceedsMaxLoans
	}

	select {
	case buf := <-s.free:
		return &Loan{slab: s, buf: buf[:size]}, nil
	default:
		s.outstanding.Add(-1)
		return nil, LoanErrOutOfMemory
	}
}

// SlotSize returns the size of a single slot in bytes.
func (s *Slab) SlotSize() int {
	return s.slotSize
}

// Outstanding returns the number of currently loaned slots.
func (s *Slab) Outstanding() int {
	return int(s.outstanding.Load())
}

// release returns a slot to the free list.
func (s *Slab) release(buf []byte) {
	s.outstanding.Add(-1)
	s.free <- buf[:cap(buf)]
}

// --------------------------------------------------------------------------
// Loan
// --------------------------------------------------------------------------

// Loan is a handle to one reserved slot.
type Loan struct {
	slab     *Slab
	buf      []byte
	released atomic.Bool
}

// Bytes returns the loaned buffer. The slice stays valid until Release.
func (l *Loan) Bytes() []byte {
	return l.buf
}

// Release returns the slot to its slab. Safe to call more than once.
func (l *Loan) Release() {
	if l == nil || !l.released.CompareAndSwap(false, true) {
		return
	}
	l.slab.release(l.buf)
}
