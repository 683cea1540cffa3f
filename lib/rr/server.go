package rr

import (
	"sync"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Server Builder
// --------------------------------------------------------------------------

// ServerBuilder configures a new server port. The zero values come from the
// service contract; the setters override them for this port only.
type ServerBuilder struct {
	svc *Service

	strategy    UnableToDeliverStrategy
	maxLoans    int
	maxSliceLen int
}

// UnableToDeliver overrides the full-buffer strategy of this server.
func (b *ServerBuilder) UnableToDeliver(s UnableToDeliverStrategy) *ServerBuilder {
	b.strategy = s
	return b
}

// MaxLoanedResponsesPerRequest overrides the response loan budget of this
// server. It cannot exceed the service contract.
func (b *ServerBuilder) MaxLoanedResponsesPerRequest(n int) *ServerBuilder {
	b.maxLoans = n
	return b
}

// InitialMaxSliceLen overrides the element budget of Dynamic response loans
// for this server.
func (b *ServerBuilder) InitialMaxSliceLen(n int) *ServerBuilder {
	b.maxSliceLen = n
	return b
}

// Create connects the server port to the service.
func (b *ServerBuilder) Create() (*Server, error) {
	if b.svc.closed.Load() {
		return nil, ErrServiceClosed
	}

	shared := b.svc.shared
	if b.maxLoans > shared.cfg.MaxLoanedResponsesPerRequest {
		return nil, OpenErrDoesNotSupportRequestedAmountOfServerResponseLoans
	}

	maxSliceLen := b.maxSliceLen
	if maxSliceLen > shared.cfg.MaxSliceLen {
		return nil, ErrInvalidSliceLen
	}
	if maxSliceLen == 0 {
		maxSliceLen = shared.cfg.MaxSliceLen
	}

	s := &Server{
		id:          newUniquePortID(),
		shared:      shared,
		strategy:    b.strategy,
		maxLoans:    int64(b.maxLoans),
		maxSliceLen: maxSliceLen,
		borrowCap:   int64(shared.cfg.MaxActiveRequestsPerClient * shared.cfg.MaxClients),
		active:      make(map[*ActiveRequest]struct{}),
	}

	if err := shared.registerServer(s); err != nil {
		return nil, err
	}
	return s, nil
}

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// Server is the request-receiving port of a service.
//
// Thread-safety: a server is single-writer, one goroutine drives it at a
// time. Different ports of the same service may run concurrently.
type Server struct {
	id     UniqueServerID
	shared *serviceShared

	strategy    UnableToDeliverStrategy
	maxLoans    int64
	maxSliceLen int

	// connsMu guards the connection list and the fairness cursor
	connsMu sync.Mutex
	conns   []*connection
	cursor  int

	// borrows counts received but not yet finished requests
	borrows   atomic.Int64
	borrowCap int64

	activeMu sync.Mutex
	active   map[*ActiveRequest]struct{}

	closed atomic.Bool
}

// ID returns the unique id of this server port.
func (s *Server) ID() UniqueServerID { return s.id }

// UnableToDeliverStrategy returns the full-buffer strategy of this server.
func (s *Server) UnableToDeliverStrategy() UnableToDeliverStrategy { return s.strategy }

// NumberOfClientConnections returns how many clients this server is
// currently connected to.
func (s *Server) NumberOfClientConnections() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *Server) addConn(conn *connection) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns = append(s.conns, conn)
}

func (s *Server) removeConn(conn *connection) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for i, c := range s.conns {
		if c == conn {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			if s.cursor > i {
				s.cursor--
			}
			return
		}
	}
}

// snapshotConns returns the connections in receive order, starting past the
// fairness cursor and advancing it.
func (s *Server) snapshotConns() []*connection {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()

	n := len(s.conns)
	if n == 0 {
		return nil
	}
	out := make([]*connection, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s.conns[(s.cursor+i)%n])
	}
	s.cursor = (s.cursor + 1) % n
	return out
}

// --------------------------------------------------------------------------
// Receive
// --------------------------------------------------------------------------

// Receive returns the next queued request. Connections are served round
// robin so one busy client cannot starve the others. The boolean is false
// if no request is queued right now; that is not an error.
//
// Requests whose client already dropped its pending response are skipped
// unless the service enables fire-and-forget requests.
func (s *Server) Receive() (*ActiveRequest, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrServerClosed
	}
	if s.borrows.Load() >= s.borrowCap {
		return nil, false, RecvErrExceedsMaxBorrows
	}

	fireAndForget := s.shared.cfg.EnableFireAndForgetRequests

	for _, conn := range s.snapshotConns() {
		for {
			d, ok := conn.queue.Pop()
			if !ok {
				break
			}
			if !d.activate() {
				// withdrawn between enqueue and pop
				continue
			}
			if !fireAndForget && !d.req.pendingAlive.Load() {
				// the client lost interest and the service does not
				// deliver orphaned requests
				d.finishActive()
				continue
			}

			ar := &ActiveRequest{server: s, d: d}
			s.borrows.Add(1)
			s.activeMu.Lock()
			s.active[ar] = struct{}{}
			s.activeMu.Unlock()
			return ar, true, nil
		}
	}

	return nil, false, nil
}

// HasRequests reports whether a request is queued right now.
func (s *Server) HasRequests() (bool, error) {
	if s.closed.Load() {
		return false, ErrServerClosed
	}

	s.connsMu.Lock()
	conns := append([]*connection(nil), s.conns...)
	s.connsMu.Unlock()

	for _, conn := range conns {
		if conn.queue.Len() > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Close disconnects the server. Requests it still holds active are
// finished unanswered; queued requests of its connections are withdrawn.
func (s *Server) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.shared.deregisterServer(s)

	s.activeMu.Lock()
	open := make([]*ActiveRequest, 0, len(s.active))
	for ar := range s.active {
		open = append(open, ar)
	}
	s.activeMu.Unlock()

	for _, ar := range open {
		ar.Close()
	}
}

func (s *Server) forgetActive(ar *ActiveRequest) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	delete(s.active, ar)
}
