package rr

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ferryipc/ferry/lib/arena"
	"github.com/ferryipc/ferry/lib/directory"
)

var log = logger.GetLogger("ferry/rr")

// --------------------------------------------------------------------------
// Shared Service State
// --------------------------------------------------------------------------

// serviceShared is the state every participant of one service attaches to.
// It is created once by the creating node, stored as the directory entry's
// shared handle and destroyed when the last participant detaches.
type serviceShared struct {
	name string
	cfg  Config

	clients *xsync.MapOf[UniquePortID, *Client]
	servers *xsync.MapOf[UniquePortID, *Server]

	numClients atomic.Int64
	numServers atomic.Int64

	// topoMu serializes port registration against connection wiring so a
	// client and a server appearing at the same time end up with exactly
	// one connection between them
	topoMu sync.Mutex

	nodesMu sync.Mutex
	nodes   map[*Node]int

	reqSlab  *arena.Slab
	respSlab *arena.Slab

	requestsSent     *metrics.Counter
	requestsDropped  *metrics.Counter
	requestsEvicted  *metrics.Counter
	responsesSent    *metrics.Counter
	responsesDropped *metrics.Counter
}

// alignUp rounds n up to the next multiple of align.
func alignUp(n, align uint64) uint64 {
	if align == 0 {
		return n
	}
	return (n + align - 1) / align * align
}

// payloadCap returns the byte capacity one message slot needs for the
// payload described by d.
func payloadCap(d TypeDetail, maxSliceLen int) uint64 {
	if d.Variant == Dynamic {
		return d.Size * uint64(maxSliceLen)
	}
	return d.Size
}

func newServiceShared(name string, cfg Config) *serviceShared {
	// one slot holds the user header followed by the payload, the payload
	// aligned past the header
	reqSlot := alignUp(cfg.RequestHeader.Size, 8) + payloadCap(cfg.RequestPayload, cfg.MaxSliceLen)
	respSlot := alignUp(cfg.ResponseHeader.Size, 8) + payloadCap(cfg.ResponsePayload, cfg.MaxSliceLen)

	// worst case request slots: every client holds its full loan budget
	// while every connection's in-flight window is full
	reqSlots := cfg.MaxClients * (cfg.MaxLoanedRequests + cfg.MaxActiveRequestsPerClient*cfg.MaxServers)

	// worst case response slots: every in-flight request buffers a full
	// response window while every server holds its full loan budget
	inflight := cfg.MaxClients * cfg.MaxServers * cfg.MaxActiveRequestsPerClient
	respSlots := inflight * (cfg.MaxResponseBufferSize + cfg.MaxLoanedResponsesPerRequest)

	s := &serviceShared{
		name:    name,
		cfg:     cfg,
		clients: xsync.NewMapOf[UniquePortID, *Client](),
		servers: xsync.NewMapOf[UniquePortID, *Server](),
		nodes:   make(map[*Node]int),

		reqSlab:  arena.New(name+"/requests", int(reqSlot), reqSlots, 0),
		respSlab: arena.New(name+"/responses", int(respSlot), respSlots, 0),

		requestsSent:     metrics.GetOrCreateCounter(fmt.Sprintf(`ferry_requests_sent_total{service=%q}`, name)),
		requestsDropped:  metrics.GetOrCreateCounter(fmt.Sprintf(`ferry_requests_dropped_total{service=%q}`, name)),
		requestsEvicted:  metrics.GetOrCreateCounter(fmt.Sprintf(`ferry_requests_evicted_total{service=%q}`, name)),
		responsesSent:    metrics.GetOrCreateCounter(fmt.Sprintf(`ferry_responses_sent_total{service=%q}`, name)),
		responsesDropped: metrics.GetOrCreateCounter(fmt.Sprintf(`ferry_responses_dropped_total{service=%q}`, name)),
	}
	return s
}

// --------------------------------------------------------------------------
// Port Registration
// --------------------------------------------------------------------------

func (s *serviceShared) registerClient(c *Client) error {
	s.topoMu.Lock()
	defer s.topoMu.Unlock()

	if int(s.numClients.Load()) >= s.cfg.MaxClients {
		return ErrExceedsMaxClients
	}
	s.numClients.Add(1)
	s.clients.Store(c.id, c)

	s.servers.Range(func(_ UniquePortID, srv *Server) bool {
		conn := newConnection(c, srv, s.cfg.MaxActiveRequestsPerClient)
		c.conns.Store(srv.id, conn)
		srv.addConn(conn)
		return true
	})

	log.Debugf("service %q: client %s connected", s.name, c.id)
	return nil
}

func (s *serviceShared) deregisterClient(c *Client) {
	s.topoMu.Lock()
	defer s.topoMu.Unlock()

	s.clients.Delete(c.id)
	s.numClients.Add(-1)

	c.conns.Range(func(srvID UniquePortID, conn *connection) bool {
		conn.server.removeConn(conn)
		conn.queue.Drain(func(d *delivery) { d.cancelQueued() })
		c.conns.Delete(srvID)
		return true
	})

	log.Debugf("service %q: client %s disconnected", s.name, c.id)
}

func (s *serviceShared) registerServer(srv *Server) error {
	s.topoMu.Lock()
	defer s.topoMu.Unlock()

	if int(s.numServers.Load()) >= s.cfg.MaxServers {
		return ErrExceedsMaxServers
	}
	s.numServers.Add(1)
	s.servers.Store(srv.id, srv)

	s.clients.Range(func(_ UniquePortID, c *Client) bool {
		conn := newConnection(c, srv, s.cfg.MaxActiveRequestsPerClient)
		c.conns.Store(srv.id, conn)
		srv.addConn(conn)
		return true
	})

	log.Debugf("service %q: server %s connected", s.name, srv.id)
	return nil
}

func (s *serviceShared) deregisterServer(srv *Server) {
	s.topoMu.Lock()
	defer s.topoMu.Unlock()

	s.servers.Delete(srv.id)
	s.numServers.Add(-1)

	for _, conn := range srv.snapshotConns() {
		conn.client.conns.Delete(srv.id)
		conn.queue.Drain(func(d *delivery) { d.cancelQueued() })
		srv.removeConn(conn)
	}

	log.Debugf("service %q: server %s disconnected", s.name, srv.id)
}

// --------------------------------------------------------------------------
// Node Accounting
// --------------------------------------------------------------------------

func (s *serviceShared) attachNode(n *Node) error {
	s.nodesMu.Lock()
	defer s.nodesMu.Unlock()

	if _, known := s.nodes[n]; !known && len(s.nodes) >= s.cfg.MaxNodes {
		return OpenErrExceedsMaxNumberOfNodes
	}
	s.nodes[n]++
	return nil
}

func (s *serviceShared) detachNode(n *Node) {
	s.nodesMu.Lock()
	defer s.nodesMu.Unlock()

	if s.nodes[n] <= 1 {
		delete(s.nodes, n)
		return
	}
	s.nodes[n]--
}

// --------------------------------------------------------------------------
// Service Handle
// --------------------------------------------------------------------------

// Service is one participant's handle to a request-response service. It is
// the factory for client and server ports; closing it detaches from the
// service, and the last handle to detach destroys the service.
type Service struct {
	shared *serviceShared
	entry  *directory.Entry
	node   *Node

	closed atomic.Bool
}

// Name returns the service name.
func (s *Service) Name() string { return s.shared.name }

// StaticConfig returns the static contract the service runs with. For
// opened services this is the creator's configuration, not the opener's
// request.
func (s *Service) StaticConfig() Config { return s.shared.cfg }

// NumberOfClients returns the current number of connected client ports.
func (s *Service) NumberOfClients() int { return int(s.shared.numClients.Load()) }

// NumberOfServers returns the current number of connected server ports.
func (s *Service) NumberOfServers() int { return int(s.shared.numServers.Load()) }

// Client returns a builder for a new client port of this service.
func (s *Service) Client() *ClientBuilder {
	return &ClientBuilder{
		svc:         s,
		strategy:    s.shared.cfg.RequestUnableToDeliver,
		maxLoans:    s.shared.cfg.MaxLoanedRequests,
		maxSliceLen: s.shared.cfg.MaxSliceLen,
	}
}

// Server returns a builder for a new server port of this service.
func (s *Service) Server() *ServerBuilder {
	return &ServerBuilder{
		svc:      s,
		strategy: s.shared.cfg.ResponseUnableToDeliver,
		maxLoans: s.shared.cfg.MaxLoanedResponsesPerRequest,
	}
}

// Close detaches this handle from the service. Ports created from it stay
// functional until closed themselves; the service is destroyed when the
// last handle and port detached.
func (s *Service) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.shared.detachNode(s.node)
	s.node.forgetService(s)
	s.entry.Detach()
}
