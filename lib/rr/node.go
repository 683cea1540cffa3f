package rr

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ferryipc/ferry/lib/directory"
)

// --------------------------------------------------------------------------
// Node
// --------------------------------------------------------------------------

// NodeOptions configures a new node. The zero value is usable.
type NodeOptions struct {
	// Name labels the node in logs. Empty selects a generated name.
	Name string
	// Registry is the service directory the node resolves names against.
	// Nil selects the process-wide default registry.
	Registry *directory.Registry
}

// Node is the entry point into ferry. It owns the service handles built
// from it; closing the node closes them all.
type Node struct {
	name     string
	registry *directory.Registry

	mu       sync.Mutex
	services map[*Service]struct{}

	closed atomic.Bool
}

var nodeSeq atomic.Uint64

// NewNode creates a node.
func NewNode(opts NodeOptions) *Node {
	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("node-%d", nodeSeq.Add(1))
	}
	reg := opts.Registry
	if reg == nil {
		reg = directory.Default()
	}
	return &Node{
		name:     name,
		registry: reg,
		services: make(map[*Service]struct{}),
	}
}

// Name returns the node's name.
func (n *Node) Name() string { return n.name }

// Service starts building a service handle for the given name.
func (n *Node) Service(name string) *ServiceBuilder {
	return &ServiceBuilder{node: n, name: name}
}

// Close closes the node and every service handle built from it.
func (n *Node) Close() {
	if !n.closed.CompareAndSwap(false, true) {
		return
	}

	n.mu.Lock()
	open := make([]*Service, 0, len(n.services))
	for svc := range n.services {
		open = append(open, svc)
	}
	n.mu.Unlock()

	for _, svc := range open {
		svc.Close()
	}
	log.Debugf("node %q closed, %d services released", n.name, len(open))
}

func (n *Node) isClosed() bool {
	return n.closed.Load()
}

func (n *Node) trackService(svc *Service) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.services[svc] = struct{}{}
}

func (n *Node) forgetService(svc *Service) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.services, svc)
}
