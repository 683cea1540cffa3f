package rr

import (
	"errors"
	"time"

	"github.com/ferryipc/ferry/lib/directory"
)

// --------------------------------------------------------------------------
// Service Builder
// --------------------------------------------------------------------------

// ServiceBuilder names a service on a node. Selecting the messaging pattern
// yields the pattern-specific builder.
type ServiceBuilder struct {
	node *Node
	name string
}

// RequestResponse selects the request-response pattern. The payload types
// of both directions are mandatory; everything else defaults.
func (b *ServiceBuilder) RequestResponse(requestPayload, responsePayload TypeDetail) *RequestResponseBuilder {
	cfg := DefaultConfig()
	cfg.RequestPayload = requestPayload
	cfg.ResponsePayload = responsePayload
	cfg.RequestHeader = unitTypeDetail
	cfg.ResponseHeader = unitTypeDetail
	return &RequestResponseBuilder{node: b.node, name: b.name, cfg: cfg}
}

// unitTypeDetail describes the empty user header used when none is set.
var unitTypeDetail = TypeDetail{Variant: FixedSize, Size: 0, Alignment: 1, TypeName: "unit"}

// RequestResponseBuilder configures and then opens or creates a
// request-response service.
//
// On Create the configured values become the service contract. On Open they
// are minimum requirements checked against the existing contract.
type RequestResponseBuilder struct {
	node *Node
	name string
	cfg  Config
}

// RequestUserHeader sets the user header type attached to every request.
func (b *RequestResponseBuilder) RequestUserHeader(d TypeDetail) *RequestResponseBuilder {
	b.cfg.RequestHeader = d
	return b
}

// ResponseUserHeader sets the user header type attached to every response.
func (b *RequestResponseBuilder) ResponseUserHeader(d TypeDetail) *RequestResponseBuilder {
	b.cfg.ResponseHeader = d
	return b
}

// MaxClients bounds the number of concurrently connected clients.
func (b *RequestResponseBuilder) MaxClients(n int) *RequestResponseBuilder {
	b.cfg.MaxClients = n
	return b
}

// MaxServers bounds the number of concurrently connected servers.
func (b *RequestResponseBuilder) MaxServers(n int) *RequestResponseBuilder {
	b.cfg.MaxServers = n
	return b
}

// MaxNodes bounds the number of nodes that may open the service.
func (b *RequestResponseBuilder) MaxNodes(n int) *RequestResponseBuilder {
	b.cfg.MaxNodes = n
	return b
}

// MaxActiveRequestsPerClient bounds how many requests of one client may be
// in flight towards one server at the same time.
func (b *RequestResponseBuilder) MaxActiveRequestsPerClient(n int) *RequestResponseBuilder {
	b.cfg.MaxActiveRequestsPerClient = n
	return b
}

// MaxResponseBufferSize bounds how many responses one request can buffer.
func (b *RequestResponseBuilder) MaxResponseBufferSize(n int) *RequestResponseBuilder {
	b.cfg.MaxResponseBufferSize = n
	return b
}

// MaxLoanedRequests bounds how many request buffers one client can hold
// loaned at the same time.
func (b *RequestResponseBuilder) MaxLoanedRequests(n int) *RequestResponseBuilder {
	b.cfg.MaxLoanedRequests = n
	return b
}

// MaxLoanedResponsesPerRequest bounds how many response buffers a server
// can hold loaned per active request at the same time.
func (b *RequestResponseBuilder) MaxLoanedResponsesPerRequest(n int) *RequestResponseBuilder {
	b.cfg.MaxLoanedResponsesPerRequest = n
	return b
}

// EnableFireAndForgetRequests allows servers to consume requests whose
// client dropped the pending response before delivery.
func (b *RequestResponseBuilder) EnableFireAndForgetRequests(enable bool) *RequestResponseBuilder {
	b.cfg.EnableFireAndForgetRequests = enable
	return b
}

// EnableSafeOverflowForRequests makes full request channels evict their
// oldest queued request instead of refusing the new one.
func (b *RequestResponseBuilder) EnableSafeOverflowForRequests(enable bool) *RequestResponseBuilder {
	b.cfg.EnableSafeOverflowForRequests = enable
	return b
}

// EnableSafeOverflowForResponses makes full response buffers evict their
// oldest buffered response instead of refusing the new one.
func (b *RequestResponseBuilder) EnableSafeOverflowForResponses(enable bool) *RequestResponseBuilder {
	b.cfg.EnableSafeOverflowForResponses = enable
	return b
}

// RequestUnableToDeliver sets the default full-channel strategy clients use
// when safe overflow for requests is disabled.
func (b *RequestResponseBuilder) RequestUnableToDeliver(s UnableToDeliverStrategy) *RequestResponseBuilder {
	b.cfg.RequestUnableToDeliver = s
	return b
}

// ResponseUnableToDeliver sets the default full-channel strategy servers
// use when safe overflow for responses is disabled.
func (b *RequestResponseBuilder) ResponseUnableToDeliver(s UnableToDeliverStrategy) *RequestResponseBuilder {
	b.cfg.ResponseUnableToDeliver = s
	return b
}

// MaxSliceLen sets the default element budget of Dynamic payload loans.
func (b *RequestResponseBuilder) MaxSliceLen(n int) *RequestResponseBuilder {
	b.cfg.MaxSliceLen = n
	return b
}

// --------------------------------------------------------------------------
// Open / Create
// --------------------------------------------------------------------------

// Open attaches to an existing service. The builder's configuration is
// checked against the existing contract; the returned service runs with the
// contract, not with the builder's values.
func (b *RequestResponseBuilder) Open() (*Service, error) {
	if b.node.isClosed() {
		return nil, ErrNodeClosed
	}

	entry, err := b.node.registry.Open(b.name)
	if err != nil {
		return nil, mapDirectoryOpenErr(err)
	}

	existing, err := decodeConfig(entry.Static())
	if err != nil {
		return nil, mapRecordErr(err)
	}
	if err := b.cfg.compatibleWith(existing); err != nil {
		return nil, err
	}

	shared, ok := entry.Shared().(*serviceShared)
	if !ok {
		return nil, OpenErrServiceInCorruptedState
	}

	if err := shared.attachNode(b.node); err != nil {
		return nil, err
	}
	if err := entry.Attach(); err != nil {
		shared.detachNode(b.node)
		return nil, OpenErrIsMarkedForDestruction
	}

	svc := &Service{shared: shared, entry: entry, node: b.node}
	b.node.trackService(svc)
	return svc, nil
}

// Create creates the service with the builder's configuration as its
// contract. Fails if the name is taken.
func (b *RequestResponseBuilder) Create() (*Service, error) {
	if b.node.isClosed() {
		return nil, ErrNodeClosed
	}

	shared := newServiceShared(b.name, b.cfg)

	entry, err := b.node.registry.Create(b.name, encodeConfig(b.cfg), shared)
	if err != nil {
		return nil, mapDirectoryCreateErr(err)
	}

	name := b.name
	entry.SetCleanup(func() {
		log.Infof("service %q destroyed, all participants detached", name)
	})

	if err := shared.attachNode(b.node); err != nil {
		entry.Abort()
		return nil, CreateErrInternalFailure
	}
	if err := entry.Attach(); err != nil {
		entry.Abort()
		return nil, CreateErrInternalFailure
	}
	entry.Commit()

	svc := &Service{shared: shared, entry: entry, node: b.node}
	b.node.trackService(svc)
	log.Infof("service %q created", name)
	return svc, nil
}

// openOrCreateAttempts bounds how often OpenOrCreate races against
// concurrent creation and destruction before giving up.
const openOrCreateAttempts = 16

// OpenOrCreate opens the service if it exists, creates it otherwise.
// Transient races against concurrent creators and destroyers are retried;
// if the system stays in flux the call fails with ErrSystemInFlux.
func (b *RequestResponseBuilder) OpenOrCreate() (*Service, error) {
	for attempt := 0; attempt < openOrCreateAttempts; attempt++ {
		svc, err := b.Open()
		switch {
		case err == nil:
			return svc, nil
		case errors.Is(err, OpenErrDoesNotExist):
			// fall through to create
		case errors.Is(err, OpenErrIsBeingCreatedByAnotherInstance),
			errors.Is(err, OpenErrIsMarkedForDestruction):
			time.Sleep(time.Millisecond)
			continue
		default:
			return nil, err
		}

		svc, err = b.Create()
		switch {
		case err == nil:
			return svc, nil
		case errors.Is(err, CreateErrAlreadyExists),
			errors.Is(err, CreateErrIsBeingCreatedByAnotherInstance):
			time.Sleep(time.Millisecond)
			continue
		default:
			return nil, err
		}
	}
	return nil, ErrSystemInFlux
}

// --------------------------------------------------------------------------
// Directory Error Mapping
// --------------------------------------------------------------------------

func mapDirectoryOpenErr(err error) error {
	switch {
	case errors.Is(err, directory.ErrDoesNotExist):
		return OpenErrDoesNotExist
	case errors.Is(err, directory.ErrBeingCreated):
		return OpenErrIsBeingCreatedByAnotherInstance
	case errors.Is(err, directory.ErrHangsInCreation):
		return OpenErrHangsInCreation
	case errors.Is(err, directory.ErrMarkedForDestruction):
		return OpenErrIsMarkedForDestruction
	default:
		return OpenErrInternalFailure
	}
}

func mapDirectoryCreateErr(err error) error {
	switch {
	case errors.Is(err, directory.ErrAlreadyExists):
		return CreateErrAlreadyExists
	case errors.Is(err, directory.ErrBeingCreated):
		return CreateErrIsBeingCreatedByAnotherInstance
	case errors.Is(err, directory.ErrHangsInCreation):
		return CreateErrHangsInCreation
	case errors.Is(err, directory.ErrMarkedForDestruction):
		return CreateErrAlreadyExists
	default:
		return CreateErrInternalFailure
	}
}

func mapRecordErr(err error) error {
	switch {
	case errors.Is(err, OpenErrIncompatibleMessagingPattern):
		return OpenErrIncompatibleMessagingPattern
	case errors.Is(err, directory.ErrUnsupportedRecordVersion):
		return OpenErrInternalFailure
	default:
		return OpenErrServiceInCorruptedState
	}
}
