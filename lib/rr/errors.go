package rr

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Open Errors
// --------------------------------------------------------------------------

// OpenError enumerates the ways opening an existing service can fail.
type OpenError uint8

const (
	// OpenErrDoesNotExist: no service is registered under the name.
	OpenErrDoesNotExist OpenError = iota
	// OpenErrIsBeingCreatedByAnotherInstance: another participant is
	// between create and commit; retry after a short delay.
	OpenErrIsBeingCreatedByAnotherInstance
	// OpenErrIncompatibleRequestType: request payload or header type
	// descriptor does not match the service.
	OpenErrIncompatibleRequestType
	// OpenErrIncompatibleResponseType: response payload or header type
	// descriptor does not match the service.
	OpenErrIncompatibleResponseType
	// OpenErrIncompatibleMessagingPattern: the name is registered with a
	// different messaging pattern.
	OpenErrIncompatibleMessagingPattern
	// OpenErrIncompatibleOverflowBehaviorForRequests: the safe-overflow
	// setting for requests differs.
	OpenErrIncompatibleOverflowBehaviorForRequests
	// OpenErrIncompatibleOverflowBehaviorForResponses: the safe-overflow
	// setting for responses differs.
	OpenErrIncompatibleOverflowBehaviorForResponses
	// OpenErrIncompatibleBehaviorForFireAndForgetRequests: the
	// fire-and-forget setting differs.
	OpenErrIncompatibleBehaviorForFireAndForgetRequests
	// OpenErrIncompatibleAttributes: the required service attributes do
	// not match the existing ones.
	OpenErrIncompatibleAttributes
	// OpenErrDoesNotSupportRequestedAmountOfClients: the service supports
	// fewer clients than requested.
	OpenErrDoesNotSupportRequestedAmountOfClients
	// OpenErrDoesNotSupportRequestedAmountOfServers: the service supports
	// fewer servers than requested.
	OpenErrDoesNotSupportRequestedAmountOfServers
	// OpenErrDoesNotSupportRequestedAmountOfNodes: the service supports
	// fewer nodes than requested.
	OpenErrDoesNotSupportRequestedAmountOfNodes
	// OpenErrDoesNotSupportRequestedAmountOfActiveRequestsPerClient: the
	// service supports a smaller in-flight window than requested.
	OpenErrDoesNotSupportRequestedAmountOfActiveRequestsPerClient
	// OpenErrDoesNotSupportRequestedResponseBufferSize: the service
	// supports a smaller response buffer than requested.
	OpenErrDoesNotSupportRequestedResponseBufferSize
	// OpenErrDoesNotSupportRequestedAmountOfClientRequestLoans: the
	// service supports fewer concurrent request loans than requested.
	OpenErrDoesNotSupportRequestedAmountOfClientRequestLoans
	// OpenErrDoesNotSupportRequestedAmountOfServerResponseLoans: the
	// service supports fewer concurrent response loans per request than
	// requested.
	OpenErrDoesNotSupportRequestedAmountOfServerResponseLoans
	// OpenErrExceedsMaxNumberOfNodes: the maximum number of nodes have
	// already opened the service.
	OpenErrExceedsMaxNumberOfNodes
	// OpenErrHangsInCreation: the creation timeout passed and the service
	// is still not committed, most likely a crashed creator.
	OpenErrHangsInCreation
	// OpenErrInsufficientPermissions: the caller may not open the service.
	OpenErrInsufficientPermissions
	// OpenErrIsMarkedForDestruction: the service is tearing down; it
	// becomes recreatable shortly after.
	OpenErrIsMarkedForDestruction
	// OpenErrServiceInCorruptedState: underlying resources are missing or
	// damaged.
	OpenErrServiceInCorruptedState
	// OpenErrInternalFailure: an implementation issue or a wrongly
	// configured system.
	OpenErrInternalFailure
)

var openErrNames = map[OpenError]string{
	OpenErrDoesNotExist:                                           "DoesNotExist",
	OpenErrIsBeingCreatedByAnotherInstance:                        "IsBeingCreatedByAnotherInstance",
	OpenErrIncompatibleRequestType:                                "IncompatibleRequestType",
	OpenErrIncompatibleResponseType:                               "IncompatibleResponseType",
	OpenErrIncompatibleMessagingPattern:                           "IncompatibleMessagingPattern",
	OpenErrIncompatibleOverflowBehaviorForRequests:                "IncompatibleOverflowBehaviorForRequests",
	OpenErrIncompatibleOverflowBehaviorForResponses:               "IncompatibleOverflowBehaviorForResponses",
	OpenErrIncompatibleBehaviorForFireAndForgetRequests:           "IncompatibleBehaviorForFireAndForgetRequests",
	OpenErrIncompatibleAttributes:                                 "IncompatibleAttributes",
	OpenErrDoesNotSupportRequestedAmountOfClients:                 "DoesNotSupportRequestedAmountOfClients",
	OpenErrDoesNotSupportRequestedAmountOfServers:                 "DoesNotSupportRequestedAmountOfServers",
	OpenErrDoesNotSupportRequestedAmountOfNodes:                   "DoesNotSupportRequestedAmountOfNodes",
	OpenErrDoesNotSupportRequestedAmountOfActiveRequestsPerClient: "DoesNotSupportRequestedAmountOfActiveRequestsPerClient",
	OpenErrDoesNotSupportRequestedResponseBufferSize:              "DoesNotSupportRequestedResponseBufferSize",
	OpenErrDoesNotSupportRequestedAmountOfClientRequestLoans:      "DoesNotSupportRequestedAmountOfClientRequestLoans",
	OpenErrDoesNotSupportRequestedAmountOfServerResponseLoans:     "DoesNotSupportRequestedAmountOfServerResponseLoans",
	OpenErrExceedsMaxNumberOfNodes:                                "ExceedsMaxNumberOfNodes",
	OpenErrHangsInCreation:                                        "HangsInCreation",
	OpenErrInsufficientPermissions:                                "InsufficientPermissions",
	OpenErrIsMarkedForDestruction:                                 "IsMarkedForDestruction",
	OpenErrServiceInCorruptedState:                                "ServiceInCorruptedState",
	OpenErrInternalFailure:                                        "InternalFailure",
}

func (e OpenError) Error() string {
	if name, ok := openErrNames[e]; ok {
		return fmt.Sprintf("rr: open failed: %s", name)
	}
	return "rr: open failed: Unknown"
}

// --------------------------------------------------------------------------
// Create Errors
// --------------------------------------------------------------------------

// CreateError enumerates the ways creating a new service can fail.
type CreateError uint8

const (
	// CreateErrAlreadyExists: a committed service holds the name.
	CreateErrAlreadyExists CreateError = iota
	// CreateErrIsBeingCreatedByAnotherInstance: a concurrent creator
	// holds the name.
	CreateErrIsBeingCreatedByAnotherInstance
	// CreateErrHangsInCreation: a stale uncommitted entry blocks the name.
	CreateErrHangsInCreation
	// CreateErrInsufficientPermissions: the caller may not create the
	// service.
	CreateErrInsufficientPermissions
	// CreateErrServiceInCorruptedState: leftover resources block the name.
	CreateErrServiceInCorruptedState
	// CreateErrInternalFailure: an implementation issue or a wrongly
	// configured system.
	CreateErrInternalFailure
)

var createErrNames = map[CreateError]string{
	CreateErrAlreadyExists:                   "AlreadyExists",
	CreateErrIsBeingCreatedByAnotherInstance: "IsBeingCreatedByAnotherInstance",
	CreateErrHangsInCreation:                 "HangsInCreation",
	CreateErrInsufficientPermissions:         "InsufficientPermissions",
	CreateErrServiceInCorruptedState:         "ServiceInCorruptedState",
	CreateErrInternalFailure:                 "InternalFailure",
}

func (e CreateError) Error() string {
	if name, ok := createErrNames[e]; ok {
		return fmt.Sprintf("rr: create failed: %s", name)
	}
	return "rr: create failed: Unknown"
}

// ErrSystemInFlux: open-or-create kept losing the race against concurrent
// creation and destruction of the same service; retry with backoff.
var ErrSystemInFlux = errors.New("rr: open-or-create failed: SystemInFlux")

// --------------------------------------------------------------------------
// Port Creation Errors
// --------------------------------------------------------------------------

var (
	// ErrExceedsMaxClients: the service already has MaxClients clients.
	ErrExceedsMaxClients = errors.New("rr: exceeds max supported amount of clients")
	// ErrExceedsMaxServers: the service already has MaxServers servers.
	ErrExceedsMaxServers = errors.New("rr: exceeds max supported amount of servers")
)

// --------------------------------------------------------------------------
// Send / Loan Errors
// --------------------------------------------------------------------------

// RequestSendError enumerates the ways sending a request can fail.
type RequestSendError uint8

const (
	// SendErrExceedsMaxActiveRequests: a connected server's in-flight
	// window for this client is exhausted and the Block strategy is
	// configured. Recoverable: back off and retry, or finish pending
	// exchanges first.
	SendErrExceedsMaxActiveRequests RequestSendError = iota
	// SendErrConnectionBrokenSinceSenderNoLongerExists: the client port
	// was closed.
	SendErrConnectionBrokenSinceSenderNoLongerExists
	// SendErrConnectionCorrupted: a connection's shared state is damaged.
	SendErrConnectionCorrupted
	// SendErrConnectionError: an unspecified transport-level failure.
	SendErrConnectionError
)

func (e RequestSendError) Error() string {
	switch e {
	case SendErrExceedsMaxActiveRequests:
		return "rr: send failed: ExceedsMaxActiveRequests"
	case SendErrConnectionBrokenSinceSenderNoLongerExists:
		return "rr: send failed: ConnectionBrokenSinceSenderNoLongerExists"
	case SendErrConnectionCorrupted:
		return "rr: send failed: ConnectionCorrupted"
	case SendErrConnectionError:
		return "rr: send failed: ConnectionError"
	default:
		return "rr: send failed: Unknown"
	}
}

var (
	// ErrIncompatiblePayloadVariant: a fixed-size loan was requested on a
	// slice-typed payload or vice versa.
	ErrIncompatiblePayloadVariant = errors.New("rr: loan failed: incompatible payload variant")
	// ErrInvalidSliceLen: the requested element count is zero or exceeds
	// the port's max slice length, or a port asked for a larger slice
	// length than the service contract holds memory for.
	ErrInvalidSliceLen = errors.New("rr: loan failed: invalid slice length")
)

// --------------------------------------------------------------------------
// Receive Errors
// --------------------------------------------------------------------------

// ReceiveError enumerates the ways receiving can fail. An empty channel is
// not an error.
type ReceiveError uint8

const (
	// RecvErrExceedsMaxBorrows: the port already holds the configured
	// maximum of un-finished received messages.
	RecvErrExceedsMaxBorrows ReceiveError = iota
	// RecvErrFailedToEstablishConnection: a newly observed counterpart
	// could not be connected.
	RecvErrFailedToEstablishConnection
	// RecvErrUnableToMapSendersDataSegment: the sender's payload segment
	// is gone or inaccessible.
	RecvErrUnableToMapSendersDataSegment
	// RecvErrConnectionFailure: an unspecified connection failure.
	RecvErrConnectionFailure
)

func (e ReceiveError) Error() string {
	switch e {
	case RecvErrExceedsMaxBorrows:
		return "rr: receive failed: ExceedsMaxBorrows"
	case RecvErrFailedToEstablishConnection:
		return "rr: receive failed: FailedToEstablishConnection"
	case RecvErrUnableToMapSendersDataSegment:
		return "rr: receive failed: UnableToMapSendersDataSegment"
	case RecvErrConnectionFailure:
		return "rr: receive failed: ConnectionFailure"
	default:
		return "rr: receive failed: Unknown"
	}
}

// --------------------------------------------------------------------------
// Response Send Errors
// --------------------------------------------------------------------------

// ResponseSendError enumerates the ways sending a response can fail.
// Sending to a request whose client lost interest is NOT an error: the
// response is dropped silently by design.
type ResponseSendError uint8

const (
	// RespSendErrExceedsMaxResponseBuffer: the request's response buffer
	// is full, safe overflow is disabled and the Block strategy is
	// configured.
	RespSendErrExceedsMaxResponseBuffer ResponseSendError = iota
	// RespSendErrConnectionCorrupted: the response channel state is
	// damaged.
	RespSendErrConnectionCorrupted
)

func (e ResponseSendError) Error() string {
	switch e {
	case RespSendErrExceedsMaxResponseBuffer:
		return "rr: response send failed: ExceedsMaxResponseBuffer"
	case RespSendErrConnectionCorrupted:
		return "rr: response send failed: ConnectionCorrupted"
	default:
		return "rr: response send failed: Unknown"
	}
}

// --------------------------------------------------------------------------
// Port State Sentinels
// --------------------------------------------------------------------------

var (
	// ErrClientClosed: the client port was closed.
	ErrClientClosed = errors.New("rr: client is closed")
	// ErrServerClosed: the server port was closed.
	ErrServerClosed = errors.New("rr: server is closed")
	// ErrServiceClosed: the service handle was closed.
	ErrServiceClosed = errors.New("rr: service is closed")
	// ErrNodeClosed: the node was closed.
	ErrNodeClosed = errors.New("rr: node is closed")
	// ErrPendingResponseClosed: the pending response was closed.
	ErrPendingResponseClosed = errors.New("rr: pending response is closed")
	// ErrActiveRequestClosed: the active request was closed.
	ErrActiveRequestClosed = errors.New("rr: active request is closed")
)
