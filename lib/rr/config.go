package rr

import (
	"encoding/binary"
	"fmt"

	"github.com/ferryipc/ferry/lib/directory"
)

// --------------------------------------------------------------------------
// Delivery Strategy
// --------------------------------------------------------------------------

// UnableToDeliverStrategy decides what a sender does when the receiving
// channel is full and safe overflow is disabled.
type UnableToDeliverStrategy uint8

const (
	// Block surfaces the full channel to the caller as a recoverable
	// error. The core itself never suspends; retrying is the caller's
	// business.
	Block UnableToDeliverStrategy = iota
	// DiscardSample drops the message silently.
	DiscardSample
)

func (s UnableToDeliverStrategy) String() string {
	switch s {
	case Block:
		return "Block"
	case DiscardSample:
		return "DiscardSample"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Service Configuration
// --------------------------------------------------------------------------

// Config is the static contract of a request-response service. The creator
// commits it to the service directory; every later opener must be
// compatible with it.
type Config struct {
	// Type descriptors of the four wire types. Mismatches between
	// participants are detected at open time, never at message time.
	RequestPayload  TypeDetail
	RequestHeader   TypeDetail
	ResponsePayload TypeDetail
	ResponseHeader  TypeDetail

	// MaxClients bounds the number of concurrently connected clients.
	MaxClients int
	// MaxServers bounds the number of concurrently connected servers.
	MaxServers int
	// MaxNodes bounds the number of nodes that may open the service.
	MaxNodes int

	// MaxActiveRequestsPerClient bounds how many requests of one client
	// may be in flight towards one server at the same time. In flight
	// means queued or received but not yet finished.
	MaxActiveRequestsPerClient int
	// MaxResponseBufferSize bounds how many responses one request can
	// buffer before the client picks them up.
	MaxResponseBufferSize int
	// MaxLoanedRequests bounds how many request buffers one client can
	// hold loaned at the same time.
	MaxLoanedRequests int
	// MaxLoanedResponsesPerRequest bounds how many response buffers a
	// server can hold loaned per active request at the same time.
	MaxLoanedResponsesPerRequest int

	// EnableFireAndForgetRequests allows servers to consume requests
	// whose client dropped the pending response before delivery.
	EnableFireAndForgetRequests bool
	// EnableSafeOverflowForRequests makes a full request channel evict
	// its oldest queued request instead of refusing the new one.
	EnableSafeOverflowForRequests bool
	// EnableSafeOverflowForResponses makes a full response buffer evict
	// its oldest buffered response instead of refusing the new one.
	EnableSafeOverflowForResponses bool

	// RequestUnableToDeliver and ResponseUnableToDeliver are the default
	// full-channel strategies when safe overflow is disabled. Ports can
	// override them; they are not part of the compatibility contract.
	RequestUnableToDeliver  UnableToDeliverStrategy
	ResponseUnableToDeliver UnableToDeliverStrategy

	// MaxSliceLen is the default element budget of Dynamic payload loans.
	// Ports with Dynamic payloads can override it at build time.
	MaxSliceLen int
}

// DefaultConfig returns the defaults applied by the service builder for
// every knob the caller leaves unset.
func DefaultConfig() Config {
	return Config{
		MaxClients:                   32,
		MaxServers:                   2,
		MaxNodes:                     16,
		MaxActiveRequestsPerClient:   4,
		MaxResponseBufferSize:        2,
		MaxLoanedRequests:            2,
		MaxLoanedResponsesPerRequest: 2,

		EnableFireAndForgetRequests:    true,
		EnableSafeOverflowForRequests:  true,
		EnableSafeOverflowForResponses: true,

		RequestUnableToDeliver:  Block,
		ResponseUnableToDeliver: Block,

		MaxSliceLen: 1,
	}
}

// compatibleWith checks whether requested can attach to a service running
// with existing. The numeric knobs are support requests: the opener asks
// for at least that much, the service must provide it.
func (requested Config) compatibleWith(existing Config) error {
	if !requested.RequestPayload.Equal(existing.RequestPayload) ||
		!requested.RequestHeader.Equal(existing.RequestHeader) {
		return OpenErrIncompatibleRequestType
	}
	if !requested.ResponsePayload.Equal(existing.ResponsePayload) ||
		!requested.ResponseHeader.Equal(existing.ResponseHeader) {
		return OpenErrIncompatibleResponseType
	}

	if requested.EnableSafeOverflowForRequests != existing.EnableSafeOverflowForRequests {
		return OpenErrIncompatibleOverflowBehaviorForRequests
	}
	if requested.EnableSafeOverflowForResponses != existing.EnableSafeOverflowForResponses {
		return OpenErrIncompatibleOverflowBehaviorForResponses
	}
	if requested.EnableFireAndForgetRequests != existing.EnableFireAndForgetRequests {
		return OpenErrIncompatibleBehaviorForFireAndForgetRequests
	}

	if requested.MaxClients > existing.MaxClients {
		return OpenErrDoesNotSupportRequestedAmountOfClients
	}
	if requested.MaxServers > existing.MaxServers {
		return OpenErrDoesNotSupportRequestedAmountOfServers
	}
	if requested.MaxNodes > existing.MaxNodes {
		return OpenErrDoesNotSupportRequestedAmountOfNodes
	}
	if requested.MaxActiveRequestsPerClient > existing.MaxActiveRequestsPerClient {
		return OpenErrDoesNotSupportRequestedAmountOfActiveRequestsPerClient
	}
	if requested.MaxResponseBufferSize > existing.MaxResponseBufferSize {
		return OpenErrDoesNotSupportRequestedResponseBufferSize
	}
	if requested.MaxLoanedRequests > existing.MaxLoanedRequests {
		return OpenErrDoesNotSupportRequestedAmountOfClientRequestLoans
	}
	if requested.MaxLoanedResponsesPerRequest > existing.MaxLoanedResponsesPerRequest {
		return OpenErrDoesNotSupportRequestedAmountOfServerResponseLoans
	}

	return nil
}

// --------------------------------------------------------------------------
// Binary Codec
// --------------------------------------------------------------------------

// The config is serialized into the directory's static record so that
// independently built participants compare the same bytes the creator
// committed, not their own in-memory defaults.
//
// Layout (big endian):
//
//	[1B pattern tag]
//	[4 x type detail]  each: 1B variant | 8B size | 8B align | 2B name len | name
//	[7 x 8B]           clients servers nodes active-reqs resp-buf req-loans resp-loans
//	[3 x 1B]           fire-and-forget, overflow-requests, overflow-responses
//	[2 x 1B]           request strategy, response strategy
//	[8B]               max slice len
const patternRequestResponse = byte(0x52) // 'R'

func encodeTypeDetail(buf []byte, d TypeDetail) []byte {
	buf = append(buf, byte(d.Variant))
	buf = binary.BigEndian.AppendUint64(buf, d.Size)
	buf = binary.BigEndian.AppendUint64(buf, d.Alignment)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(d.TypeName)))
	buf = append(buf, d.TypeName...)
	return buf
}

func decodeTypeDetail(buf []byte) (TypeDetail, []byte, error) {
	var d TypeDetail
	if len(buf) < 19 {
		return d, nil, fmt.Errorf("rr: truncated type detail")
	}
	d.Variant = TypeVariant(buf[0])
	d.Size = binary.BigEndian.Uint64(buf[1:9])
	d.Alignment = binary.BigEndian.Uint64(buf[9:17])
	nameLen := int(binary.BigEndian.Uint16(buf[17:19]))
	buf = buf[19:]
	if len(buf) < nameLen {
		return d, nil, fmt.Errorf("rr: truncated type name")
	}
	d.TypeName = string(buf[:nameLen])
	return d, buf[nameLen:], nil
}

// encodeConfig serializes cfg into a directory static record.
func encodeConfig(cfg Config) []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, patternRequestResponse)

	buf = encodeTypeDetail(buf, cfg.RequestPayload)
	buf = encodeTypeDetail(buf, cfg.RequestHeader)
	buf = encodeTypeDetail(buf, cfg.ResponsePayload)
	buf = encodeTypeDetail(buf, cfg.ResponseHeader)

	for _, v := range []int{
		cfg.MaxClients, cfg.MaxServers, cfg.MaxNodes,
		cfg.MaxActiveRequestsPerClient, cfg.MaxResponseBufferSize,
		cfg.MaxLoanedRequests, cfg.MaxLoanedResponsesPerRequest,
	} {
		buf = binary.BigEndian.AppendUint64(buf, uint64(v))
	}

	for _, b := range []bool{
		cfg.EnableFireAndForgetRequests,
		cfg.EnableSafeOverflowForRequests,
		cfg.EnableSafeOverflowForResponses,
	} {
		if b {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}

	buf = append(buf, byte(cfg.RequestUnableToDeliver), byte(cfg.ResponseUnableToDeliver))
	buf = binary.BigEndian.AppendUint64(buf, uint64(cfg.MaxSliceLen))

	return directory.EncodeStaticRecord(buf)
}

// decodeConfig parses a directory static record back into a Config.
func decodeConfig(record []byte) (Config, error) {
	var cfg Config

	buf, err := directory.DecodeStaticRecord(record)
	if err != nil {
		return cfg, err
	}
	if len(buf) < 1 {
		return cfg, fmt.Errorf("rr: empty service record")
	}
	if buf[0] != patternRequestResponse {
		return cfg, OpenErrIncompatibleMessagingPattern
	}
	buf = buf[1:]

	for _, dst := range []*TypeDetail{
		&cfg.RequestPayload, &cfg.RequestHeader,
		&cfg.ResponsePayload, &cfg.ResponseHeader,
	} {
		*dst, buf, err = decodeTypeDetail(buf)
		if err != nil {
			return cfg, err
		}
	}

	if len(buf) < 7*8+3+2+8 {
		return cfg, fmt.Errorf("rr: truncated service record")
	}

	for _, dst := range []*int{
		&cfg.MaxClients, &cfg.MaxServers, &cfg.MaxNodes,
		&cfg.MaxActiveRequestsPerClient, &cfg.MaxResponseBufferSize,
		&cfg.MaxLoanedRequests, &cfg.MaxLoanedResponsesPerRequest,
	} {
		*dst = int(binary.BigEndian.Uint64(buf[:8]))
		buf = buf[8:]
	}

	cfg.EnableFireAndForgetRequests = buf[0] == 1
	cfg.EnableSafeOverflowForRequests = buf[1] == 1
	cfg.EnableSafeOverflowForResponses = buf[2] == 1
	cfg.RequestUnableToDeliver = UnableToDeliverStrategy(buf[3])
	cfg.ResponseUnableToDeliver = UnableToDeliverStrategy(buf[4])
	cfg.MaxSliceLen = int(binary.BigEndian.Uint64(buf[5:13]))

	return cfg, nil
}
