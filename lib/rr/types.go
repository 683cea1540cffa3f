package rr

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"reflect"
	"unsafe"
)

// --------------------------------------------------------------------------
// Type Details
// --------------------------------------------------------------------------

// TypeVariant distinguishes payloads of one fixed-size value from payloads
// that are a runtime-sized slice of elements.
type TypeVariant uint8

const (
	// FixedSize: the payload is exactly one value of the type.
	FixedSize TypeVariant = iota
	// Dynamic: the payload is a slice of the type with a per-message
	// element count.
	Dynamic
)

func (v TypeVariant) String() string {
	switch v {
	case FixedSize:
		return "FixedSize"
	case Dynamic:
		return "Dynamic"
	default:
		return "Unknown"
	}
}

// TypeDetail describes one payload or header type well enough to detect
// mismatches between independently built participants.
type TypeDetail struct {
	Variant   TypeVariant
	Size      uint64
	Alignment uint64
	TypeName  string
}

// Equal reports whether two type details describe the same wire type.
func (d TypeDetail) Equal(other TypeDetail) bool {
	return d.Variant == other.Variant &&
		d.Size == other.Size &&
		d.Alignment == other.Alignment &&
		d.TypeName == other.TypeName
}

func (d TypeDetail) String() string {
	return fmt.Sprintf("%s(%s, size=%d, align=%d)", d.Variant, d.TypeName, d.Size, d.Alignment)
}

// TypeDetailOf derives the detail of a fixed-size payload type.
func TypeDetailOf[T any]() TypeDetail {
	var v T
	return TypeDetail{
		Variant:   FixedSize,
		Size:      uint64(unsafe.Sizeof(v)),
		Alignment: uint64(unsafe.Alignof(v)),
		TypeName:  reflect.TypeOf(&v).Elem().String(),
	}
}

// SliceTypeDetailOf derives the detail of a slice payload whose elements are
// of type T.
func SliceTypeDetailOf[T any]() TypeDetail {
	d := TypeDetailOf[T]()
	d.Variant = Dynamic
	return d
}

// PayloadAs reinterprets a loaned buffer as a value of type T. The buffer
// must be at least unsafe.Sizeof(T) bytes long.
func PayloadAs[T any](b []byte) *T {
	var v T
	if uintptr(len(b)) < unsafe.Sizeof(v) {
		panic(fmt.Sprintf("rr: payload of %d bytes too small for %s", len(b), reflect.TypeOf(&v).Elem()))
	}
	return (*T)(unsafe.Pointer(unsafe.SliceData(b)))
}

// PayloadAsSlice reinterprets a loaned buffer as a slice of n values of type
// T. The buffer must cover n elements.
func PayloadAsSlice[T any](b []byte, n int) []T {
	var v T
	elem := unsafe.Sizeof(v)
	if elem == 0 {
		return make([]T, n)
	}
	if uintptr(len(b)) < uintptr(n)*elem {
		panic(fmt.Sprintf("rr: payload of %d bytes too small for %d elements of %s",
			len(b), n, reflect.TypeOf(&v).Elem()))
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n)
}

// --------------------------------------------------------------------------
// Port Identifiers
// --------------------------------------------------------------------------

// portIDLen is the raw length of a unique port identifier.
const portIDLen = 128

// UniquePortID identifies one port instance for the lifetime of the
// process group. IDs are random and never reused.
type UniquePortID [portIDLen]byte

// UniqueClientID identifies a client port.
type UniqueClientID = UniquePortID

// UniqueServerID identifies a server port.
type UniqueServerID = UniquePortID

// newUniquePortID draws a fresh random identifier.
func newUniquePortID() UniquePortID {
	var id UniquePortID
	if _, err := rand.Read(id[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("rr: failed to generate port id: %v", err))
	}
	return id
}

func (id UniquePortID) String() string {
	// the first 8 bytes are plenty for log readability
	return hex.EncodeToString(id[:8])
}

// --------------------------------------------------------------------------
// Message Headers
// --------------------------------------------------------------------------

// RequestHeader is attached to every request by the sending client.
type RequestHeader struct {
	// Client is the unique id of the sending client port.
	Client UniqueClientID
	// RequestID is unique per client and strictly increasing.
	RequestID uint64
}

// ResponseHeader is attached to every response by the sending server.
type ResponseHeader struct {
	// Server is the unique id of the responding server port.
	Server UniqueServerID
}
