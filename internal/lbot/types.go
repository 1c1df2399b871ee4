package lbot

import (
	"encoding/json"
	"hash/fnv"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TopicInfo is handed to a plugin's topic-announce callback the moment a
// sender appears on a topic the plugin's filter admits.
type TopicInfo struct {
	TypeHash   uintptr
	TopicHash  uint64
	TopicName  string
	TypeHandle reflect.Type
}

// MessageInfo is handed to a plugin's message callback after every
// successful put, move or trace. Data is the lazily-serialized byte span;
// it is computed at most once per put even when many plugins match.
type MessageInfo struct {
	Topic     TopicInfo
	Timestamp time.Time
	Data      []byte
}

// Serializable lets a message type control its own wire representation
// for the plugin trace path. Types that don't implement it fall back to
// encoding/json, which keeps the core usable without a schema compiler.
type Serializable interface {
	MarshalTrace() ([]byte, error)
}

func serializeMessage(m any) []byte {
	if s, ok := m.(Serializable); ok {
		if b, err := s.MarshalTrace(); err == nil {
			return b
		}
	}
	b, _ := json.Marshal(m)
	return b
}

// ForwardAdapter converts a sender's user-facing container into the
// canonical message type stored in receiver ring slots.
type ForwardAdapter[C any, M any] func(container C) M

// ReverseAdapter converts a canonical message back into a receiver's
// user-facing container.
type ReverseAdapter[M any, C any] func(msg M) C

// MoveAdapter consumes its source in place (clearing *src) and produces
// the destination value, modeling the C++ source's rvalue-consuming move
// conversion without Go move semantics.
type MoveAdapter[S any, D any] func(src *S) D

// Identity is the default ForwardAdapter/ReverseAdapter for endpoints
// whose container type equals the message type.
func Identity[T any](v T) T { return v }

// IdentityMove is the default MoveAdapter for C == M: it takes ownership
// of *src by swapping in the zero value, exactly like a C++ std::move.
func IdentityMove[T any](src *T) T {
	out := *src
	var zero T
	*src = zero
	return out
}

// ExecutionPolicy selects where a receiver's callback runs.
type ExecutionPolicy int

const (
	// Inline runs the callback on the publisher's goroutine, immediately
	// after the slot write. The publisher blocks until it returns.
	Inline ExecutionPolicy = iota
	// Parallel hands the callback to the shared worker pool so a slow or
	// misbehaving subscriber callback can never stall a publisher.
	Parallel
)

func topicHash(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}

var (
	typeIdentityMu    sync.Mutex
	typeIdentityTable = map[reflect.Type]uintptr{}
	typeIdentityNext  uintptr = 1
)

// typeIdentity assigns a stable, process-lifetime uintptr to each
// reflect.Type it sees. reflect.Type values compare equal for the same
// underlying type, but the interface itself exposes no numeric identity,
// so TopicInfo.TypeHash (the Go stand-in for the original source's
// std::type_index hash) is synthesized here instead.
func typeIdentity(t reflect.Type) uintptr {
	typeIdentityMu.Lock()
	defer typeIdentityMu.Unlock()
	if id, ok := typeIdentityTable[t]; ok {
		return id
	}
	id := typeIdentityNext
	typeIdentityNext++
	typeIdentityTable[t] = id
	return id
}
