package lbot

import (
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ringWriter is the type-erased face every Receiver[M,C] presents to the
// topic it is attached to. A topic's roster is homogeneous in message
// type M but heterogeneous in container type C (two receivers on the same
// topic may hold different user-facing types via different reverse
// adapters), so the roster can't be a generic slice; it is a slice of
// this interface instead, with the M assertion pushed down into each
// receiver's own writeAny.
type ringWriter interface {
	// writeAny stores msg (always the topic's canonical message type) into
	// the receiver's next ring slot and wakes any blocked Next() caller.
	writeAny(msg any)
	// moveAny is like writeAny but for the zero-copy path: it takes
	// ownership of msg's storage rather than copying it. Returns false if
	// msg is not the receiver's message type; the single-consumer check is
	// made by the topic before it calls moveAny.
	moveAny(msg any) bool
	// flush marks the receiver's current data invalid and wakes any blocked
	// Next() caller, which returns a topic-no-data error instead of a
	// value. Cleared again by the next writeAny/moveAny.
	flush()
	// id distinguishes receivers for roster removal.
	id() uint64
}

// topic holds one named channel's receiver roster and delivery metadata.
// Roster mutation follows the two-stage change-lock + active-users
// protocol from the original manager's topic map: publishers reading the
// roster to fan out a message never take a lock, they just bump
// activeUsers, read the current roster pointer, and decrement it when
// done; add/remove take changeLock to serialize against each other and
// then spin-wait for activeUsers to reach zero before swapping in a new
// roster slice, so a publisher never observes a torn roster and a
// remove/add never blocks a publisher for more than the time it takes to
// finish an in-flight delivery.
type topic struct {
	info TopicInfo

	changeLock  sync.Mutex
	roster      atomic.Pointer[[]ringWriter]
	activeUsers atomic.Int64

	rosterChanged *broadcaster
	nextID        atomic.Uint64

	plugins  *pluginList
	announce sync.Once
	metrics  Metrics
}

func newTopic(name string, typeHandle reflect.Type, plugins *pluginList, metrics Metrics) *topic {
	t := &topic{
		info: TopicInfo{
			TypeHash:   typeIdentity(typeHandle),
			TopicHash:  topicHash(name),
			TopicName:  name,
			TypeHandle: typeHandle,
		},
		rosterChanged: newBroadcaster(),
		plugins:       plugins,
		metrics:       metrics,
	}
	empty := []ringWriter{}
	t.roster.Store(&empty)
	return t
}

// deliver fans msg out to every receiver in the roster and to every
// admitting plugin, lazily serializing at most once even when several
// plugins match.
func (t *topic) deliver(msg any) {
	t.announce.Do(func() { t.plugins.announce(t.info) })

	users := t.acquireRoster()
	for _, w := range users {
		w.writeAny(msg)
	}
	t.releaseRoster()

	t.plugins.dispatch(t.info, msg, func() MessageInfo {
		return MessageInfo{Topic: t.info, Timestamp: time.Now(), Data: serializeMessage(msg)}
	})

	if t.metrics != nil {
		t.metrics.ObservePut(t.info.TopicName)
	}
}

// flush invalidates every receiver's current data: a receiver's next
// latest()/next() call fails with a topic-no-data error until it is
// written to again. Mirrors the original source's forceFlush/Sender::flush,
// which bump each receiver's write_count, set its flush_flag and wake
// one blocked waiter.
func (t *topic) flush() {
	users := t.acquireRoster()
	for _, w := range users {
		w.flush()
	}
	t.releaseRoster()

	if t.metrics != nil {
		t.metrics.ObserveFlush(t.info.TopicName)
	}
}

// deliverMove attempts the zero-copy path: msg is hand-off only, never
// copied, so it is only valid when exactly one consumer (a receiver XOR
// a movable plugin) exists for this topic. Returns false if the fast
// path isn't available and the caller should fall back to deliver.
func (t *topic) deliverMove(msg any) bool {
	t.announce.Do(func() { t.plugins.announce(t.info) })

	users := t.acquireRoster()
	receiverN := len(users)
	pluginN := t.plugins.matchingCount(t.info.TopicHash)

	if receiverN+pluginN != 1 {
		t.releaseRoster()
		return false
	}

	ok := false
	if receiverN == 1 {
		ok = users[0].moveAny(msg)
	}
	t.releaseRoster()

	if !ok && pluginN == 1 {
		ok = t.plugins.tryMove(t.info, msg)
	}

	if ok && t.metrics != nil {
		t.metrics.ObserveMove(t.info.TopicName)
	}
	return ok
}

// acquireRoster begins a lock-free read pass over the roster. Callers
// must call releaseRoster exactly once when done.
func (t *topic) acquireRoster() []ringWriter {
	t.activeUsers.Add(1)
	return *t.roster.Load()
}

func (t *topic) releaseRoster() {
	t.activeUsers.Add(-1)
}

// addReceiver inserts w into the roster. Safe to call concurrently with
// publishers and other add/remove calls.
func (t *topic) addReceiver(w ringWriter) {
	t.changeLock.Lock()
	defer t.changeLock.Unlock()

	t.waitDrained()

	old := *t.roster.Load()
	next := make([]ringWriter, len(old), len(old)+1)
	copy(next, old)
	next = append(next, w)
	t.roster.Store(&next)

	t.rosterChanged.broadcast()
}

// removeReceiver drops the writer with the given id from the roster.
func (t *topic) removeReceiver(id uint64) {
	t.changeLock.Lock()
	defer t.changeLock.Unlock()

	t.waitDrained()

	old := *t.roster.Load()
	next := make([]ringWriter, 0, len(old))
	for _, w := range old {
		if w.id() != id {
			next = append(next, w)
		}
	}
	t.roster.Store(&next)

	t.rosterChanged.broadcast()
}

// waitDrained blocks until no publisher is mid-delivery against the
// current roster slice. Called with changeLock held, so at most one
// writer is ever waiting at a time.
func (t *topic) waitDrained() {
	for t.activeUsers.Load() > 0 {
		// Publishers hold the roster only for the duration of one
		// fan-out pass (a handful of writeAny/moveAny calls), so a tight
		// spin with Gosched is cheaper than a second broadcaster here and
		// never starves: every acquireRoster/releaseRoster pair is bounded.
		runtime.Gosched()
	}
}

func (t *topic) receiverCount() int {
	return len(*t.roster.Load())
}

func (t *topic) nextReceiverID() uint64 {
	return t.nextID.Add(1)
}
