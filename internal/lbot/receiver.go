package lbot

import (
	"context"
	"sync"
	"sync/atomic"
)

// ringSlot holds one published value plus the sequence number it was
// written under, so a reader can tell whether the slot it is looking at
// was overwritten between its read of writeSeq and its read of msg.
type ringSlot[M any] struct {
	mu  sync.RWMutex
	seq uint64
	msg M
}

// ringSize rounds n up to the next power of two, with a floor of 4: a
// ring shorter than that can't usefully hold both the slot a slow
// consumer is reading and the slot a fast publisher is about to write.
func ringSize(n int) uint64 {
	if n < 4 {
		n = 4
	}
	size := uint64(1)
	for size < uint64(n) {
		size <<= 1
	}
	return size
}

// Receiver subscribes to a topic of canonical message type M, exposing
// values to the caller as C via a ReverseAdapter. Two receivers on the
// same topic may use different C/adapter pairs; the topic's roster only
// ever sees the type-erased ringWriter face.
type Receiver[M any, C any] struct {
	t       *topic
	recvID  uint64
	reverse ReverseAdapter[M, C]

	slots []ringSlot[M]
	mask  uint64

	writeSeq atomic.Uint64
	readSeq  atomic.Uint64

	// flushed mirrors the original source's flush_flag: true at
	// construction (no data yet) and after a flush, false again as soon as
	// store writes a value. Latest/Next both refuse to hand back data
	// while it is set.
	flushed atomic.Bool

	newData *broadcaster
	closed  atomic.Bool

	policy   ExecutionPolicy
	callback func(C)
	pool     *workerPool

	replay *replayBuffer
}

// newReceiver attaches a new Receiver to t. ringLen is the requested ring
// capacity (rounded up to a power of two); callback/policy may be zero
// values for a pull-only (Latest/Next) receiver.
func newReceiver[M any, C any](
	t *topic,
	reverse ReverseAdapter[M, C],
	ringLen int,
	policy ExecutionPolicy,
	callback func(C),
	pool *workerPool,
) *Receiver[M, C] {
	size := ringSize(ringLen)
	r := &Receiver[M, C]{
		t:        t,
		recvID:   t.nextReceiverID(),
		reverse:  reverse,
		slots:    make([]ringSlot[M], size),
		mask:     size - 1,
		newData:  newBroadcaster(),
		policy:   policy,
		callback: callback,
		pool:     pool,
	}
	r.flushed.Store(true)
	t.addReceiver(r)
	return r
}

// EnableReplay turns on gap recovery: the last maxEntries serialized
// payloads are retained so a lagging consumer can ask for everything it
// missed instead of only ever seeing the latest value.
func (r *Receiver[M, C]) EnableReplay(maxEntries int, pool *bufferPool) {
	r.replay = newReplayBuffer(maxEntries, pool)
}

func (r *Receiver[M, C]) Replay() *replayBuffer {
	return r.replay
}

func (r *Receiver[M, C]) id() uint64 { return r.recvID }

func (r *Receiver[M, C]) writeAny(msg any) {
	m, ok := msg.(M)
	if !ok {
		return
	}
	r.store(m)
}

func (r *Receiver[M, C]) moveAny(msg any) bool {
	m, ok := msg.(M)
	if !ok {
		return false
	}
	r.store(m)
	return true
}

// flush invalidates the receiver's current data and wakes any blocked
// Next() caller, mirroring forceFlush/Sender::flush in the original source:
// write_count is bumped so a waiter re-checks, flush_flag is set, and the
// waiter is notified.
func (r *Receiver[M, C]) flush() {
	r.flushed.Store(true)
	r.writeSeq.Add(1)
	r.newData.broadcast()
}

func (r *Receiver[M, C]) store(m M) {
	seq := r.writeSeq.Add(1)
	slot := &r.slots[seq&r.mask]
	slot.mu.Lock()
	slot.seq = seq
	slot.msg = m
	slot.mu.Unlock()
	r.flushed.Store(false)

	if r.replay != nil {
		r.replay.add(seq, serializeMessage(any(m)))
	}

	if r.t.metrics != nil {
		r.t.metrics.ObserveReceiverQueueDepth(r.t.info.TopicName, int(seq-r.readSeq.Load()))
	}

	r.newData.broadcast()

	if r.callback != nil {
		c := r.reverse(m)
		r.dispatch(c)
	}
}

func (r *Receiver[M, C]) dispatch(c C) {
	switch r.policy {
	case Parallel:
		r.pool.Submit(func() { r.callback(c) })
	default:
		r.callback(c)
	}
}

// Latest returns the most recently published value converted to C. It
// fails with a topic-no-data error if nothing has ever been published or
// the topic has been flushed since the last publish.
func (r *Receiver[M, C]) Latest() (C, error) {
	var zero C
	if r.flushed.Load() {
		return zero, noDataError(r.t.info.TopicName)
	}
	seq := r.writeSeq.Load()
	if seq == 0 {
		return zero, noDataError(r.t.info.TopicName)
	}
	slot := &r.slots[seq&r.mask]
	slot.mu.RLock()
	defer slot.mu.RUnlock()
	if slot.seq != seq {
		// overwritten between the Load above and taking the slot lock
		return zero, noDataError(r.t.info.TopicName)
	}
	return r.reverse(slot.msg), nil
}

// Next blocks until a value newer than the last one returned by Next is
// available, or ctx is done (Latest does not affect what Next returns). It fails with a topic-no-data error
// if the topic is flushed, whether that happened before Next started
// waiting or while it was blocked.
func (r *Receiver[M, C]) Next(ctx context.Context) (C, error) {
	var zero C
	for {
		if r.flushed.Load() {
			return zero, noDataError(r.t.info.TopicName)
		}

		last := r.readSeq.Load()
		seq := r.writeSeq.Load()
		if seq > last {
			slot := &r.slots[seq&r.mask]
			slot.mu.RLock()
			valid := slot.seq == seq
			m := slot.msg
			slot.mu.RUnlock()
			if valid {
				r.readSeq.Store(seq)
				if r.t.metrics != nil {
					r.t.metrics.ObserveReceiverQueueDepth(r.t.info.TopicName, int(r.writeSeq.Load()-seq))
				}
				return r.reverse(m), nil
			}
			// raced with an overwrite; retry against the newer sequence
			continue
		}

		wait := r.newData.wait()
		select {
		case <-wait:
			if r.flushed.Load() {
				return zero, noDataError(r.t.info.TopicName)
			}
			continue
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Close detaches the receiver from its topic. Any blocked Next() calls
// return ctx.Err() once their context is cancelled; Close itself does not
// unblock them, callers are expected to cancel their own context first.
func (r *Receiver[M, C]) Close() {
	if r.closed.CompareAndSwap(false, true) {
		r.t.removeReceiver(r.recvID)
	}
}

func (r *Receiver[M, C]) TopicInfo() TopicInfo { return r.t.info }
