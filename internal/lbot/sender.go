package lbot

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Sender publishes values of container type C onto a topic whose
// canonical message type is M. Unlike Receiver, a Sender isn't tracked in
// the topic's roster — any number of senders may publish to the same
// topic concurrently, they only ever read the roster, never mutate it.
type Sender[M any, C any] struct {
	t       *topic
	forward ForwardAdapter[C, M]
	move    MoveAdapter[C, M]
	logger  zerolog.Logger
	closed  atomic.Bool
}

func newSender[M any, C any](
	t *topic,
	forward ForwardAdapter[C, M],
	move MoveAdapter[C, M],
	logger zerolog.Logger,
) *Sender[M, C] {
	t.announce.Do(func() { t.plugins.announce(t.info) })
	return &Sender[M, C]{t: t, forward: forward, move: move, logger: logger}
}

// Put converts value with the sender's ForwardAdapter and fans it out to
// every receiver and admitting plugin on the topic.
func (s *Sender[M, C]) Put(value C) {
	m := s.forward(value)
	s.t.deliver(m)
}

// Move consumes *value in place (zeroing it) and attempts the zero-copy
// hand-off path, which only succeeds when the topic has exactly one
// consumer. It is a conversion error to call Move on a sender that was
// never given a move adapter. If the fast path isn't available (zero or
// more than one consumer), Move falls back to an ordinary Put of the
// converted value.
func (s *Sender[M, C]) Move(value *C) error {
	if s.move == nil {
		return conversionErrorf(s.t.info.TopicName, "move called without a move-adapter")
	}

	m := s.move(value)
	if s.t.deliverMove(m) {
		return nil
	}

	s.logger.Warn().
		Str("topic", s.t.info.TopicName).
		Msg("move fast path unavailable, falling back to copy delivery")
	s.t.deliver(m)
	return nil
}

// Flush invalidates every receiver's current data on the topic, as if the
// sender had just been destroyed: subscribers blocked in Next unblock with
// a topic-no-data error, and the next Latest on any receiver fails the
// same way until something new is published.
func (s *Sender[M, C]) Flush() {
	s.t.flush()
}

// Close flushes the topic, mirroring the original source's sender
// destructor: on teardown a sender flushes every receiver of its topic so
// no subscriber is left blocked on data that will never come. Safe to
// call more than once.
func (s *Sender[M, C]) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.t.flush()
	}
}

// Trace forces plugin dispatch of value without touching the receiver
// roster, for a sender that wants observers to see a value it is not
// delivering through the normal channel (e.g. a diagnostic snapshot).
func (s *Sender[M, C]) Trace(value C) {
	m := s.forward(value)
	s.t.announce.Do(func() { s.t.plugins.announce(s.t.info) })
	s.t.plugins.dispatch(s.t.info, m, func() MessageInfo {
		return MessageInfo{Topic: s.t.info, Timestamp: time.Now(), Data: serializeMessage(m)}
	})
}

func (s *Sender[M, C]) TopicInfo() TopicInfo { return s.t.info }
