package lbot

import (
	"reflect"
	"sync"

	"github.com/rs/zerolog"
)

// TopicRegistry owns every topic known to a Manager, keyed by name. A
// topic's message type is fixed at first use; a later sender or receiver
// naming the same topic with a different M is a configuration error
// rather than something the registry silently allows.
type TopicRegistry struct {
	mu      sync.RWMutex
	topics  map[string]*topic
	plugins *pluginList
	logger  zerolog.Logger
	metrics Metrics
}

func newTopicRegistry(plugins *pluginList, logger zerolog.Logger, metrics Metrics) *TopicRegistry {
	return &TopicRegistry{
		topics:  make(map[string]*topic),
		plugins: plugins,
		logger:  logger,
		metrics: metrics,
	}
}

func (r *TopicRegistry) getOrCreate(name string, typeHandle reflect.Type) (*topic, error) {
	r.mu.RLock()
	t, ok := r.topics[name]
	r.mu.RUnlock()
	if ok {
		if t.info.TypeHandle != typeHandle {
			return nil, conversionErrorf(name, "topic %q already registered with type %s, got %s",
				name, t.info.TypeHandle, typeHandle)
		}
		return t, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.topics[name]; ok {
		if t.info.TypeHandle != typeHandle {
			return nil, conversionErrorf(name, "topic %q already registered with type %s, got %s",
				name, t.info.TypeHandle, typeHandle)
		}
		return t, nil
	}

	t = newTopic(name, typeHandle, r.plugins, r.metrics)
	r.topics[name] = t
	return t, nil
}

func (r *TopicRegistry) lookup(name string) (*topic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.topics[name]
	return t, ok
}

// Topics returns the TopicInfo for every topic currently registered.
func (r *TopicRegistry) Topics() []TopicInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TopicInfo, 0, len(r.topics))
	for _, t := range r.topics {
		out = append(out, t.info)
	}
	return out
}

// NewSender creates a Sender[M, C] publishing to the named topic, creating
// the topic on first use. move may be nil if the endpoint never uses the
// zero-copy path.
func NewSender[M any, C any](
	reg *TopicRegistry,
	name string,
	forward ForwardAdapter[C, M],
	move MoveAdapter[C, M],
) (*Sender[M, C], error) {
	var zero M
	t, err := reg.getOrCreate(name, reflect.TypeOf(zero))
	if err != nil {
		return nil, err
	}
	return newSender[M, C](t, forward, move, reg.logger), nil
}

// NewReceiver creates a Receiver[M, C] subscribed to the named topic,
// creating the topic on first use. callback may be nil for a pull-only
// (Latest/Next) receiver, in which case policy is ignored.
func NewReceiver[M any, C any](
	reg *TopicRegistry,
	name string,
	reverse ReverseAdapter[M, C],
	ringLen int,
	policy ExecutionPolicy,
	callback func(C),
	pool *workerPool,
) (*Receiver[M, C], error) {
	var zero M
	t, err := reg.getOrCreate(name, reflect.TypeOf(zero))
	if err != nil {
		return nil, err
	}
	return newReceiver[M, C](t, reverse, ringLen, policy, callback, pool), nil
}
