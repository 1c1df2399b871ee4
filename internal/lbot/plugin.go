package lbot

import (
	"sync"
	"sync/atomic"
	"time"
)

// Filter decides which topics a plugin observes, mirroring the original
// source's blacklist/whitelist TopicFilter: in blacklist mode a topic is
// admitted unless its hash is listed, in whitelist mode it is admitted
// only if listed. check(h) = contains(h) == whitelist.
type Filter struct {
	hashes    map[uint64]struct{}
	whitelist bool
}

// NewBlacklistFilter admits every topic except the ones listed.
func NewBlacklistFilter(topics ...string) Filter {
	return newFilter(false, topics)
}

// NewWhitelistFilter admits only the topics listed.
func NewWhitelistFilter(topics ...string) Filter {
	return newFilter(true, topics)
}

func newFilter(whitelist bool, topics []string) Filter {
	set := make(map[uint64]struct{}, len(topics))
	for _, name := range topics {
		set[topicHash(name)] = struct{}{}
	}
	return Filter{hashes: set, whitelist: whitelist}
}

// admits reports whether a topic whose hash is h passes the filter:
// contains(h) == whitelist — in blacklist mode a listed hash is
// excluded, in whitelist mode only a listed hash is included.
func (f Filter) admits(h uint64) bool {
	_, contains := f.hashes[h]
	return contains == f.whitelist
}

// Plugin observes topic announcements and published messages without
// being a regular subscriber: it sits on the trace path every sender
// walks after fanning a message out to its receiver roster.
type Plugin interface {
	// Name identifies the plugin in logs and metrics.
	Name() string
	// AnnounceTopic is called the first time a sender appears on a topic
	// this plugin's filter admits.
	AnnounceTopic(info TopicInfo)
	// HandleMessage is called after every put/move on an admitted topic.
	HandleMessage(info MessageInfo)
}

// MovablePlugin is implemented by a plugin that can accept the zero-copy
// move path instead of always being handed a serialized copy.
type MovablePlugin interface {
	Plugin
	AcceptMove(topic TopicInfo, msg any) bool
}

// pluginEntry wraps a registered plugin with the refcount-guard drain
// protocol from the original source's plugin list: remove() sets
// deleteFlag then blocks until useCount reaches zero, so an in-flight
// dispatch into a plugin being removed always finishes before the
// plugin's resources are released, and a dispatch that starts after
// deleteFlag is set never begins.
type pluginEntry struct {
	plugin Plugin
	filter Filter

	useCount   atomic.Int64
	deleteFlag atomic.Bool
	drained    *broadcaster

	announced sync.Map // topicHash -> struct{}, tracks first-announce
}

func newPluginEntry(p Plugin, f Filter) *pluginEntry {
	return &pluginEntry{plugin: p, filter: f, drained: newBroadcaster()}
}

// acquire returns true if dispatch may proceed, incrementing useCount.
// Callers that get true must call release exactly once.
func (e *pluginEntry) acquire() bool {
	if e.deleteFlag.Load() {
		return false
	}
	e.useCount.Add(1)
	if e.deleteFlag.Load() {
		if e.useCount.Add(-1) == 0 {
			e.drained.broadcast()
		}
		return false
	}
	return true
}

func (e *pluginEntry) release() {
	if e.useCount.Add(-1) == 0 && e.deleteFlag.Load() {
		e.drained.broadcast()
	}
}

// pluginList is the manager-wide insert-at-head list of registered
// plugins, matching the original source's plugin registration order
// (most-recently-added plugin sees a message first).
type pluginList struct {
	mu      sync.Mutex
	entries []*pluginEntry
	metrics Metrics
}

func newPluginList(metrics Metrics) *pluginList {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &pluginList{metrics: metrics}
}

func (l *pluginList) add(p Plugin, f Filter) *pluginEntry {
	e := newPluginEntry(p, f)
	l.mu.Lock()
	l.entries = append([]*pluginEntry{e}, l.entries...)
	l.mu.Unlock()
	return e
}

// remove sets e's delete flag and blocks until any in-flight dispatch
// into it finishes.
func (l *pluginList) remove(e *pluginEntry) {
	l.mu.Lock()
	for i, entry := range l.entries {
		if entry == e {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			break
		}
	}
	l.mu.Unlock()

	start := time.Now()
	e.deleteFlag.Store(true)
	for {
		ch := e.drained.wait()
		if e.useCount.Load() == 0 {
			break
		}
		<-ch
	}
	l.metrics.ObservePluginDrainWait(e.plugin.Name(), time.Since(start).Seconds())
}

func (l *pluginList) snapshot() []*pluginEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*pluginEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// matchingCount returns how many registered plugins admit topicHash,
// used by a topic to decide whether a move has exactly one consumer.
func (l *pluginList) matchingCount(topicHash uint64) int {
	n := 0
	for _, e := range l.snapshot() {
		if e.filter.admits(topicHash) {
			n++
		}
	}
	return n
}

// announce calls AnnounceTopic on every admitting plugin, once per topic
// per plugin.
func (l *pluginList) announce(info TopicInfo) {
	for _, e := range l.snapshot() {
		if !e.filter.admits(info.TopicHash) {
			continue
		}
		if _, already := e.announced.LoadOrStore(info.TopicHash, struct{}{}); already {
			continue
		}
		if !e.acquire() {
			continue
		}
		e.plugin.AnnounceTopic(info)
		e.release()
	}
}

// dispatch calls HandleMessage on every admitting plugin with a lazily
// computed MessageInfo: serialization only happens if at least one
// plugin admits the topic, and only once no matter how many do.
func (l *pluginList) dispatch(info TopicInfo, m any, ts func() MessageInfo) {
	var cached *MessageInfo
	for _, e := range l.snapshot() {
		if !e.filter.admits(info.TopicHash) {
			continue
		}
		if !e.acquire() {
			continue
		}
		if cached == nil {
			built := ts()
			cached = &built
		}
		e.plugin.HandleMessage(*cached)
		e.release()
	}
}

// tryMove offers m to the single admitting plugin's AcceptMove, if any
// plugin both admits the topic and implements MovablePlugin. Returns
// false if no plugin could accept the move.
func (l *pluginList) tryMove(info TopicInfo, m any) bool {
	for _, e := range l.snapshot() {
		if !e.filter.admits(info.TopicHash) {
			continue
		}
		mp, ok := e.plugin.(MovablePlugin)
		if !ok {
			continue
		}
		if !e.acquire() {
			continue
		}
		accepted := mp.AcceptMove(info, m)
		e.release()
		return accepted
	}
	return false
}
