package lbot

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ConfigStore is the minimal surface Manager needs from a configuration
// backend: a single string lookup. internal/config's Config satisfies this
// structurally, so this package never imports it directly.
type ConfigStore interface {
	GetString(key string) (string, bool)
}

// Metrics is the minimal surface Manager needs from a metrics backend.
// internal/metrics.Registry satisfies this structurally via small
// adapter methods, so this package never imports prometheus directly.
type Metrics interface {
	ObservePut(topic string)
	ObserveMove(topic string)
	ObserveFlush(topic string)
	ObserveReceiverQueueDepth(topic string, depth int)
	ObserveServiceCall(service, outcome string, seconds float64)
	ObserveWorkerDropped()
	ObserveClockWaiterDepth(n int)
	ObservePluginDrainWait(plugin string, seconds float64)
}

type noopMetrics struct{}

func (noopMetrics) ObservePut(string)                         {}
func (noopMetrics) ObserveMove(string)                         {}
func (noopMetrics) ObserveFlush(string)                        {}
func (noopMetrics) ObserveReceiverQueueDepth(string, int)      {}
func (noopMetrics) ObserveServiceCall(string, string, float64) {}
func (noopMetrics) ObserveWorkerDropped()                      {}
func (noopMetrics) ObserveClockWaiterDepth(int)                {}
func (noopMetrics) ObservePluginDrainWait(string, float64)     {}

// Environment is handed to every Node's Init and Cluster's nodes' Init,
// giving access to every shared facility a node might wire itself
// through. Nodes call the package-level NewSender/NewReceiver/NewServer/
// NewClient generic constructors against env.Topics/env.Services, since
// Go has no generic interface methods to hang those off Environment
// itself.
type Environment struct {
	Topics   *TopicRegistry
	Services *ServiceRegistry
	Plugins  *pluginList
	Clock    *Clock
	Pool     *workerPool
	Logger   zerolog.Logger
}

type registeredNode struct {
	node Node
}

type registeredPlugin struct {
	plugin Plugin
	entry  *pluginEntry
}

// Manager owns every shared facility of the fabric: topic registry,
// service registry, plugin list, clock and worker pool, plus the nodes
// and clusters built on top of them. Unlike the original source's global
// singleton, callers construct a Manager explicitly (via New or the
// process-wide Get), which keeps tests hermetic.
type Manager struct {
	mu sync.Mutex

	logger  zerolog.Logger
	clock   *Clock
	pool    *workerPool
	plugins *pluginList
	topics  *TopicRegistry
	svcs    *ServiceRegistry

	nodes       []*registeredNode
	uniqueTypes map[reflect.Type]bool
	clusters    map[string]Cluster
	plugList    []*registeredPlugin

	env        *Environment
	poolCancel context.CancelFunc
	metrics    Metrics
}

// Options configures a Manager at construction time.
type Options struct {
	Logger          zerolog.Logger
	Config          ConfigStore
	WorkerCount     int
	WorkerQueueSize int
	// BroadcastRateLimit, if non-zero, caps parallel-policy receiver
	// callback admission to this many tasks/sec (burst BroadcastRateBurst).
	// Zero disables the limiter entirely.
	BroadcastRateLimit float64
	BroadcastRateBurst int

	Metrics Metrics
}

func clockModeFromConfig(cfg ConfigStore) ClockMode {
	if cfg == nil {
		return ClockSystem
	}
	v, ok := cfg.GetString("/lbot/clock_mode")
	if !ok {
		return ClockSystem
	}
	switch v {
	case "steady":
		return ClockSteady
	case "custom":
		return ClockCustom
	default:
		return ClockSystem
	}
}

// New constructs a fresh Manager. Most processes only ever need one;
// Get() provides a process-wide default for callers that don't want to
// thread a Manager through every constructor.
func New(opts Options) *Manager {
	metricsSink := opts.Metrics
	if metricsSink == nil {
		metricsSink = noopMetrics{}
	}

	pool := newWorkerPool(opts.WorkerCount, opts.WorkerQueueSize, opts.Logger)
	pool.metrics = metricsSink
	if opts.BroadcastRateLimit > 0 {
		pool.SetRateLimit(rate.Limit(opts.BroadcastRateLimit), opts.BroadcastRateBurst)
	}
	plugins := newPluginList(metricsSink)

	m := &Manager{
		logger:      opts.Logger,
		clock:       NewClock(clockModeFromConfig(opts.Config), metricsSink),
		pool:        pool,
		plugins:     plugins,
		topics:      newTopicRegistry(plugins, opts.Logger, metricsSink),
		svcs:        newServiceRegistry(pool, opts.Logger, metricsSink),
		uniqueTypes: make(map[reflect.Type]bool),
		clusters:    make(map[string]Cluster),
		metrics:     metricsSink,
	}
	m.env = &Environment{
		Topics:   m.topics,
		Services: m.svcs,
		Plugins:  m.plugins,
		Clock:    m.clock,
		Pool:     m.pool,
		Logger:   m.logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.poolCancel = cancel
	pool.Start(ctx)

	return m
}

var (
	defaultManager     *Manager
	defaultManagerOnce sync.Once
)

// Get returns the process-wide default Manager, constructing it on first
// use with system-clock defaults and a no-op logger. Processes that need
// custom options should call New directly instead.
func Get() *Manager {
	defaultManagerOnce.Do(func() {
		defaultManager = New(Options{Logger: zerolog.Nop()})
	})
	return defaultManager
}

func (m *Manager) Environment() *Environment { return m.env }
func (m *Manager) Clock() *Clock             { return m.clock }
func (m *Manager) Topics() *TopicRegistry    { return m.topics }
func (m *Manager) Services() *ServiceRegistry { return m.svcs }

// AddNode registers and initializes n. If n implements UniqueType and
// Unique() is true, a second node of the same concrete type is rejected.
func (m *Manager) AddNode(n Node) error {
	m.mu.Lock()
	t := reflect.TypeOf(n)
	if u, ok := n.(UniqueType); ok && u.Unique() {
		if m.uniqueTypes[t] {
			m.mu.Unlock()
			return managementErrorf(n.Name(), "node type %s is unique and already registered", t)
		}
		m.uniqueTypes[t] = true
	}
	m.nodes = append(m.nodes, &registeredNode{node: n})
	m.mu.Unlock()

	if err := n.Init(m.env); err != nil {
		return managementErrorf(n.Name(), "init failed: %v", err)
	}
	return nil
}

// RemoveNode shuts n down and drops it from the manager. Safe to call
// even if n was never added.
func (m *Manager) RemoveNode(n Node) {
	m.mu.Lock()
	for i, rn := range m.nodes {
		if rn.node == n {
			m.nodes = append(m.nodes[:i], m.nodes[i+1:]...)
			if u, ok := n.(UniqueType); ok && u.Unique() {
				delete(m.uniqueTypes, reflect.TypeOf(n))
			}
			break
		}
	}
	m.mu.Unlock()
	n.Shutdown()
}

// AddCluster registers name and initializes every node in it, in slice
// order. If any node fails to initialize, nodes already started are torn
// down in reverse before the error is returned.
func (m *Manager) AddCluster(c Cluster) error {
	m.mu.Lock()
	if _, exists := m.clusters[c.Name()]; exists {
		m.mu.Unlock()
		return managementErrorf(c.Name(), "cluster already registered")
	}
	m.clusters[c.Name()] = c
	m.mu.Unlock()

	started := make([]Node, 0, len(c.Nodes()))
	for _, n := range c.Nodes() {
		if err := m.AddNode(n); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				m.RemoveNode(started[i])
			}
			m.mu.Lock()
			delete(m.clusters, c.Name())
			m.mu.Unlock()
			return fmt.Errorf("cluster %s: %w", c.Name(), err)
		}
		started = append(started, n)
	}
	return nil
}

// RemoveCluster tears down every node in the named cluster, in reverse
// registration order, then forgets the cluster.
func (m *Manager) RemoveCluster(name string) {
	m.mu.Lock()
	c, ok := m.clusters[name]
	if ok {
		delete(m.clusters, name)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	nodes := c.Nodes()
	for i := len(nodes) - 1; i >= 0; i-- {
		m.RemoveNode(nodes[i])
	}
}

// AddPlugin registers p against filter and immediately announces every
// topic already known to the registry that p admits, so a plugin added
// after topics already exist still sees them.
func (m *Manager) AddPlugin(p Plugin, filter Filter) {
	entry := m.plugins.add(p, filter)

	m.mu.Lock()
	m.plugList = append(m.plugList, &registeredPlugin{plugin: p, entry: entry})
	m.mu.Unlock()

	for _, info := range m.topics.Topics() {
		if filter.admits(info.TopicHash) {
			p.AnnounceTopic(info)
		}
	}
}

// RemovePlugin unregisters p, blocking until any dispatch already in
// flight into it completes.
func (m *Manager) RemovePlugin(p Plugin) {
	m.mu.Lock()
	var entry *pluginEntry
	for i, rp := range m.plugList {
		if rp.plugin == p {
			entry = rp.entry
			m.plugList = append(m.plugList[:i], m.plugList[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	if entry != nil {
		m.plugins.remove(entry)
	}
}

// Shutdown tears down every cluster and node (reverse registration
// order), stops the worker pool, and closes the clock so any goroutine
// blocked waiting on it returns.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	clusterNames := make([]string, 0, len(m.clusters))
	for name := range m.clusters {
		clusterNames = append(clusterNames, name)
	}
	m.mu.Unlock()
	for _, name := range clusterNames {
		m.RemoveCluster(name)
	}

	m.mu.Lock()
	nodes := make([]*registeredNode, len(m.nodes))
	copy(nodes, m.nodes)
	m.nodes = nil
	m.mu.Unlock()
	for i := len(nodes) - 1; i >= 0; i-- {
		nodes[i].node.Shutdown()
	}

	m.clock.Close()
	m.poolCancel()
	m.pool.Stop()
}
