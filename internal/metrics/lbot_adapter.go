package metrics

// The methods below give *Registry the shape of internal/lbot.Metrics
// without either package importing the other: lbot defines the interface
// it needs, this package only has to match it structurally.

func (r *Registry) ObservePut(topic string) {
	r.TopicPutTotal.WithLabelValues(topic).Inc()
}

func (r *Registry) ObserveMove(topic string) {
	r.TopicMoveTotal.WithLabelValues(topic).Inc()
}

func (r *Registry) ObserveFlush(topic string) {
	r.TopicFlushTotal.WithLabelValues(topic).Inc()
}

func (r *Registry) ObserveReceiverQueueDepth(topic string, depth int) {
	r.ReceiverQueueDepth.WithLabelValues(topic).Set(float64(depth))
}

func (r *Registry) ObservePluginDrainWait(plugin string, seconds float64) {
	r.PluginDrainWait.WithLabelValues(plugin).Observe(seconds)
}

func (r *Registry) ObserveServiceCall(service, outcome string, seconds float64) {
	r.ServiceCallLatency.WithLabelValues(service, outcome).Observe(seconds)
}

func (r *Registry) ObserveWorkerDropped() {
	r.WorkerPoolDropped.Inc()
}

func (r *Registry) ObserveClockWaiterDepth(n int) {
	r.ClockWaiterDepth.Set(float64(n))
}
