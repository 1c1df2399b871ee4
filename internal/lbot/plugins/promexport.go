package plugins

import (
	"github.com/labrat-eu/lbot-go/internal/lbot"
	"github.com/labrat-eu/lbot-go/internal/metrics"
)

// PromExport exports per-topic message counts via the shared Prometheus
// registry, grounded on the teacher's metrics.go pattern of updating
// pre-registered collectors from the hot path without blocking it.
type PromExport struct {
	reg *metrics.Registry
}

func NewPromExport(reg *metrics.Registry) *PromExport {
	return &PromExport{reg: reg}
}

func (p *PromExport) Name() string { return "promexport" }

func (p *PromExport) AnnounceTopic(info lbot.TopicInfo) {}

func (p *PromExport) HandleMessage(info lbot.MessageInfo) {
	p.reg.PluginTraceTotal.WithLabelValues(info.Topic.TopicName).Inc()
}
