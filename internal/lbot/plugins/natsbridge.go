package plugins

import (
	"strings"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/labrat-eu/lbot-go/internal/lbot"
)

// NATSBridge republishes every traced message onto a NATS subject derived
// from its topic name, and can symmetrically feed external NATS messages
// into a local topic via a Sender. Grounded on the teacher's JetStream
// consumer wiring in server.go: a persistent connection, subject derived
// from routing info, and a pause flag flipped under backpressure instead
// of unbounded buffering.
type NATSBridge struct {
	conn          *nats.Conn
	subjectPrefix string
	limiter       *rate.Limiter
	paused        atomic.Bool
}

// NewNATSBridge connects to url (per nats.Connect's own retry/backoff
// policy) and republishes under subjectPrefix + the topic name with "/"
// mapped to ".". rateLimit of 0 disables the publish-side limiter.
func NewNATSBridge(url, subjectPrefix string, rateLimit float64, burst int) (*NATSBridge, error) {
	conn, err := nats.Connect(url, nats.Name("lbot-natsbridge"))
	if err != nil {
		return nil, err
	}
	b := &NATSBridge{conn: conn, subjectPrefix: subjectPrefix}
	if rateLimit > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(rateLimit), burst)
	}
	return b, nil
}

func (b *NATSBridge) Name() string { return "natsbridge" }

func (b *NATSBridge) AnnounceTopic(info lbot.TopicInfo) {}

// Pause stops outbound publishing without tearing down the connection,
// used when a downstream consumer signals it can't keep up.
func (b *NATSBridge) Pause(p bool) { b.paused.Store(p) }

func (b *NATSBridge) HandleMessage(info lbot.MessageInfo) {
	if b.paused.Load() {
		return
	}
	if b.limiter != nil && !b.limiter.Allow() {
		return
	}
	subject := b.subject(info.Topic.TopicName)
	_ = b.conn.Publish(subject, info.Data)
}

func (b *NATSBridge) subject(topicName string) string {
	return b.subjectPrefix + strings.ReplaceAll(strings.TrimPrefix(topicName, "/"), "/", ".")
}

// FeedInto subscribes to the NATS subject corresponding to topicName and
// republishes every received payload as a raw []byte message on the
// local topic via a Sender, the inbound half of the bridge.
func (b *NATSBridge) FeedInto(reg *lbot.TopicRegistry, topicName string) (*nats.Subscription, error) {
	sender, err := lbot.NewSender[[]byte, []byte](reg, topicName, lbot.Identity[[]byte], lbot.IdentityMove[[]byte])
	if err != nil {
		return nil, err
	}
	return b.conn.Subscribe(b.subject(topicName), func(m *nats.Msg) {
		sender.Put(m.Data)
	})
}

func (b *NATSBridge) Close() {
	b.conn.Close()
}
