package plugins

import (
	"context"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/labrat-eu/lbot-go/internal/lbot"
)

// KafkaBridge is the franz-go counterpart to NATSBridge: same shape,
// second transport, grounded on the pack's Kafka consumer variant of the
// same WebSocket relay codebase.
type KafkaBridge struct {
	client      *kgo.Client
	topicPrefix string
}

func NewKafkaBridge(brokers []string, topicPrefix string) (*KafkaBridge, error) {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, err
	}
	return &KafkaBridge{client: client, topicPrefix: topicPrefix}, nil
}

func (b *KafkaBridge) Name() string { return "kafkabridge" }

func (b *KafkaBridge) AnnounceTopic(info lbot.TopicInfo) {}

func (b *KafkaBridge) HandleMessage(info lbot.MessageInfo) {
	record := &kgo.Record{
		Topic: b.kafkaTopic(info.Topic.TopicName),
		Value: info.Data,
	}
	b.client.Produce(context.Background(), record, nil)
}

func (b *KafkaBridge) kafkaTopic(topicName string) string {
	return b.topicPrefix + strings.ReplaceAll(strings.TrimPrefix(topicName, "/"), "/", ".")
}

// Consume runs a polling loop over the given Kafka topics, republishing
// each record as a raw []byte message on the matching local lbot topic.
// Blocks until ctx is done.
func (b *KafkaBridge) Consume(ctx context.Context, reg *lbot.TopicRegistry, topics map[string]string) error {
	senders := make(map[string]*lbot.Sender[[]byte, []byte], len(topics))
	for kafkaTopic, localTopic := range topics {
		s, err := lbot.NewSender[[]byte, []byte](reg, localTopic, lbot.Identity[[]byte], lbot.IdentityMove[[]byte])
		if err != nil {
			return err
		}
		senders[kafkaTopic] = s
	}

	b.client.AddConsumeTopics(kafkaTopicsOf(topics)...)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fetches := b.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		fetches.EachRecord(func(r *kgo.Record) {
			if s, ok := senders[r.Topic]; ok {
				s.Put(r.Value)
			}
		})
	}
}

func kafkaTopicsOf(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func (b *KafkaBridge) Close() {
	b.client.Close()
}
