// Package plugins holds the fabric's built-in transport and observer
// plugins: ordinary lbot.Plugin implementations with no special standing
// over a node-authored one.
package plugins

import (
	"github.com/rs/zerolog"

	"github.com/labrat-eu/lbot-go/internal/lbot"
	"github.com/labrat-eu/lbot-go/internal/lbot/msg"
)

// LogSink republishes every message it observes as a structured zerolog
// event and, symmetrically, onto the reserved /log topic via a Sender it
// owns, grounded on the teacher's logger.go field-rich event construction.
type LogSink struct {
	name   string
	logger zerolog.Logger
	sender *lbot.Sender[msg.LogRecord, msg.LogRecord]
}

// NewLogSink builds a LogSink that logs every traced message and also
// republishes it onto the reserved /log topic via a Sender created
// against reg.
func NewLogSink(reg *lbot.TopicRegistry, logger zerolog.Logger) (*LogSink, error) {
	sender, err := lbot.NewSender[msg.LogRecord, msg.LogRecord](reg, "/log", lbot.Identity[msg.LogRecord], nil)
	if err != nil {
		return nil, err
	}
	return &LogSink{name: "logsink", logger: logger, sender: sender}, nil
}

func (l *LogSink) Name() string { return l.name }

func (l *LogSink) AnnounceTopic(info lbot.TopicInfo) {
	l.logger.Debug().
		Str("topic", info.TopicName).
		Str("type", info.TypeHandle.String()).
		Msg("topic announced")
}

func (l *LogSink) HandleMessage(info lbot.MessageInfo) {
	l.logger.Info().
		Str("topic", info.Topic.TopicName).
		Int("bytes", len(info.Data)).
		Time("published_at", info.Timestamp).
		Msg("message traced")

	if l.sender != nil {
		l.sender.Put(msg.LogRecord{
			Level:   "info",
			Message: "message traced",
			Fields:  map[string]string{"topic": info.Topic.TopicName},
			At:      info.Timestamp,
		})
	}
}
