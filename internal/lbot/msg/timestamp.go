// Package msg holds small message types used by the fabric's own
// reserved topics (/time, /log), kept separate from internal/lbot so node
// code can import them without pulling in the fabric's internals.
package msg

import "time"

// Timestamp is published on /time: the current value of a Manager's
// Clock, broadcast at a fixed cadence in system/steady mode and on every
// SetTime in custom mode.
type Timestamp struct {
	Time time.Time
}

// MarshalTrace implements lbot.Serializable with a stable, human-readable
// encoding for the plugin trace path rather than falling back to the
// default JSON struct tag layout.
func (t Timestamp) MarshalTrace() ([]byte, error) {
	return t.Time.UTC().AppendFormat(nil, time.RFC3339Nano), nil
}

// LogRecord is published on /log by plugins/logsink, giving other nodes a
// typed view of everything that also went to the structured logger.
type LogRecord struct {
	Level   string
	Message string
	Fields  map[string]string
	At      time.Time
}
