package plugins

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/labrat-eu/lbot-go/internal/lbot"
)

// FoxgloveBridge serves a minimal Foxglove-WebSocket-style introspection
// feed: every connected client receives a JSON envelope per traced
// message. Grounded on the pack's websocket-hub pattern (a registered
// client set, a broadcast fan-out, clean removal on disconnect) but built
// on gorilla/websocket's higher-level API rather than raw frame handling,
// since the JSON envelope here needs structured message framing the
// frame-level library would only add boilerplate for.
type FoxgloveBridge struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

type foxgloveEnvelope struct {
	Topic     string `json:"topic"`
	Timestamp int64  `json:"timestamp_unix_nano"`
	Data      []byte `json:"data"`
}

func NewFoxgloveBridge() *FoxgloveBridge {
	return &FoxgloveBridge{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

func (b *FoxgloveBridge) Name() string { return "foxglovebridge" }

func (b *FoxgloveBridge) AnnounceTopic(info lbot.TopicInfo) {}

func (b *FoxgloveBridge) HandleMessage(info lbot.MessageInfo) {
	envelope, err := json.Marshal(foxgloveEnvelope{
		Topic:     info.Topic.TopicName,
		Timestamp: info.Timestamp.UnixNano(),
		Data:      info.Data,
	})
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		if err := c.WriteMessage(websocket.TextMessage, envelope); err != nil {
			c.Close()
			delete(b.clients, c)
		}
	}
}

// ServeHTTP upgrades a connection and registers it for broadcast. The
// caller mounts this at the bridge's listen address (e.g. "/foxglove").
func (b *FoxgloveBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	b.mu.Lock()
	b.clients[conn] = struct{}{}
	b.mu.Unlock()

	go b.drain(conn)
}

// drain discards inbound frames (this bridge is publish-only to clients)
// until the connection closes, at which point the client is deregistered.
func (b *FoxgloveBridge) drain(conn *websocket.Conn) {
	defer func() {
		b.mu.Lock()
		delete(b.clients, conn)
		b.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
