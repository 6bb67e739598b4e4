package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SignalR JSON protocol framing: every record ends with 0x1e.
const recordSeparator = 0x1e

// SignalR message types used here.
const (
	msgInvocation = 1
	msgPing       = 6
	msgClose      = 7
)

type signalRMessage struct {
	Type      int               `json:"type"`
	Target    string            `json:"target,omitempty"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// hub is a minimal SignalR-over-websocket client: JSON sub-protocol
// handshake, invocations out, invocations and pings in. It covers exactly
// what the ProjectX rtc hubs need and nothing more.
type hub struct {
	name string
	conn *websocket.Conn
	log  *slog.Logger

	writeMu     sync.Mutex
	readTimeout time.Duration
}

// dialHub connects one hub, passing the bearer token in the query string
// the way the gateway expects, and completes the SignalR handshake.
func dialHub(ctx context.Context, name, rawURL, token string, heartbeat time.Duration, log *slog.Logger) (*hub, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse hub url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s hub: %w", name, err)
	}

	h := &hub{
		name:        name,
		conn:        conn,
		log:         log.With(slog.String("hub", name)),
		readTimeout: 2*heartbeat + 10*time.Second,
	}

	if err := h.writeRecord(map[string]any{"protocol": "json", "version": 1}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s hub handshake write: %w", name, err)
	}

	// The server answers the handshake with a single record, "{}" on
	// success or {"error": "..."} on rejection.
	conn.SetReadDeadline(time.Now().Add(15 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s hub handshake read: %w", name, err)
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(trimRecord(raw), &resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s hub handshake parse: %w", name, err)
	}
	if resp.Error != "" {
		conn.Close()
		return nil, fmt.Errorf("%s hub handshake rejected: %s", name, resp.Error)
	}

	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	return h, nil
}

func trimRecord(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == recordSeparator {
		b = b[:len(b)-1]
	}
	return b
}

func (h *hub) writeRecord(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, recordSeparator)
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.conn.WriteMessage(websocket.TextMessage, b)
}

// invoke sends a non-blocking SignalR invocation (no invocationId, so the
// server won't send a completion back).
func (h *hub) invoke(target string, args ...any) error {
	if args == nil {
		args = []any{}
	}
	return h.writeRecord(map[string]any{
		"type":      msgInvocation,
		"target":    target,
		"arguments": args,
	})
}

func (h *hub) ping() error {
	return h.writeRecord(map[string]any{"type": msgPing})
}

// readLoop pumps inbound records until the connection dies or the server
// sends a close. Every invocation lands in onEvent; per-event failures
// stay inside onEvent and never end the loop.
func (h *hub) readLoop(onEvent func(hubName, target string, args []json.RawMessage)) error {
	for {
		_, frame, err := h.conn.ReadMessage()
		if err != nil {
			return err
		}
		h.conn.SetReadDeadline(time.Now().Add(h.readTimeout))

		// One websocket frame may carry several SignalR records.
		for _, record := range splitRecords(frame) {
			var msg signalRMessage
			if err := json.Unmarshal(record, &msg); err != nil {
				h.log.Warn("unparseable hub record dropped", "error", err)
				continue
			}
			switch msg.Type {
			case msgInvocation:
				onEvent(h.name, msg.Target, msg.Arguments)
			case msgPing:
				if err := h.ping(); err != nil {
					return err
				}
			case msgClose:
				if msg.Error != "" {
					return fmt.Errorf("%s hub closed by server: %s", h.name, msg.Error)
				}
				return fmt.Errorf("%s hub closed by server", h.name)
			}
		}
	}
}

func splitRecords(frame []byte) [][]byte {
	var records [][]byte
	start := 0
	for i, b := range frame {
		if b == recordSeparator {
			if i > start {
				records = append(records, frame[start:i])
			}
			start = i + 1
		}
	}
	if start < len(frame) {
		records = append(records, frame[start:])
	}
	return records
}

func (h *hub) close() {
	h.conn.Close()
}
