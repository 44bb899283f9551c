package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket event stream with a small subscribe protocol: clients send
// connection_init, then subscribe messages with an optional event-type
// filter; the server answers with next/complete frames.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Events []string `json:"events"`
}

// EventsWSHandler handles /v1/events/ws
func (s *Server) EventsWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	// Track subscriptions: id -> channel
	subs := map[string]chan SSEEvent{}

	// Read loop
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	// Write helper
	write := func(v any) error { return conn.WriteJSON(v) }

	// Expect connection_init first
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "connection_init":
			// Acknowledge
			_ = write(wsMessage{Type: "connection_ack"})
			// Start keepalive
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for range ticker.C {
					if err := write(wsMessage{Type: "ping"}); err != nil {
						return
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			var pl subscribePayload
			_ = json.Unmarshal(msg.Payload, &pl)
			filter := map[string]struct{}{}
			for _, e := range pl.Events {
				if e != "" && e != "*" {
					filter[e] = struct{}{}
				}
			}
			ch := s.Broker.Subscribe(eventsTopic)
			subs[msg.ID] = ch
			// Fanout goroutine
			go func(id string, c chan SSEEvent, filter map[string]struct{}) {
				for evt := range c {
					if len(filter) > 0 {
						if _, ok := filter[evt.Type]; !ok {
							// prefix subscriptions like "build." match all build events
							matched := false
							for f := range filter {
								if strings.HasSuffix(f, ".") && strings.HasPrefix(evt.Type, f) {
									matched = true
									break
								}
							}
							if !matched {
								continue
							}
						}
					}
					payload, _ := json.Marshal(map[string]any{"type": evt.Type, "data": evt.Data})
					_ = write(wsMessage{Type: "next", ID: id, Payload: payload})
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch, filter)
		case "complete":
			if ch, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(eventsTopic, ch)
				delete(subs, msg.ID)
			}
		default:
			// ignore
		}
	}
	// Cleanup
	for id, ch := range subs {
		s.Broker.Unsubscribe(eventsTopic, ch)
		delete(subs, id)
	}
}
