package api

import (
    "sync"
)

// SSEEvent is one fan-out event (build lifecycle, corpus swap). The same
// struct feeds the SSE stream, the WebSocket feed, and webhook payloads.
type SSEEvent struct {
    Type string
    Data map[string]any
}

// subscriberBuffer bounds each subscriber channel. Publish never blocks; a
// subscriber that falls this far behind loses events.
const subscriberBuffer = 8

// Broker is the in-process event fan-out used when no Redis is configured.
type Broker struct {
    mu   sync.Mutex
    subs map[string]map[chan SSEEvent]struct{}
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(topic string) chan SSEEvent {
    ch := make(chan SSEEvent, subscriberBuffer)
    b.mu.Lock()
    defer b.mu.Unlock()
    set, ok := b.subs[topic]
    if !ok {
        set = map[chan SSEEvent]struct{}{}
        b.subs[topic] = set
    }
    set[ch] = struct{}{}
    return ch
}

func (b *Broker) Unsubscribe(topic string, ch chan SSEEvent) {
    b.mu.Lock()
    if set := b.subs[topic]; set != nil {
        delete(set, ch)
        if len(set) == 0 { delete(b.subs, topic) }
    }
    b.mu.Unlock()
    close(ch)
}

func (b *Broker) Publish(topic string, evt SSEEvent) {
    b.mu.Lock()
    defer b.mu.Unlock()
    for ch := range b.subs[topic] {
        select { case ch <- evt: default: }
    }
}
