package api

import (
    "context"
    "encoding/json"
    "os"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"
)

// EventBroker fans build and corpus events out to live subscribers. The
// in-memory Broker serves a single process; RedisBroker spans replicas so a
// rebuild on one instance reaches SSE/WS clients on all of them.
type EventBroker interface {
    Subscribe(topic string) chan SSEEvent
    Unsubscribe(topic string, ch chan SSEEvent)
    Publish(topic string, evt SSEEvent)
}

// RedisBroker implements EventBroker over Redis pub/sub.
type RedisBroker struct {
    rdb *redis.Client

    mu   sync.Mutex
    open map[chan SSEEvent]*redis.PubSub
}

func NewRedisBroker() (*RedisBroker, error) {
    opt, err := redis.ParseURL(os.Getenv("REDIS_URL"))
    if err != nil { return nil, err }
    return &RedisBroker{rdb: redis.NewClient(opt), open: map[chan SSEEvent]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(topic string) chan SSEEvent {
    ch := make(chan SSEEvent, 16)
    ctx := context.Background()
    ps := b.rdb.Subscribe(ctx, b.channel(topic))
    // confirm the subscription before handing the channel out
    _, _ = ps.Receive(ctx)
    b.mu.Lock()
    b.open[ch] = ps
    b.mu.Unlock()
    go func() {
        for msg := range ps.Channel() {
            var evt SSEEvent
            if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
                select { case ch <- evt: default: }
            }
        }
        close(ch)
    }()
    return ch
}

// Unsubscribe closes the underlying pub/sub; the reader goroutine then
// drains out and closes the channel.
func (b *RedisBroker) Unsubscribe(topic string, ch chan SSEEvent) {
    b.mu.Lock()
    ps := b.open[ch]
    delete(b.open, ch)
    b.mu.Unlock()
    if ps != nil { _ = ps.Close() }
}

func (b *RedisBroker) Publish(topic string, evt SSEEvent) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    data, _ := json.Marshal(evt)
    _ = b.rdb.Publish(ctx, b.channel(topic), data).Err()
}

func (b *RedisBroker) channel(topic string) string { return "sitescore:events:" + topic }
