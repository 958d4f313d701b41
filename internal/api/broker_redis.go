package api

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so that every API replica
// sees the progress of jobs solved by any other.
type RedisBroker struct {
	rdb *redis.Client

	mu  sync.Mutex
	pss map[chan SSEEvent]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisBroker{rdb: redis.NewClient(opt), pss: map[chan SSEEvent]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(jobID string) chan SSEEvent {
	ch := make(chan SSEEvent, 32)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(jobID))
	// wait for the subscription confirmation so no event published after Subscribe is missed
	if _, err := ps.Receive(ctx); err != nil {
		log.Printf("[broker] subscribe %s: %v", jobID, err)
	}
	b.mu.Lock()
	b.pss[ch] = ps
	b.mu.Unlock()
	go func() {
		for msg := range ps.Channel() {
			var evt SSEEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			b.mu.Lock()
			if _, ok := b.pss[ch]; ok {
				select {
				case ch <- evt:
				default:
				}
			}
			b.mu.Unlock()
		}
	}()
	return ch
}

func (b *RedisBroker) Unsubscribe(jobID string, ch chan SSEEvent) {
	b.mu.Lock()
	ps, ok := b.pss[ch]
	delete(b.pss, ch)
	if ok {
		close(ch)
	}
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(jobID string, evt SSEEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(evt)
	if err := b.rdb.Publish(ctx, b.chanName(jobID), data).Err(); err != nil {
		log.Printf("[broker] publish %s: %v", jobID, err)
	}
}

func (b *RedisBroker) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }

func (b *RedisBroker) Close() error { return b.rdb.Close() }

func (b *RedisBroker) chanName(jobID string) string { return "job:" + jobID }
