package syncmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

// Message is the status tuple exchanged between contexts. It never carries
// the plan itself.
type Message struct {
	ItineraryID  string            `json:"itinerary_id"`
	Version      int64             `json:"version"`
	LastModified time.Time         `json:"last_modified"`
	SyncStatus   models.SyncStatus `json:"sync_status"`
	Origin       string            `json:"origin"`
}

// Channel is a publish/subscribe bus shared by every context.
type Channel interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe returns a message stream and a cleanup function that must be
	// called to unsubscribe.
	Subscribe(ctx context.Context) (<-chan Message, func(), error)
	Close() error
}

var (
	_ Channel = (*LocalChannel)(nil)
	_ Channel = (*RedisChannel)(nil)
)

// LocalChannel connects contexts living in one process. Slow subscribers
// lose messages instead of blocking the publisher.
type LocalChannel struct {
	mu          sync.RWMutex
	subscribers map[string]chan Message
	bufferSize  int
	closed      bool
}

func NewLocalChannel(bufferSize int) *LocalChannel {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &LocalChannel{subscribers: make(map[string]chan Message), bufferSize: bufferSize}
}

func (c *LocalChannel) Publish(ctx context.Context, msg Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return models.ErrChannelClosed
	}
	for _, ch := range c.subscribers {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func (c *LocalChannel) Subscribe(context.Context) (<-chan Message, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, models.ErrChannelClosed
	}
	id := uuid.NewString()
	ch := make(chan Message, c.bufferSize)
	c.subscribers[id] = ch
	cleanup := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(sub)
		}
	}
	return ch, cleanup, nil
}

func (c *LocalChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for id, ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, id)
	}
	return nil
}

// DefaultRedisChannel is the pub/sub channel name used across instances.
const DefaultRedisChannel = "planner:itinerary-sync"

// RedisChannel connects contexts across processes through Redis pub/sub.
type RedisChannel struct {
	logger *zap.Logger
	client redis.UniversalClient
	name   string
}

func NewRedisChannel(client redis.UniversalClient, name string, logger *zap.Logger) *RedisChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	if name == "" {
		name = DefaultRedisChannel
	}
	return &RedisChannel{logger: logger, client: client, name: name}
}

func (c *RedisChannel) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding sync message: %w", err)
	}
	if err := c.client.Publish(ctx, c.name, string(raw)).Err(); err != nil {
		return fmt.Errorf("publishing sync message: %w", err)
	}
	return nil
}

func (c *RedisChannel) Subscribe(ctx context.Context) (<-chan Message, func(), error) {
	pubsub := c.client.Subscribe(ctx, c.name)
	out := make(chan Message, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		in := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					c.logger.Warn("Dropping malformed sync message", zap.String("channel", c.name), zap.Error(err))
					continue
				}
				select {
				case out <- msg:
				case <-done:
					return
				}
			}
		}
	}()
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
	return out, cleanup, nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (c *RedisChannel) Close() error { return nil }
