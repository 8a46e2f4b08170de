package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Backplane carries frames between relay instances serving the same rooms.
type Backplane interface {
	Publish(ctx context.Context, room string, msg []byte) error
	// Subscribe calls fn for every message published to room, including
	// this instance's own. The returned function ends the subscription.
	Subscribe(ctx context.Context, room string, fn func([]byte)) (unsubscribe func() error, err error)
}

// RedisBackplane is a Backplane on Redis pub/sub, one channel per room.
type RedisBackplane struct {
	client *redis.Client
	prefix string
}

// NewRedisBackplane connects to addr and checks the connection.
func NewRedisBackplane(ctx context.Context, addr string) (*RedisBackplane, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &RedisBackplane{client: client, prefix: "threadsync:room:"}, nil
}

// Channel returns the Redis channel carrying room.
func (b *RedisBackplane) Channel(room string) string {
	return b.prefix + room
}

// Publish implements Backplane.
func (b *RedisBackplane) Publish(ctx context.Context, room string, msg []byte) error {
	return b.client.Publish(ctx, b.Channel(room), msg).Err()
}

// Subscribe implements Backplane.
func (b *RedisBackplane) Subscribe(ctx context.Context, room string, fn func([]byte)) (func() error, error) {
	sub := b.client.Subscribe(ctx, b.Channel(room))
	// Wait for the subscription to be confirmed so nothing published after
	// Subscribe returns is missed.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.Channel(room), err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range sub.Channel() {
			fn([]byte(msg.Payload))
		}
	}()

	return func() error {
		err := sub.Close()
		wg.Wait()
		return err
	}, nil
}

// Close closes the Redis client.
func (b *RedisBackplane) Close() error {
	return b.client.Close()
}
