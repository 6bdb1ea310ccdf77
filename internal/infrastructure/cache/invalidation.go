package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultInvalidationChannel is the Pub/Sub channel for cache updates
	DefaultInvalidationChannel = "pricesync:cache:invalidate"
	defaultCloseTimeout        = 5 * time.Second
)

// ErrSubscriptionRunning is returned when Subscribe is called twice
var ErrSubscriptionRunning = errors.New("cache: subscription already running")

// RedisInvalidator implements pricesync.CacheInvalidator over Redis Pub/Sub.
// The caller retains ownership of the client.
type RedisInvalidator struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger

	mu       sync.Mutex
	running  bool
	cancelFn context.CancelFunc
	doneCh   chan struct{}
}

// InvalidatorOption configures a RedisInvalidator
type InvalidatorOption func(*RedisInvalidator)

// WithChannel sets the Pub/Sub channel name
func WithChannel(channel string) InvalidatorOption {
	return func(i *RedisInvalidator) {
		if channel != "" {
			i.channel = channel
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) InvalidatorOption {
	return func(i *RedisInvalidator) {
		i.logger = logger
	}
}

// NewRedisInvalidator creates an invalidator on an existing client
func NewRedisInvalidator(client *redis.Client, opts ...InvalidatorOption) *RedisInvalidator {
	i := &RedisInvalidator{
		client:  client,
		channel: DefaultInvalidationChannel,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Publish sends msg to every subscribed instance
func (i *RedisInvalidator) Publish(ctx context.Context, msg pricesync.CacheUpdateMessage) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := i.client.Publish(ctx, i.channel, data).Err(); err != nil {
		i.logger.Error("Failed to publish cache update message",
			zap.String("channel", i.channel),
			zap.Error(err))
		return fmt.Errorf("failed to publish message: %w", err)
	}

	i.logger.Debug("Published cache update message",
		zap.String("scope", string(msg.Scope)),
		zap.String("tenant_id", msg.TenantID.String()))
	return nil
}

// Subscribe listens for cache updates until ctx is done or Close is called.
// Callbacks run on the subscription goroutine in arrival order.
func (i *RedisInvalidator) Subscribe(ctx context.Context, callback func(msg pricesync.CacheUpdateMessage)) error {
	i.mu.Lock()
	if i.running {
		i.mu.Unlock()
		return ErrSubscriptionRunning
	}
	subCtx, cancel := context.WithCancel(ctx)
	i.running = true
	i.cancelFn = cancel
	i.doneCh = make(chan struct{})
	done := i.doneCh
	i.mu.Unlock()

	defer func() {
		i.mu.Lock()
		i.running = false
		i.mu.Unlock()
		cancel()
		close(done)
	}()

	pubsub := i.client.Subscribe(subCtx, i.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}
	i.logger.Info("Subscribed to cache invalidation channel", zap.String("channel", i.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			i.logger.Info("Cache invalidation subscription stopped")
			return subCtx.Err()
		case m, ok := <-ch:
			if !ok {
				i.logger.Warn("Cache invalidation channel closed")
				return nil
			}
			msg, err := decodeMessage(m.Payload)
			if err != nil {
				i.logger.Error("Failed to unmarshal cache update message",
					zap.String("payload", m.Payload),
					zap.Error(err))
				continue
			}
			i.deliver(callback, msg)
		}
	}
}

func (i *RedisInvalidator) deliver(callback func(pricesync.CacheUpdateMessage), msg pricesync.CacheUpdateMessage) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("Panic in cache update callback", zap.Any("panic", r))
		}
	}()
	callback(msg)
}

// Close stops a running subscription
func (i *RedisInvalidator) Close() error {
	i.mu.Lock()
	cancel, done := i.cancelFn, i.doneCh
	i.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-time.After(defaultCloseTimeout):
		i.logger.Warn("Timeout waiting for subscription to stop")
	}
	return nil
}

func encodeMessage(msg pricesync.CacheUpdateMessage) ([]byte, error) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixNano()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

func decodeMessage(payload string) (pricesync.CacheUpdateMessage, error) {
	var msg pricesync.CacheUpdateMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return msg, err
	}
	if msg.Scope == "" {
		return msg, fmt.Errorf("cache update message without scope")
	}
	return msg, nil
}

var _ pricesync.CacheInvalidator = (*RedisInvalidator)(nil)
