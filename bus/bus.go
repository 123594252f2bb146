// Package bus decouples the server instance that produces a domain event
// from the instance holding the relevant live connections. It forwards
// serialized events through the shared Redis pub/sub primitive and routes
// received messages to in-process handlers by exact channel name or
// wildcard pattern. Delivery is at-most-once and best-effort; ordering is
// only guaranteed per-channel from a single publisher.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Decoder turns a raw payload into its domain event type.
type Decoder func(data []byte) (any, error)

// Handler consumes a decoded event received on a channel.
type Handler func(ctx context.Context, channel string, event any)

type route struct {
	decode  Decoder
	handler Handler
}

// Bus is the Redis-backed publish/subscribe layer. The channel-to-type
// routing table is closed at Start; registrations after that fail.
type Bus struct {
	client *redis.Client
	logger *slog.Logger

	mu       sync.Mutex
	exact    map[string]route
	patterns map[string]route
	started  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(client *redis.Client, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		client:   client,
		logger:   logger,
		exact:    make(map[string]route),
		patterns: make(map[string]route),
	}
}

// Publish serializes the payload and forwards it on the channel. Callers
// treat failures as transient delivery errors: logged, never propagated
// to the triggering request.
func (b *Bus) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize payload for %q: %w", channel, err)
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish on %q: %w", channel, err)
	}
	return nil
}

// Handle registers the decoder and handler for an exact channel name.
func (b *Bus) Handle(channel string, decode Decoder, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return errors.New("bus already started; routing table is closed")
	}
	if _, dup := b.exact[channel]; dup {
		return fmt.Errorf("duplicate handler for channel %q", channel)
	}
	b.exact[channel] = route{decode: decode, handler: h}
	return nil
}

// HandlePattern registers the decoder and handler for a wildcard pattern
// such as "ready:*".
func (b *Bus) HandlePattern(pattern string, decode Decoder, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return errors.New("bus already started; routing table is closed")
	}
	if _, dup := b.patterns[pattern]; dup {
		return fmt.Errorf("duplicate handler for pattern %q", pattern)
	}
	b.patterns[pattern] = route{decode: decode, handler: h}
	return nil
}

// Start resolves the routing table and begins consuming. It returns after
// the subscriptions are confirmed; dispatch runs on background goroutines
// until Close.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return errors.New("bus already started")
	}
	b.started = true
	channels := make([]string, 0, len(b.exact))
	for ch := range b.exact {
		channels = append(channels, ch)
	}
	patterns := make([]string, 0, len(b.patterns))
	for p := range b.patterns {
		patterns = append(patterns, p)
	}
	b.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	if len(channels) > 0 {
		sub := b.client.Subscribe(ctx, channels...)
		if _, err := sub.Receive(ctx); err != nil {
			cancel()
			return fmt.Errorf("failed to subscribe: %w", err)
		}
		b.consume(runCtx, sub, false)
	}
	if len(patterns) > 0 {
		psub := b.client.PSubscribe(ctx, patterns...)
		if _, err := psub.Receive(ctx); err != nil {
			cancel()
			return fmt.Errorf("failed to psubscribe: %w", err)
		}
		b.consume(runCtx, psub, true)
	}
	return nil
}

func (b *Bus) consume(ctx context.Context, sub *redis.PubSub, byPattern bool) {
	ch := sub.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer sub.Close()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.dispatch(ctx, msg, byPattern)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (b *Bus) dispatch(ctx context.Context, msg *redis.Message, byPattern bool) {
	var rt route
	var ok bool
	key := msg.Channel
	if byPattern {
		key = msg.Pattern
		rt, ok = b.patterns[key]
	} else {
		rt, ok = b.exact[key]
	}
	if !ok {
		// no local route; silently dropped, there is no replay log
		return
	}
	event, err := rt.decode([]byte(msg.Payload))
	if err != nil {
		b.logger.Warn("dropping undecodable bus message",
			"channel", msg.Channel, "error", err)
		return
	}
	rt.handler(ctx, msg.Channel, event)
}

// Close stops consumption and waits for in-flight dispatches to finish.
func (b *Bus) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}
