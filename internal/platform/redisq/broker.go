// Package redisq implements queue.Broker on Redis Streams.
//
// Each message is a stream entry read through a consumer group. An entry
// stays in the group's pending list until it is acknowledged, so a worker
// that dies mid-job leaves it behind for XAUTOCLAIM to hand to another
// consumer once it has been idle for ClaimIdle.
package redisq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/queue"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

const (
	fieldPayload = "payload"
	fieldAttempt = "attempt"
)

// Config describes the stream and consumer group a Broker uses.
type Config struct {
	Stream   string
	Group    string
	Consumer string
	// ClaimIdle is the minimum idle time before a pending entry is reclaimed.
	ClaimIdle time.Duration
	// Block bounds each XREADGROUP wait.
	Block time.Duration
	// RetryDelay is waited before a retried entry is re-added to the stream.
	RetryDelay time.Duration
}

// Broker is a Redis Streams queue.
type Broker struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger
}

// Compile-time check that Broker implements queue.Broker.
var _ queue.Broker = (*Broker)(nil)

// Dial connects to the Redis server at url and prepares the consumer group.
func Dial(ctx context.Context, url string, cfg Config, logger *slog.Logger) (*Broker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid broker url: %w", err)
	}
	return New(ctx, redis.NewClient(opts), cfg, logger)
}

// New prepares the consumer group on client. The connection is retried
// with exponential backoff while Redis starts up.
func New(ctx context.Context, client *redis.Client, cfg Config, logger *slog.Logger) (*Broker, error) {
	if cfg.Consumer == "" {
		host, _ := os.Hostname()
		cfg.Consumer = fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	b := &Broker{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "redis_broker", "stream", cfg.Stream, "consumer", cfg.Consumer),
	}

	backoff := retry.WithMaxRetries(5, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			b.logger.Warn("redis ping failed", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	err = client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return b, nil
}

// Publish appends payload to the stream.
func (b *Broker) Publish(ctx context.Context, payload []byte) error {
	return b.add(ctx, b.client, payload, 1)
}

func (b *Broker) add(ctx context.Context, c redis.Cmdable, payload []byte, attempt int) error {
	err := c.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.Stream,
		Values: map[string]interface{}{
			fieldPayload: payload,
			fieldAttempt: attempt,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}

// Consume reads new entries and reclaims stale ones until ctx is done.
func (b *Broker) Consume(ctx context.Context, handler queue.Handler) error {
	claimEvery := b.cfg.ClaimIdle / 2
	if claimEvery <= 0 {
		claimEvery = time.Second
	}
	nextClaim := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if b.cfg.ClaimIdle > 0 && !time.Now().Before(nextClaim) {
			if err := b.reclaim(ctx, handler); err != nil && ctx.Err() == nil {
				b.logger.Warn("failed to reclaim pending entries", "error", err)
			}
			nextClaim = time.Now().Add(claimEvery)
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			Streams:  []string{b.cfg.Stream, ">"},
			Count:    1,
			Block:    b.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Error("xreadgroup failed", "error", err)
			if !sleep(ctx, b.cfg.RetryDelay) {
				return ctx.Err()
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				b.handle(ctx, msg, false, handler)
			}
		}
	}
}

// reclaim takes over entries that other consumers left unacknowledged.
func (b *Broker) reclaim(ctx context.Context, handler queue.Handler) error {
	start := "0-0"
	for {
		msgs, next, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   b.cfg.Stream,
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			MinIdle:  b.cfg.ClaimIdle,
			Start:    start,
			Count:    10,
		}).Result()
		if err != nil {
			return err
		}

		for _, msg := range msgs {
			b.logger.Info("reclaimed stale entry", "message_id", msg.ID)
			b.handle(ctx, msg, true, handler)
		}

		if next == "0-0" || len(msgs) == 0 {
			return nil
		}
		start = next
	}
}

func (b *Broker) handle(ctx context.Context, msg redis.XMessage, reclaimed bool, handler queue.Handler) {
	d := queue.Delivery{
		ID:      msg.ID,
		Payload: []byte(stringValue(msg.Values[fieldPayload])),
		Attempt: 1,
	}
	if n, err := strconv.Atoi(stringValue(msg.Values[fieldAttempt])); err == nil && n > 0 {
		d.Attempt = n
	}
	if reclaimed {
		d.Attempt++
	}

	log := b.logger.With("message_id", msg.ID, "attempt", d.Attempt)

	ack := handler(ctx, d)
	log.Debug("delivery handled", "ack", ack.String())

	// Acknowledge on a fresh context so a shutdown does not strand a finished entry.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	switch ack {
	case queue.AckDone:
		if err := b.client.XAck(ackCtx, b.cfg.Stream, b.cfg.Group, msg.ID).Err(); err != nil {
			log.Error("failed to acknowledge entry", "error", err)
		}
	case queue.AckRetry:
		if !sleep(ctx, b.cfg.RetryDelay) {
			return
		}
		_, err := b.client.TxPipelined(ackCtx, func(pipe redis.Pipeliner) error {
			if err := b.add(ackCtx, pipe, d.Payload, d.Attempt+1); err != nil {
				return err
			}
			return pipe.XAck(ackCtx, b.cfg.Stream, b.cfg.Group, msg.ID).Err()
		})
		if err != nil {
			log.Error("failed to requeue entry", "error", err)
		}
	case queue.AckAbandon:
		log.Warn("entry left pending for reclaim")
	}
}

// Ping checks the Redis connection.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (b *Broker) Close() error {
	return b.client.Close()
}

func stringValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// sleep waits for d or until ctx is done, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
