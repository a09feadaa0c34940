/*
Package notify delivers voucher engine events to user-facing channels.

SINKS:
  LogSink:   Writes every event to the structured log
  RedisSink: Publishes events as JSON on a Redis pub/sub channel, where the
             portal's toast service listens
  Fanout:    Delivers one event to several sinks concurrently

All sinks implement voucher.Notifier. The engine logs and ignores sink
failures, so a dead Redis never fails a voucher operation.
*/
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/superlink/voucher-engine/voucher"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Message is the wire form of an event.
type Message struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Count      int       `json:"count"`
	Failed     int       `json:"failed,omitempty"`
	Batch      string    `json:"batch,omitempty"`
	VoucherIDs []string  `json:"voucherIds,omitempty"`
	At         time.Time `json:"at"`
}

// NewMessage converts an engine event, assigning a fresh message ID.
func NewMessage(ev voucher.Event) Message {
	return Message{
		ID:         uuid.NewString(),
		Type:       string(ev.Type),
		Title:      ev.Title,
		Message:    ev.Message,
		Count:      ev.Count,
		Failed:     ev.Failed,
		Batch:      ev.Batch,
		VoucherIDs: ev.VoucherIDs,
		At:         ev.At.UTC(),
	}
}

// =============================================================================
// LOG SINK
// =============================================================================

// LogSink writes events to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("notify")}
}

func (s *LogSink) Notify(_ context.Context, ev voucher.Event) error {
	s.logger.Info(ev.Title,
		zap.String("type", string(ev.Type)),
		zap.String("message", ev.Message),
		zap.Int("count", ev.Count),
		zap.Int("failed", ev.Failed),
	)
	return nil
}

// =============================================================================
// REDIS SINK
// =============================================================================

// Publisher is the subset of *redis.Client the sink needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes events on a pub/sub channel.
type RedisSink struct {
	client  Publisher
	channel string
	timeout time.Duration
}

func NewRedisSink(client Publisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel, timeout: 2 * time.Second}
}

// NewRedisClient builds a go-redis client from connection settings.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (s *RedisSink) Notify(ctx context.Context, ev voucher.Event) error {
	payload, err := json.Marshal(NewMessage(ev))
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", s.channel, err)
	}
	return nil
}

// =============================================================================
// FANOUT
// =============================================================================

// Fanout delivers every event to all sinks concurrently. It returns the
// first sink error after all sinks have finished.
type Fanout struct {
	sinks []voucher.Notifier
}

func NewFanout(sinks ...voucher.Notifier) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Notify(ctx context.Context, ev voucher.Event) error {
	var g errgroup.Group
	for _, sink := range f.sinks {
		g.Go(func() error {
			return sink.Notify(ctx, ev)
		})
	}
	return g.Wait()
}
