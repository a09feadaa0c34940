package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superlink/voucher-engine/voucher"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakePublisher struct {
	mu       sync.Mutex
	channel  string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channel = channel
	if b, ok := message.([]byte); ok {
		p.payloads = append(p.payloads, b)
	}
	cmd := redis.NewIntCmd(ctx)
	if p.err != nil {
		cmd.SetErr(p.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

type countingSink struct {
	mu    sync.Mutex
	count int
	err   error
}

func (s *countingSink) Notify(context.Context, voucher.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return s.err
}

func sampleEvent() voucher.Event {
	return voucher.Event{
		Type:       voucher.EventSuspended,
		Title:      "Vouchers Suspended",
		Message:    "Successfully suspended 2 voucher(s).",
		Count:      2,
		VoucherIDs: []string{"1", "2"},
		At:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRedisSink_PublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewRedisSink(pub, "voucher-events")

	require.NoError(t, sink.Notify(context.Background(), sampleEvent()))

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, "voucher-events", pub.channel)

	var msg Message
	require.NoError(t, json.Unmarshal(pub.payloads[0], &msg))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "vouchers.suspended", msg.Type)
	assert.Equal(t, "Successfully suspended 2 voucher(s).", msg.Message)
	assert.Equal(t, []string{"1", "2"}, msg.VoucherIDs)
}

func TestRedisSink_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	err := NewRedisSink(pub, "events").Notify(context.Background(), sampleEvent())
	assert.ErrorContains(t, err, "connection refused")
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Notify(context.Background(), sampleEvent()))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Vouchers Suspended", entries[0].Message)
	assert.Equal(t, "vouchers.suspended", entries[0].ContextMap()["type"])
}

func TestFanout_DeliversToAllSinks(t *testing.T) {
	a, b := &countingSink{}, &countingSink{err: errors.New("down")}
	c := &countingSink{}

	err := NewFanout(a, b, c).Notify(context.Background(), sampleEvent())

	assert.EqualError(t, err, "down")
	assert.Equal(t, 1, a.count)
	assert.Equal(t, 1, b.count)
	assert.Equal(t, 1, c.count, "one failing sink does not block the others")
}

func TestNewMessage_UniqueIDs(t *testing.T) {
	assert.NotEqual(t, NewMessage(sampleEvent()).ID, NewMessage(sampleEvent()).ID)
}
