package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStream(t *testing.T) (*RedisEventStream, context.Context) {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q, err := NewRedisEventStream(client, EventStreamConfig{
		Stream:   "test:events",
		Group:    "test-group",
		Consumer: "consumer",
	})
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	ctx := context.Background()
	if err := q.EnsureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	return q, ctx
}

func TestRedisEventStreamPublishAndRead(t *testing.T) {
	q, ctx := newTestStream(t)

	if err := q.Publish(ctx, Event{Type: EventProposalCreated, ProposalID: "p-1", ActorID: "u-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := q.Publish(ctx, Event{Type: EventLoanCreated, EmpruntID: "e-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var got []Event
	n, err := q.ReadGroup(ctx, "consumer-1", -1, func(_ context.Context, evt Event) error {
		got = append(got, evt)
		return nil
	})
	if err != nil {
		t.Fatalf("read group: %v", err)
	}
	if n != 2 || len(got) != 2 {
		t.Fatalf("expected two events, got n=%d events=%+v", n, got)
	}
	if got[0].Type != EventProposalCreated || got[0].ProposalID != "p-1" || got[0].ID == "" || got[0].OccurredAt.IsZero() {
		t.Fatalf("unexpected first event: %+v", got[0])
	}
	if got[1].Type != EventLoanCreated || got[1].EmpruntID != "e-1" {
		t.Fatalf("unexpected second event: %+v", got[1])
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected all events acked, got %d pending", pending.Count)
	}
}

func TestRedisEventStreamHandlerFailureKeepsPending(t *testing.T) {
	q, ctx := newTestStream(t)

	if err := q.Publish(ctx, Event{Type: EventProposalRejected, ProposalID: "p-2"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	n, err := q.ReadGroup(ctx, "consumer-1", -1, func(context.Context, Event) error {
		return errors.New("downstream unavailable")
	})
	if err != nil {
		t.Fatalf("read group: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no handled events, got %d", n)
	}
	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected failed event to stay pending, got %d", pending.Count)
	}
}

func TestRedisEventStreamPublishRequiresType(t *testing.T) {
	q, ctx := newTestStream(t)
	if err := q.Publish(ctx, Event{OccurredAt: time.Now()}); err == nil {
		t.Fatalf("expected missing type to fail")
	}
}
