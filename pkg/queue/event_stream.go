package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"livre2main/internal/util"
)

const (
	EventProposalCreated  = "proposal.created"
	EventProposalAccepted = "proposal.accepted"
	EventProposalRejected = "proposal.rejected"
	EventLoanCreated      = "loan.created"
)

// Event is one exchange lifecycle fact published after commit.
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	ProposalID    string    `json:"proposalId,omitempty"`
	EmpruntID     string    `json:"empruntId,omitempty"`
	ActorID       string    `json:"actorId,omitempty"`
	CounterpartID string    `json:"counterpartId,omitempty"`
	BookID        string    `json:"bookId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Publisher appends events to a stream.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

type EventStreamConfig struct {
	Stream     string
	Group      string
	Consumer   string
	Block      time.Duration
	ClaimIdle  time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

// RedisEventStream publishes events with XADD and reads them through a consumer group.
type RedisEventStream struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	block        time.Duration
	claimIdle    time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

func NewRedisEventStream(client *redis.Client, cfg EventStreamConfig) (*RedisEventStream, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("event stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "default"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}
	return &RedisEventStream{
		client:       client,
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		block:        block,
		claimIdle:    claimIdle,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Publish appends evt to the stream, filling ID and OccurredAt when empty.
func (q *RedisEventStream) Publish(ctx context.Context, evt Event) error {
	if strings.TrimSpace(evt.Type) == "" {
		return errors.New("event type required")
	}
	if evt.ID == "" {
		evt.ID = util.NewID()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":    evt.Type,
			"payload": string(payload),
		},
	}).Err()
}

// EnsureGroup creates the consumer group once. Only events published afterwards are delivered.
func (q *RedisEventStream) EnsureGroup(ctx context.Context) error {
	var err error
	q.once.Do(func() {
		err = q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
		if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
			err = nil
		}
	})
	return err
}

// Start runs concurrency consumer loops until ctx is done.
func (q *RedisEventStream) Start(ctx context.Context, concurrency int, handler func(context.Context, Event) error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	_ = q.EnsureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *RedisEventStream) consumeLoop(ctx context.Context, consumer string, handler func(context.Context, Event) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := q.ReadGroup(ctx, consumer, q.block, handler); err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// ReadGroup handles one batch for consumer: first idle pending entries, then new ones.
// Entries whose handler fails stay pending and are reclaimed after ClaimIdle.
func (q *RedisEventStream) ReadGroup(ctx context.Context, consumer string, block time.Duration, handler func(context.Context, Event) error) (int, error) {
	handled := 0
	if msgs, err := q.claimPending(ctx, consumer); err == nil {
		for _, msg := range msgs {
			if q.handleMessage(ctx, msg, handler) {
				handled++
			}
		}
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    q.readCount,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return handled, nil
	}
	if err != nil {
		return handled, err
	}
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			if q.handleMessage(ctx, msg, handler) {
				handled++
			}
		}
	}
	return handled, nil
}

func (q *RedisEventStream) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisEventStream) handleMessage(ctx context.Context, msg redis.XMessage, handler func(context.Context, Event) error) bool {
	raw, _ := msg.Values["payload"].(string)
	var evt Event
	if raw == "" || json.Unmarshal([]byte(raw), &evt) != nil {
		q.ack(ctx, msg.ID)
		return false
	}
	if err := handler(ctx, evt); err != nil {
		return false
	}
	q.ack(ctx, msg.ID)
	return true
}

func (q *RedisEventStream) ack(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
}
