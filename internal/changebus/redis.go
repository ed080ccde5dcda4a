package changebus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed bus, following the same
// connection-pool tuning the teacher's queue package applies to its own
// Redis client.
type RedisConfig struct {
	RedisURL string
	Prefix   string
}

// DefaultRedisConfig returns sane defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{RedisURL: "redis://localhost:6379/0", Prefix: "mailstate"}
}

// Redis implements Bus over go-redis/v9 pub/sub: one channel per account,
// JSON-encoded events.
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedis dials Redis and verifies connectivity before returning.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.MaxRetries = 3
	opts.MinRetryBackoff = 100 * time.Millisecond
	opts.MaxRetryBackoff = time.Second
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 10

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Redis{client: client, cfg: cfg}, nil
}

func (b *Redis) channel(accountID uint32) string {
	return fmt.Sprintf("%s:changes:%d", b.cfg.Prefix, accountID)
}

type wireEvent struct {
	AccountID      uint32           `json:"account_id"`
	OwnerAccountID uint32           `json:"owner_account_id"`
	Types          []wireTypeChange `json:"types"`
}

type wireTypeChange struct {
	Type   TypeState `json:"type"`
	Modseq uint64    `json:"modseq"`
}

func (b *Redis) Publish(ctx context.Context, accountID, ownerAccountID uint32, changes []StateChange) error {
	payload := wireEvent{AccountID: accountID, OwnerAccountID: ownerAccountID}
	for _, c := range changes {
		payload.Types = append(payload.Types, wireTypeChange{Type: c.Type, Modseq: c.Modseq})
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	return b.client.Publish(ctx, b.channel(accountID), data).Err()
}

func (b *Redis) Subscribe(ctx context.Context, accountID uint32, types TypeSet) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channel(accountID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", b.channel(accountID), err)
	}

	sub := &redisSub{
		accountID: accountID,
		types:     types,
		pubsub:    pubsub,
		ch:        make(chan Event, 256),
	}
	go sub.pump()
	return sub, nil
}

func (b *Redis) Close() error {
	return b.client.Close()
}

type redisSub struct {
	accountID uint32
	types     TypeSet
	pubsub    *redis.PubSub
	ch        chan Event
}

func (s *redisSub) Events() <-chan Event { return s.ch }

func (s *redisSub) Close() {
	s.pubsub.Close()
}

func (s *redisSub) pump() {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		var payload wireEvent
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			continue
		}
		var relevant []StateChange
		for _, t := range payload.Types {
			if s.types.Has(t.Type) {
				relevant = append(relevant, StateChange{Type: t.Type, Modseq: t.Modseq})
			}
		}
		if len(relevant) == 0 {
			continue
		}
		s.ch <- Event{AccountID: payload.AccountID, OwnerAccountID: payload.OwnerAccountID, Changes: relevant}
	}
}
