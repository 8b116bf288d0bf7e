package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the redis-backed provider.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// LookupTimeout bounds each query; lookups are best-effort
	// enrichment and must not stall a bridge attempt.
	LookupTimeout time.Duration
}

// Redis reads account documents and emergency-number sets from redis.
// Documents live as JSON under account:<id>; enabled numbers are a set
// under account:<id>:e911.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedis connects and verifies the server is reachable.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	slog.Info("connected to redis", "addr", cfg.Addr)

	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Redis{client: client, timeout: timeout}, nil
}

func accountKey(accountID string) string { return "account:" + accountID }

func emergencyNumbersKey(accountID string) string { return "account:" + accountID + ":e911" }

func (r *Redis) Account(ctx context.Context, accountID string) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := r.client.Get(ctx, accountKey(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch account %s: %w", accountID, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", accountID, err)
	}
	if doc.ID == "" {
		doc.ID = accountID
	}
	return &doc, nil
}

func (r *Redis) EmergencyNumbers(ctx context.Context, accountID string) (map[string]struct{}, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	members, err := r.client.SMembers(ctx, emergencyNumbersKey(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch emergency numbers for %s: %w", accountID, err)
	}
	set := make(map[string]struct{}, len(members))
	for _, n := range members {
		set[n] = struct{}{}
	}
	return set, nil
}

// Close releases the redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
