package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"sessionqa/internal/session"
)

// Redis persists the session collection as one hash (field = session ID,
// value = JSON record). Saves replace the hash inside MULTI/EXEC.
type Redis struct {
	client *redis.Client
	key    string
}

// OpenRedis connects using a redis:// URL.
func OpenRedis(ctx context.Context, rawURL, key string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	store := NewRedis(redis.NewClient(opts), key)
	if err := store.Ping(ensureContext(ctx)); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return store, nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = "sessionqa:sessions"
	}
	return &Redis{client: client, key: key}
}

// Ping implements Pinger.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ensureContext(ctx)).Err()
}

// Close implements Backend.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Load implements Backend.
func (r *Redis) Load(ctx context.Context) ([]*session.Session, error) {
	values, err := r.client.HGetAll(ensureContext(ctx), r.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	return decodeHash(values)
}

// Save implements Backend.
func (r *Redis) Save(ctx context.Context, sessions []*session.Session) error {
	ctx = ensureContext(ctx)
	fields, err := encodeHash(sessions)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(fields) > 0 {
			pipe.HSet(ctx, r.key, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}
	return nil
}

func encodeHash(sessions []*session.Session) (map[string]any, error) {
	fields := make(map[string]any, len(sessions))
	for _, s := range sessions {
		if s == nil {
			continue
		}
		val, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("encode session %s: %w", s.ID, err)
		}
		fields[s.ID] = string(val)
	}
	return fields, nil
}

func decodeHash(values map[string]string) ([]*session.Session, error) {
	out := make([]*session.Session, 0, len(values))
	for id, raw := range values {
		var s session.Session
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", id, err)
		}
		if s.ID == "" {
			s.ID = id
		}
		out = append(out, &s)
	}
	sortSessions(out)
	return out, nil
}

func sortSessions(sessions []*session.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
}
