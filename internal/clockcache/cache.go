// Package clockcache keeps the latest clock of every running session in
// Redis so a restart can resume from a fresher copy than Postgres holds.
package clockcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"staked-arena/internal/clock"
	"staked-arena/internal/session"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("clock snapshot not found")

const (
	defaultKeyPrefix = "arena:clock:"
	defaultTTL       = 24 * time.Hour
)

type snapshot struct {
	SessionID  string       `json:"session_id"`
	WhiteTime  int          `json:"white_time"`
	BlackTime  int          `json:"black_time"`
	ActiveSide session.Side `json:"active_side"`
	Increment  int          `json:"increment"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

type Cache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
}

// New connects to the Redis at url and pings it.
func New(ctx context.Context, url string) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewWithClient(client), nil
}

func NewWithClient(client *redis.Client) *Cache {
	return &Cache{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		ttl:       defaultTTL,
		now:       time.Now,
	}
}

func (c *Cache) key(sessionID string) string {
	return c.keyPrefix + sessionID
}

// SaveClock stores st. It satisfies clock.Snapshotter.
func (c *Cache) SaveClock(ctx context.Context, st clock.State) error {
	at := st.LastTickAt
	if at.IsZero() {
		at = c.now()
	}
	data, err := json.Marshal(snapshot{
		SessionID:  st.SessionID,
		WhiteTime:  st.TimeLeft[session.White],
		BlackTime:  st.TimeLeft[session.Black],
		ActiveSide: st.Active,
		Increment:  st.Increment,
		UpdatedAt:  at.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal clock: %w", err)
	}
	return c.client.Set(ctx, c.key(st.SessionID), data, c.ttl).Err()
}

// Load returns the cached clock with LastTickAt set to the instant its
// times were accurate. Running is always false.
func (c *Cache) Load(ctx context.Context, sessionID string) (clock.State, error) {
	data, err := c.client.Get(ctx, c.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return clock.State{}, ErrNotFound
		}
		return clock.State{}, err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return clock.State{}, fmt.Errorf("unmarshal clock: %w", err)
	}
	return clock.State{
		SessionID:  snap.SessionID,
		TimeLeft:   [2]int{snap.WhiteTime, snap.BlackTime},
		Active:     snap.ActiveSide,
		Increment:  snap.Increment,
		LastTickAt: snap.UpdatedAt,
	}, nil
}

func (c *Cache) Delete(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, c.key(sessionID)).Err()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}
