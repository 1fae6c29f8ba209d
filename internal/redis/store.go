package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"pokerroom/internal/auth"
	"pokerroom/internal/domain"
)

// Store backs the auth collaborators (token sessions, room directory,
// participant roles) and the revealed-round history. The keys it reads are
// written by the REST tier; the history keys are written here.
type Store struct {
	rdb *goredis.Client

	historyTTL time.Duration
	historyMax int64

	opTimeout time.Duration
	inflight  chan struct{}

	saveScript *goredis.Script
}

const saveRoundLua = `
-- KEYS[1] = historyKey
-- ARGV[1] = round JSON
-- ARGV[2] = max history length
-- ARGV[3] = ttlMs

redis.call('LPUSH', KEYS[1], ARGV[1])
redis.call('LTRIM', KEYS[1], 0, tonumber(ARGV[2]) - 1)

local ttl = tonumber(ARGV[3])
if ttl and ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
else
  redis.call('PERSIST', KEYS[1])
end

return 1
`

func NewStore(addr, password string, db int, historyTTL time.Duration, historyMax int) *Store {
	poolSize := runtime.GOMAXPROCS(0) * 16
	if poolSize < 32 {
		poolSize = 32
	}
	if poolSize > 128 {
		poolSize = 128
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     poolSize,
		MinIdleConns: poolSize / 4,

		PoolTimeout: 1 * time.Second,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      1,
		MinRetryBackoff: 25 * time.Millisecond,
		MaxRetryBackoff: 250 * time.Millisecond,
	})

	return &Store{
		rdb:        rdb,
		historyTTL: historyTTL,
		historyMax: int64(historyMax),

		opTimeout: 5 * time.Second,

		inflight: make(chan struct{}, poolSize),

		saveScript: goredis.NewScript(saveRoundLua),
	}
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Client exposes the underlying connection for the event bus.
func (s *Store) Client() *goredis.Client {
	return s.rdb
}

// Validate resolves an opaque bearer token to claims. Missing or expired
// session keys fail closed.
func (s *Store) Validate(ctx context.Context, token string) (auth.Claims, error) {
	fields, err := s.rdb.HGetAll(ctx, "auth:token:"+token).Result()
	if err != nil {
		return auth.Claims{}, fmt.Errorf("redis token lookup failed: %w", err)
	}
	if fields["userId"] == "" {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	return auth.Claims{
		UserID:      fields["userId"],
		DisplayName: fields["displayName"],
	}, nil
}

// FindRoom looks up room metadata by its public identifier.
func (s *Store) FindRoom(ctx context.Context, roomID string) (auth.Room, error) {
	fields, err := s.rdb.HGetAll(ctx, "room:"+roomID).Result()
	if err != nil {
		return auth.Room{}, fmt.Errorf("redis room lookup failed: %w", err)
	}
	if len(fields) == 0 {
		return auth.Room{}, auth.ErrRoomNotFound
	}
	return auth.Room{ID: roomID, Name: fields["name"]}, nil
}

// RoleOf returns the user's role within the room's participant hash.
func (s *Store) RoleOf(ctx context.Context, userID, roomID string) (auth.Role, error) {
	role, err := s.rdb.HGet(ctx, "room:"+roomID+":participants", userID).Result()
	if errors.Is(err, goredis.Nil) {
		return "", auth.ErrNotParticipant
	}
	if err != nil {
		return "", fmt.Errorf("redis role lookup failed: %w", err)
	}
	return auth.Role(role), nil
}

// SaveRound appends a revealed round snapshot to the room's history list,
// trimming it to the configured retention in the same script.
func (s *Store) SaveRound(roomID string, round *domain.Round) error {
	return s.SaveRoundCtx(context.Background(), roomID, round)
}

func (s *Store) SaveRoundCtx(ctx context.Context, roomID string, round *domain.Round) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opTimeout)
		defer cancel()
	}

	select {
	case s.inflight <- struct{}{}:
		defer func() { <-s.inflight }()
	case <-ctx.Done():
		return ctx.Err()
	}

	raw, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("marshal round %s: %w", round.ID, err)
	}

	keys := []string{"room:" + roomID + ":history"}
	err = s.saveScript.Run(
		ctx,
		s.rdb,
		keys,
		raw,
		s.historyMax,
		s.historyTTL.Milliseconds(),
	).Err()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("redis SaveRound timeout/cancel: %w", err)
		}
		return fmt.Errorf("redis SaveRound failed: %w", err)
	}

	return nil
}
