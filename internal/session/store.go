package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "board:session:"

	// ServerPrefix is the Redis key prefix for the per-server set of
	// session IDs.
	ServerPrefix = "board:server:"

	// SessionTTL is the time-to-live for live session keys in Redis.
	SessionTTL = 1 * time.Hour

	// DisconnectedTTL is how long a finished session stays visible.
	DisconnectedTTL = 5 * time.Minute

	// Status constants for the session state machine.
	StatusConnecting   = "connecting"
	StatusActive       = "active"
	StatusDisconnected = "disconnected"
)

// Session represents a board session's presence record stored in Redis.
type Session struct {
	ID         string `redis:"id"`
	Status     string `redis:"status"`      // connecting | active | disconnected
	Server     string `redis:"server"`      // which board server instance
	RemoteAddr string `redis:"remote_addr"` // client address
	CreatedAt  int64  `redis:"created_at"`  // unix timestamp
	LastActive int64  `redis:"last_active"` // unix timestamp
}

// Store manages session presence in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this board server instance
}

// NewStore creates a new session store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// NewStoreWithClient creates a session store on an existing Redis client.
func NewStoreWithClient(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

func (s *Store) serverKey() string {
	return ServerPrefix + s.serverName + ":sessions"
}

// Create stores a new session in Redis with connecting status and 1h TTL.
func (s *Store) Create(ctx context.Context, sessionID string, remoteAddr string) error {
	key := SessionPrefix + sessionID
	now := time.Now().Unix()

	session := map[string]interface{}{
		"id":          sessionID,
		"status":      StatusConnecting,
		"server":      s.serverName,
		"remote_addr": remoteAddr,
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, session)
	pipe.Expire(ctx, key, SessionTTL)
	pipe.SAdd(ctx, s.serverKey(), sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a session from Redis. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := SessionPrefix + sessionID
	var session Session
	err := s.client.HGetAll(ctx, key).Scan(&session)
	if err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, nil // not found
	}
	return &session, nil
}

// UpdateStatus updates the session status and refreshes the TTL.
func (s *Store) UpdateStatus(ctx context.Context, sessionID string, status string) error {
	key := SessionPrefix + sessionID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "status", status, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// MarkDisconnected moves a session to its terminal state and lets the
// record expire shortly after.
func (s *Store) MarkDisconnected(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "status", StatusDisconnected, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, DisconnectedTTL)
	pipe.SRem(ctx, s.serverKey(), sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

// RefreshTTL extends the session's TTL.
func (s *Store) RefreshTTL(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	return s.client.Expire(ctx, key, SessionTTL).Err()
}

// Live returns the IDs of sessions this server currently holds.
func (s *Store) Live(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, s.serverKey()).Result()
}

// Delete removes a session from Redis.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, SessionPrefix+sessionID)
	pipe.SRem(ctx, s.serverKey(), sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
