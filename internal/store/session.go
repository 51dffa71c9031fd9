package store

import (
	"context"
	"fmt"
	"time"

	"github.com/eldtechnologies/deskchat/internal/models"
)

// sessionKey returns the key for a login session hash.
func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

// CreateSession stores the identity behind a session id with a TTL.
func (s *RedisStore) CreateSession(ctx context.Context, id string, identity models.Identity, ttl time.Duration) error {
	key := sessionKey(id)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "nickname", identity.Nickname, "role", string(identity.Role))
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// GetSession returns the identity behind a session id, or nil if the
// session is unknown or expired.
func (s *RedisStore) GetSession(ctx context.Context, id string) (*models.Identity, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	identity := &models.Identity{
		Nickname: fields["nickname"],
		Role:     models.Role(fields["role"]),
	}
	if identity.Nickname == "" || !identity.Role.Valid() {
		return nil, nil
	}
	return identity, nil
}

// DeleteSession removes a session.
func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	return s.client.Del(ctx, sessionKey(id)).Err()
}
