// Package tokenstore reads bearer-token records from the credential store.
// Records are created and rotated by the external administration tool; the
// gateway only ever reads them.
package tokenstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"inference-gateway/internal/shared"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	StatusActive     = "active"
	StatusDeprecated = "deprecated"
	StatusRevoked    = "revoked"
)

var ErrNotFound = errors.New("token not found")

type Record struct {
	Token      string `json:"token"`
	CustomerID string `json:"customer_id"`
	Status     string `json:"status"`
}

// Store is the lookup surface the validator consumes. Implementations must be
// safe for concurrent use.
type Store interface {
	Get(ctx context.Context, token string) (*Record, error)
}

// SQLStore resolves tokens from the read replica with a short-lived redis
// look-aside cache in front of it.
type SQLStore struct {
	rdb   *sql.DB
	redis *redis.Client
	log   *zap.SugaredLogger
}

func NewSQLStore(rdb *sql.DB, redisClient *redis.Client, log *zap.SugaredLogger) *SQLStore {
	return &SQLStore{rdb: rdb, redis: redisClient, log: log}
}

func (s *SQLStore) Get(ctx context.Context, token string) (*Record, error) {
	var record Record
	record.Token = token

	cacheKey := fmt.Sprintf("v1:token:%s", token)
	cached, err := s.redis.Get(ctx, cacheKey).Result()
	switch err {
	case nil:
		err = json.Unmarshal([]byte(cached), &record)
		if err == nil {
			return &record, nil
		}
		s.log.Errorw("Error unmarshalling token cache", "error", err)
		fallthrough
	default:
		s.log.Debugw("Token cache miss", "key", cacheKey)

		err = s.rdb.QueryRowContext(ctx, `
		SELECT customer_id, status
		FROM bearer_token
		WHERE token = ?
		`, token).Scan(&record.CustomerID, &record.Status)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, ErrNotFound
			}
			s.log.Errorw("Database error during token lookup", "error", err)
			return nil, fmt.Errorf("token lookup: %w", err)
		}
		go func() {
			cached, err := json.Marshal(record)
			if err != nil {
				s.log.Errorw("Error marshalling token record", "error", err)
				return
			}
			s.redis.Set(context.Background(), cacheKey, cached, shared.TokenCacheTTL)
		}()
		return &record, nil
	}
}
