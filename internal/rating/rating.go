// Package rating looks up a player's skill rating for a game variant.
// Lookups never fail the caller: unknown players get the default rating.
package rating

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/tournament-engine/internal/config"
	"github.com/tournament-engine/internal/domain"
)

// Gateway returns the rating of userID for variant
type Gateway interface {
	GetRating(ctx context.Context, variant domain.GameVariant, userID string) (int, error)
}

// StaticGateway serves ratings from memory
type StaticGateway struct {
	mu            sync.RWMutex
	defaultRating int
	ratings       map[string]int
}

// NewStaticGateway creates a gateway that answers defaultRating for unknown players
func NewStaticGateway(defaultRating int) *StaticGateway {
	return &StaticGateway{
		defaultRating: defaultRating,
		ratings:       make(map[string]int),
	}
}

func staticKey(variant domain.GameVariant, userID string) string {
	return string(variant) + "/" + userID
}

// SetRating stores a rating for a player
func (g *StaticGateway) SetRating(variant domain.GameVariant, userID string, rating int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ratings[staticKey(variant, userID)] = rating
}

// GetRating implements Gateway
func (g *StaticGateway) GetRating(_ context.Context, variant domain.GameVariant, userID string) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if r, ok := g.ratings[staticKey(variant, userID)]; ok {
		return r, nil
	}
	return g.defaultRating, nil
}

// RedisGateway reads ratings from one hash per variant, keyed by user ID
type RedisGateway struct {
	client        *redis.Client
	defaultRating int
	logger        *slog.Logger
}

// NewRedisGateway creates a gateway on an existing client
func NewRedisGateway(client *redis.Client, defaultRating int, logger *slog.Logger) *RedisGateway {
	return &RedisGateway{
		client:        client,
		defaultRating: defaultRating,
		logger:        logger,
	}
}

// NewRedisClient opens and pings a client for cfg
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

func ratingKey(variant domain.GameVariant) string {
	return fmt.Sprintf("rating:%s", variant)
}

// GetRating implements Gateway. Missing, unreadable or unparsable ratings fall back to the default.
func (g *RedisGateway) GetRating(ctx context.Context, variant domain.GameVariant, userID string) (int, error) {
	val, err := g.client.HGet(ctx, ratingKey(variant), userID).Result()
	if err != nil {
		if err != redis.Nil {
			g.logger.Warn("rating lookup failed, using default",
				"variant", variant,
				"user_id", userID,
				"error", err,
			)
		}
		return g.defaultRating, nil
	}

	r, err := strconv.Atoi(val)
	if err != nil {
		g.logger.Warn("invalid stored rating, using default",
			"variant", variant,
			"user_id", userID,
			"value", val,
		)
		return g.defaultRating, nil
	}
	return r, nil
}

// SetRating stores a rating for a player
func (g *RedisGateway) SetRating(ctx context.Context, variant domain.GameVariant, userID string, rating int) error {
	if err := g.client.HSet(ctx, ratingKey(variant), userID, rating).Err(); err != nil {
		return fmt.Errorf("setting rating: %w", err)
	}
	return nil
}
