package repositories

import (
	"context"
	"fmt"
	"time"

	"chat-relay/domain"

	"github.com/redis/go-redis/v9"
)

// RedisMembership stores each project's members in a Redis set so the
// project service and the relay can share one membership source.
type RedisMembership struct {
	client *redis.Client
	prefix string
}

// NewRedisClient parses a redis:// URL and checks the server answers.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func NewRedisMembership(client *redis.Client) *RedisMembership {
	return &RedisMembership{client: client, prefix: "project:"}
}

func (r *RedisMembership) key(projectID domain.ProjectID) string {
	return r.prefix + string(projectID) + ":members"
}

func (r *RedisMembership) IsMember(ctx context.Context, projectID domain.ProjectID, userID string) (bool, error) {
	return r.client.SIsMember(ctx, r.key(projectID), userID).Result()
}

func (r *RedisMembership) Join(ctx context.Context, projectID domain.ProjectID, userID string) error {
	return r.client.SAdd(ctx, r.key(projectID), userID).Err()
}
