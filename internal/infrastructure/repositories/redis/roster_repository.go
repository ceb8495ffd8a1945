package redis

import (
	"context"
	"fmt"

	"parley/internal/core/domain"
	"parley/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisRosterRepository struct {
	client *redis.Client
}

func NewRedisRosterRepository(client *redis.Client) ports.RosterRepository {
	return &RedisRosterRepository{client: client}
}

func (r *RedisRosterRepository) rosterKey(roomID domain.RoomID) string {
	return fmt.Sprintf("parley:room:%s:roster", roomID)
}

func (r *RedisRosterRepository) Add(ctx context.Context, roomID domain.RoomID, user domain.UserID) error {
	if err := r.client.SAdd(ctx, r.rosterKey(roomID), string(user)).Err(); err != nil {
		return fmt.Errorf("failed to add roster member: %w", err)
	}
	return nil
}

func (r *RedisRosterRepository) Remove(ctx context.Context, roomID domain.RoomID, user domain.UserID) error {
	if err := r.client.SRem(ctx, r.rosterKey(roomID), string(user)).Err(); err != nil {
		return fmt.Errorf("failed to remove roster member: %w", err)
	}
	return nil
}

func (r *RedisRosterRepository) Members(ctx context.Context, roomID domain.RoomID) ([]domain.UserID, error) {
	raw, err := r.client.SMembers(ctx, r.rosterKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get roster members: %w", err)
	}

	members := make([]domain.UserID, 0, len(raw))
	for _, m := range raw {
		members = append(members, domain.UserID(m))
	}
	return members, nil
}
