package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"parley/internal/core/domain"
	"parley/internal/core/ports"
	"parley/pkg/utils"

	"github.com/redis/go-redis/v9"
)

type RedisMessageRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisMessageRepository(client *redis.Client) ports.MessageRepository {
	return &RedisMessageRepository{
		client: client,
		prefix: "parley:message:",
	}
}

func (r *RedisMessageRepository) messageKey(id domain.MessageID) string {
	return r.prefix + string(id)
}

func (r *RedisMessageRepository) roomMessagesKey(roomID domain.RoomID) string {
	return fmt.Sprintf("parley:room:%s:messages", roomID)
}

func (r *RedisMessageRepository) historyKey(id domain.MessageID) string {
	return fmt.Sprintf("parley:message:%s:history", id)
}

func (r *RedisMessageRepository) store(ctx context.Context, msg *domain.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := r.client.Set(ctx, r.messageKey(msg.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set message in Redis: %w", err)
	}
	return nil
}

func (r *RedisMessageRepository) Create(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	stored := *msg
	stored.ID = domain.MessageID(utils.NewMessageID())
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.UpdatedAt = stored.CreatedAt

	if err := r.store(ctx, &stored); err != nil {
		return nil, err
	}

	roomKey := r.roomMessagesKey(stored.RoomID)
	if err := r.client.RPush(ctx, roomKey, string(stored.ID)).Err(); err != nil {
		return nil, fmt.Errorf("failed to append message to room list: %w", err)
	}

	return &stored, nil
}

func (r *RedisMessageRepository) GetByID(ctx context.Context, id domain.MessageID) (*domain.ChatMessage, error) {
	data, err := r.client.Get(ctx, r.messageKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message from Redis: %w", err)
	}

	var msg domain.ChatMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}

func (r *RedisMessageRepository) ListByRoom(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.ChatMessage, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}

	ids, err := r.client.LRange(ctx, r.roomMessagesKey(roomID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get room messages from Redis: %w", err)
	}

	messages := make([]*domain.ChatMessage, 0, len(ids))
	for _, id := range ids {
		msg, err := r.GetByID(ctx, domain.MessageID(id))
		if err == domain.ErrMessageNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (r *RedisMessageRepository) Edit(ctx context.Context, id domain.MessageID, author domain.UserID, content string) (*domain.ChatMessage, error) {
	msg, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.Author != author {
		return nil, domain.ErrNotAuthor
	}
	if msg.IsDeleted {
		return nil, domain.ErrMessageDeleted
	}

	record, err := json.Marshal(domain.EditRecord{
		MessageID: id,
		Content:   msg.Content,
		EditedAt:  time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal edit record: %w", err)
	}
	if err := r.client.RPush(ctx, r.historyKey(id), record).Err(); err != nil {
		return nil, fmt.Errorf("failed to append edit history: %w", err)
	}

	msg.Content = content
	msg.IsEdited = true
	msg.UpdatedAt = time.Now()

	if err := r.store(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *RedisMessageRepository) SoftDelete(ctx context.Context, id domain.MessageID, author domain.UserID) (*domain.ChatMessage, error) {
	msg, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.Author != author {
		return nil, domain.ErrNotAuthor
	}

	msg.IsDeleted = true
	msg.Content = ""
	msg.UpdatedAt = time.Now()

	if err := r.store(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
