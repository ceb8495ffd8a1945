package services

import (
	"context"
	"time"

	"parley/internal/core/domain"
	"parley/internal/core/ports"
	"parley/pkg/tracing"
	"parley/pkg/validation"

	"go.uber.org/zap"
)

// MessageMetrics is implemented by the monitoring collector; a nil-safe no-op
// is used when monitoring is disabled.
type MessageMetrics interface {
	RecordMessageRelayed(roomID domain.RoomID)
	RecordPersistenceFailure()
}

type messageService struct {
	messages ports.MessageRepository
	presence ports.PresenceService
	sender   ports.Sender
	metrics  MessageMetrics
	logger   *zap.SugaredLogger
}

func NewMessageService(
	messages ports.MessageRepository,
	presence ports.PresenceService,
	sender ports.Sender,
	metrics MessageMetrics,
	logger *zap.SugaredLogger,
) ports.MessageService {
	return &messageService{
		messages: messages,
		presence: presence,
		sender:   sender,
		metrics:  metrics,
		logger:   logger,
	}
}

// Submit persists the message and only then fans out the durable record to
// every identity present in the room, sender included. Clients render the
// relay echo, never an optimistic local copy, so every view shows the
// authoritative stored value. On persistence failure nothing is broadcast.
func (s *messageService) Submit(ctx context.Context, roomID domain.RoomID, author domain.UserID, content string, kind domain.MessageKind, imageURL string) (*domain.ChatMessage, error) {
	ctx, span := tracing.TraceRelayEvent(ctx, domain.EventSendMessage, string(roomID))
	defer span.End()

	if kind == "" {
		kind = domain.KindText
	}
	if err := validation.ValidateContent(content); err != nil {
		return nil, err
	}
	if kind == domain.KindImage {
		if err := validation.ValidateImageURL(imageURL); err != nil {
			return nil, err
		}
	}

	stored, err := s.messages.Create(ctx, &domain.ChatMessage{
		RoomID:    roomID,
		Author:    author,
		Content:   content,
		Kind:      kind,
		ImageURL:  imageURL,
		CreatedAt: time.Now(),
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		s.metrics.RecordPersistenceFailure()
		s.logger.Errorw("message persistence failed",
			"room_id", roomID, "author", author, "error", err)
		return nil, err
	}

	s.sender.SendToUsers(s.presence.Present(roomID), domain.Event{
		Type:    domain.EventNewMessage,
		RoomID:  roomID,
		From:    author,
		Payload: stored,
	})
	s.metrics.RecordMessageRelayed(roomID)
	return stored, nil
}

// Edit commits the durable edit (author-checked by the store) and relays the
// already-committed result to the room. The relay itself does not re-validate
// authorship; the store's check is authoritative.
func (s *messageService) Edit(ctx context.Context, roomID domain.RoomID, id domain.MessageID, author domain.UserID, content string) (*domain.ChatMessage, error) {
	if err := validation.ValidateContent(content); err != nil {
		return nil, err
	}

	updated, err := s.messages.Edit(ctx, id, author, content)
	if err != nil {
		s.metrics.RecordPersistenceFailure()
		return nil, err
	}

	s.sender.SendToUsers(s.presence.Present(roomID), domain.Event{
		Type:   domain.EventMessageUpdated,
		RoomID: roomID,
		From:   author,
		Payload: map[string]interface{}{
			"message_id": updated.ID,
			"content":    updated.Content,
			"is_edited":  updated.IsEdited,
		},
	})
	return updated, nil
}

// Delete soft-deletes the durable record and relays the deletion notice.
func (s *messageService) Delete(ctx context.Context, roomID domain.RoomID, id domain.MessageID, author domain.UserID) (*domain.ChatMessage, error) {
	deleted, err := s.messages.SoftDelete(ctx, id, author)
	if err != nil {
		s.metrics.RecordPersistenceFailure()
		return nil, err
	}

	s.sender.SendToUsers(s.presence.Present(roomID), domain.Event{
		Type:   domain.EventMessageDeleted,
		RoomID: roomID,
		From:   author,
		Payload: map[string]interface{}{
			"message_id": deleted.ID,
			"is_deleted": true,
		},
	})
	return deleted, nil
}

// NopMessageMetrics is used when monitoring is disabled.
type NopMessageMetrics struct{}

func (NopMessageMetrics) RecordMessageRelayed(domain.RoomID) {}
func (NopMessageMetrics) RecordPersistenceFailure()          {}
