// Package reliability wraps the storage collaborator with a circuit breaker
// so a dead store fails fast to the submitting connection instead of stacking
// up blocked handlers.
package reliability

import (
	"context"
	"errors"

	"parley/internal/core/domain"
	"parley/internal/core/ports"
	"parley/pkg/circuitbreaker"

	"go.uber.org/zap"
)

type MessageStoreWrapper struct {
	store   ports.MessageRepository
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func NewMessageStoreWrapper(store ports.MessageRepository, cbConfig circuitbreaker.Config, logger *zap.SugaredLogger) *MessageStoreWrapper {
	w := &MessageStoreWrapper{
		store:   store,
		breaker: circuitbreaker.New(cbConfig),
		logger:  logger,
	}

	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("message store circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return w
}

// isClientError reports errors caused by the request rather than the store.
// These must not count against the breaker.
func isClientError(err error) bool {
	return errors.Is(err, domain.ErrMessageNotFound) ||
		errors.Is(err, domain.ErrNotAuthor) ||
		errors.Is(err, domain.ErrMessageDeleted)
}

func (w *MessageStoreWrapper) execute(fn func() error) error {
	var opErr error
	err := w.breaker.Execute(func() error {
		opErr = fn()
		if isClientError(opErr) {
			return nil
		}
		return opErr
	})
	if err != nil {
		return err
	}
	return opErr
}

func (w *MessageStoreWrapper) Create(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	var stored *domain.ChatMessage
	if err := w.execute(func() error {
		var err error
		stored, err = w.store.Create(ctx, msg)
		return err
	}); err != nil {
		return nil, err
	}
	return stored, nil
}

func (w *MessageStoreWrapper) GetByID(ctx context.Context, id domain.MessageID) (*domain.ChatMessage, error) {
	var msg *domain.ChatMessage
	if err := w.execute(func() error {
		var err error
		msg, err = w.store.GetByID(ctx, id)
		return err
	}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (w *MessageStoreWrapper) ListByRoom(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.ChatMessage, error) {
	var messages []*domain.ChatMessage
	if err := w.execute(func() error {
		var err error
		messages, err = w.store.ListByRoom(ctx, roomID, limit)
		return err
	}); err != nil {
		return nil, err
	}
	return messages, nil
}

func (w *MessageStoreWrapper) Edit(ctx context.Context, id domain.MessageID, author domain.UserID, content string) (*domain.ChatMessage, error) {
	var updated *domain.ChatMessage
	if err := w.execute(func() error {
		var err error
		updated, err = w.store.Edit(ctx, id, author, content)
		return err
	}); err != nil {
		return nil, err
	}
	return updated, nil
}

func (w *MessageStoreWrapper) SoftDelete(ctx context.Context, id domain.MessageID, author domain.UserID) (*domain.ChatMessage, error) {
	var deleted *domain.ChatMessage
	if err := w.execute(func() error {
		var err error
		deleted, err = w.store.SoftDelete(ctx, id, author)
		return err
	}); err != nil {
		return nil, err
	}
	return deleted, nil
}

var _ ports.MessageRepository = (*MessageStoreWrapper)(nil)
