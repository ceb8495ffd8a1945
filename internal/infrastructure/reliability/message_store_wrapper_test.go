package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"parley/internal/core/domain"
	"parley/pkg/circuitbreaker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// scriptedStore returns the configured error from every operation and counts
// invocations so tests can see whether the breaker short-circuited.
type scriptedStore struct {
	err   error
	calls int
}

func (s *scriptedStore) Create(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	stored := *msg
	stored.ID = "m1"
	return &stored, nil
}

func (s *scriptedStore) GetByID(ctx context.Context, id domain.MessageID) (*domain.ChatMessage, error) {
	s.calls++
	return nil, s.err
}

func (s *scriptedStore) ListByRoom(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.ChatMessage, error) {
	s.calls++
	return nil, s.err
}

func (s *scriptedStore) Edit(ctx context.Context, id domain.MessageID, author domain.UserID, content string) (*domain.ChatMessage, error) {
	s.calls++
	return nil, s.err
}

func (s *scriptedStore) SoftDelete(ctx context.Context, id domain.MessageID, author domain.UserID) (*domain.ChatMessage, error) {
	s.calls++
	return nil, s.err
}

func testConfig() circuitbreaker.Config {
	return circuitbreaker.Config{FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: time.Minute}
}

func TestMessageStoreWrapper_PassesThroughOnSuccess(t *testing.T) {
	store := &scriptedStore{}
	w := NewMessageStoreWrapper(store, testConfig(), zaptest.NewLogger(t).Sugar())

	stored, err := w.Create(context.Background(), &domain.ChatMessage{RoomID: "general", Author: "alice", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageID("m1"), stored.ID)
}

func TestMessageStoreWrapper_OpensOnRepeatedStoreFailure(t *testing.T) {
	store := &scriptedStore{err: errors.New("connection refused")}
	w := NewMessageStoreWrapper(store, testConfig(), zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := w.Create(ctx, &domain.ChatMessage{})
		require.Error(t, err)
	}
	require.Equal(t, 3, store.calls)

	// The breaker now fails fast without touching the store.
	_, err := w.Create(ctx, &domain.ChatMessage{})
	require.Error(t, err)
	assert.Equal(t, 3, store.calls)
}

func TestMessageStoreWrapper_ClientErrorsDoNotTripBreaker(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "not found", err: domain.ErrMessageNotFound},
		{name: "not author", err: domain.ErrNotAuthor},
		{name: "deleted", err: domain.ErrMessageDeleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &scriptedStore{err: tt.err}
			w := NewMessageStoreWrapper(store, testConfig(), zaptest.NewLogger(t).Sugar())
			ctx := context.Background()

			// Far past the failure threshold; every call still reaches the
			// store and surfaces the original error.
			for i := 0; i < 10; i++ {
				_, err := w.Edit(ctx, "m1", "mallory", "x")
				require.ErrorIs(t, err, tt.err)
			}
			assert.Equal(t, 10, store.calls)
		})
	}
}

func TestMessageStoreWrapper_InfrastructureErrorSurfacesToCaller(t *testing.T) {
	storeErr := errors.New("timeout")
	store := &scriptedStore{err: storeErr}
	w := NewMessageStoreWrapper(store, testConfig(), zaptest.NewLogger(t).Sugar())

	_, err := w.ListByRoom(context.Background(), "general", 50)
	assert.ErrorIs(t, err, storeErr)
}
