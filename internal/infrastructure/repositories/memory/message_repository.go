package memory

import (
	"context"
	"sync"
	"time"

	"parley/internal/core/domain"
	"parley/internal/core/ports"
	"parley/pkg/utils"
)

type MemoryMessageRepository struct {
	messages map[domain.MessageID]*domain.ChatMessage
	byRoom   map[domain.RoomID][]domain.MessageID
	history  map[domain.MessageID][]domain.EditRecord
	mu       sync.RWMutex
}

func NewMemoryMessageRepository() ports.MessageRepository {
	return &MemoryMessageRepository{
		messages: make(map[domain.MessageID]*domain.ChatMessage),
		byRoom:   make(map[domain.RoomID][]domain.MessageID),
		history:  make(map[domain.MessageID][]domain.EditRecord),
	}
}

// Create assigns the ID and timestamps and returns the stored record. The
// returned copy is what the relay broadcasts.
func (r *MemoryMessageRepository) Create(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	stored := *msg
	stored.ID = domain.MessageID(utils.NewMessageID())
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = stored.CreatedAt

	r.messages[stored.ID] = &stored
	r.byRoom[stored.RoomID] = append(r.byRoom[stored.RoomID], stored.ID)

	copied := stored
	return &copied, nil
}

func (r *MemoryMessageRepository) GetByID(ctx context.Context, id domain.MessageID) (*domain.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, exists := r.messages[id]
	if !exists {
		return nil, domain.ErrMessageNotFound
	}

	copied := *msg
	return &copied, nil
}

func (r *MemoryMessageRepository) ListByRoom(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byRoom[roomID]
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}

	out := make([]*domain.ChatMessage, 0, len(ids))
	for _, id := range ids {
		copied := *r.messages[id]
		out = append(out, &copied)
	}
	return out, nil
}

// Edit is author-checked and appends the previous content to the message's
// edit history before applying the new content.
func (r *MemoryMessageRepository) Edit(ctx context.Context, id domain.MessageID, author domain.UserID, content string) (*domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, exists := r.messages[id]
	if !exists {
		return nil, domain.ErrMessageNotFound
	}
	if msg.Author != author {
		return nil, domain.ErrNotAuthor
	}
	if msg.IsDeleted {
		return nil, domain.ErrMessageDeleted
	}

	r.history[id] = append(r.history[id], domain.EditRecord{
		MessageID: id,
		Content:   msg.Content,
		EditedAt:  time.Now(),
	})

	msg.Content = content
	msg.IsEdited = true
	msg.UpdatedAt = time.Now()

	copied := *msg
	return &copied, nil
}

// SoftDelete marks the record deleted; the row survives with its content
// cleared so history endpoints can render a tombstone.
func (r *MemoryMessageRepository) SoftDelete(ctx context.Context, id domain.MessageID, author domain.UserID) (*domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, exists := r.messages[id]
	if !exists {
		return nil, domain.ErrMessageNotFound
	}
	if msg.Author != author {
		return nil, domain.ErrNotAuthor
	}

	msg.IsDeleted = true
	msg.Content = ""
	msg.UpdatedAt = time.Now()

	copied := *msg
	return &copied, nil
}

// History returns the edit records appended for a message, oldest first.
func (r *MemoryMessageRepository) History(id domain.MessageID) []domain.EditRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]domain.EditRecord, len(r.history[id]))
	copy(records, r.history[id])
	return records
}
