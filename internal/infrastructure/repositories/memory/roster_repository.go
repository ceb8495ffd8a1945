package memory

import (
	"context"
	"sync"

	"parley/internal/core/domain"
	"parley/internal/core/ports"
)

type MemoryRosterRepository struct {
	rosters map[domain.RoomID]map[domain.UserID]struct{}
	mu      sync.RWMutex
}

func NewMemoryRosterRepository() ports.RosterRepository {
	return &MemoryRosterRepository{
		rosters: make(map[domain.RoomID]map[domain.UserID]struct{}),
	}
}

func (r *MemoryRosterRepository) Add(ctx context.Context, roomID domain.RoomID, user domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.rosters[roomID]
	if !ok {
		set = make(map[domain.UserID]struct{})
		r.rosters[roomID] = set
	}
	set[user] = struct{}{}
	return nil
}

func (r *MemoryRosterRepository) Remove(ctx context.Context, roomID domain.RoomID, user domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := r.rosters[roomID]; ok {
		delete(set, user)
		if len(set) == 0 {
			delete(r.rosters, roomID)
		}
	}
	return nil
}

func (r *MemoryRosterRepository) Members(ctx context.Context, roomID domain.RoomID) ([]domain.UserID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.rosters[roomID]
	members := make([]domain.UserID, 0, len(set))
	for user := range set {
		members = append(members, user)
	}
	return members, nil
}
