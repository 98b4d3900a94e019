package meeting

import (
	"context"
	"sync"
)

// Registry tracks the single active meeting slot per coach session.
// Acquiring the slot for the already-active meeting id is a rejoin and
// succeeds; acquiring it for a different id is refused while the slot
// is held.
type Registry interface {
	TryAcquire(ctx context.Context, coachID int64, meetingID string) (bool, string, error)
	Active(ctx context.Context, coachID int64) (string, error)
	Release(ctx context.Context, coachID int64) error
}

// MemoryRegistry keeps meeting slots in process memory. Suitable for a
// single-instance deployment; multi-instance deployments use the Redis
// registry instead.
type MemoryRegistry struct {
	mu    sync.Mutex
	slots map[int64]string
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{slots: make(map[int64]string)}
}

func (r *MemoryRegistry) TryAcquire(_ context.Context, coachID int64, meetingID string) (bool, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	active, held := r.slots[coachID]
	if held && active != meetingID {
		return false, active, nil
	}
	r.slots[coachID] = meetingID
	return true, meetingID, nil
}

func (r *MemoryRegistry) Active(_ context.Context, coachID int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[coachID], nil
}

func (r *MemoryRegistry) Release(_ context.Context, coachID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, coachID)
	return nil
}
