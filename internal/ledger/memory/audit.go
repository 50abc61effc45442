package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/ChiefWoods/prediction/internal/domain"
)

// AuditLog is an in-process domain.AuditStore.
type AuditLog struct {
	clock domain.Clock

	mu      sync.Mutex
	entries []domain.AuditEntry
}

// NewAuditLog creates an empty AuditLog.
func NewAuditLog(clock domain.Clock) *AuditLog {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &AuditLog{clock: clock}
}

// Log appends an entry.
func (a *AuditLog) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{
		ID:        int64(len(a.entries) + 1),
		Event:     event,
		Detail:    maps.Clone(detail),
		CreatedAt: a.clock.Now(),
	})
	return nil
}

// List returns entries newest first.
func (a *AuditLog) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	out := make([]domain.AuditEntry, 0, len(a.entries))
	for i := len(a.entries) - 1; i >= 0; i-- {
		e := a.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	a.mu.Unlock()
	return page(out, opts), nil
}

var _ domain.AuditStore = (*AuditLog)(nil)
