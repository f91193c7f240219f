package storage

import (
	"context"
	"sync"

	"budgetviz/internal/core"
	"budgetviz/internal/dashboard"
)

// SessionNotifier saves the filters and dataset description of every
// snapshot that changed them.
type SessionNotifier struct {
	repo *SQLiteRepository
	name string

	mu       sync.Mutex
	saved    bool
	lastCrit core.FilterCriteria
	lastMeta core.DatasetMetadata
}

var _ dashboard.Notifier = (*SessionNotifier)(nil)

func NewSessionNotifier(repo *SQLiteRepository, name string) *SessionNotifier {
	return &SessionNotifier{repo: repo, name: name}
}

func (n *SessionNotifier) Notify(ctx context.Context, s dashboard.Snapshot) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.saved && n.lastCrit.Equal(s.Filters) && sameMetadata(n.lastMeta, s.Available) {
		return nil
	}
	err := n.repo.SaveSession(ctx, Session{
		Name:      n.name,
		Criteria:  s.Filters,
		Metadata:  s.Available,
		UpdatedAt: s.UpdatedAt,
	})
	if err != nil {
		return err
	}
	n.saved = true
	n.lastCrit = s.Filters.Clone()
	n.lastMeta = s.Available.Clone()
	return nil
}

func sameMetadata(a, b core.DatasetMetadata) bool {
	x := core.FilterCriteria{Categories: a.Categories, Years: a.Years}
	y := core.FilterCriteria{Categories: b.Categories, Years: b.Years}
	return x.Equal(y)
}
