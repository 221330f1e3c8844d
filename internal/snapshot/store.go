package snapshot

import (
	"sync/atomic"

	"github.com/jgoulah/airquality/pkg/models"
)

// Store holds the last successfully computed snapshot. Publish swaps in a
// complete value, so Current never observes a partial update.
type Store struct {
	current atomic.Pointer[models.Snapshot]
}

// NewStore returns an empty store
func NewStore() *Store {
	return &Store{}
}

// Publish replaces the current snapshot
func (s *Store) Publish(snap models.Snapshot) {
	s.current.Store(&snap)
}

// Current returns the published snapshot, or false before the first Publish
func (s *Store) Current() (models.Snapshot, bool) {
	p := s.current.Load()
	if p == nil {
		return models.Snapshot{}, false
	}
	return *p, true
}
