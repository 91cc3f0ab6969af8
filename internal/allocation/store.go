package allocation

import (
	"sync"

	"main/internal/model"
	"main/internal/obs"
)

// Store holds the allocation the decision path reads. Replace is the only
// writer; versions increase monotonically so stale snapshots are observable.
type Store struct {
	mu      sync.RWMutex
	current model.AllocationWeights
}

func NewStore(initial model.AllocationWeights) *Store {
	s := &Store{}
	s.Replace(initial)
	return s
}

// Current returns a copy of the active allocation.
func (s *Store) Current() model.AllocationWeights {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyWeights(s.current)
}

// Replace installs a new allocation atomically and returns the installed
// snapshot with its assigned version.
func (s *Store) Replace(w model.AllocationWeights) model.AllocationWeights {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Version = s.current.Version + 1
	s.current = copyWeights(w)
	obs.AllocationVersion.Set(float64(w.Version))
	return w
}

func copyWeights(w model.AllocationWeights) model.AllocationWeights {
	cp := w
	cp.Weights = make(map[string]float64, len(w.Weights))
	for k, v := range w.Weights {
		cp.Weights[k] = v
	}
	return cp
}
