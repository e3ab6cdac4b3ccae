package presence

import (
	"sort"
	"sync"

	"live_spaces/internal/domain"
)

// Roster is the client's merged copy of a space's presence. Merges are
// per-field last-write-wins, so duplicated or reordered frames converge to
// the same roster.
type Roster struct {
	mu     sync.Mutex
	states map[string]*domain.PresenceState
}

func NewRoster() *Roster {
	return &Roster{states: make(map[string]*domain.PresenceState)}
}

// Merge folds one user's state in and reports whether the roster changed.
func (r *Roster) Merge(state domain.PresenceState) bool {
	if state.UserID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.merge(state)
}

// MergeAll folds a snapshot in.
func (r *Roster) MergeAll(states []domain.PresenceState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for _, s := range states {
		if s.UserID == "" {
			continue
		}
		if r.merge(s) {
			changed = true
		}
	}
	return changed
}

func (r *Roster) merge(state domain.PresenceState) bool {
	cur, ok := r.states[state.UserID]
	if !ok {
		fresh := domain.NewPresenceState(state.UserID)
		fresh.Merge(state)
		r.states[state.UserID] = &fresh
		return true
	}
	return cur.Merge(state)
}

// Participants returns the roster sorted by user id.
func (r *Roster) Participants() []domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Participant, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, s.Participant())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}
