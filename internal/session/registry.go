package session

import (
	"sort"
	"sync"
)

// Handle identifies one live client connection. Handles are minted by the
// transport layer; the registry only stores them.
type Handle string

// Registry maps user ids to the set of live session handles registered for
// them. A handle is registered under at most one user at a time and users
// with no sessions are not kept.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[Handle]struct{}
	owner  map[Handle]string
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[Handle]struct{}),
		owner:  make(map[Handle]string),
	}
}

// Register binds h to userID. Registering the same pair again is a no-op;
// registering h under a different user moves it.
func (r *Registry) Register(userID string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owner[h]; ok {
		if prev == userID {
			return
		}
		r.removeLocked(prev, h)
	}

	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[Handle]struct{})
		r.byUser[userID] = set
	}
	set[h] = struct{}{}
	r.owner[h] = userID
}

// Unregister removes h from whichever user owns it and reports that user.
// Unknown handles are ignored.
func (r *Registry) Unregister(h Handle) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owner[h]
	if !ok {
		return "", false
	}
	r.removeLocked(userID, h)
	return userID, true
}

func (r *Registry) removeLocked(userID string, h Handle) {
	delete(r.owner, h)
	set := r.byUser[userID]
	delete(set, h)
	if len(set) == 0 {
		delete(r.byUser, userID)
	}
}

// SessionsFor returns a sorted copy of the handles registered for userID.
func (r *Registry) SessionsFor(userID string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	result := make([]Handle, 0, len(set))
	for h := range set {
		result = append(result, h)
	}
	sortHandles(result)
	return result
}

// All returns a sorted copy of every registered handle across all users.
func (r *Registry) All() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Handle, 0, len(r.owner))
	for h := range r.owner {
		result = append(result, h)
	}
	sortHandles(result)
	return result
}

// UserOf returns the user h is currently registered under.
func (r *Registry) UserOf(h Handle) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.owner[h]
	return userID, ok
}

// Len returns the number of users with at least one session and the total
// number of registered sessions.
func (r *Registry) Len() (users, sessions int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser), len(r.owner)
}

func sortHandles(hs []Handle) {
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
}
