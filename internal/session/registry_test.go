package session

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r)

	users, sessions := r.Len()
	assert.Zero(t, users)
	assert.Zero(t, sessions)
	assert.Empty(t, r.All())
	assert.Empty(t, r.SessionsFor("nobody"))
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "s1")
	r.Register("u1", "s2")
	r.Register("u2", "s3")

	assert.Equal(t, []Handle{"s1", "s2"}, r.SessionsFor("u1"))
	assert.Equal(t, []Handle{"s3"}, r.SessionsFor("u2"))
	assert.Equal(t, []Handle{"s1", "s2", "s3"}, r.All())

	users, sessions := r.Len()
	assert.Equal(t, 2, users)
	assert.Equal(t, 3, sessions)
}

func TestRegisterIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "s1")
	r.Register("u1", "s1")

	assert.Len(t, r.SessionsFor("u1"), 1)
	_, sessions := r.Len()
	assert.Equal(t, 1, sessions)
}

func TestRegisterMovesHandleToLatestUser(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "s1")
	r.Register("u2", "s1")

	assert.Empty(t, r.SessionsFor("u1"))
	assert.Equal(t, []Handle{"s1"}, r.SessionsFor("u2"))

	owner, ok := r.UserOf("s1")
	require.True(t, ok)
	assert.Equal(t, "u2", owner)

	users, _ := r.Len()
	assert.Equal(t, 1, users, "emptied user entry should be deleted")
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "s1")
	r.Register("u1", "s2")

	userID, ok := r.Unregister("s1")
	require.True(t, ok)
	assert.Equal(t, "u1", userID)
	assert.Equal(t, []Handle{"s2"}, r.SessionsFor("u1"))

	r.Unregister("s2")
	assert.Empty(t, r.SessionsFor("u1"))

	users, sessions := r.Len()
	assert.Zero(t, users, "no dangling user keys")
	assert.Zero(t, sessions)
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "s1")

	assert.NotPanics(t, func() {
		_, ok := r.Unregister("never-registered")
		assert.False(t, ok)
	})
	assert.Equal(t, []Handle{"s1"}, r.SessionsFor("u1"))
}

func TestSessionsForReturnsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "s1")

	snap := r.SessionsFor("u1")
	r.Register("u1", "s2")
	r.Unregister("s1")

	assert.Equal(t, []Handle{"s1"}, snap, "snapshot must not observe later mutations")

	snap[0] = "tampered"
	assert.Equal(t, []Handle{"s2"}, r.SessionsFor("u1"))
}

func TestApplyLifecycleEvents(t *testing.T) {
	r := NewRegistry()
	r.Apply(Event{Type: EventConnected, Handle: "s1"})
	assert.Empty(t, r.All(), "connect alone does not register")

	r.Apply(Event{Type: EventRegistered, Handle: "s1", UserID: "u1"})
	assert.Equal(t, []Handle{"s1"}, r.SessionsFor("u1"))

	r.Apply(Event{Type: EventDisconnected, Handle: "s1"})
	assert.Empty(t, r.SessionsFor("u1"))
}

// TestRandomSequencesMatchModel checks that any register/unregister sequence
// leaves exactly the net set of still-registered handles.
func TestRandomSequencesMatchModel(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	users := []string{"u1", "u2", "u3"}

	for round := 0; round < 50; round++ {
		r := NewRegistry()
		model := make(map[Handle]string)

		for step := 0; step < 200; step++ {
			h := Handle(fmt.Sprintf("s%d", rng.Intn(10)))
			if rng.Intn(3) == 0 {
				r.Unregister(h)
				delete(model, h)
				continue
			}
			u := users[rng.Intn(len(users))]
			r.Register(u, h)
			model[h] = u
		}

		for _, u := range users {
			var want []Handle
			for h, owner := range model {
				if owner == u {
					want = append(want, h)
				}
			}
			sortHandles(want)
			got := r.SessionsFor(u)
			if len(want) == 0 {
				assert.Empty(t, got, "round %d user %s", round, u)
				continue
			}
			assert.Equal(t, want, got, "round %d user %s", round, u)
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	const goroutines = 50

	for i := 0; i < goroutines; i++ {
		wg.Add(3)

		go func(h Handle) {
			defer wg.Done()
			r.Register("u1", h)
			r.Register("u2", h)
		}(Handle(fmt.Sprintf("s%d", i)))

		go func() {
			defer wg.Done()
			r.SessionsFor("u1")
			r.All()
			r.Len()
		}()

		go func(h Handle) {
			defer wg.Done()
			r.Unregister(h)
		}(Handle(fmt.Sprintf("s%d", i)))
	}

	wg.Wait()

	for _, h := range r.All() {
		owner, ok := r.UserOf(h)
		require.True(t, ok)
		assert.Contains(t, r.SessionsFor(owner), h)
	}
}
