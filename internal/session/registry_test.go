package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(16, zaptest.NewLogger(t))
}

func TestRegistryCreateAndView(t *testing.T) {
	r := newTestRegistry(t)
	s := r.Create()

	require.NotEmpty(t, s.ID)
	assert.Equal(t, 1, r.Count())

	err := r.View(s.ID, func(got *Session) error {
		assert.Equal(t, s.ID, got.ID)
		assert.Equal(t, StatusIntake, got.Status)
		return nil
	})
	require.NoError(t, err)
}

func TestRegistryUnknownSession(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Update("no-such-id", func(*Session) error { return nil })
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = r.View("no-such-id", func(*Session) error { return nil })
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistryUpdateRejectsConcurrentOperation(t *testing.T) {
	r := newTestRegistry(t)
	s := r.Create()

	inFirst := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)

	go func() {
		firstDone <- r.Update(s.ID, func(*Session) error {
			close(inFirst)
			<-release
			return nil
		})
	}()

	<-inFirst
	err := r.Update(s.ID, func(*Session) error { return nil })
	assert.ErrorIs(t, err, ErrSessionBusy)

	close(release)
	require.NoError(t, <-firstDone)

	// The lock is free again afterwards.
	require.NoError(t, r.Update(s.ID, func(*Session) error { return nil }))
}

func TestRegistryViewDoesNotWaitForInFlightOperation(t *testing.T) {
	r := newTestRegistry(t)
	s := r.Create()

	release := make(chan struct{})
	inUpdate := make(chan struct{})
	updateDone := make(chan error, 1)
	go func() {
		updateDone <- r.Update(s.ID, func(sess *Session) error {
			sess.AppendMessage(RoleUser, "hello")
			close(inUpdate)
			<-release
			sess.AppendMessage(RoleAgent, "working on it")
			return nil
		})
	}()

	// While the update is parked, a view answers immediately with the
	// state written so far instead of queueing behind the update.
	<-inUpdate
	viewed := make(chan int, 1)
	go func() {
		_ = r.View(s.ID, func(sess *Session) error {
			viewed <- len(sess.Messages)
			return nil
		})
	}()

	select {
	case n := <-viewed:
		assert.Equal(t, 1, n, "view must observe the in-flight state")
	case <-time.After(2 * time.Second):
		t.Fatal("view blocked behind the in-flight update")
	}

	close(release)
	require.NoError(t, <-updateDone)

	require.NoError(t, r.View(s.ID, func(sess *Session) error {
		assert.Len(t, sess.Messages, 2)
		return nil
	}))
}

func TestRegistryConcurrentCreates(t *testing.T) {
	r := newTestRegistry(t)

	const n = 50
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- r.Create().ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, n)
	for id := range ids {
		assert.False(t, seen[id], "duplicate session id")
		seen[id] = true
	}
	assert.Equal(t, n, r.Count())
}

func TestEvictIdleRemovesStaleSessions(t *testing.T) {
	r := newTestRegistry(t)
	stale := r.Create()
	fresh := r.Create()

	require.NoError(t, r.Update(stale.ID, func(s *Session) error {
		s.LastActivityAt = time.Now().UTC().Add(-3 * time.Hour)
		return nil
	}))

	evicted := r.EvictIdle(2 * time.Hour)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, r.Count())

	assert.ErrorIs(t, r.View(stale.ID, func(*Session) error { return nil }), ErrSessionNotFound)
	assert.NoError(t, r.View(fresh.ID, func(*Session) error { return nil }))
	assert.True(t, stale.Stream.Closed(), "evicted session stream must close")
}

func TestEvictIdleSkipsInFlightSessions(t *testing.T) {
	r := newTestRegistry(t)
	s := r.Create()

	inUpdate := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = r.Update(s.ID, func(sess *Session) error {
			sess.LastActivityAt = time.Now().UTC().Add(-3 * time.Hour)
			close(inUpdate)
			<-release
			return nil
		})
	}()

	<-inUpdate
	assert.Equal(t, 0, r.EvictIdle(2*time.Hour), "in-flight session must survive eviction")
	close(release)
}
