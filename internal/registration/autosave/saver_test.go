package autosave

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examtrack/internal/registration/models"
	"examtrack/internal/registration/store"
	id "examtrack/pkg/domain"
)

func newStoredSession(t *testing.T, sessions *store.InMemory) *models.Session {
	t.Helper()
	session, err := models.NewSession(id.NewSessionID(), time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, sessions.Create(context.Background(), session))
	return session
}

func TestSaver_CoalescesRapidEdits(t *testing.T) {
	sessions := store.NewInMemory()
	session := newStoredSession(t, sessions)

	writes := make(chan error, 8)
	saver := New(sessions,
		WithDelay(20*time.Millisecond),
		WithObserver(func(id.SessionID, error) { writes <- nil }),
	)
	defer saver.Close(context.Background())

	// Three edits in quick succession; only the last snapshot should land.
	session.Promoter = &models.Promoter{Email: "first@school.edu"}
	saver.Schedule(session)
	session.Promoter = &models.Promoter{Email: "second@school.edu"}
	saver.Schedule(session)
	session.Promoter = &models.Promoter{Email: "final@school.edu"}
	saver.Schedule(session)

	select {
	case <-writes:
	case <-time.After(time.Second):
		t.Fatal("flush never fired")
	}

	select {
	case <-writes:
		t.Fatal("coalesced edits produced more than one write")
	case <-time.After(100 * time.Millisecond):
	}

	stored, err := sessions.FindByID(context.Background(), session.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Promoter)
	assert.Equal(t, "final@school.edu", stored.Promoter.Email)
}

func TestSaver_FlushWritesImmediately(t *testing.T) {
	sessions := store.NewInMemory()
	session := newStoredSession(t, sessions)

	saver := New(sessions, WithDelay(time.Hour))
	defer saver.Close(context.Background())

	session.Promoter = &models.Promoter{Email: "flush@school.edu"}
	saver.Schedule(session)
	assert.True(t, saver.Pending(session.ID))

	require.NoError(t, saver.Flush(context.Background(), session.ID))
	assert.False(t, saver.Pending(session.ID))

	stored, err := sessions.FindByID(context.Background(), session.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Promoter)
	assert.Equal(t, "flush@school.edu", stored.Promoter.Email)

	// A second flush with nothing pending is a no-op.
	require.NoError(t, saver.Flush(context.Background(), session.ID))
}

func TestSaver_StaleTimerIsDiscarded(t *testing.T) {
	sessions := store.NewInMemory()
	session := newStoredSession(t, sessions)

	writes := make(chan error, 8)
	saver := New(sessions,
		WithDelay(20*time.Millisecond),
		WithObserver(func(id.SessionID, error) { writes <- nil }),
	)
	defer saver.Close(context.Background())

	session.Promoter = &models.Promoter{Email: "armed@school.edu"}
	saver.Schedule(session)

	// The manual flush supersedes the armed timer's generation.
	require.NoError(t, saver.Flush(context.Background(), session.ID))

	select {
	case <-writes:
	case <-time.After(time.Second):
		t.Fatal("flush observer never fired")
	}

	select {
	case <-writes:
		t.Fatal("stale timer produced a second write")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSaver_CancelDropsPendingWrite(t *testing.T) {
	sessions := store.NewInMemory()
	session := newStoredSession(t, sessions)

	saver := New(sessions, WithDelay(20*time.Millisecond))
	defer saver.Close(context.Background())

	session.Promoter = &models.Promoter{Email: "dropped@school.edu"}
	saver.Schedule(session)
	saver.Cancel(session.ID)
	assert.False(t, saver.Pending(session.ID))

	time.Sleep(100 * time.Millisecond)

	stored, err := sessions.FindByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Promoter)
}

func TestSaver_CloseFlushesAllSessions(t *testing.T) {
	sessions := store.NewInMemory()
	first := newStoredSession(t, sessions)
	second := newStoredSession(t, sessions)

	saver := New(sessions, WithDelay(time.Hour))

	first.Promoter = &models.Promoter{Email: "one@school.edu"}
	saver.Schedule(first)
	second.Promoter = &models.Promoter{Email: "two@school.edu"}
	saver.Schedule(second)

	require.NoError(t, saver.Close(context.Background()))

	for _, session := range []*models.Session{first, second} {
		stored, err := sessions.FindByID(context.Background(), session.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.Promoter)
		assert.Equal(t, session.Promoter.Email, stored.Promoter.Email)
	}

	// Scheduling after close is ignored.
	first.Promoter = &models.Promoter{Email: "late@school.edu"}
	saver.Schedule(first)
	assert.False(t, saver.Pending(first.ID))
}

func TestSaver_ScheduleClonesSnapshot(t *testing.T) {
	sessions := store.NewInMemory()
	session := newStoredSession(t, sessions)

	saver := New(sessions, WithDelay(time.Hour))
	defer saver.Close(context.Background())

	session.Promoter = &models.Promoter{Email: "snapshot@school.edu"}
	saver.Schedule(session)

	// Mutations after Schedule must not leak into the pending snapshot.
	session.Promoter.Email = "mutated@school.edu"

	require.NoError(t, saver.Flush(context.Background(), session.ID))
	stored, err := sessions.FindByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, "snapshot@school.edu", stored.Promoter.Email)
}

// gatedStore blocks its first Update until released, simulating a store
// write stuck in flight.
type gatedStore struct {
	*store.InMemory
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedStore(inner *store.InMemory) *gatedStore {
	return &gatedStore{
		InMemory: inner,
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (g *gatedStore) Update(ctx context.Context, session *models.Session) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.InMemory.Update(ctx, session)
}

func TestSaver_InFlightFlushCannotRevertLaterWrite(t *testing.T) {
	sessions := store.NewInMemory()
	session := newStoredSession(t, sessions)
	gated := newGatedStore(sessions)

	saver := New(gated, WithDelay(5*time.Millisecond))
	defer saver.Close(context.Background())

	session.School = &models.School{Subdomain: "old"}
	saver.Schedule(session)

	select {
	case <-gated.entered:
	case <-time.After(time.Second):
		t.Fatal("timer flush never reached the store")
	}

	// The client advanced while the autosave write is stuck in flight.
	newer := session.Clone()
	newer.School.Subdomain = "newer"
	newer.CurrentStep = models.StepEmailVerification

	done := make(chan error, 1)
	go func() { done <- saver.Write(context.Background(), newer) }()

	select {
	case <-done:
		t.Fatal("write overtook the in-flight flush instead of queueing behind it")
	case <-time.After(50 * time.Millisecond):
	}

	close(gated.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("write never completed")
	}

	stored, err := sessions.FindByID(context.Background(), session.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.School)
	assert.Equal(t, "newer", stored.School.Subdomain)
	assert.Equal(t, models.StepEmailVerification, stored.CurrentStep)
}

func TestSaver_FlushWaitsForInFlightWrite(t *testing.T) {
	sessions := store.NewInMemory()
	session := newStoredSession(t, sessions)
	gated := newGatedStore(sessions)

	saver := New(gated, WithDelay(5*time.Millisecond))
	defer saver.Close(context.Background())

	session.Promoter = &models.Promoter{Email: "inflight@school.edu"}
	saver.Schedule(session)

	select {
	case <-gated.entered:
	case <-time.After(time.Second):
		t.Fatal("timer flush never reached the store")
	}
	// The entry was dequeued, but the write has not landed yet.
	assert.False(t, saver.Pending(session.ID))

	done := make(chan error, 1)
	go func() { done <- saver.Flush(context.Background(), session.ID) }()

	select {
	case <-done:
		t.Fatal("flush returned while a write was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(gated.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("flush never returned")
	}

	stored, err := sessions.FindByID(context.Background(), session.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Promoter)
	assert.Equal(t, "inflight@school.edu", stored.Promoter.Email)
}

func TestSaver_WriteClaimsNewestSequence(t *testing.T) {
	sessions := store.NewInMemory()
	session := newStoredSession(t, sessions)

	saver := New(sessions, WithDelay(time.Hour))
	defer saver.Close(context.Background())

	// A pending snapshot holds the older subdomain; the direct write must
	// win regardless, and the superseded timer stays discarded.
	session.School = &models.School{Subdomain: "old"}
	saver.Schedule(session)

	newer := session.Clone()
	newer.School.Subdomain = "newer"
	require.NoError(t, saver.Write(context.Background(), newer))
	saver.Cancel(session.ID)

	stored, err := sessions.FindByID(context.Background(), session.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.School)
	assert.Equal(t, "newer", stored.School.Subdomain)
}
