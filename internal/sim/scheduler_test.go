package sim

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozinhoszg/zerion/internal/protocol"
	"github.com/leozinhoszg/zerion/internal/tilemap"
	"github.com/leozinhoszg/zerion/internal/world"
)

func newTestScheduler(t *testing.T, m *tilemap.MapData) *Scheduler {
	t.Helper()
	reg := tilemap.NewRegistry()
	reg.Set(m)
	return NewScheduler(DefaultConfig(), reg)
}

func join(s *Scheduler, id string, x, y int) *View {
	v := NewView(id, id)
	s.Join(v, world.NewEntity(id, world.KindPlayer, x, y))
	return v
}

func stateDiff(t *testing.T, env protocol.Envelope) world.Diff {
	t.Helper()
	require.Equal(t, protocol.OpState, env.Op)
	p, err := protocol.DecodePayload(env)
	require.NoError(t, err)
	sp, ok := p.(protocol.StatePayload)
	require.True(t, ok)
	return world.Diff(sp)
}

func addedIDs(d world.Diff) []string {
	ids := make([]string, 0, len(d.Added))
	for _, a := range d.Added {
		ids = append(ids, a.ID)
	}
	return ids
}

func updatedIDs(d world.Diff) []string {
	ids := make([]string, 0, len(d.Updated))
	for _, u := range d.Updated {
		ids = append(ids, u.ID)
	}
	return ids
}

func TestScheduler_ApplyInputs_Sequence(t *testing.T) {
	s := newTestScheduler(t, nil)
	v := join(s, "1", 100, 100)

	require.NoError(t, s.Enqueue("1", Input{Seq: 1, Dx: 1}))
	env, you, err := s.ApplyInputs(v)
	require.NoError(t, err)
	assert.Equal(t, 104, you.X)
	assert.Equal(t, uint64(1), env.AckOrZero())
	assert.Equal(t, uint64(1), v.LastAppliedSeq)

	// duplicate seq never moves the entity
	require.NoError(t, s.Enqueue("1", Input{Seq: 1, Dx: 1}))
	_, you, err = s.ApplyInputs(v)
	require.NoError(t, err)
	assert.Equal(t, 104, you.X)
	assert.Equal(t, uint64(1), v.LastAppliedSeq)

	// out-of-order arrivals are applied in ascending seq
	require.NoError(t, s.Enqueue("1", Input{Seq: 3, Dy: 1}))
	require.NoError(t, s.Enqueue("1", Input{Seq: 2, Dx: 1}))
	env, you, err = s.ApplyInputs(v)
	require.NoError(t, err)
	assert.Equal(t, 108, you.X)
	assert.Equal(t, 104, you.Y)
	assert.Equal(t, uint64(3), env.AckOrZero())

	// seq 0 is never above the last applied seq
	require.NoError(t, s.Enqueue("1", Input{Seq: 0, Dx: 1}))
	_, you, err = s.ApplyInputs(v)
	require.NoError(t, err)
	assert.Equal(t, 108, you.X)
}

func TestScheduler_ApplyInputs_InvalidDelta(t *testing.T) {
	s := newTestScheduler(t, nil)
	v := join(s, "1", 0, 0)

	require.NoError(t, s.Enqueue("1", Input{Seq: 1, Dx: 2}))
	require.NoError(t, s.Enqueue("1", Input{Seq: 2, Dx: 1, Dy: -3}))
	env, you, err := s.ApplyInputs(v)
	require.NoError(t, err)
	assert.Equal(t, 0, you.X)
	assert.Equal(t, 0, you.Y)
	assert.Equal(t, uint64(0), env.AckOrZero())

	// the invalid items were consumed
	require.NoError(t, s.Enqueue("1", Input{Seq: 3, Dx: -1}))
	env, you, err = s.ApplyInputs(v)
	require.NoError(t, err)
	assert.Equal(t, -4, you.X)
	assert.Equal(t, uint64(3), env.AckOrZero())
}

func TestScheduler_ApplyInputs_BlockedAdvancesAck(t *testing.T) {
	s := newTestScheduler(t, wallMap(t, 2))
	v := join(s, "1", 52, 48)

	require.NoError(t, s.Enqueue("1", Input{Seq: 7, Dx: 1}))
	env, you, err := s.ApplyInputs(v)
	require.NoError(t, err)
	assert.Equal(t, 52, you.X)
	assert.Equal(t, 48, you.Y)
	assert.Equal(t, uint64(7), env.AckOrZero())
	assert.Equal(t, uint64(7), v.LastAppliedSeq)
}

func TestScheduler_StateFrame(t *testing.T) {
	s := newTestScheduler(t, nil)
	v := join(s, "1", 10, 10)

	env, you, err := s.ApplyInputs(v)
	require.NoError(t, err)

	assert.Equal(t, protocol.Version, env.V)
	require.NotNil(t, env.Seq)
	assert.Equal(t, s.StateSeq(), *env.Seq)
	require.NotNil(t, env.Ack)
	assert.NotZero(t, env.TS)

	d := stateDiff(t, env)
	assert.Equal(t, world.Vitals{X: 10, Y: 10, HP: world.DefaultHP, MP: DefaultMP}, d.You)
	assert.Equal(t, you, d.You)
	assert.Empty(t, d.Added, "own entity is never part of the visible set")
}

func TestScheduler_Visibility(t *testing.T) {
	s := newTestScheduler(t, nil)
	a := join(s, "a", 0, 0)
	b := join(s, "b", 20, 0)
	far := join(s, "far", 500, 500)

	env, _, err := s.ApplyInputs(a)
	require.NoError(t, err)
	d := stateDiff(t, env)
	assert.Equal(t, []string{"b"}, addedIDs(d))

	// nothing changed: idempotent
	env, _, err = s.ApplyInputs(a)
	require.NoError(t, err)
	assert.True(t, stateDiff(t, env).Empty())

	// b applies (version bump) and shows up as updated for a
	require.NoError(t, s.Enqueue("b", Input{Seq: 1, Dy: 1}))
	_, _, err = s.ApplyInputs(b)
	require.NoError(t, err)
	env, _, err = s.ApplyInputs(a)
	require.NoError(t, err)
	d = stateDiff(t, env)
	assert.Equal(t, []string{"b"}, updatedIDs(d))
	require.Len(t, d.Updated, 1)
	assert.Equal(t, 4, d.Updated[0].Patch.Y)

	// far is never visible
	env, _, err = s.ApplyInputs(far)
	require.NoError(t, err)
	assert.Empty(t, stateDiff(t, env).Added)

	// b leaves: removed exactly once
	s.Leave(b)
	env, _, err = s.ApplyInputs(a)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, stateDiff(t, env).Removed)
	env, _, err = s.ApplyInputs(a)
	require.NoError(t, err)
	assert.Empty(t, stateDiff(t, env).Removed)
	assert.NotContains(t, a.SentVersion, "b")
}

func TestScheduler_RejoinConverges(t *testing.T) {
	s := newTestScheduler(t, nil)
	a := join(s, "1", 100, 100)
	b := join(s, "2", 100, 100)

	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, s.Enqueue("1", Input{Seq: seq, Dx: 1}))
		_, _, err := s.ApplyInputs(a)
		require.NoError(t, err)
	}
	_, _, err := s.ApplyInputs(b)
	require.NoError(t, err)
	oldVersion := b.SentVersion["1"]

	// same id comes back with a fresh version counter
	s.Leave(a)
	a = join(s, "1", 100, 100)
	require.NoError(t, s.Enqueue("1", Input{Seq: 1, Dx: 1}))
	_, _, err = s.ApplyInputs(a)
	require.NoError(t, err)

	env, _, err := s.ApplyInputs(b)
	require.NoError(t, err)
	d := stateDiff(t, env)
	require.Equal(t, []string{"1"}, updatedIDs(d))
	assert.Equal(t, 104, d.Updated[0].Patch.X)

	s.mu.Lock()
	current := s.world.Version("1")
	s.mu.Unlock()
	assert.Less(t, current, oldVersion)
	assert.Equal(t, current, b.SentVersion["1"])
}

func TestScheduler_Resync(t *testing.T) {
	s := newTestScheduler(t, nil)
	a := join(s, "a", 0, 0)
	join(s, "b", 5, 5)

	_, _, err := s.ApplyInputs(a)
	require.NoError(t, err)

	env, _, err := s.Resync(a)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, addedIDs(stateDiff(t, env)))
	assert.Contains(t, a.SentVersion, "b")
}

func TestScheduler_NotJoined(t *testing.T) {
	s := newTestScheduler(t, nil)
	v := NewView("ghost", "ghost")

	assert.ErrorIs(t, s.Enqueue("ghost", Input{Seq: 1}), ErrNotJoined)
	_, _, err := s.ApplyInputs(v)
	assert.ErrorIs(t, err, ErrNotJoined)
	_, _, err = s.Resync(v)
	assert.ErrorIs(t, err, ErrNotJoined)
}

func TestScheduler_QueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxQueue = 2
	s := NewScheduler(cfg, nil)
	v := join(s, "1", 0, 0)

	require.NoError(t, s.Enqueue("1", Input{Seq: 1}))
	require.NoError(t, s.Enqueue("1", Input{Seq: 2}))
	assert.ErrorIs(t, s.Enqueue("1", Input{Seq: 3}), ErrQueueFull)

	_, _, err := s.ApplyInputs(v)
	require.NoError(t, err)
	assert.NoError(t, s.Enqueue("1", Input{Seq: 3}))
}

func TestScheduler_JoinLeave(t *testing.T) {
	s := newTestScheduler(t, nil)
	v := join(s, "1", 3, 4)
	assert.Equal(t, 1, s.Players())

	e, ok := s.Entity("1")
	require.True(t, ok)
	assert.Equal(t, 3, e.X)
	assert.Equal(t, 4, e.Y)

	s.Leave(v)
	assert.Equal(t, 0, s.Players())
	_, ok = s.Entity("1")
	assert.False(t, ok)
}

func TestScheduler_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickHz = 200
	s := NewScheduler(cfg, nil)
	assert.False(t, s.Running())

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx) // no-op
	assert.True(t, s.Running())

	require.Eventually(t, func() bool { return s.StateSeq() >= 3 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())

	seq := s.StateSeq()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, seq, s.StateSeq(), "no ticks after Stop returns")

	s.Stop() // no-op

	// restart continues the sequence
	s.Start(ctx)
	require.Eventually(t, func() bool { return s.StateSeq() > seq }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestScheduler_ParentContextCanceled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickHz = 200
	s := NewScheduler(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, s.Running, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, s.Running())
}

func TestScheduler_ConcurrentPlayers(t *testing.T) {
	s := newTestScheduler(t, nil)
	s.Start(context.Background())
	defer s.Stop()

	const players = 8
	const moves = 50

	views := make([]*View, players)
	for i := range views {
		views[i] = join(s, fmt.Sprint(i), i*100, 0)
	}

	var wg sync.WaitGroup
	for i, v := range views {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := uint64(1); seq <= moves; seq++ {
				if err := s.Enqueue(v.PlayerID, Input{Seq: seq, Dy: 1}); err != nil {
					t.Errorf("player %d: enqueue: %v", i, err)
					return
				}
				if _, _, err := s.ApplyInputs(v); err != nil {
					t.Errorf("player %d: apply: %v", i, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for i, v := range views {
		e, ok := s.Entity(v.EntityID)
		require.True(t, ok)
		assert.Equal(t, i*100, e.X)
		assert.Equal(t, moves*4, e.Y)
		assert.Equal(t, uint64(moves), v.LastAppliedSeq)
	}
}
