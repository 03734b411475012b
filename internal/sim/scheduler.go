// Package sim runs the authoritative simulation: a fixed-rate tick loop and
// per-player input resolution against the static map.
package sim

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leozinhoszg/zerion/internal/protocol"
	"github.com/leozinhoszg/zerion/internal/tilemap"
	"github.com/leozinhoszg/zerion/internal/world"
)

var (
	// ErrNotJoined is returned for players without a controlled entity in the world.
	ErrNotJoined = errors.New("player not joined")

	// ErrQueueFull is returned when a player's input queue is at capacity.
	ErrQueueFull = errors.New("input queue full")
)

// Config holds simulation tunables.
type Config struct {
	TickHz     int
	Speed      int // pixels per unit of dx/dy
	HalfSize   int // half side of the player bounding box, pixels
	CellSize   int // AoI chunk size, pixels
	ViewRadius int // AoI radius in chunks
	MaxQueue   int // max pending inputs per player
}

// DefaultConfig returns the standard simulation settings.
func DefaultConfig() Config {
	return Config{
		TickHz:     10,
		Speed:      4,
		HalfSize:   10,
		CellSize:   world.DefaultCellSize,
		ViewRadius: world.DefaultViewRadius,
		MaxQueue:   64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickHz <= 0 {
		c.TickHz = d.TickHz
	}
	if c.Speed <= 0 {
		c.Speed = d.Speed
	}
	if c.HalfSize < 0 {
		c.HalfSize = d.HalfSize
	}
	if c.CellSize <= 0 {
		c.CellSize = d.CellSize
	}
	if c.ViewRadius < 0 {
		c.ViewRadius = d.ViewRadius
	}
	if c.MaxQueue <= 0 {
		c.MaxQueue = d.MaxQueue
	}
	return c
}

// Input is one queued movement intent.
type Input struct {
	Seq uint64
	Dx  int
	Dy  int
}

// Scheduler owns the shared world and AoI index.
// One instance is created at boot and handed to every connection.
//
// mu serializes every apply → upsert → AoI → diff sequence, so no
// connection ever observes a partially applied input of another.
type Scheduler struct {
	cfg  Config
	maps *tilemap.Registry

	mu     sync.Mutex
	world  *world.State
	grid   *world.Grid
	queues map[string][]Input // playerID → pending inputs

	stateSeq atomic.Uint64

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a stopped scheduler. maps may hold no map.
func NewScheduler(cfg Config, maps *tilemap.Registry) *Scheduler {
	cfg = cfg.withDefaults()
	if maps == nil {
		maps = tilemap.NewRegistry()
	}
	return &Scheduler{
		cfg:    cfg,
		maps:   maps,
		world:  world.NewState(),
		grid:   world.NewGrid(cfg.CellSize),
		queues: make(map[string][]Input),
	}
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// TickHz returns the tick rate advertised to clients.
func (s *Scheduler) TickHz() int {
	return s.cfg.TickHz
}

// StateSeq returns the current global state sequence.
func (s *Scheduler) StateSeq() uint64 {
	return s.stateSeq.Load()
}

// Start spawns the tick loop. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.done != nil {
		select {
		case <-s.done:
			// previous loop exited on its own (parent ctx canceled)
		default:
			return
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		s.loop(loopCtx)
	}()

	slog.Info("tick scheduler started", "tick_hz", s.cfg.TickHz)
}

// Stop signals the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.done == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	slog.Info("tick scheduler stopped", "state_seq", s.stateSeq.Load())
}

// Running reports whether the tick loop is active.
func (s *Scheduler) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Run starts the loop and blocks until ctx is canceled. For use with errgroup.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	return nil
}

// loop runs ticks at the configured rate, sleeping only for what is left
// of the interval after the tick body.
func (s *Scheduler) loop(ctx context.Context) {
	interval := time.Second / time.Duration(s.cfg.TickHz)

	timer := time.NewTimer(0)
	defer timer.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		start := time.Now()
		dt := start.Sub(last)
		last = start

		s.tick(dt, interval)

		timer.Reset(max(0, interval-time.Since(start)))
	}
}

func (s *Scheduler) tick(dt, interval time.Duration) {
	seq := s.stateSeq.Add(1)
	if dt > 2*interval {
		slog.Debug("tick overrun", "state_seq", seq, "dt", dt, "interval", interval)
	}
}

// resolver returns a collision resolver for the currently loaded map.
func (s *Scheduler) resolver() Resolver {
	m, _ := s.maps.Current()
	return Resolver{Map: m, Half: s.cfg.HalfSize}
}

// Join places the view's controlled entity into the world and AoI index.
// Joining again with the same player replaces the entity and clears its queue.
func (s *Scheduler) Join(v *View, e world.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = v.EntityID
	s.world.Upsert(e)
	s.grid.AddOrMove(e)
	s.queues[v.PlayerID] = make([]Input, 0, s.cfg.MaxQueue)

	slog.Debug("player joined world", "player", v.PlayerID, "entity", e.ID, "x", e.X, "y", e.Y)
}

// Leave removes the view's entity, AoI entry and pending inputs.
func (s *Scheduler) Leave(v *View) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.world.Remove(v.EntityID)
	s.grid.Remove(v.EntityID)
	delete(s.queues, v.PlayerID)

	slog.Debug("player left world", "player", v.PlayerID, "entity", v.EntityID)
}

// Players returns the number of joined players.
func (s *Scheduler) Players() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}

// Entity returns a copy of the entity with id.
func (s *Scheduler) Entity(id string) (world.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.world.Get(id)
}

// Enqueue appends an input to the player's queue.
func (s *Scheduler) Enqueue(playerID string, in Input) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[playerID]
	if !ok {
		return ErrNotJoined
	}
	if len(q) >= s.cfg.MaxQueue {
		return ErrQueueFull
	}
	s.queues[playerID] = append(q, in)
	return nil
}

// ApplyInputs drains the player's queue in ascending seq, moves the
// controlled entity and returns the state frame for this viewer.
//
// Inputs with seq ≤ LastAppliedSeq are dropped. Inputs with a delta outside
// {-1,0,1} are consumed without effect. A move blocked by collision still
// advances LastAppliedSeq.
func (s *Scheduler) ApplyInputs(v *View) (protocol.Envelope, world.Vitals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.world.Get(v.EntityID)
	if !ok {
		return protocol.Envelope{}, world.Vitals{}, ErrNotJoined
	}

	q := s.queues[v.PlayerID]
	slices.SortStableFunc(q, func(a, b Input) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		default:
			return 0
		}
	})

	res := s.resolver()
	last := v.LastAppliedSeq
	for _, in := range q {
		if in.Seq <= last {
			continue
		}
		if !ValidDelta(in.Dx) || !ValidDelta(in.Dy) {
			continue
		}
		e.X, e.Y = res.Step(e.X, e.Y, in.Dx, in.Dy, s.cfg.Speed)
		last = in.Seq
	}
	if q != nil {
		s.queues[v.PlayerID] = q[:0]
	}
	v.LastAppliedSeq = last

	s.world.Upsert(e)
	s.grid.SetEntityCell(e.ID, e.X, e.Y)

	return s.stateFrame(v, e)
}

// Resync forgets what the viewer was sent and returns a full state frame.
func (s *Scheduler) Resync(v *View) (protocol.Envelope, world.Vitals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.world.Get(v.EntityID)
	if !ok {
		return protocol.Envelope{}, world.Vitals{}, ErrNotJoined
	}
	v.Reset()
	return s.stateFrame(v, e)
}

// stateFrame builds the viewer's diff. Caller holds mu.
func (s *Scheduler) stateFrame(v *View, self world.Entity) (protocol.Envelope, world.Vitals, error) {
	visible := slices.DeleteFunc(
		s.grid.VisibleIDs(self.X, self.Y, s.cfg.ViewRadius),
		func(id string) bool { return id == v.EntityID },
	)

	you := world.Vitals{X: self.X, Y: self.Y, HP: self.HP, MP: v.MP}
	diff := s.world.BuildDiffs(you, visible, v.SentVersion)

	env, err := protocol.Encode(protocol.OpState, protocol.StatePayload(diff),
		protocol.U64(s.stateSeq.Load()), protocol.U64(v.LastAppliedSeq))
	if err != nil {
		return protocol.Envelope{}, you, err
	}
	return env, you, nil
}
