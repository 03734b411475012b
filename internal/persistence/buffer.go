// Package persistence buffers character state in memory and writes it to
// durable storage in coalesced batches, off the simulation path.
package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"
)

// DefaultInterval is the flush period used when none is configured.
const DefaultInterval = 5 * time.Second

// finalFlushTimeout bounds the flush performed by Stop.
const finalFlushTimeout = 10 * time.Second

// State is the durable subset of a character.
type State struct {
	X  int
	Y  int
	HP int
	MP int
}

// Store writes a batch of character states. Implementations must apply the
// whole batch atomically.
type Store interface {
	UpdateStates(ctx context.Context, states map[int64]State) error
}

// Buffer is a last-write-wins dirty map drained on a timer.
type Buffer struct {
	store    Store
	interval time.Duration

	mu    sync.Mutex
	dirty map[int64]State

	flushMu sync.Mutex // one flush at a time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped buffer.
func New(store Store, interval time.Duration) *Buffer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Buffer{
		store:    store,
		interval: interval,
		dirty:    make(map[int64]State),
	}
}

// MarkDirty records st as the pending state of charID, replacing any earlier one.
func (b *Buffer) MarkDirty(charID int64, st State) {
	b.mu.Lock()
	b.dirty[charID] = st
	b.mu.Unlock()
}

// Pending returns the pending state of charID.
func (b *Buffer) Pending(charID int64) (State, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.dirty[charID]
	return st, ok
}

// Len returns the number of pending entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.dirty)
}

// FlushNow writes every pending entry in one batch.
func (b *Buffer) FlushNow(ctx context.Context) error {
	b.mu.Lock()
	batch := maps.Clone(b.dirty)
	b.mu.Unlock()

	return b.flush(ctx, batch)
}

// FlushOne writes only charID's pending entry, leaving the rest untouched.
func (b *Buffer) FlushOne(ctx context.Context, charID int64) error {
	b.mu.Lock()
	st, ok := b.dirty[charID]
	b.mu.Unlock()

	if !ok {
		return nil
	}
	return b.flush(ctx, map[int64]State{charID: st})
}

// flush writes batch and then drops from the dirty map only the ids whose
// pending value is still the one written. Entries re-marked meanwhile stay.
// On error nothing is dropped.
func (b *Buffer) flush(ctx context.Context, batch map[int64]State) error {
	if len(batch) == 0 {
		return nil
	}

	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	if err := b.store.UpdateStates(ctx, batch); err != nil {
		return fmt.Errorf("flushing %d character states: %w", len(batch), err)
	}

	b.mu.Lock()
	for id, written := range batch {
		if cur, ok := b.dirty[id]; ok && cur == written {
			delete(b.dirty, id)
		}
	}
	b.mu.Unlock()

	slog.Debug("character states flushed", "count", len(batch))
	return nil
}

// Start spawns the flush timer. Calling Start on a running buffer is a no-op.
func (b *Buffer) Start(ctx context.Context) {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if b.done != nil {
		select {
		case <-b.done:
		default:
			return
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.cancel = cancel
	b.done = done

	go func() {
		defer close(done)
		b.loop(loopCtx)
	}()

	slog.Info("persistence buffer started", "interval", b.interval)
}

// Stop halts the timer, waits for it, then flushes what is left.
func (b *Buffer) Stop() {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if b.done == nil {
		return
	}
	b.cancel()
	<-b.done
	b.cancel = nil
	b.done = nil

	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	if err := b.FlushNow(ctx); err != nil {
		slog.Error("final flush failed", "pending", b.Len(), "error", err)
	}

	slog.Info("persistence buffer stopped")
}

// Running reports whether the flush timer is active.
func (b *Buffer) Running() bool {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if b.done == nil {
		return false
	}
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

// Run starts the timer and blocks until ctx is canceled. For use with errgroup.
func (b *Buffer) Run(ctx context.Context) error {
	b.Start(ctx)
	<-ctx.Done()
	b.Stop()
	return nil
}

func (b *Buffer) loop(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.FlushNow(ctx); err != nil {
				slog.Error("periodic flush failed", "pending", b.Len(), "error", err)
			}
		}
	}
}
