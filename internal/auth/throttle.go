package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Defaults for per-user limits.
const (
	DefaultMovePerSecond = 20
	DefaultChatPerMinute = 20

	// limiterIdle is how long an unused limiter is kept before Sweep drops it.
	limiterIdle = 5 * time.Minute
)

type limiterKind int

const (
	kindMove limiterKind = iota
	kindChat
)

type limiterKey struct {
	kind limiterKind
	user string
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Throttle keeps one token bucket per user and action.
type Throttle struct {
	move rate.Limit
	chat rate.Limit

	moveBurst int
	chatBurst int

	mu       sync.Mutex
	limiters map[limiterKey]*limiterEntry
}

// NewThrottle creates a throttle allowing movePerSecond moves and
// chatPerMinute chat lines per user.
func NewThrottle(movePerSecond, chatPerMinute int) *Throttle {
	if movePerSecond <= 0 {
		movePerSecond = DefaultMovePerSecond
	}
	if chatPerMinute <= 0 {
		chatPerMinute = DefaultChatPerMinute
	}
	return &Throttle{
		move:      rate.Limit(movePerSecond),
		moveBurst: movePerSecond,
		chat:      rate.Every(time.Minute / time.Duration(chatPerMinute)),
		chatBurst: chatPerMinute,
		limiters:  make(map[limiterKey]*limiterEntry),
	}
}

// AllowMove reports whether user may send another move now.
func (t *Throttle) AllowMove(user string) bool {
	return t.limiter(kindMove, user).Allow()
}

// AllowChat reports whether user may send another chat line now.
func (t *Throttle) AllowChat(user string) bool {
	return t.limiter(kindChat, user).Allow()
}

func (t *Throttle) limiter(kind limiterKind, user string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := limiterKey{kind: kind, user: user}
	e, ok := t.limiters[key]
	if !ok {
		lim := rate.NewLimiter(t.move, t.moveBurst)
		if kind == kindChat {
			lim = rate.NewLimiter(t.chat, t.chatBurst)
		}
		e = &limiterEntry{lim: lim}
		t.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e.lim
}

// Forget drops every limiter of user.
func (t *Throttle) Forget(user string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.limiters, limiterKey{kind: kindMove, user: user})
	delete(t.limiters, limiterKey{kind: kindChat, user: user})
}

// Sweep drops limiters unused for longer than idle.
func (t *Throttle) Sweep(idle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-idle)
	n := 0
	for k, e := range t.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(t.limiters, k)
			n++
		}
	}
	return n
}

// Len returns the number of live limiters.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}

// Run sweeps idle limiters every interval until ctx is canceled.
func (t *Throttle) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := t.Sweep(limiterIdle); n > 0 {
				slog.Debug("idle limiters evicted", "count", n)
			}
		}
	}
}
