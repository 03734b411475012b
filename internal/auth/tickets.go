package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTicketTTL is how long an issued ticket stays redeemable.
const DefaultTicketTTL = 60 * time.Second

// TicketStore exchanges one-time tickets for user ids.
// Redeem must succeed at most once per ticket.
type TicketStore interface {
	Issue(ctx context.Context, userID int64) (string, error)
	Redeem(ctx context.Context, ticket string) (userID int64, ok bool, err error)
}

type ticketEntry struct {
	userID  int64
	expires time.Time
}

// MemoryTickets is an in-process TicketStore.
type MemoryTickets struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	tickets map[string]ticketEntry
}

// NewMemoryTickets creates a store whose tickets live for ttl.
func NewMemoryTickets(ttl time.Duration) *MemoryTickets {
	if ttl <= 0 {
		ttl = DefaultTicketTTL
	}
	return &MemoryTickets{
		ttl:     ttl,
		now:     time.Now,
		tickets: make(map[string]ticketEntry),
	}
}

// Issue implements TicketStore.
func (s *MemoryTickets) Issue(_ context.Context, userID int64) (string, error) {
	ticket := uuid.NewString()

	s.mu.Lock()
	s.tickets[ticket] = ticketEntry{userID: userID, expires: s.now().Add(s.ttl)}
	s.mu.Unlock()

	return ticket, nil
}

// Redeem implements TicketStore.
func (s *MemoryTickets) Redeem(_ context.Context, ticket string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tickets[ticket]
	if !ok {
		return 0, false, nil
	}
	delete(s.tickets, ticket)
	if !s.now().Before(e.expires) {
		return 0, false, nil
	}
	return e.userID, true, nil
}

// Sweep drops expired tickets and returns how many were removed.
func (s *MemoryTickets) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for t, e := range s.tickets {
		if !now.Before(e.expires) {
			delete(s.tickets, t)
			n++
		}
	}
	return n
}

// Len returns the number of stored tickets.
func (s *MemoryTickets) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}
