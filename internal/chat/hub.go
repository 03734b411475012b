package chat

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultSubscriberBuffer is the per-subscriber queue length.
const DefaultSubscriberBuffer = 64

// Hub is an in-process Broker. A subscriber whose queue is full misses
// the message; publishers never block.
type Hub struct {
	buffer int

	mu   sync.RWMutex
	subs map[string]map[*hubSub]struct{}

	dropped atomic.Uint64
}

// NewHub creates a hub with per-subscriber queues of buffer messages.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[string]map[*hubSub]struct{}),
	}
}

// Publish implements Broker.
func (h *Hub) Publish(_ context.Context, msg Message) error {
	if err := checkChannel(msg.Channel); err != nil {
		return err
	}
	h.deliver(msg)
	return nil
}

func (h *Hub) deliver(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs[msg.Channel] {
		select {
		case s.ch <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe implements Broker.
func (h *Hub) Subscribe(_ context.Context, channel string) (Subscription, error) {
	if err := checkChannel(channel); err != nil {
		return nil, err
	}

	s := &hubSub{hub: h, channel: channel, ch: make(chan Message, h.buffer)}

	h.mu.Lock()
	set, ok := h.subs[channel]
	if !ok {
		set = make(map[*hubSub]struct{})
		h.subs[channel] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	return s, nil
}

// Subscribers returns the number of live subscriptions on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// Dropped returns how many deliveries were skipped because a queue was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) remove(s *hubSub) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[s.channel]
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.channel)
	}
	close(s.ch)
}

type hubSub struct {
	hub     *Hub
	channel string
	ch      chan Message
	once    sync.Once
}

func (s *hubSub) C() <-chan Message {
	return s.ch
}

func (s *hubSub) Close() error {
	s.once.Do(func() { s.hub.remove(s) })
	return nil
}
