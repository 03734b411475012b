package gameserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leozinhoszg/zerion/internal/auth"
	"github.com/leozinhoszg/zerion/internal/chat"
	"github.com/leozinhoszg/zerion/internal/persistence"
	"github.com/leozinhoszg/zerion/internal/protocol"
	"github.com/leozinhoszg/zerion/internal/sim"
)

// Handler dispatches decoded client frames.
type Handler struct {
	scheduler *sim.Scheduler
	throttle  *auth.Throttle
	broker    chat.Broker
	persister Persister
	clients   *ClientManager
}

// NewHandler creates a frame handler.
func NewHandler(scheduler *sim.Scheduler, throttle *auth.Throttle, broker chat.Broker, persister Persister, clients *ClientManager) *Handler {
	return &Handler{
		scheduler: scheduler,
		throttle:  throttle,
		broker:    broker,
		persister: persister,
		clients:   clients,
	}
}

// HandleFrame processes one raw binary frame from client.
// Malformed and out-of-order frames are dropped silently.
// A returned error is fatal for the session.
func (h *Handler) HandleFrame(ctx context.Context, client *Client, raw []byte) error {
	env, ok := protocol.Decode(raw)
	if !ok {
		return nil
	}

	// seq is optional; when present it must strictly increase per session.
	if seq := env.SeqOrZero(); seq > 0 {
		if seq <= client.lastSeq {
			return nil
		}
		client.lastSeq = seq
	}

	switch env.Op {
	case protocol.OpPing:
		return h.handlePing(client)
	case protocol.OpMove:
		return h.handleMove(client, env)
	case protocol.OpChat:
		return h.handleChat(ctx, client, env)
	case protocol.OpResync:
		return h.handleResync(client)
	default:
		// server-to-client ops are ignored
		return nil
	}
}

func (h *Handler) handlePing(client *Client) error {
	if err := client.SendFrame(protocol.OpPing, protocol.PingPayload{}); err != nil {
		return fmt.Errorf("sending ping: %w", err)
	}
	return nil
}

func (h *Handler) handleMove(client *Client, env protocol.Envelope) error {
	if !h.throttle.AllowMove(client.PlayerID()) {
		return h.warn(client, protocol.WarnRateMove)
	}

	mv := protocol.DecodeMove(env)
	err := h.scheduler.Enqueue(client.PlayerID(), sim.Input{Seq: env.SeqOrZero(), Dx: mv.Dx, Dy: mv.Dy})
	switch {
	case errors.Is(err, sim.ErrQueueFull):
		return h.warn(client, protocol.WarnQueueFull)
	case err != nil:
		return fmt.Errorf("enqueueing move: %w", err)
	}

	state, you, err := h.scheduler.ApplyInputs(client.View())
	if err != nil {
		return fmt.Errorf("applying inputs: %w", err)
	}

	h.persister.MarkDirty(client.CharacterID(), persistence.State{X: you.X, Y: you.Y, HP: you.HP, MP: you.MP})

	if err := client.SendEnvelope(state); err != nil {
		return fmt.Errorf("sending state: %w", err)
	}
	return nil
}

func (h *Handler) handleChat(ctx context.Context, client *Client, env protocol.Envelope) error {
	msg := protocol.DecodeChat(env)
	if msg.Channel != protocol.ChannelGlobal {
		return nil
	}
	if !h.throttle.AllowChat(client.PlayerID()) {
		return h.warn(client, protocol.WarnRateChat)
	}

	m := chat.Message{
		Channel: msg.Channel,
		From:    client.PlayerID(),
		Msg:     msg.Msg,
		TS:      protocol.NowMs(),
	}
	if err := h.broker.Publish(ctx, m); err != nil {
		slog.Warn("chat publish failed, relaying locally", "user", client.UserID(), "error", err)
		h.relayLocal(m)
	}
	return nil
}

// relayLocal delivers m straight to every session of this process.
func (h *Handler) relayLocal(m chat.Message) {
	frame, err := protocol.Frame(protocol.OpEvent, m.Event(), nil, nil)
	if err != nil {
		slog.Error("encoding chat event", "error", err)
		return
	}
	h.clients.Broadcast(frame)
}

func (h *Handler) handleResync(client *Client) error {
	state, _, err := h.scheduler.Resync(client.View())
	if err != nil {
		return fmt.Errorf("resyncing: %w", err)
	}
	if err := client.SendEnvelope(state); err != nil {
		return fmt.Errorf("sending state: %w", err)
	}
	return nil
}

func (h *Handler) warn(client *Client, code string) error {
	if err := client.SendFrame(protocol.OpWarn, protocol.WarnPayload{Code: code}); err != nil {
		return fmt.Errorf("sending warn %s: %w", code, err)
	}
	return nil
}
