package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/leozinhoszg/zerion/internal/world"
)

// MaxChatLen is the maximum number of runes relayed per chat message.
const MaxChatLen = 200

// ChannelGlobal is the only chat channel served.
const ChannelGlobal = "global"

// Warn codes sent to clients on soft rejection.
const (
	WarnRateMove  = "rate_move"
	WarnRateChat  = "chat_rate_limited"
	WarnQueueFull = "queue_full"
)

// Event types carried by OpEvent frames.
const (
	EventMessage = "msg"
)

// Payload is the closed set of per-op payload shapes.
// Every implementation lives in this package.
type Payload interface {
	Op() Op
	sealed()
}

// MapInfo describes the loaded map in the hello frame.
type MapInfo struct {
	ID      string `msgpack:"id"`
	Version string `msgpack:"version"`
	TileW   int    `msgpack:"tile_w"`
	TileH   int    `msgpack:"tile_h"`
}

// HelloPayload is sent once, right after the handshake.
type HelloPayload struct {
	TickHz       int      `msgpack:"tick_hz"`
	ServerTimeMs uint64   `msgpack:"server_time_ms"`
	Map          *MapInfo `msgpack:"map"`
}

// PingPayload is empty; ping carries no data.
type PingPayload struct{}

// MovePayload is a single movement intent.
type MovePayload struct {
	Dx int `msgpack:"dx"`
	Dy int `msgpack:"dy"`
}

// ChatPayload is a chat line sent by a client.
type ChatPayload struct {
	Channel string `msgpack:"channel"`
	Msg     string `msgpack:"msg"`
}

// StatePayload is the per-viewer diff.
type StatePayload world.Diff

// EventPayload is a fan-out notification (chat relay).
type EventPayload struct {
	Type    string `msgpack:"type"`
	Channel string `msgpack:"channel"`
	From    string `msgpack:"from"`
	Msg     string `msgpack:"msg"`
	TS      uint64 `msgpack:"ts"`
}

// WarnPayload is a soft rejection.
type WarnPayload struct {
	Code string `msgpack:"code"`
}

// ResyncPayload is empty; the client asks for a full re-send.
type ResyncPayload struct{}

func (HelloPayload) Op() Op  { return OpHello }
func (PingPayload) Op() Op   { return OpPing }
func (MovePayload) Op() Op   { return OpMove }
func (ChatPayload) Op() Op   { return OpChat }
func (StatePayload) Op() Op  { return OpState }
func (EventPayload) Op() Op  { return OpEvent }
func (WarnPayload) Op() Op   { return OpWarn }
func (ResyncPayload) Op() Op { return OpResync }

func (HelloPayload) sealed()  {}
func (PingPayload) sealed()   {}
func (MovePayload) sealed()   {}
func (ChatPayload) sealed()   {}
func (StatePayload) sealed()  {}
func (EventPayload) sealed()  {}
func (WarnPayload) sealed()   {}
func (ResyncPayload) sealed() {}

// DecodePayload decodes env.Payload into the typed payload for env.Op.
// A missing payload yields the zero value of that op's payload.
func DecodePayload(env Envelope) (Payload, error) {
	switch env.Op {
	case OpHello:
		var p HelloPayload
		err := unmarshalPayload(env, &p)
		return p, err
	case OpPing:
		return PingPayload{}, nil
	case OpMove:
		return DecodeMove(env), nil
	case OpChat:
		return DecodeChat(env), nil
	case OpState:
		var p StatePayload
		err := unmarshalPayload(env, &p)
		return p, err
	case OpEvent:
		var p EventPayload
		err := unmarshalPayload(env, &p)
		return p, err
	case OpWarn:
		var p WarnPayload
		err := unmarshalPayload(env, &p)
		return p, err
	case OpResync:
		return ResyncPayload{}, nil
	default:
		return nil, fmt.Errorf("decoding payload: unknown op %q", env.Op)
	}
}

func unmarshalPayload(env Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := msgpack.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("decoding %s payload: %w", env.Op, err)
	}
	return nil
}

// looseMap decodes the payload as a generic map. Failure yields an empty map.
func looseMap(env Envelope) map[string]any {
	if len(env.Payload) == 0 {
		return nil
	}
	var m map[string]any
	if err := msgpack.Unmarshal(env.Payload, &m); err != nil {
		return nil
	}
	return m
}

// DecodeMove reads dx/dy from a move frame. Missing or malformed fields become 0.
func DecodeMove(env Envelope) MovePayload {
	m := looseMap(env)
	return MovePayload{
		Dx: asInt(m["dx"]),
		Dy: asInt(m["dy"]),
	}
}

// DecodeChat reads a chat frame. Channel defaults to global and the text is
// truncated to MaxChatLen runes.
func DecodeChat(env Envelope) ChatPayload {
	m := looseMap(env)

	channel, _ := m["channel"].(string)
	if channel == "" {
		channel = ChannelGlobal
	}

	var text string
	switch v := m["msg"].(type) {
	case string:
		text = v
	case nil:
	default:
		text = fmt.Sprint(v)
	}

	return ChatPayload{
		Channel: channel,
		Msg:     Truncate(text, MaxChatLen),
	}
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
