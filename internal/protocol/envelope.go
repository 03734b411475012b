package protocol

import (
	"fmt"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Wire constants shared by the websocket handshake and frame codec.
const (
	// Version is the only envelope version the server accepts.
	Version = 1

	// Subprotocol must be offered by every client during the websocket handshake.
	Subprotocol = "zerion.v1"

	// TicketPrefix marks the subprotocol entry carrying a one-time connection ticket.
	TicketPrefix = "auth."
)

// Op identifies the kind of frame.
type Op string

const (
	OpHello  Op = "hello"
	OpPing   Op = "ping"
	OpMove   Op = "move"
	OpChat   Op = "chat"
	OpState  Op = "state"
	OpEvent  Op = "event"
	OpWarn   Op = "warn"
	OpResync Op = "resync"
)

// Valid reports whether op belongs to the fixed op set.
func (op Op) Valid() bool {
	switch op {
	case OpHello, OpPing, OpMove, OpChat, OpState, OpEvent, OpWarn, OpResync:
		return true
	default:
		return false
	}
}

func (op Op) String() string {
	return string(op)
}

// Envelope is the frame wrapper for every client/server message.
// Optional fields are omitted from the encoded form when absent.
type Envelope struct {
	V       int                `msgpack:"v"`
	Op      Op                 `msgpack:"op"`
	Seq     *uint64            `msgpack:"seq,omitempty"`
	Ack     *uint64            `msgpack:"ack,omitempty"`
	TS      uint64             `msgpack:"ts"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`
}

// HasSeq reports whether the envelope carries a sequence number.
func (e Envelope) HasSeq() bool {
	return e.Seq != nil
}

// SeqOrZero returns the sequence number, or 0 if absent.
func (e Envelope) SeqOrZero() uint64 {
	if e.Seq == nil {
		return 0
	}
	return *e.Seq
}

// AckOrZero returns the acknowledgment, or 0 if absent.
func (e Envelope) AckOrZero() uint64 {
	if e.Ack == nil {
		return 0
	}
	return *e.Ack
}

// U64 returns a pointer to v. Helper for optional seq/ack fields.
func U64(v uint64) *uint64 {
	return &v
}

// NowMs returns the current wall clock in milliseconds since epoch.
func NowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

// Encode builds an envelope for op, stamping ts at call time.
// payload may be nil; when set its op must match.
func Encode(op Op, payload Payload, seq, ack *uint64) (Envelope, error) {
	if !op.Valid() {
		return Envelope{}, fmt.Errorf("encoding envelope: unknown op %q", op)
	}

	env := Envelope{
		V:   Version,
		Op:  op,
		Seq: seq,
		Ack: ack,
		TS:  NowMs(),
	}

	if payload != nil {
		if payload.Op() != op {
			return Envelope{}, fmt.Errorf("encoding envelope: payload for %q used with op %q", payload.Op(), op)
		}
		raw, err := msgpack.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encoding %s payload: %w", op, err)
		}
		env.Payload = raw
	}

	return env, nil
}

// Marshal serializes env into its binary wire form.
func Marshal(env Envelope) ([]byte, error) {
	data, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s envelope: %w", env.Op, err)
	}
	return data, nil
}

// Frame is Encode followed by Marshal.
func Frame(op Op, payload Payload, seq, ack *uint64) ([]byte, error) {
	env, err := Encode(op, payload, seq, ack)
	if err != nil {
		return nil, err
	}
	return Marshal(env)
}

// Decode parses and validates an untrusted frame.
// It never panics; ok=false means the frame must be dropped silently.
//
// A frame is accepted only if v == 1, op is a known op, and any present
// seq/ack/ts are non-negative integers.
func Decode(raw []byte) (env Envelope, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			env, ok = Envelope{}, false
		}
	}()

	var m map[string]any
	if err := msgpack.Unmarshal(raw, &m); err != nil || m == nil {
		return Envelope{}, false
	}

	v, isInt := asUint(m["v"])
	if !isInt || v != Version {
		return Envelope{}, false
	}

	opStr, isStr := m["op"].(string)
	if !isStr || !Op(opStr).Valid() {
		return Envelope{}, false
	}

	env = Envelope{V: Version, Op: Op(opStr)}

	for _, key := range [...]string{"seq", "ack", "ts"} {
		val, present := m[key]
		if !present {
			continue
		}
		n, isInt := asUint(val)
		if !isInt {
			return Envelope{}, false
		}
		switch key {
		case "seq":
			env.Seq = U64(n)
		case "ack":
			env.Ack = U64(n)
		case "ts":
			env.TS = n
		}
	}

	if p, present := m["payload"]; present && p != nil {
		data, err := msgpack.Marshal(p)
		if err != nil {
			return Envelope{}, false
		}
		env.Payload = data
	}

	return env, true
}

// asUint accepts any msgpack integer width; floats, strings and negatives are rejected.
func asUint(v any) (uint64, bool) {
	switch n := v.(type) {
	case int8:
		return signed(int64(n))
	case int16:
		return signed(int64(n))
	case int32:
		return signed(int64(n))
	case int64:
		return signed(n)
	case int:
		return signed(int64(n))
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	case uint:
		return uint64(n), true
	default:
		return 0, false
	}
}

func signed(n int64) (uint64, bool) {
	if n < 0 {
		return 0, false
	}
	return uint64(n), true
}

// asInt coerces a loosely typed number to int. Anything else becomes 0.
func asInt(v any) int {
	switch n := v.(type) {
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return clampInt64(n)
	case int:
		return n
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return clampInt64(int64(n))
	case uint64:
		if n > math.MaxInt32 {
			return math.MaxInt32
		}
		return int(n)
	case float32:
		return clampInt64(int64(n))
	case float64:
		return clampInt64(int64(n))
	default:
		return 0
	}
}

func clampInt64(n int64) int {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	if n < math.MinInt32 {
		return math.MinInt32
	}
	return int(n)
}
