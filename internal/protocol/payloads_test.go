package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozinhoszg/zerion/internal/world"
)

func envWithPayload(t *testing.T, op Op, payload any) Envelope {
	t.Helper()
	raw := map[string]any{"v": 1, "op": string(op)}
	if payload != nil {
		raw["payload"] = payload
	}
	env, ok := Decode(mustPack(t, raw))
	require.True(t, ok)
	return env
}

func TestDecodeMove(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		want    MovePayload
	}{
		{"ints", map[string]any{"dx": 1, "dy": -1}, MovePayload{Dx: 1, Dy: -1}},
		{"missing payload", nil, MovePayload{}},
		{"missing dy", map[string]any{"dx": -1}, MovePayload{Dx: -1}},
		{"floats truncate", map[string]any{"dx": 0.9, "dy": -1.0}, MovePayload{Dx: 0, Dy: -1}},
		{"strings are zero", map[string]any{"dx": "1", "dy": true}, MovePayload{}},
		{"out of range kept", map[string]any{"dx": 5}, MovePayload{Dx: 5}},
		{"not a map", []any{1, 2}, MovePayload{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeMove(envWithPayload(t, OpMove, tt.payload)))
		})
	}
}

func TestDecodeChat(t *testing.T) {
	got := DecodeChat(envWithPayload(t, OpChat, map[string]any{"msg": "hi"}))
	assert.Equal(t, ChatPayload{Channel: ChannelGlobal, Msg: "hi"}, got)

	got = DecodeChat(envWithPayload(t, OpChat, map[string]any{"channel": "party", "msg": 42}))
	assert.Equal(t, ChatPayload{Channel: "party", Msg: "42"}, got)

	long := strings.Repeat("ж", MaxChatLen+1)
	got = DecodeChat(envWithPayload(t, OpChat, map[string]any{"msg": long}))
	assert.Equal(t, MaxChatLen, len([]rune(got.Msg)))

	got = DecodeChat(envWithPayload(t, OpChat, nil))
	assert.Equal(t, ChatPayload{Channel: ChannelGlobal}, got)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"", 3, ""},
		{"abc", 3, "abc"},
		{"abcd", 3, "abc"},
		{"héllo", 2, "hé"},
		{"日本語テキスト", 3, "日本語"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Truncate(tt.in, tt.n), tt.in)
	}
}

func TestDecodePayload_State(t *testing.T) {
	diff := world.Diff{
		You:     world.Vitals{X: 10, Y: 20, HP: 100, MP: 50},
		Added:   []world.Snapshot{{ID: "2", Kind: world.KindPlayer, X: 1, Y: 2, HP: 100, Meta: map[string]any{}}},
		Updated: []world.Update{},
		Removed: []string{"3"},
	}
	frame, err := Frame(OpState, StatePayload(diff), U64(4), U64(2))
	require.NoError(t, err)
	env, ok := Decode(frame)
	require.True(t, ok)

	p, err := DecodePayload(env)
	require.NoError(t, err)
	got := world.Diff(p.(StatePayload))
	assert.Equal(t, diff.You, got.You)
	require.Len(t, got.Added, 1)
	assert.Equal(t, "2", got.Added[0].ID)
	assert.Equal(t, []string{"3"}, got.Removed)
}

func TestDecodePayload_Typed(t *testing.T) {
	frame, err := Frame(OpWarn, WarnPayload{Code: WarnRateMove}, nil, nil)
	require.NoError(t, err)
	env, ok := Decode(frame)
	require.True(t, ok)

	p, err := DecodePayload(env)
	require.NoError(t, err)
	assert.Equal(t, WarnPayload{Code: WarnRateMove}, p)
	assert.Equal(t, OpWarn, p.Op())

	p, err = DecodePayload(envWithPayload(t, OpPing, nil))
	require.NoError(t, err)
	assert.Equal(t, PingPayload{}, p)

	_, err = DecodePayload(Envelope{V: 1, Op: Op("fly")})
	assert.Error(t, err)

	_, err = DecodePayload(envWithPayload(t, OpWarn, "not a map"))
	assert.Error(t, err)
}
