package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestBuildDiffs_AddedThenIdempotent(t *testing.T) {
	s := NewState()
	s.Upsert(NewEntity("a", KindPlayer, 1, 2))
	s.Upsert(NewEntity("b", KindNpc, 3, 4))
	sent := map[string]uint64{}
	you := Vitals{X: 1, Y: 2, HP: 100, MP: 50}

	d := s.BuildDiffs(you, []string{"a", "b"}, sent)
	require.Len(t, d.Added, 2)
	assert.Equal(t, "a", d.Added[0].ID)
	assert.Equal(t, KindNpc, d.Added[1].Kind)
	assert.NotNil(t, d.Added[0].Meta, "meta is always a map in snapshots")
	assert.Empty(t, d.Updated)
	assert.Empty(t, d.Removed)
	assert.Equal(t, you, d.You)

	for _, id := range []string{"a", "b"} {
		assert.Equal(t, s.Version(id), sent[id])
	}

	again := s.BuildDiffs(you, []string{"a", "b"}, sent)
	assert.True(t, again.Empty(), "second build without mutation must be empty")
	assert.Equal(t, you, again.You)
}

func TestBuildDiffs_Updated(t *testing.T) {
	s := NewState()
	e := NewEntity("a", KindPlayer, 0, 0)
	s.Upsert(e)
	sent := map[string]uint64{}
	s.BuildDiffs(Vitals{}, []string{"a"}, sent)

	e.X = 8
	e.Meta = map[string]any{"emote": "wave"}
	s.Upsert(e)

	d := s.BuildDiffs(Vitals{}, []string{"a"}, sent)
	require.Len(t, d.Updated, 1)
	assert.Equal(t, Update{ID: "a", Patch: Patch{X: 8, Y: 0, HP: DefaultHP, Meta: map[string]any{"emote": "wave"}}}, d.Updated[0])
	assert.Equal(t, uint64(2), sent["a"])
}

func TestBuildDiffs_UpdateWithoutMetaOmitsIt(t *testing.T) {
	s := NewState()
	s.Upsert(NewEntity("a", KindPlayer, 0, 0))
	sent := map[string]uint64{}
	s.BuildDiffs(Vitals{}, []string{"a"}, sent)

	s.Upsert(NewEntity("a", KindPlayer, 4, 0))
	d := s.BuildDiffs(Vitals{}, []string{"a"}, sent)
	require.Len(t, d.Updated, 1)
	assert.Nil(t, d.Updated[0].Patch.Meta)
}

func TestBuildDiffs_ReaddedIDWithLowerVersion(t *testing.T) {
	s := NewState()
	e := NewEntity("a", KindPlayer, 0, 0)
	for i := range 5 {
		e.X = i
		s.Upsert(e)
	}
	sent := map[string]uint64{}
	s.BuildDiffs(Vitals{}, []string{"a"}, sent)
	require.Equal(t, uint64(5), sent["a"])

	s.Remove("a")
	s.Upsert(NewEntity("a", KindPlayer, 100, 0))
	s.Upsert(NewEntity("a", KindPlayer, 104, 0))

	d := s.BuildDiffs(Vitals{}, []string{"a"}, sent)
	require.Len(t, d.Updated, 1)
	assert.Equal(t, 104, d.Updated[0].Patch.X)
	assert.Equal(t, s.Version("a"), sent["a"])

	assert.True(t, s.BuildDiffs(Vitals{}, []string{"a"}, sent).Empty())
}

func TestPatch_EncodeMeta(t *testing.T) {
	tests := []struct {
		name     string
		meta     map[string]any
		wantMeta bool
		wantLen  int
	}{
		{"nil meta omitted", nil, false, 3},
		{"empty meta kept", map[string]any{}, true, 4},
		{"meta kept", map[string]any{"name": "x"}, true, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := msgpack.Marshal(Patch{X: 1, Y: 2, HP: 3, Meta: tt.meta})
			require.NoError(t, err)

			var m map[string]any
			require.NoError(t, msgpack.Unmarshal(raw, &m))
			assert.Len(t, m, tt.wantLen)
			_, hasMeta := m["meta"]
			assert.Equal(t, tt.wantMeta, hasMeta)

			var p Patch
			require.NoError(t, msgpack.Unmarshal(raw, &p))
			assert.Equal(t, 1, p.X)
			assert.Equal(t, 3, p.HP)
		})
	}
}

func TestBuildDiffs_RemovedExactlyOnce(t *testing.T) {
	s := NewState()
	s.Upsert(NewEntity("a", KindPlayer, 0, 0))
	s.Upsert(NewEntity("b", KindPlayer, 0, 0))
	sent := map[string]uint64{}
	s.BuildDiffs(Vitals{}, []string{"a", "b"}, sent)

	// a leaves visibility, b leaves the world.
	s.Remove("b")
	d := s.BuildDiffs(Vitals{}, []string{"b"}, sent)
	assert.Equal(t, []string{"a", "b"}, d.Removed)
	assert.Empty(t, sent)

	d = s.BuildDiffs(Vitals{}, []string{}, sent)
	assert.Empty(t, d.Removed)
}

func TestBuildDiffs_SkipsUnknownVisibleIDs(t *testing.T) {
	s := NewState()
	sent := map[string]uint64{}

	d := s.BuildDiffs(Vitals{}, []string{"ghost"}, sent)
	assert.True(t, d.Empty())
	assert.NotContains(t, sent, "ghost")
}

type countingBuilder struct {
	calls int
}

func (c *countingBuilder) Build(s *State, you Vitals, visible []string, sent map[string]uint64) Diff {
	c.calls++
	return FullPatchBuilder{}.Build(s, you, visible, sent)
}

func TestState_SetDiffBuilder(t *testing.T) {
	s := NewState()
	b := &countingBuilder{}
	s.SetDiffBuilder(b)
	s.BuildDiffs(Vitals{}, nil, map[string]uint64{})
	assert.Equal(t, 1, b.calls)

	s.SetDiffBuilder(nil)
	s.BuildDiffs(Vitals{}, nil, map[string]uint64{})
	assert.Equal(t, 1, b.calls)
}
