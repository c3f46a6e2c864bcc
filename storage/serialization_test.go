package storage

import (
	"testing"
	"time"

	"github.com/poiesic/docqa/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalID(t *testing.T) {
	tests := []struct {
		name string
		id   core.ID
	}{
		{"zero ID", core.ID(0)},
		{"small ID", core.ID(42)},
		{"large ID", core.ID(18446744073709551615)},
		{"content-based ID", core.IDFromContent("test content")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := MarshalID(tt.id)
			require.NotEmpty(t, data)

			decoded, err := UnmarshalID(data)
			require.NoError(t, err)
			assert.Equal(t, tt.id, decoded)
		})
	}
}

func TestUnmarshalID_Empty(t *testing.T) {
	_, err := UnmarshalID([]byte{})
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestMarshalUnmarshalPassage(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)

	tests := []struct {
		name    string
		passage *core.Passage
	}{
		{
			name:    "minimal passage",
			passage: core.NewPassage("hello", "", nil),
		},
		{
			name: "full passage",
			passage: &core.Passage{
				Id:         core.IDFromContent("The bus routes messages."),
				Content:    "The bus routes messages.",
				Source:     "/docs/bus.md",
				Metadata:   map[string]string{"page": "3", "row": "12"},
				Vector:     []float32{0.6, -0.8, 0},
				InsertedAt: now,
			},
		},
		{
			name: "unicode content",
			passage: &core.Passage{
				Id:      core.IDFromContent("ünïcødé ✓"),
				Content: "ünïcødé ✓",
				Vector:  []float32{1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := MarshalPassage(tt.passage)
			assert.Len(t, data, PassageMUS.Size(*tt.passage))

			decoded, err := UnmarshalPassage(data)
			require.NoError(t, err)
			assert.Equal(t, tt.passage, decoded)
		})
	}
}

func TestUnmarshalPassage_Truncated(t *testing.T) {
	p := &core.Passage{
		Id:       core.IDFromContent("chunk"),
		Content:  "chunk",
		Metadata: map[string]string{"k": "v"},
		Vector:   []float32{0.1, 0.2, 0.3},
	}
	data := MarshalPassage(p)

	for _, cut := range []int{0, 1, len(data) / 2, len(data) - 1} {
		_, err := UnmarshalPassage(data[:cut])
		assert.ErrorIs(t, err, ErrSerializationFailed, "cut at %d", cut)
	}
}

func TestMarshalPassage_StableMetadataOrder(t *testing.T) {
	p := &core.Passage{
		Content:  "x",
		Metadata: map[string]string{"a": "1", "b": "2", "c": "3", "d": "4"},
	}
	first := MarshalPassage(p)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, MarshalPassage(p))
	}
}
