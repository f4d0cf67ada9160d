package chunk_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsync/docsync/internal/chunk"
)

func collect(t *testing.T, c *chunk.Chunker) [][]byte {
	t.Helper()
	var pieces [][]byte
	for {
		p, err := c.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		pieces = append(pieces, p)
	}
	return pieces
}

func TestChunker_CoverageAndDeterminism(t *testing.T) {
	segments := []string{"abcdef", "ghijkl", "mnopqrstuvwxyz"}
	cfg := chunk.Config{PieceSize: 8, MinimumChunkSize: 2}

	c1, err := chunk.New(segments, cfg)
	require.NoError(t, err)
	pieces1 := collect(t, c1)

	c2, err := chunk.New(segments, cfg)
	require.NoError(t, err)
	pieces2 := collect(t, c2)

	require.Equal(t, pieces1, pieces2, "chunker must be deterministic")

	var joined []byte
	for _, p := range pieces1 {
		joined = append(joined, p...)
	}
	assert.Equal(t, []byte("abcdefghijklmnopqrstuvwxyz"), joined)
}

func TestChunker_MinimumSizeCoalescing(t *testing.T) {
	// PieceSize 5 with 11 bytes yields pieces of 5,5,1 — the trailing 1-byte
	// piece must merge forward into the piece that follows it unless it's
	// the very last piece, in which case it's exempt.
	cfg := chunk.Config{PieceSize: 5, MinimumChunkSize: 3}
	c, err := chunk.New([]string{"01234567890"}, cfg)
	require.NoError(t, err)
	pieces := collect(t, c)

	for i, p := range pieces {
		if i == len(pieces)-1 {
			continue
		}
		assert.GreaterOrEqual(t, len(p), cfg.MinimumChunkSize, "non-final piece %d too small: %q", i, p)
	}

	var joined []byte
	for _, p := range pieces {
		joined = append(joined, p...)
	}
	assert.Equal(t, []byte("01234567890"), joined)
}

func TestChunker_PlainSplitPrefersNewline(t *testing.T) {
	data := "hello world\nthis is a line\nshort\n"
	cfg := chunk.Config{PieceSize: 15, MinimumChunkSize: 2, PlainSplit: true}
	c, err := chunk.New([]string{data}, cfg)
	require.NoError(t, err)
	pieces := collect(t, c)

	var joined []byte
	for _, p := range pieces {
		joined = append(joined, p...)
	}
	assert.Equal(t, []byte(data), joined)

	for _, p := range pieces[:len(pieces)-1] {
		assert.True(t, bytes.HasSuffix(p, []byte("\n")) || len(p) >= cfg.PieceSize,
			"non-final piece %q should end on a newline or hit the size cap", p)
	}
}

func TestChunker_InvalidConfig(t *testing.T) {
	_, err := chunk.New([]string{"x"}, chunk.Config{PieceSize: 0, MinimumChunkSize: 1})
	require.Error(t, err)

	_, err = chunk.New([]string{"x"}, chunk.Config{PieceSize: 4, MinimumChunkSize: 10})
	require.Error(t, err)
}

func TestPieceSize(t *testing.T) {
	// V1: multiplier applied at full strength.
	assert.Equal(t, 102400*2, chunk.PieceSize(1, true))
	// current: multiplier scaled by 0.1.
	assert.Equal(t, int(102400*1.1), chunk.PieceSize(1, false))
}
