// Package chunk splits file content into size-bounded, deduplicable pieces.
//
// Splitting is a pull-based Splitter wrapping boxo/chunker for the
// byte-boundary case, but the policy layered on top of it — piece-size
// formula, delimiter preference for text files, and forward-coalescing of
// undersized pieces — implements this store's own deterministic chunking
// contract rather than boxo's content-defined (Rabin) chunking, which is
// not byte-for-byte reproducible across runs of the same input the way
// this store requires.
package chunk

import (
	"bytes"
	"fmt"
	"io"
	"unicode"

	boxochunker "github.com/ipfs/boxo/chunker"

	"github.com/docsync/docsync/internal/errs"
	"github.com/docsync/docsync/pkg/model"
)

// Config controls how Chunker splits content.
type Config struct {
	// PieceSize is the maximum byte length of any non-final piece. Callers
	// compute this from CustomChunkSize and UseV1 via the PieceSize
	// function below before constructing a Chunker.
	PieceSize int
	// PlainSplit prefers splitting at natural text delimiters (newline,
	// whitespace, punctuation) so minor edits don't reshuffle every piece
	// after the edit point. Callers set this based on the file's extension.
	PlainSplit bool
	// MinimumChunkSize is the lower bound a piece must meet, except
	// possibly the final piece of the stream.
	MinimumChunkSize int
	// Path is carried for policy lookups by callers that want to vary
	// delimiter preference by extension; the Chunker itself only uses it
	// for error messages.
	Path model.FilePath
	// V1 selects the legacy delimiter set (newline only) used by the old
	// text-splitting envelope; the current format also prefers whitespace
	// and punctuation boundaries. See DESIGN.md for why V1's exact
	// delimiter set was a judgment call rather than a known fact.
	V1 bool
}

func (c Config) validate() error {
	if c.PieceSize <= 0 {
		return fmt.Errorf("chunk: %w: pieceSize must be positive, got %d", errs.ErrConfig, c.PieceSize)
	}
	if c.MinimumChunkSize <= 0 {
		return fmt.Errorf("chunk: %w: minimumChunkSize must be positive, got %d", errs.ErrConfig, c.MinimumChunkSize)
	}
	if c.MinimumChunkSize > c.PieceSize {
		return fmt.Errorf("chunk: %w: minimumChunkSize (%d) exceeds pieceSize (%d)", errs.ErrConfig, c.MinimumChunkSize, c.PieceSize)
	}
	return nil
}

// Chunker yields pieces one at a time, pull-style, so callers never hold
// the full piece sequence in memory at once — only the current and
// look-ahead piece needed for forward coalescing.
type Chunker struct {
	pieces [][]byte
	pos    int
}

// New joins segments (already-ordered; their concatenation is the original
// file content) and splits the result per cfg. Splitting and coalescing
// happen eagerly here; Next() only walks the precomputed, coalesced piece
// list. For the sizes this store targets (single files, capped at
// model.MaxDocSizeBin-scale pieces) this is simpler and no less
// deterministic than streaming the cut points lazily.
func New(segments []string, cfg Config) (*Chunker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	data := joinSegments(segments)
	var raw [][]byte
	if len(data) == 0 {
		raw = nil
	} else if cfg.PlainSplit {
		raw = splitText(data, cfg.PieceSize, cfg.V1)
	} else {
		var err error
		raw, err = splitFixed(data, cfg.PieceSize)
		if err != nil {
			return nil, fmt.Errorf("chunk: %s: %w", cfg.Path, err)
		}
	}

	return &Chunker{pieces: coalesce(raw, cfg.MinimumChunkSize)}, nil
}

// Next returns the next piece, or io.EOF once the sequence is exhausted.
func (c *Chunker) Next() ([]byte, error) {
	if c.pos >= len(c.pieces) {
		return nil, io.EOF
	}
	p := c.pieces[c.pos]
	c.pos++
	return p, nil
}

func joinSegments(segments []string) []byte {
	total := 0
	for _, s := range segments {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range segments {
		buf = append(buf, s...)
	}
	return buf
}

// splitFixed cuts data into PieceSize-byte pieces using boxo's size
// splitter for byte-boundary chunking.
func splitFixed(data []byte, pieceSize int) ([][]byte, error) {
	splitter := boxochunker.NewSizeSplitter(bytes.NewReader(data), int64(pieceSize))
	var pieces [][]byte
	for {
		p, err := splitter.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		pieces = append(pieces, p)
	}
	return pieces, nil
}

// splitText prefers cutting at a delimiter near the pieceSize boundary so
// that a single-character edit shifts at most the piece it lands in,
// instead of reshuffling every following piece the way a pure byte-offset
// cut would. V1 only looks for newlines; current also accepts whitespace
// and punctuation, widening the set of stable cut points.
func splitText(data []byte, pieceSize int, v1 bool) [][]byte {
	var pieces [][]byte
	start := 0
	for start < len(data) {
		end := start + pieceSize
		if end >= len(data) {
			pieces = append(pieces, data[start:])
			break
		}
		cut := findDelimiterCut(data, start, end, v1)
		pieces = append(pieces, data[start:cut])
		start = cut
	}
	return pieces
}

// findDelimiterCut looks backward from end for the nearest acceptable
// delimiter, preferring newline, then whitespace, then punctuation. It
// never searches before start+1 (a piece must make forward progress) and
// falls back to a hard cut at end if nothing is found.
func findDelimiterCut(data []byte, start, end int, v1 bool) int {
	for i := end; i > start; i-- {
		if data[i-1] == '\n' {
			return i
		}
	}
	if v1 {
		return end
	}
	for i := end; i > start; i-- {
		if unicode.IsSpace(rune(data[i-1])) {
			return i
		}
	}
	for i := end; i > start; i-- {
		if unicode.IsPunct(rune(data[i-1])) {
			return i
		}
	}
	return end
}

// coalesce merges any piece shorter than minimumChunkSize forward into the
// next piece, repeatedly, until it meets the bound or becomes the final
// piece of the stream (which is exempt).
func coalesce(pieces [][]byte, minimumChunkSize int) [][]byte {
	if len(pieces) == 0 {
		return pieces
	}
	out := make([][]byte, 0, len(pieces))
	i := 0
	for i < len(pieces) {
		cur := pieces[i]
		i++
		for len(cur) < minimumChunkSize && i < len(pieces) {
			merged := make([]byte, 0, len(cur)+len(pieces[i]))
			merged = append(merged, cur...)
			merged = append(merged, pieces[i]...)
			cur = merged
			i++
		}
		out = append(out, cur)
	}
	return out
}

// PieceSize computes the piece-size policy from the store's configured
// multiplier and format version.
//
//	pieceSize = floor(MAX_DOC_SIZE_BIN * ((customChunkSize * (v1 ? 1 : 0.1)) + 1))
func PieceSize(customChunkSize float64, v1 bool) int {
	multiplier := customChunkSize
	if !v1 {
		multiplier *= 0.1
	}
	return int(float64(model.MaxDocSizeBin) * (multiplier + 1))
}
