package docsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/docsync/docsync/internal/remote"
	"github.com/docsync/docsync/pkg/model"
)

// enumerateConcurrency bounds how many decrypt+assembly tasks run at
// once while draining a page of enumeration results.
const enumerateConcurrency = 5

// enumeratePageSize is the _all_docs page size used by enumeration.
const enumeratePageSize = 100

// keyRange is a half-open [start, end) id range.
type keyRange struct {
	start, end string
}

// enumerationRanges partitions the non-chunk metadata id space into five
// disjoint ranges that exclude the chunk-leaf prefix (h:) and the
// reserved system-document prefixes (i:, ix:, ps:), walked in order so
// entries are yielded range-by-range in ascending id order within each.
// The exact boundary characters are a judgment call recorded in
// DESIGN.md: CouchDB key ranges are byte-ordered strings, so appending
// the character immediately after a prefix's terminal byte (":" → ";")
// gives an exclusive lower bound for the next range without needing a
// real "highest representable character" sentinel for every range
// except the last, where a sentinel far past any realistic id is used.
func enumerationRanges() []keyRange {
	const sentinel = "￿￿￿￿"
	return []keyRange{
		{start: "", end: model.PrefixChunk},
		{start: "h;", end: "i:"},
		{start: "i;", end: "ix:"},
		{start: "ix;", end: "ps:"},
		{start: "ps;", end: sentinel},
	}
}

// EnumeratedEntry pairs a loaded (or meta-only) entry with the error, if
// any, that occurred assembling it — enumeration reports rather than
// aborts on a single bad entry.
type EnumeratedEntry struct {
	Entry *model.LoadedEntry
	Err   error
}

// EnumerateAllNormalDocs walks every non-chunk, non-reserved metadata
// entry across the five disjoint key ranges, decrypting and (unless
// metaOnly) assembling each one with up to enumerateConcurrency
// concurrent workers per page. It returns the full result set; a caller
// wanting true streaming should adapt this into a channel-based variant
// using the same per-range, per-page loop.
func (s *Store) EnumerateAllNormalDocs(ctx context.Context, metaOnly bool) ([]EnumeratedEntry, error) {
	var out []EnumeratedEntry
	for _, rng := range enumerationRanges() {
		entries, err := s.enumerateRange(ctx, rng, metaOnly)
		if err != nil {
			return out, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

func (s *Store) enumerateRange(ctx context.Context, rng keyRange, metaOnly bool) ([]EnumeratedEntry, error) {
	var out []EnumeratedEntry
	skip := 0

	// nextPage is the single in-flight prefetch slot: the page after the
	// one currently being processed is already on the wire by the time
	// processing starts, bounding read-ahead to exactly one page.
	page, err := s.adapter.RangeDocs(ctx, rng.start, rng.end, skip, enumeratePageSize)
	if err != nil {
		return nil, fmt.Errorf("enumerate %s..%s: %w", rng.start, rng.end, err)
	}

	for len(page.Rows) > 0 {
		skip += len(page.Rows)

		nextPageCh := make(chan *remote.RangePage, 1)
		nextErrCh := make(chan error, 1)
		go func(skip int) {
			p, err := s.adapter.RangeDocs(ctx, rng.start, rng.end, skip, enumeratePageSize)
			if err != nil {
				nextErrCh <- err
				return
			}
			nextPageCh <- p
		}(skip)

		out = append(out, s.processPage(ctx, toRangeRows(page.Rows), metaOnly)...)

		select {
		case p := <-nextPageCh:
			page = p
		case err := <-nextErrCh:
			return out, fmt.Errorf("enumerate %s..%s: %w", rng.start, rng.end, err)
		}
	}
	return out, nil
}

// processPage decrypts and assembles every row in a page with at most
// enumerateConcurrency workers in flight, preserving row order in the
// returned slice.
func (s *Store) processPage(ctx context.Context, rows []rangeRow, metaOnly bool) []EnumeratedEntry {
	results := make([]EnumeratedEntry, len(rows))
	sem := make(chan struct{}, enumerateConcurrency)
	var wg sync.WaitGroup

	for i, row := range rows {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, row rangeRow) {
			defer wg.Done()
			defer func() { <-sem }()
			entry, err := s.assembleEnumeratedRow(ctx, row, metaOnly)
			if err != nil {
				s.log.WithError(err).WithField("id", row.id).Warn("enumeration: skipping entry")
			}
			results[i] = EnumeratedEntry{Entry: entry, Err: err}
		}(i, row)
	}
	wg.Wait()
	return results
}

// rangeRow is the subset of a RangePage row enumeration needs.
type rangeRow struct {
	id  model.DocumentID
	doc json.RawMessage
}

func toRangeRows(rows []remote.RangeRow) []rangeRow {
	out := make([]rangeRow, 0, len(rows))
	for _, r := range rows {
		if r.Error != "" || r.Doc == nil {
			continue
		}
		out = append(out, rangeRow{id: r.ID, doc: r.Doc})
	}
	return out
}

func (s *Store) assembleEnumeratedRow(ctx context.Context, row rangeRow, metaOnly bool) (*model.LoadedEntry, error) {
	var meta model.MetaEntry
	if err := json.Unmarshal(row.doc, &meta); err != nil {
		return nil, fmt.Errorf("decode %s: %w", row.id, err)
	}
	if !meta.Type.IsMetadata() {
		return nil, nil
	}

	if err := s.decryptMetaPath(&meta); err != nil {
		return nil, err
	}

	loaded := &model.LoadedEntry{MetaEntry: meta}
	if metaOnly || meta.Deleted {
		return loaded, nil
	}

	data, err := s.collectChunks(ctx, meta.Children)
	if err != nil {
		return nil, fmt.Errorf("assemble %s: %w", row.id, err)
	}
	loaded.Data = data
	return loaded, nil
}
