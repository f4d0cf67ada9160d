package docsync

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docsync/docsync/internal/chunk"
	"github.com/docsync/docsync/internal/errs"
	"github.com/docsync/docsync/internal/hashid"
	"github.com/docsync/docsync/pkg/model"
)

// plainSplitExtensions names the extensions this store treats as
// text-splittable (delimiter-aware chunking instead of fixed byte
// boundaries).
var plainSplitExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
	".canvas":   true,
}

func isPlainSplit(path model.FilePath) bool {
	s := string(path)
	i := strings.LastIndexByte(s, '.')
	if i < 0 {
		return false
	}
	return plainSplitExtensions[strings.ToLower(s[i:])]
}

func (s *Store) pieceSize() int {
	if s.cfg.PieceSizeOverride > 0 {
		return s.cfg.PieceSizeOverride
	}
	return chunk.PieceSize(s.cfg.CustomChunkSize, s.cfg.UseV1)
}

// Get fetches the logical file at path. If metaOnly is true, the
// returned entry's Data is always empty and children are not resolved.
// A path with no corresponding metadata entry (or one that resolves to a
// non-metadata kind) reports errs.ErrNotPresent.
func (s *Store) Get(ctx context.Context, path model.FilePath, metaOnly bool) (*model.LoadedEntry, error) {
	id := hashid.PathID(path, s.cfg.ObfuscatePassphrase)

	meta, err := s.fetchMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	if !meta.Type.IsMetadata() {
		return nil, fmt.Errorf("docsync: get %s: %w", path, errs.ErrNotPresent)
	}

	if err := s.decryptMetaPath(meta); err != nil {
		return nil, err
	}

	loaded := &model.LoadedEntry{MetaEntry: *meta}
	if metaOnly {
		return loaded, nil
	}

	data, err := s.collectChunks(ctx, meta.Children)
	if err != nil {
		return nil, fmt.Errorf("docsync: get %s: %w", path, err)
	}
	loaded.Data = data
	return loaded, nil
}

// fetchMeta fetches and decodes the metadata document at id. A 404
// becomes errs.ErrNotPresent.
func (s *Store) fetchMeta(ctx context.Context, id model.DocumentID) (*model.MetaEntry, error) {
	raw, rev, err := s.adapter.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var meta model.MetaEntry
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("docsync: decode metadata %s: %w", id, err)
	}
	meta.Rev = rev
	return &meta, nil
}

func (s *Store) decryptMetaPath(meta *model.MetaEntry) error {
	if s.cfg.ObfuscatePassphrase == "" {
		return nil
	}
	plain, err := s.crypt.Decrypt(meta.Path, s.cfg.ObfuscatePassphrase)
	if err != nil {
		return fmt.Errorf("docsync: decrypt path for %s: %w", meta.ID, err)
	}
	meta.Path = string(plain)
	return nil
}

// collectChunks resolves an ordered list of leaf ids into their
// concatenated plaintext payload, using the cache where possible and a
// single bulk fetch for the rest. A missing leaf is errs.ErrIntegrity.
func (s *Store) collectChunks(ctx context.Context, ids []model.DocumentID) ([]byte, error) {
	plaintexts := make(map[model.DocumentID][]byte, len(ids))
	var toFetch []model.DocumentID
	for _, id := range ids {
		if p, ok := s.cache.Get(id); ok {
			plaintexts[id] = p
			continue
		}
		toFetch = append(toFetch, id)
	}

	if len(toFetch) > 0 {
		results, err := s.adapter.AllDocs(ctx, toFetch, true)
		if err != nil {
			return nil, fmt.Errorf("fetch chunks: %w", err)
		}
		for _, id := range toFetch {
			res, ok := results[id]
			if !ok || !res.Present || res.Doc == nil {
				return nil, fmt.Errorf("%w: missing leaf %s", errs.ErrIntegrity, id)
			}
			var leaf model.LeafEntry
			if err := json.Unmarshal(res.Doc, &leaf); err != nil {
				return nil, fmt.Errorf("decode leaf %s: %w", id, err)
			}
			if leaf.Type != model.KindLeaf || leaf.Data == "" {
				return nil, fmt.Errorf("%w: %s is not a valid leaf", errs.ErrIntegrity, id)
			}
			plain, err := s.decodeLeafPayload(id, leaf.Data)
			if err != nil {
				return nil, err
			}
			s.cache.Put(id, plain)
			plaintexts[id] = plain
		}
	}

	var out []byte
	for _, id := range ids {
		p, ok := plaintexts[id]
		if !ok {
			return nil, fmt.Errorf("%w: missing leaf %s", errs.ErrIntegrity, id)
		}
		out = append(out, p...)
	}
	return out, nil
}

func (s *Store) decodeLeafPayload(id model.DocumentID, data string) ([]byte, error) {
	if hashid.IsEncryptedLeafID(id) {
		plain, err := s.crypt.Decrypt(data, s.cfg.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("decrypt leaf %s: %w", id, err)
		}
		return plain, nil
	}
	plain, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: leaf %s has invalid base64 payload", errs.ErrIntegrity, id)
	}
	return plain, nil
}

// PutInfo carries the timestamps and size a caller attaches to a write;
// Size is recomputed from the actual byte count rather than trusted
// verbatim, since the store is the authority on what was actually stored.
type PutInfo struct {
	CTime int64
	MTime int64
}

// Put chunks, dedupes, uploads, and records a metadata entry for path.
// segments is the ordered sequence of strings whose concatenation is the
// file's content; kind selects newnote vs plain (both are treated
// identically by this store beyond the tag written to the wire).
func (s *Store) Put(ctx context.Context, path model.FilePath, segments []string, info PutInfo, kind model.Kind) error {
	id := hashid.PathID(path, s.cfg.ObfuscatePassphrase)
	if model.IsReserved(id) {
		return fmt.Errorf("docsync: put %s: %w", path, errs.ErrConfig)
	}

	pieces, err := s.splitPieces(path, segments)
	if err != nil {
		return fmt.Errorf("docsync: put %s: %w", path, err)
	}

	childIDs, totalSize, err := s.uploadMissingChunks(ctx, pieces)
	if err != nil {
		return fmt.Errorf("docsync: put %s: %w", path, err)
	}

	prevRev, err := s.priorRevision(ctx, id)
	if err != nil {
		return fmt.Errorf("docsync: put %s: %w", path, err)
	}

	pathText := string(path)
	if s.cfg.ObfuscatePassphrase != "" {
		pathText, err = s.crypt.Encrypt([]byte(path), s.cfg.ObfuscatePassphrase)
		if err != nil {
			return fmt.Errorf("docsync: put %s: encrypt path: %w", path, err)
		}
	}

	meta := model.MetaEntry{
		ID:       id,
		Rev:      prevRev,
		Type:     kind,
		Path:     pathText,
		Children: childIDs,
		CTime:    info.CTime,
		MTime:    info.MTime,
		Size:     totalSize,
	}
	return s.putMeta(ctx, meta)
}

func (s *Store) splitPieces(path model.FilePath, segments []string) ([][]byte, error) {
	c, err := chunk.New(segments, chunk.Config{
		PieceSize:        s.pieceSize(),
		PlainSplit:       isPlainSplit(path),
		MinimumChunkSize: s.cfg.MinimumChunkSize,
		Path:             path,
		V1:               s.cfg.UseV1,
	})
	if err != nil {
		return nil, err
	}
	var pieces [][]byte
	for {
		p, err := c.Next()
		if err != nil {
			break
		}
		pieces = append(pieces, p)
	}
	return pieces, nil
}

// uploadMissingChunks hashes each piece, probes the cache and remote for
// prior existence, uploads only the missing ones, and returns the
// ordered child id list and total plaintext byte count.
func (s *Store) uploadMissingChunks(ctx context.Context, pieces [][]byte) ([]model.DocumentID, int, error) {
	ids := make([]model.DocumentID, len(pieces))
	totalSize := 0
	seen := make(map[model.DocumentID][]byte)

	for i, piece := range pieces {
		totalSize += len(piece)
		if id, ok := s.cache.GetIDByPlaintext(piece); ok {
			ids[i] = id
			continue
		}
		id := hashid.LeafID(piece, s.cfg.Passphrase)
		ids[i] = id
		seen[id] = piece
	}

	if len(seen) == 0 {
		return ids, totalSize, nil
	}

	probeKeys := make([]model.DocumentID, 0, len(seen))
	for id := range seen {
		probeKeys = append(probeKeys, id)
	}
	existing, err := s.adapter.AllDocs(ctx, probeKeys, false)
	if err != nil {
		return nil, 0, fmt.Errorf("probe existing chunks: %w", err)
	}

	var docs []json.RawMessage
	for id, piece := range seen {
		s.cache.Put(id, piece)
		if existing[id].Present {
			continue
		}
		doc, err := s.encodeLeafDoc(id, piece)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}

	if len(docs) > 0 {
		results, err := s.adapter.BulkDocs(ctx, docs)
		if err != nil {
			return nil, 0, fmt.Errorf("upload chunks: %w", err)
		}
		for _, r := range results {
			if r.OK || r.Conflict {
				continue
			}
			return nil, 0, fmt.Errorf("upload chunk %s: %s", r.ID, r.Error)
		}
	}

	return ids, totalSize, nil
}

func (s *Store) encodeLeafDoc(id model.DocumentID, piece []byte) (json.RawMessage, error) {
	var data string
	if hashid.IsEncryptedLeafID(id) {
		enc, err := s.crypt.Encrypt(piece, s.cfg.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("encrypt chunk %s: %w", id, err)
		}
		data = enc
	} else {
		data = base64.StdEncoding.EncodeToString(piece)
	}

	leaf := model.LeafEntry{ID: id, Type: model.KindLeaf, Data: data}
	return json.Marshal(leaf)
}

// priorRevision fetches the current revision of id if present, or ""
// if the document does not exist yet.
func (s *Store) priorRevision(ctx context.Context, id model.DocumentID) (string, error) {
	_, rev, err := s.adapter.Get(ctx, id)
	if err != nil {
		if isNotPresent(err) {
			return "", nil
		}
		return "", err
	}
	return rev, nil
}

func (s *Store) putMeta(ctx context.Context, meta model.MetaEntry) error {
	body, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata %s: %w", meta.ID, err)
	}
	_, conflict, err := s.adapter.Put(ctx, meta.ID, body)
	if err != nil {
		return err
	}
	if conflict {
		return fmt.Errorf("put metadata %s: %w", meta.ID, errs.ErrConflict)
	}
	return nil
}

// Delete tombstones the metadata entry at path: children and size are
// cleared, deleted is set, mtime advances. It is idempotent: deleting an
// absent or already-deleted path returns success without error.
func (s *Store) Delete(ctx context.Context, path model.FilePath) error {
	id := hashid.PathID(path, s.cfg.ObfuscatePassphrase)
	if model.IsReserved(id) {
		return fmt.Errorf("docsync: delete %s: %w", path, errs.ErrConfig)
	}

	meta, err := s.fetchMeta(ctx, id)
	if err != nil {
		if isNotPresent(err) {
			return nil
		}
		return fmt.Errorf("docsync: delete %s: %w", path, err)
	}
	if meta.Deleted {
		return nil
	}

	meta.Children = []model.DocumentID{}
	meta.Size = 0
	meta.Deleted = true
	meta.MTime = nowMillis()

	if err := s.putMeta(ctx, *meta); err != nil {
		return fmt.Errorf("docsync: delete %s: %w", path, err)
	}
	return nil
}

func isNotPresent(err error) bool {
	return err != nil && errors.Is(err, errs.ErrNotPresent)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
