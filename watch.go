package docsync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/docsync/docsync/internal/feed"
	"github.com/docsync/docsync/internal/hashid"
	"github.com/docsync/docsync/internal/remote"
	"github.com/docsync/docsync/pkg/model"
)

// ChangeCallback is invoked once per assembled change, in seq order.
type ChangeCallback func(ctx context.Context, entry *model.LoadedEntry, seq string)

// BeginWatch opens the continuous change feed starting at since and
// invokes cb for every resolvable document change until ctx is
// cancelled, at which point it returns an error wrapping
// context.Canceled's equivalent abort sentinel. A single failing
// document is logged and does not interrupt the stream.
func (s *Store) BeginWatch(ctx context.Context, since string, cb ChangeCallback) error {
	w := feed.NewWatcher(s.adapter, since, s.cfg.Logger)
	return w.BeginWatch(ctx, s.feedCallback(cb))
}

// FollowUpdates pages through the normal feed starting at since, limit
// 25 per page, until the server reports no pending changes, returning
// the final cursor.
func (s *Store) FollowUpdates(ctx context.Context, since string, cb ChangeCallback) (string, error) {
	return feed.FollowUpdates(ctx, s.adapter, since, s.feedCallback(cb), s.cfg.Logger)
}

func (s *Store) feedCallback(cb ChangeCallback) feed.Callback {
	return func(ctx context.Context, row remote.ChangeRow) error {
		entry, err := s.assembleChangeRow(ctx, row)
		if err != nil {
			return err
		}
		if entry != nil {
			cb(ctx, entry, row.Seq)
		}
		return nil
	}
}

func (s *Store) assembleChangeRow(ctx context.Context, row remote.ChangeRow) (*model.LoadedEntry, error) {
	var meta model.MetaEntry
	if err := json.Unmarshal(row.Doc, &meta); err != nil {
		return nil, fmt.Errorf("decode change %s: %w", row.ID, err)
	}
	if !meta.Type.IsMetadata() || hashid.IsLeafID(meta.ID) {
		return nil, nil
	}

	if err := s.decryptMetaPath(&meta); err != nil {
		return nil, err
	}

	loaded := &model.LoadedEntry{MetaEntry: meta}
	if meta.Deleted {
		return loaded, nil
	}

	data, err := s.collectChunks(ctx, meta.Children)
	if err != nil {
		return nil, fmt.Errorf("assemble change %s: %w", row.ID, err)
	}
	loaded.Data = data
	return loaded, nil
}
