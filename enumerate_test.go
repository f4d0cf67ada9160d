package docsync_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsync/docsync"
	"github.com/docsync/docsync/internal/remote/remotetest"
	"github.com/docsync/docsync/pkg/model"
)

func TestStore_EnumerateAllNormalDocsFindsAllMetadata(t *testing.T) {
	srv := remotetest.New("u", "p")
	defer srv.Close()
	s := newStore(t, docsync.Config{}, srv)

	ctx := context.Background()
	paths := []model.FilePath{"alpha.md", "beta.md", "gamma.md"}
	for _, p := range paths {
		require.NoError(t, s.Put(ctx, p, []string{"content for " + string(p)}, docsync.PutInfo{}, model.KindPlain))
	}

	entries, err := s.EnumerateAllNormalDocs(ctx, false)
	require.NoError(t, err)

	var found []string
	for _, e := range entries {
		if e.Entry != nil {
			found = append(found, e.Entry.Path)
		}
	}
	assert.ElementsMatch(t, []string{"alpha.md", "beta.md", "gamma.md"}, found)
}

func TestStore_EnumerateMetaOnlySkipsChunkAssembly(t *testing.T) {
	srv := remotetest.New("u", "p")
	defer srv.Close()
	s := newStore(t, docsync.Config{}, srv)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "only-meta.md", []string{"body text"}, docsync.PutInfo{}, model.KindPlain))

	entries, err := s.EnumerateAllNormalDocs(ctx, true)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Entry.Data)
}
