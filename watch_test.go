package docsync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsync/docsync"
	"github.com/docsync/docsync/internal/remote/remotetest"
	"github.com/docsync/docsync/pkg/model"
)

func TestStore_FollowUpdatesResume(t *testing.T) {
	srv := remotetest.New("u", "p")
	defer srv.Close()
	s := newStore(t, docsync.Config{}, srv)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "first.md", []string{"one"}, docsync.PutInfo{}, model.KindPlain))

	var firstRoundPaths []string
	since, err := s.FollowUpdates(ctx, "0", func(ctx context.Context, entry *model.LoadedEntry, seq string) {
		firstRoundPaths = append(firstRoundPaths, entry.Path)
	})
	require.NoError(t, err)
	assert.Contains(t, firstRoundPaths, "first.md")

	require.NoError(t, s.Put(ctx, "second.md", []string{"two"}, docsync.PutInfo{}, model.KindPlain))
	require.NoError(t, s.Put(ctx, "third.md", []string{"three"}, docsync.PutInfo{}, model.KindPlain))

	var secondRoundPaths []string
	_, err = s.FollowUpdates(ctx, since, func(ctx context.Context, entry *model.LoadedEntry, seq string) {
		secondRoundPaths = append(secondRoundPaths, entry.Path)
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"second.md", "third.md"}, secondRoundPaths)
}

func TestStore_BeginWatchDeliversPutDocuments(t *testing.T) {
	srv := remotetest.New("u", "p")
	defer srv.Close()
	s := newStore(t, docsync.Config{}, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *model.LoadedEntry, 1)
	go s.BeginWatch(ctx, "0", func(ctx context.Context, entry *model.LoadedEntry, seq string) {
		select {
		case received <- entry:
		default:
		}
	})

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.Put(context.Background(), "watched.md", []string{"watched content"}, docsync.PutInfo{}, model.KindPlain))

	select {
	case entry := <-received:
		assert.Equal(t, "watched.md", entry.Path)
	case <-time.After(3 * time.Second):
		t.Fatal("did not receive put via continuous watch")
	}
}
