package feed_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsync/docsync/internal/feed"
	"github.com/docsync/docsync/internal/remote"
	"github.com/docsync/docsync/internal/remote/remotetest"
	"github.com/docsync/docsync/pkg/model"
)

func newAdapter(t *testing.T, srv *remotetest.Server) *remote.Adapter {
	t.Helper()
	a, err := remote.New(remote.Config{URL: srv.URL(), Username: srv.Username, Password: srv.Password, Database: "testdb"})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestFollowUpdates_DrainsUntilPendingZero(t *testing.T) {
	srv := remotetest.New("u", "p")
	defer srv.Close()
	a := newAdapter(t, srv)

	for i := 0; i < 3; i++ {
		doc, _ := json.Marshal(map[string]interface{}{"type": "plain"})
		_, _, err := a.Put(context.Background(), remoteID(i), doc)
		require.NoError(t, err)
	}

	var seen []string
	_, err := feed.FollowUpdates(context.Background(), a, "0", func(ctx context.Context, row remote.ChangeRow) error {
		seen = append(seen, string(row.ID))
		return nil
	}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, seen)
}

func remoteID(i int) model.DocumentID {
	return model.DocumentID("note-" + string(rune('a'+i)))
}

func TestFollowUpdates_ResumeDeliversOnlyNewRows(t *testing.T) {
	srv := remotetest.New("u", "p")
	defer srv.Close()
	a := newAdapter(t, srv)

	doc, _ := json.Marshal(map[string]interface{}{"type": "plain"})
	_, _, err := a.Put(context.Background(), "first", doc)
	require.NoError(t, err)

	since, err := feed.FollowUpdates(context.Background(), a, "0", func(ctx context.Context, row remote.ChangeRow) error {
		return nil
	}, nil)
	require.NoError(t, err)

	_, _, err = a.Put(context.Background(), "second", doc)
	require.NoError(t, err)
	_, _, err = a.Put(context.Background(), "third", doc)
	require.NoError(t, err)

	var seen []string
	_, err = feed.FollowUpdates(context.Background(), a, since, func(ctx context.Context, row remote.ChangeRow) error {
		seen = append(seen, string(row.ID))
		return nil
	}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"second", "third"}, seen)
}

func TestWatcher_BeginWatchStopsOnCancel(t *testing.T) {
	srv := remotetest.New("u", "p")
	defer srv.Close()
	a := newAdapter(t, srv)

	w := feed.NewWatcher(a, "0", nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- w.BeginWatch(ctx, func(ctx context.Context, row remote.ChangeRow) error { return nil })
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("BeginWatch did not stop after cancellation")
	}
	assert.Equal(t, feed.StateStopped, w.State())
}

func TestWatcher_DeliversSeededChangeAndAdvancesSince(t *testing.T) {
	srv := remotetest.New("u", "p")
	defer srv.Close()
	a := newAdapter(t, srv)

	doc, _ := json.Marshal(map[string]interface{}{"_id": "watched1", "type": "plain"})
	srv.Seed("watched1", doc)

	w := feed.NewWatcher(a, "0", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	received := make(chan remote.ChangeRow, 1)
	go w.BeginWatch(ctx, func(ctx context.Context, row remote.ChangeRow) error {
		select {
		case received <- row:
		default:
		}
		return nil
	})

	select {
	case row := <-received:
		assert.Equal(t, "watched1", string(row.ID))
	case <-time.After(1500 * time.Millisecond):
		t.Fatal("did not receive seeded change")
	}
}
