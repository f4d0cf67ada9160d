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

func newStore(t *testing.T, cfg docsync.Config, srv *remotetest.Server) *docsync.Store {
	t.Helper()
	cfg.URL = srv.URL()
	cfg.Username = srv.Username
	cfg.Password = srv.Password
	if cfg.Database == "" {
		cfg.Database = "testdb"
	}
	s, err := docsync.New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStore_WriteThenRead(t *testing.T) {
	srv := remotetest.New("u", "p")
	defer srv.Close()
	s := newStore(t, docsync.Config{}, srv)

	ctx := context.Background()
	err := s.Put(ctx, "a/b.md", []string{"Hello, ", "world!"}, docsync.PutInfo{CTime: 1, MTime: 2}, model.KindPlain)
	require.NoError(t, err)

	entry, err := s.Get(ctx, "a/b.md", false)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world!", string(entry.Data))
	assert.Equal(t, int64(1), entry.CTime)
	assert.Equal(t, int64(2), entry.MTime)
}

func TestStore_EditAndDedupe(t *testing.T) {
	srv := remotetest.New("u", "p")
	defer srv.Close()
	s := newStore(t, docsync.Config{MinimumChunkSize: 1, PieceSizeOverride: 6}, srv)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a/b.bin", []string{"abcdef", "ghijkl"}, docsync.PutInfo{}, model.KindPlain))
	require.NoError(t, s.Put(ctx, "a/b.bin", []string{"abcdef", "GHIJKL"}, docsync.PutInfo{}, model.KindPlain))

	entry, err := s.Get(ctx, "a/b.bin", false)
	require.NoError(t, err)
	assert.Equal(t, "abcdefGHIJKL", string(entry.Data))
}

func TestStore_EncryptedRoundTrip(t *testing.T) {
	srv := remotetest.New("u", "p")
	defer srv.Close()
	s := newStore(t, docsync.Config{Passphrase: "p"}, srv)

	ctx := context.Background()
	payload := make([]string, 1)
	payload[0] = string(make([]byte, 4096))
	require.NoError(t, s.Put(ctx, "big.bin", payload, docsync.PutInfo{}, model.KindPlain))

	entry, err := s.Get(ctx, "big.bin", false)
	require.NoError(t, err)
	assert.Equal(t, len(payload[0]), len(entry.Data))
}

func TestStore_ObfuscatedPaths(t *testing.T) {
	srv := remotetest.New("u", "p")
	defer srv.Close()
	s := newStore(t, docsync.Config{ObfuscatePassphrase: "o"}, srv)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "secret/plan.md", []string{"top secret"}, docsync.PutInfo{}, model.KindPlain))

	entry, err := s.Get(ctx, "secret/plan.md", false)
	require.NoError(t, err)
	assert.Equal(t, "top secret", string(entry.Data))
}

func TestStore_Tombstone(t *testing.T) {
	srv := remotetest.New("u", "p")
	defer srv.Close()
	s := newStore(t, docsync.Config{}, srv)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "t.md", []string{"content"}, docsync.PutInfo{}, model.KindPlain))
	require.NoError(t, s.Delete(ctx, "t.md"))

	entry, err := s.Get(ctx, "t.md", true)
	require.NoError(t, err)
	assert.True(t, entry.Deleted)
	assert.Equal(t, 0, entry.Size)
	assert.Empty(t, entry.Children)

	raw, ok := srv.RawDoc("t.md")
	require.True(t, ok)
	assert.Contains(t, string(raw), `"children":[]`)

	// idempotent
	require.NoError(t, s.Delete(ctx, "t.md"))
}

func TestStore_DeleteAbsentPathIsIdempotent(t *testing.T) {
	srv := remotetest.New("u", "p")
	defer srv.Close()
	s := newStore(t, docsync.Config{}, srv)

	require.NoError(t, s.Delete(context.Background(), "never-existed.md"))
}

func TestStore_GetMissingPathReportsNotPresent(t *testing.T) {
	srv := remotetest.New("u", "p")
	defer srv.Close()
	s := newStore(t, docsync.Config{}, srv)

	_, err := s.Get(context.Background(), "missing.md", false)
	require.Error(t, err)
}

func TestStore_PutRejectsReservedPath(t *testing.T) {
	srv := remotetest.New("u", "p")
	defer srv.Close()
	s := newStore(t, docsync.Config{}, srv)

	err := s.Put(context.Background(), "syncinfo", []string{"x"}, docsync.PutInfo{}, model.KindPlain)
	require.Error(t, err)
}

func TestStore_DeleteRejectsReservedPath(t *testing.T) {
	srv := remotetest.New("u", "p")
	defer srv.Close()
	s := newStore(t, docsync.Config{}, srv)

	err := s.Delete(context.Background(), "syncinfo")
	require.Error(t, err)
}
