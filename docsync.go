// Package docsync implements a client-side content-addressed file store
// that syncs notes to a remote CouchDB-compatible document database:
// deterministic chunking, content-addressed dedup upload, transparent
// end-to-end encryption of chunk payloads and paths, a bidirectional LRU
// cache, and a resumable change-feed reader.
package docsync

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/docsync/docsync/internal/cache"
	"github.com/docsync/docsync/internal/crypt"
	"github.com/docsync/docsync/internal/errs"
	"github.com/docsync/docsync/internal/remote"
)

// Config configures a Store against one remote database.
type Config struct {
	URL      string
	Username string
	Password string
	Database string

	// Passphrase, if set, enables encryption of chunk payloads and paths.
	Passphrase string
	// ObfuscatePassphrase, if set, derives document ids as a salted hash
	// of the path instead of the path text itself.
	ObfuscatePassphrase string

	UseDynamicIterationCount bool
	// UseV1 selects the legacy chunking and encryption envelope.
	UseV1 bool
	// CustomChunkSize scales the piece-size formula; 1.0 is the baseline.
	CustomChunkSize float64
	// MinimumChunkSize is the lower bound for a non-final piece's bytes.
	// Defaults to 20 when zero.
	MinimumChunkSize int
	// PieceSizeOverride, when positive, replaces the computed piece-size
	// formula outright. Production callers leave this at zero; it exists
	// for callers (and this package's own tests) that need a piece size
	// smaller than MAX_DOC_SIZE_BIN's formula ever produces.
	PieceSizeOverride int

	// CacheMaxEntries and CacheMaxBytes bound the bidirectional LRU
	// cache; zero auto-sizes per internal/cache's defaults.
	CacheMaxEntries int
	CacheMaxBytes   int64

	Logger *logrus.Logger
}

func (c *Config) setDefaults() error {
	if c.URL == "" || c.Database == "" {
		return fmt.Errorf("docsync: %w: url and database are required", errs.ErrConfig)
	}
	if c.CustomChunkSize == 0 {
		c.CustomChunkSize = 1
	}
	if c.MinimumChunkSize <= 0 {
		c.MinimumChunkSize = 20
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
	return nil
}

// Store is the client-side content-addressed file store. A single Store
// owns one bidirectional LRU cache and one change-feed cursor; both must
// be externally serialized by the caller if Store methods are driven
// from multiple goroutines concurrently (the Store itself guards the
// cache with a mutex, but the change-feed cursor's single-writer
// discipline is the caller's responsibility across separate watch calls).
type Store struct {
	cfg     Config
	adapter *remote.Adapter
	cache   *cache.Cache
	crypt   *crypt.Service
	log     *logrus.Entry
}

// New constructs a Store. It does not perform any network I/O; the
// remote connection is lazily exercised by the first Get/Put/Delete call.
func New(cfg Config) (*Store, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}

	adapter, err := remote.New(remote.Config{
		URL:      cfg.URL,
		Username: cfg.Username,
		Password: cfg.Password,
		Database: cfg.Database,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("docsync: build remote adapter: %w", err)
	}

	c := cache.New(cache.Config{
		MaxEntries: cfg.CacheMaxEntries,
		MaxBytes:   cfg.CacheMaxBytes,
		Logger:     cfg.Logger,
	})

	return &Store{
		cfg:     cfg,
		adapter: adapter,
		cache:   c,
		crypt:   crypt.New(crypt.Config{UseV1: cfg.UseV1, UseDynamicIterationCount: cfg.UseDynamicIterationCount}),
		log:     cfg.Logger.WithField("component", "docsync.Store"),
	}, nil
}

// Close releases the Store's background resources (the remote adapter's
// existence-probe cache).
func (s *Store) Close() {
	s.adapter.Close()
}
