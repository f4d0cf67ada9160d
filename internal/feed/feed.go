// Package feed implements the two change-feed reading modes this store
// supports: a continuous, auto-reconnecting streaming watcher and a
// paged catch-up reader that follows pages until the server reports no
// more pending changes.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docsync/docsync/internal/errs"
	"github.com/docsync/docsync/internal/remote"
)

const (
	reconnectDelay  = time.Second
	heartbeatMS     = 5000
	longPollTimeout = 100000
	pagedLimit      = 25
)

// State names the continuous watcher's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateDisconnected
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDisconnected:
		return "disconnected"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Callback is invoked once per document change, in seq order, with no
// overlapping calls. A non-nil error return is logged by the reader and
// does not stop iteration; a document that fails assembly is skipped.
type Callback func(ctx context.Context, row remote.ChangeRow) error

// Watcher drives the continuous feed state machine for one Adapter.
type Watcher struct {
	adapter *remote.Adapter
	log     *logrus.Entry

	mu    sync.Mutex
	state State
	since string
}

// NewWatcher constructs a Watcher over adapter, starting from since.
func NewWatcher(adapter *remote.Adapter, since string, logger *logrus.Logger) *Watcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Watcher{
		adapter: adapter,
		log:     logger.WithField("component", "feed.watcher"),
		state:   StateIdle,
		since:   since,
	}
}

// State returns the watcher's current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Since returns the last cursor the watcher advanced past.
func (w *Watcher) Since() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.since
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// BeginWatch runs the continuous feed loop until ctx is cancelled or an
// unrecoverable error occurs constructing a connection. It blocks the
// calling goroutine; callers typically run it in its own goroutine and
// use ctx cancellation as the abort handle.
func (w *Watcher) BeginWatch(ctx context.Context, cb Callback) error {
	w.setState(StateConnecting)
	for {
		if ctx.Err() != nil {
			w.setState(StateStopped)
			return fmt.Errorf("feed: %w", errs.ErrAbort)
		}

		err := w.runOnce(ctx, cb)
		if ctx.Err() != nil {
			w.setState(StateStopped)
			return fmt.Errorf("feed: %w", errs.ErrAbort)
		}
		if err != nil {
			w.log.WithError(err).Warn("continuous feed disconnected, reconnecting")
		}

		w.setState(StateDisconnected)
		select {
		case <-ctx.Done():
			w.setState(StateStopped)
			return fmt.Errorf("feed: %w", errs.ErrAbort)
		case <-time.After(reconnectDelay):
		}
		w.setState(StateConnecting)
	}
}

// runOnce opens one continuous connection and streams lines until the
// connection closes or errors.
func (w *Watcher) runOnce(ctx context.Context, cb Callback) error {
	since := w.Since()
	stream, err := w.adapter.ChangesContinuous(ctx, since, heartbeatMS, longPollTimeout)
	if err != nil {
		return err
	}
	defer stream.Close()

	w.setState(StateStreaming)
	for {
		line, err := stream.NextLine()
		if err != nil {
			return err // includes io.EOF, treated as a disconnect by the caller's reconnect loop
		}

		var row remote.ChangeRow
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			w.log.WithError(err).Warn("skipping malformed change line")
			continue
		}
		if row.Seq != "" {
			w.mu.Lock()
			w.since = row.Seq
			w.mu.Unlock()
		}
		if row.Doc == nil {
			continue
		}
		if err := cb(ctx, row); err != nil {
			w.log.WithError(err).WithField("id", row.ID).Warn("change callback failed, continuing")
		}
	}
}

// FollowUpdates pages through feed=normal with limit=25 starting at
// since, invoking cb for every row with a doc, until the server reports
// pending==0. It returns the final since cursor.
func FollowUpdates(ctx context.Context, adapter *remote.Adapter, since string, cb Callback, logger *logrus.Logger) (string, error) {
	if logger == nil {
		logger = logrus.New()
	}
	log := logger.WithField("component", "feed.followUpdates")

	cursor := since
	for {
		if err := ctx.Err(); err != nil {
			return cursor, fmt.Errorf("feed: %w", errs.ErrAbort)
		}

		page, err := adapter.ChangesPaged(ctx, cursor, pagedLimit)
		if err != nil {
			return cursor, err
		}

		for _, row := range page.Results {
			if row.Doc == nil {
				continue
			}
			if err := cb(ctx, row); err != nil {
				log.WithError(err).WithField("id", row.ID).Warn("change callback failed, continuing")
			}
		}

		if page.LastSeq != "" {
			cursor = page.LastSeq
		}
		if page.Pending == 0 {
			return cursor, nil
		}
	}
}
