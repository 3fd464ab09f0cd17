package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/0gfoundation/cipo/internal/metrics"
)

// Writer is the only goroutine that writes beneath the journal root.
// Controllers hand it entries through the channel returned by Entries.
type Writer struct {
	root    string
	entries chan Entry
	log     *zap.Logger
}

// NewWriter creates a writer with a queue of queueSize entries. A full queue
// blocks the sending controller until the writer catches up; entries are
// never dropped.
func NewWriter(root string, queueSize int, log *zap.Logger) *Writer {
	return &Writer{
		root:    root,
		entries: make(chan Entry, queueSize),
		log:     log,
	}
}

// Entries is the send side of the writer's queue.
func (w *Writer) Entries() chan<- Entry { return w.entries }

// Run appends entries until ctx is cancelled, then drains whatever is still
// queued. The first append failure ends Run with an error wrapping ErrWrite;
// the caller must treat it as fatal since deliveries can no longer be
// recovered after a restart.
func (w *Writer) Run(ctx context.Context) error {
	w.log.Info("journal writer started", zap.String("root", w.root))
	for {
		select {
		case e := <-w.entries:
			if err := w.Append(e); err != nil {
				w.log.Error("journal append failed", zap.String("txid", e.TxID), zap.Error(err))
				return err
			}
		case <-ctx.Done():
			return w.drain()
		}
	}
}

func (w *Writer) drain() error {
	for {
		select {
		case e := <-w.entries:
			if err := w.Append(e); err != nil {
				return err
			}
		default:
			w.log.Info("journal writer stopped")
			return nil
		}
	}
}

// Append writes one entry and syncs it to disk before returning.
func (w *Writer) Append(e Entry) error {
	path, err := Path(w.root, e.Address, e.TxID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir: %w", ErrWrite, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrWrite, path, err)
	}
	if _, err := f.WriteString(e.Line() + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("%w: write %s: %w", ErrWrite, path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: sync %s: %w", ErrWrite, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrWrite, path, err)
	}
	metrics.JournalAppends.Inc()
	return nil
}
