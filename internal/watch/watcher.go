// Package watch rebuilds the size tree whenever the analyzed binary changes
// and reports what changed since the previous build.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/VladMinzatu/binsize/internal/sizediff"
	"github.com/VladMinzatu/binsize/internal/sizetree"
)

// Source produces size trees. Fingerprint changes whenever a new tree
// would differ from the last one built.
type Source interface {
	Fingerprint() (string, error)
	Build(ctx context.Context) (*sizetree.SizeNode, error)
}

// Update is sent for every rebuilt tree. Diff compares it with the previous
// tree and is nil for the first one.
type Update struct {
	Timestamp time.Time
	Tree      *sizetree.SizeNode
	Diff      *sizediff.DiffNode
}

type Watcher struct {
	interval time.Duration
	source   Source

	updatesCh chan Update

	started bool
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	lastPrint string
	lastTree  *sizetree.SizeNode
}

func NewWatcher(interval time.Duration, source Source) (*Watcher, error) {
	if interval <= 1*time.Millisecond {
		return nil, errors.New("invalid interval; must be > 1ms")
	}
	if source == nil {
		return nil, errors.New("no source to watch")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		interval:  interval,
		source:    source,
		ctx:       ctx,
		cancel:    cancel,
		updatesCh: make(chan Update, 1),
	}, nil
}

func (w *Watcher) Updates() <-chan Update { return w.updatesCh }

func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return errors.New("watcher already started")
	}
	w.started = true

	w.wg.Add(1)
	go w.poll()
	return nil
}

// Stop ends polling and closes the updates channel. A build in progress is
// canceled.
func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		close(w.updatesCh)
		w.started = false
	}
}

func (w *Watcher) poll() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.check(time.Now())
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-ticker.C:
			w.check(t)
		}
	}
}

func (w *Watcher) check(t time.Time) {
	fp, err := w.source.Fingerprint()
	if err != nil {
		slog.Warn("Failed to check source", "error", err)
		return
	}
	if fp == w.lastPrint {
		return
	}

	tree, err := w.source.Build(w.ctx)
	if err != nil {
		if w.ctx.Err() == nil {
			slog.Warn("Failed to rebuild size tree", "error", err)
		}
		return
	}
	w.lastPrint = fp

	u := Update{Timestamp: t, Tree: tree}
	if w.lastTree != nil {
		u.Diff = sizediff.Diff(w.lastTree, tree)
	}
	w.lastTree = tree

	select {
	case w.updatesCh <- u:
	default:
		slog.Warn("consumer wasn't ready, update dropped")
	}
}

// FileSource rebuilds when the file at Path changes size or modification
// time.
type FileSource struct {
	Path      string
	BuildFunc func(ctx context.Context) (*sizetree.SizeNode, error)
}

func (s *FileSource) Fingerprint() (string, error) {
	info, err := os.Stat(s.Path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano()), nil
}

func (s *FileSource) Build(ctx context.Context) (*sizetree.SizeNode, error) {
	return s.BuildFunc(ctx)
}
