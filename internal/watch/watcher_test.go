package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/VladMinzatu/binsize/internal/sizetree"
)

type mockSource struct {
	mu sync.Mutex

	prints   []string
	printErr error
	buildErr error

	printCalls int
	builds     int
}

func (m *mockSource) Fingerprint() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.printCalls++
	if m.printErr != nil {
		return "", m.printErr
	}
	idx := m.printCalls - 1
	if idx >= len(m.prints) {
		idx = len(m.prints) - 1
	}
	return m.prints[idx], nil
}

func (m *mockSource) Build(ctx context.Context) (*sizetree.SizeNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buildErr != nil {
		return nil, m.buildErr
	}
	m.builds++
	size := int64(10 * m.builds)
	leaf := &sizetree.SizeNode{Label: "x", Kind: sizetree.KindSymbol, OwnSize: size, TotalSize: size,
		Symbol: &sizetree.SymbolRef{Name: "x", Section: ".text"}}
	return &sizetree.SizeNode{Label: ".", Kind: sizetree.KindRoot, TotalSize: size, Children: []*sizetree.SizeNode{leaf}}, nil
}

func (m *mockSource) buildCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.builds
}

func TestNewWatcher_Validation(t *testing.T) {
	if _, err := NewWatcher(time.Millisecond, &mockSource{}); err == nil {
		t.Fatalf("expected error for too short interval")
	}
	if _, err := NewWatcher(time.Second, nil); err == nil {
		t.Fatalf("expected error for missing source")
	}
}

func TestWatcher_EmitsInitialTreeThenDiffs(t *testing.T) {
	src := &mockSource{prints: []string{"a", "a", "b"}}
	w, err := NewWatcher(10*time.Millisecond, src)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	select {
	case u := <-w.Updates():
		if u.Diff != nil {
			t.Fatalf("first update should not carry a diff")
		}
		if u.Tree.TotalSize != 10 {
			t.Fatalf("unexpected first tree size: %d", u.Tree.TotalSize)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for first update")
	}

	select {
	case u := <-w.Updates():
		if u.Diff == nil || u.Diff.Delta != 10 {
			t.Fatalf("expected a diff with delta 10, got %+v", u.Diff)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for second update")
	}

	// the fingerprint stays "b", so nothing else is built
	time.Sleep(50 * time.Millisecond)
	if n := src.buildCount(); n != 2 {
		t.Fatalf("expected 2 builds, got %d", n)
	}
}

func TestWatcher_StartTwice(t *testing.T) {
	w, err := NewWatcher(10*time.Millisecond, &mockSource{prints: []string{"a"}})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(); err == nil {
		t.Fatalf("expected error on second Start")
	}
	w.Stop()

	if _, ok := <-w.Updates(); ok {
		// the initial update may still be buffered
		if _, ok := <-w.Updates(); ok {
			t.Fatalf("updates channel should be closed after Stop")
		}
	}
}

func TestWatcher_HandlesErrors(t *testing.T) {
	tests := []struct {
		name string
		src  *mockSource
	}{
		{"fingerprint", &mockSource{printErr: errors.New("stat failed")}},
		{"build", &mockSource{prints: []string{"a"}, buildErr: errors.New("no such binary")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWatcher(10*time.Millisecond, tt.src)
			if err != nil {
				t.Fatalf("NewWatcher: %v", err)
			}
			if err := w.Start(); err != nil {
				t.Fatalf("Start: %v", err)
			}
			defer w.Stop()

			select {
			case u := <-w.Updates():
				t.Fatalf("unexpected update: %+v", u)
			case <-time.After(60 * time.Millisecond):
			}
		})
	}
}

func TestWatcher_DropsWhenConsumerBusy(t *testing.T) {
	src := &mockSource{prints: []string{"a", "b", "c", "d", "e"}}
	w, err := NewWatcher(5*time.Millisecond, src)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// nobody reads for a while
	time.Sleep(10 * w.interval)

	// stop should return without being blocked
	w.Stop()
}

func TestFileSource_Fingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fw.elf")
	if err := os.WriteFile(path, []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := &FileSource{Path: path}
	first, err := src.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if err := os.WriteFile(path, []byte("three"), 0o644); err != nil {
		t.Fatal(err)
	}
	second, err := src.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if first == second {
		t.Fatalf("fingerprint should change with the file size")
	}

	if _, err := (&FileSource{Path: path + ".missing"}).Fingerprint(); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
