package loader

import (
	"bufio"
	"bytes"
	"log/slog"
	"os"
)

// LineSource produces the lines of some tool output, either saved to a file
// or captured from a process.
type LineSource interface {
	ReadLines() ([]string, error)
}

type DataLoader struct {
	Path string
}

func NewDataLoader(path string) *DataLoader {
	return &DataLoader{Path: path}
}

func (d *DataLoader) ReadLines() ([]string, error) {
	slog.Debug("Loading lines from file", "path", d.Path)
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// Output is tool output already held in memory.
type Output []byte

func (o Output) ReadLines() ([]string, error) {
	var lines []string
	s := bufio.NewScanner(bytes.NewReader(o))
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	return lines, s.Err()
}
