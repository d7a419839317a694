// Package history keeps size trees of past builds in a SQLite database so
// they can be listed and compared later.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/VladMinzatu/binsize/internal/sizetree"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("snapshot not found")

// Snapshot describes a stored tree without loading it.
type Snapshot struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Binary    string    `json:"binary"`
	CreatedAt time.Time `json:"created_at"`
	TotalSize int64     `json:"total_size"`
	Symbols   int       `json:"symbols"`
}

// SectionSizes are the section totals of one snapshot.
type SectionSizes struct {
	Snapshot Snapshot
	Sizes    map[string]int64
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return s, nil
}

// dsn enables foreign keys on every pooled connection.
func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path + "&_foreign_keys=on"
	}
	return path + "?_foreign_keys=on"
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			binary_path TEXT,
			created_at INTEGER NOT NULL,
			total_size INTEGER NOT NULL,
			symbols INTEGER NOT NULL,
			tree JSON NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS section_sizes (
			snapshot_id INTEGER NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
			section TEXT NOT NULL,
			size INTEGER NOT NULL,
			PRIMARY KEY (snapshot_id, section)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_created ON snapshots(created_at);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// Save stores tree under name, replacing an earlier snapshot of that name.
func (s *Store) Save(ctx context.Context, name, binary string, tree *sizetree.SizeNode) (Snapshot, error) {
	if name == "" {
		return Snapshot{}, errors.New("snapshot name must not be empty")
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encoding tree: %w", err)
	}
	snap := Snapshot{
		Name:      name,
		Binary:    binary,
		CreatedAt: s.now().UTC(),
		TotalSize: tree.TotalSize,
		Symbols:   tree.SymbolCount(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE name = ?`, name); err != nil {
		return Snapshot{}, err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (name, binary_path, created_at, total_size, symbols, tree)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snap.Name, snap.Binary, snap.CreatedAt.UnixNano(), snap.TotalSize, snap.Symbols, data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	if snap.ID, err = res.LastInsertId(); err != nil {
		return Snapshot{}, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO section_sizes (snapshot_id, section, size) VALUES (?, ?, ?)`)
	if err != nil {
		return Snapshot{}, err
	}
	defer stmt.Close()

	for section, size := range sectionTotals(tree) {
		if _, err := stmt.ExecContext(ctx, snap.ID, section, size); err != nil {
			return Snapshot{}, err
		}
	}
	return snap, tx.Commit()
}

func sectionTotals(tree *sizetree.SizeNode) map[string]int64 {
	totals := make(map[string]int64)
	tree.Walk(func(_ []string, n *sizetree.SizeNode) bool {
		if n.Kind == sizetree.KindSymbol && n.Symbol != nil {
			totals[n.Symbol.Section] += n.TotalSize
		}
		return true
	})
	return totals
}

// Load returns the tree saved under name.
func (s *Store) Load(ctx context.Context, name string) (*sizetree.SizeNode, Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, binary_path, created_at, total_size, symbols, tree FROM snapshots WHERE name = ?
	`, name)
	var snap Snapshot
	var created int64
	var binary sql.NullString
	var data []byte
	err := row.Scan(&snap.ID, &snap.Name, &binary, &created, &snap.TotalSize, &snap.Symbols, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, Snapshot{}, fmt.Errorf("failed to query snapshot: %w", err)
	}
	snap.Binary = binary.String
	snap.CreatedAt = time.Unix(0, created).UTC()

	var tree sizetree.SizeNode
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, Snapshot{}, fmt.Errorf("decoding snapshot %s: %w", name, err)
	}
	return &tree, snap, nil
}

// List returns all snapshots, oldest first.
func (s *Store) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, binary_path, created_at, total_size, symbols FROM snapshots ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var created int64
		var binary sql.NullString
		if err := rows.Scan(&snap.ID, &snap.Name, &binary, &created, &snap.TotalSize, &snap.Symbols); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.Binary = binary.String
		snap.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, snap)
	}
	return out, rows.Err()
}

// SectionHistory returns the section totals of every snapshot, oldest
// first. With sections set, only those are returned.
func (s *Store) SectionHistory(ctx context.Context, sections ...string) ([]SectionSizes, error) {
	snaps, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*SectionSizes, len(snaps))
	out := make([]SectionSizes, len(snaps))
	for i, snap := range snaps {
		out[i] = SectionSizes{Snapshot: snap, Sizes: map[string]int64{}}
		byID[snap.ID] = &out[i]
	}

	wanted := make(map[string]bool, len(sections))
	for _, sec := range sections {
		wanted[sec] = true
	}

	rows, err := s.db.QueryContext(ctx, `SELECT snapshot_id, section, size FROM section_sizes`)
	if err != nil {
		return nil, fmt.Errorf("failed to query section sizes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, size int64
		var section string
		if err := rows.Scan(&id, &section, &size); err != nil {
			return nil, fmt.Errorf("failed to scan section size: %w", err)
		}
		if len(wanted) > 0 && !wanted[section] {
			continue
		}
		if ss, ok := byID[id]; ok {
			ss.Sizes[section] = size
		}
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// Sections returns the section names present in the given history, sorted.
func Sections(history []SectionSizes) []string {
	seen := map[string]bool{}
	for _, h := range history {
		for sec := range h.Sizes {
			seen[sec] = true
		}
	}
	out := make([]string, 0, len(seen))
	for sec := range seen {
		out = append(out, sec)
	}
	sort.Strings(out)
	return out
}
