// Package graphstore loads size trees into Neo4j, one SizeNode per tree
// node linked by CONTAINS relationships, so that several snapshots can be
// queried together with Cypher.
package graphstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/VladMinzatu/binsize/internal/sizetree"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const DefaultBatchSize = 1000

// Executor runs a single Cypher statement.
type Executor interface {
	Run(ctx context.Context, cypher string, params map[string]any) error
}

type driverExecutor struct {
	driver   neo4j.DriverWithContext
	database string
}

func (e *driverExecutor) Run(ctx context.Context, cypher string, params map[string]any) error {
	var opts []neo4j.ExecuteQueryConfigurationOption
	if e.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(e.database))
	}
	_, err := neo4j.ExecuteQuery(ctx, e.driver, cypher, params, neo4j.EagerResultTransformer, opts...)
	return err
}

// Loader writes trees through an Executor using batched UNWIND statements.
type Loader struct {
	exec      Executor
	batchSize int
	close     func(context.Context) error
}

// Connect opens a Neo4j driver and checks that the server is reachable.
func Connect(ctx context.Context, uri, user, password, database string) (*Loader, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to %s: %w", uri, err)
	}
	l := NewLoader(&driverExecutor{driver: driver, database: database}, DefaultBatchSize)
	l.close = driver.Close
	return l, nil
}

func NewLoader(exec Executor, batchSize int) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Loader{exec: exec, batchSize: batchSize}
}

// Close releases the driver, if the loader owns one.
func (l *Loader) Close(ctx context.Context) error {
	if l.close == nil {
		return nil
	}
	return l.close(ctx)
}

func (l *Loader) CreateIndexes(ctx context.Context) error {
	slog.Debug("Creating indexes")
	indexes := []string{
		"CREATE CONSTRAINT size_node_id IF NOT EXISTS FOR (n:SizeNode) REQUIRE n.id IS UNIQUE",
		"CREATE INDEX size_node_snapshot IF NOT EXISTS FOR (n:SizeNode) ON (n.snapshot)",
		"CREATE INDEX size_node_symbol IF NOT EXISTS FOR (n:SizeNode) ON (n.symbol_name)",
		"CREATE CONSTRAINT snapshot_name IF NOT EXISTS FOR (s:Snapshot) REQUIRE s.name IS UNIQUE",
	}
	for _, q := range indexes {
		if err := l.exec.Run(ctx, q, nil); err != nil {
			return err
		}
	}
	return nil
}

// DeleteSnapshot removes a snapshot and all of its nodes.
func (l *Loader) DeleteSnapshot(ctx context.Context, snapshot string) error {
	params := map[string]any{"snapshot": snapshot}
	if err := l.exec.Run(ctx, `MATCH (n:SizeNode {snapshot: $snapshot}) DETACH DELETE n`, params); err != nil {
		return err
	}
	return l.exec.Run(ctx, `MATCH (s:Snapshot {name: $snapshot}) DETACH DELETE s`, params)
}

// NodeRow is the property map of one tree node.
type NodeRow struct {
	ID       string
	ParentID string
	Path     string
	Label    string
	Kind     string
	Own      int64
	Total    int64
	Depth    int
	Symbol   *sizetree.SymbolRef
}

func (r NodeRow) params() map[string]any {
	m := map[string]any{
		"id":    r.ID,
		"path":  r.Path,
		"label": r.Label,
		"kind":  r.Kind,
		"own":   r.Own,
		"total": r.Total,
		"depth": r.Depth,
		// neo4j has no null-valued properties; absent values are unset
		"symbol_name": nil,
		"section":     nil,
		"address":     nil,
		"source_path": nil,
		"line":        nil,
	}
	if s := r.Symbol; s != nil {
		m["symbol_name"] = s.Name
		m["section"] = s.Section
		if s.HasAddress {
			m["address"] = int64(s.Address)
		}
		if s.SourcePath != "" {
			m["source_path"] = s.SourcePath
			m["line"] = s.Line
		}
	}
	return m
}

// Flatten lists the nodes of tree in pre-order with ids unique within the
// snapshot.
func Flatten(snapshot string, tree *sizetree.SizeNode) []NodeRow {
	var rows []NodeRow
	var ids []string
	tree.Walk(func(path []string, n *sizetree.SizeNode) bool {
		p := strings.Join(path, "/")
		id := snapshot + ":" + p
		parent := ""
		if len(path) > 0 {
			ids = append(ids[:len(path)], id)
			parent = ids[len(path)-1]
		} else {
			ids = append(ids[:0], id)
		}
		rows = append(rows, NodeRow{
			ID:       id,
			ParentID: parent,
			Path:     p,
			Label:    n.Label,
			Kind:     n.Kind.String(),
			Own:      n.OwnSize,
			Total:    n.TotalSize,
			Depth:    len(path),
			Symbol:   n.Symbol,
		})
		return true
	})
	return rows
}

// LoadTree replaces the snapshot's graph with tree.
func (l *Loader) LoadTree(ctx context.Context, snapshot string, tree *sizetree.SizeNode) error {
	if tree == nil {
		return fmt.Errorf("no tree to load for snapshot %s", snapshot)
	}
	if err := l.DeleteSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("deleting old snapshot %s: %w", snapshot, err)
	}
	rows := Flatten(snapshot, tree)
	slog.Info("Loading size tree into neo4j", "snapshot", snapshot, "nodes", len(rows))

	if err := l.exec.Run(ctx,
		`MERGE (s:Snapshot {name: $snapshot}) SET s.total_size = $total, s.symbols = $symbols`,
		map[string]any{"snapshot": snapshot, "total": tree.TotalSize, "symbols": tree.SymbolCount()},
	); err != nil {
		return err
	}

	nodes := make([]map[string]any, 0, len(rows))
	edges := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		nodes = append(nodes, r.params())
		if r.ParentID != "" {
			edges = append(edges, map[string]any{"parent": r.ParentID, "child": r.ID})
		}
	}

	err := l.batched(ctx, nodes,
		`UNWIND $batch AS row
		 MERGE (n:SizeNode {id: row.id})
		 SET n.snapshot = $snapshot, n.path = row.path, n.label = row.label, n.kind = row.kind,
		     n.own_size = row.own, n.total_size = row.total, n.depth = row.depth,
		     n.symbol_name = row.symbol_name, n.section = row.section, n.address = row.address,
		     n.source_path = row.source_path, n.line = row.line`,
		snapshot)
	if err != nil {
		return fmt.Errorf("loading nodes: %w", err)
	}
	err = l.batched(ctx, edges,
		`UNWIND $batch AS row
		 MATCH (p:SizeNode {id: row.parent}), (c:SizeNode {id: row.child})
		 MERGE (p)-[:CONTAINS]->(c)`,
		snapshot)
	if err != nil {
		return fmt.Errorf("loading relationships: %w", err)
	}
	return l.exec.Run(ctx,
		`MATCH (s:Snapshot {name: $snapshot}), (n:SizeNode {id: $root}) MERGE (s)-[:ROOT]->(n)`,
		map[string]any{"snapshot": snapshot, "root": rows[0].ID})
}

func (l *Loader) batched(ctx context.Context, rows []map[string]any, cypher, snapshot string) error {
	for start := 0; start < len(rows); start += l.batchSize {
		end := min(start+l.batchSize, len(rows))
		if err := l.exec.Run(ctx, cypher, map[string]any{"batch": rows[start:end], "snapshot": snapshot}); err != nil {
			return err
		}
	}
	return nil
}
