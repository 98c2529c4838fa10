// Package memory is an in-process TabularStore. Each table is a grid of
// cells guarded by a single lock.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/workflow"
	"github.com/garyjia/access-approval/pkg/tabular"
)

// Store implements port.TabularStore in memory
type Store struct {
	mu     sync.RWMutex
	tables map[string]tabular.Grid
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{tables: make(map[string]tabular.Grid)}
}

// Seed replaces a table's contents. Intended for fixtures and tests.
func (s *Store) Seed(table string, grid tabular.Grid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = copyGrid(grid)
}

// ReadAll implements port.TabularStore
func (s *Store) ReadAll(ctx context.Context, table string) (tabular.Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", workflow.ErrStoreUnavailable, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyGrid(s.tables[table]), nil
}

// AppendRow implements port.TabularStore
func (s *Store) AppendRow(ctx context.Context, table string, row []string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", workflow.ErrStoreUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = append(s.tables[table], append([]string(nil), row...))
	return nil
}

// WriteCell implements port.TabularStore
func (s *Store) WriteCell(ctx context.Context, table string, rowIndex, colIndex int, value string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", workflow.ErrStoreUnavailable, err)
	}
	if rowIndex < 0 || colIndex < 0 {
		return fmt.Errorf("invalid cell position (%d, %d)", rowIndex, colIndex)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	grid := s.tables[table]
	for len(grid) <= rowIndex {
		grid = append(grid, nil)
	}
	row := grid[rowIndex]
	for len(row) <= colIndex {
		row = append(row, "")
	}
	row[colIndex] = value
	grid[rowIndex] = row
	s.tables[table] = grid
	return nil
}

// BatchRead implements port.TabularStore
func (s *Store) BatchRead(ctx context.Context, tables []string) ([]tabular.Grid, error) {
	out := make([]tabular.Grid, 0, len(tables))
	for _, t := range tables {
		g, err := s.ReadAll(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func copyGrid(g tabular.Grid) tabular.Grid {
	if g == nil {
		return nil
	}
	out := make(tabular.Grid, len(g))
	for i, row := range g {
		out[i] = append([]string(nil), row...)
	}
	return out
}

// Verify interface compliance
var _ port.TabularStore = (*Store)(nil)
