// Package workbook is a TabularStore backed by an .xlsx workbook, one
// worksheet per table. The file is reopened on every call so edits made by
// people in a spreadsheet tool are picked up.
package workbook

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/workflow"
	"github.com/garyjia/access-approval/pkg/tabular"
)

// Store implements port.TabularStore on a workbook file
type Store struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewStore creates a workbook store. The file is created on first write.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

// ReadAll implements port.TabularStore
func (s *Store) ReadAll(ctx context.Context, table string) (tabular.Grid, error) {
	grids, err := s.BatchRead(ctx, []string{table})
	if err != nil {
		return nil, err
	}
	return grids[0], nil
}

// BatchRead implements port.TabularStore. All tables come from one open of
// the file.
func (s *Store) BatchRead(ctx context.Context, tables []string) ([]tabular.Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", workflow.ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	grids := make([]tabular.Grid, len(tables))
	f, err := excelize.OpenFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return grids, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open workbook: %w", workflow.ErrStoreUnavailable, err)
	}
	defer f.Close()

	for i, table := range tables {
		idx, err := f.GetSheetIndex(table)
		if err != nil || idx < 0 {
			continue
		}
		rows, err := f.GetRows(table)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read sheet %s: %w", workflow.ErrStoreUnavailable, table, err)
		}
		grids[i] = rows
	}
	return grids, nil
}

// AppendRow implements port.TabularStore
func (s *Store) AppendRow(ctx context.Context, table string, row []string) error {
	return s.modify(ctx, table, func(f *excelize.File) error {
		rows, err := f.GetRows(table)
		if err != nil {
			return fmt.Errorf("failed to read sheet %s: %w", table, err)
		}
		cell, err := excelize.CoordinatesToCellName(1, len(rows)+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for i, v := range row {
			values[i] = v
		}
		return f.SetSheetRow(table, cell, &values)
	})
}

// WriteCell implements port.TabularStore
func (s *Store) WriteCell(ctx context.Context, table string, rowIndex, colIndex int, value string) error {
	if rowIndex < 0 || colIndex < 0 {
		return fmt.Errorf("invalid cell position (%d, %d)", rowIndex, colIndex)
	}
	return s.modify(ctx, table, func(f *excelize.File) error {
		cell, err := excelize.CoordinatesToCellName(colIndex+1, rowIndex+1)
		if err != nil {
			return err
		}
		return f.SetCellStr(table, cell, value)
	})
}

// modify opens (or creates) the workbook, ensures the sheet exists, applies
// fn and saves.
func (s *Store) modify(ctx context.Context, table string, fn func(f *excelize.File) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", workflow.ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, created, err := s.open()
	if err != nil {
		return fmt.Errorf("%w: failed to open workbook: %w", workflow.ErrStoreUnavailable, err)
	}
	defer f.Close()

	if err := ensureSheet(f, table, created); err != nil {
		return fmt.Errorf("%w: failed to create sheet %s: %w", workflow.ErrStoreUnavailable, table, err)
	}
	if err := fn(f); err != nil {
		return fmt.Errorf("%w: sheet %s: %w", workflow.ErrStoreUnavailable, table, err)
	}
	if err := f.SaveAs(s.path); err != nil {
		return fmt.Errorf("%w: failed to save workbook: %w", workflow.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) open() (*excelize.File, bool, error) {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("Creating workbook", zap.String("path", s.path))
		return excelize.NewFile(), true, nil
	}
	f, err := excelize.OpenFile(s.path)
	return f, false, err
}

// ensureSheet adds the sheet if missing. A freshly created workbook has its
// default sheet renamed instead so no stray empty sheet is left behind.
func ensureSheet(f *excelize.File, table string, created bool) error {
	if idx, err := f.GetSheetIndex(table); err == nil && idx >= 0 {
		return nil
	}
	if created {
		if sheets := f.GetSheetList(); len(sheets) == 1 {
			if rows, _ := f.GetRows(sheets[0]); len(rows) == 0 {
				return f.SetSheetName(sheets[0], table)
			}
		}
	}
	_, err := f.NewSheet(table)
	return err
}

// Verify interface compliance
var _ port.TabularStore = (*Store)(nil)
