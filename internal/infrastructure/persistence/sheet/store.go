// Package sheet maps access requests and approver directories onto header
// indexed tables of a port.TabularStore.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/entity"
	"github.com/garyjia/access-approval/internal/domain/workflow"
	"github.com/garyjia/access-approval/pkg/tabular"
)

// Default table names
const (
	DefaultAccessTable = "responses"
	DefaultUserTable   = "user_responses"
)

// Tables names the request tables within the backing store.
type Tables struct {
	Access string
	User   string
}

// Store implements port.RequestStore on top of a TabularStore
type Store struct {
	backend port.TabularStore
	tables  []*requestTable
	loc     *time.Location
	logger  *zap.Logger

	// serialises read-check-write sequences: id uniqueness and preconditions
	// with the append, the terminal check with the status write
	writeMu sync.Mutex
}

// NewStore creates a request store. Empty table names fall back to defaults.
func NewStore(backend port.TabularStore, tables Tables, loc *time.Location, logger *zap.Logger) *Store {
	if tables.Access == "" {
		tables.Access = DefaultAccessTable
	}
	if tables.User == "" {
		tables.User = DefaultUserTable
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend: backend,
		tables:  []*requestTable{newAccessTable(tables.Access), newUserTable(tables.User)},
		loc:     loc,
		logger:  logger,
	}
}

// Append implements port.RequestStore
func (s *Store) Append(ctx context.Context, req *entity.Request, preconditions ...port.Precondition) error {
	if err := req.Validate(); err != nil {
		return err
	}
	target := s.tableForKind(req.Kind)
	if target == nil {
		return fmt.Errorf("%w: no table holds %s", workflow.ErrInvalidRequest, req.Kind)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	names := make([]string, len(s.tables))
	for i, t := range s.tables {
		names[i] = t.name
	}
	grids, err := s.backend.BatchRead(ctx, names)
	if err != nil {
		return unavailable("batch", err)
	}

	var targetGrid tabular.Grid
	for i, t := range s.tables {
		grid := grids[i]
		if t == target {
			targetGrid = grid
		}
		if len(grid) == 0 {
			continue
		}
		rows, err := tabular.Collect(grid, idSchema)
		if err != nil {
			return mismatch(t.name, err)
		}
		for _, row := range rows {
			if strings.TrimSpace(row.Record.Get(fieldRequestID)) == req.ID {
				return fmt.Errorf("%w: %s already in %s", workflow.ErrDuplicateIdentity, req.ID, t.name)
			}
		}
	}

	for _, check := range preconditions {
		if err := check(ctx); err != nil {
			return err
		}
	}

	header := targetGrid.Header()
	if len(targetGrid) == 0 {
		header = target.header()
		if err := s.backend.AppendRow(ctx, target.name, header); err != nil {
			return unavailable(target.name, err)
		}
		s.logger.Info("Created request table header", zap.String("table", target.name))
	}

	layout, err := tabular.Resolve(header, target.schema)
	if err != nil {
		return mismatch(target.name, err)
	}
	if err := s.backend.AppendRow(ctx, target.name, layout.Compose(target.encode(req))); err != nil {
		return unavailable(target.name, err)
	}

	s.logger.Info("Appended request",
		zap.String("request_id", req.ID),
		zap.String("kind", req.Kind.String()),
		zap.String("table", target.name))
	return nil
}

// FindRowByRequestID implements port.RequestStore. Each call reads the
// tables afresh. Duplicate ids resolve to the first matching row.
func (s *Store) FindRowByRequestID(ctx context.Context, id string) (*port.RowHandle, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty request id", workflow.ErrInvalidRequest)
	}

	var errs error
	for _, t := range s.tables {
		grid, err := s.backend.ReadAll(ctx, t.name)
		if err != nil {
			errs = multierr.Append(errs, unavailable(t.name, err))
			continue
		}
		if len(grid) == 0 {
			continue
		}
		row, found, err := s.locate(t, grid, id)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if found {
			req, err := t.decode(row.Record, s.loc)
			if err != nil {
				return nil, fmt.Errorf("%w: decode %s row %d: %w", workflow.ErrSchemaMismatch, t.name, row.Index, err)
			}
			return &port.RowHandle{Table: t.name, Row: row.Index, Request: req}, nil
		}
	}

	if errs != nil {
		return nil, errs
	}
	return nil, fmt.Errorf("%w: %s", workflow.ErrNotFound, id)
}

// UpdateStatusCell implements port.RequestStore. The header is resolved
// again and the row is re-checked against the request id before writing, so
// a column reorder since the handle was produced is harmless. The cell as
// stored now, not as carried by the handle, decides whether the role is
// still open.
func (s *Store) UpdateStatusCell(ctx context.Context, handle port.RowHandle, role entity.Role, status workflow.State) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", workflow.ErrInvalidState, status)
	}
	t := s.tableByName(handle.Table)
	if t == nil {
		return fmt.Errorf("%w: unknown table %s", workflow.ErrInvalidRequest, handle.Table)
	}
	field, ok := t.statusField[role]
	if !ok {
		return fmt.Errorf("%w: role %s has no status column in %s", workflow.ErrInvalidRequest, role, t.name)
	}
	if handle.Request == nil {
		return fmt.Errorf("%w: handle carries no request", workflow.ErrInvalidRequest)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	grid, err := s.backend.ReadAll(ctx, t.name)
	if err != nil {
		return unavailable(t.name, err)
	}
	layout, err := tabular.Resolve(grid.Header(), t.schema)
	if err != nil {
		return mismatch(t.name, err)
	}

	rowIndex := handle.Row
	if !rowMatches(grid, layout, rowIndex, handle.Request.ID) {
		row, found, err := s.locate(t, grid, handle.Request.ID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s no longer in %s", workflow.ErrNotFound, handle.Request.ID, t.name)
		}
		s.logger.Warn("Request row moved since it was read",
			zap.String("request_id", handle.Request.ID),
			zap.Int("old_row", handle.Row),
			zap.Int("new_row", row.Index))
		rowIndex = row.Index
	}

	current, err := workflow.ParseState(layout.Project(grid[rowIndex]).Get(field))
	if err != nil {
		return mismatch(t.name, err)
	}
	if current.IsTerminal() {
		return fmt.Errorf("%w: %s role on %s is already %s",
			workflow.ErrAlreadyResolved, role.Label(), handle.Request.ID, current)
	}

	col, _ := layout.Column(field)
	if err := s.backend.WriteCell(ctx, t.name, rowIndex, col, status.String()); err != nil {
		return unavailable(t.name, err)
	}
	return nil
}

// ListAll implements port.RequestStore
func (s *Store) ListAll(ctx context.Context) []port.SourceResult {
	results := make([]port.SourceResult, 0, len(s.tables))
	for _, t := range s.tables {
		reqs, err := s.readTable(ctx, t)
		results = append(results, port.SourceResult{Source: t.name, Requests: reqs, Err: err})
	}
	return results
}

// ListKind implements port.RequestStore
func (s *Store) ListKind(ctx context.Context, kind entity.Kind) ([]*entity.Request, error) {
	t := s.tableForKind(kind)
	if t == nil {
		return nil, fmt.Errorf("%w: no table holds %s", workflow.ErrInvalidRequest, kind)
	}
	reqs, err := s.readTable(ctx, t)
	if err != nil {
		return nil, err
	}
	out := reqs[:0]
	for _, r := range reqs {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) readTable(ctx context.Context, t *requestTable) ([]*entity.Request, error) {
	grid, err := s.backend.ReadAll(ctx, t.name)
	if err != nil {
		return nil, unavailable(t.name, err)
	}
	if len(grid) == 0 {
		return nil, nil
	}
	seq, _, err := tabular.Scan(grid, t.schema, tabular.RequireNonBlank(fieldRequestID))
	if err != nil {
		return nil, mismatch(t.name, err)
	}

	var reqs []*entity.Request
	for row := range seq {
		req, err := t.decode(row.Record, s.loc)
		if err != nil {
			s.logger.Warn("Skipping undecodable row",
				zap.String("table", t.name),
				zap.Int("row", row.Index),
				zap.Error(err))
			continue
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func (s *Store) locate(t *requestTable, grid tabular.Grid, id string) (tabular.Row, bool, error) {
	seq, _, err := tabular.Scan(grid, t.schema)
	if err != nil {
		return tabular.Row{}, false, mismatch(t.name, err)
	}
	for row := range seq {
		if strings.TrimSpace(row.Record.Get(fieldRequestID)) == id {
			return row, true, nil
		}
	}
	return tabular.Row{}, false, nil
}

func (s *Store) tableForKind(kind entity.Kind) *requestTable {
	for _, t := range s.tables {
		if t.holds(kind) {
			return t
		}
	}
	return nil
}

func (s *Store) tableByName(name string) *requestTable {
	for _, t := range s.tables {
		if t.name == name {
			return t
		}
	}
	return nil
}

func rowMatches(grid tabular.Grid, layout *tabular.Layout, rowIndex int, id string) bool {
	if rowIndex <= 0 || rowIndex >= len(grid) {
		return false
	}
	return strings.TrimSpace(layout.Project(grid[rowIndex]).Get(fieldRequestID)) == id
}

func unavailable(table string, err error) error {
	if errors.Is(err, workflow.ErrStoreUnavailable) {
		return fmt.Errorf("table %s: %w", table, err)
	}
	return fmt.Errorf("%w: table %s: %w", workflow.ErrStoreUnavailable, table, err)
}

func mismatch(table string, err error) error {
	return fmt.Errorf("%w: table %s: %w", workflow.ErrSchemaMismatch, table, err)
}

// Verify interface compliance
var _ port.RequestStore = (*Store)(nil)
