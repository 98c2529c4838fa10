package sheet

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/workflow"
	"github.com/garyjia/access-approval/pkg/tabular"
)

// Default reference table names
const (
	DefaultRMTable      = "rm approvers"
	DefaultDataTable    = "data approvers"
	DefaultManagerTable = "user_manager"
)

const defaultDirectoryTTL = 5 * time.Minute

var (
	rmSchema = tabular.Schema{
		{Name: "identity", Aliases: []string{"User_Email", "User_email", "EMAIL", "Email"}, Required: true},
		{Name: "approver", Aliases: []string{"Approver", "APPROVER", "RM_Approver"}, Required: true},
	}
	dataSchema = tabular.Schema{
		{Name: "identity", Aliases: []string{"Database", "DATABASE", "DATABASE_NAME"}, Required: true},
		{Name: "approver", Aliases: []string{"Approver", "APPROVER", "Data_Approver"}, Required: true},
	}
	managerSchema = tabular.Schema{
		{Name: "identity", Aliases: []string{"User_email_id", "User_Email", "User", "EMAIL", "Email"}, Required: true},
		{Name: "approver", Aliases: []string{"Manager_email_id", "Manager_Email", "Manager"}, Required: true},
	}
)

// ReferenceTables names the assignee reference tables.
type ReferenceTables struct {
	RM      string
	Data    string
	Manager string
}

// mapping is one reference table folded into lookups. Keys are lower-cased.
type mapping struct {
	byIdentity map[string]string
	approvers  map[string]struct{}
	err        error
}

type snapshot struct {
	rm, data, manager mapping
}

func (s *snapshot) failed() bool {
	return s.rm.err != nil || s.data.err != nil || s.manager.err != nil
}

// DirectoryOption configures a Directory
type DirectoryOption func(*Directory)

// WithTTL sets how long a clean read of the reference tables is reused.
// Zero disables caching.
func WithTTL(ttl time.Duration) DirectoryOption {
	return func(d *Directory) {
		d.ttl = ttl
	}
}

// WithClock overrides the time source for cache expiry
func WithClock(now func() time.Time) DirectoryOption {
	return func(d *Directory) {
		d.now = now
	}
}

// Directory implements port.AssigneeDirectory from the reference tables.
// Reads are cached for a short TTL; request writes never go through it.
type Directory struct {
	backend port.TabularStore
	tables  ReferenceTables
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger

	mu       sync.Mutex
	cached   *snapshot
	loadedAt time.Time
}

// NewDirectory creates a reference-table directory
func NewDirectory(backend port.TabularStore, tables ReferenceTables, logger *zap.Logger, opts ...DirectoryOption) *Directory {
	if tables.RM == "" {
		tables.RM = DefaultRMTable
	}
	if tables.Data == "" {
		tables.Data = DefaultDataTable
	}
	if tables.Manager == "" {
		tables.Manager = DefaultManagerTable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Directory{
		backend: backend,
		tables:  tables,
		ttl:     defaultDirectoryTTL,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RMApprover implements port.AssigneeDirectory
func (d *Directory) RMApprover(ctx context.Context, requester string) (string, error) {
	snap, err := d.snapshot(ctx)
	if err != nil {
		return "", err
	}
	return lookup(snap.rm, d.tables.RM, requester)
}

// DataApprover implements port.AssigneeDirectory
func (d *Directory) DataApprover(ctx context.Context, database string) (string, error) {
	snap, err := d.snapshot(ctx)
	if err != nil {
		return "", err
	}
	return lookup(snap.data, d.tables.Data, database)
}

// Manager implements port.AssigneeDirectory
func (d *Directory) Manager(ctx context.Context, requester string) (string, error) {
	snap, err := d.snapshot(ctx)
	if err != nil {
		return "", err
	}
	return lookup(snap.manager, d.tables.Manager, requester)
}

// RolesOf implements port.AssigneeDirectory. Roles from readable tables are
// reported even when a sibling table fails; the failures come back combined.
func (d *Directory) RolesOf(ctx context.Context, identity string) (port.ApproverRoles, error) {
	snap, err := d.snapshot(ctx)
	if err != nil {
		return port.ApproverRoles{}, err
	}
	key := normalize(identity)
	roles := port.ApproverRoles{
		RM:      has(snap.rm.approvers, key),
		Data:    has(snap.data.approvers, key),
		Manager: has(snap.manager.approvers, key),
	}
	return roles, multierr.Combine(snap.rm.err, snap.data.err, snap.manager.err)
}

func (d *Directory) snapshot(ctx context.Context) (*snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cached != nil && d.ttl > 0 && d.now().Sub(d.loadedAt) < d.ttl {
		return d.cached, nil
	}

	grids, err := d.backend.BatchRead(ctx, []string{d.tables.RM, d.tables.Data, d.tables.Manager})
	if err != nil {
		return nil, unavailable("reference", err)
	}

	snap := &snapshot{
		rm:      fold(grids[0], rmSchema, d.tables.RM),
		data:    fold(grids[1], dataSchema, d.tables.Data),
		manager: fold(grids[2], managerSchema, d.tables.Manager),
	}
	if snap.failed() {
		d.logger.Warn("Reference tables partially unreadable",
			zap.Error(multierr.Combine(snap.rm.err, snap.data.err, snap.manager.err)))
		d.cached = nil
		return snap, nil
	}

	d.cached = snap
	d.loadedAt = d.now()
	d.logger.Debug("Loaded reference tables",
		zap.Int("rm", len(snap.rm.byIdentity)),
		zap.Int("data", len(snap.data.byIdentity)),
		zap.Int("manager", len(snap.manager.byIdentity)))
	return snap, nil
}

// fold reads a reference table. The first row for an identity wins.
func fold(grid tabular.Grid, schema tabular.Schema, table string) mapping {
	m := mapping{
		byIdentity: make(map[string]string),
		approvers:  make(map[string]struct{}),
	}
	if len(grid) == 0 {
		return m
	}
	seq, _, err := tabular.Scan(grid, schema, tabular.RequireNonBlank("identity", "approver"))
	if err != nil {
		m.err = mismatch(table, err)
		return m
	}
	for row := range seq {
		key := normalize(row.Record.Get("identity"))
		approver := strings.TrimSpace(row.Record.Get("approver"))
		if _, seen := m.byIdentity[key]; !seen {
			m.byIdentity[key] = approver
		}
		m.approvers[normalize(approver)] = struct{}{}
	}
	return m
}

func lookup(m mapping, table, key string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if v, ok := m.byIdentity[normalize(key)]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: no entry for %q in %s", workflow.ErrNotFound, key, table)
}

func has(set map[string]struct{}, key string) bool {
	if key == "" {
		return false
	}
	_, ok := set[key]
	return ok
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Verify interface compliance
var _ port.AssigneeDirectory = (*Directory)(nil)
