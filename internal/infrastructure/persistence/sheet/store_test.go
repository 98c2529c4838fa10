package sheet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/access-approval/internal/domain/entity"
	"github.com/garyjia/access-approval/internal/domain/workflow"
	"github.com/garyjia/access-approval/internal/infrastructure/persistence/memory"
	"github.com/garyjia/access-approval/pkg/tabular"
)

// failingBackend fails every read of the named table
type failingBackend struct {
	*memory.Store
	table string
}

func (f *failingBackend) ReadAll(ctx context.Context, table string) (tabular.Grid, error) {
	if table == f.table {
		return nil, errors.New("connection reset")
	}
	return f.Store.ReadAll(ctx, table)
}

// slowBackend widens the gap between a read and the write that follows it
type slowBackend struct {
	*memory.Store
}

func (s *slowBackend) ReadAll(ctx context.Context, table string) (tabular.Grid, error) {
	grid, err := s.Store.ReadAll(ctx, table)
	time.Sleep(2 * time.Millisecond)
	return grid, err
}

func (s *slowBackend) BatchRead(ctx context.Context, tables []string) ([]tabular.Grid, error) {
	grids, err := s.Store.BatchRead(ctx, tables)
	time.Sleep(2 * time.Millisecond)
	return grids, err
}

var submitted = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func accessRequest(id string) *entity.Request {
	return entity.NewRequest(id, entity.KindTableAccess, "a@x.com", "ACME", "Sales",
		entity.Payload{Database: "SALES_DB", Schema: "PUBLIC", Table: "ORDERS", Reason: "reporting"},
		map[entity.Role]string{entity.RoleRM: "rm@x.com", entity.RoleData: "data@x.com"}, submitted)
}

func userRequest(id string) *entity.Request {
	return entity.NewRequest(id, entity.KindUserCreation, "new@x.com", "ACME", "Ops",
		entity.Payload{ManagerEmail: "boss@x.com", RequestedRole: "ANALYST"},
		map[entity.Role]string{entity.RoleManager: "boss@x.com"}, submitted)
}

func newTestStore(backend *memory.Store) *Store {
	return NewStore(backend, Tables{}, time.UTC, zap.NewNop())
}

func TestStore_AppendCreatesHeaderAndRoundTrips(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewStore()
	store := newTestStore(backend)

	require.NoError(t, store.Append(ctx, accessRequest("REQ_20240301_093000_1111")))

	grid, err := backend.ReadAll(ctx, DefaultAccessTable)
	require.NoError(t, err)
	require.Len(t, grid, 2)
	assert.Equal(t, "REQUEST_TYPE", grid[0][0])

	handle, err := store.FindRowByRequestID(ctx, "REQ_20240301_093000_1111")
	require.NoError(t, err)
	assert.Equal(t, DefaultAccessTable, handle.Table)
	assert.Equal(t, 1, handle.Row)

	got := handle.Request
	assert.Equal(t, entity.KindTableAccess, got.Kind)
	assert.Equal(t, "a@x.com", got.Requester)
	assert.Equal(t, "SALES_DB", got.Payload.Database)
	assert.Equal(t, "reporting", got.Payload.Reason)
	assert.Equal(t, submitted, got.SubmittedAt)
	assert.Equal(t, "rm@x.com", got.Assignee(entity.RoleRM))
	assert.Equal(t, "data@x.com", got.Assignee(entity.RoleData))
	assert.Equal(t, workflow.StatePending, got.OverallStatus())
}

func TestStore_AppendRejectsDuplicateAcrossTables(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(memory.NewStore())

	require.NoError(t, store.Append(ctx, accessRequest("REQ_1")))

	err := store.Append(ctx, userRequest("REQ_1"))
	assert.ErrorIs(t, err, workflow.ErrDuplicateIdentity)

	err = store.Append(ctx, accessRequest("REQ_1"))
	assert.ErrorIs(t, err, workflow.ErrDuplicateIdentity)
}

func TestStore_AppendValidates(t *testing.T) {
	req := accessRequest("REQ_1")
	req.Approvals[0].Assignee = ""

	err := newTestStore(memory.NewStore()).Append(context.Background(), req)
	assert.ErrorIs(t, err, workflow.ErrInvalidRequest)
}

func TestStore_AppendFollowsExistingColumnOrder(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewStore()
	backend.Seed(DefaultUserTable, tabular.Grid{
		{"Approval_status", "Entity", "Manager_email_id", "Request_id", "User", "Notes"},
	})
	store := newTestStore(backend)

	require.NoError(t, store.Append(ctx, userRequest("REQ_9")))

	grid, err := backend.ReadAll(ctx, DefaultUserTable)
	require.NoError(t, err)
	require.Len(t, grid, 2)
	assert.Equal(t, []string{"Pending", "ACME", "boss@x.com", "REQ_9", "new@x.com", ""}, grid[1])
}

func TestStore_ReorderedColumnsAndAliases(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewStore()
	backend.Seed(DefaultAccessTable, tabular.Grid{
		{"DATA_APPROVER_STATUS", "Request_id", "RM_Approver", "EMAIL", "REQUEST_TYPE", "ENTITY", "Database", "Data_Approver", "RM_APPROVER_STATUS"},
		{"", "REQ_A", "rm@x.com", "a@x.com", "Column request", "ACME", "HR_DB", "data@x.com", "Approved"},
	})
	store := newTestStore(backend)

	handle, err := store.FindRowByRequestID(ctx, "REQ_A")
	require.NoError(t, err)
	req := handle.Request
	assert.Equal(t, entity.KindColumnUnhash, req.Kind)
	assert.Equal(t, "HR_DB", req.Payload.Database)

	rm, _ := req.Approval(entity.RoleRM)
	data, _ := req.Approval(entity.RoleData)
	assert.Equal(t, workflow.StateApproved, rm.Status)
	assert.Equal(t, workflow.StatePending, data.Status, "blank status cell reads as Pending")

	require.NoError(t, store.UpdateStatusCell(ctx, *handle, entity.RoleData, workflow.StateRejected))

	grid, err := backend.ReadAll(ctx, DefaultAccessTable)
	require.NoError(t, err)
	assert.Equal(t, "Rejected", grid[1][0])
	assert.Equal(t, "Approved", grid[1][8])
}

func TestStore_UpdateStatusCellReResolvesHeader(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewStore()
	store := newTestStore(backend)
	require.NoError(t, store.Append(ctx, userRequest("REQ_U")))

	handle, err := store.FindRowByRequestID(ctx, "REQ_U")
	require.NoError(t, err)

	// Columns reordered and a row inserted above between read and write.
	backend.Seed(DefaultUserTable, tabular.Grid{
		{"Request_id", "Approval_status", "User", "Manager", "Entity"},
		{"REQ_OTHER", "Pending", "x@x.com", "boss@x.com", "ACME"},
		{"REQ_U", "Pending", "new@x.com", "boss@x.com", "ACME"},
	})

	require.NoError(t, store.UpdateStatusCell(ctx, *handle, entity.RoleManager, workflow.StateApproved))

	grid, err := backend.ReadAll(ctx, DefaultUserTable)
	require.NoError(t, err)
	assert.Equal(t, "Pending", grid[1][1])
	assert.Equal(t, "Approved", grid[2][1])
}

func TestStore_UpdateStatusCellRejectsForeignRole(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(memory.NewStore())
	require.NoError(t, store.Append(ctx, userRequest("REQ_U")))

	handle, err := store.FindRowByRequestID(ctx, "REQ_U")
	require.NoError(t, err)

	err = store.UpdateStatusCell(ctx, *handle, entity.RoleData, workflow.StateApproved)
	assert.ErrorIs(t, err, workflow.ErrInvalidRequest)
}

func TestStore_FindNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(memory.NewStore())
	require.NoError(t, store.Append(ctx, accessRequest("REQ_1")))

	_, err := store.FindRowByRequestID(ctx, "REQ_404")
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestStore_FindFirstMatchOnDuplicateRows(t *testing.T) {
	backend := memory.NewStore()
	backend.Seed(DefaultUserTable, tabular.Grid{
		{"Request_id", "User", "Manager", "Entity", "Approval_status"},
		{"REQ_D", "first@x.com", "boss@x.com", "ACME", "Pending"},
		{"REQ_D", "second@x.com", "boss@x.com", "ACME", "Pending"},
	})

	handle, err := newTestStore(backend).FindRowByRequestID(context.Background(), "REQ_D")
	require.NoError(t, err)
	assert.Equal(t, 1, handle.Row)
	assert.Equal(t, "first@x.com", handle.Request.Requester)
}

func TestStore_ListAllIsolatesBrokenSource(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewStore()
	store := newTestStore(backend)
	require.NoError(t, store.Append(ctx, accessRequest("REQ_1")))
	backend.Seed(DefaultUserTable, tabular.Grid{{"Something", "Else"}, {"a", "b"}})

	results := store.ListAll(ctx)
	require.Len(t, results, 2)

	assert.Equal(t, DefaultAccessTable, results[0].Source)
	assert.NoError(t, results[0].Err)
	assert.Len(t, results[0].Requests, 1)

	assert.Equal(t, DefaultUserTable, results[1].Source)
	assert.ErrorIs(t, results[1].Err, workflow.ErrSchemaMismatch)
	assert.Empty(t, results[1].Requests)
}

func TestStore_FindReportsUnavailableSource(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	backend := &failingBackend{Store: mem, table: DefaultUserTable}
	store := NewStore(backend, Tables{}, time.UTC, zap.NewNop())
	require.NoError(t, newTestStore(mem).Append(ctx, accessRequest("REQ_1")))

	handle, err := store.FindRowByRequestID(ctx, "REQ_1")
	require.NoError(t, err, "match in a healthy table is returned")
	assert.Equal(t, DefaultAccessTable, handle.Table)

	_, err = store.FindRowByRequestID(ctx, "REQ_404")
	assert.ErrorIs(t, err, workflow.ErrStoreUnavailable)
}

func TestStore_ListKindSkipsBlankIDs(t *testing.T) {
	backend := memory.NewStore()
	backend.Seed(DefaultUserTable, tabular.Grid{
		{"Request_id", "User", "Manager", "Entity", "Approval_status"},
		{"REQ_1", "a@x.com", "boss@x.com", "ACME", "Approved"},
		{"", "", "", "", ""},
		{"REQ_2", "b@x.com", "boss@x.com", "ACME", ""},
	})

	reqs, err := newTestStore(backend).ListKind(context.Background(), entity.KindUserCreation)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, workflow.StateApproved, reqs[0].OverallStatus())
	assert.Equal(t, workflow.StatePending, reqs[1].OverallStatus())
}

func TestStore_UpdateStatusCellRefusesStoredTerminalCell(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewStore()
	store := newTestStore(backend)
	require.NoError(t, store.Append(ctx, userRequest("REQ_U")))

	handle, err := store.FindRowByRequestID(ctx, "REQ_U")
	require.NoError(t, err)

	// Decided by someone else after the handle was read.
	require.NoError(t, store.UpdateStatusCell(ctx, *handle, entity.RoleManager, workflow.StateApproved))

	err = store.UpdateStatusCell(ctx, *handle, entity.RoleManager, workflow.StateRejected)
	assert.ErrorIs(t, err, workflow.ErrAlreadyResolved)

	reqs, err := store.ListKind(ctx, entity.KindUserCreation)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, workflow.StateApproved, reqs[0].OverallStatus(), "first decision stands")
}

func TestStore_ConcurrentStatusWritesOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	store := NewStore(&slowBackend{Store: mem}, Tables{}, time.UTC, zap.NewNop())
	require.NoError(t, store.Append(ctx, accessRequest("REQ_1")))

	handle, err := store.FindRowByRequestID(ctx, "REQ_1")
	require.NoError(t, err)

	targets := []workflow.State{workflow.StateApproved, workflow.StateRejected}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target workflow.State) {
			defer wg.Done()
			errs[i] = store.UpdateStatusCell(ctx, *handle, entity.RoleRM, target)
		}(i, target)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, workflow.ErrAlreadyResolved)
	}
	assert.Equal(t, 1, succeeded)
}

func TestStore_AppendPreconditionAborts(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewStore()
	store := newTestStore(backend)

	blocked := errors.New("blocked")
	err := store.Append(ctx, userRequest("REQ_U"), func(context.Context) error { return blocked })
	assert.ErrorIs(t, err, blocked)

	grid, err := backend.ReadAll(ctx, DefaultUserTable)
	require.NoError(t, err)
	assert.Empty(t, grid, "nothing written, not even the header")
}

func TestStore_AppendPreconditionsRunUnderWriteLock(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	store := NewStore(&slowBackend{Store: mem}, Tables{}, time.UTC, zap.NewNop())

	onlyIfEmpty := func(ctx context.Context) error {
		reqs, err := store.ListKind(ctx, entity.KindUserCreation)
		if err != nil {
			return err
		}
		if len(reqs) > 0 {
			return workflow.ErrOpenRequestExists
		}
		return nil
	}

	ids := []string{"REQ_A", "REQ_B"}
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = store.Append(ctx, userRequest(id), onlyIfEmpty)
		}(i, id)
	}
	wg.Wait()

	reqs, err := store.ListKind(ctx, entity.KindUserCreation)
	require.NoError(t, err)
	assert.Len(t, reqs, 1)
	assert.True(t, (errs[0] == nil) != (errs[1] == nil), "exactly one append succeeds: %v", errs)
}

func TestStore_FindUndecodableRowIsSchemaMismatch(t *testing.T) {
	backend := memory.NewStore()
	backend.Seed(DefaultAccessTable, tabular.Grid{
		{"REQUEST_TYPE", "REQUEST_ID", "EMAIL", "ENTITY", "RM_APPROVER", "DATA_APPROVER", "RM_APPROVER_STATUS", "DATA_APPROVER_STATUS"},
		{"", "REQ_BLANK", "a@x.com", "ACME", "rm@x.com", "data@x.com", "Pending", "Pending"},
		{"Table request", "REQ_HOLD", "a@x.com", "ACME", "rm@x.com", "data@x.com", "On hold", "Pending"},
	})
	store := newTestStore(backend)

	for _, id := range []string{"REQ_BLANK", "REQ_HOLD"} {
		_, err := store.FindRowByRequestID(context.Background(), id)
		assert.ErrorIs(t, err, workflow.ErrSchemaMismatch, id)
	}
}

func TestStore_ListSkipsUnknownStatusCells(t *testing.T) {
	backend := memory.NewStore()
	backend.Seed(DefaultUserTable, tabular.Grid{
		{"Request_id", "User", "Manager", "Entity", "Approval_status"},
		{"REQ_1", "a@x.com", "boss@x.com", "ACME", "On hold"},
		{"REQ_2", "b@x.com", "boss@x.com", "ACME", "pending"},
	})

	reqs, err := newTestStore(backend).ListKind(context.Background(), entity.KindUserCreation)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "REQ_2", reqs[0].ID)
}
