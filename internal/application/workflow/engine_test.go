package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/garyjia/access-approval/internal/application/dispatcher"
	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/entity"
	"github.com/garyjia/access-approval/internal/domain/event"
	domainwf "github.com/garyjia/access-approval/internal/domain/workflow"
	"github.com/garyjia/access-approval/internal/infrastructure/persistence/memory"
	"github.com/garyjia/access-approval/internal/infrastructure/persistence/sheet"
	"github.com/garyjia/access-approval/pkg/tabular"
)

// sequenceIDs hands out REQ_0001, REQ_0002, ...
type sequenceIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequenceIDs) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("REQ_%04d", s.n)
}

// mockHistory records history entries in memory
type mockHistory struct {
	mu      sync.Mutex
	records []*entity.TransitionRecord
	err     error
}

func (m *mockHistory) Create(ctx context.Context, r *entity.TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, r)
	return nil
}

func (m *mockHistory) GetByRequestID(ctx context.Context, id string) ([]*entity.TransitionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.TransitionRecord
	for _, r := range m.records {
		if r.RequestID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

// countingStore wraps a RequestStore and counts rows actually appended
type countingStore struct {
	port.RequestStore
	mu      sync.Mutex
	written int
	listErr error
}

func (c *countingStore) Append(ctx context.Context, req *entity.Request, preconditions ...port.Precondition) error {
	if err := c.RequestStore.Append(ctx, req, preconditions...); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written++
	return nil
}

func (c *countingStore) appends() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written
}

func (c *countingStore) ListKind(ctx context.Context, kind entity.Kind) ([]*entity.Request, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.RequestStore.ListKind(ctx, kind)
}

// slowBackend sleeps after every read so racing callers interleave between
// their read and their write
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

type fixture struct {
	engine  WorkflowEngine
	backend *memory.Store
	store   *countingStore
	history *mockHistory
}

func newFixture(opts ...EngineOption) *fixture {
	backend := memory.NewStore()
	store := &countingStore{RequestStore: sheet.NewStore(backend, sheet.Tables{}, time.UTC, nil)}
	history := &mockHistory{}
	opts = append([]EngineOption{
		WithHistory(history),
		WithClock(func() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) }),
	}, opts...)
	return &fixture{
		engine:  NewEngine(store, &sequenceIDs{}, opts...),
		backend: backend,
		store:   store,
		history: history,
	}
}

func tableAccess() CreateInput {
	return CreateInput{
		Kind:      entity.KindTableAccess,
		Requester: "a@x.com",
		Entity:    "ACME",
		Payload:   entity.Payload{Database: "SALES_DB", Schema: "PUBLIC", Table: "ORDERS"},
		Assignees: map[entity.Role]string{entity.RoleRM: "rm@x.com", entity.RoleData: "data@x.com"},
	}
}

func userCreation(requester string) CreateInput {
	return CreateInput{
		Kind:      entity.KindUserCreation,
		Requester: requester,
		Entity:    "ACME",
		Payload:   entity.Payload{ManagerEmail: "boss@x.com"},
		Assignees: map[entity.Role]string{entity.RoleManager: "boss@x.com"},
	}
}

func decide(id string, role entity.Role, actor string, target domainwf.State) TransitionInput {
	return TransitionInput{RequestID: id, Role: role, Actor: actor, Target: target}
}

func TestEngine_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	req, err := f.engine.Create(ctx, tableAccess())
	require.NoError(t, err)

	pending, err := f.engine.ListAssignedTo(ctx, "rm@x.com")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].Request.ID)
	assert.Equal(t, []entity.Role{entity.RoleRM}, pending[0].Roles)

	updated, err := f.engine.Transition(ctx, decide(req.ID, entity.RoleRM, "rm@x.com", domainwf.StateApproved))
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatePending, f.engine.OverallStatus(updated))

	updated, err = f.engine.Transition(ctx, decide(req.ID, entity.RoleData, "data@x.com", domainwf.StateRejected))
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateRejected, f.engine.OverallStatus(updated))

	stored, err := f.engine.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateRejected, stored.OverallStatus())

	pending, err = f.engine.ListAssignedTo(ctx, "rm@x.com")
	require.NoError(t, err)
	assert.Empty(t, pending)

	history, err := f.engine.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, entity.ActionCreate, history[0].Action)
	assert.Equal(t, entity.ActionApprove, history[1].Action)
	assert.Equal(t, entity.ActionReject, history[2].Action)
	assert.Equal(t, "Pending", history[2].PreviousStatus)
}

func TestEngine_CreateThenListForEveryAssignee(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	for _, in := range []CreateInput{tableAccess(), userCreation("new@x.com")} {
		req, err := f.engine.Create(ctx, in)
		require.NoError(t, err)

		for role, assignee := range in.Assignees {
			items, err := f.engine.ListAssignedTo(ctx, assignee)
			require.NoError(t, err)

			var found []Assignment
			for _, it := range items {
				if it.Request.ID == req.ID {
					found = append(found, it)
				}
			}
			require.Len(t, found, 1, "role %s", role)
			assert.Contains(t, found[0].Roles, role)
			slot, _ := found[0].Request.Approval(role)
			assert.Equal(t, domainwf.StatePending, slot.Status)
		}
	}
}

func TestEngine_SecondDecisionIsAlreadyResolved(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	req, err := f.engine.Create(ctx, tableAccess())
	require.NoError(t, err)

	_, err = f.engine.Transition(ctx, decide(req.ID, entity.RoleRM, "rm@x.com", domainwf.StateApproved))
	require.NoError(t, err)

	_, err = f.engine.Transition(ctx, decide(req.ID, entity.RoleRM, "rm@x.com", domainwf.StateRejected))
	assert.ErrorIs(t, err, domainwf.ErrAlreadyResolved)

	stored, err := f.engine.Get(ctx, req.ID)
	require.NoError(t, err)
	slot, _ := stored.Approval(entity.RoleRM)
	assert.Equal(t, domainwf.StateApproved, slot.Status)
}

func TestEngine_NonAssigneeIsRefused(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	first, err := f.engine.Create(ctx, tableAccess())
	require.NoError(t, err)

	// other@x.com is the RM approver on a different request.
	in := tableAccess()
	in.Assignees[entity.RoleRM] = "other@x.com"
	_, err = f.engine.Create(ctx, in)
	require.NoError(t, err)

	_, err = f.engine.Transition(ctx, decide(first.ID, entity.RoleRM, "other@x.com", domainwf.StateApproved))
	require.ErrorIs(t, err, domainwf.ErrNotAssignee)

	var authErr *domainwf.AuthorizationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "rm@x.com", authErr.Expected)

	// Assignee of a different role on the same request.
	_, err = f.engine.Transition(ctx, decide(first.ID, entity.RoleRM, "data@x.com", domainwf.StateApproved))
	assert.ErrorIs(t, err, domainwf.ErrNotAssignee)
}

func TestEngine_GuardRunsBeforeTerminalCheck(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	req, err := f.engine.Create(ctx, tableAccess())
	require.NoError(t, err)
	_, err = f.engine.Transition(ctx, decide(req.ID, entity.RoleRM, "rm@x.com", domainwf.StateApproved))
	require.NoError(t, err)

	_, err = f.engine.Transition(ctx, decide(req.ID, entity.RoleRM, "intruder@x.com", domainwf.StateRejected))
	assert.ErrorIs(t, err, domainwf.ErrNotAssignee)
}

func TestEngine_SelfApprovalForbiddenForUserCreation(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	in := userCreation("boss@x.com")
	req, err := f.engine.Create(ctx, in)
	require.NoError(t, err)

	_, err = f.engine.Transition(ctx, decide(req.ID, entity.RoleManager, "BOSS@x.com", domainwf.StateApproved))
	assert.ErrorIs(t, err, domainwf.ErrSelfApprovalForbidden)
}

func TestEngine_CaseInsensitiveAssignee(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	req, err := f.engine.Create(ctx, tableAccess())
	require.NoError(t, err)

	items, err := f.engine.ListAssignedTo(ctx, "RM@X.COM")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = f.engine.Transition(ctx, decide(req.ID, entity.RoleRM, " Rm@x.com ", domainwf.StateApproved))
	assert.NoError(t, err)
}

func TestEngine_TransitionErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	req, err := f.engine.Create(ctx, userCreation("new@x.com"))
	require.NoError(t, err)

	_, err = f.engine.Transition(ctx, decide("REQ_404", entity.RoleManager, "boss@x.com", domainwf.StateApproved))
	assert.ErrorIs(t, err, domainwf.ErrNotFound)

	_, err = f.engine.Transition(ctx, decide(req.ID, entity.RoleManager, "boss@x.com", domainwf.StatePending))
	assert.ErrorIs(t, err, domainwf.ErrInvalidRequest)

	_, err = f.engine.Transition(ctx, decide(req.ID, entity.RoleData, "boss@x.com", domainwf.StateApproved))
	assert.ErrorIs(t, err, domainwf.ErrInvalidRequest)
}

func TestEngine_DedupBlocksSecondUserCreation(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.engine.Create(ctx, userCreation("new@x.com"))
	require.NoError(t, err)
	require.Equal(t, 1, f.store.appends())

	_, err = f.engine.Create(ctx, userCreation("NEW@x.com"))
	assert.ErrorIs(t, err, domainwf.ErrOpenRequestExists)
	assert.Equal(t, 1, f.store.appends(), "no write after dedup rejection")

	// Other kinds are not deduplicated.
	in := tableAccess()
	in.Requester = "new@x.com"
	_, err = f.engine.Create(ctx, in)
	assert.NoError(t, err)
}

func TestEngine_DedupAllowsAfterResolution(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	req, err := f.engine.Create(ctx, userCreation("new@x.com"))
	require.NoError(t, err)
	_, err = f.engine.Transition(ctx, decide(req.ID, entity.RoleManager, "boss@x.com", domainwf.StateRejected))
	require.NoError(t, err)

	_, err = f.engine.Create(ctx, userCreation("new@x.com"))
	assert.NoError(t, err)
}

func TestEngine_DedupFailsClosed(t *testing.T) {
	f := newFixture()
	f.store.listErr = domainwf.ErrStoreUnavailable

	_, err := f.engine.Create(context.Background(), userCreation("new@x.com"))
	assert.ErrorIs(t, err, domainwf.ErrStoreUnavailable)
	assert.Equal(t, 0, f.store.appends())
}

func TestEngine_CreateRejectsMissingAssignee(t *testing.T) {
	f := newFixture()
	in := tableAccess()
	delete(in.Assignees, entity.RoleData)

	_, err := f.engine.Create(context.Background(), in)
	assert.ErrorIs(t, err, domainwf.ErrInvalidRequest)
	assert.Equal(t, 0, f.store.appends())
}

func TestEngine_ListAssignedToPartialResults(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.engine.Create(ctx, tableAccess())
	require.NoError(t, err)

	f.backend.Seed(sheet.DefaultUserTable, tabular.Grid{{"broken"}, {"x"}})

	items, err := f.engine.ListAssignedTo(ctx, "rm@x.com")
	assert.Len(t, items, 1, "healthy source still contributes")
	require.Error(t, err)
	assert.True(t, IsSourceError(err))
	assert.ErrorIs(t, err, domainwf.ErrSchemaMismatch)

	errs := multierr.Errors(err)
	require.Len(t, errs, 1)
	var se *SourceError
	require.ErrorAs(t, errs[0], &se)
	assert.Equal(t, sheet.DefaultUserTable, se.Source)
}

func TestEngine_ListsSortedLatestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	for i := 0; i < 3; i++ {
		_, err := f.engine.Create(ctx, tableAccess())
		require.NoError(t, err)
	}

	items, err := f.engine.ListAssignedTo(ctx, "data@x.com")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "REQ_0003", items[0].Request.ID)
	assert.Equal(t, "REQ_0001", items[2].Request.ID)

	mine, err := f.engine.ListByRequester(ctx, "A@x.com")
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.Equal(t, "REQ_0003", mine[0].ID)
}

func TestEngine_HistoryFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.history.err = errors.New("disk full")

	req, err := f.engine.Create(ctx, tableAccess())
	require.NoError(t, err)
	_, err = f.engine.Transition(ctx, decide(req.ID, entity.RoleRM, "rm@x.com", domainwf.StateApproved))
	assert.NoError(t, err)
}

func TestEngine_EmitsEvents(t *testing.T) {
	ctx := context.Background()
	d := dispatcher.NewDispatcher()

	var (
		mu     sync.Mutex
		events []*event.Event
	)
	collect := func(ctx context.Context, evt *event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, evt)
		return nil
	}
	d.Subscribe(event.TypeRequestCreated, "collect", collect)
	d.Subscribe(event.TypeRoleDecided, "collect", collect)

	f := newFixture(WithDispatcher(d))
	req, err := f.engine.Create(ctx, tableAccess())
	require.NoError(t, err)
	_, err = f.engine.Transition(ctx, decide(req.ID, entity.RoleRM, "rm@x.com", domainwf.StateApproved))
	require.NoError(t, err)
	require.NoError(t, d.Close())

	require.Len(t, events, 2)
	byType := map[event.Type]*event.Event{}
	for _, e := range events {
		byType[e.Type] = e
	}

	createdEvt := byType[event.TypeRequestCreated]
	require.NotNil(t, createdEvt)
	subject, ok := createdEvt.Subject.(*entity.Request)
	require.True(t, ok)
	assert.Equal(t, req.ID, subject.ID)

	decided := byType[event.TypeRoleDecided]
	require.NotNil(t, decided)
	assert.Equal(t, "Approved", decided.GetPayloadString(event.KeyStatus))
	assert.Equal(t, "Pending", decided.GetPayloadString(event.KeyOverall))
}

// race runs fn concurrently n times and returns each call's error
func race(n int, fn func(i int) error) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = fn(i)
		}(i)
	}
	wg.Wait()
	return errs
}

func TestEngine_ConcurrentDecisionsOnOneRole(t *testing.T) {
	ctx := context.Background()
	store := sheet.NewStore(&slowBackend{Store: memory.NewStore()}, sheet.Tables{}, time.UTC, nil)
	engine := NewEngine(store, &sequenceIDs{})

	req, err := engine.Create(ctx, tableAccess())
	require.NoError(t, err)

	targets := []domainwf.State{domainwf.StateApproved, domainwf.StateRejected}
	errs := race(len(targets), func(i int) error {
		_, err := engine.Transition(ctx, decide(req.ID, entity.RoleRM, "rm@x.com", targets[i]))
		return err
	})

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domainwf.ErrAlreadyResolved)
	}
	assert.Equal(t, 1, succeeded)
}

func TestEngine_ConcurrentUserCreationIsDeduplicated(t *testing.T) {
	ctx := context.Background()
	store := sheet.NewStore(&slowBackend{Store: memory.NewStore()}, sheet.Tables{}, time.UTC, nil)
	engine := NewEngine(store, &sequenceIDs{})

	errs := race(4, func(int) error {
		_, err := engine.Create(ctx, userCreation("new@x.com"))
		return err
	})

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, domainwf.ErrOpenRequestExists)
	}
	assert.Equal(t, 1, created)

	mine, err := engine.ListByRequester(ctx, "new@x.com")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}
