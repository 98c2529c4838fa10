package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/access-approval/internal/domain/workflow"
	"github.com/garyjia/access-approval/pkg/tabular"
)

func TestStore_AppendAndRead(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.AppendRow(ctx, "responses", []string{"REQUEST_ID", "EMAIL"}))
	require.NoError(t, s.AppendRow(ctx, "responses", []string{"REQ_1", "a@x.com"}))

	grid, err := s.ReadAll(ctx, "responses")
	require.NoError(t, err)
	assert.Equal(t, tabular.Grid{{"REQUEST_ID", "EMAIL"}, {"REQ_1", "a@x.com"}}, grid)

	missing, err := s.ReadAll(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestStore_ReadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.Seed("t", tabular.Grid{{"A"}, {"1"}})

	grid, _ := s.ReadAll(ctx, "t")
	grid[1][0] = "changed"

	again, _ := s.ReadAll(ctx, "t")
	assert.Equal(t, "1", again[1][0])
}

func TestStore_WriteCellExtendsShortRows(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.Seed("t", tabular.Grid{{"A", "B", "C"}, {"1"}})

	require.NoError(t, s.WriteCell(ctx, "t", 1, 2, "x"))

	grid, _ := s.ReadAll(ctx, "t")
	assert.Equal(t, []string{"1", "", "x"}, grid[1])
	assert.Error(t, s.WriteCell(ctx, "t", -1, 0, "x"))
}

func TestStore_BatchRead(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.Seed("a", tabular.Grid{{"A"}})
	s.Seed("b", tabular.Grid{{"B"}})

	grids, err := s.BatchRead(ctx, []string{"b", "a", "c"})
	require.NoError(t, err)
	require.Len(t, grids, 3)
	assert.Equal(t, "B", grids[0][0][0])
	assert.Equal(t, "A", grids[1][0][0])
	assert.Empty(t, grids[2])
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStore().ReadAll(ctx, "t")
	assert.ErrorIs(t, err, workflow.ErrStoreUnavailable)
}
