package requestid

import (
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var idPattern = regexp.MustCompile(`^REQ_\d{8}_\d{6}_\d{4,6}$`)

func TestGenerate_Format(t *testing.T) {
	g, err := New("REQ")
	require.NoError(t, err)

	now := time.Date(2024, 3, 9, 7, 5, 1, 0, time.UTC)
	id := g.Generate(now)

	assert.Regexp(t, idPattern, id)
	assert.Contains(t, id, "REQ_20240309_070501_")
}

func TestGenerate_SameSecondDiffers(t *testing.T) {
	g, err := New("REQ")
	require.NoError(t, err)

	now := time.Date(2024, 3, 9, 7, 5, 1, 0, time.UTC)
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		seen[g.Generate(now)] = true
	}
	// 20 draws from ~10^6 values; a repeat is vanishingly unlikely.
	assert.Greater(t, len(seen), 18)
}

func TestGenerate_SuffixWithinRange(t *testing.T) {
	g, err := New("REQ", WithRange(1000, 1009), WithSource(rand.NewPCG(1, 2)))
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		id := g.Generate(time.Now())
		suffix, err := strconv.Atoi(id[strings.LastIndex(id, "_")+1:])
		require.NoError(t, err, id)
		assert.GreaterOrEqual(t, suffix, 1000)
		assert.LessOrEqual(t, suffix, 1009)
	}
}

func TestGenerate_SortsByTime(t *testing.T) {
	g, err := New("REQ", WithRange(1000, 9999))
	require.NoError(t, err)

	earlier := g.Generate(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	later := g.Generate(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	assert.Less(t, earlier, later)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New("REQ", WithRange(10, 99))
	assert.Error(t, err)

	_, err = New("REQ", WithRange(5000, 1000))
	assert.Error(t, err)

	_, err = New("MY_REQ")
	assert.Error(t, err)

	g, err := New("")
	require.NoError(t, err)
	assert.Regexp(t, idPattern, g.Next())
}

func TestNext_UsesClock(t *testing.T) {
	fixed := time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)
	g, err := New("ACC", WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(g.Next(), "ACC_20251231_235959_"))
}
