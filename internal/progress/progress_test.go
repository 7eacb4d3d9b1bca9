package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve_DefaultPattern(t *testing.T) {
	cases := []struct {
		line      string
		iteration int
		total     int // 0 means no total in the line
	}{
		{"Iteration: 15", 15, 0},
		{"iteration 7 of 100", 7, 100},
		{"ITERATION: 42/500", 42, 500},
		{"processing iteration: 3", 3, 0},
	}
	for _, tc := range cases {
		tr, err := New("")
		require.NoError(t, err)

		upd, ok := tr.Observe(tc.line)
		require.True(t, ok, "line %q should match", tc.line)
		assert.Equal(t, tc.iteration, upd.Iteration, tc.line)
		if tc.total > 0 {
			require.NotNil(t, upd.TotalIterations, tc.line)
			assert.Equal(t, tc.total, *upd.TotalIterations, tc.line)
		}
	}
}

func TestObserve_NonMatchingLines(t *testing.T) {
	tr, err := New("")
	require.NoError(t, err)

	for _, line := range []string{
		"",
		"starting simulation",
		"wrote results.json",
		"iterations configured",
	} {
		_, ok := tr.Observe(line)
		assert.False(t, ok, "line %q should not match", line)
	}
}

func TestObserve_TotalCachedAfterFirstSighting(t *testing.T) {
	tr, err := New("")
	require.NoError(t, err)

	upd, ok := tr.Observe("iteration 1 of 500")
	require.True(t, ok)
	require.NotNil(t, upd.TotalIterations)

	// Later lines without a total still carry the cached one.
	upd, ok = tr.Observe("iteration 2")
	require.True(t, ok)
	require.NotNil(t, upd.TotalIterations)
	assert.Equal(t, 500, *upd.TotalIterations)

	require.NotNil(t, tr.Total())
	assert.Equal(t, 500, *tr.Total())
}

func TestNew_CustomPattern(t *testing.T) {
	tr, err := New(`step (\d+)`)
	require.NoError(t, err)

	upd, ok := tr.Observe("step 9 done")
	require.True(t, ok)
	assert.Equal(t, 9, upd.Iteration)
	assert.Nil(t, upd.TotalIterations)
}

func TestNew_RejectsBadPatterns(t *testing.T) {
	_, err := New("[unclosed")
	require.Error(t, err)

	// A pattern with no capture group cannot report an iteration.
	_, err = New("iteration")
	require.Error(t, err)
}
