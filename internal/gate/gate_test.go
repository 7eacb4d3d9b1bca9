package gate

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/simrunner/internal/core"
)

func TestGate_EnforcesLimit(t *testing.T) {
	g := New(2)

	require.NoError(t, g.Acquire("sim_a"))
	require.NoError(t, g.Acquire("sim_b"))

	err := g.Acquire("sim_c")
	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.CodeCapacityExceeded))
	assert.True(t, core.IsRetryable(err))
	assert.Equal(t, 2, g.InUse())
}

func TestGate_AcquireIdempotentPerID(t *testing.T) {
	g := New(1)

	require.NoError(t, g.Acquire("sim_a"))
	require.NoError(t, g.Acquire("sim_a"), "re-acquiring a held slot is a no-op")
	assert.Equal(t, 1, g.InUse())
}

func TestGate_ReleaseFreesSlot(t *testing.T) {
	g := New(1)

	require.NoError(t, g.Acquire("sim_a"))
	require.Error(t, g.Acquire("sim_b"))

	g.Release("sim_a")
	require.NoError(t, g.Acquire("sim_b"))
}

func TestGate_ReleaseExactlyOnce(t *testing.T) {
	g := New(1)
	require.NoError(t, g.Acquire("sim_a"))

	// Double release must not free capacity twice.
	g.Release("sim_a")
	g.Release("sim_a")
	g.Release("sim_never_held")

	require.NoError(t, g.Acquire("sim_b"))
	require.Error(t, g.Acquire("sim_c"))
}

func TestGate_CoercesZeroLimit(t *testing.T) {
	g := New(0)
	assert.Equal(t, 1, g.Limit())
	require.NoError(t, g.Acquire("sim_a"))
	require.Error(t, g.Acquire("sim_b"))
}

func TestGate_ConcurrentAcquire(t *testing.T) {
	const limit = 3
	g := New(limit)

	var wg sync.WaitGroup
	granted := make(chan core.SimulationID, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := core.SimulationID(fmt.Sprintf("sim_%d", n))
			if g.Acquire(id) == nil {
				granted <- id
			}
		}(i)
	}
	wg.Wait()
	close(granted)

	var held []core.SimulationID
	for id := range granted {
		held = append(held, id)
	}
	assert.Len(t, held, limit)
	assert.Equal(t, limit, g.InUse())
	for _, id := range held {
		assert.True(t, g.Held(id))
	}
}
