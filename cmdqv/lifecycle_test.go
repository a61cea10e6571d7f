package cmdqv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeBase programs the split base-address register pair for a queue.
func writeBase(t *testing.T, env *testEnv, queue int, base uint64, log2size uint32) {
	t.Helper()

	off := uint64(baseWindow + queue*queueStride)
	env.write(t, off+regQueueBaseLo, 4, base&0xffffffff|uint64(log2size))
	env.write(t, off+regQueueBaseHi, 4, base>>32)
}

func TestBindZeroSizeNeverBinds(t *testing.T) {
	env := newTestDevice(t)

	for _, queue := range []int{0, 5, 127} {
		writeBase(t, env, queue, 0x8000, 0)
	}

	assert.Empty(t, env.vi.allocs)
	assert.Empty(t, env.vi.frees)
}

func TestBindWithoutViommuContext(t *testing.T) {
	env := newTestDevice(t)
	env.noViommu = true

	writeBase(t, env, 3, 0x8000, 12)

	assert.Empty(t, env.vi.allocs)
	assert.Zero(t, env.dev.queueID[3])

	// The owner allocates its context: the next rebind succeeds.
	env.noViommu = false
	env.write(t, baseWindow+3*queueStride+regQueueBaseLo, 4, 12|0x8000)

	require.Len(t, env.vi.allocs, 1)
	assert.NotZero(t, env.dev.queueID[3])
}

func TestBindOutsideGuestRAM(t *testing.T) {
	env := newTestDevice(t)

	writeBase(t, env, 7, env.ramSize+0x1000, 12)

	assert.Empty(t, env.vi.allocs)
	assert.Zero(t, env.dev.queueID[7])
}

func TestBindAssemblesSplitBase(t *testing.T) {
	env := newTestDevice(t)

	// The guest programs queue 2 half by half. The low half alone already
	// describes a valid queue, so the device binds twice, but only the second
	// bind carries the fully assembled 64-bit address.
	env.write(t, baseWindow+2*queueStride+regQueueBaseLo, 4, 12|0x2000)
	env.write(t, baseWindow+2*queueStride+regQueueBaseHi, 4, 0x1)

	require.Len(t, env.vi.allocs, 2)

	assert.Equal(t, fakeAlloc{
		DataType: 1,
		Index:    2,
		Log2Size: 12,
		Base:     0x1_0000_2000,
	}, env.vi.allocs[1])

	var assembled int
	for _, a := range env.vi.allocs {
		if a.Base == 0x1_0000_2000 {
			assembled++
		}
	}
	assert.Equal(t, 1, assembled)

	// The rebind freed the handle from the first half-programmed bind.
	assert.Equal(t, []uint32{1}, env.vi.frees)
	assert.EqualValues(t, 2, env.dev.queueID[2])
}

func TestRebindSurvivesFreeFailure(t *testing.T) {
	env := newTestDevice(t)

	writeBase(t, env, 4, 0x3000, 12)
	require.Len(t, env.vi.allocs, 2) // writeBase touches both halves

	id := env.dev.queueID[4]
	require.NotZero(t, id)

	env.vi.failFree[id] = true
	writeBase(t, env, 4, 0x5000, 13)

	// The stale handle could not be freed, but the queue still rebound.
	assert.Len(t, env.vi.allocs, 4)
	assert.NotEqual(t, id, env.dev.queueID[4])
	assert.NotZero(t, env.dev.queueID[4])
}

func TestAllocFailureLeavesUnbound(t *testing.T) {
	env := newTestDevice(t)
	env.vi.failAlloc = true

	writeBase(t, env, 6, 0x3000, 12)

	assert.Zero(t, env.dev.queueID[6])
	assert.Empty(t, env.vi.frees)

	env.vi.failAlloc = false
	env.write(t, baseWindow+6*queueStride+regQueueBaseLo, 4, 12|0x3000)

	// Nothing stale to free on the way back up.
	assert.Empty(t, env.vi.frees)
	assert.NotZero(t, env.dev.queueID[6])
}

func TestViommuContextIsCachedOnce(t *testing.T) {
	env := newTestDevice(t)

	writeBase(t, env, 1, 0x2000, 12)
	writeBase(t, env, 2, 0x4000, 12)

	assert.Equal(t, 1, env.viommuCalls)
}

func TestResetFreesEveryBoundQueue(t *testing.T) {
	env := newTestDevice(t)

	writeBase(t, env, 3, 0x2000, 12)
	writeBase(t, env, 5, 0x4000, 12)

	id3 := env.dev.queueID[3]
	id5 := env.dev.queueID[5]
	require.NotZero(t, id3)
	require.NotZero(t, id5)

	// One free failing must not skip the other queue.
	env.vi.failFree[id3] = true
	env.dev.Reset()

	assert.Contains(t, env.vi.frees, id3)
	assert.Contains(t, env.vi.frees, id5)

	for i := range env.dev.queueID {
		assert.Zero(t, env.dev.queueID[i], "queue %d still bound", i)
	}
}
