package externmem

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func identityMap(key AllocKey) (uintptr, error) {
	return uintptr(key.AllocHandle), nil
}

func noopUnmap(AllocKey, uintptr) {}

func TestGetEntrySingleMappingPerKey(t *testing.T) {
	c := New(4, identityMap, noopUnmap)
	key := AllocKey{AllocHandle: 1, Offset: 0}

	slot1, ptr1, err := c.GetEntry(key)
	require.NoError(t, err)
	slot2, ptr2, err := c.GetEntry(key)
	require.NoError(t, err)

	require.Equal(t, slot1, slot2)
	require.Equal(t, ptr1, ptr2)
	require.Equal(t, 2, c.InFlight(slot1))
}

func TestBufDoneMakesEntryEvictable(t *testing.T) {
	c := New(1, identityMap, noopUnmap)
	k1 := AllocKey{AllocHandle: 1}
	k2 := AllocKey{AllocHandle: 2}

	slot, _, err := c.GetEntry(k1)
	require.NoError(t, err)

	// Only slot is in flight; a second distinct key has nowhere to go.
	_, _, err = c.GetEntry(k2)
	require.Error(t, err)

	got, err := c.BufDone(slot)
	require.NoError(t, err)
	require.Equal(t, k1, got)

	// Now idle, so it's evictable for a different key.
	_, _, err = c.GetEntry(k2)
	require.NoError(t, err)
}

func TestBufDoneAlreadyZeroIsRejected(t *testing.T) {
	c := New(1, identityMap, noopUnmap)
	slot, _, err := c.GetEntry(AllocKey{AllocHandle: 1})
	require.NoError(t, err)
	_, err = c.BufDone(slot)
	require.NoError(t, err)
	_, err = c.BufDone(slot)
	require.Error(t, err)
}

func TestBufDoneUnknownSlotIsNotExist(t *testing.T) {
	c := New(2, identityMap, noopUnmap)
	_, err := c.BufDone(1)
	require.Error(t, err)
}

// TestExternMemLRUScenario mirrors spec §4.8's worked example: cache size
// 32, 33 distinct writes none completing, the 33rd fails with NORESOURCE;
// after the first completes, the retried 33rd succeeds and reuses slot 0.
func TestExternMemLRUScenario(t *testing.T) {
	c := New(32, identityMap, noopUnmap)

	var firstSlot uint32
	for i := uint64(1); i <= 32; i++ {
		slot, _, err := c.GetEntry(AllocKey{AllocHandle: i})
		require.NoError(t, err)
		if i == 1 {
			firstSlot = slot
		}
	}

	_, _, err := c.GetEntry(AllocKey{AllocHandle: 33})
	require.Error(t, err)

	_, err = c.BufDone(firstSlot)
	require.NoError(t, err)

	slot, _, err := c.GetEntry(AllocKey{AllocHandle: 33})
	require.NoError(t, err)
	require.Equal(t, firstSlot, slot)
}

func TestConcurrentGetEntrySameKeyWaitsForWinner(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	blockingMap := func(key AllocKey) (uintptr, error) {
		once.Do(func() { close(started) })
		<-release
		return uintptr(key.AllocHandle), nil
	}

	c := New(4, blockingMap, noopUnmap)
	key := AllocKey{AllocHandle: 7}

	var wg sync.WaitGroup
	results := make([]uintptr, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ptr, err := c.GetEntry(key)
			results[i], errs[i] = ptr, err
		}(i)
	}

	<-started
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, results[0], results[1])
	require.Equal(t, 2, c.InFlight(0))
}
