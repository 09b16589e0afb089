package runtime

import (
	"testing"

	"github.com/acdbrt/acdbrt/internal/externmem"
	"github.com/acdbrt/acdbrt/internal/shmem"
	"github.com/stretchr/testify/require"
)

func TestExternCacheGetEntryThenBufDone(t *testing.T) {
	sm := shmem.New()
	cache := newExternCache(4, sm)

	key := externmem.AllocKey{AllocHandle: 1, Offset: 0}
	slot, ptr, err := cache.GetEntry(key)
	require.NoError(t, err)
	require.NotZero(t, ptr)

	_, err = cache.BufDone(slot)
	require.NoError(t, err)
}
