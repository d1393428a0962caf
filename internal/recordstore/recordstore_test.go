package recordstore

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashdb/pcache/internal/cachetypes"
	"github.com/flashdb/pcache/internal/header"
	"github.com/flashdb/pcache/internal/layout"
)

func newTestStore(now func() int64, defaultExpirationSec int64) *Store {
	l := layout.New("/cache", true, afero.NewMemMapFs())
	return New(l, now, defaultExpirationSec, nil)
}

func clockAt(t int64) func() int64 { return func() int64 { return t } }

func TestStore_StoreAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(clockAt(1000), 600)
	resp := s.Store("abcdef", []byte("hello"), 0, false)
	require.Equal(t, cachetypes.Succeeded, resp.Result)

	loaded := s.Load("abcdef")
	require.Equal(t, cachetypes.Succeeded, loaded.Result)
	require.NotNil(t, loaded.Record)
	assert.Equal(t, []byte("hello"), loaded.Record.Data)
	assert.EqualValues(t, 0, loaded.Record.RefCount)
}

func TestStore_StoreLockedSetsRefCountOne(t *testing.T) {
	s := newTestStore(clockAt(1000), 600)
	resp := s.Store("abcdef", []byte("x"), 0, true)
	require.Equal(t, cachetypes.Succeeded, resp.Result)

	loaded := s.Load("abcdef")
	require.Equal(t, cachetypes.Succeeded, loaded.Result)
	assert.EqualValues(t, 1, loaded.Record.RefCount)
}

func TestStore_LoadMissingKeyReturnsNotFound(t *testing.T) {
	s := newTestStore(clockAt(1000), 600)
	resp := s.Load("nosuchkey")
	assert.Equal(t, cachetypes.NotFound, resp.Result)
	assert.Nil(t, resp.Record)
}

func TestStore_DefaultExpirationEvictsUnlockedRecord(t *testing.T) {
	now := int64(1000)
	s := newTestStore(func() int64 { return now }, 600)
	require.Equal(t, cachetypes.Succeeded, s.Store("abcdef", []byte("x"), 0, false).Result)

	now += 700 // past the 600s default expiration
	resp := s.Load("abcdef")
	assert.Equal(t, cachetypes.NotFound, resp.Result)
}

func TestStore_CustomTTLExpiresIndependentlyOfDefault(t *testing.T) {
	now := int64(1000)
	s := newTestStore(func() int64 { return now }, 600)
	require.Equal(t, cachetypes.Succeeded, s.Store("abcdef", []byte("x"), 10, false).Result)

	now += 20 // past the record's own 10s ttl, well under the 600s default
	resp := s.Load("abcdef")
	assert.Equal(t, cachetypes.NotFound, resp.Result)
}

func TestStore_LockedRecordShieldsAgainstExpiration(t *testing.T) {
	now := int64(1000)
	s := newTestStore(func() int64 { return now }, 600)
	require.Equal(t, cachetypes.Succeeded, s.Store("abcdef", []byte("x"), 0, true).Result)

	now += 10000
	resp := s.Load("abcdef")
	assert.Equal(t, cachetypes.Succeeded, resp.Result)
}

func TestStore_LoadWithDefaultExpirationRefreshesUpdateTime(t *testing.T) {
	now := int64(1000)
	s := newTestStore(func() int64 { return now }, 600)
	require.Equal(t, cachetypes.Succeeded, s.Store("abcdef", []byte("x"), 0, false).Result)

	now += 500 // not yet expired
	require.Equal(t, cachetypes.Succeeded, s.Load("abcdef").Result)

	now += 500 // would have expired from the original updateTime, but load refreshed it
	resp := s.Load("abcdef")
	assert.Equal(t, cachetypes.Succeeded, resp.Result)
}

func TestStore_LoadWithCustomTTLDoesNotRefreshUpdateTime(t *testing.T) {
	now := int64(1000)
	s := newTestStore(func() int64 { return now }, 600)
	require.Equal(t, cachetypes.Succeeded, s.Store("abcdef", []byte("x"), 30, false).Result)

	now += 20
	require.Equal(t, cachetypes.Succeeded, s.Load("abcdef").Result)

	now += 20 // cumulative 40s since the original updateTime, past the fixed 30s ttl
	resp := s.Load("abcdef")
	assert.Equal(t, cachetypes.NotFound, resp.Result)
}

func TestStore_TouchRefreshesOnlyDefaultExpirationRecords(t *testing.T) {
	now := int64(1000)
	s := newTestStore(func() int64 { return now }, 600)
	require.Equal(t, cachetypes.Succeeded, s.Store("abcdef", []byte("x"), 0, false).Result)

	now += 500
	require.Equal(t, cachetypes.Succeeded, s.Touch("abcdef").Result)

	now += 500 // would have expired without the touch refresh
	assert.Equal(t, cachetypes.Succeeded, s.Load("abcdef").Result)
}

func TestStore_TouchOnFixedTTLRecordSucceedsButDoesNotExtendLife(t *testing.T) {
	now := int64(1000)
	s := newTestStore(func() int64 { return now }, 600)
	require.Equal(t, cachetypes.Succeeded, s.Store("abcdef", []byte("x"), 10, false).Result)

	now += 5
	require.Equal(t, cachetypes.Succeeded, s.Touch("abcdef").Result)

	now += 10 // past the original 10s ttl regardless of the touch
	assert.Equal(t, cachetypes.NotFound, s.Load("abcdef").Result)
}

func TestStore_LockThenUnlockRoundTrip(t *testing.T) {
	s := newTestStore(clockAt(1000), 600)
	require.Equal(t, cachetypes.Succeeded, s.Store("abcdef", []byte("x"), 0, false).Result)

	lockResults := s.Lock([]string{"abcdef"})
	require.Len(t, lockResults, 1)
	require.Equal(t, cachetypes.Succeeded, lockResults[0].Response.Result)
	assert.EqualValues(t, 1, lockResults[0].Response.Record.RefCount)

	unlockResults := s.Unlock([]string{"abcdef"})
	require.Equal(t, cachetypes.Succeeded, unlockResults[0].Response.Result)
	assert.EqualValues(t, 0, unlockResults[0].Response.Record.RefCount)
}

func TestStore_UnlockUnderflowPanics(t *testing.T) {
	s := newTestStore(clockAt(1000), 600)
	require.Equal(t, cachetypes.Succeeded, s.Store("abcdef", []byte("x"), 0, false).Result)

	assert.Panics(t, func() {
		s.Unlock([]string{"abcdef"})
	})
}

func TestStore_LockOnExpiredUnlockedRecordReturnsNotFound(t *testing.T) {
	now := int64(1000)
	s := newTestStore(func() int64 { return now }, 600)
	require.Equal(t, cachetypes.Succeeded, s.Store("abcdef", []byte("x"), 0, false).Result)

	now += 700
	results := s.Lock([]string{"abcdef"})
	assert.Equal(t, cachetypes.NotFound, results[0].Response.Result)
}

func TestStore_RemoveIsUnconditional(t *testing.T) {
	s := newTestStore(clockAt(1000), 600)
	require.Equal(t, cachetypes.Succeeded, s.Store("abcdef", []byte("x"), 0, false).Result)

	results := s.Remove([]string{"abcdef", "never-existed"})
	require.Len(t, results, 2)
	assert.Equal(t, cachetypes.Succeeded, results[0].Response.Result)
	assert.Equal(t, cachetypes.Succeeded, results[1].Response.Result)

	assert.Equal(t, cachetypes.NotFound, s.Load("abcdef").Result)
}

func TestStore_CorruptHeaderPurgesFileAndReportsError(t *testing.T) {
	s := newTestStore(clockAt(1000), 600)
	path, err := s.Layout.PathForKey("abcdef")
	require.NoError(t, err)

	garbage := make([]byte, header.Size+5)
	for i := range garbage {
		garbage[i] = 0xFF
	}
	require.NoError(t, afero.WriteFile(s.Layout.FS, path, garbage, 0o644))

	resp := s.Load("abcdef")
	assert.Equal(t, cachetypes.OperationError, resp.Result)
	assert.Error(t, resp.Err)

	exists, err := afero.Exists(s.Layout.FS, path)
	require.NoError(t, err)
	assert.False(t, exists, "corrupt record file should have been purged")
}

func TestStore_StreamIncompleteRecordReadsAsNotFound(t *testing.T) {
	s := newTestStore(clockAt(1000), 600)
	h := header.Make(0, 3, 1000, false)
	h.Flags |= header.FlagStreamIncomplete
	h.CRC = 0 // recomputed by Marshal
	buf := append(h.Marshal(), []byte("xyz")...)

	path, err := s.Layout.PathForKey("abcdef")
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(s.Layout.FS, path, buf, 0o644))

	resp := s.Load("abcdef")
	assert.Equal(t, cachetypes.NotFound, resp.Result)
}

func TestStore_LoadWithPrefixPicksAmongCandidates(t *testing.T) {
	s := newTestStore(clockAt(1000), 600)
	require.Equal(t, cachetypes.Succeeded, s.Store("ab0001", []byte("one"), 0, false).Result)
	require.Equal(t, cachetypes.Succeeded, s.Store("ab0002", []byte("two"), 0, false).Result)
	require.Equal(t, cachetypes.Succeeded, s.Store("cd0003", []byte("three"), 0, false).Result)

	resp := s.LoadWithPrefix("ab", func(candidates []string) (string, bool) {
		for _, c := range candidates {
			if c == "ab0002" {
				return c, true
			}
		}
		return "", false
	})
	require.Equal(t, cachetypes.Succeeded, resp.Result)
	assert.Equal(t, []byte("two"), resp.Record.Data)
}

func TestStore_LoadWithPrefixNoMatchReturnsNotFound(t *testing.T) {
	s := newTestStore(clockAt(1000), 600)
	resp := s.LoadWithPrefix("zz", func(candidates []string) (string, bool) { return "", false })
	assert.Equal(t, cachetypes.NotFound, resp.Result)
}

func TestStore_PruneRemovesEverything(t *testing.T) {
	s := newTestStore(clockAt(1000), 600)
	require.Equal(t, cachetypes.Succeeded, s.Store("ab0001", []byte("one"), 0, false).Result)
	require.Equal(t, cachetypes.Succeeded, s.Store("cd0002", []byte("two"), 0, false).Result)

	require.NoError(t, s.Prune())
	assert.Equal(t, cachetypes.NotFound, s.Load("ab0001").Result)
	assert.Equal(t, cachetypes.NotFound, s.Load("cd0002").Result)
}

func TestStore_WipeLockedAndWipeUnlocked(t *testing.T) {
	s := newTestStore(clockAt(1000), 600)
	require.Equal(t, cachetypes.Succeeded, s.Store("ab0001", []byte("locked"), 0, true).Result)
	require.Equal(t, cachetypes.Succeeded, s.Store("cd0002", []byte("unlocked"), 0, false).Result)

	require.NoError(t, s.WipeUnlocked())
	assert.Equal(t, cachetypes.Succeeded, s.Load("ab0001").Result)
	assert.Equal(t, cachetypes.NotFound, s.Load("cd0002").Result)

	require.NoError(t, s.WipeLocked())
	assert.Equal(t, cachetypes.NotFound, s.Load("ab0001").Result)
}

func TestStore_TotalUsedSizeInBytesSumsRecordFiles(t *testing.T) {
	s := newTestStore(clockAt(1000), 600)
	require.Equal(t, cachetypes.Succeeded, s.Store("ab0001", []byte("12345"), 0, false).Result)
	require.Equal(t, cachetypes.Succeeded, s.Store("cd0002", []byte("1234567890"), 0, false).Result)

	total, err := s.TotalUsedSizeInBytes()
	require.NoError(t, err)
	assert.EqualValues(t, header.Size*2+5+10, total)
}

func TestStore_LockedItemsSizeInBytesCountsOnlyLocked(t *testing.T) {
	s := newTestStore(clockAt(1000), 600)
	require.Equal(t, cachetypes.Succeeded, s.Store("ab0001", []byte("12345"), 0, true).Result)
	require.Equal(t, cachetypes.Succeeded, s.Store("cd0002", []byte("1234567890"), 0, false).Result)

	total, err := s.LockedItemsSizeInBytes()
	require.NoError(t, err)
	assert.EqualValues(t, header.Size+5, total)
}
