package hotkeytrack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLoad_CountsAccumulate(t *testing.T) {
	tr := New(10, 0)
	tr.RecordLoad("a")
	tr.RecordLoad("a")
	tr.RecordLoad("b")

	top := tr.Top(10)
	require.Len(t, top, 2)
	assert.Equal(t, "a", top[0].Key)
	assert.Equal(t, int64(2), top[0].Count)
}

func TestTop_LimitsToN(t *testing.T) {
	tr := New(10, 0)
	for _, k := range []string{"a", "b", "c"} {
		tr.RecordLoad(k)
	}
	top := tr.Top(2)
	assert.Len(t, top, 2)
}

func TestReset_ClearsCounters(t *testing.T) {
	tr := New(10, 0)
	tr.RecordLoad("a")
	tr.Reset()
	assert.Equal(t, 0, tr.Size())
}

func TestDecayLoop_HalvesCounts(t *testing.T) {
	tr := New(10, 20*time.Millisecond)
	defer tr.Close()
	tr.RecordLoad("a")
	tr.RecordLoad("a")
	tr.RecordLoad("a")
	tr.RecordLoad("a")

	time.Sleep(40 * time.Millisecond)

	top := tr.Top(1)
	require.Len(t, top, 1)
	assert.Less(t, top[0].Count, int64(4))
}

func TestClose_IsIdempotent(t *testing.T) {
	tr := New(10, 5*time.Millisecond)
	tr.Close()
	assert.NotPanics(t, func() { tr.Close() })
}
