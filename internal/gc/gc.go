// Package gc implements the two-phase garbage collection sweep of
// spec.md §4.6: an expiration pass that deletes invalid or expired
// unlocked records, followed by a size-bounded eviction pass that frees
// the oldest unlocked records until the cache is back under its size
// constraint (or every unlocked record has been considered).
package gc

import (
	"io"
	"sort"

	"github.com/flashdb/pcache/internal/diag"
	"github.com/flashdb/pcache/internal/header"
	"github.com/flashdb/pcache/internal/layout"
	"github.com/flashdb/pcache/internal/sweepstats"
)

// Collector runs sweeps against a single cache tree.
type Collector struct {
	Layout              *layout.Layout
	Now                 func() int64
	DefaultExpirationSec int64
	SizeConstraintBytes  uint64 // 0 = unbounded
	History             *sweepstats.History // optional
	Diag                *diag.Stream        // optional
}

// New builds a Collector. history and diagStream may be nil.
func New(l *layout.Layout, now func() int64, defaultExpirationSec int64, sizeConstraintBytes uint64, history *sweepstats.History, diagStream *diag.Stream) *Collector {
	return &Collector{
		Layout:               l,
		Now:                  now,
		DefaultExpirationSec: defaultExpirationSec,
		SizeConstraintBytes:  sizeConstraintBytes,
		History:              history,
		Diag:                 diagStream,
	}
}

// record is one entry discovered while walking the cache tree, with its
// header already read (or a corruption error already classified).
type record struct {
	path    string
	size    int64
	header  header.Header
	corrupt bool
}

// Sweep performs the full two-phase pass and returns its outcome.
func (c *Collector) Sweep() (sweepstats.Sweep, error) {
	now := c.Now()
	c.diagf(diag.KindGCSweep, "gc", "", "sweep starting")

	records, err := c.scan()
	if err != nil {
		return sweepstats.Sweep{}, err
	}

	expired := c.sweepExpired(records, now)

	remaining := make([]record, 0, len(records))
	for _, r := range records {
		if !expired[r.path] {
			remaining = append(remaining, r)
		}
	}

	evicted, bytesFreed, targetUnmet := c.sweepOversize(remaining, now)

	var bytesRemaining uint64
	for _, r := range remaining {
		if !containsPath(evicted, r.path) {
			bytesRemaining += uint64(r.size)
		}
	}

	result := sweepstats.Sweep{
		Timestamp:      now,
		RecordsExpired: len(expired),
		RecordsEvicted: len(evicted),
		BytesFreed:     bytesFreed,
		BytesRemaining: bytesRemaining,
		TargetUnmet:    targetUnmet,
	}
	if c.History != nil {
		c.History.Add(now, result)
	}
	c.diagf(diag.KindGCSweep, "gc", "", "sweep finished")
	return result, nil
}

// scan walks the tree once, reading every record's header.
func (c *Collector) scan() ([]record, error) {
	var records []record
	err := c.Layout.Walk(func(e layout.Entry) error {
		h, err := c.readHeader(e.Path)
		if err != nil {
			records = append(records, record{path: e.Path, size: e.Size, corrupt: true})
			return nil
		}
		records = append(records, record{path: e.Path, size: e.Size, header: h})
		return nil
	})
	return records, err
}

func (c *Collector) readHeader(path string) (header.Header, error) {
	f, err := c.Layout.FS.Open(path)
	if err != nil {
		return header.Header{}, err
	}
	defer f.Close()

	buf := make([]byte, header.Size)
	if _, err := io.ReadFull(f, buf); err != nil {
		return header.Header{}, err
	}
	h, _ := header.Unmarshal(buf)
	if err := header.Validate(h); err != nil {
		return header.Header{}, err
	}
	return h, nil
}

// sweepExpired deletes every corrupt record and every unlocked record
// whose expiration policy (spec.md §3) has elapsed, returning the set of
// paths removed.
func (c *Collector) sweepExpired(records []record, now int64) map[string]bool {
	removed := make(map[string]bool)
	for _, r := range records {
		if r.corrupt {
			c.remove(r.path, "corrupt")
			removed[r.path] = true
			continue
		}
		if r.header.IsLocked() {
			continue
		}
		if c.isExpired(r.header, now) {
			c.remove(r.path, "expired")
			removed[r.path] = true
		}
	}
	return removed
}

func (c *Collector) isExpired(h header.Header, now int64) bool {
	if h.TTLSeconds == 0 {
		return now-h.UpdateTimeSec > c.DefaultExpirationSec
	}
	return now-h.UpdateTimeSec > h.TTLSeconds
}

// sweepOversize evicts unlocked records, oldest updateTime first (ties
// broken by path, per spec.md §4.6), until the tree is back under
// SizeConstraintBytes or every unlocked record has been considered.
func (c *Collector) sweepOversize(records []record, now int64) (evicted []string, bytesFreed uint64, targetUnmet bool) {
	var totalSize uint64
	unlocked := make([]record, 0, len(records))
	for _, r := range records {
		totalSize += uint64(r.size)
		if !r.header.IsLocked() {
			unlocked = append(unlocked, r)
		}
	}

	excess := layout.OptimizedDiskSizeForCacheSize(totalSize, c.SizeConstraintBytes)
	if excess <= 0 {
		return nil, 0, false
	}

	sort.Slice(unlocked, func(i, j int) bool {
		if unlocked[i].header.UpdateTimeSec != unlocked[j].header.UpdateTimeSec {
			return unlocked[i].header.UpdateTimeSec < unlocked[j].header.UpdateTimeSec
		}
		return unlocked[i].path < unlocked[j].path
	})

	remainingExcess := excess
	for _, r := range unlocked {
		if remainingExcess <= 0 {
			break
		}
		c.remove(r.path, "size_constraint")
		evicted = append(evicted, r.path)
		bytesFreed += uint64(r.size)
		remainingExcess -= int64(r.size)
	}

	return evicted, bytesFreed, remainingExcess > 0
}

func (c *Collector) remove(path, reason string) {
	_ = c.Layout.FS.Remove(path)
	c.diagf(diag.KindFinished, "gc", path, reason)
}

func (c *Collector) diagf(kind diag.Kind, op, key, msg string) {
	if c.Diag != nil {
		c.Diag.Record(c.Now(), kind, op, key, msg)
	}
}

func containsPath(paths []string, path string) bool {
	for _, p := range paths {
		if p == path {
			return true
		}
	}
	return false
}
