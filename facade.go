// Package blobcache is an on-disk, key-addressed blob cache: one file per
// key holding a fixed 64-byte CRC-protected header followed by an opaque
// payload, with ref-count pinning and TTL/size-bounded garbage
// collection. The filesystem is the index — there is no secondary index
// file. Every public operation is enqueued on a serializing work queue
// and its Response is delivered asynchronously to a caller-supplied
// dispatch target, never invoked inline from the calling goroutine.
package blobcache

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/flashdb/pcache/internal/cachetypes"
	"github.com/flashdb/pcache/internal/diag"
	"github.com/flashdb/pcache/internal/gc"
	"github.com/flashdb/pcache/internal/hotkeytrack"
	"github.com/flashdb/pcache/internal/layout"
	"github.com/flashdb/pcache/internal/metricsx"
	"github.com/flashdb/pcache/internal/recordstore"
	"github.com/flashdb/pcache/internal/sweepstats"
	"github.com/flashdb/pcache/internal/version"
	"github.com/flashdb/pcache/internal/workqueue"
)

// Cache is a single on-disk blob cache instance, exclusive to one cache
// root directory.
type Cache struct {
	opts Options

	layout  *layout.Layout
	store   *recordstore.Store
	gc      *gc.Collector
	queue   *workqueue.Queue
	hotkeys *hotkeytrack.Tracker
	sweeps  *sweepstats.History
	metrics *metricsx.Collectors
	diag    *diag.Stream
	log     *zap.Logger

	dispatchCh   chan func()
	dispatchDone chan struct{}

	gcMu      sync.Mutex
	gcRunning bool
	gcStop    chan struct{}
	gcDone    chan struct{}
}

// New constructs a Cache rooted at opts.CachePath, applying Options.Normalize.
func New(opts Options) (*Cache, error) {
	o := opts.Normalize()
	if o.CachePath == "" {
		return nil, cachetypes.ErrInternalInconsistency
	}

	l := layout.New(o.CachePath, o.UseDirectorySeparation, o.FS)
	if err := l.CreateCacheDirectory(); err != nil {
		return nil, cachetypes.WrapPOSIX("create cache directory", err)
	}

	diagStream := diag.NewStream(o.DiagRingBufferCapacity)
	diagStream.Sink = o.DebugOutput

	c := &Cache{
		opts:         o,
		layout:       l,
		hotkeys:      hotkeytrack.New(o.HotKeyTopN, 0),
		sweeps:       sweepstats.NewHistory(o.SweepHistoryRetention),
		metrics:      metricsx.New(o.PrometheusRegisterer, o.CacheIdentifier),
		diag:         diagStream,
		log:          o.Logger,
		dispatchCh:   make(chan func(), 256),
		dispatchDone: make(chan struct{}),
	}

	c.store = recordstore.New(l, o.Now, int64(o.DefaultExpirationPeriod.Seconds()), diagStream)
	c.gc = gc.New(l, o.Now, int64(o.DefaultExpirationPeriod.Seconds()), o.SizeConstraintBytes, c.sweeps, diagStream)

	c.log.Info("cache opened",
		zap.String("path", o.CachePath),
		zap.String("identifier", o.CacheIdentifier),
		zap.Bool("directorySeparation", o.UseDirectorySeparation),
		zap.Uint64("sizeConstraintBytes", o.SizeConstraintBytes),
		zap.String("version", version.Version),
	)

	c.queue = workqueue.New(o.MaxConcurrentOperations, workqueue.Hooks{
		OnQueued: func(op workqueue.Op, key string) {
			c.metrics.QueueDepth.Inc()
			c.onTransition(diag.KindQueued, "queued")(op, key)
		},
		OnStarting: c.onTransition(diag.KindStarting, "starting"),
		OnFinished: func(op workqueue.Op, key string) {
			c.metrics.QueueDepth.Dec()
			c.onTransition(diag.KindFinished, "finished")(op, key)
		},
	})

	go c.dispatchLoop()
	return c, nil
}

// Close drains the work queue and stops background goroutines (the
// default dispatch loop and a scheduled GC ticker if any), then closes the
// hot-key tracker, which runs no decay goroutine in a Cache.
func (c *Cache) Close() {
	c.UnscheduleGC()
	c.queue.Close()
	c.hotkeys.Close()
	close(c.dispatchCh)
	<-c.dispatchDone
	c.log.Info("cache closed", zap.String("path", c.opts.CachePath))
}

func (c *Cache) dispatchLoop() {
	defer close(c.dispatchDone)
	for fn := range c.dispatchCh {
		fn()
	}
}

// defaultDispatch posts fn to the cache's single background dispatch
// goroutine, used whenever a caller does not supply its own target.
func (c *Cache) defaultDispatch(fn func()) {
	c.dispatchCh <- fn
}

func (c *Cache) resolveDispatch(dispatch func(func())) func(func()) {
	if dispatch != nil {
		return dispatch
	}
	return c.defaultDispatch
}

// onTransition builds a workqueue hook for one lifecycle transition
// (queued/starting/finished): it pushes the transition onto the
// diagnostic stream (so Options.DebugOutput/Diagnostics() subscribers
// observe every Queued/Starting/Finished event per spec.md §4.8) and, if
// the caller supplied one, also invokes Options.TimingCallback.
func (c *Cache) onTransition(kind diag.Kind, transition string) func(op workqueue.Op, key string) {
	return func(op workqueue.Op, key string) {
		c.diag.Record(c.opts.Now(), kind, string(op), key, "")
		if c.opts.TimingCallback != nil {
			c.opts.TimingCallback(string(op), key, transition)
		}
	}
}

func (c *Cache) recordMetric(op string, result cachetypes.Result) {
	c.metrics.OpsTotal.WithLabelValues(op, result.String()).Inc()
}

func (c *Cache) debugf(format string, args ...interface{}) {
	if c.opts.DebugOutput == nil {
		return
	}
	c.opts.DebugOutput(fmt.Sprintf(format, args...))
}

// Load reads the record for key, delivering the Response to cb on dispatch
// (or the default background dispatch goroutine if dispatch is nil).
func (c *Cache) Load(key string, cb func(Response), dispatch func(func())) {
	target := c.resolveDispatch(dispatch)
	c.queue.Submit(workqueue.OpLoad, key, c.opts.ReadPriority, false, func() {
		resp := c.store.Load(key)
		c.recordMetric("load", resp.Result)
		if resp.Result == cachetypes.Succeeded {
			c.hotkeys.RecordLoad(key)
		}
		if cb != nil {
			target(func() { cb(resp) })
		}
	})
}

// LoadWithPrefix enumerates keys beginning with prefix, lets chooseKey
// (invoked on the worker) pick one, and loads it.
func (c *Cache) LoadWithPrefix(prefix string, chooseKey func([]string) (string, bool), cb func(Response), dispatch func(func())) {
	target := c.resolveDispatch(dispatch)
	c.queue.Submit(workqueue.OpLoad, "", c.opts.ReadPriority, false, func() {
		resp := c.store.LoadWithPrefix(prefix, chooseKey)
		c.recordMetric("load_with_prefix", resp.Result)
		if resp.Result == cachetypes.Succeeded {
			c.hotkeys.RecordLoad(resp.Record.Key)
		}
		if cb != nil {
			target(func() { cb(resp) })
		}
	})
}

// Store writes data for key with the default expiration policy (ttl=0).
func (c *Cache) Store(key string, data []byte, locked bool, cb func(Response), dispatch func(func())) {
	c.StoreWithTTL(key, data, 0, locked, cb, dispatch)
}

// StoreWithTTL writes data for key with an explicit ttl (0 = default
// expiration policy). locked sets the stored record's refCount to 1;
// unlocked sets it to 0, overwriting any previous refCount.
func (c *Cache) StoreWithTTL(key string, data []byte, ttl int64, locked bool, cb func(Response), dispatch func(func())) {
	target := c.resolveDispatch(dispatch)
	c.queue.Submit(workqueue.OpStore, key, c.opts.WritePriority, false, func() {
		resp := c.store.Store(key, data, ttl, locked)
		c.recordMetric("store", resp.Result)
		if resp.Result == cachetypes.OperationError {
			c.debugf("store key=%q failed: %v", key, resp.Err)
			c.log.Warn("store failed", zap.String("key", key), zap.Error(resp.Err))
		}
		if cb != nil {
			target(func() { cb(resp) })
		}
	})
}

// Touch refreshes key's access time when it uses the default expiration
// policy; it is a no-op (but still Succeeded) when the record has a fixed ttl.
func (c *Cache) Touch(key string, cb func(Response), dispatch func(func())) {
	target := c.resolveDispatch(dispatch)
	c.queue.Submit(workqueue.OpTouch, key, c.opts.WritePriority, false, func() {
		resp := c.store.Touch(key)
		c.recordMetric("touch", resp.Result)
		if cb != nil {
			target(func() { cb(resp) })
		}
	})
}

// Remove unconditionally deletes the record for each key. Each key is an
// independent operation: partial failure leaves earlier successes applied.
func (c *Cache) Remove(keys []string, cb func([]KeyResult), dispatch func(func())) {
	c.batchByKey(workqueue.OpRemove, keys, c.opts.DeletePriority, "remove", func(key string) cachetypes.Response {
		return c.store.Remove([]string{key})[0].Response
	}, cb, dispatch)
}

// Lock increments refCount for each key independently.
func (c *Cache) Lock(keys []string, cb func([]KeyResult), dispatch func(func())) {
	c.batchByKey(workqueue.OpLock, keys, c.opts.WritePriority, "lock", func(key string) cachetypes.Response {
		return c.store.Lock([]string{key})[0].Response
	}, cb, dispatch)
}

// Unlock decrements refCount for each key independently. Unlocking a
// record whose refCount is already zero aborts the process.
func (c *Cache) Unlock(keys []string, cb func([]KeyResult), dispatch func(func())) {
	c.batchByKey(workqueue.OpUnlock, keys, c.opts.WritePriority, "unlock", func(key string) cachetypes.Response {
		return c.store.Unlock([]string{key})[0].Response
	}, cb, dispatch)
}

// batchByKey submits one independent work item per key so that distinct
// keys within the same batch call can interleave with unrelated
// operations at per-key granularity, then aggregates every per-key result
// before invoking cb exactly once.
func (c *Cache) batchByKey(op workqueue.Op, keys []string, priority workqueue.Priority, metricName string, do func(key string) cachetypes.Response, cb func([]KeyResult), dispatch func(func())) {
	target := c.resolveDispatch(dispatch)
	if len(keys) == 0 {
		if cb != nil {
			target(func() { cb(nil) })
		}
		return
	}

	results := make([]KeyResult, len(keys))
	var mu sync.Mutex
	remaining := len(keys)

	for i, key := range keys {
		i, key := i, key
		c.queue.Submit(op, key, priority, false, func() {
			resp := do(key)
			c.recordMetric(metricName, resp.Result)

			mu.Lock()
			results[i] = KeyResult{Key: key, Response: resp}
			remaining--
			done := remaining == 0
			mu.Unlock()

			if done && cb != nil {
				target(func() { cb(results) })
			}
		})
	}
}

// Prune removes every record in the cache.
func (c *Cache) Prune(cb func(error), dispatch func(func())) {
	target := c.resolveDispatch(dispatch)
	c.queue.Submit(workqueue.OpPrune, "", c.opts.DeletePriority, false, func() {
		err := c.store.Prune()
		if cb != nil {
			target(func() { cb(err) })
		}
	})
}

// WipeLocked removes every record whose refCount > 0.
func (c *Cache) WipeLocked(cb func(error), dispatch func(func())) {
	target := c.resolveDispatch(dispatch)
	c.queue.Submit(workqueue.OpPrune, "", c.opts.DeletePriority, false, func() {
		err := c.store.WipeLocked()
		if cb != nil {
			target(func() { cb(err) })
		}
	})
}

// WipeUnlocked removes every record whose refCount == 0.
func (c *Cache) WipeUnlocked(cb func(error), dispatch func(func())) {
	target := c.resolveDispatch(dispatch)
	c.queue.Submit(workqueue.OpPrune, "", c.opts.DeletePriority, false, func() {
		err := c.store.WipeUnlocked()
		if cb != nil {
			target(func() { cb(err) })
		}
	})
}

// TotalUsedSizeInBytes synchronously sums the size of every record file.
func (c *Cache) TotalUsedSizeInBytes() (uint64, error) {
	return c.store.TotalUsedSizeInBytes()
}

// LockedItemsSizeInBytes synchronously sums the size of every locked record.
func (c *Cache) LockedItemsSizeInBytes() (uint64, error) {
	return c.store.LockedItemsSizeInBytes()
}

// HotKeys returns the n most-loaded keys, observational only (never
// consulted by any cache operation).
func (c *Cache) HotKeys(n int) []hotkeytrack.Entry {
	return c.hotkeys.Top(n)
}

// SweepHistory returns the bounded history of garbage collection sweeps.
func (c *Cache) SweepHistory() *sweepstats.History {
	return c.sweeps
}

// Diagnostics returns the cache's diagnostic event stream (anomalies,
// operation transitions, GC sweep events), independent of Options.DebugOutput.
func (c *Cache) Diagnostics() *diag.Stream {
	return c.diag
}

// ScheduleGC starts a ticker-driven garbage collection loop at
// Options.GarbageCollectionInterval. Idempotent: a second call while a
// schedule is already active is a no-op. Per spec.md §4.6, the caller
// must not invoke ScheduleGC/UnscheduleGC concurrently with themselves —
// a single mutex-guarded flag serializes such calls; it does not detect or
// reject them.
func (c *Cache) ScheduleGC() {
	c.gcMu.Lock()
	defer c.gcMu.Unlock()
	if c.gcRunning {
		return
	}
	c.gcRunning = true
	c.gcStop = make(chan struct{})
	c.gcDone = make(chan struct{})

	go c.gcLoop(c.gcStop, c.gcDone)
}

// UnscheduleGC stops a running GC ticker loop. Idempotent.
func (c *Cache) UnscheduleGC() {
	c.gcMu.Lock()
	if !c.gcRunning {
		c.gcMu.Unlock()
		return
	}
	c.gcRunning = false
	stop := c.gcStop
	done := c.gcDone
	c.gcMu.Unlock()

	close(stop)
	<-done
}

// RunGCSweepNow enqueues and waits for one garbage collection sweep,
// independent of any scheduled ticker. Useful for tests and for callers
// that want to force a sweep on demand.
func (c *Cache) RunGCSweepNow() {
	c.runGCSweep()
}

func (c *Cache) gcLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.opts.GarbageCollectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.runGCSweep()
		}
	}
}

func (c *Cache) runGCSweep() {
	done := make(chan struct{})
	c.queue.Submit(workqueue.OpGCSweep, "", c.opts.GarbageCollectionPriority, true, func() {
		defer close(done)
		start := time.Now()
		result, err := c.gc.Sweep()
		c.metrics.GCSweepDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			c.debugf("gc sweep failed: %v", err)
			c.log.Error("gc sweep failed", zap.Error(err))
			return
		}
		c.metrics.GCBytesFreedTotal.Add(float64(result.BytesFreed))
		c.log.Info("gc sweep finished",
			zap.Int("recordsExpired", result.RecordsExpired),
			zap.Int("recordsEvicted", result.RecordsEvicted),
			zap.String("bytesFreed", humanize.Bytes(result.BytesFreed)),
			zap.String("bytesRemaining", humanize.Bytes(result.BytesRemaining)),
			zap.Bool("targetUnmet", result.TargetUnmet),
		)
		if result.TargetUnmet {
			c.debugf("gc sweep could not reach size constraint: %s remaining on disk", humanize.Bytes(result.BytesRemaining))
			c.log.Warn("gc sweep could not reach size constraint", zap.String("bytesRemaining", humanize.Bytes(result.BytesRemaining)))
		}
	})
	<-done
}
