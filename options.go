package blobcache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/flashdb/pcache/internal/config"
	"github.com/flashdb/pcache/internal/logging"
	"github.com/flashdb/pcache/internal/workqueue"
)

// Minimum floors applied by Normalize, mirroring the original source's
// SPTPersistentDataCacheMinimumGCIntervalLimit /
// SPTPersistentDataCacheMinimumExpirationLimit.
const (
	MinGarbageCollectionInterval = 60 * time.Second
	MinDefaultExpirationPeriod   = 60 * time.Second
)

// Options configures a Cache. CachePath is the only required field; every
// other field has a documented default applied by Normalize.
type Options struct {
	// CachePath is the cache root directory. Required.
	CachePath string

	// CacheIdentifier names the cache instance; used as a Prometheus const
	// label and in the "cache opened" log line. The work queue itself
	// carries no name.
	CacheIdentifier string

	// UseDirectorySeparation splits records into two-character-prefix
	// subdirectories under CachePath. Default true.
	UseDirectorySeparation bool

	// GarbageCollectionInterval is how often ScheduleGC runs a sweep.
	// Floored at MinGarbageCollectionInterval. Default 60s.
	GarbageCollectionInterval time.Duration

	// DefaultExpirationPeriod is the age at which a ttl==0 record expires.
	// Floored at MinDefaultExpirationPeriod. Default 10 minutes.
	DefaultExpirationPeriod time.Duration

	// SizeConstraintBytes bounds total on-disk size; 0 = unbounded.
	SizeConstraintBytes uint64

	// MaxConcurrentOperations sizes the work queue's worker pool. Default 4.
	MaxConcurrentOperations int

	// Priorities for each operation class. Defaults: write/read/delete =
	// PriorityDefault, garbageCollection = PriorityLow.
	WritePriority             workqueue.Priority
	ReadPriority              workqueue.Priority
	DeletePriority            workqueue.Priority
	GarbageCollectionPriority workqueue.Priority

	// DebugOutput, when non-nil, receives one formatted line per
	// diagnostic event: every queued/starting/finished transition, every
	// anomalous condition (corrupt record, GC sweep failure or unmet size
	// target), and GC sweep start/finish.
	DebugOutput func(line string)

	// TimingCallback, when non-nil, is invoked at the Queued, Starting,
	// and Finished transition of every operation.
	TimingCallback func(op, key, transition string)

	// Now is the injectable clock. Default time.Now().Unix.
	Now func() int64

	// FS is the injectable filesystem. Default afero.NewOsFs().
	FS afero.Fs

	// Logger is the ambient structured logger. Default a no-op logger.
	Logger *zap.Logger

	// PrometheusRegisterer, when non-nil, registers Prometheus collectors
	// for queue depth, operation counts, and GC outcomes.
	PrometheusRegisterer prometheus.Registerer

	// HotKeyTopN sizes the hot-key tracker. Default 100.
	HotKeyTopN int

	// SweepHistoryRetention bounds how long GC sweep history is kept.
	// Default 1 hour.
	SweepHistoryRetention time.Duration

	// DiagRingBufferCapacity sizes the in-process diagnostic ring buffer.
	// Default 1024.
	DiagRingBufferCapacity int
}

// Normalize fills every unset field with its documented default and
// floors the GC interval and expiration period, matching the original
// source's clamp behavior. It returns a new Options and never mutates o.
func (o Options) Normalize() Options {
	n := o

	if n.CacheIdentifier == "" {
		n.CacheIdentifier = "persistent.cache"
	}
	if n.GarbageCollectionInterval <= 0 {
		n.GarbageCollectionInterval = 60 * time.Second
	}
	if n.GarbageCollectionInterval < MinGarbageCollectionInterval {
		n.GarbageCollectionInterval = MinGarbageCollectionInterval
	}
	if n.DefaultExpirationPeriod <= 0 {
		n.DefaultExpirationPeriod = 10 * time.Minute
	}
	if n.DefaultExpirationPeriod < MinDefaultExpirationPeriod {
		n.DefaultExpirationPeriod = MinDefaultExpirationPeriod
	}
	if n.MaxConcurrentOperations <= 0 {
		n.MaxConcurrentOperations = 4
	}
	if n.Now == nil {
		n.Now = func() int64 { return time.Now().Unix() }
	}
	if n.FS == nil {
		n.FS = afero.NewOsFs()
	}
	if n.Logger == nil {
		n.Logger = zap.NewNop()
	}
	if n.HotKeyTopN <= 0 {
		n.HotKeyTopN = 100
	}
	if n.SweepHistoryRetention <= 0 {
		n.SweepHistoryRetention = time.Hour
	}
	if n.DiagRingBufferCapacity <= 0 {
		n.DiagRingBufferCapacity = 1024
	}
	return n
}

// NewOptions returns Options for cachePath with every documented default
// applied, including UseDirectorySeparation = true. Options{} zero value
// defaults UseDirectorySeparation to false, since Go has no "unset bool";
// callers who build Options by hand rather than through NewOptions must
// set it explicitly.
func NewOptions(cachePath string) Options {
	o := Options{
		CachePath:              cachePath,
		UseDirectorySeparation: true,
	}
	return o.Normalize()
}

// LoadOptionsFromFile reads a JSON config.FileConfig from path (a missing
// file yields its documented defaults) and overlays it onto NewOptions,
// then builds the logger from its LogLevel field. Go-only fields (Now,
// FS, Logger override, callbacks, PrometheusRegisterer) are left for the
// caller to set afterward on the returned Options.
func LoadOptionsFromFile(path string) (Options, error) {
	fc, err := config.Load(path)
	if err != nil {
		return Options{}, err
	}

	o := NewOptions(fc.CachePath)
	o.CacheIdentifier = fc.CacheIdentifier
	o.UseDirectorySeparation = fc.UseDirectorySeparation
	o.GarbageCollectionInterval = fc.GarbageCollectionPeriod
	o.DefaultExpirationPeriod = fc.DefaultExpirationPeriod
	o.SizeConstraintBytes = fc.SizeConstraintBytes
	o.MaxConcurrentOperations = fc.MaxConcurrentOperations
	o.Logger = logging.New(fc.LogLevel)
	return o.Normalize(), nil
}
