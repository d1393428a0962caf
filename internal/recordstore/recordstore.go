// Package recordstore implements the atomic per-key operations of
// spec.md §4.5: store, load, loadWithPrefix, touch, lock, unlock, remove,
// prune, wipeLocked, wipeUnlocked, and the two synchronous size queries.
// Every operation opens its record file, acts, fsyncs when it wrote, and
// closes — no descriptor is ever held across calls. Per-key atomicity
// across concurrent callers is the work queue's job (internal/workqueue),
// not this package's.
package recordstore

import (
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/flashdb/pcache/internal/cachetypes"
	"github.com/flashdb/pcache/internal/diag"
	"github.com/flashdb/pcache/internal/header"
	"github.com/flashdb/pcache/internal/layout"
	"github.com/flashdb/pcache/internal/posixio"
)

// errFileNotFound is returned internally by the read helpers to
// distinguish "no such record" from every other failure; it never
// escapes this package.
var errFileNotFound = errors.New("recordstore: no such record")

// Store is the on-disk record store bound to one cache root.
type Store struct {
	Layout                *layout.Layout
	Now                   func() int64
	DefaultExpirationSec  int64
	Diag                  *diag.Stream // optional
}

// New builds a Store. diagStream may be nil to disable diagnostics.
func New(l *layout.Layout, now func() int64, defaultExpirationSec int64, diagStream *diag.Stream) *Store {
	return &Store{Layout: l, Now: now, DefaultExpirationSec: defaultExpirationSec, Diag: diagStream}
}

func (s *Store) diagf(kind diag.Kind, op, key, msg string) {
	if s.Diag != nil {
		s.Diag.Record(s.Now(), kind, op, key, msg)
	}
}

// IsExpired reports whether h is expired as of now, per spec.md §3: ttl==0
// measures age against DefaultExpirationSec, otherwise against the
// record's own ttl.
func (s *Store) IsExpired(h header.Header, now int64) bool {
	if h.TTLSeconds == 0 {
		return now-h.UpdateTimeSec > s.DefaultExpirationSec
	}
	return now-h.UpdateTimeSec > h.TTLSeconds
}

// mapCorrupt maps a header validation failure to the cachetypes sentinel
// the caller sees, and marks it as "delete the file" corruption.
func mapCorrupt(err error) (error, bool) {
	switch {
	case errors.Is(err, header.ErrMagicMismatch):
		return cachetypes.ErrMagicMismatch, true
	case errors.Is(err, header.ErrHeaderAlignmentMismatch):
		return cachetypes.ErrHeaderAlignmentMismatch, true
	case errors.Is(err, header.ErrWrongHeaderSize):
		return cachetypes.ErrWrongHeaderSize, true
	case errors.Is(err, header.ErrInvalidHeaderCRC):
		return cachetypes.ErrInvalidHeaderCRC, true
	case errors.Is(err, header.ErrNotEnoughData):
		return cachetypes.ErrNotEnoughDataToGetHeader, true
	case errors.Is(err, errWrongPayloadSize):
		return cachetypes.ErrWrongPayloadSize, true
	default:
		return err, false
	}
}

var errWrongPayloadSize = errors.New("recordstore: wrong payload size")

// readHeaderOnly reads and validates just the 64-byte header at path.
func (s *Store) readHeaderOnly(path string) (header.Header, error) {
	f, err := s.Layout.FS.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return header.Header{}, errFileNotFound
		}
		return header.Header{}, cachetypes.WrapPOSIX("open", err)
	}
	defer f.Close()

	buf := make([]byte, header.Size)
	if _, err := io.ReadFull(f, buf); err != nil {
		return header.Header{}, header.ErrNotEnoughData
	}
	h, _ := header.Unmarshal(buf)
	if verr := header.Validate(h); verr != nil {
		return h, verr
	}
	return h, nil
}

// readHeaderAndPayload reads the header and exactly PayloadSizeBytes of
// payload that follows it.
func (s *Store) readHeaderAndPayload(path string) (header.Header, []byte, error) {
	f, err := s.Layout.FS.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return header.Header{}, nil, errFileNotFound
		}
		return header.Header{}, nil, cachetypes.WrapPOSIX("open", err)
	}
	defer f.Close()

	buf := make([]byte, header.Size)
	if _, err := io.ReadFull(f, buf); err != nil {
		return header.Header{}, nil, header.ErrNotEnoughData
	}
	h, _ := header.Unmarshal(buf)
	if verr := header.Validate(h); verr != nil {
		return h, nil, verr
	}

	payload := make([]byte, h.PayloadSizeBytes)
	if _, err := io.ReadFull(f, payload); err != nil {
		return h, nil, errWrongPayloadSize
	}
	return h, payload, nil
}

// rewriteHeader overwrites just the header bytes of an existing record
// file, recomputing CRC, then fsyncs.
func (s *Store) rewriteHeader(path string, h header.Header) error {
	f, err := s.Layout.FS.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return cachetypes.WrapPOSIX("rewrite header", err)
	}
	if _, err := f.WriteAt(h.Marshal(), 0); err != nil {
		f.Close()
		return cachetypes.WrapPOSIX("rewrite header", err)
	}
	if err := posixio.SyncFile(f); err != nil {
		f.Close()
		return cachetypes.WrapPOSIX("rewrite header", err)
	}
	return f.Close()
}

// purgeCorrupt removes a record file found to be corrupt and emits a
// diagnostic anomaly event, per spec.md §7's "the file to be deleted and
// the operation to report the corresponding error code".
func (s *Store) purgeCorrupt(op, key, path string, err error) {
	_ = s.Layout.FS.Remove(path)
	s.diagf(diag.KindAnomaly, op, key, err.Error())
}

// Store writes a new record for key, overwriting any existing one. It sets
// refCount absolutely (1 if locked, else 0) per spec.md §4.5/§9.
func (s *Store) Store(key string, data []byte, ttl int64, locked bool) cachetypes.Response {
	now := s.Now()
	h := header.Make(ttl, uint64(len(data)), now, locked)

	path, err := s.Layout.PathForKey(key)
	if err != nil {
		return opError(cachetypes.WrapPOSIX("mkdir", err))
	}

	f, err := s.Layout.FS.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return opError(cachetypes.WrapPOSIX("create", err))
	}

	buf := append(h.Marshal(), data...)
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return opError(cachetypes.WrapPOSIX("write", err))
	}
	if err := posixio.SyncFile(f); err != nil {
		f.Close()
		return opError(cachetypes.WrapPOSIX("fsync", err))
	}
	if err := f.Close(); err != nil {
		return opError(cachetypes.WrapPOSIX("close", err))
	}
	_ = posixio.SyncDir(s.Layout.FS, s.Layout.SubDirectoryPathForKey(key))

	s.diagf(diag.KindFinished, "store", key, "stored")
	return cachetypes.Response{Result: cachetypes.Succeeded}
}

// Load reads and returns a record, refreshing its access time when the
// record uses the default (ttl==0) expiration policy. Missing,
// stream-incomplete, and expired-unlocked records report NotFound; a
// corrupt record is purged and reports the specific OperationError.
func (s *Store) Load(key string) cachetypes.Response {
	path := s.Layout.RecordPath(key)
	h, payload, err := s.readHeaderAndPayload(path)
	if err != nil {
		if errors.Is(err, errFileNotFound) {
			return cachetypes.Response{Result: cachetypes.NotFound}
		}
		if mapped, corrupt := mapCorrupt(err); corrupt {
			s.purgeCorrupt("load", key, path, mapped)
			return opError(mapped)
		}
		return opError(err)
	}

	if h.IsStreamIncomplete() {
		return cachetypes.Response{Result: cachetypes.NotFound}
	}

	now := s.Now()
	if !h.IsLocked() && s.IsExpired(h, now) {
		return cachetypes.Response{Result: cachetypes.NotFound}
	}

	if h.TTLSeconds == 0 {
		h.UpdateTimeSec = now
		if err := s.rewriteHeader(path, h); err != nil {
			return opError(err)
		}
	}

	s.diagf(diag.KindFinished, "load", key, "loaded")
	return cachetypes.Response{
		Result: cachetypes.Succeeded,
		Record: &cachetypes.Record{Key: key, Data: payload, RefCount: h.RefCount, TTL: h.TTLSeconds},
	}
}

// LoadWithPrefix enumerates keys beginning with prefix, lets chooseKey pick
// one, and delegates to Load. chooseKey returning ok==false yields NotFound.
func (s *Store) LoadWithPrefix(prefix string, chooseKey func(candidates []string) (string, bool)) cachetypes.Response {
	candidates, err := s.Layout.KeysWithPrefix(prefix)
	if err != nil {
		return opError(cachetypes.WrapPOSIX("list", err))
	}
	chosen, ok := chooseKey(candidates)
	if !ok {
		return cachetypes.Response{Result: cachetypes.NotFound}
	}
	return s.Load(chosen)
}

// Touch refreshes a record's access time when ttl==0, no-ops (but still
// succeeds) when ttl>0, per spec.md §9's adopted answer to the open
// question about touch's TTL semantics.
func (s *Store) Touch(key string) cachetypes.Response {
	path := s.Layout.RecordPath(key)
	h, err := s.readHeaderOnly(path)
	if err != nil {
		if errors.Is(err, errFileNotFound) {
			return cachetypes.Response{Result: cachetypes.NotFound}
		}
		if mapped, corrupt := mapCorrupt(err); corrupt {
			s.purgeCorrupt("touch", key, path, mapped)
			return opError(mapped)
		}
		return opError(err)
	}

	now := s.Now()
	if !h.IsLocked() && s.IsExpired(h, now) {
		return cachetypes.Response{Result: cachetypes.NotFound}
	}
	if h.TTLSeconds != 0 {
		return cachetypes.Response{Result: cachetypes.Succeeded}
	}

	h.UpdateTimeSec = now
	if err := s.rewriteHeader(path, h); err != nil {
		return opError(err)
	}
	return cachetypes.Response{Result: cachetypes.Succeeded}
}

// Lock increments refCount for each key independently; partial failure
// leaves earlier successes applied (spec.md §5's no-cross-key-atomicity
// rule).
func (s *Store) Lock(keys []string) []cachetypes.KeyResult {
	results := make([]cachetypes.KeyResult, len(keys))
	for i, key := range keys {
		results[i] = cachetypes.KeyResult{Key: key, Response: s.lockOne(key)}
	}
	return results
}

func (s *Store) lockOne(key string) cachetypes.Response {
	path := s.Layout.RecordPath(key)
	h, err := s.readHeaderOnly(path)
	if err != nil {
		if errors.Is(err, errFileNotFound) {
			return cachetypes.Response{Result: cachetypes.NotFound}
		}
		if mapped, corrupt := mapCorrupt(err); corrupt {
			s.purgeCorrupt("lock", key, path, mapped)
			return opError(mapped)
		}
		return opError(err)
	}

	now := s.Now()
	if !h.IsLocked() && s.IsExpired(h, now) {
		return cachetypes.Response{Result: cachetypes.NotFound}
	}

	h.RefCount++
	if err := s.rewriteHeader(path, h); err != nil {
		return opError(err)
	}
	return cachetypes.Response{Result: cachetypes.Succeeded, Record: &cachetypes.Record{Key: key, RefCount: h.RefCount, TTL: h.TTLSeconds}}
}

// Unlock decrements refCount for each key. Unlocking a record whose
// refCount is already zero is a contract violation per spec.md §7 and
// aborts the process rather than returning a recoverable error.
func (s *Store) Unlock(keys []string) []cachetypes.KeyResult {
	results := make([]cachetypes.KeyResult, len(keys))
	for i, key := range keys {
		results[i] = cachetypes.KeyResult{Key: key, Response: s.unlockOne(key)}
	}
	return results
}

func (s *Store) unlockOne(key string) cachetypes.Response {
	path := s.Layout.RecordPath(key)
	h, err := s.readHeaderOnly(path)
	if err != nil {
		if errors.Is(err, errFileNotFound) {
			return cachetypes.Response{Result: cachetypes.NotFound}
		}
		if mapped, corrupt := mapCorrupt(err); corrupt {
			s.purgeCorrupt("unlock", key, path, mapped)
			return opError(mapped)
		}
		return opError(err)
	}

	if h.RefCount == 0 {
		panic("blobcache: unlock called on key " + key + " with refCount already zero")
	}

	h.RefCount--
	if err := s.rewriteHeader(path, h); err != nil {
		return opError(err)
	}
	return cachetypes.Response{Result: cachetypes.Succeeded, Record: &cachetypes.Record{Key: key, RefCount: h.RefCount, TTL: h.TTLSeconds}}
}

// Remove unconditionally deletes the record file for each key.
func (s *Store) Remove(keys []string) []cachetypes.KeyResult {
	results := make([]cachetypes.KeyResult, len(keys))
	for i, key := range keys {
		if err := s.Layout.RemoveDataForKey(key); err != nil {
			results[i] = cachetypes.KeyResult{Key: key, Response: opError(cachetypes.WrapPOSIX("remove", err))}
			continue
		}
		results[i] = cachetypes.KeyResult{Key: key, Response: cachetypes.Response{Result: cachetypes.Succeeded}}
	}
	return results
}

// Prune removes every record in the cache tree.
func (s *Store) Prune() error {
	return s.Layout.RemoveAllData()
}

// WipeLocked removes every record whose refCount > 0.
func (s *Store) WipeLocked() error {
	return s.wipeWhere(func(locked bool) bool { return locked })
}

// WipeUnlocked removes every record whose refCount == 0 (corrupt records,
// which cannot be proven locked, are treated as unlocked and removed).
func (s *Store) WipeUnlocked() error {
	return s.wipeWhere(func(locked bool) bool { return !locked })
}

func (s *Store) wipeWhere(match func(locked bool) bool) error {
	var toRemove []string
	err := s.Layout.Walk(func(e layout.Entry) error {
		h, err := s.readHeaderOnly(e.Path)
		locked := err == nil && h.IsLocked()
		if match(locked) {
			toRemove = append(toRemove, e.Path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, path := range toRemove {
		if err := s.Layout.FS.Remove(path); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, errors.Wrapf(err, "remove %s", path))
		}
	}
	return result.ErrorOrNil()
}

// TotalUsedSizeInBytes sums the size of every record file in the tree.
func (s *Store) TotalUsedSizeInBytes() (uint64, error) {
	return s.Layout.TotalUsedSizeInBytes()
}

// LockedItemsSizeInBytes sums the size of every record whose refCount > 0.
func (s *Store) LockedItemsSizeInBytes() (uint64, error) {
	var total uint64
	err := s.Layout.Walk(func(e layout.Entry) error {
		h, err := s.readHeaderOnly(e.Path)
		if err != nil {
			return nil // unreadable/corrupt entries don't count as locked
		}
		if h.IsLocked() {
			total += uint64(e.Size)
		}
		return nil
	})
	return total, err
}

func opError(err error) cachetypes.Response {
	return cachetypes.Response{Result: cachetypes.OperationError, Err: err}
}
