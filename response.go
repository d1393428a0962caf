package blobcache

import "github.com/flashdb/pcache/internal/cachetypes"

// Result is the outcome of a cache operation.
type Result = cachetypes.Result

const (
	Succeeded      = cachetypes.Succeeded
	NotFound       = cachetypes.NotFound
	OperationError = cachetypes.OperationError
)

// Record is the payload-bearing half of a successful load Response.
type Record = cachetypes.Record

// Response is what every public cache operation ultimately delivers.
type Response = cachetypes.Response

// KeyResult pairs a key with its individual Response, for the per-key
// batch operations (Lock/Unlock/Remove).
type KeyResult = cachetypes.KeyResult
