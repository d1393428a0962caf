package blobcache

import "github.com/flashdb/pcache/internal/cachetypes"

// Sentinel errors from the corrupt-file taxonomy (spec.md §7), re-exported
// so callers can errors.Is against them without importing an internal
// package.
var (
	ErrMagicMismatch            = cachetypes.ErrMagicMismatch
	ErrHeaderAlignmentMismatch  = cachetypes.ErrHeaderAlignmentMismatch
	ErrWrongHeaderSize          = cachetypes.ErrWrongHeaderSize
	ErrWrongPayloadSize         = cachetypes.ErrWrongPayloadSize
	ErrInvalidHeaderCRC         = cachetypes.ErrInvalidHeaderCRC
	ErrNotEnoughDataToGetHeader = cachetypes.ErrNotEnoughDataToGetHeader
	ErrRecordIsStreamAndBusy    = cachetypes.ErrRecordIsStreamAndBusy
	ErrInternalInconsistency    = cachetypes.ErrInternalInconsistency
)
