// Package header packs, unpacks and validates the fixed 64-byte record
// header that precedes every payload in a blob cache record file.
package header

import (
	"encoding/binary"
	"errors"

	"github.com/flashdb/pcache/internal/crc32table"
)

// Size is the fixed on-disk size of a Header, in bytes.
const Size = 64

// Magic is the constant header magic number.
const Magic uint32 = 0x46545053

// Flag bits for Header.Flags.
const (
	FlagStreamIncomplete uint32 = 1 << 0
)

var (
	// ErrMagicMismatch means the header's magic field is not Magic.
	ErrMagicMismatch = errors.New("header: magic mismatch")
	// ErrHeaderAlignmentMismatch is reserved for platforms where struct
	// alignment would matter; Go's explicit field-by-field decode never
	// produces it, but it is kept so callers can still switch on it.
	ErrHeaderAlignmentMismatch = errors.New("header: alignment mismatch")
	// ErrWrongHeaderSize means the headerSize field is not Size.
	ErrWrongHeaderSize = errors.New("header: wrong header size")
	// ErrInvalidHeaderCRC means the stored CRC does not match the computed one.
	ErrInvalidHeaderCRC = errors.New("header: invalid CRC")
	// ErrNotEnoughData means fewer than Size bytes were supplied.
	ErrNotEnoughData = errors.New("header: not enough data to get header")
)

// Header is the in-memory form of the 64-byte on-disk record header.
type Header struct {
	Magic             uint32
	HeaderSize        uint32
	RefCount          uint32
	reserved1         uint32
	TTLSeconds        int64
	UpdateTimeSec     int64
	PayloadSizeBytes  uint64
	reserved2         uint64
	reserved3         uint32
	reserved4         uint32
	Flags             uint32
	CRC               uint32
}

// Make builds a new Header for a fresh record: refCount is 1 when locked,
// else 0; flags and reserved fields are zero; CRC is computed last.
func Make(ttlSeconds int64, payloadSize uint64, updateTimeSec int64, locked bool) Header {
	h := Header{
		Magic:            Magic,
		HeaderSize:       Size,
		TTLSeconds:       ttlSeconds,
		UpdateTimeSec:    updateTimeSec,
		PayloadSizeBytes: payloadSize,
	}
	if locked {
		h.RefCount = 1
	}
	h.CRC = calculateCRC(h)
	return h
}

// IsLocked reports whether the header's refCount is greater than zero.
func (h Header) IsLocked() bool { return h.RefCount > 0 }

// IsStreamIncomplete reports whether the StreamIncomplete flag is set.
func (h Header) IsStreamIncomplete() bool { return h.Flags&FlagStreamIncomplete != 0 }

// Marshal encodes h into a new 64-byte little-endian buffer, recomputing CRC.
func (h Header) Marshal() []byte {
	h.CRC = calculateCRC(h)
	return encode(h)
}

// GetHeaderFromData returns the decoded header from the first Size bytes of
// buf, iff buf is at least Size bytes long. This mirrors the source's
// "getHeaderFromData" which returns nil/empty when the buffer is too short
// to contain a header at all; full field validation is Validate's job.
func GetHeaderFromData(buf []byte) (Header, bool) {
	if len(buf) < Size {
		return Header{}, false
	}
	return decode(buf[:Size]), true
}

// Unmarshal decodes exactly Size bytes into a Header. It does not validate
// the result; call Validate for that.
func Unmarshal(buf []byte) (Header, error) {
	if len(buf) < Size {
		return Header{}, ErrNotEnoughData
	}
	return decode(buf[:Size]), nil
}

// Validate checks magic, header size, and CRC, in that order, matching the
// source's precedence (the first failing check wins).
func Validate(h Header) error {
	if h.Magic != Magic {
		return ErrMagicMismatch
	}
	if h.HeaderSize != Size {
		return ErrWrongHeaderSize
	}
	if h.CRC != calculateCRC(h) {
		return ErrInvalidHeaderCRC
	}
	return nil
}

// calculateCRC computes the CRC-32 over the header's bytes [0..60), i.e.
// with the CRC field itself treated as zero/omitted.
func calculateCRC(h Header) uint32 {
	buf := encode(h)
	return crc32table.Checksum(buf[:Size-4])
}

// encode writes h's full 64-byte wire representation, CRC field included
// verbatim (callers that need the CRC-input prefix use encode(h)[:Size-4]).
func encode(h Header) []byte {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.HeaderSize)
	binary.LittleEndian.PutUint32(buf[8:12], h.RefCount)
	binary.LittleEndian.PutUint32(buf[12:16], h.reserved1)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.TTLSeconds))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.UpdateTimeSec))
	binary.LittleEndian.PutUint64(buf[32:40], h.PayloadSizeBytes)
	binary.LittleEndian.PutUint64(buf[40:48], h.reserved2)
	binary.LittleEndian.PutUint32(buf[48:52], h.reserved3)
	binary.LittleEndian.PutUint32(buf[52:56], h.reserved4)
	binary.LittleEndian.PutUint32(buf[56:60], h.Flags)
	binary.LittleEndian.PutUint32(buf[60:64], h.CRC)
	return buf
}

func decode(buf []byte) Header {
	return Header{
		Magic:            binary.LittleEndian.Uint32(buf[0:4]),
		HeaderSize:       binary.LittleEndian.Uint32(buf[4:8]),
		RefCount:         binary.LittleEndian.Uint32(buf[8:12]),
		reserved1:        binary.LittleEndian.Uint32(buf[12:16]),
		TTLSeconds:       int64(binary.LittleEndian.Uint64(buf[16:24])),
		UpdateTimeSec:    int64(binary.LittleEndian.Uint64(buf[24:32])),
		PayloadSizeBytes: binary.LittleEndian.Uint64(buf[32:40]),
		reserved2:        binary.LittleEndian.Uint64(buf[40:48]),
		reserved3:        binary.LittleEndian.Uint32(buf[48:52]),
		reserved4:        binary.LittleEndian.Uint32(buf[52:56]),
		Flags:            binary.LittleEndian.Uint32(buf[56:60]),
		CRC:              binary.LittleEndian.Uint32(buf[60:64]),
	}
}
