// Package page defines the storage engine's fixed-size unit of I/O:
// a checksummed, LSN-stamped byte buffer the buffer pool pins, the WAL
// protects, and the file layer persists.
package page

import (
	"fmt"
	"hash/crc32"

	"github.com/dotlanth/dotvm/pkg/dverr"
)

// Size is the fixed page size in bytes. Chosen to match common OS
// page sizes so a page maps to one filesystem block.
const Size = 4096

// ID identifies a page within a database file.
type ID uint64

// Type discriminates a page's payload interpretation.
type Type uint8

const (
	TypeFree Type = iota
	TypeHeader
	TypeData
	TypeIndex
	TypeOverflow
)

// Page is the engine's unit of durable storage: Payload is fixed at
// Size-minus-header bytes, Checksum covers Payload only (computed on
// Seal, verified on Load), and LSN records the write-ahead log
// sequence number of the last change applied to this page.
type Page struct {
	ID       ID
	Type     Type
	LSN      uint64
	Checksum uint32
	Payload  [Size - headerSize]byte
}

// headerSize is the serialized size of ID, Type, LSN, and Checksum
// ahead of Payload in the on-disk encoding.
const headerSize = 8 + 1 + 8 + 4

// New creates a zeroed page of the given id and type.
func New(id ID, t Type) *Page {
	return &Page{ID: id, Type: t}
}

// Seal recomputes Checksum over Payload. Callers must call Seal after
// mutating Payload and before the page is written through the buffer
// pool or WAL.
func (p *Page) Seal() {
	p.Checksum = crc32.ChecksumIEEE(p.Payload[:])
}

// Verify reports whether Checksum matches Payload's current contents,
// detecting torn writes or on-disk corruption.
func (p *Page) Verify() error {
	if got := crc32.ChecksumIEEE(p.Payload[:]); got != p.Checksum {
		return dverr.Wrap(dverr.ChecksumMismatch, "page.Verify", fmt.Errorf("page %d: got %x want %x", p.ID, got, p.Checksum))
	}
	return nil
}

// Encode serializes p into a Size-byte buffer.
func (p *Page) Encode() []byte {
	buf := make([]byte, Size)
	putUint64(buf[0:8], uint64(p.ID))
	buf[8] = byte(p.Type)
	putUint64(buf[9:17], p.LSN)
	putUint32(buf[17:21], p.Checksum)
	copy(buf[headerSize:], p.Payload[:])
	return buf
}

// Decode parses a Size-byte buffer into a Page, verifying its
// checksum before returning.
func Decode(buf []byte) (*Page, error) {
	if len(buf) != Size {
		return nil, dverr.New(dverr.IoError, fmt.Sprintf("page.Decode: buffer is %d bytes, want %d", len(buf), Size))
	}

	p := &Page{
		ID:       ID(getUint64(buf[0:8])),
		Type:     Type(buf[8]),
		LSN:      getUint64(buf[9:17]),
		Checksum: getUint32(buf[17:21]),
	}
	copy(p.Payload[:], buf[headerSize:])

	if err := p.Verify(); err != nil {
		return nil, err
	}
	return p, nil
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putUint32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (24 - 8*i))
	}
}

func getUint32(b []byte) uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v = v<<8 | uint32(b[i])
	}
	return v
}
