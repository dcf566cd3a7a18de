// Package file implements the database file's physical layout: a
// fixed header page followed by a flat arena of fixed-size pages. The
// header tracks which pages are free via a Roaring bitmap rather than
// a plain bitset, since a freshly-created or mostly-full database file
// has long runs of identical bits Roaring compresses away.
package file

import (
	"fmt"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/dotlanth/dotvm/pkg/dverr"
	"github.com/dotlanth/dotvm/pkg/storage/page"
)

// Magic identifies a DotDB database file.
var Magic = [8]byte{'D', 'O', 'T', 'D', 'B', 0, 0, 0}

// FormatVersion is the on-disk file format version.
const FormatVersion = 1

// Header is page 0 of every database file: the magic/version pair,
// the free-page bitmap, the catalog's root page id, and the WAL
// sequence number of the last completed checkpoint.
type Header struct {
	Version          uint32
	CatalogRootPage  page.ID
	LastCheckpointLSN uint64
	freePages        *roaring.Bitmap
}

// File is the open database file: its header and the page arena
// beneath it.
type File struct {
	mu     sync.Mutex
	f      *os.File
	header Header
}

// Create initializes a new database file at path with an empty free
// list and no catalog root yet assigned.
func Create(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("file: create %s: %w", path, err)
	}

	df := &File{
		f: f,
		header: Header{
			Version:   FormatVersion,
			freePages: roaring.NewBitmap(),
		},
	}
	if err := df.writeHeader(); err != nil {
		return nil, err
	}
	return df, nil
}

// Open opens an existing database file and parses its header.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("file: open %s: %w", path, err)
	}

	df := &File{f: f}
	if err := df.readHeader(); err != nil {
		return nil, err
	}
	return df, nil
}

func (df *File) writeHeader() error {
	buf := make([]byte, page.Size)
	copy(buf[0:8], Magic[:])
	putUint32(buf[8:12], df.header.Version)
	putUint64(buf[12:20], uint64(df.header.CatalogRootPage))
	putUint64(buf[20:28], df.header.LastCheckpointLSN)

	bitmapBytes, err := df.header.freePages.ToBytes()
	if err != nil {
		return fmt.Errorf("file: encode free-page bitmap: %w", err)
	}
	putUint32(buf[28:32], uint32(len(bitmapBytes)))
	if 32+len(bitmapBytes) > page.Size {
		return fmt.Errorf("file: free-page bitmap %d bytes exceeds header page capacity", len(bitmapBytes))
	}
	copy(buf[32:], bitmapBytes)

	if _, err := df.f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("file: write header: %w", err)
	}
	return nil
}

func (df *File) readHeader() error {
	buf := make([]byte, page.Size)
	if _, err := df.f.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("file: read header: %w", err)
	}

	var magic [8]byte
	copy(magic[:], buf[0:8])
	if magic != Magic {
		return dverr.New(dverr.IoError, fmt.Sprintf("file.readHeader: bad magic %x, not a dotdb file", magic))
	}

	df.header.Version = getUint32(buf[8:12])
	df.header.CatalogRootPage = page.ID(getUint64(buf[12:20]))
	df.header.LastCheckpointLSN = getUint64(buf[20:28])

	bitmapLen := getUint32(buf[28:32])
	df.header.freePages = roaring.NewBitmap()
	if bitmapLen > 0 {
		if err := df.header.freePages.UnmarshalBinary(buf[32 : 32+bitmapLen]); err != nil {
			return fmt.Errorf("file: decode free-page bitmap: %w", err)
		}
	}

	return nil
}

// pageOffset returns the byte offset of page id within the file,
// accounting for the header page occupying id 0.
func pageOffset(id page.ID) int64 {
	return int64(id+1) * page.Size
}

// AllocatePage returns the lowest-numbered free page id, marking it
// used, or extends the file by one page if none are free.
func (df *File) AllocatePage() (page.ID, error) {
	df.mu.Lock()
	defer df.mu.Unlock()

	if !df.header.freePages.IsEmpty() {
		id := page.ID(df.header.freePages.Minimum())
		df.header.freePages.Remove(uint32(id))
		if err := df.writeHeader(); err != nil {
			return 0, err
		}
		return id, nil
	}

	info, err := df.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("file: allocate page: %w", err)
	}
	size := info.Size()
	var nextID page.ID
	if size > page.Size {
		nextID = page.ID(size/page.Size) - 1
	}

	// A page id is only valid once its bytes actually exist on disk: a
	// caller may Fetch it (via the buffer pool's Loader) before ever
	// writing through it. Extend the file with a zeroed, sealed page
	// rather than just handing back an id past EOF.
	blank := page.New(nextID, page.TypeFree)
	blank.Seal()
	if err := df.WritePage(blank); err != nil {
		return 0, fmt.Errorf("file: allocate page: %w", err)
	}
	return nextID, nil
}

// FreePage marks id free for reuse.
func (df *File) FreePage(id page.ID) error {
	df.mu.Lock()
	defer df.mu.Unlock()

	df.header.freePages.Add(uint32(id))
	return df.writeHeader()
}

// ReadPage reads and decodes page id from the arena.
func (df *File) ReadPage(id page.ID) (*page.Page, error) {
	buf := make([]byte, page.Size)
	if _, err := df.f.ReadAt(buf, pageOffset(id)); err != nil {
		return nil, fmt.Errorf("file: read page %d: %w", id, err)
	}
	return page.Decode(buf)
}

// WritePage persists p at its own ID's offset.
func (df *File) WritePage(p *page.Page) error {
	if _, err := df.f.WriteAt(p.Encode(), pageOffset(p.ID)); err != nil {
		return fmt.Errorf("file: write page %d: %w", p.ID, err)
	}
	return nil
}

// SetCatalogRoot records the catalog's root page and persists the
// header.
func (df *File) SetCatalogRoot(id page.ID) error {
	df.mu.Lock()
	defer df.mu.Unlock()
	df.header.CatalogRootPage = id
	return df.writeHeader()
}

// CatalogRoot returns the catalog's root page id.
func (df *File) CatalogRoot() page.ID {
	df.mu.Lock()
	defer df.mu.Unlock()
	return df.header.CatalogRootPage
}

// Checkpoint records lsn as the last completed checkpoint.
func (df *File) Checkpoint(lsn uint64) error {
	df.mu.Lock()
	defer df.mu.Unlock()
	df.header.LastCheckpointLSN = lsn
	return df.writeHeader()
}

// Sync flushes the file to durable storage.
func (df *File) Sync() error {
	return df.f.Sync()
}

// Close closes the underlying file.
func (df *File) Close() error {
	return df.f.Close()
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
