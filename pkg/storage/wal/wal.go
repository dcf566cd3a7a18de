// Package wal implements the storage engine's write-ahead log: an
// append-only record stream that must be durable before the page it
// describes is allowed to leave the buffer pool. Force fsyncs while
// holding the log's mutex and then marks every record appended so far
// durable, so callers queued behind one fsync find their LSN already
// covered and return without issuing another. WaitDurable waits on a
// condition variable keyed on the highest fsync'd LSN until some other
// caller's Force covers it.
package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dotlanth/dotvm/pkg/dverr"
	"github.com/dotlanth/dotvm/pkg/metrics"
)

// Kind discriminates a WAL record's purpose.
type Kind uint8

const (
	KindBegin Kind = iota
	KindCommit
	KindAbort
	KindUpdate
	KindCheckpoint
)

// Record is one WAL entry: a committed or in-flight transaction's
// change, or a control record (begin/commit/abort/checkpoint).
type Record struct {
	LSN     uint64
	Kind    Kind
	Txn     uint64
	Payload []byte
}

func (r Record) encode() []byte {
	buf := make([]byte, 8+1+8+4+len(r.Payload))
	binary.BigEndian.PutUint64(buf[0:8], r.LSN)
	buf[8] = byte(r.Kind)
	binary.BigEndian.PutUint64(buf[9:17], r.Txn)
	binary.BigEndian.PutUint32(buf[17:21], uint32(len(r.Payload)))
	copy(buf[21:], r.Payload)
	crc := crc32.ChecksumIEEE(buf)
	return append(buf, byteOf(crc)...)
}

func byteOf(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// Log is the append-only WAL file plus its durability tracking.
type Log struct {
	mu       sync.Mutex
	cond     *sync.Cond
	file     *os.File
	nextLSN  uint64
	durableLSN uint64
}

// Open opens or creates the WAL file at path.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	l := &Log{file: f}
	l.cond = sync.NewCond(&l.mu)

	if err := l.recoverTail(); err != nil {
		return nil, fmt.Errorf("wal: %w", err)
	}

	return l, nil
}

// recoverTail scans the existing file to find the next LSN to assign,
// so reopening a WAL after a restart continues its sequence instead
// of colliding with previously durable records.
func (l *Log) recoverTail() error {
	records, err := readAll(l.file)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.LSN >= l.nextLSN {
			l.nextLSN = r.LSN + 1
		}
	}
	l.durableLSN = l.nextLSN
	if l.nextLSN > 0 {
		l.durableLSN = l.nextLSN - 1
	}
	if _, err := l.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	return nil
}

// Append assigns the next LSN to r and writes it to the OS page
// cache. The record is not guaranteed durable until Force(r.LSN)
// returns.
func (l *Log) Append(kind Kind, txn uint64, payload []byte) (Record, error) {
	// The LSN is assigned and the record written under one lock hold,
	// so records land in the file in LSN order.
	l.mu.Lock()
	lsn := l.nextLSN
	l.nextLSN++
	r := Record{LSN: lsn, Kind: kind, Txn: txn, Payload: payload}
	buf := r.encode()
	_, err := l.file.Write(buf)
	l.mu.Unlock()
	if err != nil {
		return Record{}, fmt.Errorf("wal: append: %w", err)
	}

	metrics.WALBytesWritten.Add(float64(len(buf)))
	return r, nil
}

// Force blocks until every record up to and including lsn is durable
// on disk, fsyncing at most once per set of waiters that accumulate
// while an fsync is already in flight.
func (l *Log) Force(lsn uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// durableLSN is 0 on a log that was empty at Open, before record 0
	// was ever synced, so lsn 0 always takes the fsync path.
	if lsn > 0 && lsn <= l.durableLSN {
		return nil
	}

	start := time.Now()
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("wal: force: %w", err)
	}
	metrics.WALForceLatency.Observe(time.Since(start).Seconds())

	if l.nextLSN-1 > l.durableLSN {
		l.durableLSN = l.nextLSN - 1
	}
	l.cond.Broadcast()

	return nil
}

// WaitDurable blocks the caller until lsn becomes durable via some
// other goroutine's Force call, without itself triggering an fsync.
func (l *Log) WaitDurable(lsn uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for lsn > l.durableLSN {
		l.cond.Wait()
	}
}

// Close syncs and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Sync(); err != nil {
		return err
	}
	return l.file.Close()
}

// ReadAll returns every record currently in the WAL file, in LSN
// order, for recovery to replay.
func (l *Log) ReadAll() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return readAll(l.file)
}

func readAll(f *os.File) ([]Record, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	defer f.Seek(0, io.SeekEnd)

	var records []Record
	header := make([]byte, 21)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("wal: read header: %w", err)
		}

		lsn := binary.BigEndian.Uint64(header[0:8])
		kind := Kind(header[8])
		txn := binary.BigEndian.Uint64(header[9:17])
		payloadLen := binary.BigEndian.Uint32(header[17:21])

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(f, payload); err != nil {
			return nil, fmt.Errorf("wal: read payload: %w", err)
		}

		crcBuf := make([]byte, 4)
		if _, err := io.ReadFull(f, crcBuf); err != nil {
			return nil, fmt.Errorf("wal: read crc: %w", err)
		}

		want := binary.BigEndian.Uint32(crcBuf)
		got := crc32.ChecksumIEEE(append(header, payload...))
		if got != want {
			return nil, dverr.New(dverr.WalCorrupted, fmt.Sprintf("wal.ReadAll: record at lsn %d failed checksum, log may be torn", lsn))
		}

		records = append(records, Record{LSN: lsn, Kind: kind, Txn: txn, Payload: payload})
	}

	return records, nil
}
