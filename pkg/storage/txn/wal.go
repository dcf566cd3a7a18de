package txn

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeWriteSet serializes a committed write set into a WAL Update
// record payload: a sequence of length-prefixed (key, value) pairs.
// The storage Engine appends one such record, atomically ahead of the
// transaction's Commit record, so replaying the WAL on reopen can
// rebuild the version chain without ever having logged a write whose
// transaction never committed.
func EncodeWriteSet(ws map[string][]byte) []byte {
	var buf bytes.Buffer
	for key, value := range ws {
		var lens [6]byte
		binary.BigEndian.PutUint16(lens[0:2], uint16(len(key)))
		binary.BigEndian.PutUint32(lens[2:6], uint32(len(value)))
		buf.Write(lens[:])
		buf.WriteString(key)
		buf.Write(value)
	}
	return buf.Bytes()
}

// DecodeWriteSet parses a payload produced by EncodeWriteSet.
func DecodeWriteSet(payload []byte) (map[string][]byte, error) {
	ws := make(map[string][]byte)
	for len(payload) > 0 {
		if len(payload) < 6 {
			return nil, fmt.Errorf("txn: truncated write set record: %d bytes left, want >= 6", len(payload))
		}
		keyLen := binary.BigEndian.Uint16(payload[0:2])
		valLen := binary.BigEndian.Uint32(payload[2:6])
		payload = payload[6:]

		if len(payload) < int(keyLen)+int(valLen) {
			return nil, fmt.Errorf("txn: truncated write set record: want %d bytes, have %d", int(keyLen)+int(valLen), len(payload))
		}
		key := string(payload[:keyLen])
		payload = payload[keyLen:]
		value := append([]byte(nil), payload[:valLen]...)
		payload = payload[valLen:]

		ws[key] = value
	}
	return ws, nil
}
