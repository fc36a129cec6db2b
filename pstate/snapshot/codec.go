// Package snapshot implements the on-disk/on-wire producer-state snapshot
// format and the asynchronous IO that writes and reads it.
package snapshot

import (
	"hash/crc32"

	"github.com/twmb/franz-go/pkg/kbin"

	"github.com/kop-go/pstate/pstate"
)

const version int16 = 1

// headerSize is the fixed prefix before the CRC'd body: 2 bytes version +
// 4 bytes crc32c.
const headerSize = 6

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Snapshot is the decoded body: the checkpoint offset and every producer
// entry current as of that offset. Entries reuse pstate.SnapshotEntry so
// StateManager.LoadEntry can consume a decoded snapshot directly.
type Snapshot struct {
	SnapshotOffset pstate.Offset
	Entries        []pstate.SnapshotEntry
}

// Encode assembles the fixed binary layout: a 2-byte version, a 4-byte
// CRC32C computed over everything from offset 6 onward, then the body
// (snapshot offset followed by one record per producer).
func Encode(snap Snapshot) []byte {
	var w kbin.Writer
	w.Int64(int64(snap.SnapshotOffset))
	w.ArrayLen(len(snap.Entries))
	for _, e := range snap.Entries {
		w.Int64(int64(e.ProducerID))
		w.Int16(int16(e.Epoch))
		w.Int32(int32(e.LastSequence))
		w.Int64(int64(e.LastOffset))
		w.Int32(e.OffsetDelta)
		w.Int64(int64(e.Timestamp))
		w.Int32(e.CoordinatorEpoch)
		w.Int64(int64(e.CurrentTxnFirst))
	}
	body := w.AppendTo(nil)

	out := make([]byte, headerSize+len(body))
	putBigEndianUint16(out[0:2], uint16(version))
	copy(out[headerSize:], body)

	crc := crc32.Checksum(out[headerSize:], castagnoli)
	putBigEndianUint32(out[2:6], crc)
	return out
}

func putBigEndianUint16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func putBigEndianUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func bigEndianUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func bigEndianUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// Decode parses the layout Encode produces, failing with
// pstate.SnapshotCorruptError on an unknown version, a CRC mismatch, or a
// body that doesn't parse to completion.
func Decode(data []byte) (Snapshot, error) {
	if len(data) < headerSize {
		return Snapshot{}, &pstate.SnapshotCorruptError{Reason: "truncated header"}
	}

	gotVersion := int16(bigEndianUint16(data[0:2]))
	if gotVersion != version {
		return Snapshot{}, &pstate.SnapshotCorruptError{Reason: "unsupported version"}
	}

	wantCRC := bigEndianUint32(data[2:6])
	gotCRC := crc32.Checksum(data[headerSize:], castagnoli)
	if wantCRC != gotCRC {
		return Snapshot{}, &pstate.SnapshotCorruptError{Reason: "crc32c mismatch"}
	}

	r := kbin.Reader{Src: data[headerSize:]}
	snap := Snapshot{SnapshotOffset: pstate.Offset(r.Int64())}
	n := r.ArrayLen()
	if n > 0 {
		snap.Entries = make([]pstate.SnapshotEntry, 0, n)
	}
	for i := int32(0); i < n; i++ {
		e := pstate.SnapshotEntry{
			ProducerID:       pstate.ProducerID(r.Int64()),
			Epoch:            pstate.ProducerEpoch(r.Int16()),
			LastSequence:     pstate.Sequence(r.Int32()),
			LastOffset:       pstate.Offset(r.Int64()),
			OffsetDelta:      r.Int32(),
			Timestamp:        pstate.Timestamp(r.Int64()),
			CoordinatorEpoch: r.Int32(),
			CurrentTxnFirst:  pstate.Offset(r.Int64()),
		}
		snap.Entries = append(snap.Entries, e)
	}
	if err := r.Complete(); err != nil {
		return Snapshot{}, &pstate.SnapshotCorruptError{Reason: "body: " + err.Error()}
	}
	return snap, nil
}
