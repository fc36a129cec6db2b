package pstate

import "fmt"

// BatchMetadata is an immutable descriptor of one batch already appended to
// the partition log for a given producer. FirstSeq/FirstOffset are derived,
// not stored, since they fold out of LastSeq/OffsetDelta and LastOffset.
type BatchMetadata struct {
	LastSeq     Sequence
	LastOffset  Offset
	OffsetDelta int32
	Timestamp   Timestamp
}

// NewBatchMetadata builds a BatchMetadata from the fields carried on an
// appended record batch.
func NewBatchMetadata(lastSeq Sequence, lastOffset Offset, offsetDelta int32, ts Timestamp) BatchMetadata {
	return BatchMetadata{
		LastSeq:     lastSeq,
		LastOffset:  lastOffset,
		OffsetDelta: offsetDelta,
		Timestamp:   ts,
	}
}

// FirstSeq is the sequence number of the first record in the batch,
// honoring signed 32-bit wraparound.
func (b BatchMetadata) FirstSeq() Sequence {
	return firstSeqFromLast(b.LastSeq, b.OffsetDelta)
}

// FirstOffset is the log offset of the first record in the batch.
func (b BatchMetadata) FirstOffset() Offset {
	return b.LastOffset - Offset(b.OffsetDelta)
}

// matchesRange reports whether this batch's (firstSeq, lastSeq) range is
// exactly the one given — the equality test findDuplicateBatch uses.
func (b BatchMetadata) matchesRange(firstSeq, lastSeq Sequence) bool {
	return b.FirstSeq() == firstSeq && b.LastSeq == lastSeq
}

func (b BatchMetadata) String() string {
	return fmt.Sprintf("BatchMetadata{firstSeq=%d lastSeq=%d firstOffset=%d lastOffset=%d ts=%d}",
		b.FirstSeq(), b.LastSeq, b.FirstOffset(), b.LastOffset, b.Timestamp)
}
