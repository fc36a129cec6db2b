// Package pstate implements a per-partition producer-state manager for a
// Kafka-protocol broker: sequence/epoch validation for idempotent and
// transactional producers, last-stable-offset tracking, the aborted-
// transaction index, and snapshot/replay based recovery.
package pstate

import "fmt"

// ProducerID identifies a producer session, assigned by the transaction
// coordinator (or the broker, for plain idempotent producers).
type ProducerID int64

// ProducerEpoch fences stale producer sessions. Bumped whenever a producer
// re-initializes against the same ProducerID.
type ProducerEpoch int16

// Sequence is the per-batch counter a producer assigns, used for batch
// deduplication. It wraps: the successor of Sequence(math.MaxInt32) is 0.
type Sequence int32

// Offset is a partition-local, monotonically assigned log position.
type Offset int64

// Timestamp is milliseconds since the Unix epoch.
type Timestamp int64

// Sentinel values, matching the Kafka wire protocol's conventions for "no
// value present" on these fixed-width fields.
const (
	NoProducerID    ProducerID    = -1
	NoProducerEpoch ProducerEpoch = -1
	NoSequence      Sequence      = -1
	NoTimestamp     Timestamp     = -1
)

const maxSequence Sequence = 1<<31 - 1 // math.MaxInt32, spelled out for clarity at the wrap boundary

// NumBatchesToRetain bounds how many BatchMetadata entries a
// ProducerStateEntry keeps; the oldest is evicted once this is exceeded.
const NumBatchesToRetain = 5

// firstSeqFromLast derives the first sequence number of a batch from its
// last sequence number and its offset delta (lastSeq - firstSeq), honoring
// the signed 32-bit wraparound: if lastSeq < offsetDelta, the batch's first
// sequence wrapped around through MaxInt32.
func firstSeqFromLast(lastSeq Sequence, offsetDelta int32) Sequence {
	if int64(lastSeq) < int64(offsetDelta) {
		return Sequence(int64(maxSequence) - (int64(offsetDelta) - int64(lastSeq)) + 1)
	}
	return Sequence(int64(lastSeq) - int64(offsetDelta))
}

// nextSequence returns the sequence that immediately follows seq, wrapping
// from MaxInt32 back to 0.
func nextSequence(seq Sequence) Sequence {
	if seq == maxSequence {
		return 0
	}
	return seq + 1
}

// inSequence reports whether appendFirst is the valid successor to
// lastSeq: either the ordinary increment, or the wraparound case where
// lastSeq is MaxInt32 and appendFirst is 0.
func inSequence(lastSeq, appendFirst Sequence) bool {
	return nextSequence(lastSeq) == appendFirst
}

func (p ProducerID) String() string { return fmt.Sprintf("%d", int64(p)) }
func (e ProducerEpoch) String() string { return fmt.Sprintf("%d", int16(e)) }
func (s Sequence) String() string { return fmt.Sprintf("%d", int32(s)) }
func (o Offset) String() string { return fmt.Sprintf("%d", int64(o)) }
