package pstate

import "fmt"

// ProducerStateEntry is the bounded history tracked for one producer: its
// current epoch and coordinator epoch, the timestamp of its last append,
// an optional in-flight transaction's first offset, and up to
// NumBatchesToRetain of its most recently appended batches, oldest first.
type ProducerStateEntry struct {
	ProducerID       ProducerID
	Epoch            ProducerEpoch
	CoordinatorEpoch int32
	LastTimestamp    Timestamp

	// CurrentTxnFirstOffset is set iff a transaction is in flight for this
	// producer; its presence is the sole source of truth for that fact.
	CurrentTxnFirstOffset *Offset

	Batches []BatchMetadata
}

// newProducerStateEntry builds an empty entry for a producer never seen
// before: no epoch recorded, no batches, no transaction.
func newProducerStateEntry(id ProducerID) *ProducerStateEntry {
	return &ProducerStateEntry{
		ProducerID:    id,
		Epoch:         NoProducerEpoch,
		LastTimestamp: NoTimestamp,
	}
}

// clone returns a deep-enough copy: the Batches slice is copied so the
// clone can be mutated (appended to, trimmed) without aliasing the
// original entry's history.
func (e *ProducerStateEntry) clone() *ProducerStateEntry {
	cp := *e
	cp.Batches = append([]BatchMetadata(nil), e.Batches...)
	if e.CurrentTxnFirstOffset != nil {
		off := *e.CurrentTxnFirstOffset
		cp.CurrentTxnFirstOffset = &off
	}
	return &cp
}

// lastBatch returns the most recently appended batch, if any.
func (e *ProducerStateEntry) lastBatch() (BatchMetadata, bool) {
	if len(e.Batches) == 0 {
		return BatchMetadata{}, false
	}
	return e.Batches[len(e.Batches)-1], true
}

// lastSeq returns the last sequence number seen for this producer, or
// NoSequence if no batch has been recorded.
func (e *ProducerStateEntry) lastSeq() Sequence {
	b, ok := e.lastBatch()
	if !ok {
		return NoSequence
	}
	return b.LastSeq
}

// lastDataOffset returns the last batch's LastOffset, or -1 if empty.
func (e *ProducerStateEntry) lastDataOffset() Offset {
	b, ok := e.lastBatch()
	if !ok {
		return -1
	}
	return b.LastOffset
}

// lastOffsetDelta returns the last batch's OffsetDelta, or 0 if empty.
func (e *ProducerStateEntry) lastOffsetDelta() int32 {
	b, ok := e.lastBatch()
	if !ok {
		return 0
	}
	return b.OffsetDelta
}

// addBatch appends b to the history, evicting the oldest entry once the
// history would exceed NumBatchesToRetain.
func (e *ProducerStateEntry) addBatch(b BatchMetadata) {
	e.Batches = append(e.Batches, b)
	if len(e.Batches) > NumBatchesToRetain {
		e.Batches = e.Batches[len(e.Batches)-NumBatchesToRetain:]
	}
}

// findDuplicateBatch returns the retained batch, if any, whose epoch
// matches epoch and whose (firstSeq, lastSeq) range exactly equals
// (firstSeq, lastSeq) — i.e. this batch has already been durably appended
// under this producer and can be reported as a duplicate rather than
// re-applied.
func (e *ProducerStateEntry) findDuplicateBatch(epoch ProducerEpoch, firstSeq, lastSeq Sequence) (BatchMetadata, bool) {
	if epoch != e.Epoch {
		return BatchMetadata{}, false
	}
	for i := len(e.Batches) - 1; i >= 0; i-- {
		if e.Batches[i].matchesRange(firstSeq, lastSeq) {
			return e.Batches[i], true
		}
	}
	return BatchMetadata{}, false
}

// hasOpenTxn reports whether this producer currently has a transaction in
// flight.
func (e *ProducerStateEntry) hasOpenTxn() bool {
	return e.CurrentTxnFirstOffset != nil
}

func (e *ProducerStateEntry) String() string {
	txn := "none"
	if e.CurrentTxnFirstOffset != nil {
		txn = fmt.Sprintf("%d", int64(*e.CurrentTxnFirstOffset))
	}
	return fmt.Sprintf("ProducerStateEntry{id=%s epoch=%s coordEpoch=%d lastTs=%d txnFirstOffset=%s batches=%d}",
		e.ProducerID, e.Epoch, e.CoordinatorEpoch, e.LastTimestamp, txn, len(e.Batches))
}
