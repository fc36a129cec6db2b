package pstate

// ProducerAppendInfo stages the delta a batch sequence would apply to one
// producer's ProducerStateEntry, without mutating the manager. The caller
// commits it via StateManager.Update only after the corresponding log
// append has durably succeeded.
type ProducerAppendInfo struct {
	TopicPartition string
	ProducerID     ProducerID
	Origin         Origin

	currentEntry *ProducerStateEntry // read-only snapshot of the entry at staging time
	updatedEntry *ProducerStateEntry // staged delta, starts with an empty batch history

	startedTransactions []TxnMetadata
}

// NewProducerAppendInfo stages a new append-info for a producer given its
// current (possibly empty) entry.
func NewProducerAppendInfo(topicPartition string, id ProducerID, current *ProducerStateEntry, origin Origin) *ProducerAppendInfo {
	if current == nil {
		current = newProducerStateEntry(id)
	}
	updated := &ProducerStateEntry{
		ProducerID:            id,
		Epoch:                 current.Epoch,
		CoordinatorEpoch:      current.CoordinatorEpoch,
		LastTimestamp:         current.LastTimestamp,
		CurrentTxnFirstOffset: cloneOffsetPtr(current.CurrentTxnFirstOffset),
	}
	return &ProducerAppendInfo{
		TopicPartition: topicPartition,
		ProducerID:     id,
		Origin:         origin,
		currentEntry:   current,
		updatedEntry:   updated,
	}
}

func cloneOffsetPtr(o *Offset) *Offset {
	if o == nil {
		return nil
	}
	v := *o
	return &v
}

// UpdatedEntry returns the staged entry, for StateManager.Update to merge.
func (a *ProducerAppendInfo) UpdatedEntry() *ProducerStateEntry { return a.updatedEntry }

// StartedTransactions returns the TxnMetadata opened by this batch
// sequence, to be inserted into the ongoing-txn index on commit.
func (a *ProducerAppendInfo) StartedTransactions() []TxnMetadata { return a.startedTransactions }

// Append analyzes one batch against the staged state, mutating
// updatedEntry and returning a CompletedTxn if the batch was (or closed) a
// control marker ending a transaction.
func (a *ProducerAppendInfo) Append(batch RecordBatch, firstOffsetOverride *Offset) (*CompletedTxn, error) {
	if batch.IsControlBatch() {
		marker, ok := batch.ControlMarker()
		if !ok {
			// Empty control batch: its record was compacted away. Treat as
			// a silent no-op, not an error.
			return nil, nil
		}
		return a.appendEndTxnMarker(marker, batch.ProducerEpoch(), batch.BaseOffset(), Timestamp(batch.MaxTimestamp()))
	}

	firstOffset := batch.BaseOffset()
	if firstOffsetOverride != nil {
		firstOffset = *firstOffsetOverride
	}

	if err := a.checkEpoch(batch.ProducerEpoch()); err != nil {
		return nil, err
	}

	if a.Origin == OriginClient {
		if err := a.checkSequence(batch); err != nil {
			return nil, err
		}
	}

	offsetDelta := OffsetDelta(batch)
	lastOffset := firstOffset + Offset(offsetDelta)
	meta := NewBatchMetadata(batch.LastSequence(), lastOffset, offsetDelta, Timestamp(batch.MaxTimestamp()))

	a.updatedEntry.Epoch = batch.ProducerEpoch()
	a.updatedEntry.LastTimestamp = meta.Timestamp
	a.updatedEntry.addBatch(meta)

	if batch.IsTransactional() {
		a.openOrContinueTxn(firstOffset)
	} else if a.updatedEntry.hasOpenTxn() {
		return nil, &InvalidTxnStateError{ProducerID: a.ProducerID}
	}

	return nil, nil
}

// openOrContinueTxn implements the transactional state transition: open a
// new txn if none is in flight, otherwise fold this batch silently into
// the one already open.
func (a *ProducerAppendInfo) openOrContinueTxn(firstOffset Offset) {
	if a.updatedEntry.hasOpenTxn() {
		return
	}
	off := firstOffset
	a.updatedEntry.CurrentTxnFirstOffset = &off
	a.startedTransactions = append(a.startedTransactions, TxnMetadata{
		ProducerID:  a.ProducerID,
		FirstOffset: firstOffset,
	})
}

// checkEpoch fails with InvalidProducerEpochError if epoch is older than
// the epoch staged so far.
func (a *ProducerAppendInfo) checkEpoch(epoch ProducerEpoch) error {
	if epoch < a.updatedEntry.Epoch {
		return &InvalidProducerEpochError{
			ProducerID:   a.ProducerID,
			GotEpoch:     epoch,
			CurrentEpoch: a.updatedEntry.Epoch,
		}
	}
	return nil
}

// checkSequence is the client-only sequence validation: epoch fencing and
// the base/last sequence wraparound check against the producer's last
// known sequence.
func (a *ProducerAppendInfo) checkSequence(batch RecordBatch) error {
	epoch := batch.ProducerEpoch()
	appendFirst := batch.BaseSequence()

	if epoch != a.updatedEntry.Epoch {
		// A cold producer (no state has ever been observed) is accepted at
		// any starting sequence; otherwise an epoch bump must start at 0.
		if a.currentEntry.Epoch == NoProducerEpoch {
			return nil
		}
		if appendFirst != 0 {
			return &OutOfOrderSequenceError{ProducerID: a.ProducerID, GotFirstSeq: appendFirst, WantSeq: 0}
		}
		return nil
	}

	if a.currentEntry.Epoch == NoProducerEpoch {
		// Cold producer whose staged epoch already matches (set by an
		// earlier batch of this same sequence): still accept any sequence.
		return nil
	}

	currentLast := NoSequence
	if last, ok := a.updatedEntry.lastBatch(); ok {
		currentLast = last.LastSeq
	} else if a.currentEntry.Epoch == epoch {
		currentLast = a.currentEntry.lastSeq()
	}

	// inSequence(NoSequence, x) is true only for x == 0: nextSequence(-1)
	// is 0, so "no batch observed this epoch yet" still requires a fresh
	// sequence starting at 0, falling out of the same check.
	if !inSequence(currentLast, appendFirst) {
		return &OutOfOrderSequenceError{ProducerID: a.ProducerID, GotFirstSeq: appendFirst, WantSeq: nextSequence(currentLast)}
	}
	return nil
}

// appendEndTxnMarker folds a commit/abort control marker into the staged
// entry, producing a CompletedTxn when a transaction was actually open.
func (a *ProducerAppendInfo) appendEndTxnMarker(marker EndTransactionMarker, epoch ProducerEpoch, markerOffset Offset, ts Timestamp) (*CompletedTxn, error) {
	if err := a.checkEpoch(epoch); err != nil {
		return nil, err
	}

	a.updatedEntry.Epoch = epoch
	a.updatedEntry.CoordinatorEpoch = marker.CoordinatorEpoch
	a.updatedEntry.LastTimestamp = ts

	if !a.updatedEntry.hasOpenTxn() {
		// Idempotent marker: no transaction was open, nothing to complete.
		return nil, nil
	}

	firstOffset := *a.updatedEntry.CurrentTxnFirstOffset
	a.updatedEntry.CurrentTxnFirstOffset = nil

	return &CompletedTxn{
		ProducerID:  a.ProducerID,
		FirstOffset: firstOffset,
		LastOffset:  markerOffset,
		IsAborted:   marker.ControlType == ControlAbort,
	}, nil
}

// ResetOffset rewrites the single staged batch with a new offset range,
// used when the log assigns offsets only after validation has already
// run. Any transactions staged under the old offset are discarded and
// re-opened under the new one.
func (a *ProducerAppendInfo) ResetOffset(baseOffset Offset, isTransactional bool) {
	last, ok := a.updatedEntry.lastBatch()
	if !ok {
		return
	}
	offsetDelta := last.OffsetDelta
	meta := NewBatchMetadata(last.LastSeq, baseOffset+Offset(offsetDelta), offsetDelta, last.Timestamp)
	a.updatedEntry.Batches = a.updatedEntry.Batches[:len(a.updatedEntry.Batches)-1]
	a.updatedEntry.addBatch(meta)

	a.startedTransactions = nil
	if isTransactional {
		off := baseOffset
		a.updatedEntry.CurrentTxnFirstOffset = &off
		a.startedTransactions = append(a.startedTransactions, TxnMetadata{
			ProducerID:  a.ProducerID,
			FirstOffset: baseOffset,
		})
	}
}
