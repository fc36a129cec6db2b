package pstate

import "testing"

type testBatch struct {
	pid         ProducerID
	epoch       ProducerEpoch
	baseSeq     Sequence
	lastSeq     Sequence
	baseOffset  Offset
	lastOffset  Offset
	ts          Timestamp
	txn         bool
	control     bool
	marker      EndTransactionMarker
	emptyMarker bool
}

func (b testBatch) ProducerID() ProducerID       { return b.pid }
func (b testBatch) ProducerEpoch() ProducerEpoch { return b.epoch }
func (b testBatch) BaseSequence() Sequence       { return b.baseSeq }
func (b testBatch) LastSequence() Sequence       { return b.lastSeq }
func (b testBatch) BaseOffset() Offset           { return b.baseOffset }
func (b testBatch) LastOffset() Offset           { return b.lastOffset }
func (b testBatch) MaxTimestamp() Timestamp      { return b.ts }
func (b testBatch) IsTransactional() bool        { return b.txn }
func (b testBatch) IsControlBatch() bool         { return b.control }
func (b testBatch) ControlMarker() (EndTransactionMarker, bool) {
	if b.emptyMarker {
		return EndTransactionMarker{}, false
	}
	return b.marker, true
}

// TestS1SingleIdempotentProducer checks sequential appends from one
// idempotent producer chain into a single growing batch history.
func TestS1SingleIdempotentProducer(t *testing.T) {
	info := NewProducerAppendInfo("t-0", 7, nil, OriginClient)

	b1 := testBatch{pid: 7, epoch: 0, baseSeq: 0, lastSeq: 4, baseOffset: 100, lastOffset: 104}
	b2 := testBatch{pid: 7, epoch: 0, baseSeq: 5, lastSeq: 9, baseOffset: 105, lastOffset: 109}

	if _, err := info.Append(b1, nil); err != nil {
		t.Fatalf("append b1: %v", err)
	}
	if _, err := info.Append(b2, nil); err != nil {
		t.Fatalf("append b2: %v", err)
	}

	updated := info.UpdatedEntry()
	if got := updated.lastSeq(); got != 9 {
		t.Fatalf("lastSeq = %d, want 9", got)
	}
	if got := updated.lastDataOffset(); got != 109 {
		t.Fatalf("lastDataOffset = %d, want 109", got)
	}
	if len(updated.Batches) != 2 {
		t.Fatalf("len(Batches) = %d, want 2", len(updated.Batches))
	}
}

// TestS2OutOfOrderRejection checks that a gap in the sequence number is
// rejected without mutating the producer's existing batch history.
func TestS2OutOfOrderRejection(t *testing.T) {
	// Producer 7 is already known at epoch 0, so its sequence chain is
	// checked; a producer with no prior state would accept any sequence.
	current := newProducerStateEntry(7)
	current.Epoch = 0
	info := NewProducerAppendInfo("t-0", 7, current, OriginClient)
	b1 := testBatch{pid: 7, epoch: 0, baseSeq: 0, lastSeq: 4, baseOffset: 100, lastOffset: 104}
	if _, err := info.Append(b1, nil); err != nil {
		t.Fatalf("append b1: %v", err)
	}

	before := len(info.UpdatedEntry().Batches)
	bad := testBatch{pid: 7, epoch: 0, baseSeq: 11, lastSeq: 15, baseOffset: 110, lastOffset: 114}
	_, err := info.Append(bad, nil)
	var oos *OutOfOrderSequenceError
	if err == nil {
		t.Fatalf("expected OutOfOrderSequenceError, got nil")
	}
	if !asOutOfOrder(err, &oos) {
		t.Fatalf("expected *OutOfOrderSequenceError, got %T: %v", err, err)
	}
	if len(info.UpdatedEntry().Batches) != before {
		t.Fatalf("state mutated on rejected append: before=%d after=%d", before, len(info.UpdatedEntry().Batches))
	}
}

func asOutOfOrder(err error, target **OutOfOrderSequenceError) bool {
	oos, ok := err.(*OutOfOrderSequenceError)
	if ok {
		*target = oos
	}
	return ok
}

// TestS3EpochBump checks that a higher epoch resets the sequence chain
// instead of being validated against the producer's prior batch history.
func TestS3EpochBump(t *testing.T) {
	current := newProducerStateEntry(7)
	current.Epoch = 0
	current.addBatch(NewBatchMetadata(4, 104, 4, 1000))
	current.addBatch(NewBatchMetadata(9, 109, 4, 1001))

	info := NewProducerAppendInfo("t-0", 7, current, OriginClient)
	bumped := testBatch{pid: 7, epoch: 1, baseSeq: 0, lastSeq: 0, baseOffset: 120, lastOffset: 120}
	if _, err := info.Append(bumped, nil); err != nil {
		t.Fatalf("epoch bump append: %v", err)
	}

	if info.UpdatedEntry().Epoch != 1 {
		t.Fatalf("Epoch = %d, want 1", info.UpdatedEntry().Epoch)
	}
}

func TestInvalidProducerEpochRejectsOlderEpoch(t *testing.T) {
	current := newProducerStateEntry(7)
	current.Epoch = 3
	info := NewProducerAppendInfo("t-0", 7, current, OriginClient)

	stale := testBatch{pid: 7, epoch: 2, baseSeq: 0, lastSeq: 0, baseOffset: 10, lastOffset: 10}
	_, err := info.Append(stale, nil)
	if _, ok := err.(*InvalidProducerEpochError); !ok {
		t.Fatalf("expected *InvalidProducerEpochError, got %T: %v", err, err)
	}
}

func TestTransactionalAppendOpensAndCommitCloses(t *testing.T) {
	info := NewProducerAppendInfo("t-0", 7, nil, OriginClient)
	b := testBatch{pid: 7, epoch: 0, baseSeq: 0, lastSeq: 0, baseOffset: 200, lastOffset: 200, txn: true}
	if _, err := info.Append(b, nil); err != nil {
		t.Fatalf("append txn batch: %v", err)
	}
	if !info.UpdatedEntry().hasOpenTxn() {
		t.Fatalf("expected open transaction after transactional batch")
	}
	if len(info.StartedTransactions()) != 1 {
		t.Fatalf("len(StartedTransactions) = %d, want 1", len(info.StartedTransactions()))
	}

	marker := testBatch{pid: 7, epoch: 0, baseOffset: 201, lastOffset: 201, control: true,
		marker: EndTransactionMarker{ControlType: ControlCommit}}
	completed, err := info.Append(marker, nil)
	if err != nil {
		t.Fatalf("append commit marker: %v", err)
	}
	if completed == nil {
		t.Fatalf("expected CompletedTxn from commit marker")
	}
	if completed.IsAborted {
		t.Fatalf("expected commit, got aborted=true")
	}
	if info.UpdatedEntry().hasOpenTxn() {
		t.Fatalf("expected transaction closed after commit marker")
	}
}

func TestNonTransactionalBatchWhileTxnOpenIsInvalidState(t *testing.T) {
	info := NewProducerAppendInfo("t-0", 7, nil, OriginClient)
	open := testBatch{pid: 7, epoch: 0, baseSeq: 0, lastSeq: 0, baseOffset: 10, lastOffset: 10, txn: true}
	if _, err := info.Append(open, nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	nonTxn := testBatch{pid: 7, epoch: 0, baseSeq: 1, lastSeq: 1, baseOffset: 11, lastOffset: 11}
	_, err := info.Append(nonTxn, nil)
	if _, ok := err.(*InvalidTxnStateError); !ok {
		t.Fatalf("expected *InvalidTxnStateError, got %T: %v", err, err)
	}
}

func TestEmptyControlBatchIsSilentNoOp(t *testing.T) {
	info := NewProducerAppendInfo("t-0", 7, nil, OriginClient)
	empty := testBatch{pid: 7, epoch: 0, control: true, emptyMarker: true}
	completed, err := info.Append(empty, nil)
	if err != nil {
		t.Fatalf("append empty control batch: %v", err)
	}
	if completed != nil {
		t.Fatalf("expected nil CompletedTxn for empty control batch")
	}
}
