package pstate

import "testing"

func TestUpdateRequiresReadyState(t *testing.T) {
	m := New("test-topic-0")
	info := NewProducerAppendInfo("test-topic-0", 7, nil, OriginClient)
	if err := m.Update(info); err == nil {
		t.Fatalf("expected error updating a manager still in INIT")
	}
}

func TestUpdateInstallsEntryAndOpensTxn(t *testing.T) {
	m := New("test-topic-0")
	forceReady(m)

	info := NewProducerAppendInfo("test-topic-0", 7, nil, OriginClient)
	b := testBatch{pid: 7, epoch: 0, baseSeq: 0, lastSeq: 0, baseOffset: 10, lastOffset: 10, txn: true}
	if _, err := info.Append(b, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := m.Update(info); err != nil {
		t.Fatalf("update: %v", err)
	}

	entry := m.lastEntry(7)
	if entry == nil {
		t.Fatalf("expected producer entry installed")
	}
	if !entry.hasOpenTxn() {
		t.Fatalf("expected open transaction installed")
	}

	first, ok := m.FirstUndecidedOffset()
	if !ok || first != 10 {
		t.Fatalf("FirstUndecidedOffset = (%d, %v), want (10, true)", first, ok)
	}
}

func TestCompleteTxnAbortedAddsToAbortedIndex(t *testing.T) {
	m := New("test-topic-0")
	forceReady(m)

	info := NewProducerAppendInfo("test-topic-0", 7, nil, OriginClient)
	b := testBatch{pid: 7, epoch: 0, baseSeq: 0, lastSeq: 0, baseOffset: 10, lastOffset: 10, txn: true}
	if _, err := info.Append(b, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := m.Update(info); err != nil {
		t.Fatalf("update: %v", err)
	}

	completed := CompletedTxn{ProducerID: 7, FirstOffset: 10, LastOffset: 11, IsAborted: true}
	if err := m.CompleteTxn(completed); err != nil {
		t.Fatalf("completeTxn: %v", err)
	}

	aborted := m.GetAbortedIndexList(0)
	if len(aborted) != 1 || aborted[0].ProducerID != 7 || aborted[0].FirstOffset != 10 {
		t.Fatalf("unexpected aborted index contents: %+v", aborted)
	}

	// A higher fetchOffset should exclude it.
	if got := m.GetAbortedIndexList(100); len(got) != 0 {
		t.Fatalf("expected empty aborted list at high fetchOffset, got %+v", got)
	}
}

func TestCompleteTxnUnknownIsIllegalState(t *testing.T) {
	m := New("test-topic-0")
	forceReady(m)

	err := m.CompleteTxn(CompletedTxn{ProducerID: 7, FirstOffset: 999, LastOffset: 1000})
	if _, ok := err.(*IllegalStateError); !ok {
		t.Fatalf("expected *IllegalStateError, got %T: %v", err, err)
	}
}

func TestLastStableOffsetExcludesForeignOpenTxn(t *testing.T) {
	m := New("test-topic-0")
	forceReady(m)

	// producer 7 opens at offset 10, producer 8 opens earlier at offset 5.
	for _, seed := range []struct {
		pid ProducerID
		off Offset
	}{{7, 10}, {8, 5}} {
		info := NewProducerAppendInfo("test-topic-0", seed.pid, nil, OriginClient)
		b := testBatch{pid: seed.pid, epoch: 0, baseOffset: seed.off, lastOffset: seed.off, txn: true}
		if _, err := info.Append(b, nil); err != nil {
			t.Fatalf("append: %v", err)
		}
		if err := m.Update(info); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	lso := m.LastStableOffset(CompletedTxn{ProducerID: 7, FirstOffset: 10, LastOffset: 12})
	if lso != 5 {
		t.Fatalf("LastStableOffset = %d, want 5 (producer 8's still-open first offset)", lso)
	}
}

func TestTruncateClearsEverythingIncludingAbortedIndex(t *testing.T) {
	m := New("test-topic-0")
	forceReady(m)

	info := NewProducerAppendInfo("test-topic-0", 7, nil, OriginClient)
	b := testBatch{pid: 7, epoch: 0, baseOffset: 10, lastOffset: 10, txn: true}
	if _, err := info.Append(b, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := m.Update(info); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := m.CompleteTxn(CompletedTxn{ProducerID: 7, FirstOffset: 10, LastOffset: 11, IsAborted: true}); err != nil {
		t.Fatalf("completeTxn: %v", err)
	}
	m.UpdateMapEndOffset(500)

	m.Truncate()

	if m.lastEntry(7) != nil {
		t.Fatalf("expected producers cleared after truncate")
	}
	if _, ok := m.FirstUndecidedOffset(); ok {
		t.Fatalf("expected ongoingTxns cleared after truncate")
	}
	if got := m.GetAbortedIndexList(0); len(got) != 0 {
		t.Fatalf("expected abortedIndex cleared after truncate, got %+v", got)
	}
	if m.MapEndOffset() != 0 {
		t.Fatalf("expected lastMapOffset reset to 0 after truncate, got %d", m.MapEndOffset())
	}
}

// forceReady drives a freshly constructed manager straight to READY without
// exercising the recovery machinery, for tests that only care about
// post-recovery behavior.
func forceReady(m *StateManager) {
	m.life.transitionTo(StateRecovering)
	m.life.transitionTo(StateReady)
}
