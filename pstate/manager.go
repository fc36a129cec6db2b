package pstate

import (
	"context"
	"sync"

	"github.com/google/btree"
	"github.com/puzpuzpuz/xsync/v3"
)

// AnalyzeResult is the pure output of analyzing a RecordBatchSequence: the
// staged per-producer deltas, any transactions the sequence completed, and
// an optional duplicate short-circuit. Nothing here has been committed to
// the StateManager yet.
type AnalyzeResult struct {
	AppendInfoMap map[ProducerID]*ProducerAppendInfo
	CompletedTxns []CompletedTxn
	Duplicate     *BatchMetadata
}

// StateManager owns one partition's producer map, ongoing-transaction
// index, aborted-transaction index, and recovery lifecycle.
type StateManager struct {
	topicPartition string
	cfg            config
	life           *lifecycle

	producers *xsync.MapOf[ProducerID, *ProducerStateEntry]

	mu            sync.Mutex // guards everything below
	ongoingTxns   *btree.BTreeG[TxnMetadata]
	abortedIndex  []AbortedTxn
	lastMapOffset Offset
}

func txnLess(a, b TxnMetadata) bool { return a.FirstOffset < b.FirstOffset }

// New builds a StateManager for one topic-partition. It starts in
// StateInit; AnalyzeAndValidateProducerState, Update and CompleteTxn fail
// until Recover has brought it to StateReady.
func New(topicPartition string, opts ...Opt) *StateManager {
	cfg := defaultConfig()
	for _, o := range opts {
		o.apply(&cfg)
	}
	return &StateManager{
		topicPartition: topicPartition,
		cfg:            cfg,
		life:           newLifecycle(topicPartition, cfg.logger),
		producers:      xsync.NewMapOf[ProducerID, *ProducerStateEntry](),
		ongoingTxns:    btree.NewG[TxnMetadata](32, txnLess),
	}
}

// State returns the manager's current lifecycle state.
func (m *StateManager) State() State { return m.life.get() }

// lastEntry returns a read-only snapshot of a producer's current entry, or
// nil if it has never been seen.
func (m *StateManager) lastEntry(id ProducerID) *ProducerStateEntry {
	e, ok := m.producers.Load(id)
	if !ok {
		return nil
	}
	return e
}

// AnalyzeAndValidateProducerState is the pure analysis step for a batch of
// produce requests: it mutates nothing on the manager, only a fresh
// AppendInfoMap.
func (m *StateManager) AnalyzeAndValidateProducerState(batches RecordBatchSequence, firstOffset *Offset, origin Origin) (AnalyzeResult, error) {
	if err := m.life.requireReady(); err != nil {
		return AnalyzeResult{}, err
	}

	appendInfoMap := make(map[ProducerID]*ProducerAppendInfo)
	completed, dup, err := m.stageBatches(batches, firstOffset, origin, appendInfoMap)
	if err != nil {
		return AnalyzeResult{}, err
	}
	return AnalyzeResult{AppendInfoMap: appendInfoMap, CompletedTxns: completed, Duplicate: dup}, nil
}

// StageIntoLocalMap is AnalyzeAndValidateProducerState's core, exposed for
// LogRecovery: batches replayed from the log are staged into the
// caller-supplied localMap instead of a map created per call (LogRecovery
// uses one per drained slice and commits it before reading the next).
// Recovery does not gate on StateReady since it
// is what drives the manager to READY in the first place.
func (m *StateManager) StageIntoLocalMap(batches RecordBatchSequence, origin Origin, localMap map[ProducerID]*ProducerAppendInfo) ([]CompletedTxn, error) {
	completed, _, err := m.stageBatches(batches, nil, origin, localMap)
	return completed, err
}

// stageBatches is the shared duplicate-detection + per-batch append loop
// behind AnalyzeAndValidateProducerState and StageIntoLocalMap.
func (m *StateManager) stageBatches(batches RecordBatchSequence, firstOffset *Offset, origin Origin, appendInfoMap map[ProducerID]*ProducerAppendInfo) ([]CompletedTxn, *BatchMetadata, error) {
	var completedTxns []CompletedTxn

	for _, batch := range batches {
		pid := batch.ProducerID()
		if pid == NoProducerID {
			continue
		}

		current := m.lastEntry(pid)
		if current != nil {
			if dup, ok := current.findDuplicateBatch(batch.ProducerEpoch(), batch.BaseSequence(), batch.LastSequence()); ok {
				return completedTxns, &dup, nil
			}
		}

		info, ok := appendInfoMap[pid]
		if !ok {
			info = NewProducerAppendInfo(m.topicPartition, pid, current, origin)
			appendInfoMap[pid] = info
		}

		completed, err := info.Append(batch, firstOffset)
		if err != nil {
			return nil, nil, err
		}
		if completed != nil {
			completedTxns = append(completedTxns, *completed)
		}
	}

	return completedTxns, nil, nil
}

// Update installs or merges a staged ProducerAppendInfo into the manager.
// It is the only way producers/ongoingTxns are mutated from a successful
// append.
func (m *StateManager) Update(info *ProducerAppendInfo) error {
	if err := m.life.requireReady(); err != nil {
		return err
	}
	return m.updateLocked(info)
}

// UpdateDuringRecovery is Update without the READY gate, for
// pstate/recovery.LogRecovery to commit replayed state while the manager is
// still RECOVERING — recovery's entire purpose is to reach READY, so it
// cannot be blocked behind the gate it is driving.
func (m *StateManager) UpdateDuringRecovery(info *ProducerAppendInfo) error {
	return m.updateLocked(info)
}

func (m *StateManager) updateLocked(info *ProducerAppendInfo) error {
	if info.ProducerID == NoProducerID {
		return &IllegalStateError{Op: "Update", Reason: "producer id is NoProducerID"}
	}

	m.producers.Compute(info.ProducerID, func(old *ProducerStateEntry, loaded bool) (*ProducerStateEntry, bool) {
		if !loaded || old == nil {
			return info.UpdatedEntry(), false
		}
		return mergeEntries(old, info.UpdatedEntry()), false
	})

	if len(info.StartedTransactions()) > 0 {
		m.mu.Lock()
		for _, txn := range info.StartedTransactions() {
			m.ongoingTxns.ReplaceOrInsert(txn)
		}
		m.mu.Unlock()
	}
	return nil
}

// mergeEntries folds a staged update into the previously installed entry:
// maybeUpdateProducerEpoch (clearing history on an epoch bump), then
// draining the staged batches into the existing history honoring the
// retention cap, and overwriting currentTxnFirstOffset/lastTimestamp.
func mergeEntries(old, staged *ProducerStateEntry) *ProducerStateEntry {
	merged := old.clone()
	if staged.Epoch != merged.Epoch {
		merged.Batches = nil
	}
	merged.Epoch = staged.Epoch
	merged.CoordinatorEpoch = staged.CoordinatorEpoch
	merged.LastTimestamp = staged.LastTimestamp
	merged.CurrentTxnFirstOffset = cloneOffsetPtr(staged.CurrentTxnFirstOffset)
	for _, b := range staged.Batches {
		merged.addBatch(b)
	}
	return merged
}

// CompleteTxn removes a completed transaction from the ongoing-txn index
// and, if it was aborted, appends it to the aborted index.
func (m *StateManager) CompleteTxn(completed CompletedTxn) error {
	if err := m.life.requireReady(); err != nil {
		return err
	}
	return m.completeTxnLocked(completed)
}

// CompleteTxnDuringRecovery is CompleteTxn without the READY gate; see
// UpdateDuringRecovery.
func (m *StateManager) CompleteTxnDuringRecovery(completed CompletedTxn) error {
	return m.completeTxnLocked(completed)
}

func (m *StateManager) completeTxnLocked(completed CompletedTxn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.ongoingTxns.Delete(TxnMetadata{FirstOffset: completed.FirstOffset})
	if !ok {
		return &IllegalStateError{Op: "CompleteTxn", Reason: "no ongoing transaction at offset " + completed.FirstOffset.String()}
	}
	txn.LastOffset = completed.LastOffset

	if completed.IsAborted {
		lso := m.lastStableOffsetLocked(completed)
		m.abortedIndex = append(m.abortedIndex, AbortedTxn{
			ProducerID:       completed.ProducerID,
			FirstOffset:      completed.FirstOffset,
			LastOffset:       completed.LastOffset,
			LastStableOffset: lso,
		})
	}
	return nil
}

// LastStableOffset computes the LSO implied by completing txn: the
// earliest first-offset of any still-open transaction belonging to
// another producer, or completed.LastOffset+1 if none remain.
func (m *StateManager) LastStableOffset(completed CompletedTxn) Offset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastStableOffsetLocked(completed)
}

func (m *StateManager) lastStableOffsetLocked(completed CompletedTxn) Offset {
	var lso Offset = completed.LastOffset + 1
	m.ongoingTxns.Ascend(func(t TxnMetadata) bool {
		if t.ProducerID != completed.ProducerID {
			lso = t.FirstOffset
			return false
		}
		return true
	})
	return lso
}

// FirstUndecidedOffset returns the first offset of the earliest in-flight
// transaction, if any.
func (m *StateManager) FirstUndecidedOffset() (Offset, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.ongoingTxns.Min()
	if !ok {
		return 0, false
	}
	return t.FirstOffset, true
}

// GetAbortedIndexList returns every aborted transaction whose LastOffset is
// at least fetchOffset, preserving completion order.
func (m *StateManager) GetAbortedIndexList(fetchOffset Offset) []AbortedTxnRef {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []AbortedTxnRef
	for _, a := range m.abortedIndex {
		if a.LastOffset >= fetchOffset {
			out = append(out, AbortedTxnRef{ProducerID: a.ProducerID, FirstOffset: a.FirstOffset})
		}
	}
	return out
}

// RemoveExpiredProducers drops any entry with no in-flight transaction
// whose last append is at least maxProducerIDExpiration old as of now.
func (m *StateManager) RemoveExpiredProducers(now Timestamp) {
	maxIdle := int64(m.cfg.maxProducerIDExpiration / 1_000_000) // ns -> ms
	var expired []ProducerID
	m.producers.Range(func(id ProducerID, e *ProducerStateEntry) bool {
		if e.hasOpenTxn() {
			return true
		}
		if int64(now)-int64(e.LastTimestamp) >= maxIdle {
			expired = append(expired, id)
		}
		return true
	})
	for _, id := range expired {
		m.producers.Delete(id)
	}
	if len(expired) > 0 {
		m.cfg.logger.With(map[string]any{"topic_partition": m.topicPartition, "count": len(expired)}).Infof("pstate: removed expired producers")
	}
}

// UpdateMapEndOffset records the highest log offset now reflected in
// producers, the checkpoint the next snapshot is taken at.
func (m *StateManager) UpdateMapEndOffset(offset Offset) {
	m.mu.Lock()
	m.lastMapOffset = offset
	m.mu.Unlock()
}

// MapEndOffset returns the last offset recorded by UpdateMapEndOffset.
func (m *StateManager) MapEndOffset() Offset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMapOffset
}

// Truncate clears all producer and transaction state, as if the partition
// were freshly created. Per DESIGN.md's Open Question decision, this also
// clears abortedIndex.
func (m *StateManager) Truncate() {
	m.producers.Range(func(id ProducerID, _ *ProducerStateEntry) bool {
		m.producers.Delete(id)
		return true
	})

	m.mu.Lock()
	m.ongoingTxns = btree.NewG[TxnMetadata](32, txnLess)
	m.abortedIndex = nil
	m.lastMapOffset = 0
	m.mu.Unlock()
}

// forEachProducer calls fn for every currently tracked producer entry.
func (m *StateManager) forEachProducer(fn func(ProducerID, *ProducerStateEntry)) {
	m.producers.Range(func(id ProducerID, e *ProducerStateEntry) bool {
		fn(id, e)
		return true
	})
}

// loadProducerEntry installs an entry restored from a snapshot, re-
// registering any open transaction into ongoingTxns.
func (m *StateManager) loadProducerEntry(e *ProducerStateEntry) {
	m.producers.Store(e.ProducerID, e)
	if e.hasOpenTxn() {
		m.mu.Lock()
		m.ongoingTxns.ReplaceOrInsert(TxnMetadata{ProducerID: e.ProducerID, FirstOffset: *e.CurrentTxnFirstOffset})
		m.mu.Unlock()
	}
}

// ProducerView is the read-only slice of ProducerStateEntry the snapshot
// codec needs, exposed without handing out the mutable entry itself.
type ProducerView struct {
	Epoch            ProducerEpoch
	LastSeq          Sequence
	LastOffset       Offset
	OffsetDelta      int32
	Timestamp        Timestamp
	CoordinatorEpoch int32
	CurrentTxnFirst  *Offset
}

// ForEachProducer exposes every tracked producer to the snapshot encoder.
func (m *StateManager) ForEachProducer(fn func(ProducerID, ProducerView)) {
	m.forEachProducer(func(id ProducerID, e *ProducerStateEntry) {
		fn(id, ProducerView{
			Epoch:            e.Epoch,
			LastSeq:          e.lastSeq(),
			LastOffset:       e.lastDataOffset(),
			OffsetDelta:      e.lastOffsetDelta(),
			Timestamp:        e.LastTimestamp,
			CoordinatorEpoch: e.CoordinatorEpoch,
			CurrentTxnFirst:  cloneOffsetPtr(e.CurrentTxnFirstOffset),
		})
	})
}

// SnapshotEntry is the wire-level decoded shape the snapshot codec hands
// back to LoadEntry. It lives here rather than in the snapshot package so
// both packages share one definition without an import cycle.
type SnapshotEntry struct {
	ProducerID       ProducerID
	Epoch            ProducerEpoch
	LastSequence     Sequence
	LastOffset       Offset
	OffsetDelta      int32
	Timestamp        Timestamp
	CoordinatorEpoch int32
	CurrentTxnFirst  Offset // -1 if none
}

// LoadEntry installs one decoded snapshot entry, skipping it if it is
// already past idle expiration as of nowMs. A history of at most one batch
// is reconstructed, matching what the codec round-trips.
func (m *StateManager) LoadEntry(e SnapshotEntry, nowMs Timestamp, maxIdleMs int64) {
	if int64(nowMs)-int64(e.Timestamp) >= maxIdleMs {
		return
	}

	entry := &ProducerStateEntry{
		ProducerID:       e.ProducerID,
		Epoch:            e.Epoch,
		CoordinatorEpoch: e.CoordinatorEpoch,
		LastTimestamp:    e.Timestamp,
	}
	if e.CurrentTxnFirst >= 0 {
		off := e.CurrentTxnFirst
		entry.CurrentTxnFirstOffset = &off
	}
	if e.LastOffset >= 0 {
		entry.Batches = []BatchMetadata{NewBatchMetadata(e.LastSequence, e.LastOffset, e.OffsetDelta, e.Timestamp)}
	}

	m.loadProducerEntry(entry)
}

// Recover drives the lifecycle state machine: load the last snapshot (if
// any), then replay the log from that checkpoint to the tail. recoverFn is
// supplied by the caller (normally snapshot.LoadFromSnapshot
// composed with recovery.LogRecovery.Run) so this package's core has no
// direct compile-time dependency on the snapshot/recovery subpackages.
func (m *StateManager) Recover(ctx context.Context, recoverFn func(context.Context, *StateManager) error) error {
	return m.life.recoverOnce(ctx, func(ctx context.Context) error {
		return recoverFn(ctx, m)
	})
}
