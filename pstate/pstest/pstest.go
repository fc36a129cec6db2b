// Package pstest provides in-memory test doubles for the external
// collaborators pstate depends on (LogStore, Cursor, RecordDecoder,
// SnapshotWriter, SnapshotReader), shared across the module's own tests the
// way a fake broker stands in for a real one.
package pstest

import (
	"context"
	"errors"
	"sync"

	"github.com/kop-go/pstate/pstate"
)

// Batch is a concrete, struct-based pstate.RecordBatch for tests to build
// by hand instead of implementing the interface ad hoc per test file.
type Batch struct {
	PID         pstate.ProducerID
	Epoch       pstate.ProducerEpoch
	BaseSeq     pstate.Sequence
	LastSeq     pstate.Sequence
	BaseOff     pstate.Offset
	LastOff     pstate.Offset
	MaxTS       pstate.Timestamp
	Txn         bool
	Control     bool
	Marker      pstate.EndTransactionMarker
	EmptyMarker bool // true models a compacted-away control record
}

func (b Batch) ProducerID() pstate.ProducerID      { return b.PID }
func (b Batch) ProducerEpoch() pstate.ProducerEpoch { return b.Epoch }
func (b Batch) BaseSequence() pstate.Sequence       { return b.BaseSeq }
func (b Batch) LastSequence() pstate.Sequence       { return b.LastSeq }
func (b Batch) BaseOffset() pstate.Offset           { return b.BaseOff }
func (b Batch) LastOffset() pstate.Offset           { return b.LastOff }
func (b Batch) MaxTimestamp() pstate.Timestamp      { return b.MaxTS }
func (b Batch) IsTransactional() bool               { return b.Txn }
func (b Batch) IsControlBatch() bool                { return b.Control }

func (b Batch) ControlMarker() (pstate.EndTransactionMarker, bool) {
	if b.EmptyMarker {
		return pstate.EndTransactionMarker{}, false
	}
	return b.Marker, true
}

// Decoder is a RecordDecoder that returns pre-arranged batches regardless
// of the entries passed in, keyed by call order; tests drive recovery
// replay by queuing up one []RecordBatch per expected drain.
type Decoder struct {
	mu      sync.Mutex
	Results []pstate.RecordBatchSequence
	Err     error
	calls   int
}

func (d *Decoder) Decode(entries []pstate.Entry, magic int8) (pstate.DecodeResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return pstate.DecodeResult{}, d.Err
	}
	if d.calls >= len(d.Results) {
		return pstate.DecodeResult{}, nil
	}
	r := d.Results[d.calls]
	d.calls++
	return pstate.DecodeResult{Batches: r}, nil
}

// Cursor replays a fixed sequence of entry slices, then raises
// ErrNoMoreEntriesToRead. FailReads lets a test inject that many transient
// read errors (FailErr) before the next slice is served, to exercise a
// LogRecovery's transient-error budget against the read path itself.
type Cursor struct {
	mu        sync.Mutex
	Slices    [][]pstate.Entry
	idx       int
	FailReads int
	FailErr   error
	failCount int
}

func NewCursor(slices [][]pstate.Entry) *Cursor {
	return &Cursor{Slices: slices}
}

func (c *Cursor) AsyncReadEntries(ctx context.Context, n int) *pstate.Future[[]pstate.Entry] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failCount < c.FailReads {
		c.failCount++
		err := c.FailErr
		if err == nil {
			err = errTransientRead
		}
		return pstate.Resolved[[]pstate.Entry](nil, err)
	}

	if c.idx >= len(c.Slices) {
		return pstate.Resolved[[]pstate.Entry](nil, pstate.ErrNoMoreEntriesToRead)
	}
	s := c.Slices[c.idx]
	c.idx++
	return pstate.Resolved(s, nil)
}

var errTransientRead = errors.New("pstest: injected transient read error")

// LogStore is a trivial LogStore whose NewNonDurableCursor always returns
// the same Cursor, and whose AsyncFindPosition always succeeds at the
// requested checkpoint offset.
type LogStore struct {
	Cur *Cursor
}

func (l *LogStore) AsyncFindPosition(ctx context.Context, offset pstate.Offset) *pstate.Future[pstate.Position] {
	return pstate.Resolved(pstate.Position{Offset: offset}, nil)
}

func (l *LogStore) NewNonDurableCursor(pos pstate.Position, name string) (pstate.Cursor, error) {
	return l.Cur, nil
}

// SnapshotStore is an in-memory SnapshotWriter+SnapshotReader pair: writes
// append to an in-memory log, reads return the last write.
type SnapshotStore struct {
	mu       sync.Mutex
	messages []pstate.Message
	nextID   int64
}

func (s *SnapshotStore) WriteAsync(ctx context.Context, data []byte) *pstate.Future[pstate.MessageID] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := pstate.MessageID{LedgerID: 1, EntryID: s.nextID}
	s.messages = append(s.messages, pstate.Message{ID: id, Data: data})
	return pstate.Resolved(id, nil)
}

func (s *SnapshotStore) ReadLastValidMessage(ctx context.Context) *pstate.Future[*pstate.Message] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return pstate.Resolved[*pstate.Message](nil, nil)
	}
	msg := s.messages[len(s.messages)-1]
	return pstate.Resolved(&msg, nil)
}
