package snapshot

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/kop-go/pstate/pstate"
)

// Manager is the subset of pstate.StateManager the snapshot IO needs:
// enough to assemble a Snapshot and install one back, without this package
// importing pstate's unexported fields directly.
type Manager interface {
	MapEndOffset() pstate.Offset
	ForEachProducer(fn func(pstate.ProducerID, pstate.ProducerView))
	LoadEntry(e pstate.SnapshotEntry, nowMs pstate.Timestamp, maxIdleMs int64)
	UpdateMapEndOffset(offset pstate.Offset)
}

// IO wraps a SnapshotWriter/SnapshotReader pair with single-in-flight write
// semantics: a snapshot already being written is shared rather than
// duplicated, and a failed write just fails the returned future for the
// caller to retry.
type IO struct {
	writer pstate.SnapshotWriter
	reader pstate.SnapshotReader
	sf     singleflight.Group
}

func New(w pstate.SnapshotWriter, r pstate.SnapshotReader) *IO {
	return &IO{writer: w, reader: r}
}

// TakeSnapshot assembles the current producer set and appends its encoding
// via the snapshot writer. Concurrent calls collapse onto one in-flight
// write and share its result.
func (io *IO) TakeSnapshot(ctx context.Context, mgr Manager) *pstate.Future[pstate.MessageID] {
	future, resolve := pstate.NewFuture[pstate.MessageID]()

	go func() {
		v, err, _ := io.sf.Do("snapshot", func() (any, error) {
			snap := Snapshot{SnapshotOffset: mgr.MapEndOffset()}
			mgr.ForEachProducer(func(id pstate.ProducerID, p pstate.ProducerView) {
				txnFirst := pstate.Offset(-1)
				if p.CurrentTxnFirst != nil {
					txnFirst = *p.CurrentTxnFirst
				}
				snap.Entries = append(snap.Entries, pstate.SnapshotEntry{
					ProducerID:       id,
					Epoch:            p.Epoch,
					LastSequence:     p.LastSeq,
					LastOffset:       p.LastOffset,
					OffsetDelta:      p.OffsetDelta,
					Timestamp:        p.Timestamp,
					CoordinatorEpoch: p.CoordinatorEpoch,
					CurrentTxnFirst:  txnFirst,
				})
			})

			id, err := io.writer.WriteAsync(ctx, Encode(snap)).Get(ctx)
			if err != nil {
				return pstate.MessageID{}, err
			}
			return id, nil
		})
		if err != nil {
			resolve(pstate.MessageID{}, err)
			return
		}
		resolve(v.(pstate.MessageID), nil)
	}()

	return future
}

// LoadFromSnapshot reads the last valid snapshot message, decodes it, and
// installs every non-expired entry into mgr. Absence of any prior snapshot
// is success with empty state, not an error.
func (io *IO) LoadFromSnapshot(ctx context.Context, mgr Manager, nowMs pstate.Timestamp, maxIdleMs int64) *pstate.Future[struct{}] {
	future, resolve := pstate.NewFuture[struct{}]()

	go func() {
		msg, err := io.reader.ReadLastValidMessage(ctx).Get(ctx)
		if err != nil {
			resolve(struct{}{}, err)
			return
		}
		if msg == nil {
			resolve(struct{}{}, nil)
			return
		}

		snap, err := Decode(msg.Data)
		if err != nil {
			resolve(struct{}{}, err)
			return
		}

		for _, e := range snap.Entries {
			mgr.LoadEntry(e, nowMs, maxIdleMs)
		}
		mgr.UpdateMapEndOffset(snap.SnapshotOffset)
		resolve(struct{}{}, nil)
	}()

	return future
}
