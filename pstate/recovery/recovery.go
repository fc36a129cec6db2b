// Package recovery drives forward log replay to bring a StateManager from
// RECOVERING to READY.
package recovery

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kop-go/pstate/pstate"
)

// LogRecovery replays a partition's log from the manager's last checkpoint
// to the tail, staging each drained slice into a transient local map and
// committing it before moving on.
type LogRecovery struct {
	decoder        pstate.RecordDecoder
	cacheQueueSize int
	maxErrorCount  int
	log            pstate.Logger
}

func New(decoder pstate.RecordDecoder, cacheQueueSize, maxErrorCount int, log pstate.Logger) *LogRecovery {
	if cacheQueueSize <= 0 {
		cacheQueueSize = 100
	}
	return &LogRecovery{decoder: decoder, cacheQueueSize: cacheQueueSize, maxErrorCount: maxErrorCount, log: log}
}

// RunFromLogStore resolves cursorName's starting position against
// checkpoint, opens a non-durable cursor there, and replays it into mgr.
// This is the recoverFn composition StateManager.Recover expects: find the
// position, open the cursor, run the replay.
func (r *LogRecovery) RunFromLogStore(ctx context.Context, logStore pstate.LogStore, checkpoint pstate.Offset, cursorName string, mgr *pstate.StateManager) error {
	pos, err := logStore.AsyncFindPosition(ctx, checkpoint).Get(ctx)
	if err != nil {
		return err
	}
	cursor, err := logStore.NewNonDurableCursor(pos, cursorName)
	if err != nil {
		return err
	}
	return r.Run(ctx, cursor, mgr)
}

// Run drains cursor forward, committing replayed batches into mgr via its
// *DuringRecovery entry points, until the cursor signals exhaustion or the
// transient-error budget (maxErrorCount) is spent. It is meant to be handed
// to StateManager.Recover as the recoverFn. Both a failed read off cursor
// and a failed decode/stage of an already-read slice count against the
// same budget, since either is a transient condition recovery should be
// able to ride out by retrying.
func (r *LogRecovery) Run(ctx context.Context, cursor pstate.Cursor, mgr *pstate.StateManager) error {
	queue := make(chan []pstate.Entry, 1)
	refillNeeded := make(chan struct{}, 1)
	refillNeeded <- struct{}{} // prime the first read

	g, gctx := errgroup.WithContext(ctx)

	var errMu sync.Mutex
	var errorCount int
	var lastErr error

	// recordTransientError tallies err against the shared budget, logs it,
	// and returns a terminal RecoveryFailedError once the budget is spent.
	recordTransientError := func(stage string, err error) error {
		errMu.Lock()
		errorCount++
		lastErr = err
		count := errorCount
		errMu.Unlock()

		r.log.With(map[string]any{"error": err.Error(), "count": count, "stage": stage}).Warnf("pstate: recovery: transient error")
		if count > r.maxErrorCount {
			return &pstate.RecoveryFailedError{ErrorCount: count, LastErr: lastErr}
		}
		return nil
	}

	var readComplete bool
	g.Go(func() error {
		defer close(queue)
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case _, ok := <-refillNeeded:
				if !ok {
					return nil
				}
			}
			if readComplete {
				return nil
			}

			entries, err := cursor.AsyncReadEntries(gctx, r.cacheQueueSize).Get(gctx)
			if errors.Is(err, pstate.ErrNoMoreEntriesToRead) || (err == nil && len(entries) == 0) {
				readComplete = true
				return nil
			}
			if err != nil {
				if failErr := recordTransientError("read", err); failErr != nil {
					return failErr
				}
				r.requestRefill(refillNeeded)
				continue
			}

			select {
			case queue <- entries:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		for entries := range queue {
			localMap := make(map[pstate.ProducerID]*pstate.ProducerAppendInfo)

			decoded, err := r.decoder.Decode(entries, 0)
			if err != nil {
				if failErr := recordTransientError("decode", err); failErr != nil {
					return failErr
				}
				r.requestRefill(refillNeeded)
				continue
			}

			completed, err := mgr.StageIntoLocalMap(decoded.Batches, pstate.OriginLog, localMap)
			if err != nil {
				if failErr := recordTransientError("stage", err); failErr != nil {
					return failErr
				}
				r.requestRefill(refillNeeded)
				continue
			}

			for _, info := range localMap {
				if err := mgr.UpdateDuringRecovery(info); err != nil {
					return err
				}
			}
			for _, txn := range completed {
				if err := mgr.CompleteTxnDuringRecovery(txn); err != nil {
					return err
				}
			}

			r.requestRefill(refillNeeded)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

func (r *LogRecovery) requestRefill(refillNeeded chan struct{}) {
	select {
	case refillNeeded <- struct{}{}:
	default:
	}
}
