package pstate

import (
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kerr"
)

// Sentinels for the error kinds this module raises that have no matching
// Kafka protocol error code (kerr only catalogs codes a broker puts on the
// wire; these three are purely internal to a producer-state manager).
var (
	// ErrSnapshotCorrupt is returned by SnapshotCodec.Decode on a version,
	// CRC, or schema mismatch.
	ErrSnapshotCorrupt = errors.New("pstate: snapshot corrupt")

	// ErrIllegalState marks a programmer error: completing an unknown
	// transaction, or calling update with NoProducerID. Non-recoverable.
	ErrIllegalState = errors.New("pstate: illegal state")

	// ErrRecoveryFailed is the aggregate error surfaced once LogRecovery's
	// transient-error budget is exhausted.
	ErrRecoveryFailed = errors.New("pstate: recovery failed")
)

// InvalidProducerEpochError is returned when an incoming batch's epoch is
// older than the epoch already recorded for its producer.
type InvalidProducerEpochError struct {
	ProducerID   ProducerID
	GotEpoch     ProducerEpoch
	CurrentEpoch ProducerEpoch
}

func (e *InvalidProducerEpochError) Error() string {
	return fmt.Sprintf("producer %s: invalid epoch %s, current epoch is %s", e.ProducerID, e.GotEpoch, e.CurrentEpoch)
}

func (e *InvalidProducerEpochError) Unwrap() error { return kerr.InvalidProducerEpoch }

// OutOfOrderSequenceError is returned when an incoming batch's first
// sequence is not the valid successor of the producer's last seen sequence.
type OutOfOrderSequenceError struct {
	ProducerID  ProducerID
	GotFirstSeq Sequence
	WantSeq     Sequence // the sequence that would have been accepted
}

func (e *OutOfOrderSequenceError) Error() string {
	return fmt.Sprintf("producer %s: out of order sequence, got %s, expected %s", e.ProducerID, e.GotFirstSeq, e.WantSeq)
}

func (e *OutOfOrderSequenceError) Unwrap() error { return kerr.OutOfOrderSequenceNumber }

// InvalidTxnStateError is returned when a non-transactional batch arrives
// for a producer that currently has a transaction in flight.
type InvalidTxnStateError struct {
	ProducerID ProducerID
}

func (e *InvalidTxnStateError) Error() string {
	return fmt.Sprintf("producer %s: invalid transaction state, transaction already in progress", e.ProducerID)
}

func (e *InvalidTxnStateError) Unwrap() error { return kerr.InvalidTxnState }

// SnapshotCorruptError carries detail about why a snapshot failed to decode.
type SnapshotCorruptError struct {
	Reason string
}

func (e *SnapshotCorruptError) Error() string {
	return fmt.Sprintf("pstate: snapshot corrupt: %s", e.Reason)
}

func (e *SnapshotCorruptError) Unwrap() error { return ErrSnapshotCorrupt }

// IllegalStateError carries detail about which operation hit a programmer
// error (e.g. completing a transaction that was never opened).
type IllegalStateError struct {
	Op     string
	Reason string
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("pstate: illegal state in %s: %s", e.Op, e.Reason)
}

func (e *IllegalStateError) Unwrap() error { return ErrIllegalState }

// RecoveryFailedError wraps the last transient error observed once the
// recovery error budget is exhausted.
type RecoveryFailedError struct {
	ErrorCount int
	LastErr    error
}

func (e *RecoveryFailedError) Error() string {
	return fmt.Sprintf("pstate: recovery failed after %d errors: %v", e.ErrorCount, e.LastErr)
}

func (e *RecoveryFailedError) Unwrap() error { return ErrRecoveryFailed }
