package pstate

import "fmt"

// TxnMetadata describes one in-flight transaction. It is keyed, in the
// ongoing-txn index, by FirstOffset.
type TxnMetadata struct {
	ProducerID  ProducerID
	FirstOffset Offset
	LastOffset  Offset // unset (0) until the transaction completes
}

func (t TxnMetadata) String() string {
	return fmt.Sprintf("TxnMetadata{producer=%s firstOffset=%s lastOffset=%s}", t.ProducerID, t.FirstOffset, t.LastOffset)
}

// CompletedTxn is the transient result of folding an end-transaction
// marker into a ProducerAppendInfo: it is consumed by
// StateManager.CompleteTxn and never stored directly.
type CompletedTxn struct {
	ProducerID  ProducerID
	FirstOffset Offset
	LastOffset  Offset
	IsAborted   bool
}

func (c CompletedTxn) String() string {
	return fmt.Sprintf("CompletedTxn{producer=%s firstOffset=%s lastOffset=%s aborted=%t}",
		c.ProducerID, c.FirstOffset, c.LastOffset, c.IsAborted)
}

// AbortedTxn is a persisted record of one aborted transaction, surfaced to
// read_committed consumers so they can filter fetched records. It is kept
// in memory only: this module has no binary encoding for it, and
// pstate/snapshot does not persist aborted transactions.
type AbortedTxn struct {
	ProducerID       ProducerID
	FirstOffset      Offset
	LastOffset       Offset
	LastStableOffset Offset
}

func (a AbortedTxn) String() string {
	return fmt.Sprintf("AbortedTxn{producer=%s firstOffset=%s lastOffset=%s lso=%s}",
		a.ProducerID, a.FirstOffset, a.LastOffset, a.LastStableOffset)
}

// AbortedTxnRef is the wire element returned to fetch responses: just the
// producer id and the transaction's first offset.
type AbortedTxnRef struct {
	ProducerID  ProducerID
	FirstOffset Offset
}
