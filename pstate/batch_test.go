package pstate

import "testing"

func TestBatchMetadataFirstSeqAndOffset(t *testing.T) {
	b := NewBatchMetadata(9, 109, 4, 1000)
	if got := b.FirstSeq(); got != 5 {
		t.Fatalf("FirstSeq() = %d, want 5", got)
	}
	if got := b.FirstOffset(); got != 105 {
		t.Fatalf("FirstOffset() = %d, want 105", got)
	}
}

func TestBatchMetadataMatchesRange(t *testing.T) {
	b := NewBatchMetadata(9, 109, 4, 1000)
	if !b.matchesRange(5, 9) {
		t.Fatalf("matchesRange(5,9) = false, want true")
	}
	if b.matchesRange(5, 8) {
		t.Fatalf("matchesRange(5,8) = true, want false")
	}
}
