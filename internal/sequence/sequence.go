// Package sequence implements the classification rules of spec.md §4.5:
// given the next expected sequence number for a Line and an incoming
// sequence number, decide whether the record is in-order, a duplicate, a
// gap-fill, or the start of a new forward gap.
//
// The engine is stateless: all resident state (the expected sequence, the
// gap list) lives in the caller, matching spec.md §4.4's "parsers are
// stateless" requirement. Grounded on the teacher's ParsedMessage.Compare/
// ChangeType shape: a closed enum returned by a pure function, with the
// caller branching on the result instead of the function mutating shared
// state itself.
package sequence

import (
	"time"

	"github.com/csfeeds/feedhandler/internal/gaplist"
)

// Outcome classifies an incoming sequence number relative to what a Line
// expected next.
type Outcome int

const (
	// InOrder means seq == expected; the record should be processed and
	// expected advances by one.
	InOrder Outcome = iota
	// Duplicate means seq < expected and no gap range claims it; the
	// record is discarded.
	Duplicate
	// GapFill means seq < expected but a resident gap range contains it;
	// the record should be processed and the range updated.
	GapFill
	// ForwardGap means seq > expected; a new gap has opened covering
	// [expected, seq).
	ForwardGap
)

// Result reports the classification and the bookkeeping the caller must
// apply: which counters to bump, which alerts to raise, and the new
// value of the Line's expected sequence.
type Result struct {
	Outcome Outcome

	// GapRangeIndex is the gaplist.List index matched by Find, valid only
	// when Outcome == GapFill.
	GapRangeIndex int

	// Recovered is true when a GapFill successfully advances a range
	// (recovered_messages += 1).
	Recovered bool
	// FillLoss is the in-gap-skip loss reported by GapList.DeleteFrom when
	// seq lands ahead of a range's first sequence (valid on GapFill).
	FillLoss uint64
	// RangeFilled is true when the matched range is now fully consumed
	// and GapList.Count() should be checked for a NoGap alert.
	RangeFilled bool

	// NewGapLoss is the eviction loss reported by GapList.Push when a new
	// forward gap is pushed and capacity was exceeded (valid on
	// ForwardGap, only when a GapList is in use).
	NewGapLoss uint64
	// GapAlert is true when a GAP alert should be raised (ForwardGap).
	GapAlert bool
	// LossAlert is true when a LOSS alert should be raised (ForwardGap
	// with no GapList, or GapList.Push/DeleteFrom reporting loss).
	LossAlert bool
	// NoGapAlert is true when, after a GapFill completes the last
	// resident range, the GapList is now empty.
	NoGapAlert bool

	// NewExpected is the value the Line's next_seq_no must be set to
	// after this call. For InOrder it is expected+1; for ForwardGap it
	// is seq+1 (the record that opened the gap is itself accepted
	// in-order); for GapFill and Duplicate it equals the unchanged
	// expected, since seq lies below it.
	NewExpected uint64
}

// Engine classifies sequence numbers per spec.md §4.5. It carries no
// state; gl may be nil, meaning the Line has gap tracking disabled
// (fill_gaps.max == 0), in which case forward gaps degrade straight to
// lost_messages with no GAP alert.
type Engine struct{}

// Accept classifies seq against expected. gl may be nil when gap
// tracking is disabled for the Line.
func (Engine) Accept(expected, seq uint64, gl *gaplist.List, now time.Time) Result {
	switch {
	case seq == expected:
		return Result{Outcome: InOrder, NewExpected: expected + 1}

	case seq < expected:
		if gl == nil {
			return Result{Outcome: Duplicate, NewExpected: expected}
		}
		idx := gl.Find(seq)
		if idx < 0 {
			return Result{Outcome: Duplicate, NewExpected: expected}
		}
		loss, filled, err := gl.DeleteFrom(idx, seq)
		if err != nil {
			// Find and DeleteFrom must agree; treat disagreement as a
			// duplicate rather than panicking on internal state.
			return Result{Outcome: Duplicate, NewExpected: expected}
		}
		res := Result{
			Outcome:       GapFill,
			GapRangeIndex: idx,
			Recovered:     true,
			FillLoss:      loss,
			RangeFilled:   filled,
			NewExpected:   expected,
		}
		if loss > 0 {
			res.LossAlert = true
		}
		if filled && gl.Count() == 0 {
			res.NoGapAlert = true
		}
		return res

	default: // seq > expected
		gapSize := seq - expected
		res := Result{Outcome: ForwardGap, NewExpected: seq + 1}
		if gl != nil {
			loss := gl.Push(expected, gapSize, now)
			res.NewGapLoss = loss
			res.GapAlert = true
			if loss > 0 {
				res.LossAlert = true
			}
		} else {
			res.NewGapLoss = gapSize
			res.LossAlert = true
		}
		return res
	}
}

// AdvanceHeartbeat applies a heartbeat's sequence number to expected: it
// only moves expected forward, never backward (spec.md §4.5).
func AdvanceHeartbeat(expected, heartbeatSeq uint64) uint64 {
	if heartbeatSeq > expected {
		return heartbeatSeq
	}
	return expected
}
