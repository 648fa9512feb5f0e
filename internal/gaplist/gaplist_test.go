package gaplist

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestPushAndFind(t *testing.T) {
	l := New(4, time.Minute)
	if loss := l.Push(100, 4, epoch); loss != 0 {
		t.Fatalf("unexpected loss on first push: %d", loss)
	}
	if i := l.Find(101); i != 0 {
		t.Fatalf("Find(101) = %d, want 0", i)
	}
	if i := l.Find(104); i != -1 {
		t.Fatalf("Find(104) = %d, want -1 (outside half-open range)", i)
	}
}

func TestPushOverflowEvictsFront(t *testing.T) {
	l := New(1, time.Minute)
	l.Push(10, 3, epoch)
	loss := l.Push(20, 5, epoch)
	if loss != 3 {
		t.Fatalf("loss = %d, want 3", loss)
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}
	if i := l.Find(20); i != 0 {
		t.Fatalf("expected new range resident, Find(20) = %d", i)
	}
}

func TestDeleteFromExactFirstFillsRange(t *testing.T) {
	l := New(4, time.Minute)
	l.Push(10, 2, epoch)
	loss, filled, err := l.DeleteFrom(0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if loss != 0 || filled {
		t.Fatalf("loss=%d filled=%v, want 0,false", loss, filled)
	}
	loss, filled, err = l.DeleteFrom(0, 11)
	if err != nil {
		t.Fatal(err)
	}
	if loss != 0 || !filled {
		t.Fatalf("loss=%d filled=%v, want 0,true", loss, filled)
	}
	if l.Len() != 0 {
		t.Fatalf("expected range removed once filled, Len=%d", l.Len())
	}
}

func TestDeleteFromInGapSkip(t *testing.T) {
	l := New(4, time.Minute)
	l.Push(100, 4, epoch)
	loss, filled, err := l.DeleteFrom(0, 102)
	if err != nil {
		t.Fatal(err)
	}
	if loss != 2 {
		t.Fatalf("loss = %d, want 2 (sequences 100,101 skipped)", loss)
	}
	if filled {
		t.Fatal("range should still have one sequence remaining (103)")
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}
	r := l.RangeAt(0)
	if r.First != 103 || r.Count != 1 {
		t.Fatalf("range = %+v, want First=103 Count=1", r)
	}
}

func TestDeleteFromOutsideRange(t *testing.T) {
	l := New(4, time.Minute)
	l.Push(10, 2, epoch)
	if _, _, err := l.DeleteFrom(0, 99); err != ErrOutsideRange {
		t.Fatalf("expected ErrOutsideRange, got %v", err)
	}
}

func TestFlushExpiresByDeadline(t *testing.T) {
	l := New(4, time.Second)
	l.Push(10, 3, epoch)
	l.Push(20, 5, epoch.Add(time.Hour))

	loss := l.Flush(epoch.Add(2 * time.Second))
	if loss != 3 {
		t.Fatalf("expiredLoss = %d, want 3", loss)
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (only the far-future range survives)", l.Len())
	}
	if i := l.Find(20); i != 0 {
		t.Fatalf("surviving range not found at index 0: %d", i)
	}
}

func TestDisjointRangesNeverSplitOrMerge(t *testing.T) {
	l := New(4, time.Minute)
	l.Push(10, 3, epoch)
	l.Push(20, 3, epoch)
	if l.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (push never merges)", l.Len())
	}
}

func TestCountSumsResidentRanges(t *testing.T) {
	l := New(4, time.Minute)
	l.Push(10, 3, epoch)
	l.Push(20, 5, epoch)
	if c := l.Count(); c != 8 {
		t.Fatalf("Count() = %d, want 8", c)
	}
}
