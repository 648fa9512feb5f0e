package ordertable

import "testing"

func seed(t *Table, key Key, shares uint32) *Entry {
	e := &Entry{Key: key, Shares: shares, Side: Buy}
	if _, err := t.Insert(e); err != nil {
		panic(err)
	}
	return e
}

func TestExecuteToZeroRemoves(t *testing.T) {
	tbl := New(8, nil)
	key := NumKey(7)
	seed(tbl, key, 100)

	e, over, removed, err := tbl.Execute(key, 100)
	if err != nil {
		t.Fatal(err)
	}
	if over {
		t.Fatal("did not expect over-execution")
	}
	if !removed {
		t.Fatal("expected entry removed at zero shares")
	}
	if e.Shares != 0 {
		t.Fatalf("Shares = %d, want 0", e.Shares)
	}
	if _, ok := tbl.Get(key); ok {
		t.Fatal("entry should no longer be resident")
	}
}

func TestExecuteOverExecutionClamps(t *testing.T) {
	tbl := New(8, nil)
	key := NumKey(1)
	seed(tbl, key, 10)

	e, over, removed, err := tbl.Execute(key, 50)
	if err != nil {
		t.Fatal(err)
	}
	if !over {
		t.Fatal("expected over-execution to be reported")
	}
	if !removed {
		t.Fatal("expected removal once shares clamp to zero")
	}
	if e.Shares != 0 {
		t.Fatalf("Shares = %d, want clamped to 0", e.Shares)
	}
}

func TestExecuteAtPriceDeletesAtZero(t *testing.T) {
	tbl := New(8, nil)
	key := NumKey(7)
	seed(tbl, key, 100)

	e, removed, err := tbl.ExecuteAtPrice(key, 0, 100050)
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Fatal("expected removal at remaining=0")
	}
	if e.Price != 100050 {
		t.Fatalf("Price = %d, want 100050", e.Price)
	}
}

func TestReduceSizeNeverGoesNegative(t *testing.T) {
	tbl := New(8, nil)
	key := NumKey(3)
	seed(tbl, key, 5)

	e, underflow, err := tbl.ReduceSize(key, 9)
	if err != nil {
		t.Fatal(err)
	}
	if !underflow {
		t.Fatal("expected underflow reported")
	}
	if e.Shares != 0 {
		t.Fatalf("Shares = %d, want clamped to 0 not wrapped", e.Shares)
	}
	if _, ok := tbl.Get(key); !ok {
		t.Fatal("ReduceSize to zero must not delete the entry")
	}
}

func TestModifyOverwrites(t *testing.T) {
	tbl := New(8, nil)
	key := NumKey(9)
	seed(tbl, key, 5)

	e, err := tbl.Modify(key, 40, 250000)
	if err != nil {
		t.Fatal(err)
	}
	if e.Shares != 40 || e.Price != 250000 {
		t.Fatalf("got shares=%d price=%d", e.Shares, e.Price)
	}
}

func TestReplaceMovesKey(t *testing.T) {
	tbl := New(8, nil)
	oldKey := NumKey(1)
	seed(tbl, oldKey, 10)

	newKey := NumKey(2)
	_, err := tbl.Replace(oldKey, &Entry{Key: newKey, Shares: 10, Side: Buy})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tbl.Get(oldKey); ok {
		t.Fatal("old key should be gone after Replace")
	}
	if _, ok := tbl.Get(newKey); !ok {
		t.Fatal("new key should be resident after Replace")
	}
}

func TestReplaceMissingOldKey(t *testing.T) {
	tbl := New(8, nil)
	if _, err := tbl.Replace(NumKey(404), &Entry{Key: NumKey(1)}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMissingKeyOperationsReturnErrNotFound(t *testing.T) {
	tbl := New(8, nil)
	if _, _, _, err := tbl.Execute(NumKey(1), 1); err != ErrNotFound {
		t.Errorf("Execute: expected ErrNotFound, got %v", err)
	}
	if _, _, err := tbl.ExecuteAtPrice(NumKey(1), 0, 0); err != ErrNotFound {
		t.Errorf("ExecuteAtPrice: expected ErrNotFound, got %v", err)
	}
	if _, _, err := tbl.ReduceSize(NumKey(1), 1); err != ErrNotFound {
		t.Errorf("ReduceSize: expected ErrNotFound, got %v", err)
	}
	if _, err := tbl.Modify(NumKey(1), 1, 1); err != ErrNotFound {
		t.Errorf("Modify: expected ErrNotFound, got %v", err)
	}
}

func TestRefKeyPadding(t *testing.T) {
	k := RefKey("ABC123")
	if k.Ref[0] != 'A' || k.Ref[19] != ' ' {
		t.Fatalf("unexpected ref key padding: %v", k.Ref)
	}
}
