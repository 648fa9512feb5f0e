package symboltable

import "testing"

func TestNewKeyPadding(t *testing.T) {
	k := NewKey("MSFT")
	if k.String() != "MSFT                " {
		t.Fatalf("got %q", k.String())
	}
	if len(k) != 20 {
		t.Fatalf("key length = %d, want 20", len(k))
	}
}

func TestGetOrInsertInterns(t *testing.T) {
	tbl := New(8, nil)
	k := NewKey("MSFT")
	e1 := tbl.GetOrInsert(k)
	e2 := tbl.GetOrInsert(k)
	if e1 != e2 {
		t.Fatal("GetOrInsert returned different entries for the same key")
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}
}

func TestInsertDuplicate(t *testing.T) {
	tbl := New(8, nil)
	k := NewKey("MSFT")
	if _, err := tbl.Insert(&Entry{Key: k}); err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Insert(&Entry{Key: k}); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestOccupancyWarningCadence(t *testing.T) {
	var warnings int
	tbl := New(10, func(occupied, capacity int) { warnings++ })
	for i := 0; i < 9; i++ {
		tbl.GetOrInsert(NewKey(string(rune('A' + i))))
	}
	if warnings != 1 {
		t.Fatalf("warnings = %d, want 1 at 90%% occupancy", warnings)
	}
}

func TestDeleteAndGet(t *testing.T) {
	tbl := New(4, nil)
	k := NewKey("IBM")
	tbl.GetOrInsert(k)
	if _, ok := tbl.Get(k); !ok {
		t.Fatal("expected entry present")
	}
	if _, ok := tbl.Delete(k); !ok {
		t.Fatal("expected delete to find entry")
	}
	if _, ok := tbl.Get(k); ok {
		t.Fatal("expected entry gone after delete")
	}
}
