package task

import "testing"

func TestCompareSlowerTableWins(t *testing.T) {
	a := ScanInfo{Tables: []TableScan{{DB: "d", Table: "Object", Slowness: 10}}}
	b := ScanInfo{Tables: []TableScan{{DB: "d", Table: "Source", Slowness: 5}}}
	if a.Compare(b) >= 0 {
		t.Fatalf("expected a to be slower (negative compare), got %d", a.Compare(b))
	}
	if b.Compare(a) <= 0 {
		t.Fatalf("expected b to be faster (positive compare), got %d", b.Compare(a))
	}
}

func TestCompareTiesBrokenByTableName(t *testing.T) {
	a := ScanInfo{Tables: []TableScan{{Table: "Alpha", Slowness: 10}}}
	b := ScanInfo{Tables: []TableScan{{Table: "Beta", Slowness: 10}}}
	if a.Compare(b) >= 0 {
		t.Fatalf("expected Alpha < Beta lexicographically to make a slower, got %d", a.Compare(b))
	}
}

func TestCompareTiesBrokenBySetSize(t *testing.T) {
	a := ScanInfo{Tables: []TableScan{{Table: "Alpha", Slowness: 10}}}
	b := ScanInfo{Tables: []TableScan{{Table: "Alpha", Slowness: 10}, {Table: "Beta", Slowness: 1}}}
	if a.Compare(b) >= 0 {
		t.Fatalf("expected fewer tables to compare slower (smaller), got %d", a.Compare(b))
	}
}

func TestCompareEqual(t *testing.T) {
	a := ScanInfo{Tables: []TableScan{{Table: "Alpha", Slowness: 10}}}
	b := ScanInfo{Tables: []TableScan{{Table: "Alpha", Slowness: 10}}}
	if a.Compare(b) != 0 {
		t.Fatalf("expected equal scan infos to compare 0, got %d", a.Compare(b))
	}
}

func TestCompareDescendingOrderAtFirstDifferingPosition(t *testing.T) {
	// Both touch two tables; first (slowest) table ties, second differs.
	a := ScanInfo{Tables: []TableScan{{Table: "Object", Slowness: 100}, {Table: "Source", Slowness: 20}}}
	b := ScanInfo{Tables: []TableScan{{Table: "Object", Slowness: 100}, {Table: "Source", Slowness: 5}}}
	if a.Compare(b) >= 0 {
		t.Fatalf("expected a slower due to second table, got %d", a.Compare(b))
	}
}

func TestTotalSlowness(t *testing.T) {
	s := ScanInfo{Tables: []TableScan{{Slowness: 3}, {Slowness: 4}}}
	if s.TotalSlowness() != 7 {
		t.Fatalf("total slowness = %d, want 7", s.TotalSlowness())
	}
}
