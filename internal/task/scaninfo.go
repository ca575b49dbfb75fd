package task

import "cmp"

// TableScan names one table touched by a query fragment and rates how
// expensive scanning it is expected to be. Higher Slowness means slower.
type TableScan struct {
	DB       string
	Table    string
	Slowness int32
}

// ScanInfo is the table-level slowness manifest carried by a Task. Tasks
// within a chunk are ordered by comparing ScanInfo values (see Compare).
type ScanInfo struct {
	Tables []TableScan
}

// TotalSlowness sums the slowness rating across all tables touched.
func (s ScanInfo) TotalSlowness() int64 {
	var total int64
	for _, t := range s.Tables {
		total += int64(t.Slowness)
	}
	return total
}

// sortedDescending returns a copy of s.Tables ordered by descending
// slowness, ties broken by table name ascending. This is the canonical
// order the comparator walks; see Compare.
func (s ScanInfo) sortedDescending() []TableScan {
	out := make([]TableScan, len(s.Tables))
	copy(out, s.Tables)
	// Insertion sort: manifests are small (a handful of tables per query),
	// so O(n^2) is fine and avoids pulling in slices.SortFunc's allocation
	// for the common 1-3 element case.
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && lessTable(out[j], out[j-1]) {
			out[j], out[j-1] = out[j-1], out[j]
			j--
		}
	}
	return out
}

// lessTable orders by descending slowness, then ascending table name.
func lessTable(a, b TableScan) bool {
	if a.Slowness != b.Slowness {
		return a.Slowness > b.Slowness
	}
	return a.Table < b.Table
}

// Compare implements the "slower than" ordering used to rank tasks:
// comparing the two scan-info table lists in descending-slowness order,
// the list with the higher slowness at the first differing position is
// "slower" (negative result). Ties are broken by table name
// lexicographically, then by overall table-set size.
//
// Compare returns a value <0 if s is slower than other, >0 if other is
// slower, and 0 if they compare equal under this ordering.
func (s ScanInfo) Compare(other ScanInfo) int {
	a := s.sortedDescending()
	b := other.sortedDescending()

	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i].Slowness != b[i].Slowness {
			// Higher slowness sorts first ("slower"): return negative.
			return cmp.Compare(b[i].Slowness, a[i].Slowness)
		}
		if a[i].Table != b[i].Table {
			return cmp.Compare(a[i].Table, b[i].Table)
		}
	}
	return cmp.Compare(len(a), len(b))
}
