// Package bandwidth implements the precomputed bandwidth lookup table:
// a pure, deterministic, total function from (io_depth, num_jobs,
// split_percent) to expected IOPS.
package bandwidth

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"io"
	"strconv"
)

//go:embed table.csv
var defaultTableCSV []byte

// key identifies one grid point.
type key struct {
	ioDepth, numJobs, splitPercent int
}

// Table is an immutable (io_depth, num_jobs, split%) -> IOPS mapping.
// The zero value is not usable; construct with Load or Default.
type Table struct {
	rows map[key]int64

	// sorted split percentages per (io_depth, num_jobs), used for
	// nearest-grid-point fallback on off-grid splitPercent values.
	splitsByDim map[[2]int][]int
}

// Default returns the table built from the grid embedded in the module.
// The same *Table is safe to share across goroutines; it is read-only
// after construction.
func Default() *Table {
	t, err := Load(bytes.NewReader(defaultTableCSV))
	if err != nil {
		// The embedded grid is a build-time asset; a parse failure here
		// is a packaging bug, not a runtime condition callers can act on.
		panic("bandwidth: embedded table.csv is invalid: " + err.Error())
	}
	return t
}

// Load parses a CSV grid with header "io_depth,num_jobs,split_percent,iops".
func Load(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // rows of unexpected width are skipped below, not fatal

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}

	t := &Table{
		rows:        make(map[key]int64, len(records)),
		splitsByDim: make(map[[2]int][]int),
	}

	for i, rec := range records {
		if i == 0 && isHeader(rec) {
			continue
		}
		if len(rec) != 4 {
			continue
		}
		ioDepth, err := strconv.Atoi(rec[0])
		if err != nil {
			continue
		}
		numJobs, err := strconv.Atoi(rec[1])
		if err != nil {
			continue
		}
		splitPct, err := strconv.Atoi(rec[2])
		if err != nil {
			continue
		}
		iops, err := strconv.ParseInt(rec[3], 10, 64)
		if err != nil {
			continue
		}

		k := key{ioDepth, numJobs, splitPct}
		t.rows[k] = iops

		dim := [2]int{ioDepth, numJobs}
		t.splitsByDim[dim] = insertSorted(t.splitsByDim[dim], splitPct)
	}

	return t, nil
}

func isHeader(rec []string) bool {
	return len(rec) > 0 && rec[0] == "io_depth"
}

func insertSorted(xs []int, v int) []int {
	for _, x := range xs {
		if x == v {
			return xs
		}
	}
	xs = append(xs, v)
	for i := len(xs) - 1; i > 0 && xs[i] < xs[i-1]; i-- {
		xs[i], xs[i-1] = xs[i-1], xs[i]
	}
	return xs
}

// Lookup returns the expected IOPS for (ioDepth, numJobs, splitPercent).
// Total and deterministic: for inputs outside the sampled grid it returns
// the value at the nearest tabulated split percentage for that
// (ioDepth, numJobs) pair, or zero if that dimension was never sampled.
func (t *Table) Lookup(ioDepth, numJobs, splitPercent int) int64 {
	if v, ok := t.rows[key{ioDepth, numJobs, splitPercent}]; ok {
		return v
	}

	dim := [2]int{ioDepth, numJobs}
	splits := t.splitsByDim[dim]
	if len(splits) == 0 {
		return 0
	}

	nearest := splits[0]
	bestDist := abs(splitPercent - nearest)
	for _, s := range splits[1:] {
		if d := abs(splitPercent - s); d < bestDist {
			nearest, bestDist = s, d
		}
	}
	return t.rows[key{ioDepth, numJobs, nearest}]
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
