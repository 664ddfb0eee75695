package dataset

import (
	"fmt"
	"sort"

	"github.com/jengzang/hexmap-backend-go/internal/hexgrid"
	"github.com/jengzang/hexmap-backend-go/internal/models"
)

// ExpandPolicy decides how a coarse record's value reaches its children.
type ExpandPolicy int

const (
	// ExpandDuplicate copies the value to every child (risk, probabilities).
	ExpandDuplicate ExpandPolicy = iota
	// ExpandSplit divides the value evenly across children (event counts).
	// Records sharing (cell, year, time) are summed.
	ExpandSplit
)

func (p ExpandPolicy) String() string {
	if p == ExpandSplit {
		return "split"
	}
	return "duplicate"
}

// ParseExpandPolicy parses "duplicate" or "split".
func ParseExpandPolicy(s string) (ExpandPolicy, error) {
	switch s {
	case "", "duplicate":
		return ExpandDuplicate, nil
	case "split":
		return ExpandSplit, nil
	}
	return ExpandDuplicate, fmt.Errorf("unknown expand policy %q", s)
}

// Base is the flat base table: every record is at MaxRes.
type Base struct {
	Records []models.BaseRecord
	MaxRes  int
	Years   []int
}

// Len returns the number of base records.
func (b *Base) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Records)
}

// BuildStats counts what happened to each raw record.
type BuildStats struct {
	Input      int `json:"input"`
	Copied     int `json:"copied"`
	Expanded   int `json:"expanded"`    // coarse records expanded
	Children   int `json:"children"`    // base records produced by expansion
	Unresolved int `json:"unresolved"`  // resolution unknown
	NoChildren int `json:"no_children"` // children lookup failed
	Merged     int `json:"merged"`      // split-policy duplicates folded together
	Output     int `json:"output"`
}

const progressEvery = 5000

// BuildBase expands raw records to the finest resolution present.
// Records whose resolution cannot be determined are dropped, as are coarse
// records whose children cannot be enumerated. Empty input yields an empty
// table with MaxRes 0.
func BuildBase(oracle hexgrid.Oracle, rows []models.RawRecord, policy ExpandPolicy, progress func(string)) (*Base, BuildStats) {
	stats := BuildStats{Input: len(rows)}

	res := make([]int, len(rows))
	maxRes := -1
	for i, r := range rows {
		rr, ok := oracle.ResolutionOf(r.CellID)
		if !ok {
			res[i] = -1
			continue
		}
		res[i] = rr
		if rr > maxRes {
			maxRes = rr
		}
		if progress != nil && i%progressEvery == 0 {
			progress(fmt.Sprintf("Resolving cells %d/%d", i, len(rows)))
		}
	}
	if maxRes < 0 {
		maxRes = 0
	}

	out := make([]models.BaseRecord, 0, len(rows))
	var merge map[mergeKey]int
	if policy == ExpandSplit {
		merge = make(map[mergeKey]int, len(rows))
	}
	add := func(id string, value float64, r models.RawRecord) {
		if merge != nil {
			k := mergeKey{id: id, year: r.Year, ts: r.Time}
			if idx, ok := merge[k]; ok {
				out[idx].Value += value
				stats.Merged++
				return
			}
			merge[k] = len(out)
		}
		out = append(out, models.BaseRecord{CellID: id, Value: value, Year: r.Year, Time: r.Time})
	}

	for i, r := range rows {
		switch {
		case res[i] < 0:
			stats.Unresolved++
		case res[i] == maxRes:
			add(r.CellID, r.Value, r)
			stats.Copied++
		default:
			kids, ok := oracle.ChildrenAt(r.CellID, maxRes)
			if !ok || len(kids) == 0 {
				stats.NoChildren++
				continue
			}
			v := r.Value
			if policy == ExpandSplit {
				v = r.Value / float64(len(kids))
			}
			for _, k := range kids {
				add(k, v, r)
			}
			stats.Expanded++
			stats.Children += len(kids)
		}
		if progress != nil && i%progressEvery == 0 {
			progress(fmt.Sprintf("Expanding cells %d/%d", i, len(rows)))
		}
	}

	stats.Output = len(out)
	return &Base{Records: out, MaxRes: maxRes, Years: yearsOf(out)}, stats
}

type mergeKey struct {
	id   string
	year int
	ts   int64
}

func yearsOf(records []models.BaseRecord) []int {
	seen := map[int]struct{}{}
	for _, r := range records {
		if r.Year != 0 {
			seen[r.Year] = struct{}{}
		}
	}
	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}
