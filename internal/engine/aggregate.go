package engine

import (
	"math"
	"sort"
	"time"

	"github.com/apex/log"

	"github.com/jengzang/hexmap-backend-go/internal/metrics"
	"github.com/jengzang/hexmap-backend-go/internal/models"
)

// Aggregation is the ranked result of grouping the base table by ancestor
// at one resolution. It is immutable once built.
type Aggregation struct {
	Resolution int
	Entries    []models.AggEntry // sorted by descending score
	index      map[string]int
	skipped    int
}

// Len returns the number of entries.
func (a *Aggregation) Len() int { return len(a.Entries) }

// Lookup returns the entry for id.
func (a *Aggregation) Lookup(id string) (models.AggEntry, bool) {
	i, ok := a.index[id]
	if !ok {
		return models.AggEntry{}, false
	}
	return a.Entries[i], true
}

// Skipped returns the number of base records whose ancestor could not be
// resolved.
func (a *Aggregation) Skipped() int { return a.skipped }

type accumulator struct {
	id    string
	sum   float64
	count int
	max   float64
}

// Aggregate returns the aggregation at res under the active filter, from
// cache when possible. Repeated calls without invalidation return the same
// pointer.
func (s *Session) Aggregate(res int) *Aggregation {
	key := aggKey{res: res, filter: s.filter.Key()}
	if a, ok := s.aggs.Get(key); ok {
		return a
	}
	start := time.Now()
	a := aggregate(s, res)
	metrics.AggregationDurationSeconds.WithLabelValues(s.layer).Observe(time.Since(start).Seconds())
	if a.skipped > 0 {
		log.WithFields(log.Fields{"layer": s.layer, "res": res, "skipped": a.skipped}).
			Debug("[Aggregate] records without ancestor skipped")
	}
	s.aggs.Add(key, a)
	return a
}

func aggregate(s *Session, res int) *Aggregation {
	records := s.base.Records
	identity := res >= s.base.MaxRes

	byID := make(map[string]int, len(records)/4+1)
	accs := make([]accumulator, 0, len(records)/4+1)
	skipped := 0
	for _, r := range records {
		if !s.filter.Accepts(r) {
			continue
		}
		id := r.CellID
		if !identity {
			p, ok := s.geo.ParentAt(id, res)
			if !ok {
				skipped++
				continue
			}
			id = p
		}
		i, ok := byID[id]
		if !ok {
			i = len(accs)
			byID[id] = i
			accs = append(accs, accumulator{id: id, max: math.Inf(-1)})
		}
		acc := &accs[i]
		acc.sum += r.Value
		acc.count++
		if r.Value > acc.max {
			acc.max = r.Value
		}
	}

	entries := make([]models.AggEntry, 0, len(accs))
	for _, acc := range accs {
		if acc.count == 0 {
			continue
		}
		st := models.CellStats{
			Mean:  acc.sum / float64(acc.count),
			Max:   acc.max,
			Sum:   acc.sum,
			Count: acc.count,
		}
		entries = append(entries, models.AggEntry{CellID: acc.id, Score: s.score(st), Stats: st})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})

	index := make(map[string]int, len(entries))
	for i, e := range entries {
		index[e.CellID] = i
	}
	return &Aggregation{Resolution: res, Entries: entries, index: index, skipped: skipped}
}

func (s *Session) score(st models.CellStats) float64 {
	if s.tuning.Scoring == ScoreSum {
		return st.Sum
	}
	a := s.tuning.Alpha
	return a*st.Max + (1-a)*st.Mean
}
