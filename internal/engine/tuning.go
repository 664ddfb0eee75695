package engine

import "fmt"

// Scoring selects how an aggregated cell is ranked.
type Scoring int

const (
	// ScoreWeighted blends max and mean: Alpha*max + (1-Alpha)*mean.
	ScoreWeighted Scoring = iota
	// ScoreSum ranks by the summed value (event counts).
	ScoreSum
)

// ParseScoring parses "weighted" or "sum".
func ParseScoring(s string) (Scoring, error) {
	switch s {
	case "", "weighted":
		return ScoreWeighted, nil
	case "sum":
		return ScoreSum, nil
	}
	return ScoreWeighted, fmt.Errorf("unknown scoring %q", s)
}

// Tuning holds the engine's tuning constants. None of them is an invariant;
// layers override them through configuration.
type Tuning struct {
	Alpha      float64 // blend weight of max in the weighted score
	Scoring    Scoring
	HotspotMin int // minimum hotspot count per resolution

	ZoomK    float64 // zoom at which the base resolution is reached
	ZoomStep float64 // zoom levels per resolution step
	FloorRes int     // coarsest render resolution

	MaxCells      int     // render cap before stepping down a resolution
	FallbackAbort float64 // center scan stops at MaxCells*FallbackAbort

	AggCacheSize     int
	HotspotCacheSize int
	ViewCacheSize    int
}

// DefaultTuning matches the risk map.
var DefaultTuning = Tuning{
	Alpha:            0,
	Scoring:          ScoreWeighted,
	HotspotMin:       25,
	ZoomK:            17.9,
	ZoomStep:         1.2,
	FloorRes:         6,
	MaxCells:         5000,
	FallbackAbort:    1.25,
	AggCacheSize:     4,
	HotspotCacheSize: 32,
	ViewCacheSize:    48,
}
