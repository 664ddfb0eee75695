package render

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"

	"github.com/jengzang/hexmap-backend-go/internal/engine"
	"github.com/jengzang/hexmap-backend-go/internal/metrics"
	"github.com/jengzang/hexmap-backend-go/internal/models"
	"github.com/jengzang/hexmap-backend-go/internal/spatial"
)

// State is the scheduler's position in a draw cycle.
type State int

const (
	Idle State = iota
	Computing
	Diffing
	Drawing
)

func (s State) String() string {
	switch s {
	case Computing:
		return "computing"
	case Diffing:
		return "diffing"
	case Drawing:
		return "drawing"
	default:
		return "idle"
	}
}

// Style selects how scores are colored and described.
type Style int

const (
	// StyleRisk colors probabilities directly.
	StyleRisk Style = iota
	// StyleCounts normalizes counts per resolution and reports a legend.
	StyleCounts
)

// ParseStyle parses "risk" or "counts".
func ParseStyle(s string) (Style, error) {
	switch s {
	case "", "risk":
		return StyleRisk, nil
	case "counts":
		return StyleCounts, nil
	default:
		return 0, fmt.Errorf("unknown layer style %q", s)
	}
}

// Options configures a Scheduler.
type Options struct {
	Style           Style
	Label           string // tooltip label for count layers
	Palette         *Palette
	MinDrawZoom     float64
	ViewPad         float64
	ChunkSize       int
	SafetyMaxRender int
	WarmLimit       int
}

// DefaultOptions draws a risk layer.
var DefaultOptions = Options{
	Style:           StyleRisk,
	Label:           "Collisions",
	MinDrawZoom:     9,
	ViewPad:         0.10,
	ChunkSize:       1200,
	SafetyMaxRender: 80000,
	WarmLimit:       1000,
}

// Warmer preloads geometry for cells about to be hovered.
type Warmer interface {
	Warm(ids []string, limit int) int
}

// Scheduler runs draw cycles for one client map against one session.
// Each Draw that does work supersedes the previous one; a superseded task
// stops at its next Step and the newer draw's diff removes whatever it left
// behind. Evicted ids stay pending until some task's first frame carries
// their removal to the client.
type Scheduler struct {
	mu      sync.Mutex
	session *engine.Session
	opts    Options
	warmer  Warmer
	pool    *Pool
	pending map[string]struct{}
	current *DrawTask
	lastSig string
	gen     uint64
	state   State
}

// NewScheduler returns an idle scheduler with an empty pool. warmer may be nil.
func NewScheduler(session *engine.Session, opts Options, warmer Warmer) *Scheduler {
	if opts.Palette == nil {
		g := RiskGradient
		if opts.Style == StyleCounts {
			g = CountGradient
		}
		opts.Palette = NewPalette(g, DefaultOpacityRamp, 0.30, DefaultResFactors)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultOptions.ChunkSize
	}
	if opts.Label == "" {
		opts.Label = DefaultOptions.Label
	}
	return &Scheduler{
		session: session,
		opts:    opts,
		warmer:  warmer,
		pool:    NewPool(),
		pending: make(map[string]struct{}),
	}
}

// Session returns the scheduler's session.
func (s *Scheduler) Session() *engine.Session { return s.session }

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PoolSize returns the number of shapes the client holds.
func (s *Scheduler) PoolSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Len()
}

// ShapeIDs returns the ids of the pooled shapes in sorted order.
func (s *Scheduler) ShapeIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.IDs()
}

// Shape returns a copy of the pooled shape for id.
func (s *Scheduler) Shape(id string) (Shape, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.pool.Get(id)
	if !ok {
		return Shape{}, false
	}
	return *sh, true
}

// SetFilter applies f to the session and forces the next draw to run.
func (s *Scheduler) SetFilter(f models.LayerFilter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.session.SetFilter(f)
	if changed {
		s.lastSig = ""
	}
	return changed
}

// Reset forgets the last signature so the next draw always runs.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.lastSig = ""
	s.mu.Unlock()
}

// Rebind moves the scheduler onto session, keeping the pool so the next
// draw diffs against what the client already shows. The next draw always
// runs.
func (s *Scheduler) Rebind(session *engine.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session.SetFilter(s.session.Filter())
	s.session = session
	s.lastSig = ""
}

// begin starts a draw that will do work, superseding the current task.
func (s *Scheduler) begin(layer string) *DrawTask {
	s.gen++
	task := &DrawTask{s: s, gen: s.gen, status: &models.DrawStatus{Layer: layer, Hotspots: -1}}
	s.current = task
	return task
}

// evict queues ids for removal on the client.
func (s *Scheduler) evict(ids []string) {
	for _, id := range ids {
		s.pending[id] = struct{}{}
	}
}

// takePending drains the queued removals in sorted order.
func (s *Scheduler) takePending() []string {
	if len(s.pending) == 0 {
		return nil
	}
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	clear(s.pending)
	return ids
}

// Signature identifies a draw: padded bounds, resolution, hotspot flag and
// hotspot fraction.
func Signature(pad spatial.Bounds, res int, hot bool, pct float64) string {
	flag := "0"
	if hot {
		flag = "1"
	}
	return strings.Join([]string{pad.BBoxString(), strconv.Itoa(res), flag, strconv.FormatFloat(pct, 'f', 4, 64)}, "|")
}

// Draw computes the next draw for req and returns a task that emits it in
// chunks. A draw that does work supersedes any task returned earlier. A
// request matching the previous signature does not: it returns the task
// still in progress, or an empty skipped task once that one has finished.
// Invalid bounds leave the current task running.
func (s *Scheduler) Draw(req models.ViewportRequest) (*DrawTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	layer := s.session.Layer()
	pct := clamp01(req.HotspotPct)

	if req.Zoom < s.opts.MinDrawZoom {
		task := s.begin(layer)
		s.evict(s.pool.Clear())
		s.lastSig = ""
		s.state = Idle
		task.status.Cleared = true
		task.status.Badge = s.clearedBadge(req.Hotspots)
		metrics.DrawsTotal.WithLabelValues(layer, "cleared").Inc()
		return task, nil
	}

	b, err := spatial.NewBounds(req.South, req.West, req.North, req.East)
	if err != nil {
		return nil, err
	}
	pad := b.Pad(s.opts.ViewPad)
	res := s.session.ResolutionForZoom(req.Zoom)

	sig := Signature(pad, res, req.Hotspots, pct)
	if sig == s.lastSig {
		metrics.DrawsTotal.WithLabelValues(layer, "skipped").Inc()
		if cur := s.current; cur != nil && !cur.done && cur.gen == s.gen {
			return cur, nil
		}
		status := &models.DrawStatus{Layer: layer, Hotspots: -1, Resolution: res, Skipped: true, Shown: s.pool.Len()}
		return &DrawTask{s: s, gen: s.gen, status: status}, nil
	}
	s.lastSig = sig

	task := s.begin(layer)
	status := task.status
	status.Resolution = res

	s.state = Computing
	view := s.session.Resolve(pad, req.Zoom)
	status.Resolution = view.Resolution
	status.InView = len(view.InView)
	status.Capped = view.Capped

	var hot *engine.HotspotSet
	if req.Hotspots {
		hot = s.session.Hotspots(view.Resolution, pct)
		status.Hotspots = hot.Len()
	}

	limit := s.session.Tuning().MaxCells
	if req.MaxCells > 0 {
		limit = req.MaxCells
	}
	if s.opts.SafetyMaxRender > 0 && (limit <= 0 || limit > s.opts.SafetyMaxRender) {
		limit = s.opts.SafetyMaxRender
	}
	selected := engine.Select(view.InView, hot, limit)
	status.Shown = len(selected)

	s.state = Diffing
	keep := make(map[string]struct{}, len(selected))
	for _, e := range selected {
		keep[e.CellID] = struct{}{}
	}
	removed := s.pool.Retain(keep)
	s.evict(removed)

	norm := engine.Normalizer(engine.Identity)
	if s.opts.Style == StyleCounts {
		legend := view.Agg.Legend()
		status.Legend = &legend
		norm = engine.MinMax(legend)
	}
	status.Badge = s.badge(status, req.Hotspots)

	task.selected = selected
	task.hot = hot
	task.hotMode = req.Hotspots
	task.norm = norm
	task.res = view.Resolution
	if len(selected) > 0 {
		s.state = Drawing
	} else {
		s.state = Idle
	}

	log.WithFields(log.Fields{
		"layer":    layer,
		"res":      view.Resolution,
		"in_view":  len(view.InView),
		"selected": len(selected),
		"removed":  len(removed),
		"fallback": view.Fallback,
	}).Debug("[Draw] computed")
	return task, nil
}

func (s *Scheduler) yearLabel() string {
	if y := s.session.Filter().Year; y != 0 {
		return strconv.Itoa(y)
	}
	return "ALL"
}

func (s *Scheduler) clearedBadge(hot bool) string {
	if s.opts.Style == StyleCounts {
		badge := fmt.Sprintf("Year: %s  Shown: 0", s.yearLabel())
		if hot {
			badge += "  Hotspots: —"
		}
		return badge
	}
	if hot {
		return "Hotspots: …"
	}
	return "Hotspots: —"
}

func (s *Scheduler) badge(st *models.DrawStatus, hot bool) string {
	if s.opts.Style == StyleCounts {
		badge := fmt.Sprintf("Year: %s  Shown: %d", s.yearLabel(), st.Shown)
		if hot {
			badge += fmt.Sprintf("  Hotspots: %d", st.Hotspots)
		}
		return badge
	}
	badge := "Hotspots: —"
	if hot {
		badge = fmt.Sprintf("Hotspots: %d", st.Hotspots)
	}
	if st.Capped {
		badge += " (view-capped)"
	}
	return badge
}

func (s *Scheduler) tooltip(e models.AggEntry) string {
	if s.opts.Style == StyleCounts {
		return s.opts.Label + ": " + FormatCount(e.Score)
	}
	return fmt.Sprintf("Risk Score: %.3f\nMean: %.3f  Max: %.3f", e.Score, e.Stats.Mean, e.Stats.Max)
}

// FormatCount renders a count with thousands separators, or with one
// decimal when it is fractional (split values).
func FormatCount(n float64) string {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return "—"
	}
	r := math.Round(n)
	if math.Abs(n-r) < 0.05 {
		return humanize.Comma(int64(r))
	}
	return strconv.FormatFloat(n, 'f', 1, 64)
}

// DrawTask emits one draw as a sequence of frames. The host calls Step once
// per frame until it reports no more work.
type DrawTask struct {
	s        *Scheduler
	gen      uint64
	status   *models.DrawStatus
	selected []models.AggEntry
	hot      *engine.HotspotSet
	hotMode  bool
	norm     engine.Normalizer
	res      int
	idx      int
	seq      int
	done     bool
}

// Status returns the draw summary.
func (t *DrawTask) Status() models.DrawStatus { return *t.status }

// Len returns the number of selected cells.
func (t *DrawTask) Len() int { return len(t.selected) }

// Step processes at most one chunk of cells and returns the resulting frame.
// more is false once the draw has finished or was superseded. The first
// frame carries the removals and the status.
func (t *DrawTask) Step() (frame models.Frame, more bool) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	frame.Seq = t.seq
	t.seq++
	if t.done {
		frame.Done = true
		return frame, false
	}
	layer := s.session.Layer()
	if t.gen != s.gen {
		t.done = true
		frame.Done = true
		metrics.DrawsTotal.WithLabelValues(layer, "superseded").Inc()
		return frame, false
	}

	if frame.Seq == 0 {
		frame.Status = t.status
		removed := s.takePending()
		for _, id := range removed {
			frame.Ops = append(frame.Ops, models.ShapeOp{Op: models.OpRemove, ID: id})
		}
		metrics.ShapeOpsTotal.WithLabelValues(models.OpRemove).Add(float64(len(removed)))
	}

	lim := t.idx + s.opts.ChunkSize
	if lim > len(t.selected) {
		lim = len(t.selected)
	}
	geo := s.session.Geometry()
	for ; t.idx < lim; t.idx++ {
		e := t.selected[t.idx]
		x := t.norm(e.Score)
		fill := s.opts.Palette.Color(x)
		if t.hotMode && !t.hot.Has(e.CellID) {
			fill = s.opts.Palette.Gray(x)
		}
		opac := s.opts.Palette.Opacity(x, t.res)
		tip := s.tooltip(e)

		sh, ok := s.pool.Get(e.CellID)
		if !ok {
			boundary, ok := geo.BoundaryOf(e.CellID)
			if !ok {
				continue
			}
			s.pool.Put(&Shape{ID: e.CellID, Fill: fill, Opacity: opac, Score: e.Score, Tooltip: tip})
			frame.Ops = append(frame.Ops, models.ShapeOp{
				Op: models.OpCreate, ID: e.CellID, Boundary: boundary, Fill: fill, Opacity: &opac, Tooltip: tip,
			})
			metrics.ShapeOpsTotal.WithLabelValues(models.OpCreate).Inc()
			continue
		}

		op := models.ShapeOp{Op: models.OpPatch, ID: e.CellID}
		changed := false
		if sh.Fill != fill {
			op.Fill, sh.Fill = fill, fill
			changed = true
		}
		if sh.Opacity != opac {
			op.Opacity, sh.Opacity = &opac, opac
			changed = true
		}
		if sh.Tooltip != tip {
			op.Tooltip, sh.Tooltip = tip, tip
			changed = true
		}
		sh.Score = e.Score
		if changed {
			frame.Ops = append(frame.Ops, op)
			metrics.ShapeOpsTotal.WithLabelValues(models.OpPatch).Inc()
		}
	}

	if t.idx < len(t.selected) {
		return frame, true
	}

	t.done = true
	frame.Done = true
	s.state = Idle
	if !t.status.Skipped && !t.status.Cleared {
		metrics.DrawsTotal.WithLabelValues(layer, "completed").Inc()
	}
	if s.warmer != nil && len(t.selected) > 0 {
		ids := make([]string, 0, len(t.selected))
		for _, e := range t.selected {
			ids = append(ids, e.CellID)
		}
		s.warmer.Warm(ids, s.opts.WarmLimit)
	}
	return frame, false
}

// Run steps the task to completion, passing each frame to emit. It stops
// early when emit returns an error.
func (t *DrawTask) Run(emit func(models.Frame) error) error {
	for {
		frame, more := t.Step()
		if err := emit(frame); err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}
