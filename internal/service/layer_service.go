package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"

	"github.com/jengzang/hexmap-backend-go/internal/config"
	"github.com/jengzang/hexmap-backend-go/internal/dataset"
	"github.com/jengzang/hexmap-backend-go/internal/engine"
	"github.com/jengzang/hexmap-backend-go/internal/hexgrid"
	"github.com/jengzang/hexmap-backend-go/internal/metrics"
	"github.com/jengzang/hexmap-backend-go/internal/models"
	"github.com/jengzang/hexmap-backend-go/internal/repository"
)

// Layer load states.
const (
	StateIdle    = "idle"
	StateLoading = "loading"
	StateReady   = "ready"
	StateFailed  = "failed"
)

// DBSourcePrefix marks a layer source read from the record store.
const DBSourcePrefix = "db:"

var (
	ErrLayerNotFound = errors.New("layer not found")
	ErrLayerNotReady = errors.New("layer not ready")
	ErrNoStore       = errors.New("record store not configured")
)

// Layer is one dataset: its configuration, load state and a shared
// session serving stateless queries.
type Layer struct {
	cfg config.LayerConfig
	geo *hexgrid.GeometryCache

	mu       sync.RWMutex
	state    string
	err      error
	progress string
	result   *dataset.Result
	gen      uint64 // bumped by every install

	// shared serves the stateless endpoints; engine sessions are not safe
	// for concurrent use.
	sharedMu sync.Mutex
	shared   *engine.Session
}

// Config returns the layer configuration.
func (l *Layer) Config() config.LayerConfig { return l.cfg }

// Geometry returns the layer's geometry cache.
func (l *Layer) Geometry() *hexgrid.GeometryCache { return l.geo }

// State returns the load state and the last load error.
func (l *Layer) State() (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state, l.err
}

func (l *Layer) setProgress(msg string) {
	l.mu.Lock()
	l.progress = msg
	l.mu.Unlock()
}

func (l *Layer) ready() (*dataset.Result, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.readyLocked()
}

func (l *Layer) readyLocked() (*dataset.Result, error) {
	switch l.state {
	case StateReady:
		return l.result, nil
	case StateFailed:
		return nil, fmt.Errorf("%w: %s: %v", ErrLayerNotReady, l.cfg.Name, l.err)
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrLayerNotReady, l.cfg.Name, l.state)
	}
}

// Generation counts the base tables installed so far.
func (l *Layer) Generation() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.gen
}

// NewSession creates a private engine session over the loaded base table.
func (l *Layer) NewSession() (*engine.Session, error) {
	es, _, err := l.newSession()
	return es, err
}

// newSession also returns the generation of the table the session reads.
func (l *Layer) newSession() (*engine.Session, uint64, error) {
	l.mu.RLock()
	res, err := l.readyLocked()
	gen := l.gen
	l.mu.RUnlock()
	if err != nil {
		return nil, 0, err
	}
	return engine.NewSession(l.cfg.Name, res.Base, l.geo, l.cfg.Tuning), gen, nil
}

// WithShared runs fn on the shared session under lock, with filter applied.
func (l *Layer) WithShared(filter models.LayerFilter, fn func(*engine.Session) error) error {
	if _, err := l.ready(); err != nil {
		return err
	}
	l.sharedMu.Lock()
	defer l.sharedMu.Unlock()
	l.shared.SetFilter(filter)
	return fn(l.shared)
}

// LayerService loads datasets and hands out sessions over them
type LayerService struct {
	layers    map[string]*Layer
	order     []string
	repo      *repository.CellRepository
	client    *http.Client
	useWorker bool
	timeout   time.Duration
	now       func() time.Time
}

// LayerServiceOptions configures a LayerService.
type LayerServiceOptions struct {
	Repo        *repository.CellRepository // nil disables imports and db: sources
	Client      *http.Client
	UseWorker   bool
	LoadTimeout time.Duration
}

// NewLayerService creates a layer service; each layer gets its own geometry
// cache over oracle.
func NewLayerService(layers []config.LayerConfig, oracle hexgrid.Oracle, opts LayerServiceOptions) *LayerService {
	s := &LayerService{
		layers:    make(map[string]*Layer, len(layers)),
		repo:      opts.Repo,
		client:    opts.Client,
		useWorker: opts.UseWorker,
		timeout:   opts.LoadTimeout,
		now:       time.Now,
	}
	for _, cfg := range layers {
		s.layers[cfg.Name] = &Layer{
			cfg:   cfg,
			geo:   hexgrid.NewGeometryCache(oracle, cfg.Geometry),
			state: StateIdle,
		}
		s.order = append(s.order, cfg.Name)
	}
	return s
}

// Get returns the named layer
func (s *LayerService) Get(name string) (*Layer, error) {
	l, ok := s.layers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLayerNotFound, name)
	}
	return l, nil
}

// LoadAll loads every layer concurrently. A failed layer is left in the
// failed state; the others keep loading.
func (s *LayerService) LoadAll(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range s.order {
		name := name
		g.Go(func() error {
			if err := s.Load(ctx, name); err != nil && errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Load fetches, prepares and installs the named layer from its source.
func (s *LayerService) Load(ctx context.Context, name string) error {
	l, err := s.Get(name)
	if err != nil {
		return err
	}
	src := l.cfg.Source
	req := dataset.Request{}
	if strings.HasPrefix(src, DBSourcePrefix) {
		payload, err := s.storedPayload(name)
		if err != nil {
			s.fail(l, err)
			return err
		}
		req.Payload = payload
	} else {
		l.setLoading("Fetching " + src)
		buf, err := dataset.Fetch(ctx, s.client, src)
		if err != nil {
			s.fail(l, err)
			return err
		}
		req.Buf = buf
	}
	return s.install(ctx, l, req)
}

func (s *LayerService) storedPayload(name string) (*dataset.Payload, error) {
	if s.repo == nil {
		return nil, ErrNoStore
	}
	rows, err := s.repo.GetLayerRecords(name)
	if err != nil {
		return nil, err
	}
	payload := &dataset.Payload{Rows: rows}
	imp, err := s.repo.GetImport(name)
	switch {
	case err == nil:
		payload.Meta = dataset.NewMeta(imp.UpdatedAt)
		payload.Skipped = imp.Skipped
	case !errors.Is(err, repository.ErrNoImport):
		return nil, err
	}
	return payload, nil
}

// Import stores a payload's raw rows for the layer and reloads the layer
// from them. It returns the import summary.
func (s *LayerService) Import(ctx context.Context, name string, raw []byte) (*models.LayerImport, error) {
	l, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	if s.repo == nil {
		return nil, ErrNoStore
	}
	schema, err := dataset.SchemaFor(l.cfg.Schema)
	if err != nil {
		return nil, err
	}
	payload, err := dataset.Decode(raw, schema)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceLayer(name, payload.Rows, payload.Meta.UpdatedAt, payload.Skipped); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"layer": name, "rows": len(payload.Rows), "skipped": payload.Skipped}).
		Info("[Import] stored raw rows")

	if err := s.install(ctx, l, dataset.Request{Payload: payload}); err != nil {
		return nil, err
	}
	return &models.LayerImport{
		Layer:      name,
		UpdatedAt:  payload.Meta.UpdatedAt,
		RowCount:   len(payload.Rows),
		Skipped:    payload.Skipped,
		ImportedAt: s.now(),
	}, nil
}

func (l *Layer) setLoading(msg string) {
	l.mu.Lock()
	l.state = StateLoading
	l.progress = msg
	l.mu.Unlock()
}

func (s *LayerService) fail(l *Layer, err error) {
	l.mu.Lock()
	l.state = StateFailed
	l.err = err
	l.progress = ""
	l.mu.Unlock()
	metrics.DatasetLoadFailures.WithLabelValues(l.cfg.Name).Inc()
	log.WithError(err).WithField("layer", l.cfg.Name).Error("[Load] failed to load layer")
}

func (s *LayerService) install(ctx context.Context, l *Layer, req dataset.Request) error {
	schema, err := dataset.SchemaFor(l.cfg.Schema)
	if err != nil {
		s.fail(l, err)
		return err
	}
	req.Options = dataset.Options{Schema: schema, Policy: l.cfg.Policy, Smooth: l.cfg.Smooth}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	l.setLoading("Preparing")
	start := time.Now()
	var res *dataset.Result
	if s.useWorker {
		ch := dataset.NewWorker(l.cfg.Name, l.geo).Start(ctx, req)
		res, err = dataset.Await(ctx, ch, l.setProgress)
	} else {
		res, err = dataset.Prepare(ctx, l.geo, req, l.setProgress)
	}
	if err != nil {
		s.fail(l, err)
		return err
	}

	shared := engine.NewSession(l.cfg.Name, res.Base, l.geo, l.cfg.Tuning)
	shared.Prime(l.cfg.StartZoom, l.cfg.HotspotPct)

	l.sharedMu.Lock()
	l.shared = shared
	l.sharedMu.Unlock()

	l.mu.Lock()
	l.result = res
	l.gen++
	l.state = StateReady
	l.err = nil
	l.progress = ""
	l.mu.Unlock()

	elapsed := time.Since(start)
	metrics.DatasetRows.WithLabelValues(l.cfg.Name).Set(float64(res.Base.Len()))
	metrics.DatasetLoadSeconds.WithLabelValues(l.cfg.Name).Set(elapsed.Seconds())
	log.WithFields(log.Fields{
		"layer":      l.cfg.Name,
		"max_res":    res.Base.MaxRes,
		"rows":       res.Base.Len(),
		"expanded":   res.Build.Expanded,
		"unresolved": res.Build.Unresolved,
		"skipped":    res.Skipped,
		"outliers":   res.Smooth.Outliers,
		"elapsed":    elapsed,
	}).Info("[Load] layer ready")
	return nil
}

// Info summarizes the named layer
func (s *LayerService) Info(name string) (models.LayerInfo, error) {
	l, err := s.Get(name)
	if err != nil {
		return models.LayerInfo{}, err
	}
	l.mu.RLock()
	info := models.LayerInfo{
		Name:       l.cfg.Name,
		Title:      l.cfg.Title,
		State:      l.state,
		Progress:   l.progress,
		StartZoom:  l.cfg.StartZoom,
		HotspotPct: l.cfg.HotspotPct,
	}
	if l.err != nil {
		info.Error = l.err.Error()
	}
	res := l.result
	l.mu.RUnlock()

	if res != nil {
		info.MaxRes = res.Base.MaxRes
		info.Rows = res.Base.Len()
		info.Years = res.Base.Years
		info.Freshness = Freshness(res.Payload, s.now())
	}
	info.Caches = l.geo.Stats()
	return info, nil
}

// List summarizes every layer in configuration order
func (s *LayerService) List() []models.LayerInfo {
	out := make([]models.LayerInfo, 0, len(s.order))
	for _, name := range s.order {
		info, _ := s.Info(name)
		out = append(out, info)
	}
	return out
}
