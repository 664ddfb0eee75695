package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/jengzang/hexmap-backend-go/internal/cache"
	"github.com/jengzang/hexmap-backend-go/internal/metrics"
	"github.com/jengzang/hexmap-backend-go/internal/models"
	"github.com/jengzang/hexmap-backend-go/internal/render"
)

var ErrSessionNotFound = errors.New("session not found")

// MapSession is one client map: a private engine session, its shape pool
// and the draw scheduler.
type MapSession struct {
	ID      string    `json:"id"`
	Layer   string    `json:"layer"`
	Created time.Time `json:"created"`

	mu         sync.Mutex
	layer      *Layer
	gen        uint64 // layer generation the scheduler's session reads
	scheduler  *render.Scheduler
	defaultPct float64
}

// Scheduler returns the session's draw scheduler.
func (m *MapSession) Scheduler() *render.Scheduler { return m.scheduler }

// Draw applies the request's filter and starts a draw, superseding any
// draw still in progress. After the layer is reloaded or imported the
// session moves onto the new table before drawing.
func (m *MapSession) Draw(req models.ViewportRequest) (*render.DrawTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh()
	if req.Hotspots && req.HotspotPct <= 0 {
		req.HotspotPct = m.defaultPct
	}
	m.scheduler.SetFilter(req.Filter)
	return m.scheduler.Draw(req)
}

// Info summarizes the session; withShapes adds the pooled shape ids.
func (m *MapSession) Info(withShapes bool) models.SessionInfo {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	info := models.SessionInfo{
		ID:         m.ID,
		Layer:      m.Layer,
		Created:    m.Created,
		Generation: gen,
		State:      m.scheduler.State().String(),
		ShapeCount: m.scheduler.PoolSize(),
	}
	if withShapes {
		info.Shapes = m.scheduler.ShapeIDs()
	}
	return info
}

// refresh rebinds the scheduler when the layer has installed a newer table.
// A layer that is reloading keeps serving the old table.
func (m *MapSession) refresh() {
	if m.layer == nil || m.layer.Generation() == m.gen {
		return
	}
	es, gen, err := m.layer.newSession()
	if err != nil {
		log.WithError(err).WithField("session", m.ID).Debug("[Session] keeping previous table")
		return
	}
	m.scheduler.Rebind(es)
	m.gen = gen
	log.WithFields(log.Fields{"session": m.ID, "layer": m.Layer, "generation": gen}).Info("[Session] rebound")
}

// DrawAll runs a draw to completion and returns every frame.
func (m *MapSession) DrawAll(req models.ViewportRequest) ([]models.Frame, error) {
	task, err := m.Draw(req)
	if err != nil {
		return nil, err
	}
	var frames []models.Frame
	err = task.Run(func(f models.Frame) error {
		frames = append(frames, f)
		return nil
	})
	return frames, err
}

// SessionStore holds client map sessions, evicting the least recently used
// beyond its capacity
type SessionStore struct {
	layers   *LayerService
	sessions *cache.LRU[string, *MapSession]
	mu       sync.Mutex
}

// NewSessionStore creates a session store
func NewSessionStore(layers *LayerService, capacity int) *SessionStore {
	return &SessionStore{
		layers:   layers,
		sessions: cache.New[string, *MapSession]("sessions", capacity),
	}
}

// Create opens a session on the named layer
func (s *SessionStore) Create(layer string) (*MapSession, error) {
	l, err := s.layers.Get(layer)
	if err != nil {
		return nil, err
	}
	es, gen, err := l.newSession()
	if err != nil {
		return nil, err
	}
	cfg := l.Config()
	m := &MapSession{
		ID:         uuid.New().String(),
		Layer:      layer,
		Created:    time.Now(),
		layer:      l,
		gen:        gen,
		scheduler:  render.NewScheduler(es, cfg.RenderOptions(), l.Geometry()),
		defaultPct: cfg.HotspotPct,
	}

	s.mu.Lock()
	s.sessions.Add(m.ID, m)
	n := s.sessions.Len()
	s.mu.Unlock()
	metrics.ActiveSessions.Set(float64(n))
	log.WithFields(log.Fields{"session": m.ID, "layer": layer}).Info("[Session] created")
	return m, nil
}

// Get returns the session with id
func (s *SessionStore) Get(id string) (*MapSession, error) {
	m, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return m, nil
}

// Delete closes the session with id
func (s *SessionStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sessions.Contains(id) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.sessions.Remove(id)
	metrics.ActiveSessions.Set(float64(s.sessions.Len()))
	return nil
}

// List summarizes the open sessions from least to most recently used
// without promoting any of them.
func (s *SessionStore) List() []models.SessionInfo {
	s.mu.Lock()
	ids := s.sessions.Keys()
	out := make([]models.SessionInfo, 0, len(ids))
	var open []*MapSession
	for _, id := range ids {
		if m, ok := s.sessions.Peek(id); ok {
			open = append(open, m)
		}
	}
	s.mu.Unlock()
	for _, m := range open {
		out = append(out, m.Info(false))
	}
	return out
}

// Len returns the number of open sessions
func (s *SessionStore) Len() int { return s.sessions.Len() }
