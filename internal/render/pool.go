package render

import "sort"

// Shape is the server-side mirror of one drawable held by a client.
type Shape struct {
	ID      string
	Fill    string
	Opacity float64
	Score   float64
	Tooltip string
}

// Pool tracks the shapes a client currently displays, keyed by cell id.
// It is not safe for concurrent use; the Scheduler serializes access.
type Pool struct {
	shapes map[string]*Shape
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{shapes: make(map[string]*Shape)}
}

// Get returns the shape for id.
func (p *Pool) Get(id string) (*Shape, bool) {
	s, ok := p.shapes[id]
	return s, ok
}

// Put stores s under its id.
func (p *Pool) Put(s *Shape) { p.shapes[s.ID] = s }

// Len returns the number of pooled shapes.
func (p *Pool) Len() int { return len(p.shapes) }

// IDs returns the pooled ids in sorted order.
func (p *Pool) IDs() []string {
	ids := make([]string, 0, len(p.shapes))
	for id := range p.shapes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Retain evicts every shape not in keep and returns the evicted ids sorted.
func (p *Pool) Retain(keep map[string]struct{}) []string {
	var removed []string
	for id := range p.shapes {
		if _, ok := keep[id]; !ok {
			removed = append(removed, id)
			delete(p.shapes, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// Clear evicts every shape and returns the evicted ids sorted.
func (p *Pool) Clear() []string {
	return p.Retain(nil)
}
