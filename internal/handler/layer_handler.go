package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	geojson "github.com/paulmach/go.geojson"

	"github.com/jengzang/hexmap-backend-go/internal/dataset"
	"github.com/jengzang/hexmap-backend-go/internal/engine"
	"github.com/jengzang/hexmap-backend-go/internal/models"
	"github.com/jengzang/hexmap-backend-go/internal/render"
	"github.com/jengzang/hexmap-backend-go/internal/service"
	"github.com/jengzang/hexmap-backend-go/internal/spatial"
	"github.com/jengzang/hexmap-backend-go/pkg/response"
)

const (
	defaultLimit = 100
	maxLimit     = 5000
)

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrLayerNotFound), errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrLayerNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrNoStore):
		return http.StatusNotImplemented
	case errors.Is(err, spatial.ErrInvalidBounds), errors.Is(err, dataset.ErrParse), errors.Is(err, dataset.ErrNoRows):
		return http.StatusBadRequest
	case errors.Is(err, dataset.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// LayerHandler handles HTTP requests for layer queries
type LayerHandler struct {
	service *service.LayerService
}

// NewLayerHandler creates a new layer handler
func NewLayerHandler(service *service.LayerService) *LayerHandler {
	return &LayerHandler{service: service}
}

// ListLayers handles GET /api/v1/layers
func (h *LayerHandler) ListLayers(c *gin.Context) {
	layers := h.service.List()
	response.Success(c, gin.H{
		"data":  layers,
		"count": len(layers),
	})
}

// GetLayer handles GET /api/v1/layers/:name
func (h *LayerHandler) GetLayer(c *gin.Context) {
	info, err := h.service.Info(c.Param("name"))
	if err != nil {
		response.Error(c, statusFor(err), "Failed to get layer", err)
		return
	}
	response.Success(c, info)
}

type rankQuery struct {
	Res   *int    `form:"res"`
	Limit int     `form:"limit"`
	Pct   float64 `form:"pct"`
	models.LayerFilter
}

func (q rankQuery) limit() int {
	switch {
	case q.Limit <= 0:
		return defaultLimit
	case q.Limit > maxLimit:
		return maxLimit
	default:
		return q.Limit
	}
}

func (q rankQuery) resolution(s *engine.Session) int {
	if q.Res == nil || *q.Res > s.MaxRes() || *q.Res < 0 {
		return s.MaxRes()
	}
	return *q.Res
}

// GetAggregate handles GET /api/v1/layers/:name/aggregate
func (h *LayerHandler) GetAggregate(c *gin.Context) {
	var q rankQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "Invalid query parameters", err)
		return
	}
	layer, err := h.service.Get(c.Param("name"))
	if err != nil {
		response.Error(c, statusFor(err), "Failed to get layer", err)
		return
	}

	var out gin.H
	err = layer.WithShared(q.LayerFilter, func(s *engine.Session) error {
		res := q.resolution(s)
		agg := s.Aggregate(res)
		entries := agg.Entries
		if len(entries) > q.limit() {
			entries = entries[:q.limit()]
		}
		out = gin.H{
			"data":       entries,
			"count":      len(entries),
			"total":      agg.Len(),
			"skipped":    agg.Skipped(),
			"resolution": res,
			"legend":     agg.Legend(),
		}
		return nil
	})
	if err != nil {
		response.Error(c, statusFor(err), "Failed to aggregate layer", err)
		return
	}
	response.Success(c, out)
}

// GetHotspots handles GET /api/v1/layers/:name/hotspots
func (h *LayerHandler) GetHotspots(c *gin.Context) {
	var q rankQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "Invalid query parameters", err)
		return
	}
	layer, err := h.service.Get(c.Param("name"))
	if err != nil {
		response.Error(c, statusFor(err), "Failed to get layer", err)
		return
	}
	pct := q.Pct
	if pct <= 0 {
		pct = layer.Config().HotspotPct
	}

	var out gin.H
	err = layer.WithShared(q.LayerFilter, func(s *engine.Session) error {
		res := q.resolution(s)
		hot := s.Hotspots(res, pct)
		agg := s.Aggregate(res)
		entries := make([]models.AggEntry, 0, hot.Len())
		for _, id := range hot.Ordered {
			if e, ok := agg.Lookup(id); ok {
				entries = append(entries, e)
			}
		}
		out = gin.H{
			"data":       entries,
			"count":      len(entries),
			"resolution": res,
			"fraction":   hot.Fraction,
		}
		return nil
	})
	if err != nil {
		response.Error(c, statusFor(err), "Failed to get hotspots", err)
		return
	}
	response.Success(c, out)
}

// GetCellsGeoJSON handles GET /api/v1/layers/:name/cells.geojson
func (h *LayerHandler) GetCellsGeoJSON(c *gin.Context) {
	var req models.ViewportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, "Invalid query parameters", err)
		return
	}
	bounds, err := spatial.NewBounds(req.South, req.West, req.North, req.East)
	if err != nil {
		response.BadRequest(c, "Invalid viewport", err)
		return
	}
	layer, err := h.service.Get(c.Param("name"))
	if err != nil {
		response.Error(c, statusFor(err), "Failed to get layer", err)
		return
	}
	cfg := layer.Config()
	opts := cfg.RenderOptions()
	if req.Hotspots && req.HotspotPct <= 0 {
		req.HotspotPct = cfg.HotspotPct
	}

	fc := geojson.NewFeatureCollection()
	var view *engine.View
	err = layer.WithShared(req.Filter, func(s *engine.Session) error {
		if req.Zoom < opts.MinDrawZoom {
			return nil
		}
		view = s.Resolve(bounds.Pad(opts.ViewPad), req.Zoom)
		var hot *engine.HotspotSet
		if req.Hotspots {
			hot = s.Hotspots(view.Resolution, req.HotspotPct)
		}
		limit := s.Tuning().MaxCells
		if req.MaxCells > 0 {
			limit = req.MaxCells
		}
		norm := engine.Normalizer(engine.Identity)
		if opts.Style == render.StyleCounts {
			norm = engine.MinMax(view.Agg.Legend())
		}
		for _, e := range engine.Select(view.InView, hot, limit) {
			boundary, ok := s.Geometry().BoundaryOf(e.CellID)
			if !ok {
				continue
			}
			f := geojson.NewPolygonFeature([][][]float64{closedRing(boundary)})
			f.ID = e.CellID
			x := norm(e.Score)
			fill := opts.Palette.Color(x)
			if req.Hotspots && !hot.Has(e.CellID) {
				fill = opts.Palette.Gray(x)
			}
			f.SetProperty("score", e.Score)
			f.SetProperty("mean", e.Stats.Mean)
			f.SetProperty("max", e.Stats.Max)
			f.SetProperty("sum", e.Stats.Sum)
			f.SetProperty("count", e.Stats.Count)
			f.SetProperty("hot", hot.Has(e.CellID))
			f.SetProperty("fill", fill)
			f.SetProperty("fill-opacity", opts.Palette.Opacity(x, view.Resolution))
			fc.AddFeature(f)
		}
		return nil
	})
	if err != nil {
		response.Error(c, statusFor(err), "Failed to resolve viewport", err)
		return
	}

	body, err := fc.MarshalJSON()
	if err != nil {
		response.InternalError(c, "Failed to encode GeoJSON", err)
		return
	}
	if view != nil {
		c.Header("X-Resolution", strconv.Itoa(view.Resolution))
		c.Header("X-In-View", strconv.Itoa(len(view.InView)))
		c.Header("X-Capped", strconv.FormatBool(view.Capped))
	}
	c.Data(http.StatusOK, "application/geo+json", body)
}

// closedRing converts a boundary to a closed [lng, lat] ring
func closedRing(boundary []models.LatLng) [][]float64 {
	ring := make([][]float64, 0, len(boundary)+1)
	for _, p := range boundary {
		ring = append(ring, []float64{p.Lng, p.Lat})
	}
	if n := len(boundary); n > 0 && boundary[0] != boundary[n-1] {
		ring = append(ring, []float64{boundary[0].Lng, boundary[0].Lat})
	}
	return ring
}
