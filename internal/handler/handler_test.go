package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	geojson "github.com/paulmach/go.geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/hexmap-backend-go/internal/config"
	"github.com/jengzang/hexmap-backend-go/internal/hexgrid/hexgridtest"
	"github.com/jengzang/hexmap-backend-go/internal/models"
	"github.com/jengzang/hexmap-backend-go/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const payload = `{"data":[["a10",0.5],["a11",0.9]],"meta":{"updated_at":"2024-05-01 10:00"}}`

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type listData struct {
	Data       json.RawMessage `json:"data"`
	Count      int             `json:"count"`
	Total      int             `json:"total"`
	Resolution int             `json:"resolution"`
	Skipped    int             `json:"skipped"`
}

func newTestRouter(t *testing.T) (*gin.Engine, *service.LayerService) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "risk.json")
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	risk := config.RiskLayer()
	risk.Source = path
	pending := config.CollisionsLayer()
	pending.Source = filepath.Join(t.TempDir(), "later.json")

	svc := service.NewLayerService([]config.LayerConfig{risk, pending}, hexgridtest.New(), service.LayerServiceOptions{})
	require.NoError(t, svc.Load(context.Background(), "risk"))
	store := service.NewSessionStore(svc, 8)

	layers := NewLayerHandler(svc)
	sessions := NewSessionHandler(store)
	admin := NewAdminHandler(svc)

	r := gin.New()
	r.GET("/layers", layers.ListLayers)
	r.GET("/layers/:name", layers.GetLayer)
	r.GET("/layers/:name/aggregate", layers.GetAggregate)
	r.GET("/layers/:name/hotspots", layers.GetHotspots)
	r.GET("/layers/:name/cells.geojson", layers.GetCellsGeoJSON)
	r.GET("/sessions", sessions.ListSessions)
	r.POST("/sessions", sessions.CreateSession)
	r.GET("/sessions/:id", sessions.GetSession)
	r.DELETE("/sessions/:id", sessions.DeleteSession)
	r.POST("/sessions/:id/draw", sessions.Draw)
	r.GET("/sessions/:id/stream", sessions.Stream)
	r.POST("/admin/layers/:name/import", admin.ImportLayer)
	r.POST("/admin/layers/:name/reload", admin.ReloadLayer)
	return r, svc
}

func do(t *testing.T, r http.Handler, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestListAndGetLayers(t *testing.T) {
	r, _ := newTestRouter(t)

	w, env := do(t, r, http.MethodGet, "/layers", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list listData
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 2, list.Count)

	w, env = do(t, r, http.MethodGet, "/layers/risk", "")
	require.Equal(t, http.StatusOK, w.Code)
	var info models.LayerInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, service.StateReady, info.State)
	assert.Equal(t, 2, info.MaxRes)
	require.NotNil(t, info.Freshness)
	assert.Contains(t, info.Freshness.Label, "Last updated: 2024-05-01 10:00")

	w, env = do(t, r, http.MethodGet, "/layers/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, env.Error, "layer not found")
}

func TestAggregateEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w, env := do(t, r, http.MethodGet, "/layers/risk/aggregate?res=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list listData
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 1, list.Resolution)
	assert.Zero(t, list.Skipped)
	var entries []models.AggEntry
	require.NoError(t, json.Unmarshal(list.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "a1", entries[0].CellID)
	assert.InDelta(t, 0.7, entries[0].Stats.Mean, 1e-9)
	assert.Equal(t, 2, entries[0].Stats.Count)

	_, env = do(t, r, http.MethodGet, "/layers/risk/aggregate?threshold=0.6&limit=10", "")
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 2, list.Resolution)
	assert.Equal(t, 1, list.Count)

	w, _ = do(t, r, http.MethodGet, "/layers/collisions/aggregate", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, _ = do(t, r, http.MethodGet, "/layers/risk/aggregate?res=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHotspotsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	w, env := do(t, r, http.MethodGet, "/layers/risk/hotspots?pct=0.5", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list listData
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 2, list.Count)

	var entries []models.AggEntry
	require.NoError(t, json.Unmarshal(list.Data, &entries))
	assert.Equal(t, "a11", entries[0].CellID)
}

func TestCellsGeoJSON(t *testing.T) {
	r, _ := newTestRouter(t)

	w, _ := do(t, r, http.MethodGet, "/layers/risk/cells.geojson?zoom=12&south=-1&west=-1&north=10&east=10&hotspots=true&pct=0.01", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-Resolution"))
	fc, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)
	f := fc.Features[0]
	assert.Equal(t, "a11", f.ID)
	assert.True(t, f.Geometry.IsPolygon())
	ring := f.Geometry.Polygon[0]
	assert.Equal(t, ring[0], ring[len(ring)-1])
	assert.Equal(t, true, f.Properties["hot"])

	w, _ = do(t, r, http.MethodGet, "/layers/risk/cells.geojson?zoom=5&south=-1&west=-1&north=10&east=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	fc, err = geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	require.NoError(t, err)
	assert.Empty(t, fc.Features)

	w, _ = do(t, r, http.MethodGet, "/layers/risk/cells.geojson?zoom=12&south=10&north=-10", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func createSession(t *testing.T, r http.Handler) string {
	t.Helper()
	w, env := do(t, r, http.MethodPost, "/sessions", `{"layer":"risk"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var m struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &m))
	require.NotEmpty(t, m.ID)
	return m.ID
}

func TestSessionDrawLifecycle(t *testing.T) {
	r, _ := newTestRouter(t)
	id := createSession(t, r)

	w, env := do(t, r, http.MethodPost, "/sessions/"+id+"/draw", `{"zoom":12,"south":-1,"west":-1,"north":10,"east":10}`)
	require.Equal(t, http.StatusOK, w.Code)
	var list listData
	require.NoError(t, json.Unmarshal(env.Data, &list))
	var frames []models.Frame
	require.NoError(t, json.Unmarshal(list.Data, &frames))
	require.Len(t, frames, 1)
	assert.Len(t, frames[0].Ops, 2)
	assert.Equal(t, 2, frames[0].Status.Shown)

	w, _ = do(t, r, http.MethodPost, "/sessions/"+id+"/draw", `{"zoom":12,"south":10,"north":-10}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodDelete, "/sessions/"+id, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = do(t, r, http.MethodDelete, "/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, r, http.MethodPost, "/sessions", `{"layer":"collisions"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w, _ = do(t, r, http.MethodPost, "/sessions", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionInfoListsShapes(t *testing.T) {
	r, _ := newTestRouter(t)
	id := createSession(t, r)
	other := createSession(t, r)

	w, _ := do(t, r, http.MethodPost, "/sessions/"+id+"/draw", `{"zoom":12,"south":-1,"west":-1,"north":10,"east":10}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, env := do(t, r, http.MethodGet, "/sessions/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	var info models.SessionInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, id, info.ID)
	assert.Equal(t, "risk", info.Layer)
	assert.Equal(t, "idle", info.State)
	assert.Equal(t, 2, info.ShapeCount)
	assert.Len(t, info.Shapes, 2)
	assert.Equal(t, uint64(1), info.Generation)

	w, env = do(t, r, http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list listData
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 2, list.Count)
	var infos []models.SessionInfo
	require.NoError(t, json.Unmarshal(list.Data, &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, other, infos[0].ID, "least recently used first")
	assert.Equal(t, id, infos[1].ID)
	assert.Empty(t, infos[1].Shapes)
	assert.Equal(t, 2, infos[1].ShapeCount)

	w, _ = do(t, r, http.MethodGet, "/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionStream(t *testing.T) {
	r, _ := newTestRouter(t)
	id := createSession(t, r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + id + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(models.ViewportRequest{Zoom: 12, South: -1, West: -1, North: 10, East: 10}))
	var frame models.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.True(t, frame.Done)
	assert.Len(t, frame.Ops, 2)
	require.NotNil(t, frame.Status)

	require.NoError(t, conn.WriteJSON(models.ViewportRequest{Zoom: 5}))
	frame = models.Frame{}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.True(t, frame.Status.Cleared)
	assert.Len(t, frame.Ops, 2)
	assert.Equal(t, models.OpRemove, frame.Ops[0].Op)
}

func TestAdminEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	w, _ := do(t, r, http.MethodPost, "/admin/layers/risk/import", payload)
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	w, env := do(t, r, http.MethodPost, "/admin/layers/risk/reload", "")
	require.Equal(t, http.StatusOK, w.Code)
	var info models.LayerInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, service.StateReady, info.State)

	w, _ = do(t, r, http.MethodPost, "/admin/layers/collisions/reload", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
