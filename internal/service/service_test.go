package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/hexmap-backend-go/internal/config"
	"github.com/jengzang/hexmap-backend-go/internal/dataset"
	"github.com/jengzang/hexmap-backend-go/internal/engine"
	"github.com/jengzang/hexmap-backend-go/internal/hexgrid/hexgridtest"
	"github.com/jengzang/hexmap-backend-go/internal/models"
	"github.com/jengzang/hexmap-backend-go/internal/repository"
)

const riskPayload = `{"data":[["a10",0.5],["a11",0.9]],"meta":{"weather_datetime":"2024-05-01T10:00:00Z"}}`

func writePayload(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "predictions.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func riskLayer(src string) config.LayerConfig {
	l := config.RiskLayer()
	l.Source = src
	return l
}

func newService(t *testing.T, repo *repository.CellRepository, layers ...config.LayerConfig) *LayerService {
	t.Helper()
	return NewLayerService(layers, hexgridtest.New(), LayerServiceOptions{Repo: repo, UseWorker: true, LoadTimeout: time.Minute})
}

func TestLoadFromFile(t *testing.T) {
	for _, useWorker := range []bool{true, false} {
		svc := newService(t, nil, riskLayer(writePayload(t, riskPayload)))
		svc.useWorker = useWorker
		require.NoError(t, svc.Load(context.Background(), "risk"))

		info, err := svc.Info("risk")
		require.NoError(t, err)
		assert.Equal(t, StateReady, info.State)
		assert.Equal(t, 2, info.MaxRes)
		assert.Equal(t, 2, info.Rows)
		require.NotNil(t, info.Freshness)
		assert.Equal(t, "2024-05-01T10:00:00Z", info.Freshness.UpdatedAt)
		assert.Equal(t, "very-stale", info.Freshness.Class)
		assert.Len(t, svc.List(), 1)
	}
}

func TestLoadFailureLeavesLayerFailed(t *testing.T) {
	svc := newService(t, nil, riskLayer(filepath.Join(t.TempDir(), "missing.json")))
	err := svc.Load(context.Background(), "risk")
	assert.ErrorIs(t, err, dataset.ErrTransport)

	l, err := svc.Get("risk")
	require.NoError(t, err)
	state, loadErr := l.State()
	assert.Equal(t, StateFailed, state)
	assert.ErrorIs(t, loadErr, dataset.ErrTransport)

	_, err = l.NewSession()
	assert.ErrorIs(t, err, ErrLayerNotReady)

	info, _ := svc.Info("risk")
	assert.NotEmpty(t, info.Error)
}

func TestLoadAllKeepsGoingAfterFailure(t *testing.T) {
	bad := config.CollisionsLayer()
	bad.Source = filepath.Join(t.TempDir(), "missing.json")
	svc := newService(t, nil, riskLayer(writePayload(t, riskPayload)), bad)
	svc.LoadAll(context.Background())

	infos := svc.List()
	require.Len(t, infos, 2)
	assert.Equal(t, StateReady, infos[0].State)
	assert.Equal(t, StateFailed, infos[1].State)
}

func TestUnknownLayer(t *testing.T) {
	svc := newService(t, nil)
	_, err := svc.Get("nope")
	assert.ErrorIs(t, err, ErrLayerNotFound)
	assert.ErrorIs(t, svc.Load(context.Background(), "nope"), ErrLayerNotFound)
}

func TestImportStoresAndReloads(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM cell_records").WithArgs("risk").WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare("INSERT INTO cell_records")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("INSERT INTO layer_imports").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	svc := newService(t, repository.NewCellRepository(db), riskLayer("db:"))
	imp, err := svc.Import(context.Background(), "risk", []byte(riskPayload))
	require.NoError(t, err)
	assert.Equal(t, 2, imp.RowCount)
	assert.Equal(t, "2024-05-01T10:00:00Z", imp.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())

	info, _ := svc.Info("risk")
	assert.Equal(t, StateReady, info.State)
	assert.Equal(t, 2, info.Rows)
}

func TestImportWithoutStore(t *testing.T) {
	svc := newService(t, nil, riskLayer("db:"))
	_, err := svc.Import(context.Background(), "risk", []byte(riskPayload))
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestLoadFromStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT h3, value, ts, year FROM cell_records").WithArgs("risk").
		WillReturnRows(sqlmock.NewRows([]string{"h3", "value", "ts", "year"}).
			AddRow("a10", 0.5, int64(0), 0).
			AddRow("a2", 0.25, int64(0), 0))
	mock.ExpectQuery("SELECT layer, updated_at").WithArgs("risk").
		WillReturnRows(sqlmock.NewRows([]string{"layer", "updated_at", "row_count", "skipped", "imported_at"}))

	svc := newService(t, repository.NewCellRepository(db), riskLayer("db:"))
	require.NoError(t, svc.Load(context.Background(), "risk"))

	info, _ := svc.Info("risk")
	assert.Equal(t, 2, info.MaxRes)
	assert.Equal(t, 8, info.Rows) // a2 expands to 7 children
	assert.Nil(t, info.Freshness)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithSharedAppliesFilter(t *testing.T) {
	svc := newService(t, nil, riskLayer(writePayload(t, riskPayload)))
	require.NoError(t, svc.Load(context.Background(), "risk"))
	l, _ := svc.Get("risk")

	var n int
	require.NoError(t, l.WithShared(models.LayerFilter{Threshold: 0.6}, func(s *engine.Session) error {
		n = s.Aggregate(2).Len()
		return nil
	}))
	assert.Equal(t, 1, n)
}

func TestSessionStoreLifecycle(t *testing.T) {
	svc := newService(t, nil, riskLayer(writePayload(t, riskPayload)))
	require.NoError(t, svc.Load(context.Background(), "risk"))
	store := NewSessionStore(svc, 1)

	m, err := store.Create("risk")
	require.NoError(t, err)
	got, err := store.Get(m.ID)
	require.NoError(t, err)
	assert.Same(t, m, got)

	frames, err := m.DrawAll(models.ViewportRequest{Zoom: 12, South: -1, West: -1, North: 10, East: 10, Hotspots: true})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Len(t, frames[0].Ops, 2)
	assert.True(t, frames[0].Done)
	assert.Equal(t, 2, frames[0].Status.Hotspots)
	assert.Equal(t, 2, m.Scheduler().PoolSize())

	other, err := store.Create("risk")
	require.NoError(t, err)
	_, err = store.Get(m.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, store.Delete(other.ID))
	assert.ErrorIs(t, store.Delete(other.ID), ErrSessionNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestSessionFollowsLayerReload(t *testing.T) {
	src := writePayload(t, riskPayload)
	svc := newService(t, nil, riskLayer(src))
	require.NoError(t, svc.Load(context.Background(), "risk"))
	l, _ := svc.Get("risk")
	assert.Equal(t, uint64(1), l.Generation())

	store := NewSessionStore(svc, 4)
	m, err := store.Create("risk")
	require.NoError(t, err)
	view := models.ViewportRequest{Zoom: 12, South: -1, West: -1, North: 10, East: 10}
	_, err = m.DrawAll(view)
	require.NoError(t, err)
	assert.Equal(t, []string{"a10", "a11"}, m.Scheduler().ShapeIDs())

	require.NoError(t, os.WriteFile(src, []byte(`{"data":[["a11",0.2],["a12",0.3]]}`), 0o644))
	require.NoError(t, svc.Load(context.Background(), "risk"))
	assert.Equal(t, uint64(2), l.Generation())

	frames, err := m.DrawAll(view)
	require.NoError(t, err)
	require.NotEmpty(t, frames)
	assert.False(t, frames[0].Status.Skipped)

	ops := map[string]string{}
	for _, f := range frames {
		for _, o := range f.Ops {
			ops[o.ID] = o.Op
		}
	}
	assert.Equal(t, map[string]string{"a10": models.OpRemove, "a11": models.OpPatch, "a12": models.OpCreate}, ops)
	assert.Equal(t, []string{"a11", "a12"}, m.Scheduler().ShapeIDs())
	sh, ok := m.Scheduler().Shape("a11")
	require.True(t, ok)
	assert.InDelta(t, 0.2, sh.Score, 1e-9)
}

func TestCreateSessionOnUnloadedLayer(t *testing.T) {
	store := NewSessionStore(newService(t, nil, riskLayer("unused")), 4)
	_, err := store.Create("risk")
	assert.ErrorIs(t, err, ErrLayerNotReady)
	_, err = store.Create("nope")
	assert.ErrorIs(t, err, ErrLayerNotFound)
}

func TestFreshness(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) dataset.Meta {
		return dataset.NewMeta(now.Add(-d).Format(time.RFC3339))
	}

	tests := []struct {
		name  string
		meta  dataset.Meta
		class string
		ago   string
	}{
		{"just now", at(20 * time.Second), "fresh", "now"},
		{"minutes", at(10 * time.Minute), "fresh", "10m ago"},
		{"stale", at(45 * time.Minute), "stale", "45m ago"},
		{"very stale", at(3 * time.Hour), "very-stale", "3h ago"},
		{"days", at(50 * time.Hour), "very-stale", "2d ago"},
		{"unparsable", dataset.NewMeta("yesterday"), "fresh", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Freshness(tt.meta, now)
			require.NotNil(t, f)
			assert.Equal(t, tt.class, f.Class)
			assert.Equal(t, tt.ago, f.Ago)
		})
	}

	f := Freshness(dataset.NewMeta("2024-05-01 11:50:00"), now)
	assert.Equal(t, "Last updated: 2024-05-01 11:50 (10m ago)", f.Label)
	assert.Nil(t, Freshness(dataset.Meta{}, now))
}
