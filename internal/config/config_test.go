package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/hexmap-backend-go/internal/dataset"
	"github.com/jengzang/hexmap-backend-go/internal/engine"
	"github.com/jengzang/hexmap-backend-go/internal/render"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.LoadTimeout)
	assert.True(t, cfg.UseWorker)
	require.Len(t, cfg.Layers, 2)

	risk := cfg.Layers[0]
	assert.Equal(t, "risk", risk.Name)
	assert.Equal(t, dataset.ExpandDuplicate, risk.Policy)
	assert.Equal(t, engine.ScoreWeighted, risk.Tuning.Scoring)
	assert.Equal(t, 17.9, risk.Tuning.ZoomK)
	assert.True(t, risk.Smooth.Enabled)

	col := cfg.Layers[1]
	assert.Equal(t, dataset.ExpandSplit, col.Policy)
	assert.Equal(t, engine.ScoreSum, col.Tuning.Scoring)
	assert.Equal(t, 18.1, col.Tuning.ZoomK)
	assert.Equal(t, render.StyleCounts, col.Style)
	assert.False(t, col.Smooth.Enabled)
}

func TestLoadLayerOverrides(t *testing.T) {
	t.Setenv("LAYERS", "collisions, nope")
	t.Setenv("COLLISIONS_SOURCE", "https://example.test/h3.json")
	t.Setenv("COLLISIONS_MAX_CELLS", "900")
	t.Setenv("COLLISIONS_KNOTS", "0.2,0.8")
	t.Setenv("COLLISIONS_POLICY", "duplicate")
	t.Setenv("PORT", ":9000")
	t.Setenv("CORS_ORIGINS", "https://a.test, https://b.test")

	cfg := Load()
	assert.Equal(t, ":9000", cfg.Port)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.CORSOrigins)
	require.Len(t, cfg.Layers, 1)
	l := cfg.Layers[0]
	assert.Equal(t, "https://example.test/h3.json", l.Source)
	assert.Equal(t, 900, l.Tuning.MaxCells)
	assert.Equal(t, 0.2, l.Gradient.MidKnot)
	assert.Equal(t, 0.8, l.Gradient.HighKnot)
	assert.Equal(t, dataset.ExpandDuplicate, l.Policy)
}

func TestInvalidLayerSettingFallsBack(t *testing.T) {
	t.Setenv("LAYERS", "risk")
	t.Setenv("RISK_SCORING", "median")
	t.Setenv("RISK_MAX_CELLS", "many")

	cfg := Load()
	require.Len(t, cfg.Layers, 1)
	assert.Equal(t, engine.ScoreWeighted, cfg.Layers[0].Tuning.Scoring)
	assert.Equal(t, engine.DefaultTuning.MaxCells, cfg.Layers[0].Tuning.MaxCells)
}

func TestRenderOptions(t *testing.T) {
	opts := CollisionsLayer().RenderOptions()
	assert.Equal(t, render.StyleCounts, opts.Style)
	assert.Equal(t, 1200, opts.ChunkSize)
	require.NotNil(t, opts.Palette)
	assert.InDelta(t, 0.30, opts.Palette.Opacity(0.1, 7), 1e-9)
}
