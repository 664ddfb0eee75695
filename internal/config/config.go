package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/joho/godotenv"

	"github.com/jengzang/hexmap-backend-go/internal/dataset"
	"github.com/jengzang/hexmap-backend-go/internal/engine"
	"github.com/jengzang/hexmap-backend-go/internal/hexgrid"
	"github.com/jengzang/hexmap-backend-go/internal/render"
)

// Config 应用配置
type Config struct {
	Port      string
	DBPath    string
	JWTSecret string
	LogLevel  string
	LogFile   string // empty = stderr only

	CORSOrigins []string
	RateLimit   float64 // requests per second per client, 0 = off
	RateBurst   int

	SessionCapacity int
	UseWorker       bool
	LoadTimeout     time.Duration
	HTTPTimeout     time.Duration

	Layers []LayerConfig
}

// LayerConfig is everything needed to load and draw one dataset.
type LayerConfig struct {
	Name   string
	Title  string
	Source string // http(s) URL, file path, or "db:" to read the record store
	Schema string // "risk" or "counts"

	Policy   dataset.ExpandPolicy
	Smooth   dataset.SmoothOptions
	Tuning   engine.Tuning
	Geometry hexgrid.CacheSizes

	Style       render.Style
	Label       string
	Gradient    render.Gradient
	OpacityRamp render.OpacityRamp
	FillOpacity float64
	ResFactors  map[int]float64
	MinDrawZoom float64
	ChunkSize   int
	SafetyMax   int

	StartZoom  float64
	HotspotPct float64
}

// RenderOptions builds the draw options for the layer.
func (l LayerConfig) RenderOptions() render.Options {
	return render.Options{
		Style:           l.Style,
		Label:           l.Label,
		Palette:         render.NewPalette(l.Gradient, l.OpacityRamp, l.FillOpacity, l.ResFactors),
		MinDrawZoom:     l.MinDrawZoom,
		ViewPad:         render.DefaultOptions.ViewPad,
		ChunkSize:       l.ChunkSize,
		SafetyMaxRender: l.SafetyMax,
		WarmLimit:       render.DefaultOptions.WarmLimit,
	}
}

// RiskLayer returns the defaults for probability grids: duplicated values,
// mean scoring and smoothing at resolution 12.
func RiskLayer() LayerConfig {
	return LayerConfig{
		Name:        "risk",
		Title:       "Risk",
		Source:      "./data/predictions.json.gz",
		Schema:      "risk",
		Policy:      dataset.ExpandDuplicate,
		Smooth:      dataset.DefaultSmoothOptions,
		Tuning:      engine.DefaultTuning,
		Geometry:    hexgrid.DefaultCacheSizes,
		Style:       render.StyleRisk,
		Gradient:    render.RiskGradient,
		OpacityRamp: render.DefaultOpacityRamp,
		FillOpacity: 0.30,
		ResFactors:  render.DefaultResFactors,
		MinDrawZoom: 9,
		ChunkSize:   1200,
		SafetyMax:   80000,
		StartZoom:   9,
		HotspotPct:  0.01,
	}
}

// CollisionsLayer returns the defaults for yearly collision counts: split
// values, sum scoring and min/max normalized colors.
func CollisionsLayer() LayerConfig {
	tuning := engine.DefaultTuning
	tuning.Scoring = engine.ScoreSum
	tuning.ZoomK = 18.1
	smooth := dataset.DefaultSmoothOptions
	smooth.Enabled = false
	return LayerConfig{
		Name:        "collisions",
		Title:       "Collisions",
		Source:      "./data/h3_year.json",
		Schema:      "counts",
		Policy:      dataset.ExpandSplit,
		Smooth:      smooth,
		Tuning:      tuning,
		Geometry:    hexgrid.DefaultCacheSizes,
		Style:       render.StyleCounts,
		Label:       "Collisions",
		Gradient:    render.CountGradient,
		OpacityRamp: render.OpacityRamp{},
		FillOpacity: 0.30,
		MinDrawZoom: 9,
		ChunkSize:   1200,
		SafetyMax:   80000,
		StartZoom:   9,
		HotspotPct:  0.05,
	}
}

// Load 加载配置
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("[Config] failed to read .env")
	}

	cfg := &Config{
		Port:            getEnv("PORT", ":8080"),
		DBPath:          getEnv("DB_PATH", "./data/hexmap.db"),
		JWTSecret:       getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFile:         getEnv("LOG_FILE", ""),
		CORSOrigins:     getEnvList("CORS_ORIGINS", []string{"*"}),
		RateLimit:       getEnvFloat("RATE_LIMIT", 20),
		RateBurst:       getEnvInt("RATE_BURST", 40),
		SessionCapacity: getEnvInt("SESSION_CAPACITY", 256),
		UseWorker:       getEnvBool("USE_WORKER", true),
		LoadTimeout:     getEnvDuration("LOAD_TIMEOUT", 5*time.Minute),
		HTTPTimeout:     getEnvDuration("HTTP_TIMEOUT", 2*time.Minute),
	}

	defaults := map[string]func() LayerConfig{
		"risk":       RiskLayer,
		"collisions": CollisionsLayer,
	}
	for _, name := range getEnvList("LAYERS", []string{"risk", "collisions"}) {
		mk, ok := defaults[name]
		if !ok {
			log.WithField("layer", name).Warn("[Config] unknown layer ignored")
			continue
		}
		layer, err := applyLayerEnv(mk())
		if err != nil {
			log.WithError(err).WithField("layer", name).Warn("[Config] invalid layer setting, using defaults")
			layer = mk()
		}
		cfg.Layers = append(cfg.Layers, layer)
	}
	return cfg
}

// applyLayerEnv overrides layer defaults from <NAME>_* variables.
func applyLayerEnv(l LayerConfig) (LayerConfig, error) {
	p := strings.ToUpper(l.Name) + "_"

	l.Source = getEnv(p+"SOURCE", l.Source)
	l.Tuning.Alpha = getEnvFloat(p+"ALPHA", l.Tuning.Alpha)
	l.Tuning.HotspotMin = getEnvInt(p+"HOTSPOT_MIN", l.Tuning.HotspotMin)
	l.Tuning.MaxCells = getEnvInt(p+"MAX_CELLS", l.Tuning.MaxCells)
	l.Tuning.FloorRes = getEnvInt(p+"MIN_RES", l.Tuning.FloorRes)
	l.Tuning.ZoomK = getEnvFloat(p+"ZOOM_K", l.Tuning.ZoomK)
	l.Tuning.ZoomStep = getEnvFloat(p+"ZOOM_STEP", l.Tuning.ZoomStep)
	l.Smooth.Enabled = getEnvBool(p+"SMOOTH", l.Smooth.Enabled)
	l.Smooth.SmoothAt = getEnvInt(p+"SMOOTH_AT", l.Smooth.SmoothAt)
	l.Smooth.Lo = getEnvFloat(p+"SMOOTH_LO", l.Smooth.Lo)
	l.Smooth.Hi = getEnvFloat(p+"SMOOTH_HI", l.Smooth.Hi)
	l.FillOpacity = getEnvFloat(p+"FILL_OPACITY", l.FillOpacity)
	l.MinDrawZoom = getEnvFloat(p+"MIN_DRAW_ZOOM", l.MinDrawZoom)
	l.StartZoom = getEnvFloat(p+"START_ZOOM", l.StartZoom)
	l.HotspotPct = getEnvFloat(p+"HOTSPOT_PCT", l.HotspotPct)

	if v := os.Getenv(p + "POLICY"); v != "" {
		policy, err := dataset.ParseExpandPolicy(v)
		if err != nil {
			return l, err
		}
		l.Policy = policy
	}
	if v := os.Getenv(p + "SCORING"); v != "" {
		scoring, err := engine.ParseScoring(v)
		if err != nil {
			return l, err
		}
		l.Tuning.Scoring = scoring
	}
	if v := os.Getenv(p + "KNOTS"); v != "" {
		var mid, high float64
		if _, err := fmt.Sscanf(v, "%g,%g", &mid, &high); err != nil {
			return l, fmt.Errorf("%sKNOTS: %w", p, err)
		}
		l.Gradient.MidKnot, l.Gradient.HighKnot = mid, high
	}
	return l, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.WithField("key", key).Warn("[Config] not an integer, using default")
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.WithField("key", key).Warn("[Config] not a number, using default")
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
