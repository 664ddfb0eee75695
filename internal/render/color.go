// Package render turns ranked cells into shape-pool mutations: color and
// opacity lookup tables, the per-client shape pool and the chunked draw
// scheduler.
package render

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RGB is an 8-bit color.
type RGB struct {
	R, G, B uint8
}

// ParseHex parses "#rrggbb" or "rrggbb".
func ParseHex(s string) (RGB, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return RGB{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// CSS formats the color as rgb(r,g,b).
func (c RGB) CSS() string {
	return fmt.Sprintf("rgb(%d,%d,%d)", c.R, c.G, c.B)
}

// Gradient is a three-point color ramp: Low at 0, Mid at MidKnot, High at
// HighKnot and beyond.
type Gradient struct {
	MidKnot  float64
	HighKnot float64
	Low      RGB
	Mid      RGB
	High     RGB
}

var (
	green  = RGB{R: 0x2a, G: 0x8f, B: 0x5a}
	yellow = RGB{R: 0xff, G: 0xd4, B: 0x00}
	red    = RGB{R: 0xff, G: 0x00, B: 0x33}

	// RiskGradient colors probability layers.
	RiskGradient = Gradient{MidKnot: 0.45, HighKnot: 0.9, Low: green, Mid: yellow, High: red}
	// CountGradient colors normalized count layers.
	CountGradient = Gradient{MidKnot: 0.30, HighKnot: 1.0, Low: green, Mid: yellow, High: red}
)

// At returns the color at x in [0,1].
func (g Gradient) At(x float64) RGB {
	k1, k2 := g.MidKnot, g.HighKnot
	switch {
	case x <= k1:
		t := 1.0
		if k1 > 0 {
			t = x / k1
		}
		return lerpRGB(g.Low, g.Mid, t)
	case x <= k2:
		t := 1.0
		if k2-k1 > 0 {
			t = (x - k1) / (k2 - k1)
		}
		return lerpRGB(g.Mid, g.High, t)
	default:
		return g.High
	}
}

func lerpRGB(a, b RGB, t float64) RGB {
	return RGB{R: lerp8(a.R, b.R, t), G: lerp8(a.G, b.G, t), B: lerp8(a.B, b.B, t)}
}

func lerp8(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
}

// OpacityRamp is the two-segment opacity curve applied on top of the global
// fill opacity. A disabled ramp is flat at 1.
type OpacityRamp struct {
	Enabled bool
	MidKnot float64
	Low     float64
	Mid     float64
	High    float64
}

// DefaultOpacityRamp fades low scores slightly.
var DefaultOpacityRamp = OpacityRamp{Enabled: true, MidKnot: 0.5, Low: 0.6, Mid: 1, High: 1}

// DefaultResFactors boosts coarse resolutions so they stay visible when
// zoomed out.
var DefaultResFactors = map[int]float64{6: 1.4, 7: 1.4, 8: 1.2, 9: 1.2, 10: 1.1, 11: 0.9, 12: 0.9}

// At returns the ramp value at x in [0,1].
func (o OpacityRamp) At(x float64) float64 {
	if !o.Enabled {
		return 1
	}
	k := clamp01(o.MidKnot)
	if x <= k {
		t := 1.0
		if k > 0 {
			t = x / k
		}
		return o.Low + (o.Mid-o.Low)*t
	}
	t := 1.0
	if 1-k > 0 {
		t = (x - k) / (1 - k)
	}
	return o.Mid + (o.High-o.Mid)*t
}

// Index maps a normalized score to a lookup table slot in [0,255].
func Index(p float64) int {
	switch {
	case math.IsNaN(p) || p <= 0:
		return 0
	case p >= 1:
		return 255
	default:
		return int(p * 255)
	}
}

// Palette holds the precomputed 256-step lookup tables for one layer.
type Palette struct {
	color       [256]string
	gray        [256]string
	opacity     [256]float64
	fillOpacity float64
	resFactors  map[int]float64
}

// NewPalette builds the lookup tables.
func NewPalette(g Gradient, ramp OpacityRamp, fillOpacity float64, resFactors map[int]float64) *Palette {
	p := &Palette{fillOpacity: fillOpacity, resFactors: resFactors}
	for i := 0; i < 256; i++ {
		x := float64(i) / 255
		p.color[i] = g.At(x).CSS()
		v := uint8(math.Round(60 + x*(230-60)))
		p.gray[i] = RGB{R: v, G: v, B: v}.CSS()
		p.opacity[i] = ramp.At(x)
	}
	return p
}

// Color returns the ramp color for a normalized score.
func (p *Palette) Color(score float64) string { return p.color[Index(score)] }

// Gray returns the de-emphasized gray for a normalized score.
func (p *Palette) Gray(score float64) string { return p.gray[Index(score)] }

// ResFactor returns the opacity multiplier for res, clamped to [0,2].
// Resolutions without a factor get 1.
func (p *Palette) ResFactor(res int) float64 {
	v, ok := p.resFactors[res]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 1
	}
	return math.Max(0, math.Min(2, v))
}

// Opacity returns fillOpacity × ramp × resFactor(res), clamped to [0,1].
func (p *Palette) Opacity(score float64, res int) float64 {
	return clamp01(p.fillOpacity * p.opacity[Index(score)] * p.ResFactor(res))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
