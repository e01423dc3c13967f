// Package adjust implements the per-figure color correction pipeline.
//
// The pipeline runs in two fixed stages. The global filters (brightness,
// contrast, saturate) follow the CSS filter-effect formulas so that a value
// of 100 is a no-op. The channel stage multiplies each of R, G and B by its
// gain and then applies a power-law tone curve. The channel stage reads every
// pixel back, so it is skipped entirely while gain and gamma sit at identity.
package adjust

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Parameter ranges
const (
	MinPercent = 0.0
	MaxPercent = 200.0
	MinGamma   = 0.1
	MaxGamma   = 3.0
)

// Params holds the adjustment values for one figure. Percentages use 100 as
// the no-op value.
type Params struct {
	Brightness float64 `json:"brightness" yaml:"brightness"`
	Contrast   float64 `json:"contrast" yaml:"contrast"`
	Saturate   float64 `json:"saturate" yaml:"saturate"`
	Red        float64 `json:"red" yaml:"red"`
	Green      float64 `json:"green" yaml:"green"`
	Blue       float64 `json:"blue" yaml:"blue"`
	Gamma      float64 `json:"gamma" yaml:"gamma"`
}

// Identity returns the parameters that leave a raster unchanged
func Identity() Params {
	return Params{
		Brightness: 100,
		Contrast:   100,
		Saturate:   100,
		Red:        100,
		Green:      100,
		Blue:       100,
		Gamma:      1,
	}
}

// IsIdentity reports whether p leaves every pixel untouched
func (p Params) IsIdentity() bool {
	return !p.NeedsFilterPass() && !p.NeedsPixelPass()
}

// NeedsFilterPass reports whether any of the global filters is active
func (p Params) NeedsFilterPass() bool {
	return p.Brightness != 100 || p.Contrast != 100 || p.Saturate != 100
}

// NeedsPixelPass reports whether the channel gain or gamma stage is active
func (p Params) NeedsPixelPass() bool {
	return p.Red != 100 || p.Green != 100 || p.Blue != 100 || p.Gamma != 1
}

// Clamp limits every value to its allowed range
func (p Params) Clamp() Params {
	p.Brightness = clamp(p.Brightness, MinPercent, MaxPercent)
	p.Contrast = clamp(p.Contrast, MinPercent, MaxPercent)
	p.Saturate = clamp(p.Saturate, MinPercent, MaxPercent)
	p.Red = clamp(p.Red, MinPercent, MaxPercent)
	p.Green = clamp(p.Green, MinPercent, MaxPercent)
	p.Blue = clamp(p.Blue, MinPercent, MaxPercent)
	p.Gamma = clamp(p.Gamma, MinGamma, MaxGamma)
	return p
}

// Validate returns an error describing the first out-of-range value
func (p Params) Validate() error {
	percents := []struct {
		name  string
		value float64
	}{
		{"brightness", p.Brightness},
		{"contrast", p.Contrast},
		{"saturate", p.Saturate},
		{"red", p.Red},
		{"green", p.Green},
		{"blue", p.Blue},
	}
	for _, v := range percents {
		if v.value < MinPercent || v.value > MaxPercent {
			return fmt.Errorf("%s must be between %.0f and %.0f, got %g", v.name, MinPercent, MaxPercent, v.value)
		}
	}
	if p.Gamma < MinGamma || p.Gamma > MaxGamma {
		return fmt.Errorf("gamma must be between %.1f and %.1f, got %g", MinGamma, MaxGamma, p.Gamma)
	}
	return nil
}

// Apply returns a new raster with p applied to src. src is never modified.
func Apply(src image.Image, p Params) *image.NRGBA {
	out := imaging.Clone(src)

	if p.NeedsFilterPass() {
		out = imaging.AdjustFunc(out, filterFunc(p))
	}

	if p.NeedsPixelPass() {
		if p.Red != 100 || p.Green != 100 || p.Blue != 100 {
			out = imaging.AdjustFunc(out, gainFunc(p))
		}
		if p.Gamma != 1 {
			out = imaging.AdjustGamma(out, p.Gamma)
		}
	}

	return out
}

// filterFunc builds the brightness -> contrast -> saturate chain. Each step
// clamps to [0,1] before the next, matching sequential filter primitives.
func filterFunc(p Params) func(color.NRGBA) color.NRGBA {
	b := p.Brightness / 100
	c := p.Contrast / 100
	intercept := 0.5 - 0.5*c
	m := saturateMatrix(p.Saturate / 100)

	return func(px color.NRGBA) color.NRGBA {
		r := float64(px.R) / 255
		g := float64(px.G) / 255
		bl := float64(px.B) / 255

		if p.Brightness != 100 {
			r, g, bl = clamp(r*b, 0, 1), clamp(g*b, 0, 1), clamp(bl*b, 0, 1)
		}
		if p.Contrast != 100 {
			r = clamp(r*c+intercept, 0, 1)
			g = clamp(g*c+intercept, 0, 1)
			bl = clamp(bl*c+intercept, 0, 1)
		}
		if p.Saturate != 100 {
			r, g, bl = clamp(m[0]*r+m[1]*g+m[2]*bl, 0, 1),
				clamp(m[3]*r+m[4]*g+m[5]*bl, 0, 1),
				clamp(m[6]*r+m[7]*g+m[8]*bl, 0, 1)
		}

		return color.NRGBA{R: to8(r * 255), G: to8(g * 255), B: to8(bl * 255), A: px.A}
	}
}

func gainFunc(p Params) func(color.NRGBA) color.NRGBA {
	gr, gg, gb := p.Red/100, p.Green/100, p.Blue/100
	return func(px color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: to8(float64(px.R) * gr),
			G: to8(float64(px.G) * gg),
			B: to8(float64(px.B) * gb),
			A: px.A,
		}
	}
}

// saturateMatrix is the feColorMatrix "saturate" matrix for s in [0,2]
func saturateMatrix(s float64) [9]float64 {
	return [9]float64{
		0.213 + 0.787*s, 0.715 - 0.715*s, 0.072 - 0.072*s,
		0.213 - 0.213*s, 0.715 + 0.285*s, 0.072 - 0.072*s,
		0.213 - 0.213*s, 0.715 - 0.715*s, 0.072 + 0.928*s,
	}
}

func to8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
