// Package annotate draws text labels on figure rasters.
//
// Labels are baseline anchored: (X, Y) is the left end of the baseline and
// the glyphs grow upward by roughly Size pixels. Each label is drawn in bold
// with a white outline of width Size/8 underneath the fill so it stays
// readable over dark ink and light paper alike.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/unicode/norm"
)

// Size limits in raster pixels
const (
	MinSize = 10
	MaxSize = 100
)

// PlaceholderText is the content of a freshly placed label
const PlaceholderText = "Text"

// Text is a single text label on a figure
type Text struct {
	ID    string  `json:"id" yaml:"id"`
	X     float64 `json:"x" yaml:"x"`
	Y     float64 `json:"y" yaml:"y"`
	Text  string  `json:"text" yaml:"text"`
	Color string  `json:"color" yaml:"color"`
	Size  float64 `json:"size" yaml:"size"`
}

// Patch is a partial update to a label. Nil fields are left untouched.
type Patch struct {
	Text  *string  `json:"text,omitempty" yaml:"text,omitempty"`
	Color *string  `json:"color,omitempty" yaml:"color,omitempty"`
	Size  *float64 `json:"size,omitempty" yaml:"size,omitempty"`
	X     *float64 `json:"x,omitempty" yaml:"x,omitempty"`
	Y     *float64 `json:"y,omitempty" yaml:"y,omitempty"`
}

// Apply returns a copy of t with the patch applied
func (p Patch) Apply(t Text) Text {
	if p.Text != nil {
		t.Text = *p.Text
	}
	if p.Color != nil {
		t.Color = *p.Color
	}
	if p.Size != nil {
		t.Size = ClampSize(*p.Size)
	}
	if p.X != nil {
		t.X = *p.X
	}
	if p.Y != nil {
		t.Y = *p.Y
	}
	return t
}

// ClampSize limits a font size to [MinSize, MaxSize]
func ClampSize(size float64) float64 {
	return math.Max(MinSize, math.Min(MaxSize, size))
}

// HighlightColor marks the selected label in previews
var HighlightColor = color.NRGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 0xff}

var outlineColor = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

// Renderer measures and draws labels. Faces are cached per size; a Renderer
// is safe for concurrent use.
type Renderer struct {
	mu    sync.Mutex
	font  *opentype.Font
	faces map[float64]font.Face
}

// NewRenderer creates a Renderer using the bundled bold Go font
func NewRenderer() (*Renderer, error) {
	f, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse label font: %w", err)
	}
	return &Renderer{font: f, faces: make(map[float64]font.Face)}, nil
}

var (
	defaultOnce     sync.Once
	defaultRenderer *Renderer
	defaultErr      error
)

// Default returns the shared Renderer
func Default() (*Renderer, error) {
	defaultOnce.Do(func() {
		defaultRenderer, defaultErr = NewRenderer()
	})
	return defaultRenderer, defaultErr
}

func (r *Renderer) face(size float64) (font.Face, error) {
	size = ClampSize(size)
	if f, ok := r.faces[size]; ok {
		return f, nil
	}
	f, err := opentype.NewFace(r.font, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create face for size %g: %w", size, err)
	}
	r.faces[size] = f
	return f, nil
}

// Measure returns the advance width of the label's text in pixels
func (r *Renderer) Measure(t Text) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.face(t.Size)
	if err != nil {
		return 0, err
	}
	return fixedToFloat(font.MeasureString(f, norm.NFC.String(t.Text))), nil
}

// Bounds returns the label's hit box: [X, X+width] × [Y-Size, Y]
func (r *Renderer) Bounds(t Text) (minX, minY, maxX, maxY float64, err error) {
	w, err := r.Measure(t)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return t.X, t.Y - t.Size, t.X + w, t.Y, nil
}

// Contains reports whether (x, y) falls within the label's hit box
func (r *Renderer) Contains(t Text, x, y float64) bool {
	minX, minY, maxX, maxY, err := r.Bounds(t)
	if err != nil {
		return false
	}
	return x >= minX && x <= maxX && y >= minY && y <= maxY
}

// Draw renders the label onto dst. When selected is true a highlight
// rectangle is drawn around the measured text bounds.
func (r *Renderer) Draw(dst *image.NRGBA, t Text, selected bool) error {
	fill, err := ParseColor(t.Color)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.face(t.Size)
	if err != nil {
		return err
	}
	s := norm.NFC.String(t.Text)
	size := ClampSize(t.Size)

	d := &font.Drawer{Dst: dst, Face: f}

	// outline: stamp the glyphs in white across a disc of radius size/16
	radius := size / 16
	reach := int(math.Ceil(radius))
	d.Src = image.NewUniform(outlineColor)
	for dy := -reach; dy <= reach; dy++ {
		for dx := -reach; dx <= reach; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			if float64(dx*dx+dy*dy) > radius*radius {
				continue
			}
			d.Dot = floatPoint(t.X+float64(dx), t.Y+float64(dy))
			d.DrawString(s)
		}
	}

	d.Src = image.NewUniform(fill)
	d.Dot = floatPoint(t.X, t.Y)
	d.DrawString(s)

	if selected {
		w := fixedToFloat(font.MeasureString(f, s))
		rect := image.Rect(
			int(math.Floor(t.X-4)), int(math.Floor(t.Y-size-4)),
			int(math.Ceil(t.X+w+4)), int(math.Ceil(t.Y+4)),
		)
		StrokeRect(dst, rect, HighlightColor, 2)
	}
	return nil
}

// StrokeRect draws an axis-aligned rectangle outline of the given width,
// clipped to dst.
func StrokeRect(dst *image.NRGBA, r image.Rectangle, c color.NRGBA, width int) {
	for s := 0; s < width; s++ {
		hLine(dst, r.Min.Y+s, r.Min.X, r.Max.X, c)
		hLine(dst, r.Max.Y-1-s, r.Min.X, r.Max.X, c)
		vLine(dst, r.Min.X+s, r.Min.Y, r.Max.Y, c)
		vLine(dst, r.Max.X-1-s, r.Min.Y, r.Max.Y, c)
	}
}

func hLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	b := img.Bounds()
	if y < b.Min.Y || y >= b.Max.Y {
		return
	}
	if x0 < b.Min.X {
		x0 = b.Min.X
	}
	if x1 > b.Max.X {
		x1 = b.Max.X
	}
	for x := x0; x < x1; x++ {
		img.SetNRGBA(x, y, c)
	}
}

func vLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	b := img.Bounds()
	if x < b.Min.X || x >= b.Max.X {
		return
	}
	if y0 < b.Min.Y {
		y0 = b.Min.Y
	}
	if y1 > b.Max.Y {
		y1 = b.Max.Y
	}
	for y := y0; y < y1; y++ {
		img.SetNRGBA(x, y, c)
	}
}

// ParseColor parses a CSS hex color (#rgb, #rgba, #rrggbb, #rrggbbaa) or one
// of a few basic color names.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[s]; ok {
		return c, nil
	}
	if !strings.HasPrefix(s, "#") {
		return color.NRGBA{}, fmt.Errorf("unsupported color %q", s)
	}
	hex := s[1:]
	if len(hex) == 3 || len(hex) == 4 {
		var b strings.Builder
		for _, ch := range hex {
			b.WriteRune(ch)
			b.WriteRune(ch)
		}
		hex = b.String()
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("unsupported color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

var namedColors = map[string]color.NRGBA{
	"black": {0, 0, 0, 255},
	"white": {255, 255, 255, 255},
	"red":   {255, 0, 0, 255},
	"green": {0, 128, 0, 255},
	"blue":  {0, 0, 255, 255},
}

func floatPoint(x, y float64) fixed.Point26_6 {
	return fixed.Point26_6{X: fixed.Int26_6(math.Round(x * 64)), Y: fixed.Int26_6(math.Round(y * 64))}
}

func fixedToFloat(v fixed.Int26_6) float64 {
	return float64(v) / 64
}
