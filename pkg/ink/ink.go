// Package ink draws freehand pen strokes straight into a raster.
//
// Ink is destructive: every segment is composited onto a private copy of the
// base raster, and Commit hands that copy back as the figure's new base.
// There is no retained stroke layer to edit afterwards.
package ink

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/vector"
)

// StrokeWidth is the pen width in raster pixels
const StrokeWidth = 3.0

// capSegments is the polygon resolution used for round caps
const capSegments = 16

// ErrNotDrawing is returned when a stroke operation arrives without Begin
var ErrNotDrawing = errors.New("ink: no stroke in progress")

// Point is a position in raster space
type Point struct {
	X float64
	Y float64
}

// Stroke is one pointer-down..pointer-up gesture on a raster
type Stroke struct {
	canvas  *image.NRGBA
	color   color.NRGBA
	width   float64
	last    Point
	path    []Point
	drawing bool
	dirty   bool
}

// NewStroke starts a stroke session over a copy of base
func NewStroke(base image.Image, c color.NRGBA) *Stroke {
	return &Stroke{
		canvas: imaging.Clone(base),
		color:  c,
		width:  StrokeWidth,
	}
}

// Begin records the pointer-down position
func (s *Stroke) Begin(p Point) {
	s.last = p
	s.path = append(s.path[:0], p)
	s.drawing = true
}

// MoveTo draws a segment from the previous point to p
func (s *Stroke) MoveTo(p Point) error {
	if !s.drawing {
		return ErrNotDrawing
	}
	Segment(s.canvas, s.last, p, s.width, s.color)
	s.last = p
	s.path = append(s.path, p)
	s.dirty = true
	return nil
}

// Drawing reports whether the pointer is down
func (s *Stroke) Drawing() bool {
	return s.drawing
}

// Canvas returns the in-progress raster for live display
func (s *Stroke) Canvas() *image.NRGBA {
	return s.canvas
}

// Commit ends the stroke and returns the flattened raster. changed is false
// when the pointer never moved, in which case the caller keeps its base.
func (s *Stroke) Commit() (out *image.NRGBA, changed bool) {
	s.drawing = false
	return s.canvas, s.dirty
}

// Replay draws the stroke's path again onto a copy of base. Used when the
// raster the stroke started on was replaced before it was committed.
func (s *Stroke) Replay(base image.Image) *image.NRGBA {
	out := imaging.Clone(base)
	for i := 1; i < len(s.path); i++ {
		Segment(out, s.path[i-1], s.path[i], s.width, s.color)
	}
	return out
}

// Segment draws a round-capped line of the given width from a to b
func Segment(dst *image.NRGBA, a, b Point, width float64, c color.NRGBA) {
	bounds := dst.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return
	}
	r := width / 2

	z := vector.NewRasterizer(w, h)
	z.DrawOp = draw.Over

	// every sub-path winds the same way so overlaps accumulate instead of
	// cancelling
	dx, dy := b.X-a.X, b.Y-a.Y
	if length := math.Hypot(dx, dy); length > 0 {
		nx, ny := -dy/length*r, dx/length*r
		z.MoveTo(float32(a.X+nx), float32(a.Y+ny))
		z.LineTo(float32(b.X+nx), float32(b.Y+ny))
		z.LineTo(float32(b.X-nx), float32(b.Y-ny))
		z.LineTo(float32(a.X-nx), float32(a.Y-ny))
		z.ClosePath()
	}
	disc(z, a, r)
	if b != a {
		disc(z, b, r)
	}

	z.Draw(dst, bounds, image.NewUniform(c), image.Point{})
}

func disc(z *vector.Rasterizer, c Point, r float64) {
	for i := 0; i <= capSegments; i++ {
		theta := -2 * math.Pi * float64(i) / capSegments
		x := float32(c.X + r*math.Cos(theta))
		y := float32(c.Y + r*math.Sin(theta))
		if i == 0 {
			z.MoveTo(x, y)
		} else {
			z.LineTo(x, y)
		}
	}
	z.ClosePath()
}
