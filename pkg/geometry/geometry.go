// Package geometry maps between display space, canvas space and normalized
// figure boxes.
//
// Display space is the on-screen size an image is rendered at; canvas space
// is the backing raster's pixel grid. The two are related by independent X
// and Y ratios, so a stretched preview still maps pointer positions onto the
// right raster pixel.
package geometry

import (
	"image"
	"math"

	"github.com/menta2k/figure-editor/pkg/types"
)

// Point is a position in either display or canvas space
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pointer is a pointer sample from a mouse or a touch surface. When Touches
// is non-empty the first touch point is used instead of ClientX/ClientY.
type Pointer struct {
	ClientX float64 `json:"client_x"`
	ClientY float64 `json:"client_y"`
	Touches []Point `json:"touches,omitempty"`
}

// Position returns the client position of the pointer
func (p Pointer) Position() Point {
	if len(p.Touches) > 0 {
		return p.Touches[0]
	}
	return Point{X: p.ClientX, Y: p.ClientY}
}

// Rect is a rectangle in display space. Width and Height may be negative
// when it describes a drag from its origin.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Normalized returns the rectangle with non-negative width and height
func (r Rect) Normalized() Rect {
	if r.Width < 0 {
		r.Left += r.Width
		r.Width = -r.Width
	}
	if r.Height < 0 {
		r.Top += r.Height
		r.Height = -r.Height
	}
	return r
}

// Region is an absolute pixel region on a raster
type Region struct {
	X      float64 `json:"sx"`
	Y      float64 `json:"sy"`
	Width  float64 `json:"sw"`
	Height float64 `json:"sh"`
}

// Rect rounds the region outwards to whole pixels, limited to w×h
func (r Region) Rect(w, h int) image.Rectangle {
	x0 := int(math.Floor(r.X))
	y0 := int(math.Floor(r.Y))
	x1 := int(math.Ceil(r.X + r.Width))
	y1 := int(math.Ceil(r.Y + r.Height))
	return image.Rect(x0, y0, x1, y1).Intersect(image.Rect(0, 0, w, h))
}

// Empty reports whether the region covers no area
func (r Region) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// ToCanvasSpace converts a pointer position into canvas pixel coordinates.
// displayed is the element's rendered bounds; canvasW and canvasH are the
// backing raster dimensions.
func ToCanvasSpace(p Pointer, displayed Rect, canvasW, canvasH int) (float64, float64) {
	pos := p.Position()
	sx, sy := scale(displayed, canvasW, canvasH)
	return (pos.X - displayed.Left) * sx, (pos.Y - displayed.Top) * sy
}

// DisplayRectToCanvas maps a display-space rectangle (relative to the
// displayed element) onto the raster and clamps it to the raster bounds.
// The result is empty when the rectangle has no area or lies outside.
func DisplayRectToCanvas(r Rect, displayed Rect, canvasW, canvasH int) image.Rectangle {
	r = r.Normalized()
	sx, sy := scale(displayed, canvasW, canvasH)
	region := Region{
		X:      r.Left * sx,
		Y:      r.Top * sy,
		Width:  r.Width * sx,
		Height: r.Height * sy,
	}
	if region.Empty() {
		return image.Rectangle{}
	}
	return region.Rect(canvasW, canvasH)
}

// CropRegionFromBox maps a normalized box onto a w×h raster, growing it by
// padding pixels on each side. The region never leaves [0,w]×[0,h].
func CropRegionFromBox(box types.Box2D, w, h int, padding float64) Region {
	fw, fh := float64(w), float64(h)

	sx := math.Max(0, box.XMin()/types.NormalizedScale*fw-padding)
	sy := math.Max(0, box.YMin()/types.NormalizedScale*fh-padding)
	sw := math.Min(fw-sx, (box.XMax()-box.XMin())/types.NormalizedScale*fw+2*padding)
	sh := math.Min(fh-sy, (box.YMax()-box.YMin())/types.NormalizedScale*fh+2*padding)

	// boxes past the far edge would otherwise produce negative extents
	return Region{X: math.Min(sx, fw), Y: math.Min(sy, fh), Width: math.Max(0, sw), Height: math.Max(0, sh)}
}

func scale(displayed Rect, canvasW, canvasH int) (float64, float64) {
	sx, sy := 1.0, 1.0
	if displayed.Width != 0 {
		sx = float64(canvasW) / displayed.Width
	}
	if displayed.Height != 0 {
		sy = float64(canvasH) / displayed.Height
	}
	return sx, sy
}
