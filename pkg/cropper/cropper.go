// Package cropper implements the interactive crop tool, figure box
// extraction and automatic trimming to inked content.
package cropper

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/menta2k/figure-editor/pkg/geometry"
	"github.com/menta2k/figure-editor/pkg/types"
	"github.com/menta2k/figure-editor/pkg/vision"
)

// ErrDegenerateCrop is returned when a selection has no area on the raster
var ErrDegenerateCrop = errors.New("crop selection has no area")

// State is the crop gesture state
type State int

const (
	Idle State = iota
	Dragging
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	default:
		return "unknown"
	}
}

// Tool tracks an interactive rectangular selection in display space.
// Coordinates are relative to the displayed element's top-left corner.
type Tool struct {
	state State
	rect  geometry.Rect
	set   bool
}

// New creates an idle crop tool
func New() *Tool {
	return &Tool{}
}

// Begin starts a new selection at p
func (t *Tool) Begin(p geometry.Point) {
	t.state = Dragging
	t.rect = geometry.Rect{Left: p.X, Top: p.Y}
	t.set = true
}

// Drag extends the selection to p. Width and height go negative when the
// pointer moves up or left of the start point.
func (t *Tool) Drag(p geometry.Point) {
	if t.state != Dragging {
		return
	}
	t.rect.Width = p.X - t.rect.Left
	t.rect.Height = p.Y - t.rect.Top
}

// End finishes the drag and keeps the selection for Confirm
func (t *Tool) End() {
	t.state = Idle
}

// Cancel drops the selection
func (t *Tool) Cancel() {
	t.state = Idle
	t.rect = geometry.Rect{}
	t.set = false
}

// State returns the gesture state
func (t *Tool) State() State {
	return t.state
}

// Selection returns the current selection, if any
func (t *Tool) Selection() (geometry.Rect, bool) {
	return t.rect, t.set
}

// CropResult contains the result of a cropping operation
type CropResult struct {
	Image  *image.NRGBA
	Region image.Rectangle
}

// Confirm extracts the selected region from src. displayed is the size src
// is shown at. A selection with no area on the raster returns
// ErrDegenerateCrop and leaves the selection in place.
func (t *Tool) Confirm(src image.Image, displayed geometry.Rect) (CropResult, error) {
	if !t.set {
		return CropResult{}, ErrDegenerateCrop
	}
	b := src.Bounds()
	region := geometry.DisplayRectToCanvas(t.rect, displayed, b.Dx(), b.Dy())
	if region.Empty() {
		return CropResult{}, ErrDegenerateCrop
	}

	result := CropResult{
		Image:  imaging.Crop(src, region.Add(b.Min)),
		Region: region,
	}
	t.Cancel()
	return result, nil
}

// CropToBox cuts a normalized figure box out of a page raster, grown by
// padding pixels on every side.
func CropToBox(page image.Image, box types.Box2D, padding float64) (CropResult, error) {
	b := page.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return CropResult{}, fmt.Errorf("invalid image dimensions")
	}

	region := geometry.CropRegionFromBox(box.Clamped(), w, h, padding).Rect(w, h)
	if region.Empty() {
		return CropResult{}, fmt.Errorf("empty crop rectangle for box %v: %w", box, ErrDegenerateCrop)
	}

	return CropResult{
		Image:  imaging.Crop(page, region.Add(b.Min)),
		Region: region,
	}, nil
}

// Trimmer tightens a figure crop to its inked content
type Trimmer struct {
	detector *vision.ContentDetector
}

// NewTrimmer creates a Trimmer with the default content detector
func NewTrimmer() *Trimmer {
	return &Trimmer{detector: vision.New()}
}

// SetDetector allows setting a custom content detector
func (t *Trimmer) SetDetector(detector *vision.ContentDetector) {
	t.detector = detector
}

// Trim crops img to the bounding box of its ink. A blank image returns
// ErrDegenerateCrop.
func (t *Trimmer) Trim(img image.Image) (CropResult, error) {
	region, ok := t.detector.DetectContent(img)
	if !ok || region.Area() == 0 {
		return CropResult{}, ErrDegenerateCrop
	}
	rect := region.Rect()
	return CropResult{
		Image:  imaging.Crop(img, rect.Add(img.Bounds().Min)),
		Region: rect,
	}, nil
}
