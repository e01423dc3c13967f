package session

import (
	"image"

	"github.com/menta2k/figure-editor/internal/logging"
	"github.com/menta2k/figure-editor/pkg/adjust"
	"github.com/menta2k/figure-editor/pkg/annotate"
	"github.com/menta2k/figure-editor/pkg/geometry"
	"github.com/menta2k/figure-editor/pkg/ink"
)

// BeginCrop starts a crop selection at p, in display coordinates relative
// to the displayed figure. Ignored unless the crop tool is active.
func (s *Session) BeginCrop(p geometry.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tool != ToolCrop {
		return ErrWrongTool
	}
	s.crop.Begin(p)
	return nil
}

// DragCrop extends the crop selection to p
func (s *Session) DragCrop(p geometry.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crop.Drag(p)
}

// EndCrop finishes the drag, keeping the selection for ConfirmCrop
func (s *Session) EndCrop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crop.End()
}

// CancelCrop drops the crop selection
func (s *Session) CancelCrop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crop.Cancel()
}

// CropSelection returns the pending crop rectangle in display coordinates
func (s *Session) CropSelection() (geometry.Rect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crop.Selection()
}

// ConfirmCrop cuts the selection out of the active figure's displayed
// raster (adjustments applied, annotations not baked), stores it as the
// working raster, resets adjustments and returns to the view tool.
// displayed is the size the figure is shown at. A selection without area
// returns cropper.ErrDegenerateCrop and changes nothing.
func (s *Session) ConfirmCrop(displayed geometry.Rect) error {
	id := s.Active().ID
	return s.mutate(id, func(r record) (record, error) {
		shown := adjust.Apply(baseOf(s.figures[s.index[id]], r), r.adjustments)
		result, err := s.crop.Confirm(shown, displayed)
		if err != nil {
			return r, err
		}
		logging.Logger().Debug("crop committed", "figure", id, "region", result.Region)
		r.working = result.Image
		r.adjustments = adjust.Identity()
		s.tool = ToolView
		return r, nil
	})
}

// AutoTrim crops figure id's displayed raster to its inked content
func (s *Session) AutoTrim(id string) error {
	return s.mutate(id, func(r record) (record, error) {
		shown := adjust.Apply(baseOf(s.figures[s.index[id]], r), r.adjustments)
		result, err := s.trimmer.Trim(shown)
		if err != nil {
			return r, err
		}
		r.working = result.Image
		r.adjustments = adjust.Identity()
		return r, nil
	})
}

// SetDrawColor sets the pen color for subsequent strokes
func (s *Session) SetDrawColor(c string) error {
	parsed, err := annotate.ParseColor(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.drawColor = parsed
	s.mu.Unlock()
	return nil
}

// BeginStroke starts a pen stroke on the active figure at p, in raster
// coordinates. The stroke inks the unadjusted base raster.
func (s *Session) BeginStroke(p ink.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tool != ToolDraw {
		return ErrWrongTool
	}
	f := s.figures[s.active]
	s.strokeBase = baseOf(f, s.records[f.ID])
	s.stroke = ink.NewStroke(s.strokeBase, s.drawColor)
	s.strokeFigure = f.ID
	s.stroke.Begin(p)
	return nil
}

// ContinueStroke draws a segment to p
func (s *Session) ContinueStroke(p ink.Point) error {
	s.mu.Lock()
	stroke, id := s.stroke, s.strokeFigure
	if stroke == nil {
		s.mu.Unlock()
		return ink.ErrNotDrawing
	}
	err := stroke.MoveTo(p)
	s.mu.Unlock()

	if err == nil {
		s.notify(id)
	}
	return err
}

// StrokeCanvas returns the in-progress ink raster for live display
func (s *Session) StrokeCanvas() (figureID string, img image.Image, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stroke == nil {
		return "", nil, false
	}
	return s.strokeFigure, s.stroke.Canvas(), true
}

// EndStroke commits the inked raster as the working raster of the figure
// the stroke started on. A stroke without movement changes nothing. If the
// figure's base was replaced mid-stroke the path is redrawn onto the new one.
func (s *Session) EndStroke() error {
	s.mu.Lock()
	stroke, id, started := s.stroke, s.strokeFigure, s.strokeBase
	s.stroke, s.strokeFigure, s.strokeBase = nil, "", nil
	s.mu.Unlock()

	if stroke == nil {
		return ink.ErrNotDrawing
	}
	out, changed := stroke.Commit()
	if !changed {
		return nil
	}
	return s.mutate(id, func(r record) (record, error) {
		if current := baseOf(s.figures[s.index[id]], r); current != started {
			logging.Logger().Debug("stroke base replaced, redrawing", "figure", id)
			out = stroke.Replay(current)
		}
		r.working = out
		return r, nil
	})
}

// SetWorking stores img as figure id's working raster and resets its
// adjustments, treating img as a fresh base. Annotations are kept.
func (s *Session) SetWorking(id string, img image.Image) error {
	return s.mutate(id, func(r record) (record, error) {
		r.working = img
		r.adjustments = adjust.Identity()
		return r, nil
	})
}
