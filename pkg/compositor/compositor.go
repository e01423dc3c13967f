// Package compositor flattens a figure's overlays into a single raster.
//
// Preview and bake share Render, so the saved image matches what was shown
// minus the selection highlight.
package compositor

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/menta2k/figure-editor/internal/logging"
	"github.com/menta2k/figure-editor/pkg/adjust"
	"github.com/menta2k/figure-editor/pkg/annotate"
	"github.com/menta2k/figure-editor/pkg/processing"
	"github.com/menta2k/figure-editor/pkg/session"
	"github.com/menta2k/figure-editor/pkg/types"
)

// ErrEmptyRaster is reported for a figure whose raster has no pixels
var ErrEmptyRaster = errors.New("figure raster is empty")

// Options controls rendering
type Options struct {
	// Highlight draws the selection rectangle around the selected label
	Highlight bool
}

// Render produces a fresh raster: base with p applied, then every label in
// list order. src is never modified.
func Render(r *annotate.Renderer, base image.Image, p adjust.Params, texts []annotate.Text, selectedID string, opts Options) (*image.NRGBA, error) {
	if base == nil || base.Bounds().Empty() {
		return nil, ErrEmptyRaster
	}
	out := adjust.Apply(base, p)
	for _, t := range texts {
		if err := r.Draw(out, t, opts.Highlight && t.ID == selectedID); err != nil {
			return nil, fmt.Errorf("annotation %s: %w", t.ID, err)
		}
	}
	return out, nil
}

// Encoder writes baked rasters in one output format
type Encoder struct {
	Format   string
	Quality  int
	Lossless bool
}

// DefaultEncoder writes PNG
func DefaultEncoder() Encoder {
	return Encoder{Format: "png", Quality: 90}
}

// EncoderFromOptions builds an Encoder from output options
func EncoderFromOptions(o types.OutputOptions) Encoder {
	e := Encoder{Format: o.Format, Quality: o.Quality, Lossless: o.Lossless}
	if e.Format == "" {
		e.Format = "png"
	}
	if e.Quality <= 0 {
		e.Quality = 90
	}
	return e
}

// Encode serializes img
func (e Encoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := processing.EncodeImage(&buf, img, e.Format, e.Quality, e.Lossless); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Extension returns the file extension for the encoder's format
func (e Encoder) Extension() string {
	return processing.FormatExtension(e.Format)
}

// Compositor renders session figures
type Compositor struct {
	renderer *annotate.Renderer
}

// New creates a Compositor. A nil renderer selects the default one.
func New(r *annotate.Renderer) (*Compositor, error) {
	if r == nil {
		var err error
		if r, err = annotate.Default(); err != nil {
			return nil, err
		}
	}
	return &Compositor{renderer: r}, nil
}

// Preview renders figure id as it should appear while editing: adjustments
// applied, labels drawn, the selected label highlighted. While a pen stroke
// is in progress on the figure its unfiltered canvas is shown instead of
// the adjusted base.
func (c *Compositor) Preview(s *session.Session, id string) (*image.NRGBA, error) {
	st, err := s.State(id)
	if err != nil {
		return nil, err
	}
	base, params := st.Base, st.Adjustments
	if strokeID, canvas, ok := s.StrokeCanvas(); ok && strokeID == id {
		base, params = canvas, adjust.Identity()
	}

	out, err := Render(c.renderer, base, params, st.Annotations, st.SelectedID, Options{Highlight: true})
	if err != nil {
		return nil, &session.FigureError{FigureID: id, Op: "render", Err: err}
	}
	return out, nil
}

// PreviewAll renders every figure. A figure that fails to render is left
// nil in the result and reported in a *session.BatchError; the others are
// still rendered.
func (c *Compositor) PreviewAll(s *session.Session) ([]*image.NRGBA, error) {
	figures := s.Figures()
	out := make([]*image.NRGBA, len(figures))
	batch := &session.BatchError{Op: "render"}
	for i, f := range figures {
		img, err := c.Preview(s, f.ID)
		if err != nil {
			logging.Logger().Warn("preview failed", "figure", f.ID, "error", err)
			batch.Errors = append(batch.Errors, toFigureError(f.ID, "render", err))
			continue
		}
		out[i] = img
	}
	if len(batch.Errors) > 0 {
		return out, batch
	}
	return out, nil
}

// Bake renders figure id for export, without the selection highlight
func (c *Compositor) Bake(s *session.Session, id string) (*image.NRGBA, error) {
	st, err := s.State(id)
	if err != nil {
		return nil, err
	}
	out, err := Render(c.renderer, st.Base, st.Adjustments, st.Annotations, "", Options{})
	if err != nil {
		return nil, &session.FigureError{FigureID: id, Op: "bake", Err: err}
	}
	return out, nil
}

// BakeAll bakes and encodes every figure in input order. Each figure is
// rendered on its own surface. Any failure aborts the save and no partial
// payload is returned.
func (c *Compositor) BakeAll(s *session.Session, enc Encoder) ([]types.FigureUpdate, error) {
	figures := s.Figures()
	updates := make([]types.FigureUpdate, 0, len(figures))
	for _, f := range figures {
		img, err := c.Bake(s, f.ID)
		if err != nil {
			return nil, err
		}
		data, err := enc.Encode(img)
		if err != nil {
			return nil, &session.FigureError{FigureID: f.ID, Op: "encode", Err: err}
		}
		updates = append(updates, types.FigureUpdate{
			FigureID:  f.ID,
			PageIndex: f.PageIndex,
			Format:    enc.Extension(),
			Data:      data,
		})
	}
	logging.Logger().Info("figures baked", "count", len(updates), "format", enc.Format)
	return updates, nil
}

// Download bakes the active figure and names it edited-figure-<id>.<ext>
func (c *Compositor) Download(s *session.Session, enc Encoder) (string, []byte, error) {
	f := s.Active()
	img, err := c.Bake(s, f.ID)
	if err != nil {
		return "", nil, err
	}
	data, err := enc.Encode(img)
	if err != nil {
		return "", nil, &session.FigureError{FigureID: f.ID, Op: "encode", Err: err}
	}
	return DownloadName(f.ID, enc.Extension()), data, nil
}

// DownloadName returns the file name used for a single-figure download
func DownloadName(figureID, ext string) string {
	return fmt.Sprintf("edited-figure-%s.%s", figureID, ext)
}

func toFigureError(id, op string, err error) *session.FigureError {
	var fe *session.FigureError
	if errors.As(err, &fe) {
		return fe
	}
	return &session.FigureError{FigureID: id, Op: op, Err: err}
}
