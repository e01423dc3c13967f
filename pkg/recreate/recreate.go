// Package recreate redraws figures and plots equations with a vision model.
//
// The model answers in SVG, which is rasterized locally so the result can
// be edited like any other figure raster.
package recreate

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"regexp"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/menta2k/figure-editor/internal/logging"
	"github.com/menta2k/figure-editor/pkg/client"
	"github.com/menta2k/figure-editor/pkg/processing"
)

// ErrNoSVG is returned when the model reply contains no usable SVG
var ErrNoSVG = errors.New("model reply contains no SVG")

// RecreatePrompt asks for a clean redraw of a figure. %d %d is the target
// size, %s the figure description.
const RecreatePrompt = `Redraw this hand-drawn figure from mathematics notes as a clean, precise SVG diagram.

Figure description: %s

HARD RULES
- Output a single <svg> element with width="%d" height="%d" and a matching viewBox.
- Keep every curve, axis, point and label of the original in the same place.
- Black strokes on a white background; use <text> only for short labels.
- SVG only. No markdown, no code fences, no explanations.`

// GraphPrompt asks for a plot of an equation. %s is the equation, %d %d
// the target size.
const GraphPrompt = `Plot the following equation as a clean SVG graph with labelled axes, tick marks and a light grid.

Equation: %s

HARD RULES
- Output a single <svg> element with width="%d" height="%d" and a matching viewBox.
- Draw the curve in a solid dark stroke at least 2 units wide.
- SVG only. No markdown, no code fences, no explanations.`

var svgPattern = regexp.MustCompile(`(?is)<svg\b.*</svg\s*>`)

// Options configures a Service
type Options struct {
	Model       string
	SendFormat  string
	SendMaxDim  int
	SendQuality int
	// GraphWidth and GraphHeight size plotted equations
	GraphWidth  int
	GraphHeight int
	// Attempts is the number of tries before giving up on a reply
	// without SVG
	Attempts int
}

// DefaultOptions returns the settings used by the CLI
func DefaultOptions() Options {
	return Options{
		Model:       "qwen2.5vl:7b",
		SendFormat:  "png",
		SendMaxDim:  1024,
		SendQuality: 90,
		GraphWidth:  800,
		GraphHeight: 600,
		Attempts:    2,
	}
}

// Service implements figure recreation and graph generation
type Service struct {
	client    client.VisionClient
	processor *processing.Processor
	opts      Options
}

// NewService creates a Service on a vision client. Zero option fields take
// their defaults.
func NewService(vc client.VisionClient, opts Options) *Service {
	def := DefaultOptions()
	if opts.Model == "" {
		opts.Model = def.Model
	}
	if opts.SendFormat == "" {
		opts.SendFormat = def.SendFormat
	}
	if opts.SendQuality <= 0 {
		opts.SendQuality = def.SendQuality
	}
	if opts.GraphWidth <= 0 || opts.GraphHeight <= 0 {
		opts.GraphWidth, opts.GraphHeight = def.GraphWidth, def.GraphHeight
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	return &Service{client: vc, processor: processing.NewProcessor(), opts: opts}
}

// Recreate redraws img at its own size
func (s *Service) Recreate(ctx context.Context, img image.Image, alt string) (image.Image, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("invalid image dimensions")
	}
	imgB64, err := s.processor.PrepareImageForModel(img, s.opts.SendFormat, s.opts.SendMaxDim, s.opts.SendQuality)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(alt) == "" {
		alt = "not provided"
	}
	prompt := fmt.Sprintf(RecreatePrompt, alt, w, h)
	return s.query(ctx, prompt, imgB64, w, h)
}

// GenerateGraph renders a plot of equation
func (s *Service) GenerateGraph(ctx context.Context, equation string) (image.Image, error) {
	w, h := s.opts.GraphWidth, s.opts.GraphHeight
	prompt := fmt.Sprintf(GraphPrompt, strings.TrimSpace(equation), w, h)
	return s.query(ctx, prompt, "", w, h)
}

func (s *Service) query(ctx context.Context, prompt, imgB64 string, w, h int) (image.Image, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.Attempts; attempt++ {
		reply, err := s.client.SimpleQuery(ctx, s.opts.Model, prompt, imgB64)
		if err != nil {
			return nil, err
		}
		svg, err := ExtractSVG(reply)
		if err == nil {
			return Rasterize(svg, w, h)
		}
		lastErr = err
		logging.Logger().Warn("model reply without SVG", "attempt", attempt, "reply_len", len(reply))
	}
	return nil, lastErr
}

// ExtractSVG returns the outermost <svg>...</svg> element of a reply
func ExtractSVG(reply string) (string, error) {
	svg := svgPattern.FindString(reply)
	if svg == "" {
		return "", ErrNoSVG
	}
	return svg, nil
}

// Rasterize draws an SVG document onto a white w×h raster, scaling its
// viewBox to fill the target.
func Rasterize(svg string, w, h int) (*image.NRGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid raster size %dx%d", w, h)
	}
	icon, err := oksvg.ReadIconStream(strings.NewReader(svg), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSVG, err)
	}
	if icon.ViewBox.W == 0 || icon.ViewBox.H == 0 {
		icon.ViewBox.W, icon.ViewBox.H = float64(w), float64(h)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	icon.SetTarget(0, 0, float64(w), float64(h))
	scanner := rasterx.NewScannerGV(w, h, dst, dst.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)
	return dst, nil
}
