// Package figureeditor turns scanned handwritten notes into HTML and lets
// the figures cut out of them be edited before they are written back.
//
// Basic usage:
//
//	ed, err := figureeditor.NewFromConfig(config.Default())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	doc, err := ed.LoadDocument(ctx, []string{"scans/"})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	s, err := ed.NewSession(doc)
//	if err != nil {
//		log.Fatal(err)
//	}
//	s.SetAdjustments(s.Active().ID, adjust.Params{Brightness: 120, Contrast: 130,
//		Saturate: 100, Red: 100, Green: 100, Blue: 100, Gamma: 1})
//	s.AddAnnotation(s.Active().ID, 20, 40, "#d00", 24)
//
//	if _, err := ed.Save(doc, s); err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(doc.HTML())
//
// The package consists of these components:
//
//  1. Processing (pkg/processing): page loading, rasterization and encoding
//  2. Transcription (pkg/transcription): page HTML and figure boxes from a vision model
//  3. Session (pkg/session): per-figure editing state, tools and undo
//  4. Compositor (pkg/compositor): preview and bake of adjusted, annotated figures
//  5. Recreate (pkg/recreate): AI redraws and equation plots
//  6. Splice (pkg/splice): saved figures written back into the page HTML
package figureeditor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/menta2k/figure-editor/internal/config"
	"github.com/menta2k/figure-editor/internal/logging"
	"github.com/menta2k/figure-editor/pkg/client"
	"github.com/menta2k/figure-editor/pkg/compositor"
	"github.com/menta2k/figure-editor/pkg/cropper"
	"github.com/menta2k/figure-editor/pkg/llamacpp"
	"github.com/menta2k/figure-editor/pkg/ollama"
	"github.com/menta2k/figure-editor/pkg/processing"
	"github.com/menta2k/figure-editor/pkg/recreate"
	"github.com/menta2k/figure-editor/pkg/session"
	"github.com/menta2k/figure-editor/pkg/splice"
	"github.com/menta2k/figure-editor/pkg/transcription"
	"github.com/menta2k/figure-editor/pkg/types"
	"github.com/menta2k/figure-editor/pkg/vision"
)

// Version of the figure editor library
const Version = "1.0.0"

// ErrNoClient is returned by operations that need a vision model when none
// is configured
var ErrNoClient = errors.New("no vision model client configured")

// Document is a transcribed document and the figures cut out of it
type Document struct {
	Pages          []types.Page
	Transcriptions []*types.Transcription
	Figures        []types.Figure
}

// HTML returns the page transcriptions joined in page order
func (d *Document) HTML() string {
	parts := make([]string, 0, len(d.Transcriptions))
	for _, t := range d.Transcriptions {
		if t != nil {
			parts = append(parts, t.HTML)
		}
	}
	return strings.Join(parts, "\n")
}

// Editor bundles the pipeline stages around editing sessions
type Editor struct {
	processor   *processing.Processor
	rasterizer  *processing.Rasterizer
	transcriber *transcription.Transcriber
	recreator   *recreate.Service
	compositor  *compositor.Compositor
	encoder     compositor.Encoder
	padding     float64
	drawColor   string
	sessionOpts []session.Option
}

// Option configures an Editor
type Option func(*Editor)

// WithClient sets the vision model used for transcription and recreation
func WithClient(vc client.VisionClient, t transcription.Options, r recreate.Options) Option {
	return func(e *Editor) {
		e.transcriber = transcription.NewTranscriber(vc, t)
		e.recreator = recreate.NewService(vc, r)
	}
}

// WithEncoder sets the output format of saved figures
func WithEncoder(enc compositor.Encoder) Option {
	return func(e *Editor) { e.encoder = enc }
}

// WithPadding sets the margin added around figure boxes
func WithPadding(p float64) Option {
	return func(e *Editor) { e.padding = p }
}

// WithMaxPageDim caps the long side of rasterized pages
func WithMaxPageDim(n int) Option {
	return func(e *Editor) { e.rasterizer.MaxPageDim = n }
}

// WithDrawColor sets the initial ink color of new sessions
func WithDrawColor(c string) Option {
	return func(e *Editor) { e.drawColor = c }
}

// WithSessionOptions adds options to every session the editor opens
func WithSessionOptions(opts ...session.Option) Option {
	return func(e *Editor) { e.sessionOpts = append(e.sessionOpts, opts...) }
}

// New creates an Editor with default settings and no vision model
func New(opts ...Option) (*Editor, error) {
	comp, err := compositor.New(nil)
	if err != nil {
		return nil, err
	}
	p := processing.NewProcessor()
	e := &Editor{
		processor:  p,
		rasterizer: processing.NewRasterizer(p, processing.DefaultMaxPageDim),
		compositor: comp,
		encoder:    compositor.DefaultEncoder(),
		padding:    transcription.DefaultPadding,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// NewClient creates the vision client selected by cfg
func NewClient(cfg config.BackendConfig) (client.VisionClient, error) {
	switch cfg.Kind {
	case "ollama", "":
		c, err := ollama.NewClient(cfg.URL)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "llamacpp":
		c, err := llamacpp.NewClient(cfg.URL)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Kind)
	}
}

// NewFromConfig creates an Editor from application configuration
func NewFromConfig(cfg *config.Config) (*Editor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	vc, err := NewClient(cfg.Backend)
	if err != nil {
		return nil, err
	}

	recreateModel := cfg.Backend.RecreateModel
	if recreateModel == "" {
		recreateModel = cfg.Backend.Model
	}
	trimmer := cropper.NewTrimmer()
	trimmer.SetDetector(vision.NewWithConfig(vision.DetectionConfig{
		InkThreshold: cfg.Editor.InkThreshold,
		MinInkPixels: 2,
		Margin:       4,
	}))

	return New(
		WithClient(vc,
			transcription.Options{
				Model:         cfg.Backend.Model,
				LanguageLevel: cfg.Extraction.LanguageLevel,
				SendFormat:    cfg.Extraction.SendFormat,
				SendMaxDim:    cfg.Extraction.SendMaxDim,
				SendQuality:   cfg.Extraction.SendQuality,
			},
			recreate.Options{
				Model:       recreateModel,
				GraphWidth:  cfg.Editor.GraphWidth,
				GraphHeight: cfg.Editor.GraphHeight,
				Attempts:    cfg.Batch.Attempts,
			}),
		WithEncoder(compositor.EncoderFromOptions(types.OutputOptions{
			Format:   cfg.Output.Format,
			Quality:  cfg.Output.Quality,
			Lossless: cfg.Output.Lossless,
		})),
		WithPadding(cfg.Extraction.Padding),
		WithMaxPageDim(cfg.Extraction.MaxPageDim),
		WithDrawColor(cfg.Editor.DrawColor),
		WithSessionOptions(
			session.WithHistoryLimit(cfg.Editor.HistoryLimit),
			session.WithTrimmer(trimmer),
		),
	)
}

// Encoder returns the encoder used by Save and Download
func (e *Editor) Encoder() compositor.Encoder {
	return e.encoder
}

// LoadDocument rasterizes the sources, one page each (directories expand
// to their page images), and transcribes every page. Any failure aborts.
func (e *Editor) LoadDocument(ctx context.Context, sources []string) (*Document, error) {
	if e.transcriber == nil {
		return nil, ErrNoClient
	}
	expanded, err := processing.ExpandSources(sources)
	if err != nil {
		return nil, err
	}
	pages, err := e.rasterizer.Rasterize(ctx, expanded)
	if err != nil {
		return nil, err
	}

	doc := &Document{Pages: pages, Transcriptions: make([]*types.Transcription, len(pages))}
	for i, page := range pages {
		t, err := e.transcriber.Transcribe(ctx, page)
		if err != nil {
			return nil, err
		}
		doc.Transcriptions[i] = t
	}
	if err := transcription.UniqueAcrossPages(doc.Transcriptions); err != nil {
		return nil, err
	}
	if err := e.ExtractFigures(doc); err != nil {
		return nil, err
	}
	logging.Logger().Info("document loaded", "pages", len(doc.Pages), "figures", len(doc.Figures))
	return doc, nil
}

// ExtractFigures cuts every transcribed figure out of its page
func (e *Editor) ExtractFigures(doc *Document) error {
	doc.Figures = doc.Figures[:0]
	for i, page := range doc.Pages {
		if i >= len(doc.Transcriptions) || doc.Transcriptions[i] == nil {
			continue
		}
		figures, err := transcription.ExtractFigures(page, doc.Transcriptions[i], e.padding)
		if err != nil {
			return err
		}
		doc.Figures = append(doc.Figures, figures...)
	}
	return nil
}

// NewSession opens an editing session over the document's figures
func (e *Editor) NewSession(doc *Document, opts ...session.Option) (*session.Session, error) {
	if len(doc.Figures) == 0 {
		return nil, fmt.Errorf("document has no figures to edit")
	}
	all := append([]session.Option(nil), e.sessionOpts...)
	if e.recreator != nil {
		all = append(all, session.WithRecreator(e.recreator), session.WithGraphGenerator(e.recreator))
	}
	all = append(all, opts...)
	s, err := session.New(doc.Figures, all...)
	if err != nil {
		return nil, err
	}
	if e.drawColor != "" {
		if err := s.SetDrawColor(e.drawColor); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Preview renders figure id as shown while editing
func (e *Editor) Preview(s *session.Session, id string) (*image.NRGBA, error) {
	return e.compositor.Preview(s, id)
}

// Save bakes every figure of s and applies the payload to doc: the page
// HTML gets the new images and each figure's AI source becomes its baked
// raster. Nothing is applied when any figure fails.
func (e *Editor) Save(doc *Document, s *session.Session) ([]types.FigureUpdate, error) {
	updates, err := e.compositor.BakeAll(s, e.encoder)
	if err != nil {
		return nil, err
	}

	byPage := make(map[int][]types.FigureUpdate)
	for _, u := range updates {
		byPage[u.PageIndex] = append(byPage[u.PageIndex], u)
	}
	html := make([]string, len(doc.Transcriptions))
	for i, t := range doc.Transcriptions {
		if t == nil {
			continue
		}
		out, n, err := splice.Apply(t.HTML, byPage[i])
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		if n < len(byPage[i]) {
			logging.Logger().Warn("figures without an image reference", "page", i+1, "missing", len(byPage[i])-n)
		}
		html[i] = out
	}
	figures, err := splice.UpdateFigures(doc.Figures, updates, e.processor.DecodeImage)
	if err != nil {
		return nil, err
	}

	for i, t := range doc.Transcriptions {
		if t != nil {
			t.HTML = html[i]
		}
	}
	doc.Figures = figures
	return updates, nil
}

// Download bakes the active figure as a named file
func (e *Editor) Download(s *session.Session) (string, []byte, error) {
	return e.compositor.Download(s, e.encoder)
}

// DebugOverlays draws each page's figure boxes over the page raster
func (e *Editor) DebugOverlays(doc *Document) []image.Image {
	out := make([]image.Image, len(doc.Pages))
	for i, page := range doc.Pages {
		var boxes []types.FigureBox
		if i < len(doc.Transcriptions) && doc.Transcriptions[i] != nil {
			boxes = doc.Transcriptions[i].Figures
		}
		out[i] = e.processor.CreateDebugOverlay(page.Image, boxes, e.padding)
	}
	return out
}
