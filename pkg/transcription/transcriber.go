// Package transcription turns page rasters into HTML plus figure boxes with
// a vision-language model, and cuts the figures out of the pages.
package transcription

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/menta2k/figure-editor/internal/logging"
	"github.com/menta2k/figure-editor/pkg/client"
	"github.com/menta2k/figure-editor/pkg/cropper"
	"github.com/menta2k/figure-editor/pkg/processing"
	"github.com/menta2k/figure-editor/pkg/splice"
	"github.com/menta2k/figure-editor/pkg/types"
)

// DefaultPadding is the margin, in page pixels, added around figure boxes
const DefaultPadding = 15.0

// Language levels control how much the model rewrites the notes
const (
	LevelVerbatim = "verbatim"
	LevelClean    = "clean"
	LevelExpanded = "expanded"
)

// SimpleTestPrompt checks that the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks for the page transcription. %d is the page number,
// %s the language instruction.
const DefaultPrompt = `You are transcribing page %d of handwritten mathematics notes into accessible HTML.

Return JSON only:
{
  "html": "<semantic HTML of the page>",
  "figures": [
    {"id": "fig_%d_1", "box_2d": [ymin, xmin, ymax, xmax], "alt": "short description"}
  ]
}

HARD RULES
- Write mathematics as LaTeX inside \( ... \) or \[ ... \].
- %s
- Every drawing, diagram, graph or table that cannot be typed becomes a figure.
- Reference each figure in the HTML as <img data-figure-id="ID" alt="..."> at its place in the text.
- Figure ids are fig_%d_1, fig_%d_2, ... in reading order.
- box_2d is [ymin, xmin, ymax, xmax] normalized to 0-1000 over the whole page.
- If there are no figures, return "figures": [].
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

var levelInstructions = map[string]string{
	LevelVerbatim: "Keep the author's wording exactly, including abbreviations.",
	LevelClean:    "Fix spelling and grammar but keep the author's wording and structure.",
	LevelExpanded: "Write complete sentences and expand terse steps, without adding new mathematics.",
}

var idPattern = regexp.MustCompile(`[^A-Za-z0-9_\-]+`)

// Options configures a Transcriber
type Options struct {
	Model         string
	LanguageLevel string
	SendFormat    string // jpg or png
	SendMaxDim    int
	SendQuality   int
	Prompt        string
}

// DefaultOptions returns the settings used by the CLI
func DefaultOptions() Options {
	return Options{
		Model:         "qwen2.5vl:7b",
		LanguageLevel: LevelClean,
		SendFormat:    "jpg",
		SendMaxDim:    1600,
		SendQuality:   85,
	}
}

// Transcriber handles page transcription using vision models
type Transcriber struct {
	client    client.VisionClient
	processor *processing.Processor
	opts      Options
}

// NewTranscriber creates a transcriber on a vision client
func NewTranscriber(vc client.VisionClient, opts Options) *Transcriber {
	def := DefaultOptions()
	if opts.Model == "" {
		opts.Model = def.Model
	}
	if opts.LanguageLevel == "" {
		opts.LanguageLevel = def.LanguageLevel
	}
	if opts.SendFormat == "" {
		opts.SendFormat = def.SendFormat
	}
	if opts.SendQuality <= 0 {
		opts.SendQuality = def.SendQuality
	}
	return &Transcriber{client: vc, processor: processing.NewProcessor(), opts: opts}
}

// Prompt returns the prompt sent for a zero-based page index
func (t *Transcriber) Prompt(pageIndex int) string {
	if t.opts.Prompt != "" {
		return t.opts.Prompt
	}
	n := pageIndex + 1
	instruction, ok := levelInstructions[t.opts.LanguageLevel]
	if !ok {
		instruction = levelInstructions[LevelClean]
	}
	return fmt.Sprintf(DefaultPrompt, n, n, instruction, n, n)
}

// Transcribe sends one page to the model and returns its HTML and figure
// boxes, with boxes clamped to the normalized range and IDs made unique.
func (t *Transcriber) Transcribe(ctx context.Context, page types.Page) (*types.Transcription, error) {
	imgB64, err := t.processor.PrepareImageForModel(page.Image, t.opts.SendFormat, t.opts.SendMaxDim, t.opts.SendQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare page %d: %w", page.Index+1, err)
	}

	raw, err := t.client.JSONQuery(ctx, t.opts.Model, t.Prompt(page.Index), imgB64)
	if err != nil {
		return nil, fmt.Errorf("transcription of page %d failed: %w", page.Index+1, err)
	}

	var result types.Transcription
	if err := client.DecodeModelJSON(raw, &result); err != nil {
		return nil, fmt.Errorf("page %d: %w", page.Index+1, err)
	}

	if err := normalizeFigures(&result, page.Index); err != nil {
		return nil, fmt.Errorf("page %d: %w", page.Index+1, err)
	}
	logging.Logger().Info("page transcribed", "page", page.Index+1, "figures", len(result.Figures))
	return &result, nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (t *Transcriber) TestVision(ctx context.Context, page types.Page) (string, error) {
	imgB64, err := t.processor.PrepareImageForModel(page.Image, t.opts.SendFormat, t.opts.SendMaxDim, t.opts.SendQuality)
	if err != nil {
		return "", err
	}
	return t.client.SimpleQuery(ctx, t.opts.Model, SimpleTestPrompt, imgB64)
}

// normalizeFigures clamps boxes, drops boxes without area and assigns IDs
// to figures the model left unnamed or named twice. Renamed figures are
// renamed in the HTML too.
func normalizeFigures(result *types.Transcription, pageIndex int) error {
	seen := make(map[string]bool, len(result.Figures))
	figures := result.Figures[:0]
	for i, f := range result.Figures {
		f.Box2D = f.Box2D.Clamped()
		if f.Box2D.YMax() <= f.Box2D.YMin() || f.Box2D.XMax() <= f.Box2D.XMin() {
			logging.Logger().Warn("dropping figure without area", "page", pageIndex+1, "id", f.ID)
			continue
		}

		id := idPattern.ReplaceAllString(strings.TrimSpace(f.ID), "_")
		if id == "" || seen[id] {
			id = fmt.Sprintf("fig_%d_%d", pageIndex+1, i+1)
			for n := 2; seen[id]; n++ {
				id = fmt.Sprintf("fig_%d_%d_%d", pageIndex+1, i+1, n)
			}
		}
		if id != f.ID && f.ID != "" && !seen[f.ID] {
			html, err := splice.Rename(result.HTML, f.ID, id)
			if err != nil {
				return err
			}
			result.HTML = html
		}
		seen[id] = true
		f.ID = id
		f.Alt = strings.TrimSpace(f.Alt)
		figures = append(figures, f)
	}
	result.Figures = figures
	return nil
}

// ExtractFigures crops every figure box of a transcription out of its page.
// Both sources of a new figure start as the same crop.
func ExtractFigures(page types.Page, result *types.Transcription, padding float64) ([]types.Figure, error) {
	figures := make([]types.Figure, 0, len(result.Figures))
	for _, fb := range result.Figures {
		crop, err := cropper.CropToBox(page.Image, fb.Box2D, padding)
		if err != nil {
			return nil, fmt.Errorf("figure %s on page %d: %w", fb.ID, page.Index+1, err)
		}
		figures = append(figures, types.Figure{
			ID:          fb.ID,
			PageIndex:   page.Index,
			Box:         fb.Box2D,
			Alt:         fb.Alt,
			OriginalSrc: crop.Image,
			AISrc:       crop.Image,
		})
	}
	return figures, nil
}

// UniqueAcrossPages renames figures whose ID repeats an earlier page's, in
// both the figure list and that page's HTML.
func UniqueAcrossPages(pages []*types.Transcription) error {
	seen := make(map[string]bool)
	for pi, p := range pages {
		if p == nil {
			continue
		}
		for i, f := range p.Figures {
			if !seen[f.ID] {
				seen[f.ID] = true
				continue
			}
			id := fmt.Sprintf("%s-p%d", f.ID, pi+1)
			for n := 2; seen[id]; n++ {
				id = fmt.Sprintf("%s-p%d-%d", f.ID, pi+1, n)
			}
			html, err := splice.Rename(p.HTML, f.ID, id)
			if err != nil {
				return err
			}
			p.HTML = html
			p.Figures[i].ID = id
			seen[id] = true
		}
	}
	return nil
}
