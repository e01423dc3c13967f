package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/figure-editor/pkg/adjust"
	"github.com/menta2k/figure-editor/pkg/annotate"
	"github.com/menta2k/figure-editor/pkg/geometry"
	"github.com/menta2k/figure-editor/pkg/ink"
	"github.com/menta2k/figure-editor/pkg/session"
)

// Op is one step of an edit script. Figure selects the target figure by ID
// and defaults to the active one; gesture ops (crop, draw) navigate to it
// first.
type Op struct {
	Op     string             `json:"op" yaml:"op"`
	Figure string             `json:"figure,omitempty" yaml:"figure,omitempty"`
	Index  int                `json:"index,omitempty" yaml:"index,omitempty"`
	Tool   string             `json:"tool,omitempty" yaml:"tool,omitempty"`
	Adjust map[string]float64 `json:"adjust,omitempty" yaml:"adjust,omitempty"`
	Source string             `json:"source,omitempty" yaml:"source,omitempty"`

	// Rect is the crop selection x0, y0, x1, y1 and Display the size the
	// figure is shown at, both in display pixels. Display defaults to the
	// figure's raster size.
	Rect    []float64 `json:"rect,omitempty" yaml:"rect,omitempty"`
	Display []float64 `json:"display,omitempty" yaml:"display,omitempty"`

	X     float64  `json:"x,omitempty" yaml:"x,omitempty"`
	Y     float64  `json:"y,omitempty" yaml:"y,omitempty"`
	Text  *string  `json:"text,omitempty" yaml:"text,omitempty"`
	Color string   `json:"color,omitempty" yaml:"color,omitempty"`
	Size  *float64 `json:"size,omitempty" yaml:"size,omitempty"`

	Points [][2]float64 `json:"points,omitempty" yaml:"points,omitempty"`

	Equation    string `json:"equation,omitempty" yaml:"equation,omitempty"`
	Concurrency int    `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
}

// LoadScript reads an edit script, a list of ops in YAML or JSON
func LoadScript(path string) ([]Op, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	var ops []Op
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &ops)
	default:
		err = json.Unmarshal(data, &ops)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	return ops, nil
}

// Defaults fills in label and pen settings a script leaves out
type Defaults struct {
	AnnotationColor string
	AnnotationSize  float64
	DrawColor       string
	Concurrency     int
}

// Replay runs ops against s in order. Failures of a single figure's AI
// request are logged and skipped; any other error stops the replay.
func Replay(ctx context.Context, s *session.Session, ops []Op, def Defaults) error {
	for i, op := range ops {
		err := apply(ctx, s, op, def)
		var figErr *session.FigureError
		var batchErr *session.BatchError
		switch {
		case err == nil:
		case errors.As(err, &figErr), errors.As(err, &batchErr):
			log.Printf("step %d (%s): %v", i+1, op.Op, err)
		default:
			return fmt.Errorf("step %d (%s): %w", i+1, op.Op, err)
		}
	}
	return nil
}

func apply(ctx context.Context, s *session.Session, op Op, def Defaults) error {
	id := op.Figure
	if id == "" {
		id = s.Active().ID
	} else if _, err := s.Figure(id); err != nil {
		return err
	}

	switch op.Op {
	case "tool":
		t, err := session.ParseTool(op.Tool)
		if err != nil {
			return err
		}
		s.SetTool(t)
		return nil
	case "next":
		s.Next()
		return nil
	case "prev":
		s.Previous()
		return nil
	case "jump":
		s.JumpTo(op.Index)
		return nil
	case "adjust":
		p, err := s.Adjustments(id)
		if err != nil {
			return err
		}
		p, err = patchParams(p, op.Adjust)
		if err != nil {
			return err
		}
		return s.SetAdjustments(id, p)
	case "reset":
		return s.ResetAdjustments(id)
	case "apply-all":
		if op.Figure != "" {
			focus(s, id)
		}
		s.ApplyAdjustmentsToAll()
		return nil
	case "source":
		switch op.Source {
		case "original":
			return s.SwitchSource(id, session.SourceOriginal)
		case "ai":
			return s.SwitchSource(id, session.SourceAI)
		default:
			return fmt.Errorf("source must be original or ai, got %q", op.Source)
		}
	case "crop":
		return crop(s, id, op)
	case "trim":
		return s.AutoTrim(id)
	case "text":
		color, size := op.Color, def.AnnotationSize
		if color == "" {
			color = def.AnnotationColor
		}
		if op.Size != nil {
			size = *op.Size
		}
		if _, err := s.AddAnnotation(id, op.X, op.Y, color, size); err != nil {
			return err
		}
		if op.Text != nil {
			return s.UpdateSelected(annotate.Patch{Text: op.Text})
		}
		return nil
	case "select":
		if _, ok := s.SelectAt(id, op.X, op.Y); !ok {
			return fmt.Errorf("no label at %.0f,%.0f on %s", op.X, op.Y, id)
		}
		return nil
	case "update-text":
		patch := annotate.Patch{Text: op.Text, Size: op.Size}
		if op.Color != "" {
			patch.Color = &op.Color
		}
		return s.UpdateSelected(patch)
	case "delete-text":
		return s.DeleteSelected()
	case "draw":
		return draw(s, id, op, def)
	case "recreate":
		return s.Recreate(ctx, id)
	case "recreate-all":
		n := op.Concurrency
		if n == 0 {
			n = def.Concurrency
		}
		return s.RecreateAll(ctx, n)
	case "graph":
		return s.GenerateGraph(ctx, id, op.Equation)
	case "undo":
		return s.Undo(id)
	default:
		return fmt.Errorf("unknown op %q", op.Op)
	}
}

// focus makes figure id the active one
func focus(s *session.Session, id string) {
	for i, f := range s.Figures() {
		if f.ID == id {
			if s.ActiveIndex() != i {
				s.JumpTo(i)
			}
			return
		}
	}
}

func crop(s *session.Session, id string, op Op) error {
	if len(op.Rect) != 4 {
		return fmt.Errorf("crop needs rect [x0, y0, x1, y1]")
	}
	focus(s, id)
	display := geometry.Rect{}
	switch len(op.Display) {
	case 0:
		img, err := s.Working(id)
		if err != nil {
			return err
		}
		display.Width, display.Height = float64(img.Bounds().Dx()), float64(img.Bounds().Dy())
	case 2:
		display.Width, display.Height = op.Display[0], op.Display[1]
	default:
		return fmt.Errorf("crop display must be [width, height]")
	}

	s.SetTool(session.ToolCrop)
	if err := s.BeginCrop(geometry.Point{X: op.Rect[0], Y: op.Rect[1]}); err != nil {
		return err
	}
	s.DragCrop(geometry.Point{X: op.Rect[2], Y: op.Rect[3]})
	s.EndCrop()
	if err := s.ConfirmCrop(display); err != nil {
		s.CancelCrop()
		return err
	}
	return nil
}

func draw(s *session.Session, id string, op Op, def Defaults) error {
	if len(op.Points) == 0 {
		return fmt.Errorf("draw needs at least one point")
	}
	focus(s, id)
	color := op.Color
	if color == "" {
		color = def.DrawColor
	}
	if color != "" {
		if err := s.SetDrawColor(color); err != nil {
			return err
		}
	}

	s.SetTool(session.ToolDraw)
	first := op.Points[0]
	if err := s.BeginStroke(ink.Point{X: first[0], Y: first[1]}); err != nil {
		return err
	}
	for _, p := range op.Points[1:] {
		if err := s.ContinueStroke(ink.Point{X: p[0], Y: p[1]}); err != nil {
			return err
		}
	}
	return s.EndStroke()
}

// patchParams overrides the named fields of p
func patchParams(p adjust.Params, values map[string]float64) (adjust.Params, error) {
	for k, v := range values {
		switch strings.ToLower(k) {
		case "brightness":
			p.Brightness = v
		case "contrast":
			p.Contrast = v
		case "saturate", "saturation":
			p.Saturate = v
		case "red":
			p.Red = v
		case "green":
			p.Green = v
		case "blue":
			p.Blue = v
		case "gamma":
			p.Gamma = v
		default:
			return p, fmt.Errorf("unknown adjustment %q", k)
		}
	}
	return p, nil
}
