package main

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/menta2k/figure-editor/pkg/session"
	"github.com/menta2k/figure-editor/pkg/types"
)

func newScriptSession(t *testing.T) *session.Session {
	t.Helper()
	figures := make([]types.Figure, 2)
	for i := range figures {
		img := image.NewNRGBA(image.Rect(0, 0, 100, 80))
		for p := 0; p < len(img.Pix); p += 4 {
			img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = 255, 255, 255, 255
		}
		figures[i] = types.Figure{ID: []string{"fig_1", "fig_2"}[i], OriginalSrc: img, AISrc: img}
	}
	s, err := session.New(figures)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

var testDefaults = Defaults{AnnotationColor: "#000", AnnotationSize: 24, DrawColor: "#f00", Concurrency: 1}

func TestLoadScript(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "edits.yaml")
	err := os.WriteFile(yamlPath, []byte(`
- op: adjust
  figure: fig_2
  adjust: {brightness: 120, gamma: 1.5}
- op: text
  x: 10
  y: 20
  text: "f(x)"
- op: draw
  points: [[1, 1], [20, 20]]
`), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	ops, err := LoadScript(yamlPath)
	if err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	if len(ops) != 3 || ops[0].Figure != "fig_2" || ops[0].Adjust["gamma"] != 1.5 {
		t.Fatalf("ops = %+v", ops)
	}
	if ops[1].Text == nil || *ops[1].Text != "f(x)" || len(ops[2].Points) != 2 {
		t.Errorf("ops = %+v", ops)
	}

	jsonPath := filepath.Join(dir, "edits.json")
	if err := os.WriteFile(jsonPath, []byte(`[{"op": "next"}, {"op": "undo"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if ops, err = LoadScript(jsonPath); err != nil || len(ops) != 2 {
		t.Errorf("json script: %v, %+v", err, ops)
	}
}

func TestReplayEdits(t *testing.T) {
	s := newScriptSession(t)
	text := "y = x"
	ops := []Op{
		{Op: "adjust", Adjust: map[string]float64{"contrast": 150}},
		{Op: "apply-all"},
		{Op: "text", X: 5, Y: 30, Text: &text},
		{Op: "crop", Rect: []float64{10, 10, 60, 40}},
		{Op: "draw", Figure: "fig_2", Points: [][2]float64{{10, 10}, {50, 10}}},
	}
	if err := Replay(context.Background(), s, ops, testDefaults); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	p, _ := s.Adjustments("fig_2")
	if p.Contrast != 150 {
		t.Errorf("apply-all did not copy contrast: %+v", p)
	}

	st, err := s.State("fig_1")
	if err != nil {
		t.Fatal(err)
	}
	if b := st.Base.Bounds(); b.Dx() != 50 || b.Dy() != 30 {
		t.Errorf("cropped size = %dx%d, want 50x30", b.Dx(), b.Dy())
	}
	if len(st.Annotations) != 1 || st.Annotations[0].Text != text {
		t.Errorf("annotations = %+v", st.Annotations)
	}

	if s.Active().ID != "fig_2" {
		t.Errorf("draw should focus its figure, active = %s", s.Active().ID)
	}
	img, _ := s.Working("fig_2")
	if c := color.NRGBAModel.Convert(img.At(30, 10)).(color.NRGBA); c.R != 255 || c.G > 10 {
		t.Errorf("stroke pixel = %v, want red", c)
	}

	if err := Replay(context.Background(), s, []Op{{Op: "undo", Figure: "fig_2"}}, testDefaults); err != nil {
		t.Fatal(err)
	}
	img, _ = s.Working("fig_2")
	if c := color.NRGBAModel.Convert(img.At(30, 10)).(color.NRGBA); c.G != 255 {
		t.Errorf("undo should remove the stroke, got %v", c)
	}
}

func TestReplayErrors(t *testing.T) {
	s := newScriptSession(t)

	// AI failures are per figure and do not stop the script
	ops := []Op{{Op: "recreate"}, {Op: "graph", Equation: "y=x^2"}, {Op: "next"}}
	if err := Replay(context.Background(), s, ops, testDefaults); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if s.Active().ID != "fig_2" {
		t.Error("replay should continue after an AI failure")
	}

	cases := []Op{
		{Op: "explode"},
		{Op: "adjust", Adjust: map[string]float64{"hue": 10}},
		{Op: "source", Source: "scan"},
		{Op: "delete-text"},
		{Op: "select", X: 500, Y: 500},
		{Op: "next", Figure: "fig_9"},
		{Op: "crop", Rect: []float64{1, 2}},
	}
	for _, op := range cases {
		if err := Replay(context.Background(), s, []Op{op}, testDefaults); err == nil {
			t.Errorf("%+v: expected error", op)
		}
	}

	if err := Replay(context.Background(), s, []Op{{Op: "delete-text"}}, testDefaults); !errors.Is(err, session.ErrNoSelection) {
		t.Errorf("Expected wrapped ErrNoSelection, got %v", err)
	}
}
