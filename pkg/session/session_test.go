package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"
	"testing"

	"github.com/menta2k/figure-editor/pkg/adjust"
	"github.com/menta2k/figure-editor/pkg/annotate"
	"github.com/menta2k/figure-editor/pkg/cropper"
	"github.com/menta2k/figure-editor/pkg/geometry"
	"github.com/menta2k/figure-editor/pkg/ink"
	"github.com/menta2k/figure-editor/pkg/types"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	return img
}

var (
	white = color.NRGBA{255, 255, 255, 255}
	grey  = color.NRGBA{128, 128, 128, 255}
)

// createTestFigures builds n figures fig_1..fig_n whose Alt equals their ID
func createTestFigures(n int) []types.Figure {
	figures := make([]types.Figure, n)
	for i := range figures {
		id := fmt.Sprintf("fig_%d", i+1)
		figures[i] = types.Figure{
			ID:          id,
			PageIndex:   i / 2,
			Alt:         id,
			OriginalSrc: solid(200, 200, grey),
			AISrc:       solid(200, 200, white),
		}
	}
	return figures
}

func newTestSession(t *testing.T, n int, opts ...Option) *Session {
	t.Helper()
	s, err := New(createTestFigures(n), opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("Expected error for empty figure list")
	}

	dup := createTestFigures(2)
	dup[1].ID = dup[0].ID
	if _, err := New(dup); err == nil {
		t.Error("Expected error for duplicate figure IDs")
	}

	missing := createTestFigures(1)
	missing[0].AISrc = nil
	if _, err := New(missing); err == nil {
		t.Error("Expected error for missing source raster")
	}
}

func TestNavigationClamps(t *testing.T) {
	s := newTestSession(t, 3)

	if got := s.Previous(); got != 0 {
		t.Errorf("Previous at first figure = %d, want 0", got)
	}
	s.Next()
	s.Next()
	if got := s.Next(); got != 2 {
		t.Errorf("Next past last figure = %d, want 2", got)
	}
	if got := s.JumpTo(99); got != 2 {
		t.Errorf("JumpTo(99) = %d, want 2", got)
	}
	if got := s.JumpTo(-4); got != 0 {
		t.Errorf("JumpTo(-4) = %d, want 0", got)
	}
	if s.Active().ID != "fig_1" {
		t.Errorf("Active = %s, want fig_1", s.Active().ID)
	}
}

func TestNavigationClearsSelection(t *testing.T) {
	s := newTestSession(t, 2)
	if _, err := s.AddAnnotation("fig_1", 10, 40, "#000", 24); err != nil {
		t.Fatalf("AddAnnotation: %v", err)
	}
	if _, _, ok := s.Selected(); !ok {
		t.Fatal("Expected new label to be selected")
	}

	s.Next()
	if _, _, ok := s.Selected(); ok {
		t.Error("Selection should be cleared after navigation")
	}
	texts, _ := s.Annotations("fig_1")
	if len(texts) != 1 {
		t.Errorf("Navigation changed annotations: %d", len(texts))
	}
}

func TestSwitchSourceResetsAdjustments(t *testing.T) {
	s := newTestSession(t, 2)
	p := adjust.Identity()
	p.Brightness = 150
	p.Red = 50

	if err := s.SetAdjustments("fig_1", p); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAdjustments("fig_2", p); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddAnnotation("fig_1", 5, 30, "#000", 20); err != nil {
		t.Fatal(err)
	}

	if err := s.SwitchSource("fig_1", SourceOriginal); err != nil {
		t.Fatalf("SwitchSource: %v", err)
	}

	st, _ := s.State("fig_1")
	if st.Adjustments != adjust.Identity() {
		t.Errorf("fig_1 adjustments = %+v, want identity", st.Adjustments)
	}
	if st.Base != s.figures[0].OriginalSrc {
		t.Error("fig_1 working raster should be the original source")
	}
	if len(st.Annotations) != 1 {
		t.Errorf("Source switch should keep annotations, got %d", len(st.Annotations))
	}

	other, _ := s.Adjustments("fig_2")
	if other != p {
		t.Errorf("fig_2 adjustments changed: %+v", other)
	}
	if s.HasWorking("fig_2") {
		t.Error("fig_2 working raster should be untouched")
	}
}

func TestSetAdjustmentsClamps(t *testing.T) {
	s := newTestSession(t, 1)
	err := s.SetAdjustments("fig_1", adjust.Params{
		Brightness: 500, Contrast: -10, Saturate: 100,
		Red: 100, Green: 100, Blue: 100, Gamma: 9,
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := s.Adjustments("fig_1")
	if got.Brightness != adjust.MaxPercent || got.Contrast != adjust.MinPercent || got.Gamma != adjust.MaxGamma {
		t.Errorf("Adjustments not clamped: %+v", got)
	}
}

func TestApplyAdjustmentsToAll(t *testing.T) {
	s := newTestSession(t, 3)
	s.JumpTo(1)

	p := adjust.Params{Brightness: 120, Contrast: 80, Saturate: 0, Red: 110, Green: 90, Blue: 100, Gamma: 1.4}
	if err := s.SetAdjustments("fig_2", p); err != nil {
		t.Fatal(err)
	}
	s.ApplyAdjustmentsToAll()

	for _, f := range s.Figures() {
		got, _ := s.Adjustments(f.ID)
		if got != p {
			t.Errorf("%s adjustments = %+v, want %+v", f.ID, got, p)
		}
	}
}

func TestDeleteSelected(t *testing.T) {
	s := newTestSession(t, 1)
	first, _ := s.AddAnnotation("fig_1", 10, 40, "#000", 24)
	second, _ := s.AddAnnotation("fig_1", 10, 120, "#f00", 24)

	if _, id, _ := s.Selected(); id != second.ID {
		t.Fatalf("Expected %s selected, got %s", second.ID, id)
	}
	if err := s.DeleteSelected(); err != nil {
		t.Fatalf("DeleteSelected: %v", err)
	}

	texts, _ := s.Annotations("fig_1")
	if len(texts) != 1 || texts[0].ID != first.ID {
		t.Fatalf("Expected only %s to remain, got %+v", first.ID, texts)
	}

	if err := s.DeleteSelected(); !errors.Is(err, ErrNoSelection) {
		t.Errorf("DeleteSelected without selection = %v, want ErrNoSelection", err)
	}
	texts, _ = s.Annotations("fig_1")
	if len(texts) != 1 {
		t.Errorf("Delete without selection changed the list: %+v", texts)
	}
}

func TestUpdateSelected(t *testing.T) {
	s := newTestSession(t, 1)
	a, _ := s.AddAnnotation("fig_1", 10, 40, "#000", 24)

	label := "Fig. 1"
	size := 200.0
	if err := s.UpdateSelected(annotate.Patch{Text: &label, Size: &size}); err != nil {
		t.Fatalf("UpdateSelected: %v", err)
	}
	texts, _ := s.Annotations("fig_1")
	if texts[0].Text != label || texts[0].Size != annotate.MaxSize || texts[0].ID != a.ID {
		t.Errorf("Unexpected label after update: %+v", texts[0])
	}

	s.ClearSelection()
	if err := s.UpdateSelected(annotate.Patch{Text: &label}); !errors.Is(err, ErrNoSelection) {
		t.Errorf("UpdateSelected without selection = %v, want ErrNoSelection", err)
	}

	bad := "not-a-color"
	s.Select("fig_1", a.ID)
	if err := s.UpdateSelected(annotate.Patch{Color: &bad}); err == nil {
		t.Error("Expected error for invalid color")
	}
}

func TestSelectAt(t *testing.T) {
	s := newTestSession(t, 1)
	a, _ := s.AddAnnotation("fig_1", 50, 50, "#000", 24)
	s.ClearSelection()

	got, ok := s.SelectAt("fig_1", 55, 40)
	if !ok || got.ID != a.ID {
		t.Fatalf("SelectAt inside label = %+v, %v", got, ok)
	}
	if _, ok := s.SelectAt("fig_1", 190, 190); ok {
		t.Error("SelectAt on empty area should miss")
	}
	if _, _, ok := s.Selected(); ok {
		t.Error("Miss should clear the selection")
	}
}

func TestHitTestFirstInListOrder(t *testing.T) {
	s := newTestSession(t, 1)
	first, _ := s.AddAnnotation("fig_1", 50, 50, "#000", 24)
	second, _ := s.AddAnnotation("fig_1", 50, 50, "#f00", 24)
	s.ClearSelection()

	got, ok := s.HitTest("fig_1", 55, 40)
	if !ok || got.ID != first.ID {
		t.Errorf("HitTest on overlapping labels = %s, want first %s (second %s)", got.ID, first.ID, second.ID)
	}
	got, ok = s.SelectAt("fig_1", 55, 40)
	if !ok || got.ID != first.ID {
		t.Errorf("SelectAt on overlapping labels = %s, want first %s", got.ID, first.ID)
	}
	if _, sel, _ := s.Selected(); sel != first.ID {
		t.Errorf("selected = %s, want %s", sel, first.ID)
	}
}

func TestRecreateAllPartialFailure(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			replacement := solid(120, 80, color.NRGBA{0, 0, 255, 255})
			rec := RecreatorFunc(func(ctx context.Context, img image.Image, alt string) (image.Image, error) {
				if alt == "fig_2" {
					return nil, errors.New("model timed out")
				}
				return replacement, nil
			})
			s := newTestSession(t, 3, WithRecreator(rec))

			p := adjust.Identity()
			p.Contrast = 140
			s.SetAdjustments("fig_2", p)

			err := s.RecreateAll(context.Background(), concurrency)
			var batch *BatchError
			if !errors.As(err, &batch) {
				t.Fatalf("Expected *BatchError, got %v", err)
			}
			if len(batch.Errors) != 1 || !batch.Failed("fig_2") {
				t.Errorf("Unexpected failures: %v", batch)
			}
			if !strings.Contains(err.Error(), "fig_2") {
				t.Errorf("Error should name fig_2: %v", err)
			}

			for _, id := range []string{"fig_1", "fig_3"} {
				w, _ := s.Working(id)
				if w != image.Image(replacement) {
					t.Errorf("%s was not replaced", id)
				}
			}
			if s.HasWorking("fig_2") {
				t.Error("fig_2 should keep its source")
			}
			if got, _ := s.Adjustments("fig_2"); got != p {
				t.Errorf("fig_2 adjustments changed: %+v", got)
			}
		})
	}
}

func TestRecreateResultLandsOnIssuingFigure(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	result := solid(64, 64, color.NRGBA{255, 0, 0, 255})

	rec := RecreatorFunc(func(ctx context.Context, img image.Image, alt string) (image.Image, error) {
		close(started)
		<-release
		return result, nil
	})
	s := newTestSession(t, 3, WithRecreator(rec))

	var wg sync.WaitGroup
	var recErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		recErr = s.Recreate(context.Background(), "fig_1")
	}()

	<-started
	s.JumpTo(2)
	close(release)
	wg.Wait()

	if recErr != nil {
		t.Fatalf("Recreate: %v", recErr)
	}
	w, _ := s.Working("fig_1")
	if w != image.Image(result) {
		t.Error("Result should be stored on fig_1")
	}
	if s.HasWorking("fig_3") {
		t.Error("Active figure fig_3 should be untouched")
	}
	if s.ActiveIndex() != 2 {
		t.Errorf("Active index = %d, want 2", s.ActiveIndex())
	}
}

func TestRecreateKeepsAnnotations(t *testing.T) {
	rec := RecreatorFunc(func(ctx context.Context, img image.Image, alt string) (image.Image, error) {
		return solid(10, 10, white), nil
	})
	s := newTestSession(t, 1, WithRecreator(rec))
	s.AddAnnotation("fig_1", 1, 20, "#000", 12)
	p := adjust.Identity()
	p.Blue = 30
	s.SetAdjustments("fig_1", p)

	if err := s.Recreate(context.Background(), "fig_1"); err != nil {
		t.Fatal(err)
	}
	st, _ := s.State("fig_1")
	if len(st.Annotations) != 1 {
		t.Errorf("Annotations lost: %d", len(st.Annotations))
	}
	if st.Adjustments != adjust.Identity() {
		t.Errorf("Adjustments should reset, got %+v", st.Adjustments)
	}
}

func TestRecreateWithoutCollaborator(t *testing.T) {
	s := newTestSession(t, 1)
	err := s.Recreate(context.Background(), "fig_1")
	var fe *FigureError
	if !errors.As(err, &fe) || fe.FigureID != "fig_1" || !errors.Is(err, ErrNoCollaborator) {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestGenerateGraphEmptyEquation(t *testing.T) {
	calls := 0
	gen := GraphGeneratorFunc(func(ctx context.Context, eq string) (image.Image, error) {
		calls++
		return solid(10, 10, white), nil
	})
	s := newTestSession(t, 1, WithGraphGenerator(gen))

	if err := s.GenerateGraph(context.Background(), "fig_1", "   "); !errors.Is(err, ErrEmptyEquation) {
		t.Errorf("Expected ErrEmptyEquation, got %v", err)
	}
	if calls != 0 {
		t.Errorf("Collaborator called %d times for empty equation", calls)
	}
	if s.HasWorking("fig_1") {
		t.Error("Empty equation should not change the figure")
	}

	if err := s.GenerateGraph(context.Background(), "fig_1", "y = x^2"); err != nil {
		t.Fatalf("GenerateGraph: %v", err)
	}
	if calls != 1 || !s.HasWorking("fig_1") {
		t.Error("Graph should replace the working raster")
	}
}

func TestConfirmCrop(t *testing.T) {
	s := newTestSession(t, 1)
	p := adjust.Identity()
	p.Brightness = 50
	s.SetAdjustments("fig_1", p)

	if err := s.BeginCrop(geometry.Point{X: 1, Y: 1}); !errors.Is(err, ErrWrongTool) {
		t.Errorf("BeginCrop outside crop tool = %v, want ErrWrongTool", err)
	}

	s.SetTool(ToolCrop)
	if err := s.BeginCrop(geometry.Point{X: 10, Y: 10}); err != nil {
		t.Fatal(err)
	}
	s.DragCrop(geometry.Point{X: 30, Y: 20})
	s.EndCrop()

	// figure is 200x200 shown at 100x100
	if err := s.ConfirmCrop(geometry.Rect{Width: 100, Height: 100}); err != nil {
		t.Fatalf("ConfirmCrop: %v", err)
	}

	w, _ := s.Working("fig_1")
	if b := w.Bounds(); b.Dx() != 40 || b.Dy() != 20 {
		t.Errorf("Cropped size = %dx%d, want 40x20", b.Dx(), b.Dy())
	}
	// the crop carries the darkened pixels
	r, _, _, _ := w.At(0, 0).RGBA()
	if r>>8 > 140 {
		t.Errorf("Crop should come from the adjusted raster, red = %d", r>>8)
	}
	if got, _ := s.Adjustments("fig_1"); got != adjust.Identity() {
		t.Errorf("Adjustments should reset after crop: %+v", got)
	}
	if s.Tool() != ToolView {
		t.Errorf("Tool = %v, want view", s.Tool())
	}
}

func TestConfirmCropDegenerate(t *testing.T) {
	s := newTestSession(t, 1)
	s.SetTool(ToolCrop)
	s.BeginCrop(geometry.Point{X: 10, Y: 10})
	s.EndCrop()

	err := s.ConfirmCrop(geometry.Rect{Width: 200, Height: 200})
	if !errors.Is(err, cropper.ErrDegenerateCrop) {
		t.Fatalf("Expected ErrDegenerateCrop, got %v", err)
	}
	if s.HasWorking("fig_1") {
		t.Error("Degenerate crop should not change the figure")
	}
	if s.Tool() != ToolCrop {
		t.Errorf("Tool = %v, want crop", s.Tool())
	}
	if err := s.Undo("fig_1"); !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("Degenerate crop should not push history: %v", err)
	}
}

func TestStrokeCommit(t *testing.T) {
	s := newTestSession(t, 1)
	p := adjust.Identity()
	p.Gamma = 2
	s.SetAdjustments("fig_1", p)

	if err := s.BeginStroke(ink.Point{X: 10, Y: 10}); !errors.Is(err, ErrWrongTool) {
		t.Errorf("BeginStroke outside draw tool = %v", err)
	}

	s.SetTool(ToolDraw)
	if err := s.SetDrawColor("#ff0000"); err != nil {
		t.Fatal(err)
	}
	if err := s.BeginStroke(ink.Point{X: 10, Y: 10.5}); err != nil {
		t.Fatal(err)
	}
	if err := s.ContinueStroke(ink.Point{X: 40, Y: 10.5}); err != nil {
		t.Fatal(err)
	}
	if id, _, ok := s.StrokeCanvas(); !ok || id != "fig_1" {
		t.Errorf("StrokeCanvas = %s, %v", id, ok)
	}
	if err := s.EndStroke(); err != nil {
		t.Fatal(err)
	}

	w, _ := s.Working("fig_1")
	got := color.NRGBAModel.Convert(w.At(25, 10)).(color.NRGBA)
	if got != (color.NRGBA{255, 0, 0, 255}) {
		t.Errorf("Stroke pixel = %v, want red", got)
	}
	if corner := color.NRGBAModel.Convert(w.At(150, 150)).(color.NRGBA); corner != white {
		t.Errorf("Pixel away from the stroke = %v, want white", corner)
	}
	if adj, _ := s.Adjustments("fig_1"); adj != p {
		t.Errorf("Stroke should keep adjustments, got %+v", adj)
	}
	if err := s.EndStroke(); !errors.Is(err, ink.ErrNotDrawing) {
		t.Errorf("EndStroke twice = %v", err)
	}
}

func TestStrokeAfterRecreateKeepsResult(t *testing.T) {
	red := color.NRGBA{255, 0, 0, 255}
	blue := color.NRGBA{0, 0, 255, 255}
	rec := RecreatorFunc(func(ctx context.Context, img image.Image, alt string) (image.Image, error) {
		return solid(40, 40, red), nil
	})
	s := newTestSession(t, 1, WithRecreator(rec))
	s.SetTool(ToolDraw)
	if err := s.SetDrawColor("#0000ff"); err != nil {
		t.Fatal(err)
	}

	if err := s.BeginStroke(ink.Point{X: 5, Y: 10.5}); err != nil {
		t.Fatal(err)
	}
	if err := s.ContinueStroke(ink.Point{X: 30, Y: 10.5}); err != nil {
		t.Fatal(err)
	}
	// the recreated figure lands while the pen is still down
	if err := s.Recreate(context.Background(), "fig_1"); err != nil {
		t.Fatal(err)
	}
	if err := s.EndStroke(); err != nil {
		t.Fatal(err)
	}

	w, _ := s.Working("fig_1")
	if b := w.Bounds(); b.Dx() != 40 || b.Dy() != 40 {
		t.Fatalf("working size = %dx%d, want the recreated 40x40", b.Dx(), b.Dy())
	}
	if got := color.NRGBAModel.Convert(w.At(35, 35)).(color.NRGBA); got != red {
		t.Errorf("Pixel away from the stroke = %v, want recreated red", got)
	}
	if got := color.NRGBAModel.Convert(w.At(20, 10)).(color.NRGBA); got != blue {
		t.Errorf("Stroke pixel = %v, want blue on the recreated raster", got)
	}

	if err := s.Undo("fig_1"); err != nil {
		t.Fatal(err)
	}
	w, _ = s.Working("fig_1")
	if got := color.NRGBAModel.Convert(w.At(20, 10)).(color.NRGBA); got != red {
		t.Errorf("Undo should return to the recreated raster, got %v", got)
	}
}

func TestStrokeWithoutMovement(t *testing.T) {
	s := newTestSession(t, 1)
	s.SetTool(ToolDraw)
	s.BeginStroke(ink.Point{X: 5, Y: 5})
	if err := s.EndStroke(); err != nil {
		t.Fatal(err)
	}
	if s.HasWorking("fig_1") {
		t.Error("Click without movement should not change the figure")
	}
}

func TestUndo(t *testing.T) {
	s := newTestSession(t, 1)
	p := adjust.Identity()
	p.Saturate = 0
	s.SetAdjustments("fig_1", p)
	a, _ := s.AddAnnotation("fig_1", 1, 20, "#000", 12)

	if err := s.Undo("fig_1"); err != nil {
		t.Fatal(err)
	}
	if texts, _ := s.Annotations("fig_1"); len(texts) != 0 {
		t.Errorf("Undo should drop %s", a.ID)
	}
	if _, _, ok := s.Selected(); ok {
		t.Error("Undo should clear a selection of a removed label")
	}
	if got, _ := s.Adjustments("fig_1"); got != p {
		t.Errorf("Adjustments after one undo = %+v", got)
	}

	s.Undo("fig_1")
	if got, _ := s.Adjustments("fig_1"); got != adjust.Identity() {
		t.Errorf("Adjustments after two undos = %+v", got)
	}
	if err := s.Undo("fig_1"); !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("Expected ErrNothingToUndo, got %v", err)
	}
	if err := s.Undo("missing"); !errors.Is(err, ErrUnknownFigure) {
		t.Errorf("Expected ErrUnknownFigure, got %v", err)
	}
}

func TestHistoryLimit(t *testing.T) {
	s := newTestSession(t, 1, WithHistoryLimit(2))
	for i := 0; i < 5; i++ {
		p := adjust.Identity()
		p.Brightness = float64(10 * (i + 1))
		s.SetAdjustments("fig_1", p)
	}
	if err := s.Undo("fig_1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Undo("fig_1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Undo("fig_1"); !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("Expected history to hold two steps, got %v", err)
	}
	if got, _ := s.Adjustments("fig_1"); got.Brightness != 30 {
		t.Errorf("Brightness = %v, want 30", got.Brightness)
	}
}

func TestOnChange(t *testing.T) {
	var changed []string
	s := newTestSession(t, 2, OnChange(func(id string) { changed = append(changed, id) }))

	s.SetAdjustments("fig_2", adjust.Identity())
	s.JumpTo(1)
	if err := s.SetAdjustments("nope", adjust.Identity()); !errors.Is(err, ErrUnknownFigure) {
		t.Errorf("Expected ErrUnknownFigure, got %v", err)
	}

	if len(changed) != 2 || changed[0] != "fig_2" || changed[1] != "fig_2" {
		t.Errorf("Unexpected notifications: %v", changed)
	}
}

func TestParseTool(t *testing.T) {
	for _, tool := range []Tool{ToolView, ToolAdjust, ToolCrop, ToolDraw, ToolText, ToolGraph} {
		got, err := ParseTool(tool.String())
		if err != nil || got != tool {
			t.Errorf("ParseTool(%q) = %v, %v", tool.String(), got, err)
		}
	}
	if _, err := ParseTool("lasso"); err == nil {
		t.Error("Expected error for unknown tool")
	}
}
