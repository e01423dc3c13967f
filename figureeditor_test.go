package figureeditor

import (
	"context"
	"errors"
	"image/color"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/menta2k/figure-editor/internal/config"
	"github.com/menta2k/figure-editor/pkg/adjust"
	"github.com/menta2k/figure-editor/pkg/recreate"
	"github.com/menta2k/figure-editor/pkg/transcription"
)

const pageReply = `{
  "html": "<p>Sketch of \\(y=x\\)</p><img data-figure-id=\"fig_1\" alt=\"line\">",
  "figures": [{"id": "fig_1", "box_2d": [100, 100, 500, 500], "alt": "line"}]
}`

const svgReply = `<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10" viewBox="0 0 10 10"><rect x="0" y="0" width="10" height="10" fill="#000"/></svg>`

// fakeModel answers transcription requests with pageReply and everything
// else with a black SVG square
type fakeModel struct {
	calls int
}

func (f *fakeModel) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	f.calls++
	return svgReply, nil
}

func (f *fakeModel) JSONQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	f.calls++
	return pageReply, nil
}

// createTestPages writes n grey 200x100 pages and returns their directory
func createTestPages(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		img := imaging.New(200, 100, color.NRGBA{200, 200, 200, 255})
		name := filepath.Join(dir, "page"+string(rune('1'+i))+".png")
		if err := imaging.Save(img, name); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newTestEditor(t *testing.T, m *fakeModel) *Editor {
	t.Helper()
	ed, err := New(WithClient(m, transcription.Options{}, recreate.Options{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ed
}

func TestNew(t *testing.T) {
	ed, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if ed.compositor == nil || ed.rasterizer == nil || ed.processor == nil {
		t.Error("pipeline component is nil")
	}
	if ed.transcriber != nil || ed.recreator != nil {
		t.Error("New without a client should not configure model stages")
	}
	if ed.Encoder().Format != "png" {
		t.Errorf("default format = %s", ed.Encoder().Format)
	}

	if _, err := ed.LoadDocument(context.Background(), []string{"x.png"}); !errors.Is(err, ErrNoClient) {
		t.Errorf("Expected ErrNoClient, got %v", err)
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Format = "jpg"
	ed, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if ed.Encoder().Extension() != "jpg" {
		t.Errorf("extension = %s", ed.Encoder().Extension())
	}
	if ed.transcriber == nil || ed.recreator == nil {
		t.Error("model stages not configured")
	}

	cfg.Backend.Kind = "carrier-pigeon"
	if _, err := NewFromConfig(cfg); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestLoadDocument(t *testing.T) {
	m := &fakeModel{}
	ed := newTestEditor(t, m)

	doc, err := ed.LoadDocument(context.Background(), []string{createTestPages(t, 2)})
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if len(doc.Pages) != 2 || len(doc.Transcriptions) != 2 {
		t.Fatalf("pages = %d, transcriptions = %d", len(doc.Pages), len(doc.Transcriptions))
	}
	if m.calls != 2 {
		t.Errorf("model calls = %d, want one per page", m.calls)
	}
	if len(doc.Figures) != 2 {
		t.Fatalf("figures = %d", len(doc.Figures))
	}
	if doc.Figures[0].ID != "fig_1" || doc.Figures[1].ID != "fig_1-p2" {
		t.Errorf("IDs = %s, %s", doc.Figures[0].ID, doc.Figures[1].ID)
	}
	if doc.Figures[1].PageIndex != 1 {
		t.Errorf("second figure page = %d", doc.Figures[1].PageIndex)
	}
	if !strings.Contains(doc.HTML(), `data-figure-id="fig_1-p2"`) {
		t.Errorf("second page HTML not renamed: %s", doc.HTML())
	}

	overlays := ed.DebugOverlays(doc)
	if len(overlays) != 2 || overlays[0].Bounds() != doc.Pages[0].Image.Bounds() {
		t.Error("Expected one overlay per page at page size")
	}
}

func TestSaveSplicesFigures(t *testing.T) {
	ed := newTestEditor(t, &fakeModel{})
	doc, err := ed.LoadDocument(context.Background(), []string{createTestPages(t, 1)})
	if err != nil {
		t.Fatal(err)
	}

	s, err := ed.NewSession(doc)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	id := s.Active().ID
	p := adjust.Identity()
	p.Brightness = 50
	if err := s.SetAdjustments(id, p); err != nil {
		t.Fatal(err)
	}

	before := doc.Figures[0].AISrc
	updates, err := ed.Save(doc, s)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(updates) != 1 || updates[0].FigureID != "fig_1" || updates[0].Format != "png" {
		t.Fatalf("updates = %+v", updates)
	}
	if !strings.Contains(doc.HTML(), "data:image/png;base64,") {
		t.Errorf("image not spliced: %s", doc.HTML())
	}
	if doc.Figures[0].AISrc == before {
		t.Error("AI source should be replaced by the baked figure")
	}
	if doc.Figures[0].OriginalSrc.Bounds() != doc.Figures[0].AISrc.Bounds() {
		t.Error("baked figure should keep its size")
	}

	// half brightness darkens the grey page
	r, _, _, _ := doc.Figures[0].AISrc.At(5, 5).RGBA()
	if r>>8 >= 200 {
		t.Errorf("baked pixel red = %d, want darker than 200", r>>8)
	}
}

func TestNewSessionRecreate(t *testing.T) {
	ed := newTestEditor(t, &fakeModel{})
	doc, err := ed.LoadDocument(context.Background(), []string{createTestPages(t, 1)})
	if err != nil {
		t.Fatal(err)
	}
	s, err := ed.NewSession(doc)
	if err != nil {
		t.Fatal(err)
	}
	id := s.Active().ID
	if err := s.Recreate(context.Background(), id); err != nil {
		t.Fatalf("Recreate: %v", err)
	}
	img, err := ed.Preview(s, id)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds() != doc.Figures[0].OriginalSrc.Bounds() {
		t.Errorf("recreated size = %v", img.Bounds())
	}
	if c := img.NRGBAAt(img.Bounds().Dx()/2, img.Bounds().Dy()/2); c.R > 10 {
		t.Errorf("Expected the black SVG square, got %v", c)
	}

	name, data, err := ed.Download(s)
	if err != nil {
		t.Fatal(err)
	}
	if name != "edited-figure-fig_1.png" || len(data) == 0 {
		t.Errorf("Download = %s (%d bytes)", name, len(data))
	}
}

func TestNewSessionWithoutFigures(t *testing.T) {
	ed, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ed.NewSession(&Document{}); err == nil {
		t.Error("Expected error for a document without figures")
	}
}

func TestDocumentHTML(t *testing.T) {
	if (&Document{}).HTML() != "" {
		t.Error("empty document should have empty HTML")
	}
}
