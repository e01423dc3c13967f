// Package session holds the mutable state of one figure editing session.
//
// A Session owns a batch of figures plus three overlays per figure: the
// working raster (the latest crop, ink or AI replacement), the adjustment
// parameters and the text annotations. Each figure's overlays live in a
// small record that is replaced wholesale on every mutation, which keeps an
// undo history trivial and makes cross-figure interference impossible.
//
// The immutable figure sources are shared by reference and never written.
// Closing a session simply drops it; nothing reaches the document until the
// caller bakes and applies the save payload.
package session

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/menta2k/figure-editor/internal/logging"
	"github.com/menta2k/figure-editor/pkg/adjust"
	"github.com/menta2k/figure-editor/pkg/annotate"
	"github.com/menta2k/figure-editor/pkg/cropper"
	"github.com/menta2k/figure-editor/pkg/ink"
	"github.com/menta2k/figure-editor/pkg/types"
)

// DefaultHistoryLimit is the number of undo steps kept per figure
const DefaultHistoryLimit = 50

// Tool is the active editing tool
type Tool int

const (
	ToolView Tool = iota
	ToolAdjust
	ToolCrop
	ToolDraw
	ToolText
	ToolGraph
)

var toolNames = map[Tool]string{
	ToolView:   "view",
	ToolAdjust: "adjust",
	ToolCrop:   "crop",
	ToolDraw:   "draw",
	ToolText:   "text",
	ToolGraph:  "graph",
}

func (t Tool) String() string {
	if name, ok := toolNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseTool converts a tool name to a Tool
func ParseTool(name string) (Tool, error) {
	for t, n := range toolNames {
		if n == name {
			return t, nil
		}
	}
	return ToolView, fmt.Errorf("unknown tool %q", name)
}

// Source selects one of a figure's two immutable rasters
type Source int

const (
	SourceOriginal Source = iota
	SourceAI
)

func (s Source) String() string {
	if s == SourceOriginal {
		return "original"
	}
	return "ai"
}

// record is the per-figure overlay. Records are values: every mutation
// builds a new one and stores it over the old.
type record struct {
	working     image.Image
	adjustments adjust.Params
	annotations []annotate.Text
}

func newRecord() record {
	return record{adjustments: adjust.Identity()}
}

// withAnnotations returns a copy of r owning a fresh annotation slice
func (r record) withAnnotations(texts []annotate.Text) record {
	r.annotations = append([]annotate.Text(nil), texts...)
	return r
}

type selection struct {
	figureID     string
	annotationID string
}

// Recreator redraws a figure from its current raster, using alt as context
type Recreator interface {
	Recreate(ctx context.Context, img image.Image, alt string) (image.Image, error)
}

// GraphGenerator renders a plot of an equation
type GraphGenerator interface {
	GenerateGraph(ctx context.Context, equation string) (image.Image, error)
}

// Option configures a Session
type Option func(*Session)

// WithRecreator sets the AI figure-recreation collaborator
func WithRecreator(r Recreator) Option {
	return func(s *Session) { s.recreator = r }
}

// WithGraphGenerator sets the AI graph-generation collaborator
func WithGraphGenerator(g GraphGenerator) Option {
	return func(s *Session) { s.graphs = g }
}

// WithRenderer sets the annotation renderer used for hit testing
func WithRenderer(r *annotate.Renderer) Option {
	return func(s *Session) { s.renderer = r }
}

// WithHistoryLimit sets the number of undo steps kept per figure
func WithHistoryLimit(n int) Option {
	return func(s *Session) { s.historyLimit = n }
}

// WithTrimmer sets the trimmer used by AutoTrim
func WithTrimmer(t *cropper.Trimmer) Option {
	return func(s *Session) { s.trimmer = t }
}

// OnChange registers a callback invoked after every state mutation with the
// affected figure ID. Callbacks run outside the session lock.
func OnChange(fn func(figureID string)) Option {
	return func(s *Session) { s.listeners = append(s.listeners, fn) }
}

// Session is one editing interaction over a batch of figures
type Session struct {
	mu sync.Mutex

	figures []types.Figure
	index   map[string]int
	records map[string]record
	history map[string][]record

	selected *selection
	active   int
	tool     Tool
	nextID   int

	crop         *cropper.Tool
	stroke       *ink.Stroke
	strokeFigure string
	strokeBase   image.Image
	drawColor    color.NRGBA

	renderer     *annotate.Renderer
	trimmer      *cropper.Trimmer
	recreator    Recreator
	graphs       GraphGenerator
	historyLimit int
	listeners    []func(figureID string)
}

// New opens a session over figures. Figure IDs must be unique and each
// figure needs both sources.
func New(figures []types.Figure, opts ...Option) (*Session, error) {
	if len(figures) == 0 {
		return nil, fmt.Errorf("session needs at least one figure")
	}

	s := &Session{
		figures:      append([]types.Figure(nil), figures...),
		index:        make(map[string]int, len(figures)),
		records:      make(map[string]record, len(figures)),
		history:      make(map[string][]record, len(figures)),
		crop:         cropper.New(),
		drawColor:    color.NRGBA{0, 0, 0, 255},
		historyLimit: DefaultHistoryLimit,
	}
	for i, f := range s.figures {
		if f.ID == "" {
			return nil, fmt.Errorf("figure %d has no id", i)
		}
		if _, dup := s.index[f.ID]; dup {
			return nil, fmt.Errorf("duplicate figure id %q", f.ID)
		}
		if f.OriginalSrc == nil || f.AISrc == nil {
			return nil, fmt.Errorf("figure %q is missing a source raster", f.ID)
		}
		s.index[f.ID] = i
		s.records[f.ID] = newRecord()
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.renderer == nil {
		r, err := annotate.Default()
		if err != nil {
			return nil, err
		}
		s.renderer = r
	}
	if s.trimmer == nil {
		s.trimmer = cropper.NewTrimmer()
	}

	logging.Logger().Debug("session opened", "figures", len(s.figures))
	return s, nil
}

// Len returns the number of figures in the session
func (s *Session) Len() int {
	return len(s.figures)
}

// Figures returns the session's figures in input order
func (s *Session) Figures() []types.Figure {
	return append([]types.Figure(nil), s.figures...)
}

// Figure returns the figure with the given ID
func (s *Session) Figure(id string) (types.Figure, error) {
	i, ok := s.index[id]
	if !ok {
		return types.Figure{}, fmt.Errorf("%w: %s", ErrUnknownFigure, id)
	}
	return s.figures[i], nil
}

// ActiveIndex returns the index of the figure being edited
func (s *Session) ActiveIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Active returns the figure being edited
func (s *Session) Active() types.Figure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.figures[s.active]
}

// Next moves to the following figure, stopping at the last one
func (s *Session) Next() int {
	return s.JumpTo(s.ActiveIndex() + 1)
}

// Previous moves to the preceding figure, stopping at the first one
func (s *Session) Previous() int {
	return s.JumpTo(s.ActiveIndex() - 1)
}

// JumpTo makes figure i active, clamped to the valid range. Other figures'
// state is untouched; the annotation selection is cleared.
func (s *Session) JumpTo(i int) int {
	s.mu.Lock()
	if i < 0 {
		i = 0
	}
	if i > len(s.figures)-1 {
		i = len(s.figures) - 1
	}
	changed := i != s.active
	s.active = i
	if changed {
		s.selected = nil
		s.crop.Cancel()
	}
	id := s.figures[i].ID
	s.mu.Unlock()

	if changed {
		s.notify(id)
	}
	return i
}

// Tool returns the active tool
func (s *Session) Tool() Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tool
}

// SetTool switches the active tool. Leaving the crop tool drops any pending
// selection rectangle.
func (s *Session) SetTool(t Tool) {
	s.mu.Lock()
	if t != ToolCrop {
		s.crop.Cancel()
	}
	s.tool = t
	id := s.figures[s.active].ID
	s.mu.Unlock()
	s.notify(id)
}

// State is a read-only snapshot of one figure's editable state
type State struct {
	Figure      types.Figure
	Base        image.Image
	Adjustments adjust.Params
	Annotations []annotate.Text
	SelectedID  string
}

// State returns a snapshot of figure id. Base is the working raster, or
// the AI source when no edit has replaced it.
func (s *Session) State(id string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, f, err := s.lookup(id)
	if err != nil {
		return State{}, err
	}
	st := State{
		Figure:      f,
		Base:        baseOf(f, rec),
		Adjustments: rec.adjustments,
		Annotations: append([]annotate.Text(nil), rec.annotations...),
	}
	if s.selected != nil && s.selected.figureID == id {
		st.SelectedID = s.selected.annotationID
	}
	return st, nil
}

// Working returns the figure's current base raster
func (s *Session) Working(id string) (image.Image, error) {
	st, err := s.State(id)
	if err != nil {
		return nil, err
	}
	return st.Base, nil
}

// HasWorking reports whether an edit has replaced the figure's AI source
func (s *Session) HasWorking(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].working != nil
}

// Adjustments returns the figure's adjustment parameters
func (s *Session) Adjustments(id string) (adjust.Params, error) {
	st, err := s.State(id)
	return st.Adjustments, err
}

// Annotations returns a copy of the figure's annotation list
func (s *Session) Annotations(id string) ([]annotate.Text, error) {
	st, err := s.State(id)
	return st.Annotations, err
}

// SetAdjustments stores p, clamped to the valid ranges, for figure id
func (s *Session) SetAdjustments(id string, p adjust.Params) error {
	return s.mutate(id, func(r record) (record, error) {
		r.adjustments = p.Clamp()
		return r, nil
	})
}

// ResetAdjustments restores identity parameters for figure id
func (s *Session) ResetAdjustments(id string) error {
	return s.SetAdjustments(id, adjust.Identity())
}

// ApplyAdjustmentsToAll copies the active figure's parameters verbatim onto
// every other figure.
func (s *Session) ApplyAdjustmentsToAll() {
	s.mu.Lock()
	src := s.figures[s.active].ID
	p := s.records[src].adjustments
	var changed []string
	for _, f := range s.figures {
		if f.ID == src {
			continue
		}
		rec := s.records[f.ID]
		s.pushHistory(f.ID, rec)
		rec.adjustments = p
		s.records[f.ID] = rec
		changed = append(changed, f.ID)
	}
	s.mu.Unlock()

	logging.Logger().Debug("adjustments applied to all", "source", src, "figures", len(changed))
	for _, id := range changed {
		s.notify(id)
	}
}

// SwitchSource replaces the working raster with one of the figure's
// immutable sources and resets its adjustments. Annotations are kept.
func (s *Session) SwitchSource(id string, src Source) error {
	return s.mutate(id, func(r record) (record, error) {
		f := s.figures[s.index[id]]
		switch src {
		case SourceOriginal:
			r.working = f.OriginalSrc
		case SourceAI:
			r.working = f.AISrc
		default:
			return r, fmt.Errorf("unknown source %d", src)
		}
		r.adjustments = adjust.Identity()
		return r, nil
	})
}

// Undo restores figure id to the state before its last mutation
func (s *Session) Undo(id string) error {
	s.mu.Lock()
	if _, ok := s.index[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownFigure, id)
	}
	h := s.history[id]
	if len(h) == 0 {
		s.mu.Unlock()
		return ErrNothingToUndo
	}
	s.records[id] = h[len(h)-1]
	s.history[id] = h[:len(h)-1]
	if s.selected != nil && s.selected.figureID == id && !hasAnnotation(s.records[id], s.selected.annotationID) {
		s.selected = nil
	}
	s.mu.Unlock()

	s.notify(id)
	return nil
}

// mutate applies fn to figure id's record under the lock, stores the result
// and records the previous value for undo. fn must not keep references to
// the record's annotation slice.
func (s *Session) mutate(id string, fn func(record) (record, error)) error {
	s.mu.Lock()
	rec, _, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	next, err := fn(rec)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.pushHistory(id, rec)
	s.records[id] = next
	s.mu.Unlock()

	s.notify(id)
	return nil
}

func (s *Session) pushHistory(id string, rec record) {
	if s.historyLimit <= 0 {
		return
	}
	h := append(s.history[id], rec)
	if len(h) > s.historyLimit {
		h = h[len(h)-s.historyLimit:]
	}
	s.history[id] = h
}

func (s *Session) lookup(id string) (record, types.Figure, error) {
	i, ok := s.index[id]
	if !ok {
		return record{}, types.Figure{}, fmt.Errorf("%w: %s", ErrUnknownFigure, id)
	}
	return s.records[id], s.figures[i], nil
}

func (s *Session) notify(id string) {
	for _, fn := range s.listeners {
		fn(id)
	}
}

func baseOf(f types.Figure, r record) image.Image {
	if r.working != nil {
		return r.working
	}
	return f.AISrc
}

func hasAnnotation(r record, annID string) bool {
	for _, a := range r.annotations {
		if a.ID == annID {
			return true
		}
	}
	return false
}
