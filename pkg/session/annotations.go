package session

import (
	"fmt"

	"github.com/menta2k/figure-editor/pkg/annotate"
)

// AddAnnotation places a new placeholder label on figure id at (x, y) in
// the figure's current raster space and selects it.
func (s *Session) AddAnnotation(id string, x, y float64, color string, size float64) (annotate.Text, error) {
	if _, err := annotate.ParseColor(color); err != nil {
		return annotate.Text{}, err
	}

	var added annotate.Text
	err := s.mutate(id, func(r record) (record, error) {
		s.nextID++
		added = annotate.Text{
			ID:    fmt.Sprintf("ann_%d", s.nextID),
			X:     x,
			Y:     y,
			Text:  annotate.PlaceholderText,
			Color: color,
			Size:  annotate.ClampSize(size),
		}
		r = r.withAnnotations(append(r.annotations, added))
		s.selected = &selection{figureID: id, annotationID: added.ID}
		return r, nil
	})
	return added, err
}

// HitTest returns the first label of figure id, in list order, whose text
// bounds contain (x, y).
func (s *Session) HitTest(id string, x, y float64) (annotate.Text, bool) {
	texts, err := s.Annotations(id)
	if err != nil {
		return annotate.Text{}, false
	}
	for _, t := range texts {
		if s.renderer.Contains(t, x, y) {
			return t, true
		}
	}
	return annotate.Text{}, false
}

// Select marks a label of figure id as selected
func (s *Session) Select(id, annotationID string) error {
	s.mu.Lock()
	rec, _, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !hasAnnotation(rec, annotationID) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAnnotation, annotationID)
	}
	s.selected = &selection{figureID: id, annotationID: annotationID}
	s.mu.Unlock()

	s.notify(id)
	return nil
}

// SelectAt selects the label under (x, y) on figure id, or clears the
// selection when nothing is hit.
func (s *Session) SelectAt(id string, x, y float64) (annotate.Text, bool) {
	t, ok := s.HitTest(id, x, y)
	if !ok {
		s.ClearSelection()
		return annotate.Text{}, false
	}
	if err := s.Select(id, t.ID); err != nil {
		return annotate.Text{}, false
	}
	return t, true
}

// ClearSelection deselects any selected label
func (s *Session) ClearSelection() {
	s.mu.Lock()
	prev := s.selected
	s.selected = nil
	s.mu.Unlock()

	if prev != nil {
		s.notify(prev.figureID)
	}
}

// Selected returns the figure and label IDs of the current selection
func (s *Session) Selected() (figureID, annotationID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return "", "", false
	}
	return s.selected.figureID, s.selected.annotationID, true
}

// UpdateSelected applies patch to the selected label. Without a selection
// it returns ErrNoSelection and changes nothing.
func (s *Session) UpdateSelected(patch annotate.Patch) error {
	if patch.Color != nil {
		if _, err := annotate.ParseColor(*patch.Color); err != nil {
			return err
		}
	}

	figID, annID, ok := s.Selected()
	if !ok {
		return ErrNoSelection
	}
	return s.mutate(figID, func(r record) (record, error) {
		texts := append([]annotate.Text(nil), r.annotations...)
		for i, t := range texts {
			if t.ID == annID {
				texts[i] = patch.Apply(t)
				r.annotations = texts
				return r, nil
			}
		}
		return r, ErrNoSelection
	})
}

// DeleteSelected removes the selected label and clears the selection.
// Without a selection it returns ErrNoSelection and changes nothing.
func (s *Session) DeleteSelected() error {
	figID, annID, ok := s.Selected()
	if !ok {
		return ErrNoSelection
	}
	return s.mutate(figID, func(r record) (record, error) {
		texts := make([]annotate.Text, 0, len(r.annotations))
		for _, t := range r.annotations {
			if t.ID != annID {
				texts = append(texts, t)
			}
		}
		if len(texts) == len(r.annotations) {
			return r, ErrNoSelection
		}
		r.annotations = texts
		s.selected = nil
		return r, nil
	})
}
