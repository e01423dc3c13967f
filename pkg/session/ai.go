package session

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/menta2k/figure-editor/internal/logging"
)

// Recreate asks the recreation collaborator to redraw figure id from its
// current base raster. The result becomes the working raster with identity
// adjustments; annotations are kept. On failure the figure is unchanged and
// a *FigureError is returned.
//
// The call runs without holding the session lock, so the result is applied
// to figure id even if another figure became active in the meantime.
func (s *Session) Recreate(ctx context.Context, id string) error {
	if s.recreator == nil {
		return &FigureError{FigureID: id, Op: "recreate", Err: ErrNoCollaborator}
	}
	st, err := s.State(id)
	if err != nil {
		return err
	}

	img, err := s.recreator.Recreate(ctx, st.Base, st.Figure.Alt)
	if err == nil && img == nil {
		err = fmt.Errorf("collaborator returned no image")
	}
	if err != nil {
		logging.Logger().Warn("recreation failed", "figure", id, "error", err)
		return &FigureError{FigureID: id, Op: "recreate", Err: err}
	}

	return s.SetWorking(id, img)
}

// GenerateGraph replaces figure id with a rendered plot of equation. An
// empty equation returns ErrEmptyEquation without calling the collaborator.
func (s *Session) GenerateGraph(ctx context.Context, id, equation string) error {
	if strings.TrimSpace(equation) == "" {
		return ErrEmptyEquation
	}
	if _, err := s.Figure(id); err != nil {
		return err
	}
	if s.graphs == nil {
		return &FigureError{FigureID: id, Op: "graph", Err: ErrNoCollaborator}
	}

	img, err := s.graphs.GenerateGraph(ctx, equation)
	if err == nil && img == nil {
		err = fmt.Errorf("collaborator returned no image")
	}
	if err != nil {
		logging.Logger().Warn("graph generation failed", "figure", id, "error", err)
		return &FigureError{FigureID: id, Op: "graph", Err: err}
	}

	return s.SetWorking(id, img)
}

// RecreateAll runs Recreate for every figure. With concurrency <= 1 the
// figures are processed one at a time in input order; otherwise up to
// concurrency requests run at once. A failing figure never stops the
// others; all failures are reported together in a *BatchError.
func (s *Session) RecreateAll(ctx context.Context, concurrency int) error {
	figures := s.Figures()
	logging.Logger().Info("batch recreation started", "figures", len(figures), "concurrency", concurrency)

	var (
		mu       sync.Mutex
		failures = make(map[string]*FigureError)
	)
	fail := func(id string, err error) {
		fe, ok := err.(*FigureError)
		if !ok {
			fe = &FigureError{FigureID: id, Op: "recreate", Err: err}
		}
		mu.Lock()
		failures[id] = fe
		mu.Unlock()
	}

	if concurrency <= 1 {
		for _, f := range figures {
			if err := ctx.Err(); err != nil {
				fail(f.ID, err)
				continue
			}
			if err := s.Recreate(ctx, f.ID); err != nil {
				fail(f.ID, err)
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for _, f := range figures {
			id := f.ID
			g.Go(func() error {
				if err := s.Recreate(gctx, id); err != nil {
					fail(id, err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	if len(failures) == 0 {
		logging.Logger().Info("batch recreation finished", "figures", len(figures))
		return nil
	}

	// report in input order
	batch := &BatchError{Op: "recreate"}
	for _, f := range figures {
		if fe, ok := failures[f.ID]; ok {
			batch.Errors = append(batch.Errors, fe)
		}
	}
	logging.Logger().Warn("batch recreation finished with failures", "failed", len(batch.Errors))
	return batch
}

// RecreatorFunc adapts a function to the Recreator interface
type RecreatorFunc func(ctx context.Context, img image.Image, alt string) (image.Image, error)

// Recreate calls f
func (f RecreatorFunc) Recreate(ctx context.Context, img image.Image, alt string) (image.Image, error) {
	return f(ctx, img, alt)
}

// GraphGeneratorFunc adapts a function to the GraphGenerator interface
type GraphGeneratorFunc func(ctx context.Context, equation string) (image.Image, error)

// GenerateGraph calls f
func (f GraphGeneratorFunc) GenerateGraph(ctx context.Context, equation string) (image.Image, error) {
	return f(ctx, equation)
}
