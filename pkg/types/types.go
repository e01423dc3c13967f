package types

import "image"

// NormalizedScale is the fixed range used by normalized bounding boxes
const NormalizedScale = 1000.0

// Box2D is a normalized bounding box in [ymin, xmin, ymax, xmax] order on a 0-1000 scale
type Box2D [4]float64

// YMin returns the top edge of the box
func (b Box2D) YMin() float64 { return b[0] }

// XMin returns the left edge of the box
func (b Box2D) XMin() float64 { return b[1] }

// YMax returns the bottom edge of the box
func (b Box2D) YMax() float64 { return b[2] }

// XMax returns the right edge of the box
func (b Box2D) XMax() float64 { return b[3] }

// Clamped returns the box with every coordinate limited to [0, NormalizedScale]
// and the min/max pairs put in order.
func (b Box2D) Clamped() Box2D {
	var out Box2D
	for i, v := range b {
		if v < 0 {
			v = 0
		}
		if v > NormalizedScale {
			v = NormalizedScale
		}
		out[i] = v
	}
	if out[0] > out[2] {
		out[0], out[2] = out[2], out[0]
	}
	if out[1] > out[3] {
		out[1], out[3] = out[3], out[1]
	}
	return out
}

// Page is one rasterized page of an input document
type Page struct {
	Index  int         `json:"index"`
	Image  image.Image `json:"-"`
	Width  int         `json:"width"`
	Height int         `json:"height"`
}

// FigureBox is a figure reference as returned by the transcription model
type FigureBox struct {
	ID    string `json:"id"`
	Box2D Box2D  `json:"box_2d"`
	Alt   string `json:"alt"`
}

// Transcription is the model's output for a single page
type Transcription struct {
	HTML    string      `json:"html"`
	Figures []FigureBox `json:"figures"`
}

// Figure is one extractable visual region of a page. OriginalSrc and AISrc
// are never modified after the figure is created.
type Figure struct {
	ID          string      `json:"id"`
	PageIndex   int         `json:"page_index"`
	Box         Box2D       `json:"box_2d"`
	Alt         string      `json:"alt"`
	OriginalSrc image.Image `json:"-"`
	AISrc       image.Image `json:"-"`
}

// FigureUpdate is one entry of the save payload
type FigureUpdate struct {
	FigureID  string `json:"figure_id"`
	PageIndex int    `json:"page_index"`
	Format    string `json:"format"`
	Data      []byte `json:"-"`
}

// OutputOptions controls how baked figures are encoded
type OutputOptions struct {
	Format   string
	Quality  int
	Lossless bool
}
