package vision

import (
	"image"
	"image/color"
	"math"
)

// ContentDetector finds the inked part of a scanned figure: everything that
// stands out from the dominant paper color.
type ContentDetector struct {
	config DetectionConfig
}

// DetectionConfig holds configuration for content detection
type DetectionConfig struct {
	// InkThreshold is the minimum normalized color distance from the paper
	// color for a pixel to count as ink.
	InkThreshold float64
	// MinInkPixels is the number of ink pixels a row or column needs before
	// it is considered part of the content, filtering out scanner dust.
	MinInkPixels int
	// Margin is added around the detected content, in pixels
	Margin int
}

// New creates a new ContentDetector with default configuration
func New() *ContentDetector {
	return &ContentDetector{
		config: DetectionConfig{
			InkThreshold: 0.15,
			MinInkPixels: 2,
			Margin:       4,
		},
	}
}

// NewWithConfig creates a new ContentDetector with custom configuration
func NewWithConfig(config DetectionConfig) *ContentDetector {
	return &ContentDetector{config: config}
}

// Region represents a rectangular region of interest
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float64
}

// Rect returns the region as an image.Rectangle
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Area returns the area of the region
func (r Region) Area() int {
	return r.Width * r.Height
}

// DetectContent returns the bounding region of ink on img, relative to the
// image origin. Score is the fraction of region pixels that are ink. ok is
// false when the image holds nothing but paper.
func (d *ContentDetector) DetectContent(img image.Image) (region Region, ok bool) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return Region{}, false
	}

	paper := d.PaperColor(img)
	rowInk := make([]int, height)
	colInk := make([]int, width)
	total := 0

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if colorDistance(img.At(x+bounds.Min.X, y+bounds.Min.Y), paper) > d.config.InkThreshold {
				rowInk[y]++
				colInk[x]++
				total++
			}
		}
	}

	y0, y1 := span(rowInk, d.config.MinInkPixels)
	x0, x1 := span(colInk, d.config.MinInkPixels)
	if y0 < 0 || x0 < 0 {
		return Region{}, false
	}

	m := d.config.Margin
	x0 = maxInt(0, x0-m)
	y0 = maxInt(0, y0-m)
	x1 = minInt(width, x1+m)
	y1 = minInt(height, y1+m)

	region = Region{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
	if region.Area() > 0 {
		region.Score = math.Min(1, float64(total)/float64(region.Area()))
	}
	return region, true
}

// PaperColor returns the most frequent color of img after quantizing each
// channel to 16 levels.
func (d *ContentDetector) PaperColor(img image.Image) color.Color {
	bounds := img.Bounds()
	histogram := make(map[uint32]int)
	sums := make(map[uint32][3]uint64)

	step := 1
	if area := bounds.Dx() * bounds.Dy(); area > 1<<20 {
		step = 2
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			r, g, b, _ := img.At(x, y).RGBA()
			r8, g8, b8 := r>>8, g>>8, b>>8
			key := (r8&0xf0)<<16 | (g8&0xf0)<<8 | (b8 & 0xf0)
			histogram[key]++
			s := sums[key]
			sums[key] = [3]uint64{s[0] + uint64(r8), s[1] + uint64(g8), s[2] + uint64(b8)}
		}
	}

	var bestKey uint32
	bestCount := -1
	for key, count := range histogram {
		if count > bestCount || (count == bestCount && key > bestKey) {
			bestKey, bestCount = key, count
		}
	}
	if bestCount <= 0 {
		return color.White
	}

	s := sums[bestKey]
	n := uint64(bestCount)
	return color.RGBA{uint8(s[0] / n), uint8(s[1] / n), uint8(s[2] / n), 255}
}

// colorDistance is the euclidean RGB distance normalized to [0,1]
func colorDistance(a, b color.Color) float64 {
	r1, g1, b1, _ := a.RGBA()
	r2, g2, b2, _ := b.RGBA()

	dr := float64(r1) - float64(r2)
	dg := float64(g1) - float64(g2)
	db := float64(b1) - float64(b2)

	return math.Sqrt(dr*dr+dg*dg+db*db) / (math.Sqrt(3) * 65535.0)
}

// span returns the first and one-past-last index whose count reaches min
func span(counts []int, min int) (int, int) {
	if min < 1 {
		min = 1
	}
	start, end := -1, -1
	for i, c := range counts {
		if c >= min {
			if start < 0 {
				start = i
			}
			end = i + 1
		}
	}
	return start, end
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
