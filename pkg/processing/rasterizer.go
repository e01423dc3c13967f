package processing

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/menta2k/figure-editor/internal/logging"
	"github.com/menta2k/figure-editor/internal/utils"
	"github.com/menta2k/figure-editor/pkg/types"
)

// DefaultMaxPageDim caps the long side of a rasterized page
const DefaultMaxPageDim = 2000

// Rasterizer turns a document's page images into page rasters
type Rasterizer struct {
	processor  *Processor
	MaxPageDim int
}

// NewRasterizer creates a Rasterizer that fits pages into maxPageDim.
// maxPageDim <= 0 keeps pages at full size.
func NewRasterizer(p *Processor, maxPageDim int) *Rasterizer {
	if p == nil {
		p = NewProcessor()
	}
	return &Rasterizer{processor: p, MaxPageDim: maxPageDim}
}

// ExpandSources replaces every directory in sources by the page images it
// contains, in lexical order.
func ExpandSources(sources []string) ([]string, error) {
	var out []string
	for _, src := range sources {
		if !utils.DirExists(src) {
			out = append(out, src)
			continue
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", src, err)
		}
		var pages []string
		for _, e := range entries {
			if !e.IsDir() && utils.IsImageFile(e.Name()) {
				pages = append(pages, filepath.Join(src, e.Name()))
			}
		}
		sort.Strings(pages)
		out = append(out, pages...)
	}
	return out, nil
}

// Rasterize loads every source as one page. Any page that fails to load
// aborts the whole conversion.
func (r *Rasterizer) Rasterize(ctx context.Context, sources []string) ([]types.Page, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no pages to rasterize")
	}
	pages := make([]types.Page, 0, len(sources))
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := r.processor.LoadImageSmart(src)
		if err != nil {
			return nil, fmt.Errorf("page %d (%s): %w", i+1, src, err)
		}
		if err := ValidateImage(img, 1); err != nil {
			return nil, fmt.Errorf("page %d (%s): %w", i+1, src, err)
		}
		page := r.Page(i, img)
		logging.Logger().Debug("page rasterized", "index", i, "source", src, "width", page.Width, "height", page.Height)
		pages = append(pages, page)
	}
	return pages, nil
}

// Page normalizes img to NRGBA, fitted into MaxPageDim
func (r *Rasterizer) Page(index int, img image.Image) types.Page {
	var nrgba *image.NRGBA
	b := img.Bounds()
	if r.MaxPageDim > 0 && (b.Dx() > r.MaxPageDim || b.Dy() > r.MaxPageDim) {
		nrgba = imaging.Fit(img, r.MaxPageDim, r.MaxPageDim, imaging.Lanczos)
	} else {
		nrgba = imaging.Clone(img)
	}
	return types.Page{
		Index:  index,
		Image:  nrgba,
		Width:  nrgba.Bounds().Dx(),
		Height: nrgba.Bounds().Dy(),
	}
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspect_ratio"`
	Area        int     `json:"area"`
}

// GetImageInfo returns basic information about an image
func GetImageInfo(img image.Image) ImageInfo {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	info := ImageInfo{Width: width, Height: height, Area: width * height}
	if height > 0 {
		info.AspectRatio = float64(width) / float64(height)
	}
	return info
}

// ValidateImage checks that an image is at least minSize pixels on each side
func ValidateImage(img image.Image, minSize int) error {
	bounds := img.Bounds()
	if bounds.Dx() < minSize || bounds.Dy() < minSize {
		return fmt.Errorf("image too small: %dx%d (minimum: %d)",
			bounds.Dx(), bounds.Dy(), minSize)
	}
	return nil
}
