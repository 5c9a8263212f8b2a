package nflow

import (
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
)

// WriteSampleGrid tiles flattened h×w samples into a square-ish grayscale
// grid, normalizes their values to the full [0,255] range, optionally
// upscales with nearest-neighbor interpolation, and writes a PNG.
func WriteSampleGrid(path string, samples [][]float64, h, w, scale int) error {
	if len(samples) == 0 {
		return errorf("WriteSampleGrid requires at least one sample")
	}
	dim := h * w
	for i, s := range samples {
		if len(s) != dim {
			return errorf("sample %d has %d values, expected %d", i, len(s), dim)
		}
	}
	if scale < 1 {
		scale = 1
	}

	// Normalize over the whole batch so samples share one intensity scale.
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		for _, v := range s {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	n := len(samples)
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols

	const gap = 2
	gridW := cols*w + (cols+1)*gap
	gridH := rows*h + (rows+1)*gap
	grid := image.NewGray(image.Rect(0, 0, gridW, gridH))

	for idx, s := range samples {
		r := idx / cols
		c := idx % cols
		x0 := gap + c*(w+gap)
		y0 := gap + r*(h+gap)
		for i := 0; i < h; i++ {
			for j := 0; j < w; j++ {
				v := (s[i*w+j] - lo) / span * 255
				grid.Pix[(y0+i)*grid.Stride+x0+j] = uint8(v)
			}
		}
	}

	out := image.Image(grid)
	if scale > 1 {
		scaled := image.NewGray(image.Rect(0, 0, gridW*scale, gridH*scale))
		draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), grid, grid.Bounds(), draw.Src, nil)
		out = scaled
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, out)
}
