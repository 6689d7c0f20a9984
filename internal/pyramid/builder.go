// Package pyramid builds mip pyramids from a source raster and cuts
// pyramid levels into fixed-size tile grids.
package pyramid

import (
	"errors"
	"image"

	"github.com/disintegration/gift"
)

var ErrBuild = errors.New("pyramid: cannot build pyramid from zero-area raster")

// blurSigma is the Gaussian pre-filter applied before each 2:1 decimation
// to avoid aliasing in the downsampled levels.
const blurSigma = 1.0

// LevelCount returns the number of pyramid levels for a source of the
// given dimensions: floor(log2(min(w, h))) + 1. Because LevelDims rounds
// up, the smaller dimension of the final level is 1 when min(w, h) is a
// power of two and 2 otherwise.
func LevelCount(w, h int) int {
	m := min(w, h)
	if m < 1 {
		return 0
	}
	n := 1
	for m >= 2 {
		m >>= 1
		n++
	}
	return n
}

// LevelDims returns the dimensions of level k: (ceil(w/2^k), ceil(h/2^k)).
func LevelDims(w, h, k int) (int, int) {
	return ceilDiv(w, 1<<k), ceilDiv(h, 1<<k)
}

// Build produces the ordered level sequence for src. Level 0 is src
// itself; each further level halves both dimensions (rounding up) after a
// Gaussian pre-filter, for LevelCount(w, h) levels in all. Edge pixels
// are clamped. The result is deterministic for identical input.
func Build(src image.Image) ([]image.Image, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 1 || h < 1 {
		return nil, ErrBuild
	}

	levels := make([]image.Image, LevelCount(w, h))
	levels[0] = src

	cur := src
	for k := 1; k < len(levels); k++ {
		lw, lh := LevelDims(w, h, k)
		g := gift.New(
			gift.GaussianBlur(blurSigma),
			gift.Resize(lw, lh, gift.BoxResampling),
		)
		dst := image.NewNRGBA(g.Bounds(cur.Bounds()))
		g.Draw(dst, cur)
		levels[k] = dst
		cur = dst
	}
	return levels, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
