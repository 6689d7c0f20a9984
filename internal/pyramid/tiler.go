package pyramid

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
)

var ErrParameter = errors.New("pyramid: parameter out of range")

// Tile is one cell of a tile grid. Interior tiles are exactly the
// requested size; tiles in the last column or row are clipped to the
// level's right/bottom edge.
type Tile struct {
	Index  int // flat row-major index: j*Across + i
	X, Y   int // top-left pixel of the tile within its level
	Image  image.Image
	Width  int
	Height int
}

// Grid is the regular partition of one raster into tiles, in row-major
// order.
type Grid struct {
	Width      int
	Height     int
	TileWidth  int
	TileHeight int
	Across     int // nx = ceil(Width/TileWidth)
	Down       int // ny = ceil(Height/TileHeight)
	Tiles      []Tile
}

// subImager is satisfied by the stdlib raster types, allowing tiles to be
// cut without copying pixel data.
type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Split cuts img into a grid of tw x th tiles. Tile (i, j) covers
// [i*tw, min((i+1)*tw, w)) x [j*th, min((j+1)*th, h)); the flat list is
// row-major.
func Split(img image.Image, tw, th int) (*Grid, error) {
	if tw < 1 || th < 1 {
		return nil, fmt.Errorf("%w: tile dimensions must be at least 1x1, got %dx%d", ErrParameter, tw, th)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	nx := ceilDiv(w, tw)
	ny := ceilDiv(h, th)

	g := &Grid{
		Width:      w,
		Height:     h,
		TileWidth:  tw,
		TileHeight: th,
		Across:     nx,
		Down:       ny,
		Tiles:      make([]Tile, 0, nx*ny),
	}

	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			x := i * tw
			y := j * th
			cw := min(tw, w-x)
			ch := min(th, h-y)
			rect := image.Rect(b.Min.X+x, b.Min.Y+y, b.Min.X+x+cw, b.Min.Y+y+ch)
			g.Tiles = append(g.Tiles, Tile{
				Index:  j*nx + i,
				X:      x,
				Y:      y,
				Image:  crop(img, rect),
				Width:  cw,
				Height: ch,
			})
		}
	}
	return g, nil
}

// crop extracts rect from img, sharing pixels when the underlying type
// supports sub-imaging and copying otherwise.
func crop(img image.Image, rect image.Rectangle) image.Image {
	if si, ok := img.(subImager); ok {
		return si.SubImage(rect)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst
}
