package pyramid

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/MeKo-Tech/zoomtile/internal/codec"
)

// Brotli parameter bounds accepted by the tile compressor.
const (
	MinBrotliQuality    = 0
	MaxBrotliQuality    = 11
	MinBrotliWindowLog2 = 10
	MaxBrotliWindowLog2 = 24
)

// Compressor encodes tile rasters to their level's MIME type and then
// Brotli-compresses the encoded bytes. The output carries no framing of
// its own; transports signal the compression via Content-Encoding.
type Compressor struct {
	quality    int
	windowLog2 int
}

// NewCompressor validates the Brotli parameters before any codec work:
// 0 <= quality <= 11 and 10 <= windowLog2 <= 24.
func NewCompressor(quality, windowLog2 int) (*Compressor, error) {
	if quality < MinBrotliQuality || quality > MaxBrotliQuality {
		return nil, fmt.Errorf("%w: brotli quality %d outside [%d, %d]",
			ErrParameter, quality, MinBrotliQuality, MaxBrotliQuality)
	}
	if windowLog2 < MinBrotliWindowLog2 || windowLog2 > MaxBrotliWindowLog2 {
		return nil, fmt.Errorf("%w: brotli window log2 %d outside [%d, %d]",
			ErrParameter, windowLog2, MinBrotliWindowLog2, MaxBrotliWindowLog2)
	}
	return &Compressor{quality: quality, windowLog2: windowLog2}, nil
}

// EncodeAndCompress encodes img with the given MIME and compresses the
// result.
func (c *Compressor) EncodeAndCompress(img image.Image, mime string) ([]byte, error) {
	encoded, err := codec.Encode(img, mime)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := brotli.NewWriterOptions(&buf, brotli.WriterOptions{
		Quality: c.quality,
		LGWin:   c.windowLog2,
	})
	if _, err := w.Write(encoded); err != nil {
		return nil, fmt.Errorf("pyramid: brotli compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("pyramid: brotli compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses the Brotli framing applied by EncodeAndCompress,
// yielding the encoded image bytes.
func Decompress(data []byte) ([]byte, error) {
	out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("pyramid: brotli decompress: %w", err)
	}
	return out, nil
}
