// Package codec decodes and encodes rasters for the closed set of image
// MIME types the pyramid pipeline accepts.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/gen2brain/webp"
	"golang.org/x/image/bmp"
)

// Supported MIME types. The set is closed; anything else is rejected
// before any decode or encode work happens.
const (
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
	MimeWebP = "image/webp"
	MimeBMP  = "image/bmp"
)

var (
	ErrUnsupportedFormat = errors.New("codec: unsupported image format")
	ErrDecode            = errors.New("codec: decode failed")
	ErrEncode            = errors.New("codec: encode failed")
)

// jpegQuality is used for every JPEG encode in the pipeline so that level
// and tile bytes are deterministic for a given raster.
const jpegQuality = 90

// Supported reports whether mime is in the closed set of accepted types.
func Supported(mime string) bool {
	switch mime {
	case MimePNG, MimeJPEG, MimeWebP, MimeBMP:
		return true
	}
	return false
}

// MimeTypes returns the closed set of accepted MIME types.
func MimeTypes() []string {
	return []string{MimePNG, MimeJPEG, MimeWebP, MimeBMP}
}

// Decode turns encoded bytes into a raster. The declared MIME selects the
// decoder; bytes that are empty, truncated, or of a different format fail
// with ErrDecode.
func Decode(data []byte, mime string) (image.Image, error) {
	if !Supported(mime) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, mime)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	r := bytes.NewReader(data)
	var (
		img image.Image
		err error
	)
	switch mime {
	case MimePNG:
		img, err = png.Decode(r)
	case MimeJPEG:
		img, err = jpeg.Decode(r)
	case MimeWebP:
		img, err = webp.Decode(r)
	case MimeBMP:
		img, err = bmp.Decode(r)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// Encode turns a raster into encoded bytes of the given MIME type.
func Encode(img image.Image, mime string) ([]byte, error) {
	if !Supported(mime) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, mime)
	}

	var buf bytes.Buffer
	var err error
	switch mime {
	case MimePNG:
		err = png.Encode(&buf, img)
	case MimeJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	case MimeWebP:
		err = webp.Encode(&buf, img)
	case MimeBMP:
		err = bmp.Encode(&buf, img)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}
