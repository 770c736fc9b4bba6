package tile

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/disintegration/imaging"
)

var pngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// ErrUnsupportedFormat is returned for anything that is not a PNG
var ErrUnsupportedFormat = errors.New("unrecognized image format")

// DecodeImage decodes PNG data into a non-premultiplied RGBA image
func DecodeImage(data []byte) (*image.NRGBA, error) {
	if len(data) < len(pngSignature) || !bytes.Equal(data[:len(pngSignature)], pngSignature) {
		return nil, ErrUnsupportedFormat
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}

	return imaging.Clone(img), nil
}

// ReadImage reads and decodes a PNG from r
func ReadImage(r io.Reader) (*image.NRGBA, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return DecodeImage(data)
}

// EncodePNG encodes img as PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var output bytes.Buffer
	if err := imaging.Encode(&output, img, imaging.PNG); err != nil {
		return nil, err
	}
	return output.Bytes(), nil
}
