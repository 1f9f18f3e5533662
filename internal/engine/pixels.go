package engine

import (
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"gitlab.com/tozd/go/errors"
)

// DefaultImageExtensions are the source formats the engine can decode.
var DefaultImageExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".tiff", ".tif", ".gif"}

// OutputFormat is the image format decompression writes.
type OutputFormat string

const (
	FormatBMP OutputFormat = "bmp"
	FormatPNG OutputFormat = "png"
)

// ParseOutputFormat parses "bmp" or "png".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))); f {
	case "":
		return FormatBMP, nil
	case FormatBMP, FormatPNG:
		return f, nil
	default:
		return "", errors.Errorf("unsupported output format %q (valid: bmp, png)", s)
	}
}

// Ext returns the file extension for the format.
func (f OutputFormat) Ext() string {
	return "." + string(f)
}

// loadPixels decodes an image file into packed NRGBA pixels
// (R | G<<8 | B<<16 | A<<24), row-major.
func loadPixels(path string) ([]uint32, int, int, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	nrgba := imaging.Clone(img)
	w, h := nrgba.Rect.Dx(), nrgba.Rect.Dy()
	if w == 0 || h == 0 {
		return nil, 0, 0, errors.Errorf("empty image %dx%d", w, h)
	}
	return packPixels(nrgba), w, h, nil
}

func packPixels(img *image.NRGBA) []uint32 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	pixels := make([]uint32, 0, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < len(row); x += 4 {
			pixels = append(pixels, uint32(row[x])|uint32(row[x+1])<<8|uint32(row[x+2])<<16|uint32(row[x+3])<<24)
		}
	}
	return pixels
}

func unpackPixels(pixels []uint32, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i, p := range pixels {
		o := i * 4
		img.Pix[o] = uint8(p)
		img.Pix[o+1] = uint8(p >> 8)
		img.Pix[o+2] = uint8(p >> 16)
		img.Pix[o+3] = uint8(p >> 24)
	}
	return img
}

// savePixels encodes pixels to path; the format follows the extension.
func savePixels(path string, pixels []uint32, w, h int) error {
	return imaging.Save(unpackPixels(pixels, w, h), path)
}
