// Package imageinfo reads image dimensions without decoding pixel data.
package imageinfo

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Extensions lists the image file extensions the converter recognizes.
var Extensions = []string{".bmp", ".jpeg", ".jpg", ".png", ".tiff"}

// IsImage reports whether ext (with leading dot, any case) is a recognized
// image extension.
func IsImage(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Dimensions holds the width, height and channel count of an image.
type Dimensions struct {
	Width    int
	Height   int
	Channels int
}

// Probe returns the dimensions of the image at path.
func Probe(path string) (Dimensions, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dimensions{}, fmt.Errorf("imageinfo: open %s: %w", path, err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return Dimensions{}, fmt.Errorf("imageinfo: decode %s: %w", path, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Dimensions{}, fmt.Errorf("imageinfo: %s (%s) has no size", path, format)
	}
	return Dimensions{
		Width:    cfg.Width,
		Height:   cfg.Height,
		Channels: channels(cfg.ColorModel),
	}, nil
}

func channels(m color.Model) int {
	switch m {
	case color.GrayModel, color.Gray16Model:
		return 1
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model:
		return 4
	}
	return 3
}
