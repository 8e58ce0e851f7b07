// Package analyzer turns downloaded images into structured rows: visual
// features, descriptive labels, and the CSV report.
package analyzer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"math"
)

// Features are the visual statistics computed for one image.
type Features struct {
	// AvgColorRGB is the per-channel mean, truncated to integers.
	AvgColorRGB [3]int
	// Brightness is the mean 8-bit luma divided by 255, rounded to 3 places.
	Brightness float64
	// Format is the decoder that read the image (jpeg, png, gif).
	Format string
}

// ExtractFeatures decodes data and computes its Features.
func ExtractFeatures(data []byte) (Features, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Features{}, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	pixels := float64(b.Dx() * b.Dy())
	if pixels == 0 {
		return Features{}, errors.New("image has no pixels")
	}

	var sumR, sumG, sumB, sumLuma float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r16, g16, b16, _ := img.At(x, y).RGBA()
			r, g, bl := float64(r16>>8), float64(g16>>8), float64(b16>>8)
			sumR += r
			sumG += g
			sumB += bl
			sumLuma += math.Round(0.299*r + 0.587*g + 0.114*bl)
		}
	}
	return Features{
		AvgColorRGB: [3]int{int(sumR / pixels), int(sumG / pixels), int(sumB / pixels)},
		Brightness:  math.Round(sumLuma/pixels/255*1000) / 1000,
		Format:      format,
	}, nil
}

// MIMEType returns the content type matching the decoded format.
func (f Features) MIMEType() string {
	switch f.Format {
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
