package analyzer

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestExtractFeaturesUniform(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	f, err := ExtractFeatures(encodePNG(t, img))
	require.NoError(t, err)
	require.Equal(t, [3]int{200, 100, 50}, f.AvgColorRGB)
	// luma = round(0.299*200 + 0.587*100 + 0.114*50) = 124 -> 124/255
	require.InDelta(t, 0.486, f.Brightness, 1e-9)
	require.Equal(t, "png", f.Format)
	require.Equal(t, "image/png", f.MIMEType())
}

func TestExtractFeaturesTruncatesAverage(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 0, G: 0, B: 0, A: 255})
	img.Set(1, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	f, err := ExtractFeatures(encodePNG(t, img))
	require.NoError(t, err)
	require.Equal(t, [3]int{127, 127, 127}, f.AvgColorRGB)
	require.InDelta(t, 0.5, f.Brightness, 1e-9)
}

func TestExtractFeaturesJPEG(t *testing.T) {
	t.Parallel()

	img := image.NewGray(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	f, err := ExtractFeatures(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, "jpeg", f.Format)
	require.Equal(t, "image/jpeg", f.MIMEType())
	require.InDelta(t, 0.0, f.Brightness, 0.01)
}

func TestExtractFeaturesRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := ExtractFeatures([]byte("<html>not an image</html>"))
	require.Error(t, err)
}
