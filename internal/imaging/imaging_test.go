package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, LevelMedium, l)

	l, err = ParseLevel("heavy")
	require.NoError(t, err)
	assert.Equal(t, LevelHeavy, l)

	_, err = ParseLevel("strong")
	assert.Error(t, err)
}

func TestEnhanceNoneReturnsInput(t *testing.T) {
	img := solid(4, 4, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	assert.Same(t, img, Enhance(img, LevelNone))
}

func TestEnhanceBrightens(t *testing.T) {
	img := solid(8, 8, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	out := Enhance(img, LevelMedium)
	c := color.NRGBAModel.Convert(out.At(4, 4)).(color.NRGBA)
	assert.Greater(t, c.R, uint8(100))
	assert.Equal(t, img.Bounds(), out.Bounds())
}

func TestUpscale(t *testing.T) {
	img := solid(10, 6, color.NRGBA{R: 200, A: 255})
	out, err := Upscale(img, 4)
	require.NoError(t, err)
	assert.Equal(t, 40, out.Bounds().Dx())
	assert.Equal(t, 24, out.Bounds().Dy())

	_, err = Upscale(img, 8)
	assert.ErrorIs(t, err, ErrUnsupportedScale)
}

func TestFitSquare(t *testing.T) {
	out := FitSquare(solid(300, 200, color.NRGBA{A: 255}), EditSize)
	assert.Equal(t, image.Rect(0, 0, EditSize, EditSize), out.Bounds())
}

func TestRemoveBackground(t *testing.T) {
	img := solid(5, 5, color.NRGBA{R: 250, G: 250, B: 250, A: 255})
	img.SetNRGBA(2, 2, color.NRGBA{R: 10, G: 200, B: 10, A: 255})

	out := RemoveBackground(img)
	assert.Equal(t, uint8(0), out.NRGBAAt(0, 0).A)
	assert.Equal(t, uint8(0), out.NRGBAAt(4, 1).A)
	assert.Equal(t, uint8(255), out.NRGBAAt(2, 2).A)
}

func TestColorizeSepia(t *testing.T) {
	out := Colorize(solid(2, 2, color.NRGBA{R: 200, G: 200, B: 200, A: 255}))
	c := out.NRGBAAt(0, 0)
	assert.Equal(t, uint8(200), c.R)
	assert.Equal(t, uint8(190), c.G)
	assert.Equal(t, uint8(164), c.B)
}

func TestApplyUnknownOperation(t *testing.T) {
	_, err := Apply(solid(1, 1, color.NRGBA{}), "cartoonify")
	assert.ErrorIs(t, err, ErrUnknownOperation)

	out, err := Apply(solid(3, 3, color.NRGBA{R: 50, A: 255}), OpEnhanceFace)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Bounds().Dx())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	data, err := EncodePNG(solid(3, 2, color.NRGBA{B: 255, A: 255}))
	require.NoError(t, err)
	img, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())

	_, err = Decode([]byte("not an image"))
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestDecodeRejectsOversizedImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4097, 4096))))

	_, err := Decode(buf.Bytes())
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestUpscaleRejectsOversizedOutput(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2000, 2000))

	_, err := Upscale(img, 4)
	assert.ErrorIs(t, err, ErrImageTooLarge)

	assert.Equal(t, 3, FitFactor(img, 4))
	assert.Equal(t, 4, FitFactor(solid(8, 8, color.NRGBA{A: 255}), 4))

	out, err := Upscale(solid(8, 8, color.NRGBA{A: 255}), 3)
	require.NoError(t, err)
	assert.Equal(t, 24, out.Bounds().Dx())
}
