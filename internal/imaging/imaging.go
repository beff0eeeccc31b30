// Package imaging holds the post-processing applied to generated and uploaded images.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

var (
	ErrInvalidImage     = errors.New("invalid image")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrUnsupportedScale = errors.New("unsupported scale factor")
	ErrImageTooLarge    = errors.New("image too large")
)

type Level string

const (
	LevelNone   Level = "none"
	LevelLight  Level = "light"
	LevelMedium Level = "medium"
	LevelHeavy  Level = "heavy"
)

func ParseLevel(s string) (Level, error) {
	switch l := Level(s); l {
	case LevelNone, LevelLight, LevelMedium, LevelHeavy:
		return l, nil
	case "":
		return LevelMedium, nil
	default:
		return "", fmt.Errorf("unknown enhancement level %q", s)
	}
}

// Operation names accepted by the enhance endpoint.
const (
	OpAutoEnhance      = "auto_enhance"
	OpRemoveBackground = "remove_background"
	OpEnhanceFace      = "enhance_face"
	OpColorize         = "colorize"
)

const (
	// backgroundThreshold is the summed RGB distance under which a pixel counts as background.
	backgroundThreshold = 30
	EditSize            = 1024

	// MaxInputPixels bounds decoded uploads; MaxOutputPixels bounds upscale results.
	MaxInputPixels  = 4096 * 4096
	MaxOutputPixels = 6144 * 6144
)

// Decode reads the header first and refuses images over MaxInputPixels
// before allocating the pixel buffer.
func Decode(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty dimensions", ErrInvalidImage)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxInputPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Enhance sharpens and lifts colour; heavy adds a contrast boost.
// Light is currently a pass-through like none.
func Enhance(img image.Image, level Level) image.Image {
	if level != LevelMedium && level != LevelHeavy {
		return img
	}
	out := imaging.Sharpen(img, 0.5)
	out = unsharpMask(out, 2, 1.5, 3)
	if level == LevelHeavy {
		out = imaging.AdjustContrast(out, 20)
	}
	out = imaging.AdjustSaturation(out, 10)
	return imaging.AdjustBrightness(out, 5)
}

// Upscale resizes by factor with Lanczos and re-sharpens.
func Upscale(img image.Image, factor int) (image.Image, error) {
	if factor < 1 || factor > 4 {
		return nil, fmt.Errorf("%w %d", ErrUnsupportedScale, factor)
	}
	if factor == 1 {
		return img, nil
	}
	b := img.Bounds()
	if int64(b.Dx())*int64(b.Dy())*int64(factor*factor) > MaxOutputPixels {
		return nil, fmt.Errorf("%w: %dx%d at %dx", ErrImageTooLarge, b.Dx(), b.Dy(), factor)
	}
	out := imaging.Resize(img, b.Dx()*factor, b.Dy()*factor, imaging.Lanczos)
	return imaging.Sharpen(out, 0.5), nil
}

// FitFactor returns the largest factor up to want whose output stays within MaxOutputPixels.
func FitFactor(img image.Image, want int) int {
	b := img.Bounds()
	f := want
	for f > 1 && int64(b.Dx())*int64(b.Dy())*int64(f*f) > MaxOutputPixels {
		f--
	}
	return f
}

// FitSquare resizes to size×size RGBA, the shape the edit endpoints expect.
func FitSquare(img image.Image, size int) *image.NRGBA {
	return imaging.Resize(img, size, size, imaging.Lanczos)
}

// RemoveBackground clears every pixel close to the average corner colour.
func RemoveBackground(img image.Image) *image.NRGBA {
	src := imaging.Clone(img)
	b := src.Bounds()
	if b.Empty() {
		return src
	}
	corners := []color.NRGBA{
		src.NRGBAAt(b.Min.X, b.Min.Y),
		src.NRGBAAt(b.Max.X-1, b.Min.Y),
		src.NRGBAAt(b.Min.X, b.Max.Y-1),
		src.NRGBAAt(b.Max.X-1, b.Max.Y-1),
	}
	var r, g, bl int
	for _, c := range corners {
		r += int(c.R)
		g += int(c.G)
		bl += int(c.B)
	}
	bg := [3]int{r / 4, g / 4, bl / 4}

	return imaging.AdjustFunc(src, func(c color.NRGBA) color.NRGBA {
		diff := abs(int(c.R)-bg[0]) + abs(int(c.G)-bg[1]) + abs(int(c.B)-bg[2])
		if diff < backgroundThreshold {
			c.A = 0
		}
		return c
	})
}

func EnhanceFace(img image.Image) *image.NRGBA {
	out := unsharpMask(img, 2, 1.5, 3)
	out = imaging.AdjustSaturation(out, 20)
	out = imaging.AdjustContrast(out, 15)
	return imaging.AdjustBrightness(out, 5)
}

// Colorize applies a sepia tone over the grayscale image.
func Colorize(img image.Image) *image.NRGBA {
	gray := imaging.Grayscale(img)
	return imaging.AdjustFunc(gray, func(c color.NRGBA) color.NRGBA {
		v := float64(c.R)
		return color.NRGBA{
			R: clamp(v),
			G: clamp(v * 0.95),
			B: clamp(v * 0.82),
			A: c.A,
		}
	})
}

// Apply runs one of the named enhance operations.
func Apply(img image.Image, op string) (image.Image, error) {
	switch op {
	case OpAutoEnhance:
		return Enhance(img, LevelHeavy), nil
	case OpRemoveBackground:
		return RemoveBackground(img), nil
	case OpEnhanceFace:
		return EnhanceFace(img), nil
	case OpColorize:
		return Colorize(img), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownOperation, op)
	}
}

// unsharpMask adds amount*(src-blur) wherever the difference exceeds threshold.
func unsharpMask(img image.Image, sigma, amount float64, threshold int) *image.NRGBA {
	src := imaging.Clone(img)
	blur := imaging.Blur(src, sigma)
	out := image.NewNRGBA(src.Bounds())
	for i := 0; i+3 < len(src.Pix); i += 4 {
		for ch := 0; ch < 3; ch++ {
			o := int(src.Pix[i+ch])
			d := o - int(blur.Pix[i+ch])
			if abs(d) < threshold {
				out.Pix[i+ch] = uint8(o)
				continue
			}
			out.Pix[i+ch] = clamp(float64(o) + amount*float64(d))
		}
		out.Pix[i+3] = src.Pix[i+3]
	}
	return out
}

func clamp(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
