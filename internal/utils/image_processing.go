package utils

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/pedigree/internal/mempool"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// LetterboxInfo records how an image was mapped into a square model input so
// that predictions can be projected back into source pixels.
type LetterboxInfo struct {
	Scale  float64
	PadX   int
	PadY   int
	Width  int
	Height int
}

// ToSource maps a point from model input space back to source image space.
func (l LetterboxInfo) ToSource(x, y float64) (float64, float64) {
	if l.Scale == 0 {
		return x, y
	}
	return (x - float64(l.PadX)) / l.Scale, (y - float64(l.PadY)) / l.Scale
}

// Letterbox resizes img to fit into a size x size square, preserving aspect
// ratio, and pads the remainder with the YOLO gray (114).
func Letterbox(img image.Image, size int) (image.Image, LetterboxInfo, error) {
	if img == nil {
		return nil, LetterboxInfo{}, &ImageProcessingError{Operation: "letterbox", Err: errors.New("input image is nil")}
	}
	if size <= 0 {
		return nil, LetterboxInfo{}, &ImageProcessingError{
			Operation: "letterbox",
			Err:       fmt.Errorf("invalid target size: %d", size),
		}
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, LetterboxInfo{}, &ImageProcessingError{Operation: "letterbox", Err: errors.New("invalid image dimensions")}
	}

	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	resized := imaging.Resize(img, nw, nh, imaging.Linear)

	padX := (size - nw) / 2
	padY := (size - nh) / 2
	canvas := imaging.New(size, size, color.NRGBA{R: 114, G: 114, B: 114, A: 255})
	out := imaging.Paste(canvas, resized, image.Pt(padX, padY))

	return out, LetterboxInfo{Scale: scale, PadX: padX, PadY: padY, Width: w, Height: h}, nil
}

// NormalizeImage converts an image to an NCHW float32 tensor with RGB
// channels scaled to [0, 1]. The tensor comes from mempool; callers may hand
// it back with mempool.PutFloat32 once inference is done.
func NormalizeImage(img image.Image) ([]float32, int, int, error) {
	if img == nil {
		return nil, 0, 0, &ImageProcessingError{Operation: "normalize", Err: errors.New("input image is nil")}
	}

	nrgba := imaging.Clone(img)
	bounds := nrgba.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, 0, 0, &ImageProcessingError{Operation: "normalize", Err: errors.New("invalid image dimensions")}
	}

	plane := width * height
	tensor := mempool.GetFloat32(3 * plane)
	for y := range height {
		row := nrgba.Pix[y*nrgba.Stride:]
		for x := range width {
			i := x * 4
			idx := y*width + x
			tensor[idx] = float32(row[i]) / 255.0
			tensor[plane+idx] = float32(row[i+1]) / 255.0
			tensor[2*plane+idx] = float32(row[i+2]) / 255.0
		}
	}

	return tensor, width, height, nil
}
