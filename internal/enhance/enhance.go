// Package enhance applies the per-channel preprocessing chain:
// median filter, Gaussian filter, then display-range windowing with
// gamma correction.
package enhance

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// Params controls the denoising chain. Zero kernel sizes disable the
// corresponding filter.
type Params struct {
	MedianKernel   int
	GaussianKernel int
	GaussianSigma  float64
}

// Apply runs the full chain on an 8-bit single-channel Mat and returns
// a new Mat. min/max are the display window (0..255) and gamma the
// exponent chosen during calibration.
func Apply(src gocv.Mat, p Params, min, max, gamma float64) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.NewMat(), fmt.Errorf("input image is empty")
	}
	if src.Type() != gocv.MatTypeCV8UC1 {
		return gocv.NewMat(), fmt.Errorf("expected 8-bit single channel, got type %d", src.Type())
	}
	if p.MedianKernel < 0 || (p.MedianKernel > 0 && p.MedianKernel%2 == 0) {
		return gocv.NewMat(), fmt.Errorf("median kernel must be odd or zero, got %d", p.MedianKernel)
	}
	if p.GaussianKernel < 0 || (p.GaussianKernel > 0 && p.GaussianKernel%2 == 0) {
		return gocv.NewMat(), fmt.Errorf("gaussian kernel must be odd or zero, got %d", p.GaussianKernel)
	}

	work := src.Clone()

	if p.MedianKernel > 1 {
		filtered := gocv.NewMat()
		gocv.MedianBlur(work, &filtered, p.MedianKernel)
		work.Close()
		work = filtered
	}

	if p.GaussianKernel > 1 {
		filtered := gocv.NewMat()
		gocv.GaussianBlur(work, &filtered,
			image.Pt(p.GaussianKernel, p.GaussianKernel),
			p.GaussianSigma, p.GaussianSigma, gocv.BorderDefault)
		work.Close()
		work = filtered
	}

	out, err := applyWindow(work, min, max, gamma)
	work.Close()
	return out, err
}

// applyWindow maps [min, max] to [0, 255] with gamma correction via a
// 256-entry lookup table.
func applyWindow(src gocv.Mat, min, max, gamma float64) (gocv.Mat, error) {
	lutBytes, err := WindowLUT(min, max, gamma)
	if err != nil {
		return gocv.NewMat(), err
	}
	lut, err := gocv.NewMatFromBytes(1, 256, gocv.MatTypeCV8UC1, lutBytes)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to build LUT: %w", err)
	}
	defer lut.Close()

	out := gocv.NewMat()
	gocv.LUT(src, lut, &out)
	return out, nil
}

// WindowLUT builds the 256-entry contrast/gamma lookup table. Values
// below min clamp to 0, above max to 255; in between the normalized
// value is raised to gamma.
func WindowLUT(min, max, gamma float64) ([]byte, error) {
	if max <= min {
		return nil, fmt.Errorf("display range [%g, %g] is empty", min, max)
	}
	if gamma <= 0 {
		return nil, fmt.Errorf("gamma must be positive, got %g", gamma)
	}
	lut := make([]byte, 256)
	for i := range lut {
		v := (float64(i) - min) / (max - min)
		if v <= 0 {
			lut[i] = 0
			continue
		}
		if v >= 1 {
			lut[i] = 255
			continue
		}
		lut[i] = uint8(math.Round(math.Pow(v, gamma) * 255.0))
	}
	return lut, nil
}
