// Package segment turns preprocessed fluorescence channels into
// labeled object instances: Otsu binarization with small-island
// removal, watershed separation of touching nuclei, an optional ONNX
// model backend, and overlap-based propagation of nucleus labels to
// marker channels.
package segment

import (
	"fmt"

	"gocv.io/x/gocv"

	"microquant/pkg/labelmap"
)

// Binarize applies Otsu thresholding to an 8-bit single-channel Mat.
// Returns the binary mask and the threshold Otsu selected.
func Binarize(src gocv.Mat) (gocv.Mat, float32, error) {
	if src.Empty() {
		return gocv.NewMat(), 0, fmt.Errorf("input image is empty")
	}
	if src.Type() != gocv.MatTypeCV8UC1 {
		return gocv.NewMat(), 0, fmt.Errorf("expected 8-bit single channel, got type %d", src.Type())
	}
	mask := gocv.NewMat()
	thresh := gocv.Threshold(src, &mask, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
	return mask, thresh, nil
}

// RemoveSmallIslands zeroes every connected component of a binary mask
// whose pixel count is below minArea. Returns the cleaned mask and the
// number of components removed.
func RemoveSmallIslands(mask gocv.Mat, minArea int) (gocv.Mat, int, error) {
	if mask.Empty() {
		return gocv.NewMat(), 0, fmt.Errorf("input mask is empty")
	}

	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	n := gocv.ConnectedComponentsWithStats(mask, &labels, &stats, &centroids)

	// Component 0 is the background; stats column 4 is the pixel count.
	keep := make([]bool, n)
	removed := 0
	for i := 1; i < n; i++ {
		if int(stats.GetIntAt(i, 4)) >= minArea {
			keep[i] = true
		} else {
			removed++
		}
	}

	labelData, err := labels.DataPtrInt32()
	if err != nil {
		return gocv.NewMat(), 0, fmt.Errorf("failed to access label buffer: %w", err)
	}
	out := make([]byte, len(labelData))
	for i, l := range labelData {
		if l > 0 && keep[l] {
			out[i] = 255
		}
	}

	cleaned, err := gocv.NewMatFromBytes(mask.Rows(), mask.Cols(), gocv.MatTypeCV8UC1, out)
	if err != nil {
		return gocv.NewMat(), 0, fmt.Errorf("failed to build cleaned mask: %w", err)
	}
	return cleaned, removed, nil
}

// maskBytes copies a binary Mat into a plain byte slice.
func maskBytes(mask gocv.Mat) ([]uint8, int, int, error) {
	if mask.Type() != gocv.MatTypeCV8UC1 {
		return nil, 0, 0, fmt.Errorf("expected 8-bit single channel mask, got type %d", mask.Type())
	}
	data, err := mask.DataPtrUint8()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to access mask buffer: %w", err)
	}
	out := make([]uint8, len(data))
	copy(out, data)
	return out, mask.Cols(), mask.Rows(), nil
}

// PropagateLabels assigns nucleus labels to a marker channel's binary
// mask: each connected component of the mask takes the first nucleus
// label found under it in row-major order; components with no nucleus
// stay unlabeled.
func PropagateLabels(markerMask gocv.Mat, nuclei *labelmap.Map) (*labelmap.Map, error) {
	bytes, w, h, err := maskBytes(markerMask)
	if err != nil {
		return nil, err
	}
	comps, err := labelmap.LabelMask(bytes, w, h)
	if err != nil {
		return nil, err
	}
	return labelmap.PropagateByOverlap(comps, nuclei)
}
