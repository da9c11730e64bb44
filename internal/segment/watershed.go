package segment

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"microquant/pkg/labelmap"
)

// WatershedParams tunes seed detection on the distance transform.
type WatershedParams struct {
	// PeakMinDistance is the minimum separation between seeds, in
	// pixels. It sets the local-maximum neighborhood size.
	PeakMinDistance int

	// PeakMinHeight rejects peaks whose distance value is below this,
	// filtering slivers that would oversegment.
	PeakMinHeight float64
}

// Nuclei separates touching nuclei in a binary mask into labeled
// instances. The Euclidean distance transform is computed, its local
// maxima become watershed seeds, and the watershed floods the inverted
// distance surface constrained to the mask. Basins adjoin across the
// flooded ridges, so the output is only compacted to [1..N], never
// merged by adjacency: that would fuse exactly the touching instances
// the watershed separated.
func Nuclei(mask gocv.Mat, p WatershedParams) (*labelmap.Map, error) {
	if mask.Empty() {
		return nil, fmt.Errorf("input mask is empty")
	}
	if p.PeakMinDistance < 1 {
		return nil, fmt.Errorf("peak min distance must be at least 1, got %d", p.PeakMinDistance)
	}

	dist := gocv.NewMat()
	defer dist.Close()
	distLabels := gocv.NewMat()
	defer distLabels.Close()
	gocv.DistanceTransform(mask, &dist, &distLabels, gocv.DistL2, gocv.DistanceMask5, gocv.DistanceLabelCComp)

	seeds := distancePeaks(dist, p)
	if len(seeds) == 0 {
		// Nothing to split: plain connected components.
		return componentLabels(mask)
	}

	lm, err := floodFromSeeds(mask, dist, seeds)
	if err != nil {
		return nil, err
	}
	lm.Relabel()
	return lm, nil
}

// distancePeaks finds local maxima of the distance transform. A pixel
// is a peak when its value equals the maximum of its neighborhood
// (computed by dilation) and clears the height floor.
func distancePeaks(dist gocv.Mat, p WatershedParams) []image.Point {
	kernelSize := 2*p.PeakMinDistance + 1
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(kernelSize, kernelSize))
	defer kernel.Close()

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(dist, &dilated, kernel)

	minHeight := float32(p.PeakMinHeight)
	rows, cols := dist.Rows(), dist.Cols()

	var peaks []image.Point
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			val := dist.GetFloatAt(y, x)
			if val < minHeight {
				continue
			}
			if val < dilated.GetFloatAt(y, x) {
				continue
			}
			// Equal-valued plateaus dilate to themselves, so several
			// pixels of one nucleus can qualify. Keep the first and
			// suppress anything within the seed separation distance.
			if nearSeed(peaks, x, y, p.PeakMinDistance) {
				continue
			}
			peaks = append(peaks, image.Pt(x, y))
		}
	}
	return peaks
}

// nearSeed reports whether (x, y) lies within Chebyshev distance d of
// an accepted seed.
func nearSeed(seeds []image.Point, x, y, d int) bool {
	for _, s := range seeds {
		dx, dy := x-s.X, y-s.Y
		if dx < 0 {
			dx = -dx
		}
		if dy < 0 {
			dy = -dy
		}
		if dx <= d && dy <= d {
			return true
		}
	}
	return false
}

// floodFromSeeds runs the OpenCV watershed over the inverted distance
// surface with one marker per seed plus a background marker, then maps
// the flooded regions back onto the mask.
func floodFromSeeds(mask, dist gocv.Mat, seeds []image.Point) (*labelmap.Map, error) {
	rows, cols := mask.Rows(), mask.Cols()

	// Watershed wants an 8-bit 3-channel topography image. Use the
	// inverted normalized distance so basins sit at nucleus centers.
	norm := gocv.NewMat()
	defer norm.Close()
	gocv.Normalize(dist, &norm, 0, 255, gocv.NormMinMax)
	topo8 := gocv.NewMat()
	defer topo8.Close()
	norm.ConvertTo(&topo8, gocv.MatTypeCV8UC1)
	inverted := gocv.NewMat()
	defer inverted.Close()
	gocv.BitwiseNot(topo8, &inverted)
	topo := gocv.NewMat()
	defer topo.Close()
	gocv.CvtColor(inverted, &topo, gocv.ColorGrayToBGR)

	markers := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32SC1)
	defer markers.Close()

	markerData, err := markers.DataPtrInt32()
	if err != nil {
		return nil, fmt.Errorf("failed to access marker buffer: %w", err)
	}
	maskData, err := mask.DataPtrUint8()
	if err != nil {
		return nil, fmt.Errorf("failed to access mask buffer: %w", err)
	}

	// Marker 1 is background; nucleus seeds start at 2.
	for i, v := range maskData {
		if v == 0 {
			markerData[i] = 1
		}
	}
	for i, pt := range seeds {
		markerData[pt.Y*cols+pt.X] = int32(i + 2)
	}

	gocv.Watershed(topo, &markers)

	lm := labelmap.New(cols, rows)
	for i, v := range maskData {
		if v == 0 {
			continue
		}
		switch m := markerData[i]; {
		case m >= 2:
			lm.Pix[i] = m - 1
		case m == -1:
			// Watershed ridge inside the mask: adopt a neighboring
			// region so the foreground pixel count is preserved.
			lm.Pix[i] = neighborLabel(markerData, maskData, i, cols, rows)
		}
	}
	return lm, nil
}

// neighborLabel returns the first adjacent nucleus label of a ridge
// pixel, zero when none borders it.
func neighborLabel(markers []int32, mask []uint8, i, cols, rows int) int32 {
	x, y := i%cols, i/cols
	for _, d := range [8][2]int{{-1, -1}, {0, -1}, {1, -1}, {-1, 0}, {1, 0}, {-1, 1}, {0, 1}, {1, 1}} {
		nx, ny := x+d[0], y+d[1]
		if nx < 0 || ny < 0 || nx >= cols || ny >= rows {
			continue
		}
		n := ny*cols + nx
		if mask[n] != 0 && markers[n] >= 2 {
			return markers[n] - 1
		}
	}
	return 0
}

// componentLabels labels a binary mask by plain 8-connected components.
func componentLabels(mask gocv.Mat) (*labelmap.Map, error) {
	bytes, w, h, err := maskBytes(mask)
	if err != nil {
		return nil, err
	}
	return labelmap.LabelMask(bytes, w, h)
}
