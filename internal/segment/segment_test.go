package segment

import (
	"image"
	"image/color"
	"testing"

	"gocv.io/x/gocv"

	"microquant/pkg/labelmap"
)

// maskMat builds an 8-bit mask Mat from a byte grid.
func maskMat(t *testing.T, w, h int, pix []byte) gocv.Mat {
	t.Helper()
	mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC1, pix)
	if err != nil {
		t.Fatalf("failed to build mat: %v", err)
	}
	return mat
}

func TestBinarizeSeparatesBimodalImage(t *testing.T) {
	// Left half dark, right half bright.
	w, h := 16, 8
	pix := make([]byte, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x >= w/2 {
				pix[y*w+x] = 200
			} else {
				pix[y*w+x] = 20
			}
		}
	}
	src := maskMat(t, w, h, pix)
	defer src.Close()

	mask, thresh, err := Binarize(src)
	if err != nil {
		t.Fatalf("Binarize failed: %v", err)
	}
	defer mask.Close()

	if thresh <= 20 || thresh >= 200 {
		t.Errorf("Otsu threshold %f outside the modes", thresh)
	}
	if v := mask.GetUCharAt(0, w-1); v != 255 {
		t.Errorf("bright side should be foreground, got %d", v)
	}
	if v := mask.GetUCharAt(0, 0); v != 0 {
		t.Errorf("dark side should be background, got %d", v)
	}
}

func TestBinarizeRejectsEmptyAndColor(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()
	if _, _, err := Binarize(empty); err == nil {
		t.Error("expected error for empty input")
	}

	colorMat := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
	defer colorMat.Close()
	if _, _, err := Binarize(colorMat); err == nil {
		t.Error("expected error for 3-channel input")
	}
}

func TestRemoveSmallIslands(t *testing.T) {
	w, h := 8, 4
	pix := make([]byte, w*h)
	// 2x2 block (area 4) and two lone pixels (area 1 each).
	for _, p := range [][2]int{{1, 1}, {2, 1}, {1, 2}, {2, 2}} {
		pix[p[1]*w+p[0]] = 255
	}
	pix[0*w+6] = 255
	pix[3*w+6] = 255

	mask := maskMat(t, w, h, pix)
	defer mask.Close()

	cleaned, removed, err := RemoveSmallIslands(mask, 2)
	if err != nil {
		t.Fatalf("RemoveSmallIslands failed: %v", err)
	}
	defer cleaned.Close()

	if removed != 2 {
		t.Errorf("expected 2 removed components, got %d", removed)
	}
	if cleaned.GetUCharAt(1, 1) != 255 {
		t.Error("large component should survive")
	}
	if cleaned.GetUCharAt(0, 6) != 0 || cleaned.GetUCharAt(3, 6) != 0 {
		t.Error("single-pixel islands should be removed")
	}
}

// TestNucleiSplitsTouchingBlobs draws two overlapping disks and checks
// the watershed separates them into two labels.
func TestNucleiSplitsTouchingBlobs(t *testing.T) {
	w, h := 64, 32
	mask := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC1)
	defer mask.Close()
	white := color.RGBA{255, 255, 255, 0}
	gocv.Circle(&mask, image.Pt(22, 16), 10, white, -1)
	gocv.Circle(&mask, image.Pt(40, 16), 10, white, -1)

	lm, err := Nuclei(mask, WatershedParams{PeakMinDistance: 5, PeakMinHeight: 2})
	if err != nil {
		t.Fatalf("Nuclei failed: %v", err)
	}
	if n := lm.MaxLabel(); n != 2 {
		t.Errorf("expected 2 nuclei, got %d", n)
	}
	if lm.At(22, 16) == lm.At(40, 16) {
		t.Error("disk centers should carry different labels")
	}
	if lm.At(22, 16) == 0 || lm.At(40, 16) == 0 {
		t.Error("disk centers must be labeled")
	}
	// Ridge pixels between the basins adopt a neighbor, so every
	// masked pixel stays labeled.
	if got, want := lm.ForegroundCount(), gocv.CountNonZero(mask); got != want {
		t.Errorf("foreground pixels: want %d, got %d", want, got)
	}
}

// TestDistancePeaksSuppressesPlateaus builds a flat-topped distance
// surface spanning several rows and checks it seeds only once.
func TestDistancePeaksSuppressesPlateaus(t *testing.T) {
	dist := gocv.NewMatWithSize(8, 16, gocv.MatTypeCV32FC1)
	defer dist.Close()
	// 2x2 plateau of equal maxima, plus a distant single peak.
	for _, p := range [][2]int{{2, 2}, {3, 2}, {2, 3}, {3, 3}} {
		dist.SetFloatAt(p[1], p[0], 5)
	}
	dist.SetFloatAt(4, 12, 5)

	peaks := distancePeaks(dist, WatershedParams{PeakMinDistance: 3, PeakMinHeight: 2})
	if len(peaks) != 2 {
		t.Fatalf("expected 1 seed per maximum region, got %d: %v", len(peaks), peaks)
	}
	dx := peaks[1].X - peaks[0].X
	if dx < 0 {
		dx = -dx
	}
	dy := peaks[1].Y - peaks[0].Y
	if dy < 0 {
		dy = -dy
	}
	if dx <= 3 && dy <= 3 {
		t.Errorf("seeds too close: %v", peaks)
	}
}

func TestNucleiEmptyMaskYieldsNoLabels(t *testing.T) {
	mask := gocv.NewMatWithSize(16, 16, gocv.MatTypeCV8UC1)
	defer mask.Close()

	lm, err := Nuclei(mask, WatershedParams{PeakMinDistance: 3, PeakMinHeight: 1})
	if err != nil {
		t.Fatalf("Nuclei failed: %v", err)
	}
	if lm.MaxLabel() != 0 {
		t.Errorf("empty mask should produce no labels, got %d", lm.MaxLabel())
	}
}

func TestPropagateLabels(t *testing.T) {
	w, h := 8, 4
	pix := make([]byte, w*h)
	for x := 0; x < 4; x++ {
		pix[1*w+x] = 255
	}
	marker := maskMat(t, w, h, pix)
	defer marker.Close()

	nuclei := labelmap.New(w, h)
	nuclei.Set(2, 1, 7)

	out, err := PropagateLabels(marker, nuclei)
	if err != nil {
		t.Fatalf("PropagateLabels failed: %v", err)
	}
	if out.At(0, 1) != 7 || out.At(3, 1) != 7 {
		t.Errorf("whole component should take nucleus label 7: %v", out.Pix)
	}
}
