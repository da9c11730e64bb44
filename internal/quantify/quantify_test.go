package quantify

import (
	"math"
	"testing"

	"microquant/internal/stack"
	"microquant/pkg/labelmap"
)

func mapFrom(t *testing.T, w, h int, pix []int32) *labelmap.Map {
	t.Helper()
	m, err := labelmap.FromPix(pix, w, h)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

var halfMicron = stack.PixelSize{Microns: 0.5, Known: true, Source: "imagej"}

func TestMeasureNucleiPhysicalUnits(t *testing.T) {
	nuclei := mapFrom(t, 4, 2, []int32{
		1, 1, 0, 2,
		1, 1, 0, 2,
	})

	res := MeasureNuclei(nuclei, "NUCLEI", "DAPI", halfMicron)
	if len(res.Objects) != 2 {
		t.Fatalf("expected 2 nuclei, got %d", len(res.Objects))
	}
	if res.LengthUnit != "µm" {
		t.Errorf("unit should be µm, got %q", res.LengthUnit)
	}

	o := res.Objects[0]
	if o.Label != 1 || o.NucleusAreaPx != 4 {
		t.Errorf("object 1: label %d area %dpx", o.Label, o.NucleusAreaPx)
	}
	// 4 px at 0.5 µm/px = 1.0 µm².
	if math.Abs(o.NucleusArea-1.0) > 1e-9 {
		t.Errorf("object 1 area: want 1.0 µm², got %f", o.NucleusArea)
	}
	// Centroid (0.5, 0.5) px at 0.5 µm/px.
	if math.Abs(o.X-0.25) > 1e-9 || math.Abs(o.Y-0.25) > 1e-9 {
		t.Errorf("object 1 centroid: (%f, %f)", o.X, o.Y)
	}
}

func TestMeasureNucleiPixelFallback(t *testing.T) {
	nuclei := mapFrom(t, 2, 1, []int32{1, 1})
	res := MeasureNuclei(nuclei, "NUCLEI", "DAPI", stack.PixelSize{})
	if res.LengthUnit != "px" {
		t.Errorf("unknown scale should fall back to px, got %q", res.LengthUnit)
	}
	if res.Objects[0].NucleusArea != 2 {
		t.Errorf("area in px²: want 2, got %f", res.Objects[0].NucleusArea)
	}
}

func TestMeasureMarker(t *testing.T) {
	nuclei := mapFrom(t, 6, 2, []int32{
		1, 1, 0, 0, 2, 0,
		1, 1, 0, 0, 2, 0,
	})
	// Marker cells: label-1 cell covers 6 px, nucleus 2 untouched.
	cells := mapFrom(t, 6, 2, []int32{
		1, 1, 1, 0, 0, 0,
		1, 1, 1, 0, 0, 0,
	})

	res, err := MeasureMarker(cells, nuclei, "VIRUS", "NP", halfMicron)
	if err != nil {
		t.Fatalf("MeasureMarker failed: %v", err)
	}

	if len(res.SharedNuclei) != 1 || res.SharedNuclei[0] != 1 {
		t.Fatalf("shared nuclei: %v", res.SharedNuclei)
	}
	o := res.Objects[0]
	if o.CellAreaPx != 6 || o.NucleusAreaPx != 4 {
		t.Errorf("areas: cell %dpx nucleus %dpx", o.CellAreaPx, o.NucleusAreaPx)
	}
	if math.Abs(o.CellArea-1.5) > 1e-9 {
		t.Errorf("cell area: want 1.5 µm², got %f", o.CellArea)
	}
	if math.Abs(res.Summary.MeanAreaRatio-4.0/6.0) > 1e-9 {
		t.Errorf("area ratio: want %f, got %f", 4.0/6.0, res.Summary.MeanAreaRatio)
	}
}

func TestMeasureMarkerInconsistentLabels(t *testing.T) {
	nuclei := mapFrom(t, 2, 1, []int32{0, 0})
	cells := mapFrom(t, 2, 1, []int32{3, 3})
	if _, err := MeasureMarker(cells, nuclei, "VIRUS", "NP", halfMicron); err == nil {
		t.Fatal("expected error for cell label without nucleus region")
	}
}

func TestMeasureMarkerShapeMismatch(t *testing.T) {
	a := labelmap.New(2, 2)
	b := labelmap.New(3, 3)
	if _, err := MeasureMarker(a, b, "X", "Y", halfMicron); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestSummaryStatistics(t *testing.T) {
	nuclei := mapFrom(t, 8, 1, []int32{1, 0, 2, 2, 0, 3, 3, 3})
	res := MeasureNuclei(nuclei, "NUCLEI", "DAPI", stack.PixelSize{})

	s := res.Summary
	if s.Count != 3 {
		t.Fatalf("count: want 3, got %d", s.Count)
	}
	if math.Abs(s.MeanNucleusArea-2.0) > 1e-9 {
		t.Errorf("mean area: want 2, got %f", s.MeanNucleusArea)
	}
	if s.MedianNucleusArea != 2.0 {
		t.Errorf("median area: want 2, got %f", s.MedianNucleusArea)
	}
	if s.StdNucleusArea <= 0 {
		t.Errorf("std should be positive, got %f", s.StdNucleusArea)
	}
}

func TestSummaryEmpty(t *testing.T) {
	res := MeasureNuclei(labelmap.New(4, 4), "NUCLEI", "DAPI", stack.PixelSize{})
	if res.Summary.Count != 0 {
		t.Errorf("empty map should summarize to zero count, got %d", res.Summary.Count)
	}
}
