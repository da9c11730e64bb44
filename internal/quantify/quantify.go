// Package quantify computes per-object morphometrics from label
// matrices: centroid positions, nucleus and cell areas in physical
// units, and per-marker summary statistics.
package quantify

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"microquant/internal/stack"
	"microquant/pkg/labelmap"
)

// Measurement is one quantified object, keyed by its nucleus label.
type Measurement struct {
	Label int32

	// X, Y is the nucleus centroid in physical units.
	X float64
	Y float64

	// NucleusAreaPx and CellAreaPx are raw pixel counts; NucleusArea
	// and CellArea are in physical units (µm² when the pixel size is
	// known, px² otherwise).
	NucleusAreaPx int
	CellAreaPx    int
	NucleusArea   float64
	CellArea      float64
}

// Summary aggregates one marker's measurements.
type Summary struct {
	Count             int
	MeanNucleusArea   float64
	MedianNucleusArea float64
	StdNucleusArea    float64
	MeanCellArea      float64
	MedianCellArea    float64
	StdCellArea       float64
	MeanAreaRatio     float64 // nucleus area / cell area
}

// MarkerResult holds everything quantified for one marker channel.
type MarkerResult struct {
	Condition string
	Marker    string

	// SharedNuclei lists the nucleus labels overlapped by this
	// marker's cell mask, ascending.
	SharedNuclei []int32

	Objects []Measurement
	Summary Summary

	// LengthUnit is "µm" when physical scale was known, "px" otherwise.
	LengthUnit string
}

// unitScale returns the linear scale factor and unit name.
func unitScale(ps stack.PixelSize) (float64, string) {
	if ps.Known {
		return ps.Microns, "µm"
	}
	return 1.0, "px"
}

// MeasureNuclei quantifies the nucleus channel itself: one object per
// nucleus label, cell area equal to nucleus area.
func MeasureNuclei(nuclei *labelmap.Map, condition, marker string, ps stack.PixelSize) MarkerResult {
	scale, unit := unitScale(ps)

	res := MarkerResult{Condition: condition, Marker: marker, LengthUnit: unit}
	for _, r := range nuclei.Regions() {
		area := float64(r.Area) * scale * scale
		res.SharedNuclei = append(res.SharedNuclei, r.Label)
		res.Objects = append(res.Objects, Measurement{
			Label:         r.Label,
			X:             r.CX * scale,
			Y:             r.CY * scale,
			NucleusAreaPx: r.Area,
			CellAreaPx:    r.Area,
			NucleusArea:   area,
			CellArea:      area,
		})
	}
	res.Summary = summarize(res.Objects)
	return res
}

// MeasureMarker quantifies a marker channel whose cell mask has been
// propagated to nucleus labels. Each object pairs a nucleus with the
// total marker-positive area assigned to its label.
func MeasureMarker(cells, nuclei *labelmap.Map, condition, marker string, ps stack.PixelSize) (MarkerResult, error) {
	if cells.Width != nuclei.Width || cells.Height != nuclei.Height {
		return MarkerResult{}, fmt.Errorf("shape mismatch between cell and nucleus labels")
	}
	scale, unit := unitScale(ps)

	cellArea := make(map[int32]int)
	for _, v := range cells.Pix {
		if v != 0 {
			cellArea[v]++
		}
	}

	nucleusRegions := make(map[int32]labelmap.Region)
	for _, r := range nuclei.Regions() {
		nucleusRegions[r.Label] = r
	}

	shared := make([]int32, 0, len(cellArea))
	for label := range cellArea {
		shared = append(shared, label)
	}
	sort.Slice(shared, func(i, j int) bool { return shared[i] < shared[j] })

	res := MarkerResult{Condition: condition, Marker: marker, SharedNuclei: shared, LengthUnit: unit}
	for _, label := range shared {
		nr, ok := nucleusRegions[label]
		if !ok {
			// Propagation only emits labels present in the nucleus
			// map, so a miss means the inputs are inconsistent.
			return MarkerResult{}, fmt.Errorf("cell label %d has no nucleus region", label)
		}
		res.Objects = append(res.Objects, Measurement{
			Label:         label,
			X:             nr.CX * scale,
			Y:             nr.CY * scale,
			NucleusAreaPx: nr.Area,
			CellAreaPx:    cellArea[label],
			NucleusArea:   float64(nr.Area) * scale * scale,
			CellArea:      float64(cellArea[label]) * scale * scale,
		})
	}
	res.Summary = summarize(res.Objects)
	return res, nil
}

// summarize computes aggregate statistics over a marker's objects.
func summarize(objs []Measurement) Summary {
	s := Summary{Count: len(objs)}
	if len(objs) == 0 {
		return s
	}

	nuc := make([]float64, len(objs))
	cell := make([]float64, len(objs))
	ratio := make([]float64, 0, len(objs))
	for i, o := range objs {
		nuc[i] = o.NucleusArea
		cell[i] = o.CellArea
		if o.CellArea > 0 {
			ratio = append(ratio, o.NucleusArea/o.CellArea)
		}
	}

	s.MeanNucleusArea = stat.Mean(nuc, nil)
	s.MeanCellArea = stat.Mean(cell, nil)
	if len(objs) > 1 {
		s.StdNucleusArea = stat.StdDev(nuc, nil)
		s.StdCellArea = stat.StdDev(cell, nil)
	}
	if len(ratio) > 0 {
		s.MeanAreaRatio = stat.Mean(ratio, nil)
	}

	sort.Float64s(nuc)
	sort.Float64s(cell)
	s.MedianNucleusArea = stat.Quantile(0.5, stat.Empirical, nuc, nil)
	s.MedianCellArea = stat.Quantile(0.5, stat.Empirical, cell, nil)
	return s
}
