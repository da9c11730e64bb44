// Package report writes the quantification results as a multi-sheet
// XLSX workbook: staining parameters, one sheet of per-object rows per
// marker, and aggregate summary statistics.
package report

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"microquant/internal/quantify"
	"microquant/internal/stain"
	"microquant/internal/stack"
)

const (
	sheetStaining = "Staining"
	sheetSummary  = "Summary"
)

// Report collects everything that goes into one workbook.
type Report struct {
	ImagePath string
	PixelSize stack.PixelSize
	Stains    []*stain.Stain
	Markers   []quantify.MarkerResult
}

// Write creates the workbook at path.
func Write(path string, r *Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := writeStaining(f, r); err != nil {
		return err
	}
	used := map[string]bool{sheetStaining: true, sheetSummary: true}
	for _, m := range r.Markers {
		if err := writeMarker(f, uniqueSheetName(used, markerSheetName(m)), m); err != nil {
			return err
		}
	}
	if err := writeSummary(f, r.Markers); err != nil {
		return err
	}

	// Replace the default sheet with the staining sheet.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to drop default sheet: %w", err)
	}
	idx, err := f.GetSheetIndex(sheetStaining)
	if err != nil {
		return fmt.Errorf("failed to locate staining sheet: %w", err)
	}
	f.SetActiveSheet(idx)

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save report %s: %w", path, err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func writeStaining(f *excelize.File, r *Report) error {
	if _, err := f.NewSheet(sheetStaining); err != nil {
		return fmt.Errorf("failed to create staining sheet: %w", err)
	}

	scale := "unknown"
	if r.PixelSize.Known {
		scale = fmt.Sprintf("%.4f µm/px (%s)", r.PixelSize.Microns, r.PixelSize.Source)
	}
	rows := [][]interface{}{
		{"image", r.ImagePath},
		{"pixel size", scale},
		{},
		{"channel", "condition", "marker", "color", "min", "max", "gamma"},
	}
	for i, row := range rows {
		if err := setRow(f, sheetStaining, i+1, row); err != nil {
			return err
		}
	}
	for i, s := range r.Stains {
		row := []interface{}{i, s.Condition, s.Marker, s.Color, s.Min, s.Max, s.Gamma}
		if err := setRow(f, sheetStaining, len(rows)+1+i, row); err != nil {
			return err
		}
	}
	return nil
}

// markerSheetName builds a legal sheet name for a marker.
func markerSheetName(m quantify.MarkerResult) string {
	name := m.Condition + "-" + m.Marker
	// Excel forbids []:*?/\ and caps names at 31 chars.
	for _, c := range `[]:*?/\` {
		name = strings.ReplaceAll(name, string(c), "_")
	}
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}

// uniqueSheetName suffixes a counter when the name is already taken,
// since NewSheet on an existing name would reuse it and rows from two
// markers would overwrite each other. Keeps the 31-char cap.
func uniqueSheetName(used map[string]bool, base string) string {
	name := base
	for n := 2; used[name]; n++ {
		suffix := fmt.Sprintf(" %d", n)
		trimmed := base
		if len(trimmed)+len(suffix) > 31 {
			trimmed = trimmed[:31-len(suffix)]
		}
		name = trimmed + suffix
	}
	used[name] = true
	return name
}

func writeMarker(f *excelize.File, sheet string, m quantify.MarkerResult) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
	}

	unit := m.LengthUnit
	header := []interface{}{
		"nucleus label",
		"x (" + unit + ")",
		"y (" + unit + ")",
		"nucleus area (" + unit + "²)",
		"cell area (" + unit + "²)",
		"nucleus area (px)",
		"cell area (px)",
	}
	if err := setRow(f, sheet, 1, header); err != nil {
		return err
	}
	for i, o := range m.Objects {
		row := []interface{}{
			o.Label, o.X, o.Y, o.NucleusArea, o.CellArea, o.NucleusAreaPx, o.CellAreaPx,
		}
		if err := setRow(f, sheet, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func writeSummary(f *excelize.File, markers []quantify.MarkerResult) error {
	if _, err := f.NewSheet(sheetSummary); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	header := []interface{}{
		"condition", "marker", "count", "shared nuclei",
		"mean nucleus area", "median nucleus area", "std nucleus area",
		"mean cell area", "median cell area", "std cell area",
		"mean nucleus/cell ratio",
	}
	if err := setRow(f, sheetSummary, 1, header); err != nil {
		return err
	}
	for i, m := range markers {
		s := m.Summary
		row := []interface{}{
			m.Condition, m.Marker, s.Count, len(m.SharedNuclei),
			s.MeanNucleusArea, s.MedianNucleusArea, s.StdNucleusArea,
			s.MeanCellArea, s.MedianCellArea, s.StdCellArea,
			s.MeanAreaRatio,
		}
		if err := setRow(f, sheetSummary, i+2, row); err != nil {
			return err
		}
	}
	return nil
}
