// Package stain maps imaging channels to biological conditions and
// holds per-channel display calibration, persisted as a setup CSV so
// calibration survives across runs.
package stain

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// NucleiCondition is the condition name identifying the nucleus
// channel. Matching is case-insensitive.
const NucleiCondition = "NUCLEI"

// Stain describes one channel's biological assignment and display
// calibration.
type Stain struct {
	Condition string  // biological condition, e.g. "NUCLEI"
	Marker    string  // protein or dye name, e.g. "DAPI"
	Color     string  // display color name
	Min       float64 // display range lower bound (0..255)
	Max       float64 // display range upper bound (0..255)
	Gamma     float64 // display gamma
}

// Calibrated reports whether a usable display range has been set.
func (s *Stain) Calibrated() bool {
	return s.Max > s.Min && s.Gamma > 0
}

// Registry maps channel index to stain record. Order follows channel
// index.
type Registry struct {
	stains []*Stain
}

// NewRegistry creates a registry with one default record per channel.
func NewRegistry(conditions, markers, colors []string) (*Registry, error) {
	if len(conditions) != len(markers) || len(conditions) != len(colors) {
		return nil, fmt.Errorf("conditions/markers/colors length mismatch: %d/%d/%d",
			len(conditions), len(markers), len(colors))
	}
	r := &Registry{}
	for i := range conditions {
		r.stains = append(r.stains, &Stain{
			Condition: conditions[i],
			Marker:    markers[i],
			Color:     colors[i],
			Min:       0,
			Max:       255,
			Gamma:     1.0,
		})
	}
	return r, nil
}

// Len returns the number of channels.
func (r *Registry) Len() int {
	return len(r.stains)
}

// Get returns the stain for a channel index.
func (r *Registry) Get(channel int) (*Stain, error) {
	if channel < 0 || channel >= len(r.stains) {
		return nil, fmt.Errorf("channel %d out of range [0, %d)", channel, len(r.stains))
	}
	return r.stains[channel], nil
}

// All returns the stains in channel order.
func (r *Registry) All() []*Stain {
	return r.stains
}

// NucleusChannel returns the index of the channel whose condition is
// NUCLEI (case-insensitive), or -1 when absent.
func (r *Registry) NucleusChannel() int {
	for i, s := range r.stains {
		if strings.EqualFold(s.Condition, NucleiCondition) {
			return i
		}
	}
	return -1
}

// MarkerChannels returns the indices of all non-nucleus channels.
func (r *Registry) MarkerChannels() []int {
	var out []int
	nuc := r.NucleusChannel()
	for i := range r.stains {
		if i != nuc {
			out = append(out, i)
		}
	}
	return out
}

// csvHeader is the setup file column layout.
var csvHeader = []string{"condition", "marker", "color", "min", "max", "gamma"}

// Save writes the registry as a setup CSV.
func (r *Registry) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create setup file %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write setup header: %w", err)
	}
	for _, s := range r.stains {
		rec := []string{
			s.Condition,
			s.Marker,
			s.Color,
			strconv.FormatFloat(s.Min, 'g', -1, 64),
			strconv.FormatFloat(s.Max, 'g', -1, 64),
			strconv.FormatFloat(s.Gamma, 'g', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("failed to write setup row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// LoadRegistry builds a registry entirely from a setup CSV, one row per
// channel in file order. Used by the batch tools, where no interactive
// staining assignment happens.
func LoadRegistry(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open setup file %s: %w", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse setup file %s: %w", path, err)
	}
	if len(records) > 0 && isHeader(records[0]) {
		records = records[1:]
	}

	r := &Registry{}
	for i, rec := range records {
		if len(rec) < 6 {
			return nil, fmt.Errorf("setup file %s row %d: want 6 columns, got %d", path, i+1, len(rec))
		}
		min, err1 := strconv.ParseFloat(rec[3], 64)
		max, err2 := strconv.ParseFloat(rec[4], 64)
		gamma, err3 := strconv.ParseFloat(rec[5], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, fmt.Errorf("setup file %s row %d: bad calibration values", path, i+1)
		}
		r.stains = append(r.stains, &Stain{
			Condition: rec[0],
			Marker:    rec[1],
			Color:     rec[2],
			Min:       min,
			Max:       max,
			Gamma:     gamma,
		})
	}
	if len(r.stains) == 0 {
		return nil, fmt.Errorf("setup file %s has no channel rows", path)
	}
	return r, nil
}

// ApplySetup merges calibration values from a setup CSV into the
// registry, matching rows by condition, marker and color. Channels
// without a matching row are left uncalibrated; a missing file is not
// an error. Returns the number of channels that received calibration.
func (r *Registry) ApplySetup(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open setup file %s: %w", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return 0, fmt.Errorf("failed to parse setup file %s: %w", path, err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	if isHeader(records[0]) {
		records = records[1:]
	}

	applied := 0
	for _, rec := range records {
		if len(rec) < 6 {
			continue
		}
		for _, s := range r.stains {
			if !strings.EqualFold(s.Condition, rec[0]) ||
				!strings.EqualFold(s.Marker, rec[1]) ||
				!strings.EqualFold(s.Color, rec[2]) {
				continue
			}
			min, err1 := strconv.ParseFloat(rec[3], 64)
			max, err2 := strconv.ParseFloat(rec[4], 64)
			gamma, err3 := strconv.ParseFloat(rec[5], 64)
			if err1 != nil || err2 != nil || err3 != nil {
				continue
			}
			s.Min, s.Max, s.Gamma = min, max, gamma
			applied++
			break
		}
	}
	return applied, nil
}

func isHeader(rec []string) bool {
	return len(rec) > 0 && strings.EqualFold(rec[0], csvHeader[0])
}
