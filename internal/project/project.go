// Package project provides analysis session file handling and
// persistence.
package project

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// File represents a microquant session file (.mqproj). It ties an
// image to its staining setup, parameter config and last run state so
// an analysis can be reopened and rerun.
type File struct {
	Version  int       `json:"version"`
	Name     string    `json:"name"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`

	// Paths (relative to the session file)
	ImagePath  string `json:"image,omitempty"`
	SetupPath  string `json:"setup,omitempty"`
	ConfigPath string `json:"config,omitempty"`
	ReportPath string `json:"report,omitempty"`

	// Pixel scale as resolved during the last run
	PixelSizeMicrons float64 `json:"pixel_size_um,omitempty"`
	PixelSizeSource  string  `json:"pixel_size_source,omitempty"`

	// Run state
	LastRun      time.Time `json:"last_run,omitempty"`
	NucleusCount int       `json:"nucleus_count,omitempty"`

	// User settings
	Settings Settings `json:"settings,omitempty"`
}

// Ext is the session file extension.
const Ext = ".mqproj"

// Settings holds user preferences for the session.
type Settings struct {
	SegmentationMethod string `json:"segmentation_method,omitempty"`
	WriteOverlays      bool   `json:"write_overlays"`
}

// New creates a new session file with default settings.
func New(name string) *File {
	now := time.Now()
	return &File{
		Version:  1,
		Name:     name,
		Created:  now,
		Modified: now,
		Settings: Settings{
			SegmentationMethod: "watershed",
		},
	}
}

// Load loads a session from a .mqproj file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var sess File
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}

	return &sess, nil
}

// Save saves the session to a file.
func (p *File) Save(path string) error {
	p.Modified = time.Now()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// SetImage sets the image path (relative to the session file).
func (p *File) SetImage(sessionPath, imagePath string) {
	p.ImagePath = relTo(sessionPath, imagePath)
	p.Modified = time.Now()
}

// SetSetup sets the staining setup CSV path (relative to the session
// file).
func (p *File) SetSetup(sessionPath, setupPath string) {
	p.SetupPath = relTo(sessionPath, setupPath)
	p.Modified = time.Now()
}

// GetImagePath returns the absolute path to the image.
func (p *File) GetImagePath(sessionPath string) string {
	return absFrom(sessionPath, p.ImagePath, "")
}

// GetSetupPath returns the absolute path to the setup CSV. Defaults to
// session_name_setup.csv next to the session file.
func (p *File) GetSetupPath(sessionPath string) string {
	return absFrom(sessionPath, p.SetupPath, "_setup.csv")
}

// GetConfigPath returns the absolute path to the config file. Defaults
// to session_name_params.yaml next to the session file.
func (p *File) GetConfigPath(sessionPath string) string {
	return absFrom(sessionPath, p.ConfigPath, "_params.yaml")
}

// GetReportPath returns the absolute path for the XLSX report.
// Defaults to session_name.xlsx next to the session file.
func (p *File) GetReportPath(sessionPath string) string {
	return absFrom(sessionPath, p.ReportPath, ".xlsx")
}

func relTo(sessionPath, target string) string {
	rel, err := filepath.Rel(filepath.Dir(sessionPath), target)
	if err != nil {
		return target
	}
	return rel
}

func absFrom(sessionPath, stored, defaultSuffix string) string {
	if stored == "" {
		if defaultSuffix == "" {
			return ""
		}
		base := sessionPath[:len(sessionPath)-len(filepath.Ext(sessionPath))]
		return base + defaultSuffix
	}
	if filepath.IsAbs(stored) {
		return stored
	}
	return filepath.Join(filepath.Dir(sessionPath), stored)
}
