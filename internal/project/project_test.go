package project

import (
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run1.mqproj")

	p := New("run1")
	p.SetImage(path, filepath.Join(dir, "plate1.tif"))
	p.PixelSizeMicrons = 0.325
	p.PixelSizeSource = "imagej"
	p.NucleusCount = 118
	if err := p.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Name != "run1" || loaded.Version != 1 {
		t.Errorf("identity lost: %+v", loaded)
	}
	if loaded.PixelSizeMicrons != 0.325 || loaded.NucleusCount != 118 {
		t.Errorf("run state lost: %+v", loaded)
	}
	if got := loaded.GetImagePath(path); got != filepath.Join(dir, "plate1.tif") {
		t.Errorf("image path resolution: %q", got)
	}
}

func TestImagePathStoredRelative(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run1.mqproj")

	p := New("run1")
	p.SetImage(path, filepath.Join(dir, "images", "plate1.tif"))
	if p.ImagePath != filepath.Join("images", "plate1.tif") {
		t.Errorf("expected relative path, got %q", p.ImagePath)
	}
}

func TestDefaultSiblingPaths(t *testing.T) {
	path := "/data/run1.mqproj"
	p := New("run1")

	if got := p.GetSetupPath(path); got != "/data/run1_setup.csv" {
		t.Errorf("setup default: %q", got)
	}
	if got := p.GetConfigPath(path); got != "/data/run1_params.yaml" {
		t.Errorf("config default: %q", got)
	}
	if got := p.GetReportPath(path); got != "/data/run1.xlsx" {
		t.Errorf("report default: %q", got)
	}
	if got := p.GetImagePath(path); got != "" {
		t.Errorf("image has no default, got %q", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.mqproj")); err == nil {
		t.Fatal("expected error for missing session file")
	}
}
