package stain

import (
	"os"
	"path/filepath"
	"testing"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(
		[]string{"NUCLEI", "VIRUS", "IFIT2"},
		[]string{"DAPI", "NP", "IFIT2"},
		[]string{"blue", "green", "red"},
	)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return r
}

func TestNewRegistryRejectsMismatchedInputs(t *testing.T) {
	if _, err := NewRegistry([]string{"a"}, []string{"b", "c"}, []string{"d"}); err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func TestNucleusChannelLookup(t *testing.T) {
	r := testRegistry(t)
	if got := r.NucleusChannel(); got != 0 {
		t.Errorf("nucleus channel: want 0, got %d", got)
	}
	if got := r.MarkerChannels(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("marker channels: %v", got)
	}
}

func TestNucleusChannelCaseInsensitive(t *testing.T) {
	r, err := NewRegistry([]string{"virus", "nuclei"}, []string{"NP", "DAPI"}, []string{"g", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if got := r.NucleusChannel(); got != 1 {
		t.Errorf("want channel 1, got %d", got)
	}
}

func TestNucleusChannelAbsent(t *testing.T) {
	r, err := NewRegistry([]string{"VIRUS"}, []string{"NP"}, []string{"green"})
	if err != nil {
		t.Fatal(err)
	}
	if got := r.NucleusChannel(); got != -1 {
		t.Errorf("want -1 for missing nuclei, got %d", got)
	}
}

func TestSetupRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setup.csv")

	r := testRegistry(t)
	s, _ := r.Get(1)
	s.Min, s.Max, s.Gamma = 12, 200, 0.8
	if err := r.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Fresh registry for the same staining should pick the values up.
	r2 := testRegistry(t)
	applied, err := r2.ApplySetup(path)
	if err != nil {
		t.Fatalf("ApplySetup failed: %v", err)
	}
	if applied != 3 {
		t.Errorf("expected 3 applied rows, got %d", applied)
	}
	s2, _ := r2.Get(1)
	if s2.Min != 12 || s2.Max != 200 || s2.Gamma != 0.8 {
		t.Errorf("calibration lost in round trip: %+v", s2)
	}
}

func TestApplySetupMissingFileIsSilent(t *testing.T) {
	r := testRegistry(t)
	applied, err := r.ApplySetup(filepath.Join(t.TempDir(), "absent.csv"))
	if err != nil {
		t.Fatalf("missing setup file should not error: %v", err)
	}
	if applied != 0 {
		t.Errorf("expected 0 applied, got %d", applied)
	}
}

func TestApplySetupIgnoresUnknownRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setup.csv")
	csv := "condition,marker,color,min,max,gamma\n" +
		"OTHER,THING,purple,1,2,3\n" +
		"NUCLEI,DAPI,blue,5,250,1.2\n"
	if err := os.WriteFile(path, []byte(csv), 0644); err != nil {
		t.Fatal(err)
	}

	r := testRegistry(t)
	applied, err := r.ApplySetup(path)
	if err != nil {
		t.Fatalf("ApplySetup failed: %v", err)
	}
	if applied != 1 {
		t.Errorf("expected 1 applied row, got %d", applied)
	}
	s, _ := r.Get(0)
	if s.Min != 5 || s.Max != 250 || s.Gamma != 1.2 {
		t.Errorf("nuclei row not applied: %+v", s)
	}
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setup.csv")

	r := testRegistry(t)
	s, _ := r.Get(2)
	s.Min, s.Max, s.Gamma = 30, 180, 1.5
	if err := r.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}
	if loaded.Len() != 3 {
		t.Fatalf("want 3 channels, got %d", loaded.Len())
	}
	if got := loaded.NucleusChannel(); got != 0 {
		t.Errorf("nucleus channel: want 0, got %d", got)
	}
	s2, _ := loaded.Get(2)
	if s2.Condition != "IFIT2" || s2.Min != 30 || s2.Max != 180 || s2.Gamma != 1.5 {
		t.Errorf("channel 2 not restored: %+v", s2)
	}
}

func TestLoadRegistryRejectsBadFile(t *testing.T) {
	if _, err := LoadRegistry(filepath.Join(t.TempDir(), "absent.csv")); err == nil {
		t.Error("missing file should error for explicit loads")
	}

	path := filepath.Join(t.TempDir(), "setup.csv")
	if err := os.WriteFile(path, []byte("condition,marker,color,min,max,gamma\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRegistry(path); err == nil {
		t.Error("header-only file should error")
	}
}

func TestCalibrated(t *testing.T) {
	s := &Stain{Min: 0, Max: 255, Gamma: 1}
	if !s.Calibrated() {
		t.Error("full range with gamma 1 should count as calibrated")
	}
	s = &Stain{Min: 100, Max: 100, Gamma: 1}
	if s.Calibrated() {
		t.Error("empty display range is not a calibration")
	}
}
