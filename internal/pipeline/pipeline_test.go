package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"microquant/internal/stack"
	"microquant/internal/stain"
	"microquant/pkg/config"
)

// diskChannel builds a channel with one bright filled disk on a dim
// background, enough signal for Otsu to split cleanly.
func diskChannel(index, w, h, cx, cy, r int) *stack.Channel {
	ch := &stack.Channel{Index: index, Width: w, Height: h, BitDepth: 8, Pix: make([]uint16, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r*r {
				ch.Pix[y*w+x] = 220
			} else {
				ch.Pix[y*w+x] = 10
			}
		}
	}
	return ch
}

func hasWarning(hook *test.Hook) bool {
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			return true
		}
	}
	return false
}

func TestRunWithoutNucleusCondition(t *testing.T) {
	s := &stack.Stack{
		Path:     "plate1.tif",
		Channels: []*stack.Channel{diskChannel(0, 64, 64, 32, 32, 9)},
	}
	reg, err := stain.NewRegistry([]string{"VIRUS"}, []string{"NP"}, []string{"green"})
	if err != nil {
		t.Fatal(err)
	}

	log, hook := test.NewNullLogger()
	res, err := New(config.Default(), log).Run(s, reg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Nuclei != nil || res.NucleusCount != 0 {
		t.Errorf("no nucleus map expected, got count %d", res.NucleusCount)
	}
	if len(res.Markers) != 1 {
		t.Fatalf("expected 1 standalone marker result, got %d", len(res.Markers))
	}
	if got := res.Markers[0].Summary.Count; got != 1 {
		t.Errorf("expected 1 object for the single disk, got %d", got)
	}
	if !hasWarning(hook) {
		t.Error("missing nucleus condition should log a warning")
	}
}

func TestRunFallsBackToWatershedWithoutModel(t *testing.T) {
	s := &stack.Stack{
		Path: "plate1.tif",
		Channels: []*stack.Channel{
			diskChannel(0, 64, 64, 32, 32, 9),
			diskChannel(1, 64, 64, 32, 32, 6),
		},
	}
	reg, err := stain.NewRegistry(
		[]string{"NUCLEI", "VIRUS"},
		[]string{"DAPI", "NP"},
		[]string{"blue", "green"},
	)
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Segmentation.Method = config.SegDNN
	cfg.Segmentation.ModelPath = filepath.Join(t.TempDir(), "absent.onnx")

	log, hook := test.NewNullLogger()
	res, err := New(cfg, log).Run(s, reg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.NucleusCount != 1 {
		t.Errorf("expected 1 nucleus from the watershed fallback, got %d", res.NucleusCount)
	}
	if !hasWarning(hook) {
		t.Error("missing model should log a fallback warning")
	}
	if len(res.Markers) != 2 {
		t.Fatalf("expected nucleus + marker results, got %d", len(res.Markers))
	}
	if res.Markers[0].Condition != "NUCLEI" {
		t.Errorf("nucleus result should come first, got %q", res.Markers[0].Condition)
	}
	marker := res.Markers[1]
	if len(marker.SharedNuclei) != 1 || marker.SharedNuclei[0] != 1 {
		t.Errorf("marker disk should link to nucleus 1, got %v", marker.SharedNuclei)
	}
	if len(res.Thresholds) != 2 {
		t.Errorf("expected a threshold per channel, got %v", res.Thresholds)
	}
}
