// Command quantify runs the full analysis on a multi-channel TIFF
// without the GUI, reading calibration from a setup CSV.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"microquant/internal/pipeline"
	"microquant/internal/report"
	"microquant/internal/stack"
	"microquant/internal/stain"
	"microquant/pkg/config"
)

func main() {
	imagePath := flag.String("image", "", "Path to multi-channel TIFF")
	setupPath := flag.String("setup", "", "Setup CSV (default: <image>_setup.csv)")
	configPath := flag.String("config", "", "Analysis parameter YAML (optional)")
	reportPath := flag.String("report", "", "Report XLSX (default: next to image)")
	overlayDir := flag.String("overlay", "", "Directory for label overlay PNGs (optional)")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	if *imagePath == "" {
		fmt.Println("Usage: quantify -image <path> [-setup file.csv] [-config params.yaml] [-report out.xlsx]")
		os.Exit(1)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if *overlayDir != "" {
		cfg.Output.OverlayDir = *overlayDir
	}

	s, err := stack.Load(*imagePath)
	if err != nil {
		log.WithError(err).Fatal("failed to load image")
	}
	width, height := s.Bounds()
	fmt.Printf("Loaded %s: %d channels, %dx%d\n", filepath.Base(*imagePath), s.ChannelCount(), width, height)
	if s.PixelSize.Known {
		fmt.Printf("Pixel size: %.4f µm/px (%s)\n", s.PixelSize.Microns, s.PixelSize.Source)
	} else {
		fmt.Println("Pixel size unknown, areas reported in pixels")
	}

	if *setupPath == "" {
		base := strings.TrimSuffix(*imagePath, filepath.Ext(*imagePath))
		*setupPath = base + "_setup.csv"
	}
	reg, err := stain.LoadRegistry(*setupPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load setup file")
	}
	if reg.Len() != s.ChannelCount() {
		log.Fatalf("setup file has %d rows for %d channels", reg.Len(), s.ChannelCount())
	}
	for i, st := range reg.All() {
		fmt.Printf("  channel %d: %s / %s (%s) min=%.0f max=%.0f gamma=%.2f\n",
			i, st.Condition, st.Marker, st.Color, st.Min, st.Max, st.Gamma)
	}

	res, err := pipeline.New(cfg, log).Run(s, reg)
	if err != nil {
		log.WithError(err).Fatal("analysis failed")
	}

	fmt.Printf("\nSegmented %d nuclei\n", res.NucleusCount)
	for _, m := range res.Markers {
		fmt.Printf("  %s/%s: %d objects", m.Condition, m.Marker, len(m.Objects))
		if len(m.SharedNuclei) > 0 {
			fmt.Printf(", %d nucleus-linked", len(m.SharedNuclei))
		}
		fmt.Printf(", mean area %.1f %s²\n", m.Summary.MeanCellArea, m.LengthUnit)
	}

	out := *reportPath
	if out == "" {
		out = cfg.Output.ReportPath
	}
	if !filepath.IsAbs(out) {
		out = filepath.Join(filepath.Dir(*imagePath), out)
	}
	err = report.Write(out, &report.Report{
		ImagePath: *imagePath,
		PixelSize: res.PixelSize,
		Stains:    reg.All(),
		Markers:   res.Markers,
	})
	if err != nil {
		log.WithError(err).Fatal("report failed")
	}
	fmt.Printf("\nReport written to %s\n", out)
}
