// Command segtest tunes thresholding and nucleus segmentation on one
// channel of a TIFF and writes the label overlay for inspection.
package main

import (
	"flag"
	"fmt"
	"image/png"
	"os"
	"sort"

	"microquant/internal/enhance"
	"microquant/internal/segment"
	"microquant/internal/stack"
)

func main() {
	imagePath := flag.String("image", "", "Path to multi-channel TIFF")
	channel := flag.Int("channel", 0, "Channel index to segment")
	minVal := flag.Float64("min", 0, "Display range lower bound (0-255)")
	maxVal := flag.Float64("max", 255, "Display range upper bound (0-255)")
	gamma := flag.Float64("gamma", 1.0, "Display gamma")
	median := flag.Int("median", 3, "Median filter kernel (odd)")
	gauss := flag.Int("gauss", 5, "Gaussian blur kernel (odd)")
	sigma := flag.Float64("sigma", 1.0, "Gaussian sigma")
	minArea := flag.Int("min-area", 64, "Minimum island area in pixels")
	peakDist := flag.Int("peak-dist", 7, "Minimum distance between watershed seeds")
	peakHeight := flag.Float64("peak-height", 2.0, "Minimum distance-transform peak height")
	outPath := flag.String("out", "segtest.png", "Overlay PNG output path")
	flag.Parse()

	if *imagePath == "" {
		fmt.Println("Usage: segtest -image <path> [-channel 0] [-min 0 -max 255 -gamma 1.0] [-out overlay.png]")
		os.Exit(1)
	}

	s, err := stack.Load(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load image: %v\n", err)
		os.Exit(1)
	}
	if *channel < 0 || *channel >= s.ChannelCount() {
		fmt.Fprintf(os.Stderr, "Channel %d out of range: image has %d channels\n", *channel, s.ChannelCount())
		os.Exit(1)
	}
	ch := s.Channels[*channel]
	fmt.Printf("Channel %d: %dx%d, %d-bit\n", ch.Index, ch.Width, ch.Height, ch.BitDepth)

	mat, err := ch.Mat8()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to convert channel: %v\n", err)
		os.Exit(1)
	}
	defer mat.Close()

	prep := enhance.Params{MedianKernel: *median, GaussianKernel: *gauss, GaussianSigma: *sigma}
	enhanced, err := enhance.Apply(mat, prep, *minVal, *maxVal, *gamma)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Enhancement failed: %v\n", err)
		os.Exit(1)
	}
	defer enhanced.Close()

	mask, thresh, err := segment.Binarize(enhanced)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Thresholding failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Otsu threshold: %.1f\n", thresh)

	cleaned, removed, err := segment.RemoveSmallIslands(mask, *minArea)
	mask.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Island removal failed: %v\n", err)
		os.Exit(1)
	}
	defer cleaned.Close()
	fmt.Printf("Removed %d islands below %d px\n", removed, *minArea)

	params := segment.WatershedParams{PeakMinDistance: *peakDist, PeakMinHeight: *peakHeight}
	nuclei, err := segment.Nuclei(cleaned, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Segmentation failed: %v\n", err)
		os.Exit(1)
	}

	regions := nuclei.Regions()
	fmt.Printf("\nSegmented %d nuclei:\n", len(regions))
	sort.Slice(regions, func(i, j int) bool { return regions[i].Area > regions[j].Area })
	fmt.Printf("%-8s %10s %10s %8s\n", "Label", "X", "Y", "Area")
	for i, r := range regions {
		if i >= 20 {
			fmt.Printf("  ... and %d more\n", len(regions)-i)
			break
		}
		fmt.Printf("%-8d %10.1f %10.1f %8d\n", r.Label, r.CX, r.CY, r.Area)
	}

	overlay, err := segment.Overlay(ch.Gray8(), nuclei)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Overlay failed: %v\n", err)
		os.Exit(1)
	}
	f, err := os.Create(*outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", *outPath, err)
		os.Exit(1)
	}
	defer f.Close()
	if err := png.Encode(f, overlay); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode %s: %v\n", *outPath, err)
		os.Exit(1)
	}
	fmt.Printf("\nOverlay written to %s\n", *outPath)
}
