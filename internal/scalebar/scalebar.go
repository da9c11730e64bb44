// Package scalebar recovers the physical pixel size from a scale bar
// burned into an exported microscope image: the bar length is measured
// in pixels and its caption (e.g. "20 µm") is read with Tesseract.
// Used as a fallback when the TIFF carries no resolution metadata.
package scalebar

import (
	"fmt"
	"image"
	"regexp"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"

	"microquant/internal/stack"
)

// captionChars restricts OCR to what a scale caption can contain.
const captionChars = "0123456789.µumnm "

// Engine wraps a Tesseract client configured for scale captions.
type Engine struct {
	client *gosseract.Client
}

// NewEngine creates the OCR engine.
func NewEngine() (*Engine, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage("eng"); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}
	// Captions are not dictionary words; disable word correction.
	_ = client.SetVariable("load_system_dawg", "false")
	_ = client.SetVariable("load_freq_dawg", "false")
	return &Engine{client: client}, nil
}

// Close releases OCR resources.
func (e *Engine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// EstimatePixelSize locates the scale bar in an 8-bit channel, reads
// its caption and returns µm/pixel.
func (e *Engine) EstimatePixelSize(img gocv.Mat) (stack.PixelSize, error) {
	if img.Empty() {
		return stack.PixelSize{}, fmt.Errorf("input image is empty")
	}

	bar, err := findBar(img)
	if err != nil {
		return stack.PixelSize{}, err
	}

	text, err := e.readCaption(img, bar)
	if err != nil {
		return stack.PixelSize{}, err
	}

	microns, err := ParseCaption(text)
	if err != nil {
		return stack.PixelSize{}, fmt.Errorf("caption %q: %w", text, err)
	}

	return stack.PixelSize{
		Microns: microns / float64(bar.Dx()),
		Known:   true,
		Source:  "scalebar",
	}, nil
}

// findBar searches for a saturated, thin, wide component in the lower
// quarter of the image, the usual burn-in position.
func findBar(img gocv.Mat) (image.Rectangle, error) {
	rows, cols := img.Rows(), img.Cols()
	strip := img.Region(image.Rect(0, rows*3/4, cols, rows))
	defer strip.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(strip, &mask, 250, 255, gocv.ThresholdBinary)

	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()
	n := gocv.ConnectedComponentsWithStats(mask, &labels, &stats, &centroids)

	best := image.Rectangle{}
	for i := 1; i < n; i++ {
		x := int(stats.GetIntAt(i, 0))
		y := int(stats.GetIntAt(i, 1))
		w := int(stats.GetIntAt(i, 2))
		h := int(stats.GetIntAt(i, 3))
		area := int(stats.GetIntAt(i, 4))

		// A bar is wide, short and solid.
		if h == 0 || w < 20 || w/h < 5 {
			continue
		}
		if area*10 < w*h*8 {
			continue
		}
		if w > best.Dx() {
			best = image.Rect(x, y+rows*3/4, x+w, y+h+rows*3/4)
		}
	}
	if best.Empty() {
		return image.Rectangle{}, fmt.Errorf("no scale bar found")
	}
	return best, nil
}

// readCaption OCRs the area around the bar where the caption sits.
func (e *Engine) readCaption(img gocv.Mat, bar image.Rectangle) (string, error) {
	pad := bar.Dy() * 6
	if pad < 24 {
		pad = 24
	}
	region := image.Rect(bar.Min.X-pad, bar.Min.Y-pad, bar.Max.X+pad, bar.Max.Y+pad)
	region = region.Intersect(image.Rect(0, 0, img.Cols(), img.Rows()))
	if region.Empty() {
		return "", fmt.Errorf("caption region out of bounds")
	}

	crop := img.Region(region)
	defer crop.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, crop)
	if err != nil {
		return "", fmt.Errorf("failed to encode caption region: %w", err)
	}
	defer buf.Close()

	if err := e.client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		return "", fmt.Errorf("failed to set PSM: %w", err)
	}
	if err := e.client.SetWhitelist(captionChars); err != nil {
		return "", fmt.Errorf("failed to set whitelist: %w", err)
	}
	if err := e.client.SetImageFromBytes(buf.GetBytes()); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := e.client.Text()
	if err != nil {
		return "", fmt.Errorf("OCR failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

var captionRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(µm|um|nm|mm)`)

// ParseCaption converts a caption like "20 µm" or "0.5mm" to microns.
func ParseCaption(text string) (float64, error) {
	m := captionRe.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return 0, fmt.Errorf("no length found")
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q: %w", m[1], err)
	}
	switch m[2] {
	case "µm", "um":
		return v, nil
	case "nm":
		return v / 1000.0, nil
	case "mm":
		return v * 1000.0, nil
	}
	return 0, fmt.Errorf("unknown unit %q", m[2])
}
