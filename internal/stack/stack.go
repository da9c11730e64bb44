// Package stack loads multi-channel 2D fluorescence TIFF images and
// their physical pixel size metadata.
package stack

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// PixelSize describes the physical size of one pixel edge.
type PixelSize struct {
	// Microns is the edge length in µm/pixel. Zero when unknown.
	Microns float64

	// Known reports whether Microns was recovered from metadata.
	Known bool

	// Source names where the value came from ("imagej", "resolution",
	// "scalebar").
	Source string
}

// Channel is one fluorescence channel of the stack. Samples are kept
// at their native bit depth; 16-bit data is only scaled down when an
// 8-bit view is requested.
type Channel struct {
	Index    int
	Width    int
	Height   int
	BitDepth int      // 8 or 16
	Pix      []uint16 // row-major, native values
}

// Stack is a loaded multi-channel image.
type Stack struct {
	Path      string
	Channels  []*Channel
	PixelSize PixelSize
}

// MinMax returns the channel's native value range.
func (c *Channel) MinMax() (uint16, uint16) {
	if len(c.Pix) == 0 {
		return 0, 0
	}
	lo, hi := c.Pix[0], c.Pix[0]
	for _, v := range c.Pix {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Gray8 returns an 8-bit view, min-max scaled over the channel's
// native range so dim 16-bit acquisitions stay visible.
func (c *Channel) Gray8() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, c.Width, c.Height))
	lo, hi := c.MinMax()
	span := float64(hi - lo)
	if span == 0 {
		span = 1
	}
	for i, v := range c.Pix {
		img.Pix[i] = uint8(float64(v-lo) / span * 255.0)
	}
	return img
}

// Gray16 returns the native-depth image view.
func (c *Channel) Gray16() *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, c.Width, c.Height))
	for i, v := range c.Pix {
		img.Pix[2*i] = uint8(v >> 8)
		img.Pix[2*i+1] = uint8(v)
	}
	return img
}

// Mat8 converts the channel to an 8-bit single-channel gocv Mat using
// the same scaling as Gray8. The caller owns the returned Mat.
func (c *Channel) Mat8() (gocv.Mat, error) {
	g := c.Gray8()
	mat, err := gocv.NewMatFromBytes(c.Height, c.Width, gocv.MatTypeCV8UC1, g.Pix)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to wrap channel %d: %w", c.Index, err)
	}
	return mat, nil
}

// ChannelCount returns the number of channels.
func (s *Stack) ChannelCount() int {
	return len(s.Channels)
}

// Bounds returns the stack's pixel dimensions, taken from the first
// channel.
func (s *Stack) Bounds() (width, height int) {
	if len(s.Channels) == 0 {
		return 0, 0
	}
	return s.Channels[0].Width, s.Channels[0].Height
}
