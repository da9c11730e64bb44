package stack

import (
	"bytes"
	"fmt"
	"image"
	"os"

	"github.com/chai2010/tiff"
)

// Load reads a multi-channel 2D TIFF. Two layouts are accepted: one
// grayscale page (IFD) per channel, the common ImageJ export, or a
// single page whose color samples are split into channels. 8-bit and
// 16-bit unsigned samples are supported.
func Load(path string) (*Stack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	pages, pageErrs, err := tiff.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode TIFF %s: %w", path, err)
	}

	var images []image.Image
	for i, sub := range pages {
		for j, img := range sub {
			if pageErrs != nil && pageErrs[i][j] != nil {
				return nil, fmt.Errorf("failed to decode TIFF page %d.%d: %w", i, j, pageErrs[i][j])
			}
			images = append(images, img)
		}
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no decodable pages in %s", path)
	}

	meta, err := parseMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TIFF metadata of %s: %w", path, err)
	}
	// Only single-plane multi-channel images are in scope. An ImageJ
	// hyperstack with more pages than channels is a z- or time-series.
	if n := imagejChannels(meta.description); n > 0 && n != len(images) {
		return nil, fmt.Errorf("%s: %d pages but %d channels declared; z-stacks and time series are unsupported", path, len(images), n)
	}

	var channels []*Channel
	if len(images) == 1 {
		channels, err = splitSamples(images[0])
	} else {
		channels, err = channelPerPage(images)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &Stack{
		Path:      path,
		Channels:  channels,
		PixelSize: meta.pixelSize(),
	}, nil
}

// channelPerPage maps each grayscale page to one channel.
func channelPerPage(images []image.Image) ([]*Channel, error) {
	w := images[0].Bounds().Dx()
	h := images[0].Bounds().Dy()

	channels := make([]*Channel, 0, len(images))
	for i, img := range images {
		if img.Bounds().Dx() != w || img.Bounds().Dy() != h {
			return nil, fmt.Errorf("page %d has size %dx%d, expected %dx%d",
				i, img.Bounds().Dx(), img.Bounds().Dy(), w, h)
		}
		ch, err := grayChannel(img, i)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// grayChannel converts a single decoded page to a Channel.
func grayChannel(img image.Image, index int) (*Channel, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch src := img.(type) {
	case *image.Gray:
		ch := &Channel{Index: index, Width: w, Height: h, BitDepth: 8, Pix: make([]uint16, w*h)}
		for i, v := range src.Pix[:w*h] {
			ch.Pix[i] = uint16(v)
		}
		return ch, nil
	case *image.Gray16:
		ch := &Channel{Index: index, Width: w, Height: h, BitDepth: 16, Pix: make([]uint16, w*h)}
		for i := 0; i < w*h; i++ {
			ch.Pix[i] = uint16(src.Pix[2*i])<<8 | uint16(src.Pix[2*i+1])
		}
		return ch, nil
	default:
		// Color page in a multi-page file: collapse via luminance is
		// wrong for fluorescence, so reject it.
		return nil, fmt.Errorf("unsupported page type %T, expected grayscale", img)
	}
}

// splitSamples splits one interleaved color page into per-sample
// channels (R, G, B order; alpha dropped). A grayscale single page is
// a one-channel stack.
func splitSamples(img image.Image) ([]*Channel, error) {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		ch, err := grayChannel(img, 0)
		if err != nil {
			return nil, err
		}
		return []*Channel{ch}, nil
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	channels := make([]*Channel, 3)
	for i := range channels {
		channels[i] = &Channel{Index: i, Width: w, Height: h, BitDepth: 16, Pix: make([]uint16, w*h)}
	}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			channels[0].Pix[i] = uint16(r)
			channels[1].Pix[i] = uint16(g)
			channels[2].Pix[i] = uint16(bl)
			i++
		}
	}
	return channels, nil
}
