package segment

import (
	"fmt"
	"image"
	"image/color"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"microquant/pkg/labelmap"
)

// overlayPalette cycles distinct hues for neighboring labels.
var overlayPalette = []color.RGBA{
	{230, 25, 75, 255},
	{60, 180, 75, 255},
	{255, 225, 25, 255},
	{0, 130, 200, 255},
	{245, 130, 48, 255},
	{145, 30, 180, 255},
	{70, 240, 240, 255},
	{240, 50, 230, 255},
	{210, 245, 60, 255},
	{250, 190, 190, 255},
}

// Overlay renders labeled objects over a grayscale base image for
// visual inspection. Labeled pixels are blended toward the label's
// palette color; centroids get a full-intensity dot.
func Overlay(base *image.Gray, lm *labelmap.Map) (*image.RGBA, error) {
	b := base.Bounds()
	if b.Dx() != lm.Width || b.Dy() != lm.Height {
		return nil, fmt.Errorf("base %dx%d does not match labels %dx%d",
			b.Dx(), b.Dy(), lm.Width, lm.Height)
	}

	out := image.NewRGBA(image.Rect(0, 0, lm.Width, lm.Height))
	for y := 0; y < lm.Height; y++ {
		for x := 0; x < lm.Width; x++ {
			g := base.GrayAt(b.Min.X+x, b.Min.Y+y).Y
			l := lm.At(x, y)
			if l == 0 {
				out.SetRGBA(x, y, color.RGBA{g, g, g, 255})
				continue
			}
			c := overlayPalette[int(l-1)%len(overlayPalette)]
			out.SetRGBA(x, y, color.RGBA{
				blend(g, c.R),
				blend(g, c.G),
				blend(g, c.B),
				255,
			})
		}
	}

	for _, r := range lm.Regions() {
		c := overlayPalette[int(r.Label-1)%len(overlayPalette)]
		markCentroid(out, r.Centroid, c)
		drawLabel(out, r.Centroid, strconv.Itoa(int(r.Label)))
	}
	return out, nil
}

// drawLabel writes the label number next to a centroid.
func drawLabel(img *image.RGBA, p image.Point, text string) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(p.X+3, p.Y-3),
	}
	d.DrawString(text)
}

func blend(base, tint uint8) uint8 {
	return uint8((uint16(base) + 2*uint16(tint)) / 3)
}

func markCentroid(img *image.RGBA, p image.Point, c color.RGBA) {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			q := image.Pt(p.X+dx, p.Y+dy)
			if q.In(img.Bounds()) {
				img.SetRGBA(q.X, q.Y, c)
			}
		}
	}
}
