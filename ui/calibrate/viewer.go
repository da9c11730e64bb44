// Package calibrate provides the interactive contrast/gamma viewer.
// One channel is shown at a time with live preview; slider values land
// in the stain registry when the operator is done.
package calibrate

import (
	"fmt"
	"image"
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	"github.com/disintegration/imaging"

	"microquant/internal/enhance"
	"microquant/internal/stack"
	"microquant/internal/stain"
)

const previewEdge = 768

// displayColors maps stain color names to preview tints.
var displayColors = map[string]color.RGBA{
	"blue":    {80, 80, 255, 255},
	"green":   {80, 255, 80, 255},
	"red":     {255, 80, 80, 255},
	"cyan":    {80, 255, 255, 255},
	"magenta": {255, 80, 255, 255},
	"yellow":  {255, 255, 80, 255},
	"gray":    {255, 255, 255, 255},
}

// Viewer is the calibration window.
type Viewer struct {
	window   fyne.Window
	stack    *stack.Stack
	registry *stain.Registry

	channel  int
	base     *image.Gray // current channel, downscaled for preview
	tint     color.RGBA
	preview  *canvas.Image
	minSlide *widget.Slider
	maxSlide *widget.Slider
	gamSlide *widget.Slider
	readout  *widget.Label

	onDone func()
}

// New builds the viewer for a loaded stack. onDone fires once the
// operator closes the window; the registry then carries the chosen
// calibration.
func New(app fyne.App, s *stack.Stack, reg *stain.Registry, onDone func()) (*Viewer, error) {
	if s.ChannelCount() == 0 {
		return nil, fmt.Errorf("stack has no channels")
	}
	if reg.Len() != s.ChannelCount() {
		return nil, fmt.Errorf("registry has %d records for %d channels", reg.Len(), s.ChannelCount())
	}

	v := &Viewer{
		window:   app.NewWindow("Contrast Calibration"),
		stack:    s,
		registry: reg,
		onDone:   onDone,
	}
	v.buildWidgets()
	v.selectChannel(0)
	v.window.Resize(fyne.NewSize(1024, 820))
	v.window.SetOnClosed(v.finish)
	return v, nil
}

// Show displays the window. The fyne event loop must already be
// running; the pipeline continues from the onDone callback.
func (v *Viewer) Show() {
	v.window.Show()
}

func (v *Viewer) buildWidgets() {
	v.preview = canvas.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	v.preview.FillMode = canvas.ImageFillContain
	v.preview.SetMinSize(fyne.NewSize(700, 600))

	v.minSlide = widget.NewSlider(0, 254)
	v.maxSlide = widget.NewSlider(1, 255)
	v.gamSlide = widget.NewSlider(0.1, 3.0)
	v.gamSlide.Step = 0.05
	v.readout = widget.NewLabel("")

	onChange := func(float64) { v.applySliders() }
	v.minSlide.OnChanged = onChange
	v.maxSlide.OnChanged = onChange
	v.gamSlide.OnChanged = onChange

	names := make([]string, v.registry.Len())
	for i, s := range v.registry.All() {
		names[i] = fmt.Sprintf("%d: %s (%s)", i, s.Condition, s.Marker)
	}
	selector := widget.NewSelect(names, func(chosen string) {
		for i, n := range names {
			if n == chosen {
				v.selectChannel(i)
				return
			}
		}
	})
	selector.SetSelectedIndex(0)

	done := widget.NewButton("Done", v.window.Close)

	controls := container.NewVBox(
		selector,
		widget.NewLabel("Contrast min"), v.minSlide,
		widget.NewLabel("Contrast max"), v.maxSlide,
		widget.NewLabel("Gamma"), v.gamSlide,
		v.readout,
		done,
	)
	v.window.SetContent(container.NewBorder(nil, nil, nil, controls, v.preview))
}

// selectChannel swaps the preview to another channel and seeds the
// sliders from its current calibration.
func (v *Viewer) selectChannel(idx int) {
	st, err := v.registry.Get(idx)
	if err != nil {
		return
	}
	v.channel = idx

	full := v.stack.Channels[idx].Gray8()
	fitted := imaging.Fit(full, previewEdge, previewEdge, imaging.Linear)
	v.base = toGray(fitted)

	v.tint = displayColors["gray"]
	if c, ok := displayColors[st.Color]; ok {
		v.tint = c
	}

	v.minSlide.SetValue(st.Min)
	v.maxSlide.SetValue(st.Max)
	v.gamSlide.SetValue(st.Gamma)
	v.applySliders()
}

// applySliders pushes slider state into the registry and re-renders.
func (v *Viewer) applySliders() {
	min, max, gamma := v.minSlide.Value, v.maxSlide.Value, v.gamSlide.Value
	if max <= min {
		max = min + 1
	}

	if st, err := v.registry.Get(v.channel); err == nil {
		st.Min, st.Max, st.Gamma = min, max, gamma
	}
	v.readout.SetText(fmt.Sprintf("min %.0f  max %.0f  gamma %.2f", min, max, gamma))

	v.preview.Image = v.render(min, max, gamma)
	v.preview.Refresh()
}

// render applies the same windowing LUT the pipeline uses, tinted with
// the stain's display color. Pure Go so slider drags stay responsive.
func (v *Viewer) render(min, max, gamma float64) *image.RGBA {
	lut, err := enhance.WindowLUT(min, max, gamma)
	if err != nil {
		lut = identityLUT()
	}

	b := v.base.Bounds()
	out := image.NewRGBA(b)
	for i, g := range v.base.Pix {
		val := uint16(lut[g])
		out.Pix[4*i+0] = uint8(val * uint16(v.tint.R) / 255)
		out.Pix[4*i+1] = uint8(val * uint16(v.tint.G) / 255)
		out.Pix[4*i+2] = uint8(val * uint16(v.tint.B) / 255)
		out.Pix[4*i+3] = 255
	}
	return out
}

func (v *Viewer) finish() {
	if v.onDone != nil {
		v.onDone()
	}
}

func identityLUT() []byte {
	lut := make([]byte, 256)
	for i := range lut {
		lut[i] = byte(i)
	}
	return lut
}

// toGray converts an imaging result back to a tight grayscale buffer.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}
