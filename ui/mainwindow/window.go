// Package mainwindow provides the application's top-level window and
// the load → stain → calibrate → run workflow.
package mainwindow

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"github.com/sirupsen/logrus"

	"microquant/internal/pipeline"
	"microquant/internal/project"
	"microquant/internal/report"
	"microquant/internal/scalebar"
	"microquant/internal/stack"
	"microquant/internal/stain"
	"microquant/pkg/config"
	"microquant/ui/calibrate"
	"microquant/ui/prefs"
)

// stainColors are the selectable display colors.
var stainColors = []string{"blue", "green", "red", "cyan", "magenta", "yellow", "gray"}

// MainWindow is the application shell.
type MainWindow struct {
	app    fyne.App
	window fyne.Window
	prefs  *prefs.Prefs
	log    *logrus.Logger
	cfg    *config.Config

	stack    *stack.Stack
	registry *stain.Registry

	session     *project.File
	sessionPath string

	status    *widget.Label
	stainBtn  *widget.Button
	calibBtn  *widget.Button
	runBtn    *widget.Button
	imageInfo *widget.Label
}

// New creates the main window.
func New(app fyne.App, cfg *config.Config, p *prefs.Prefs, log *logrus.Logger) *MainWindow {
	w := &MainWindow{
		app:    app,
		window: app.NewWindow("microquant"),
		prefs:  p,
		log:    log,
		cfg:    cfg,
	}
	w.build()
	w.window.Resize(fyne.NewSize(
		float32(p.FloatWithFallback(prefs.KeyWindowWidth, 900)),
		float32(p.FloatWithFallback(prefs.KeyWindowHeight, 600)),
	))
	return w
}

// Window returns the underlying fyne window.
func (w *MainWindow) Window() fyne.Window {
	return w.window
}

// ShowAndRun enters the event loop.
func (w *MainWindow) ShowAndRun() {
	w.window.ShowAndRun()
}

func (w *MainWindow) build() {
	w.status = widget.NewLabel("Open a multi-channel TIFF to begin.")
	w.imageInfo = widget.NewLabel("")

	openBtn := widget.NewButton("Open Image…", w.openImage)
	w.stainBtn = widget.NewButton("Staining…", w.editStaining)
	w.calibBtn = widget.NewButton("Calibrate…", w.runCalibration)
	w.runBtn = widget.NewButton("Run Analysis", w.runAnalysis)
	w.stainBtn.Disable()
	w.calibBtn.Disable()
	w.runBtn.Disable()

	buttons := container.NewHBox(openBtn, w.stainBtn, w.calibBtn, w.runBtn)
	w.window.SetContent(container.NewVBox(buttons, w.imageInfo, w.status))
}

func (w *MainWindow) setStatus(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	w.log.Info(msg)
	w.status.SetText(msg)
}

func (w *MainWindow) openImage() {
	fd := dialog.NewFileOpen(func(rc fyne.URIReadCloser, err error) {
		if err != nil || rc == nil {
			return
		}
		path := rc.URI().Path()
		rc.Close()
		w.loadImage(path)
	}, w.window)
	fd.SetFilter(storage.NewExtensionFileFilter([]string{".tif", ".tiff"}))
	if dir := w.prefs.String(prefs.KeyLastImageDir); dir != "" {
		if uri, err := storage.ListerForURI(storage.NewFileURI(dir)); err == nil {
			fd.SetLocation(uri)
		}
	}
	fd.Show()
}

// OpenImage loads an image or session file given on the command line.
func (w *MainWindow) OpenImage(path string) {
	if strings.EqualFold(filepath.Ext(path), project.Ext) {
		w.openSession(path)
		return
	}
	w.loadImage(path)
}

// openSession restores a previous analysis from its .mqproj file.
func (w *MainWindow) openSession(path string) {
	sess, err := project.Load(path)
	if err != nil {
		dialog.ShowError(err, w.window)
		return
	}
	w.session = sess
	w.sessionPath = path
	w.log.WithField("session", sess.Name).Info("session restored")

	img := sess.GetImagePath(path)
	if img == "" {
		w.setStatus("Session %s has no image; open one to continue.", sess.Name)
		return
	}
	w.loadImage(img)
}

func (w *MainWindow) loadImage(path string) {
	s, err := stack.Load(path)
	if err != nil {
		dialog.ShowError(err, w.window)
		return
	}
	w.stack = s
	w.registry = nil
	w.prefs.SetString(prefs.KeyLastImageDir, filepath.Dir(path))

	if !s.PixelSize.Known {
		w.recoverScaleFromBar()
	}

	width, height := s.Bounds()
	scale := "scale unknown, reporting pixel units"
	if s.PixelSize.Known {
		scale = fmt.Sprintf("%.4f µm/px (%s)", s.PixelSize.Microns, s.PixelSize.Source)
	}
	w.imageInfo.SetText(fmt.Sprintf("%s — %d channels, %dx%d, %s",
		filepath.Base(path), s.ChannelCount(), width, height, scale))
	w.setStatus("Image loaded; assign staining next.")

	w.stainBtn.Enable()
	w.calibBtn.Disable()
	w.runBtn.Disable()
}

// recoverScaleFromBar tries the OCR fallback on the last channel, the
// usual home of a burned-in scale bar.
func (w *MainWindow) recoverScaleFromBar() {
	engine, err := scalebar.NewEngine()
	if err != nil {
		w.log.WithError(err).Warn("scale bar OCR unavailable")
		return
	}
	defer engine.Close()

	ch := w.stack.Channels[w.stack.ChannelCount()-1]
	mat, err := ch.Mat8()
	if err != nil {
		return
	}
	defer mat.Close()

	ps, err := engine.EstimatePixelSize(mat)
	if err != nil {
		w.log.WithError(err).Debug("no readable scale bar")
		return
	}
	w.stack.PixelSize = ps
	w.log.WithField("um_per_px", ps.Microns).Info("pixel size recovered from scale bar")
}

// editStaining shows per-channel condition/marker/color entry.
func (w *MainWindow) editStaining() {
	n := w.stack.ChannelCount()
	conditions := make([]*widget.Entry, n)
	markers := make([]*widget.Entry, n)
	colors := make([]*widget.Select, n)

	items := make([]*widget.FormItem, 0, n)
	for i := 0; i < n; i++ {
		conditions[i] = widget.NewEntry()
		markers[i] = widget.NewEntry()
		colors[i] = widget.NewSelect(stainColors, nil)
		colors[i].SetSelectedIndex(i % len(stainColors))
		if cur := w.currentStain(i); cur != nil {
			conditions[i].SetText(cur.Condition)
			markers[i].SetText(cur.Marker)
			colors[i].SetSelected(cur.Color)
		} else if i == 0 {
			conditions[i].SetText(stain.NucleiCondition)
			markers[i].SetText("DAPI")
		}
		row := container.NewGridWithColumns(3, conditions[i], markers[i], colors[i])
		items = append(items, widget.NewFormItem(fmt.Sprintf("Channel %d", i), row))
	}

	dialog.ShowForm("Staining (condition / marker / color)", "Apply", "Cancel", items,
		func(ok bool) {
			if !ok {
				return
			}
			w.applyStaining(conditions, markers, colors)
		}, w.window)
}

func (w *MainWindow) currentStain(i int) *stain.Stain {
	if w.registry == nil {
		return nil
	}
	s, err := w.registry.Get(i)
	if err != nil {
		return nil
	}
	return s
}

func (w *MainWindow) applyStaining(conditions, markers []*widget.Entry, colors []*widget.Select) {
	n := len(conditions)
	cond := make([]string, n)
	mark := make([]string, n)
	col := make([]string, n)
	for i := 0; i < n; i++ {
		cond[i] = strings.TrimSpace(conditions[i].Text)
		mark[i] = strings.TrimSpace(markers[i].Text)
		col[i] = colors[i].Selected
		if cond[i] == "" {
			cond[i] = fmt.Sprintf("CH%d", i)
		}
		if mark[i] == "" {
			mark[i] = cond[i]
		}
	}

	reg, err := stain.NewRegistry(cond, mark, col)
	if err != nil {
		dialog.ShowError(err, w.window)
		return
	}
	w.registry = reg

	applied, err := reg.ApplySetup(w.setupPath())
	if err != nil {
		w.log.WithError(err).Warn("setup file unreadable, recalibrating")
	}
	if applied > 0 {
		w.setStatus("Staining set; calibration for %d channels restored from %s.",
			applied, filepath.Base(w.setupPath()))
	} else {
		w.setStatus("Staining set; calibrate contrast next.")
	}
	if reg.NucleusChannel() < 0 {
		w.log.Warnf("no %q condition assigned", stain.NucleiCondition)
	}

	w.calibBtn.Enable()
	w.runBtn.Enable()
}

// setupPath is the calibration CSV sitting next to the image.
func (w *MainWindow) setupPath() string {
	base := strings.TrimSuffix(w.stack.Path, filepath.Ext(w.stack.Path))
	return base + "_setup.csv"
}

func (w *MainWindow) runCalibration() {
	viewer, err := calibrate.New(w.app, w.stack, w.registry, func() {
		if err := w.registry.Save(w.setupPath()); err != nil {
			w.log.WithError(err).Warn("failed to persist setup file")
		}
		w.setStatus("Calibration stored in %s.", filepath.Base(w.setupPath()))
	})
	if err != nil {
		dialog.ShowError(err, w.window)
		return
	}
	viewer.Show()
}

func (w *MainWindow) runAnalysis() {
	w.runBtn.Disable()
	w.setStatus("Analysis running…")

	if w.cfg.Output.OverlayDir == "" && w.prefs.Bool(prefs.KeyWriteOverlay, false) {
		w.cfg.Output.OverlayDir = filepath.Join(filepath.Dir(w.stack.Path), "overlays")
	}

	go func() {
		defer w.runBtn.Enable()

		res, err := pipeline.New(w.cfg, w.log).Run(w.stack, w.registry)
		if err != nil {
			w.log.WithError(err).Error("analysis failed")
			w.status.SetText("Analysis failed: " + err.Error())
			return
		}

		out := w.cfg.Output.ReportPath
		if !filepath.IsAbs(out) {
			out = filepath.Join(filepath.Dir(w.stack.Path), out)
		}
		err = report.Write(out, &report.Report{
			ImagePath: w.stack.Path,
			PixelSize: res.PixelSize,
			Stains:    w.registry.All(),
			Markers:   res.Markers,
		})
		if err != nil {
			w.log.WithError(err).Error("report failed")
			w.status.SetText("Report failed: " + err.Error())
			return
		}
		w.saveSession(res, out)
		w.status.SetText(fmt.Sprintf("Done: %d nuclei, report in %s.", res.NucleusCount, out))
	}()
}

// saveSession records the run next to the image so it can be reopened.
func (w *MainWindow) saveSession(res *pipeline.Results, reportPath string) {
	if w.sessionPath == "" {
		base := strings.TrimSuffix(w.stack.Path, filepath.Ext(w.stack.Path))
		w.sessionPath = base + project.Ext
	}
	if w.session == nil {
		name := strings.TrimSuffix(filepath.Base(w.sessionPath), project.Ext)
		w.session = project.New(name)
	}
	w.session.SetImage(w.sessionPath, w.stack.Path)
	w.session.SetSetup(w.sessionPath, w.setupPath())
	w.session.ReportPath = reportPath
	w.session.PixelSizeMicrons = res.PixelSize.Microns
	w.session.PixelSizeSource = res.PixelSize.Source
	w.session.LastRun = time.Now()
	w.session.NucleusCount = res.NucleusCount
	w.session.Settings.SegmentationMethod = string(w.cfg.Segmentation.Method)
	w.session.Settings.WriteOverlays = w.cfg.Output.OverlayDir != ""

	if err := w.session.Save(w.sessionPath); err != nil {
		w.log.WithError(err).Warn("failed to save session")
		return
	}
	w.log.WithField("path", w.sessionPath).Info("session saved")
}

// SavePreferences persists window geometry.
func (w *MainWindow) SavePreferences() {
	size := w.window.Canvas().Size()
	w.prefs.SetFloat(prefs.KeyWindowWidth, float64(size.Width))
	w.prefs.SetFloat(prefs.KeyWindowHeight, float64(size.Height))
	if err := w.prefs.Save(); err != nil {
		w.log.WithError(err).Warn("failed to save preferences")
	}
}
