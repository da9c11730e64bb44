// Package pipeline runs the full analysis sequence: preprocessing,
// thresholding, nucleus segmentation, label propagation and
// quantification, one channel at a time.
package pipeline

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"microquant/internal/enhance"
	"microquant/internal/quantify"
	"microquant/internal/segment"
	"microquant/internal/stack"
	"microquant/internal/stain"
	"microquant/pkg/config"
	"microquant/pkg/labelmap"
)

// Results holds everything one run produced.
type Results struct {
	PixelSize    stack.PixelSize
	Nuclei       *labelmap.Map
	NucleusCount int

	// Markers holds one result per channel, nucleus channel first when
	// present.
	Markers []quantify.MarkerResult

	// Thresholds records the Otsu value chosen per channel index.
	Thresholds map[int]float32
}

// Pipeline executes the analysis for one stack.
type Pipeline struct {
	cfg *config.Config
	log *logrus.Logger
}

// New creates a pipeline. A nil logger falls back to the standard one.
func New(cfg *config.Config, log *logrus.Logger) *Pipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{cfg: cfg, log: log}
}

// Run analyzes all channels of the stack using the registry's
// calibration. The stain registry must have one record per channel.
func (p *Pipeline) Run(s *stack.Stack, reg *stain.Registry) (*Results, error) {
	if s.ChannelCount() == 0 {
		return nil, fmt.Errorf("stack has no channels")
	}
	if reg.Len() != s.ChannelCount() {
		return nil, fmt.Errorf("registry has %d records for %d channels", reg.Len(), s.ChannelCount())
	}

	res := &Results{
		PixelSize:  s.PixelSize,
		Thresholds: make(map[int]float32),
	}

	chans := make(map[int]channelData)
	defer func() {
		for _, c := range chans {
			c.mask.Close()
			c.enhanced.Close()
		}
	}()

	for i, ch := range s.Channels {
		st, err := reg.Get(i)
		if err != nil {
			return nil, err
		}
		cd, err := p.channelMask(ch, st)
		if err != nil {
			return nil, fmt.Errorf("channel %d (%s): %w", i, st.Condition, err)
		}
		chans[i] = cd
		res.Thresholds[i] = cd.thresh

		p.log.WithFields(logrus.Fields{
			"channel":   i,
			"condition": st.Condition,
			"threshold": cd.thresh,
		}).Info("channel thresholded")
	}

	nucChannel := reg.NucleusChannel()
	if nucChannel < 0 {
		p.log.Warnf("no %q condition in the stain table; markers are quantified without nucleus linkage", stain.NucleiCondition)
		return p.runWithoutNuclei(s, reg, chans, res)
	}

	nuclei, err := p.segmentNuclei(chans[nucChannel])
	if err != nil {
		return nil, fmt.Errorf("nucleus segmentation: %w", err)
	}
	res.Nuclei = nuclei
	res.NucleusCount = int(nuclei.MaxLabel())
	p.log.WithField("count", res.NucleusCount).Info("nuclei segmented")

	nucStain, _ := reg.Get(nucChannel)
	res.Markers = append(res.Markers,
		quantify.MeasureNuclei(nuclei, nucStain.Condition, nucStain.Marker, s.PixelSize))

	for _, i := range reg.MarkerChannels() {
		st, _ := reg.Get(i)
		cells, err := segment.PropagateLabels(chans[i].mask, nuclei)
		if err != nil {
			return nil, fmt.Errorf("channel %d (%s): %w", i, st.Condition, err)
		}
		mr, err := quantify.MeasureMarker(cells, nuclei, st.Condition, st.Marker, s.PixelSize)
		if err != nil {
			return nil, fmt.Errorf("channel %d (%s): %w", i, st.Condition, err)
		}
		res.Markers = append(res.Markers, mr)

		p.log.WithFields(logrus.Fields{
			"condition": st.Condition,
			"marker":    st.Marker,
			"shared":    len(mr.SharedNuclei),
		}).Info("marker quantified")

		if err := p.writeOverlay(s.Channels[i], cells, st.Condition); err != nil {
			return nil, err
		}
	}

	if err := p.writeOverlay(s.Channels[nucChannel], nuclei, nucStain.Condition); err != nil {
		return nil, err
	}
	return res, nil
}

// runWithoutNuclei quantifies each marker's components standalone when
// the stain table names no nucleus channel.
func (p *Pipeline) runWithoutNuclei(s *stack.Stack, reg *stain.Registry, chans map[int]channelData, res *Results) (*Results, error) {
	for i := range s.Channels {
		st, _ := reg.Get(i)
		mask := chans[i].mask
		data, err := mask.DataPtrUint8()
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", i, err)
		}
		comps, err := labelmap.LabelMask(data, mask.Cols(), mask.Rows())
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", i, err)
		}
		res.Markers = append(res.Markers,
			quantify.MeasureNuclei(comps, st.Condition, st.Marker, s.PixelSize))
	}
	return res, nil
}

// channelData pairs a channel's cleaned binary mask with its enhanced
// grayscale, which the DNN backend consumes directly.
type channelData struct {
	mask     gocv.Mat
	enhanced gocv.Mat
	thresh   float32
}

// channelMask runs preprocessing and thresholding for one channel.
func (p *Pipeline) channelMask(ch *stack.Channel, st *stain.Stain) (channelData, error) {
	mat, err := ch.Mat8()
	if err != nil {
		return channelData{}, err
	}
	defer mat.Close()

	prep := enhance.Params{
		MedianKernel:   p.cfg.Preprocess.MedianKernel,
		GaussianKernel: p.cfg.Preprocess.GaussianKernel,
		GaussianSigma:  p.cfg.Preprocess.GaussianSigma,
	}
	enhanced, err := enhance.Apply(mat, prep, st.Min, st.Max, st.Gamma)
	if err != nil {
		return channelData{}, err
	}

	mask, thresh, err := segment.Binarize(enhanced)
	if err != nil {
		enhanced.Close()
		return channelData{}, err
	}

	cleaned, _, err := segment.RemoveSmallIslands(mask, p.cfg.Threshold.MinIslandArea)
	mask.Close()
	if err != nil {
		enhanced.Close()
		return channelData{}, err
	}
	return channelData{mask: cleaned, enhanced: enhanced, thresh: thresh}, nil
}

// segmentNuclei picks the configured backend, falling back to the
// watershed when the model cannot be loaded.
func (p *Pipeline) segmentNuclei(cd channelData) (*labelmap.Map, error) {
	params := segment.WatershedParams{
		PeakMinDistance: p.cfg.Segmentation.PeakMinDistance,
		PeakMinHeight:   p.cfg.Segmentation.PeakMinHeight,
	}

	if p.cfg.Segmentation.Method == config.SegDNN {
		seg, err := segment.NewDNNSegmenter(
			p.cfg.Segmentation.ModelPath,
			p.cfg.Segmentation.ModelInputSize,
			p.cfg.Segmentation.ProbThreshold,
		)
		if err != nil {
			p.log.WithError(err).Warn("DNN model unavailable, falling back to watershed")
		} else {
			defer seg.Close()
			return seg.Segment(cd.enhanced, params)
		}
	}
	return segment.Nuclei(cd.mask, params)
}

// writeOverlay renders a label overlay PNG when an overlay directory
// is configured.
func (p *Pipeline) writeOverlay(ch *stack.Channel, lm *labelmap.Map, condition string) error {
	dir := p.cfg.Output.OverlayDir
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create overlay dir: %w", err)
	}

	img, err := segment.Overlay(ch.Gray8(), lm)
	if err != nil {
		return fmt.Errorf("overlay for %s: %w", condition, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("overlay_%02d_%s.png", ch.Index, condition))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	p.log.WithField("path", path).Debug("overlay written")
	return nil
}
