package segment

import (
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"

	"microquant/pkg/labelmap"
)

// DNNSegmenter runs a pretrained ONNX nucleus segmentation model
// through the OpenCV DNN module. The model is expected to map a
// single-channel input to a per-pixel foreground probability map;
// instance separation still goes through the watershed seeding so both
// backends share the touching-label semantics.
type DNNSegmenter struct {
	net           gocv.Net
	inputSize     int
	probThreshold float32
}

// NewDNNSegmenter loads the ONNX model. The model file must exist; the
// caller decides whether to fall back to the watershed backend.
func NewDNNSegmenter(modelPath string, inputSize int, probThreshold float64) (*DNNSegmenter, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file %s: %w", modelPath, err)
	}
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load ONNX model %s", modelPath)
	}
	return &DNNSegmenter{
		net:           net,
		inputSize:     inputSize,
		probThreshold: float32(probThreshold),
	}, nil
}

// Close releases the network.
func (s *DNNSegmenter) Close() error {
	return s.net.Close()
}

// Segment produces labeled nucleus instances for an 8-bit channel.
func (s *DNNSegmenter) Segment(channel gocv.Mat, p WatershedParams) (*labelmap.Map, error) {
	if channel.Empty() {
		return nil, fmt.Errorf("input image is empty")
	}
	rows, cols := channel.Rows(), channel.Cols()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(channel, &resized, image.Pt(s.inputSize, s.inputSize), 0, 0, gocv.InterpolationLinear)

	blob := gocv.BlobFromImage(resized, 1.0/255.0, image.Pt(s.inputSize, s.inputSize),
		gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	s.net.SetInput(blob, "")
	prob := s.net.Forward("")
	defer prob.Close()

	mask, err := s.probabilityMask(prob)
	if err != nil {
		return nil, err
	}
	defer mask.Close()

	full := gocv.NewMat()
	defer full.Close()
	gocv.Resize(mask, &full, image.Pt(cols, rows), 0, 0, gocv.InterpolationNearestNeighbor)

	return Nuclei(full, p)
}

// probabilityMask thresholds the network output into a binary mask at
// model resolution.
func (s *DNNSegmenter) probabilityMask(prob gocv.Mat) (gocv.Mat, error) {
	// Output arrives as a 1x1xHxW blob; flatten to HxW.
	flat := prob.Reshape(1, s.inputSize)
	defer flat.Close()

	data, err := flat.DataPtrFloat32()
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to access probability buffer: %w", err)
	}
	if len(data) != s.inputSize*s.inputSize {
		return gocv.NewMat(), fmt.Errorf("unexpected model output size %d, want %d", len(data), s.inputSize*s.inputSize)
	}

	out := make([]byte, len(data))
	for i, v := range data {
		if v >= s.probThreshold {
			out[i] = 255
		}
	}
	mask, err := gocv.NewMatFromBytes(s.inputSize, s.inputSize, gocv.MatTypeCV8UC1, out)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to build probability mask: %w", err)
	}
	return mask, nil
}
