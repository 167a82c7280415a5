package process

import (
	"image"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"backdrop/util"
	"backdrop/video/compose"
	"backdrop/video/frame"
	"backdrop/video/mask"
	"backdrop/video/source"
)

// Segmenter runs a person segmentation network through the OpenCV DNN
// module. Any format OpenCV reads (ONNX, TensorFlow, Caffe) works as long as
// its single output is a probability map, background/person logits or
// Pascal VOC class scores.
type Segmenter struct {
	Model   string
	Input   frame.Geometry
	Threads int

	net   gocv.Net
	small gocv.Mat
	prob  frame.Mask
	scale compose.MaskScaler
}

func NewSegmenter(model string, input frame.Geometry, threads int) (*Segmenter, error) {
	net := gocv.ReadNet(model, "")
	if net.Empty() {
		return nil, util.Errorf(util.KindConfiguration, "load model", "could not read %s", model)
	}
	if threads < 1 {
		threads = 1
	}
	log.WithFields(log.Fields{"model": model, "input": input.String(), "threads": threads}).Info("Loaded segmentation model")
	return &Segmenter{
		Model:   model,
		Input:   input,
		Threads: threads,
		net:     net,
		small:   gocv.NewMat(),
	}, nil
}

// Segment computes the foreground mask of in at the geometry of out.
func (s *Segmenter) Segment(in *frame.Frame, out *frame.Mask) error {
	img, err := source.FrameMat(in)
	if err != nil {
		return err
	}
	defer img.Close()

	size := image.Point{X: s.Input.Width, Y: s.Input.Height}
	gocv.Resize(img, &s.small, size, 0, 0, gocv.InterpolationLinear)

	blob := gocv.BlobFromImage(s.small, 1.0/255, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	s.net.SetInput(blob, "")

	res := s.net.Forward("")
	defer res.Close()
	if res.Empty() {
		return util.Errorf(util.KindInference, "segment", "model produced no output")
	}
	data, err := res.DataPtrFloat32()
	if err != nil {
		return err
	}
	shape := res.Size()
	t := mask.Tensor{Data: data, Shape: shape, Layout: mask.GuessLayout(shape)}
	if err := mask.Decode(t, &s.prob, s.Threads); err != nil {
		return err
	}
	s.scale.Apply(out, &s.prob, out.Geometry())
	return nil
}

func (s *Segmenter) Close() error {
	s.small.Close()
	return s.net.Close()
}
