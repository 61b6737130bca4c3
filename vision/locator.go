// Package vision locates labware in aligned color+depth frames and turns
// a detection into a camera-frame offset the arm can act on. The frame
// source and the detection model are opaque collaborators.
package vision

import (
	"context"
	"image"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/rdk/vision/objectdetection"
)

// LabwareClasses are the classes the workcell's detection model knows.
var LabwareClasses = []string{
	"deepwellplates",
	"tipboxes",
	"hammers",
	"wellplates",
	"wellplate_lids",
}

var (
	// ErrUnknownLabware reports a target label outside LabwareClasses.
	ErrUnknownLabware = errors.New("unknown labware class")
	// ErrNotDetected reports that no acceptable detection matched the label.
	ErrNotDetected = errors.New("labware not detected")
	// ErrNoDepth reports a detection center without usable depth data.
	ErrNoDepth = errors.New("no depth at detection center")
)

// KnownLabware reports whether label is a class the model was trained on.
func KnownLabware(label string) bool {
	for _, class := range LabwareClasses {
		if strings.EqualFold(label, class) {
			return true
		}
	}
	return false
}

// FrameSource supplies color frames aligned with a depth map, both in the
// same pixel grid.
type FrameSource interface {
	AlignedFrames(ctx context.Context) (image.Image, *rimage.DepthMap, error)
}

// Config holds locator tuning.
type Config struct {
	// MinConfidence discards detections scoring below it.
	MinConfidence float64
	// Intrinsics deprojects pixel+depth to camera-frame coordinates.
	Intrinsics *transform.PinholeCameraIntrinsics
}

// DefaultConfig returns the tuning used on the workcell camera.
func DefaultConfig() Config {
	return Config{MinConfidence: 0.5}
}

// Locator runs the detector over captured frames and deprojects the best
// matching detection to a 3D offset.
type Locator struct {
	cfg      Config
	source   FrameSource
	detector objectdetection.Detector
	logger   logging.Logger
}

// NewLocator validates the collaborators and builds a Locator.
func NewLocator(cfg Config, source FrameSource, detector objectdetection.Detector, logger logging.Logger) (*Locator, error) {
	if source == nil {
		return nil, errors.New("locator: frame source is required")
	}
	if detector == nil {
		return nil, errors.New("locator: detector is required")
	}
	if cfg.Intrinsics == nil {
		return nil, errors.New("locator: camera intrinsics are required")
	}
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = DefaultConfig().MinConfidence
	}
	return &Locator{cfg: cfg, source: source, detector: detector, logger: logger}, nil
}

// Offset captures one frame pair and returns the camera-frame vector from
// the camera to the highest-scoring detection of label, in meters. The
// label is validated before any frame is captured.
func (l *Locator) Offset(ctx context.Context, label string) (r3.Vector, error) {
	if !KnownLabware(label) {
		return r3.Vector{}, errors.Wrapf(ErrUnknownLabware, "%q", label)
	}

	img, depth, err := l.source.AlignedFrames(ctx)
	if err != nil {
		return r3.Vector{}, errors.Wrap(err, "capture frames")
	}

	detections, err := l.detector(ctx, img)
	if err != nil {
		return r3.Vector{}, errors.Wrap(err, "run detector")
	}

	best, err := l.pick(detections, label)
	if err != nil {
		return r3.Vector{}, err
	}

	box := best.BoundingBox()
	center := image.Point{X: (box.Min.X + box.Max.X) / 2, Y: (box.Min.Y + box.Max.Y) / 2}
	l.logger.Debugf("detected %s score %.2f center %v", label, best.Score(), center)

	if center.X < 0 || center.Y < 0 || center.X >= depth.Width() || center.Y >= depth.Height() {
		return r3.Vector{}, errors.Wrapf(ErrNoDepth, "center %v outside %dx%d depth frame",
			center, depth.Width(), depth.Height())
	}
	d := depth.GetDepth(center.X, center.Y)
	if d == 0 {
		return r3.Vector{}, errors.Wrapf(ErrNoDepth, "center %v", center)
	}

	// Depth maps carry millimeters; the arm works in meters.
	zm := float64(d) / 1000.0
	x, y, z := l.cfg.Intrinsics.PixelToPoint(float64(center.X), float64(center.Y), zm)
	return r3.Vector{X: x, Y: y, Z: z}, nil
}

// pick returns the highest-scoring detection whose label matches.
func (l *Locator) pick(detections []objectdetection.Detection, label string) (objectdetection.Detection, error) {
	var best objectdetection.Detection
	for _, det := range detections {
		if !strings.EqualFold(det.Label(), label) || det.Score() < l.cfg.MinConfidence {
			continue
		}
		if best == nil || det.Score() > best.Score() {
			best = det
		}
	}
	if best == nil {
		return nil, errors.Wrapf(ErrNotDetected, "%q in %d detection(s)", label, len(detections))
	}
	return best, nil
}
