package urcell

import (
	"context"
	"fmt"

	"github.com/golang/geo/r3"

	"github.com/benchcell/urcell/vision"
	"go.uber.org/multierr"
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/rdk/vision/objectdetection"
)

// UseCamera installs the wrist camera: a source of aligned color+depth
// frames, a labware detection model, and the color stream's intrinsics.
// Vision tasks fail with ErrCameraNotConfigured until this is called.
func (r *UR) UseCamera(source vision.FrameSource, detector objectdetection.Detector, intrinsics *transform.PinholeCameraIntrinsics) error {
	locator, err := vision.NewLocator(vision.Config{Intrinsics: intrinsics}, source, detector, r.logger.Sublogger("vision"))
	if err != nil {
		return fmt.Errorf("configure camera: %w", err)
	}
	r.locator = locator
	return nil
}

// CenterOnObject finds the labeled labware in the camera frame and
// translates the tool so the gripper is centered over it in the x-y
// plane. One detection, one move; callers wanting convergence call it
// again.
func (r *UR) CenterOnObject(ctx context.Context, label string) (err error) {
	if r.locator == nil {
		return ErrCameraNotConfigured
	}

	r.motionMu.Lock()
	defer r.motionMu.Unlock()

	// The jaws open first so they do not shadow the object in the frame.
	g, err := r.dialGripper(ctx)
	if err != nil {
		return fmt.Errorf("connect gripper: %w", err)
	}
	defer func() {
		err = multierr.Combine(err, g.Close())
	}()
	if err := g.Activate(ctx); err != nil {
		return fmt.Errorf("activate gripper: %w", err)
	}
	if _, err := g.MoveAndWait(ctx, r.cfg.GripperOpen, r.cfg.GripperSpeed, r.cfg.GripperForce); err != nil {
		return fmt.Errorf("open gripper: %w", err)
	}

	offset, err := r.locator.Offset(ctx, label)
	if err != nil {
		return fmt.Errorf("locate %s: %w", label, err)
	}
	r.logger.Infof("%s offset in camera frame: x=%.4f y=%.4f z=%.4f", label, offset.X, offset.Y, offset.Z)

	delta := r3.Vector{X: -offset.X, Y: -offset.Y}
	if err := r.arm.TranslateTool(ctx, delta, defaultAccel, defaultVel); err != nil {
		return fmt.Errorf("center tool: %w", err)
	}
	return nil
}
