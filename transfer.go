package urcell

import (
	"context"
	"fmt"
	"math"

	"github.com/benchcell/urcell/urscript"
	"go.uber.org/multierr"
)

// TransferRequest describes a finger-gripper pick and place between two
// deck positions.
type TransferRequest struct {
	// Home, when set, is visited before the pick and again after the place.
	Home *urscript.Joints

	Source urscript.Pose
	Target urscript.Pose

	// Approach axes default to z, distances to 0.05 m.
	SourceApproachAxis     string
	TargetApproachAxis     string
	SourceApproachDistance float64
	TargetApproachDistance float64

	// GripperOpen and GripperClose override the workcell jaw registers
	// for labware that needs a different grip width.
	GripperOpen  *int
	GripperClose *int
}

// GripperTransfer picks labware at the source pose and places it at the
// target pose using linear moves. The request is validated before any
// motion is commanded.
func (r *UR) GripperTransfer(ctx context.Context, req TransferRequest) (err error) {
	if req.Source.IsZero() {
		return ErrMissingSource
	}
	if req.Target.IsZero() {
		return ErrMissingTarget
	}
	srcAxis, err := urscript.ParseAxis(req.SourceApproachAxis)
	if err != nil {
		return fmt.Errorf("source approach: %w", err)
	}
	tgtAxis, err := urscript.ParseAxis(req.TargetApproachAxis)
	if err != nil {
		return fmt.Errorf("target approach: %w", err)
	}

	r.motionMu.Lock()
	defer r.motionMu.Unlock()

	if err := r.homeLocked(ctx, req.Home); err != nil {
		return err
	}

	gc, err := r.newGripperController(ctx, req.GripperOpen, req.GripperClose)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, gc.Close())
	}()

	if err := gc.pick(ctx, req.Source, srcAxis, req.SourceApproachDistance); err != nil {
		return fmt.Errorf("pick: %w", err)
	}
	if err := gc.place(ctx, req.Target, tgtAxis, req.TargetApproachDistance); err != nil {
		return fmt.Errorf("place: %w", err)
	}
	r.logger.Infof("finished gripper transfer")

	return r.homeLocked(ctx, req.Home)
}

// FlipRequest describes picking an object, rotating the wrist a half
// turn, and setting it back down where it was.
type FlipRequest struct {
	Home *urscript.Joints

	Target urscript.Pose

	ApproachAxis     string
	ApproachDistance float64

	GripperOpen  *int
	GripperClose *int
}

// PickAndFlipObject picks the object at the target pose, rotates the
// wrist joint by half a turn, and places the object back at the same
// position with the flipped orientation.
func (r *UR) PickAndFlipObject(ctx context.Context, req FlipRequest) (err error) {
	if req.Target.IsZero() {
		return ErrMissingTarget
	}
	axis, err := urscript.ParseAxis(req.ApproachAxis)
	if err != nil {
		return fmt.Errorf("approach: %w", err)
	}

	r.motionMu.Lock()
	defer r.motionMu.Unlock()

	if err := r.homeLocked(ctx, req.Home); err != nil {
		return err
	}

	gc, err := r.newGripperController(ctx, req.GripperOpen, req.GripperClose)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, gc.Close())
	}()

	if err := gc.pick(ctx, req.Target, axis, req.ApproachDistance); err != nil {
		return fmt.Errorf("pick: %w", err)
	}

	joints, err := r.arm.Joints()
	if err != nil {
		return fmt.Errorf("read joints: %w", err)
	}
	joints[5] += math.Pi
	r.logger.Infof("flipping the wrist")
	if err := r.arm.MoveJ(ctx, joints, 0.6, 0.6); err != nil {
		return fmt.Errorf("flip wrist: %w", err)
	}

	// The place pose keeps the original position but takes the flipped
	// tool orientation, otherwise the arm would unflip on the way down.
	tcp, err := r.arm.TCPPose()
	if err != nil {
		return fmt.Errorf("read tool pose: %w", err)
	}
	place := req.Target
	place[3], place[4], place[5] = tcp[3], tcp[4], tcp[5]

	if err := gc.place(ctx, place, axis, req.ApproachDistance); err != nil {
		return fmt.Errorf("place: %w", err)
	}

	return r.homeLocked(ctx, req.Home)
}
