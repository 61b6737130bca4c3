package urcell

import (
	"context"
	"fmt"
	"time"

	"github.com/benchcell/urcell/urscript"
	"go.uber.org/multierr"
)

// Vial caps are threaded: removal spins the wrist counter-clockwise while
// feeding up, placement spins clockwise while feeding down. The twists are
// held for a fixed duration sized to the thread length.
const (
	capAboveOffset = 0.06

	defaultRemoveCapTime = 7 * time.Second
	defaultPlaceCapTime  = 6 * time.Second
)

var (
	capRemoveTwist = [6]float64{0, 0, -0.001, 0, 0, -3.14}
	capPlaceTwist  = [6]float64{0, 0, 0.0001, 0, 0, 3.14}
)

// CapRequest describes removing or replacing a threaded vial cap.
type CapRequest struct {
	Home *urscript.Joints

	// Source is where the cap starts, Target where it ends up.
	Source urscript.Pose
	Target urscript.Pose

	// ScrewTime overrides how long the threading twist is held.
	ScrewTime time.Duration

	GripperOpen  *int
	GripperClose *int
}

// RemoveCap unscrews the cap at the source pose and sets it down at the
// target pose.
func (r *UR) RemoveCap(ctx context.Context, req CapRequest) (err error) {
	if req.Source.IsZero() {
		return ErrMissingSource
	}
	if req.Target.IsZero() {
		return ErrMissingTarget
	}
	screwTime := req.ScrewTime
	if screwTime <= 0 {
		screwTime = defaultRemoveCapTime
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

	// Descend onto the cap with the jaws open, then grip it in place.
	above := req.Source
	above[2] += capAboveOffset
	if err := r.arm.MoveL(ctx, above, r.cfg.Accel, r.cfg.Vel); err != nil {
		return fmt.Errorf("approach cap: %w", err)
	}
	if err := r.arm.MoveL(ctx, req.Source, 0.2, 0.2); err != nil {
		return fmt.Errorf("reach cap: %w", err)
	}
	if _, err := gc.closeJaws(ctx); err != nil {
		return err
	}

	r.logger.Infof("removing cap for %v", screwTime)
	if err := r.arm.SpeedLTool(ctx, capRemoveTwist, twistAccel, screwTime); err != nil {
		return fmt.Errorf("unscrew cap: %w", err)
	}
	if err := r.retreatTool(ctx); err != nil {
		return err
	}

	if err := r.homeLocked(ctx, req.Home); err != nil {
		return err
	}
	if err := gc.place(ctx, req.Target, urscript.AxisZ, 0); err != nil {
		return fmt.Errorf("set cap down: %w", err)
	}
	return r.homeLocked(ctx, req.Home)
}

// PlaceCap picks the cap at the source pose and screws it onto the vial
// at the target pose.
func (r *UR) PlaceCap(ctx context.Context, req CapRequest) (err error) {
	if req.Source.IsZero() {
		return ErrMissingSource
	}
	if req.Target.IsZero() {
		return ErrMissingTarget
	}
	screwTime := req.ScrewTime
	if screwTime <= 0 {
		screwTime = defaultPlaceCapTime
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

	if err := gc.pick(ctx, req.Source, urscript.AxisZ, 0); err != nil {
		return fmt.Errorf("pick cap: %w", err)
	}
	if err := r.homeLocked(ctx, req.Home); err != nil {
		return err
	}

	// Lower the cap onto the thread slowly before spinning it home.
	above := req.Target
	above[2] += capAboveOffset
	if err := r.arm.MoveL(ctx, above, r.cfg.Accel, r.cfg.Vel); err != nil {
		return fmt.Errorf("approach vial: %w", err)
	}
	if err := r.arm.MoveL(ctx, req.Target, 0.1, 0.1); err != nil {
		return fmt.Errorf("reach vial: %w", err)
	}

	r.logger.Infof("placing cap for %v", screwTime)
	if err := r.arm.SpeedLTool(ctx, capPlaceTwist, twistAccel, screwTime); err != nil {
		return fmt.Errorf("screw cap on: %w", err)
	}

	if err := gc.openJaws(ctx); err != nil {
		return err
	}
	if err := r.retreatTool(ctx); err != nil {
		return err
	}
	return r.homeLocked(ctx, req.Home)
}
