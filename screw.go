package urcell

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/geo/r3"

	"github.com/benchcell/urcell/urscript"
	"go.uber.org/multierr"
)

// Screwdriving with the hex driver bit held in the finger gripper. The
// bit seats a screw by a slow downward feed combined with a wrist spin,
// held for a fixed duration.
const (
	screwAboveOffset  = 0.06
	screwTargetOffset = 0.03

	twistAccel = 2.0

	defaultScrewTime   = 9 * time.Second
	defaultUnscrewTime = 10 * time.Second
)

// Tool-frame twists for driving and backing out screws: a slow z feed
// with a ~180 deg/s wrist rotation.
var (
	screwDriveTwist = [6]float64{0, 0, 0.00021, 0, 0, 3.14}
	screwBackTwist  = [6]float64{0, 0, -0.00021, 0, 0, -3.14}
)

// screwRetreat lifts the tool off the work after a twist.
var screwRetreat = r3.Vector{Z: -0.03}

// ScrewTransferRequest describes driving (or removing) a screw with the
// gripper-held hex bit.
type ScrewTransferRequest struct {
	Home *urscript.Joints

	// Bit is the hex driver bit pickup pose, Screw the screw supply,
	// Target the hole being driven, and HexKey the holder the bit is
	// returned to when the task finishes.
	Bit    urscript.Pose
	Screw  urscript.Pose
	Target urscript.Pose
	HexKey urscript.Pose

	// ScrewTime is how long the driving twist is held. Defaults to 9s
	// for driving and 10s for removal.
	ScrewTime time.Duration

	GripperOpen  *int
	GripperClose *int
}

// GripperScrewTransfer picks the hex bit, collects a screw from the
// supply, drives it into the target hole, and returns the bit to its
// holder.
func (r *UR) GripperScrewTransfer(ctx context.Context, req ScrewTransferRequest) (err error) {
	if req.Bit.IsZero() {
		return ErrMissingBit
	}
	if req.Screw.IsZero() {
		return ErrMissingSource
	}
	if req.Target.IsZero() {
		return ErrMissingTarget
	}
	if req.HexKey.IsZero() {
		return ErrMissingHexKey
	}
	screwTime := req.ScrewTime
	if screwTime <= 0 {
		screwTime = defaultScrewTime
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

	if err := gc.pick(ctx, req.Bit, urscript.AxisZ, 0); err != nil {
		return fmt.Errorf("pick driver bit: %w", err)
	}
	if err := r.homeLocked(ctx, req.Home); err != nil {
		return err
	}

	// Magnetize a screw out of the supply with the bit tip.
	aboveScrew := req.Screw
	aboveScrew[2] += screwAboveOffset
	if err := r.arm.MoveL(ctx, aboveScrew, r.cfg.Accel, r.cfg.Vel); err != nil {
		return fmt.Errorf("approach screw supply: %w", err)
	}
	if err := r.arm.MoveL(ctx, req.Screw, 0.2, 0.2); err != nil {
		return fmt.Errorf("reach screw supply: %w", err)
	}
	if err := r.arm.MoveL(ctx, aboveScrew, r.cfg.Accel, r.cfg.Vel); err != nil {
		return fmt.Errorf("retreat from screw supply: %w", err)
	}

	aboveTarget := req.Target
	aboveTarget[2] += screwTargetOffset
	if err := r.arm.MoveL(ctx, aboveTarget, r.cfg.Accel, r.cfg.Vel); err != nil {
		return fmt.Errorf("approach target hole: %w", err)
	}
	if err := r.arm.MoveL(ctx, req.Target, 0.2, 0.2); err != nil {
		return fmt.Errorf("reach target hole: %w", err)
	}

	r.logger.Infof("screwing down for %v", screwTime)
	if err := r.arm.SpeedLTool(ctx, screwDriveTwist, twistAccel, screwTime); err != nil {
		return fmt.Errorf("drive screw: %w", err)
	}
	if err := r.retreatTool(ctx); err != nil {
		return err
	}

	if err := r.homeLocked(ctx, req.Home); err != nil {
		return err
	}
	if err := gc.place(ctx, req.HexKey, urscript.AxisZ, 0); err != nil {
		return fmt.Errorf("return driver bit: %w", err)
	}
	return r.homeLocked(ctx, req.Home)
}

// GripperUnscrew backs a screw out of the target hole with the hex bit
// and returns the bit to its holder. The loosened screw stays on the
// magnetized bit tip until the bit is racked.
func (r *UR) GripperUnscrew(ctx context.Context, req ScrewTransferRequest) (err error) {
	if req.Bit.IsZero() {
		return ErrMissingBit
	}
	if req.Target.IsZero() {
		return ErrMissingTarget
	}
	if req.HexKey.IsZero() {
		return ErrMissingHexKey
	}
	screwTime := req.ScrewTime
	if screwTime <= 0 {
		screwTime = defaultUnscrewTime
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

	if err := gc.pick(ctx, req.Bit, urscript.AxisZ, 0); err != nil {
		return fmt.Errorf("pick driver bit: %w", err)
	}
	if err := r.homeLocked(ctx, req.Home); err != nil {
		return err
	}

	aboveTarget := req.Target
	aboveTarget[2] += screwTargetOffset
	if err := r.arm.MoveL(ctx, aboveTarget, r.cfg.Accel, r.cfg.Vel); err != nil {
		return fmt.Errorf("approach target hole: %w", err)
	}
	if err := r.arm.MoveL(ctx, req.Target, 0.2, 0.2); err != nil {
		return fmt.Errorf("reach target hole: %w", err)
	}

	r.logger.Infof("unscrewing for %v", screwTime)
	if err := r.arm.SpeedLTool(ctx, screwBackTwist, twistAccel, screwTime); err != nil {
		return fmt.Errorf("back out screw: %w", err)
	}
	if err := r.retreatTool(ctx); err != nil {
		return err
	}

	if err := r.homeLocked(ctx, req.Home); err != nil {
		return err
	}
	if err := gc.place(ctx, req.HexKey, urscript.AxisZ, 0); err != nil {
		return fmt.Errorf("return driver bit: %w", err)
	}
	return r.homeLocked(ctx, req.Home)
}

// retreatTool lifts the tool straight off the work in the tool frame.
func (r *UR) retreatTool(ctx context.Context) error {
	if err := r.arm.TranslateTool(ctx, screwRetreat, defaultAccel, defaultVel); err != nil {
		return fmt.Errorf("retreat tool: %w", err)
	}
	return nil
}
