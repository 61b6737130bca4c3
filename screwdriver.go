package urcell

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/benchcell/urcell/dashboard"
	"github.com/benchcell/urcell/urscript"
	"go.uber.org/multierr"
)

// The vacuum screwdriver is commanded over the controller's interpreter
// socket, which only accepts statements while the interpreter program is
// playing on the PolyScope.
const (
	interpreterProgram = "interpreter_mode.urp"

	// airSwitchOutput feeds the vacuum ejector.
	airSwitchOutput = 0

	screwdriverPayloadKG = 3

	pickScrewApproachHeight = 0.04
	pickScrewEngageHeight   = 0.01
	screwDownApproachHeight = 0.02

	driveAngleDeg = 200
	driveRPM      = 100
)

// ScrewdriverRequest describes a screw transfer with the Robotiq vacuum
// screwdriver.
type ScrewdriverRequest struct {
	Home *urscript.Joints

	// Source is the screw feeder position, Target the hole being driven.
	Source urscript.Pose
	Target urscript.Pose

	// LocalProgram is the interpreter program file on this machine,
	// uploaded when the controller does not already have it.
	LocalProgram string
}

// RobotiqScrewdriverTransfer vacuum-picks a screw at the source and
// drives it into the target hole.
func (r *UR) RobotiqScrewdriverTransfer(ctx context.Context, req ScrewdriverRequest) (err error) {
	if req.Source.IsZero() {
		return ErrMissingSource
	}
	if req.Target.IsZero() {
		return ErrMissingTarget
	}

	r.motionMu.Lock()
	defer r.motionMu.Unlock()

	if err := r.homeLocked(ctx, req.Home); err != nil {
		return err
	}
	if err := r.arm.SetPayload(screwdriverPayloadKG); err != nil {
		return fmt.Errorf("set screwdriver payload: %w", err)
	}

	driver, err := r.ensureInterpreter(ctx, req.LocalProgram)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, driver.Close())
	}()

	if err := r.pickScrew(ctx, driver, req.Source); err != nil {
		return fmt.Errorf("pick screw: %w", err)
	}
	if err := r.screwDown(ctx, driver, req.Target); err != nil {
		return fmt.Errorf("screw down: %w", err)
	}
	return r.homeLocked(ctx, req.Home)
}

// ensureInterpreter loads and starts the interpreter program on the
// controller, uploading it first if the controller does not have it, and
// dials the screwdriver once statements can be accepted. Loading the
// program occasionally leaves the controller powered down, so a failed
// start gets one re-initialize before giving up.
func (r *UR) ensureInterpreter(ctx context.Context, localProgram string) (screwDriver, error) {
	remote := path.Join(dashboard.DefaultProgramDir, interpreterProgram)

	err := r.dashboard.Load(ctx, remote)
	if errors.Is(err, dashboard.ErrProgramNotFound) && localProgram != "" {
		r.logger.Infof("interpreter program missing on controller, uploading %s", localProgram)
		if err := r.dashboard.TransferProgram(ctx, localProgram, remote); err != nil {
			return nil, fmt.Errorf("upload interpreter program: %w", err)
		}
		err = r.dashboard.Load(ctx, remote)
	}
	if err != nil {
		return nil, fmt.Errorf("load interpreter program: %w", err)
	}
	if err := r.dashboard.Play(ctx); err != nil {
		return nil, fmt.Errorf("start interpreter program: %w", err)
	}

	st, err := r.dashboard.Status(ctx)
	if err != nil {
		return nil, err
	}
	if st.Mode != dashboard.ModeRunning {
		r.logger.Warnf("controller mode %s after loading interpreter program, re-initializing", st.Mode)
		if err := r.dashboard.Initialize(ctx); err != nil {
			return nil, err
		}
		if err := r.dashboard.Play(ctx); err != nil {
			return nil, fmt.Errorf("restart interpreter program: %w", err)
		}
	}

	driver, err := r.dialDriver(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect screwdriver: %w", err)
	}
	return driver, nil
}

// pickScrew lowers the bit onto the feeder, pulls a screw onto the bit
// with vacuum, and seats it.
func (r *UR) pickScrew(ctx context.Context, driver screwDriver, screw urscript.Pose) error {
	above := screw
	above[2] += pickScrewApproachHeight
	engage := screw
	engage[2] += pickScrewEngageHeight

	r.logger.Infof("picking up a screw")
	if err := r.arm.MoveL(ctx, above, 1, 1); err != nil {
		return fmt.Errorf("approach feeder: %w", err)
	}
	if err := r.arm.MoveL(ctx, engage, 0.5, 0.5); err != nil {
		return fmt.Errorf("engage feeder: %w", err)
	}
	if err := r.arm.SetDigitalOut(airSwitchOutput, true); err != nil {
		return fmt.Errorf("open air switch: %w", err)
	}
	if err := driver.VacuumOn(ctx); err != nil {
		return fmt.Errorf("vacuum on: %w", err)
	}
	if err := driver.AutoScrew(ctx, 0); err != nil {
		return fmt.Errorf("seat screw on bit: %w", err)
	}
	if err := r.arm.MoveL(ctx, above, 1, 0.5); err != nil {
		return fmt.Errorf("retreat with screw: %w", err)
	}
	return nil
}

// screwDown drives the held screw into the target hole, then releases
// the vacuum and retreats.
func (r *UR) screwDown(ctx context.Context, driver screwDriver, target urscript.Pose) error {
	above := target
	above[2] += screwDownApproachHeight

	r.logger.Infof("screwing down to the target")
	if err := r.arm.MoveL(ctx, above, 1, 1); err != nil {
		return fmt.Errorf("approach target: %w", err)
	}
	if err := r.arm.SetDigitalOut(airSwitchOutput, true); err != nil {
		return fmt.Errorf("open air switch: %w", err)
	}
	if err := r.arm.MoveL(ctx, target, 1, 1); err != nil {
		return fmt.Errorf("reach target: %w", err)
	}
	if err := driver.VacuumOn(ctx); err != nil {
		return fmt.Errorf("vacuum on: %w", err)
	}
	if err := driver.AutoScrew(ctx, 250); err != nil {
		return fmt.Errorf("auto screw: %w", err)
	}
	if err := driver.Turn(ctx, driveAngleDeg, driveRPM, true); err != nil {
		return fmt.Errorf("final drive: %w", err)
	}
	if err := driver.VacuumOff(ctx); err != nil {
		return fmt.Errorf("vacuum off: %w", err)
	}
	if err := r.arm.SetDigitalOut(airSwitchOutput, false); err != nil {
		return fmt.Errorf("close air switch: %w", err)
	}
	if err := r.arm.MoveL(ctx, above, 0.5, 0.5); err != nil {
		return fmt.Errorf("retreat from target: %w", err)
	}
	return nil
}
