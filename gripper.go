package urcell

import (
	"context"
	"fmt"

	"github.com/benchcell/urcell/robotiq"
	"github.com/benchcell/urcell/urscript"
	"go.uber.org/multierr"
)

// Approach and grip motion defaults. Pick and place moves run slower than
// free moves so labware is not jostled on contact.
const (
	defaultApproachDistance = 0.05

	gripAccel = 0.5
	gripVel   = 0.2
)

// gripperController pairs one live gripper session with the arm for pick
// and place sequences. Tasks create one, use it, and close it before
// returning.
type gripperController struct {
	r *UR
	g fingerGripper

	openPos  int
	closePos int
	speed    int
	force    int
}

// newGripperController dials the gripper, activates it if needed, and
// opens the jaws. nil register overrides fall back to the workcell
// defaults.
func (r *UR) newGripperController(ctx context.Context, openPos, closePos *int) (*gripperController, error) {
	g, err := r.dialGripper(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect gripper: %w", err)
	}
	gc := &gripperController{
		r:        r,
		g:        g,
		openPos:  registerValue(openPos, r.cfg.GripperOpen),
		closePos: registerValue(closePos, r.cfg.GripperClose),
		speed:    r.cfg.GripperSpeed,
		force:    r.cfg.GripperForce,
	}
	if err := g.Activate(ctx); err != nil {
		return nil, multierr.Combine(fmt.Errorf("activate gripper: %w", err), g.Close())
	}
	if err := gc.openJaws(ctx); err != nil {
		return nil, multierr.Combine(err, g.Close())
	}
	return gc, nil
}

func registerValue(override *int, fallback int) int {
	if override != nil {
		return *override
	}
	return fallback
}

// openJaws drives the gripper to its open register and waits for it.
func (gc *gripperController) openJaws(ctx context.Context) error {
	if _, err := gc.g.MoveAndWait(ctx, gc.openPos, gc.speed, gc.force); err != nil {
		return fmt.Errorf("open gripper: %w", err)
	}
	return nil
}

// closeJaws closes the gripper and reports whether it stopped on an object.
func (gc *gripperController) closeJaws(ctx context.Context) (robotiq.ObjectStatus, error) {
	obj, err := gc.g.MoveAndWait(ctx, gc.closePos, gc.speed, gc.force)
	if err != nil {
		return obj, fmt.Errorf("close gripper: %w", err)
	}
	return obj, nil
}

// pick approaches goal along axis, descends, closes on the object, and
// retreats to the approach point.
func (gc *gripperController) pick(ctx context.Context, goal urscript.Pose, axis urscript.Axis, distance float64) error {
	if distance == 0 {
		distance = defaultApproachDistance
	}
	above, err := goal.Above(axis, distance)
	if err != nil {
		return err
	}

	gc.r.logger.Debugf("moving above pick goal")
	if err := gc.r.arm.MoveL(ctx, above, gripAccel, gripVel); err != nil {
		return fmt.Errorf("approach pick goal: %w", err)
	}
	if err := gc.r.arm.MoveL(ctx, goal, gripAccel, gripVel); err != nil {
		return fmt.Errorf("reach pick goal: %w", err)
	}

	obj, err := gc.closeJaws(ctx)
	if err != nil {
		return err
	}
	if !obj.Detected() {
		gc.r.logger.Warnf("gripper closed without detecting an object (%s)", obj)
	}

	if err := gc.r.arm.MoveL(ctx, above, gripAccel, gripVel); err != nil {
		return fmt.Errorf("retreat from pick goal: %w", err)
	}
	return nil
}

// place approaches goal along axis, descends, opens the jaws, and
// retreats to the approach point.
func (gc *gripperController) place(ctx context.Context, goal urscript.Pose, axis urscript.Axis, distance float64) error {
	if distance == 0 {
		distance = defaultApproachDistance
	}
	above, err := goal.Above(axis, distance)
	if err != nil {
		return err
	}

	gc.r.logger.Debugf("moving above place goal")
	if err := gc.r.arm.MoveL(ctx, above, gripAccel, gripVel); err != nil {
		return fmt.Errorf("approach place goal: %w", err)
	}
	if err := gc.r.arm.MoveL(ctx, goal, gripAccel, gripVel); err != nil {
		return fmt.Errorf("reach place goal: %w", err)
	}
	if err := gc.openJaws(ctx); err != nil {
		return err
	}
	if err := gc.r.arm.MoveL(ctx, above, gripAccel, gripVel); err != nil {
		return fmt.Errorf("retreat from place goal: %w", err)
	}
	return nil
}

// Close disconnects the gripper session.
func (gc *gripperController) Close() error {
	return gc.g.Close()
}
