package urcell

import (
	"context"
	"fmt"

	"github.com/benchcell/urcell/urscript"
	"go.uber.org/multierr"
)

// Pipette motion offsets. Tips are pressed on and scraped off, so the
// trash approach runs along y instead of the usual top-down z.
const (
	pipetteAboveOffset = 0.05

	defaultPipetteVolume = 10
)

// PipetteRequest describes a liquid transfer with the syringe pump
// pipette.
type PipetteRequest struct {
	Home *urscript.Joints

	// TipRack is the fresh tip position, TipTrash where the used tip is
	// ejected.
	TipRack  urscript.Pose
	TipTrash urscript.Pose

	Source urscript.Pose
	Target urscript.Pose

	// Volume to aspirate and dispense, in pump increments. Defaults
	// to 10.
	Volume int
}

// PipetteTransfer picks a fresh tip, aspirates at the source, dispenses
// at the target, and ejects the tip into the trash.
func (r *UR) PipetteTransfer(ctx context.Context, req PipetteRequest) (err error) {
	if req.TipRack.IsZero() || req.TipTrash.IsZero() {
		return ErrMissingTipRack
	}
	if req.Source.IsZero() {
		return ErrMissingSource
	}
	if req.Target.IsZero() {
		return ErrMissingTarget
	}
	volume := req.Volume
	if volume <= 0 {
		volume = defaultPipetteVolume
	}

	r.motionMu.Lock()
	defer r.motionMu.Unlock()

	if err := r.homeLocked(ctx, req.Home); err != nil {
		return err
	}

	pump, err := r.dialPump(ctx)
	if err != nil {
		return fmt.Errorf("connect pump: %w", err)
	}
	defer func() {
		err = multierr.Combine(err, pump.Close())
	}()
	if err := pump.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize pump: %w", err)
	}

	if err := r.pickTip(ctx, req.TipRack); err != nil {
		return err
	}
	if err := r.homeLocked(ctx, req.Home); err != nil {
		return err
	}

	// Aspirate at the source.
	if err := r.pipetteAt(ctx, req.Source, func() error {
		r.logger.Infof("aspirating %d increments", volume)
		return pump.Pickup(ctx, volume)
	}); err != nil {
		return fmt.Errorf("aspirate: %w", err)
	}

	// Dispense at the target.
	if err := r.pipetteAt(ctx, req.Target, func() error {
		r.logger.Infof("dispensing %d increments", volume)
		return pump.Dispense(ctx, volume)
	}); err != nil {
		return fmt.Errorf("dispense: %w", err)
	}

	if err := r.ejectTip(ctx, req.TipTrash, pump); err != nil {
		return err
	}
	return r.homeLocked(ctx, req.Home)
}

// pickTip presses the pipette nozzle into a fresh tip. The press runs
// slow so the tip seats without bending the rack.
func (r *UR) pickTip(ctx context.Context, rack urscript.Pose) error {
	above, err := rack.Above(urscript.AxisZ, pipetteAboveOffset)
	if err != nil {
		return err
	}
	if err := r.arm.MoveL(ctx, above, r.cfg.Accel, r.cfg.Vel); err != nil {
		return fmt.Errorf("approach tip rack: %w", err)
	}
	if err := r.arm.MoveL(ctx, rack, 0.1, 0.1); err != nil {
		return fmt.Errorf("press tip on: %w", err)
	}
	if err := r.arm.MoveL(ctx, above, r.cfg.Accel, r.cfg.Vel); err != nil {
		return fmt.Errorf("retreat from tip rack: %w", err)
	}
	return nil
}

// pipetteAt lowers the tip into the well at goal, runs the pump action,
// and retreats.
func (r *UR) pipetteAt(ctx context.Context, goal urscript.Pose, action func() error) error {
	above, err := goal.Above(urscript.AxisZ, pipetteAboveOffset)
	if err != nil {
		return err
	}
	if err := r.arm.MoveL(ctx, above, r.cfg.Accel, r.cfg.Vel); err != nil {
		return fmt.Errorf("approach well: %w", err)
	}
	if err := r.arm.MoveL(ctx, goal, 0.2, 0.2); err != nil {
		return fmt.Errorf("reach well: %w", err)
	}
	if err := action(); err != nil {
		return err
	}
	if err := r.arm.MoveL(ctx, above, r.cfg.Accel, r.cfg.Vel); err != nil {
		return fmt.Errorf("retreat from well: %w", err)
	}
	return nil
}

// ejectTip scrapes the used tip off against the trash edge and empties
// the pump stroke.
func (r *UR) ejectTip(ctx context.Context, trash urscript.Pose, pump pipettePump) error {
	above, err := trash.Above(urscript.AxisY, pipetteAboveOffset)
	if err != nil {
		return err
	}
	if err := r.arm.MoveL(ctx, above, r.cfg.Accel, r.cfg.Vel); err != nil {
		return fmt.Errorf("approach trash: %w", err)
	}
	if err := r.arm.MoveL(ctx, trash, 0.2, 0.2); err != nil {
		return fmt.Errorf("reach trash: %w", err)
	}
	if err := pump.MoveAbsolute(ctx, 0); err != nil {
		return fmt.Errorf("empty pump: %w", err)
	}
	if err := r.arm.MoveL(ctx, above, r.cfg.Accel, r.cfg.Vel); err != nil {
		return fmt.Errorf("retreat from trash: %w", err)
	}
	return nil
}
