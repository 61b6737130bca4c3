package dashboard

import (
	"context"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// Status is a combined controller snapshot.
type Status struct {
	Mode   Mode
	Safety Safety
}

// Status reads the robot mode and safety status in one pass.
func (c *Client) Status(ctx context.Context) (Status, error) {
	mode, err := c.RobotMode(ctx)
	if err != nil {
		return Status{}, err
	}
	safety, err := c.SafetyStatus(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{Mode: mode, Safety: safety}, nil
}

// Initialize drives the controller to RUNNING with NORMAL safety. Each pass
// reads the status and applies the single highest-priority recovery step:
//
//	protective stop        -> unlock protective stop
//	any other safety fault -> close popup, restart safety, brake release
//	manual operational mode -> set operational mode automatic
//	RUNNING and NORMAL     -> done
//	powered off or idle    -> brake release
//
// A controller already in the goal state causes no state-changing commands.
// The loop is bounded by MaxInitAttempts; exhausting it returns
// ErrInitFailed wrapped with the last observed status.
func (c *Client) Initialize(ctx context.Context) error {
	var last Status
	for attempt := 1; attempt <= c.cfg.MaxInitAttempts; attempt++ {
		st, err := c.Status(ctx)
		if err != nil {
			return errors.Wrap(err, "read controller status")
		}
		last = st
		c.logger.Infof("initialize attempt %d: mode %s safety %s", attempt, st.Mode, st.Safety)

		done, err := c.recoverOnce(ctx, st)
		if err != nil {
			return err
		}
		if done {
			c.logger.Infof("controller operational after %d attempt(s)", attempt)
			return nil
		}
		if !goutils.SelectContextOrWait(ctx, c.cfg.AttemptInterval) {
			return ctx.Err()
		}
	}
	return errors.Wrapf(ErrInitFailed, "after %d attempts, mode %s safety %s",
		c.cfg.MaxInitAttempts, last.Mode, last.Safety)
}

// recoverOnce applies one recovery step for the given status and reports
// whether the controller is operational.
func (c *Client) recoverOnce(ctx context.Context, st Status) (bool, error) {
	switch {
	case st.Safety == SafetyProtectiveStop:
		c.logger.Warnf("protective stop reported, unlocking")
		return false, c.UnlockProtectiveStop(ctx)

	case st.Safety != SafetyNormal:
		c.logger.Warnf("safety status %s, restarting safety", st.Safety)
		if err := c.CloseSafetyPopup(ctx); err != nil {
			c.logger.Debugf("close safety popup: %v", err)
		}
		return false, c.RestartSafety(ctx)
	}

	om, err := c.OperationalMode(ctx)
	if err != nil {
		return false, errors.Wrap(err, "read operational mode")
	}
	if om == OperationalManual {
		c.logger.Infof("operational mode MANUAL, switching to automatic")
		return false, c.SetOperationalMode(ctx, OperationalAutomatic)
	}

	if st.Mode == ModeRunning {
		return true, nil
	}

	switch st.Mode {
	case ModePowerOff, ModeBooting, ModePowerOn, ModeIdle:
		c.logger.Infof("robot mode %s, releasing brakes", st.Mode)
		return false, c.BrakeRelease(ctx)
	default:
		c.logger.Warnf("robot mode %s has no recovery step, waiting", st.Mode)
		return false, nil
	}
}
