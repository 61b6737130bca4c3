package urcell

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/benchcell/urcell/dashboard"
	"github.com/benchcell/urcell/urp"
	"github.com/benchcell/urcell/urscript"
)

// readyPollsRequired is how many consecutive unchanged joint snapshots
// mark an on-controller program as finished.
const readyPollsRequired = 6

// ProgramRequest names a PolyScope program to run on the controller.
type ProgramRequest struct {
	// LocalPath, when set, uploads the program file before loading it.
	LocalPath string

	// Name is the program file name on the controller, e.g. "mix.urp".
	Name string

	// PollInterval and Timeout override the workcell defaults (3s poll,
	// 10m timeout).
	PollInterval time.Duration
	Timeout      time.Duration
}

// ProgramResult reports a finished program run.
type ProgramResult struct {
	Program string
	Elapsed time.Duration
	State   string
}

// RunURPProgram loads and starts a program on the controller, then polls
// the arm's joints until they hold still for six consecutive polls. Any
// observed joint change resets the count. The run fails with
// ErrProgramTimeout when the joints never settle within the timeout.
func (r *UR) RunURPProgram(ctx context.Context, req ProgramRequest) (*ProgramResult, error) {
	if req.Name == "" {
		return nil, ErrMissingProgram
	}
	pollInterval := req.PollInterval
	if pollInterval <= 0 {
		pollInterval = r.cfg.ProgramPollInterval
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.cfg.ProgramTimeout
	}
	remote := path.Join(dashboard.DefaultProgramDir, req.Name)

	r.motionMu.Lock()
	defer r.motionMu.Unlock()

	if req.LocalPath != "" {
		if err := r.dashboard.TransferProgram(ctx, req.LocalPath, remote); err != nil {
			return nil, fmt.Errorf("upload program: %w", err)
		}
	}
	if err := r.dashboard.Load(ctx, remote); err != nil {
		return nil, fmt.Errorf("load program: %w", err)
	}
	loaded, err := r.dashboard.LoadedProgram(ctx)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(loaded, req.Name) {
		return nil, fmt.Errorf("controller loaded %q, wanted %q", loaded, req.Name)
	}
	if err := r.dashboard.Play(ctx); err != nil {
		return nil, fmt.Errorf("start program: %w", err)
	}
	r.logger.Infof("running program %s", req.Name)

	// Joint polling decides completion. The dashboard keeps answering
	// "PLAYING" between program nodes, so program state alone is not a
	// reliable finish signal.
	r.resetMovementState()
	start := time.Now()
	deadline := start.Add(timeout)
	readyPolls := 0

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		state, err := r.MovementState()
		switch {
		case err != nil:
			r.logger.Warnf("movement poll failed: %v", err)
			readyPolls = 0
		case state == MovementReady:
			readyPolls++
		default:
			readyPolls = 0
		}
		if readyPolls >= readyPollsRequired {
			break
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s still moving after %v", ErrProgramTimeout, req.Name, timeout)
		}
	}

	elapsed := time.Since(start)
	state, err := r.dashboard.ProgramState(ctx)
	if err != nil {
		r.logger.Debugf("program state read failed: %v", err)
	}
	r.logger.Infof("finished program %s in %v", req.Name, elapsed.Round(time.Second))
	return &ProgramResult{Program: req.Name, Elapsed: elapsed, State: state}, nil
}

// ComposeScrewProgram writes a PolyScope script that homes the arm, blends
// down onto the screw at target, and drives it with the powered screwdriver.
// Motion rates come from the workcell config. The file lands in dir and the
// returned request is ready to hand to RunURPProgram, which uploads it.
func (r *UR) ComposeScrewProgram(dir, name string, home *urscript.Joints, target urscript.Pose, torque, rpm float64) (ProgramRequest, error) {
	if name == "" {
		return ProgramRequest{}, ErrMissingProgram
	}
	if target.IsZero() {
		return ProgramRequest{}, ErrMissingTarget
	}

	above := target
	above[2] += screwAboveOffset

	b := urp.NewBuilder(name)
	if home != nil {
		b.AddMoveJ(*home, r.cfg.AccelRadSS, r.cfg.SpeedRadS)
	}
	b.AddActivateTool()
	b.AddPath([]urscript.Pose{above, target}, r.cfg.AccelMSS, r.cfg.SpeedMS, r.cfg.BlendRadiusM)
	b.AddDriveScrew(torque, rpm)
	b.AddDeactivateTool()

	local := filepath.Join(dir, name)
	if err := b.WriteFile(local); err != nil {
		return ProgramRequest{}, err
	}
	r.logger.Debugf("composed screw program %s", local)
	return ProgramRequest{LocalPath: local, Name: name}, nil
}
