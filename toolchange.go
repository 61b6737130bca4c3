package urcell

import (
	"context"
	"fmt"

	"github.com/benchcell/urcell/urscript"
)

// The tool docks hold each end effector in a passive holster: the wrist
// plate slides in laterally along the docking axis and lifts the tool
// out vertically. Dock moves run slow so the coupler plates seat cleanly.
const (
	defaultToolPayloadKG = 0.12

	toolLiftOffset = 0.05
	toolDockAccel  = 0.1
	toolDockVel    = 0.1
)

// ToolRequest describes picking an end effector from its dock or
// returning it.
type ToolRequest struct {
	Home *urscript.Joints

	// Dock is the tool's holster pose.
	Dock urscript.Pose

	// DockingAxis is the lateral slide direction into the holster.
	// Defaults to y.
	DockingAxis string

	// ApproachDistance is the staging offset from the dock along the
	// docking axis. Defaults to 0.05 m.
	ApproachDistance float64

	// PayloadKG is the mass the controller compensates for once the
	// tool is mounted. Defaults to the bare coupler's 0.12 kg.
	PayloadKG float64

	// Name labels the mounted tool for CurrentTool.
	Name string
}

// PickTool collects an end effector from its dock: stage in front of the
// holster, slide the coupler in, and lift the tool out.
func (r *UR) PickTool(ctx context.Context, req ToolRequest) error {
	if req.Dock.IsZero() {
		return ErrMissingDock
	}
	axis, distance, err := dockApproach(req)
	if err != nil {
		return err
	}
	payload := req.PayloadKG
	if payload == 0 {
		payload = defaultToolPayloadKG
	}

	r.motionMu.Lock()
	defer r.motionMu.Unlock()

	if err := r.arm.SetPayload(payload); err != nil {
		return fmt.Errorf("set payload: %w", err)
	}
	if err := r.homeLocked(ctx, req.Home); err != nil {
		return err
	}

	staging, err := req.Dock.Above(axis, distance)
	if err != nil {
		return err
	}
	lift, err := req.Dock.Above(urscript.AxisZ, toolLiftOffset)
	if err != nil {
		return err
	}

	r.logger.Infof("picking tool %q from its dock", req.Name)
	if err := r.arm.MoveL(ctx, staging, r.cfg.Accel, r.cfg.Vel); err != nil {
		return fmt.Errorf("stage at dock: %w", err)
	}
	if err := r.arm.MoveL(ctx, req.Dock, toolDockAccel, toolDockVel); err != nil {
		return fmt.Errorf("couple tool: %w", err)
	}
	if err := r.arm.MoveL(ctx, lift, toolDockAccel, toolDockVel); err != nil {
		return fmt.Errorf("lift tool out: %w", err)
	}

	r.setCurrentTool(req.Name)
	return r.homeLocked(ctx, req.Home)
}

// PlaceTool returns the mounted end effector to its dock: lower it into
// the holster, then back the coupler out laterally.
func (r *UR) PlaceTool(ctx context.Context, req ToolRequest) error {
	if req.Dock.IsZero() {
		return ErrMissingDock
	}
	axis, distance, err := dockApproach(req)
	if err != nil {
		return err
	}

	r.motionMu.Lock()
	defer r.motionMu.Unlock()

	if err := r.homeLocked(ctx, req.Home); err != nil {
		return err
	}

	lower, err := req.Dock.Above(urscript.AxisZ, toolLiftOffset)
	if err != nil {
		return err
	}
	exit, err := req.Dock.Above(axis, distance)
	if err != nil {
		return err
	}

	r.logger.Infof("returning tool %q to its dock", req.Name)
	if err := r.arm.MoveL(ctx, lower, r.cfg.Accel, r.cfg.Vel); err != nil {
		return fmt.Errorf("approach dock: %w", err)
	}
	if err := r.arm.MoveL(ctx, req.Dock, toolDockAccel, toolDockVel); err != nil {
		return fmt.Errorf("seat tool: %w", err)
	}
	if err := r.arm.MoveL(ctx, exit, toolDockAccel, toolDockVel); err != nil {
		return fmt.Errorf("back out of dock: %w", err)
	}

	if err := r.arm.SetPayload(defaultToolPayloadKG); err != nil {
		return fmt.Errorf("reset payload: %w", err)
	}
	r.setCurrentTool("")
	return r.homeLocked(ctx, req.Home)
}

// dockApproach resolves the docking axis (default y) and staging
// distance for a tool request.
func dockApproach(req ToolRequest) (urscript.Axis, float64, error) {
	axisName := req.DockingAxis
	if axisName == "" {
		axisName = string(urscript.AxisY)
	}
	axis, err := urscript.ParseAxis(axisName)
	if err != nil {
		return "", 0, fmt.Errorf("docking axis: %w", err)
	}
	distance := req.ApproachDistance
	if distance == 0 {
		distance = defaultApproachDistance
	}
	return axis, distance, nil
}
