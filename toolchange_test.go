package urcell

import (
	"context"
	"errors"
	"testing"

	"github.com/benchcell/urcell/urscript"
)

func TestPickToolSequence(t *testing.T) {
	tc := newTestCell(t)
	dock := urscript.Pose{-0.1, -0.45, 0.2, 1.2, -1.2, 1.2}

	err := tc.r.PickTool(context.Background(), ToolRequest{
		Dock:      dock,
		PayloadKG: 1.2,
		Name:      "gripper",
	})
	if err != nil {
		t.Fatal(err)
	}

	// The controller learns the tool mass before the arm moves at all.
	if len(tc.arm.payloads) != 1 || tc.arm.payloads[0] != 1.2 {
		t.Fatalf("payloads = %v", tc.arm.payloads)
	}

	linear := tc.arm.movesOf("movel")
	if len(linear) != 3 {
		t.Fatalf("movel count = %d", len(linear))
	}

	// Stage in front of the holster along the default y axis.
	staging := dock
	staging[1] += 0.05
	if linear[0].pose != staging {
		t.Errorf("staging pose = %v, want %v", linear[0].pose, staging)
	}

	// Couple and lift run at dock speed.
	if linear[1].pose != dock || linear[1].accel != 0.1 || linear[1].vel != 0.1 {
		t.Errorf("couple move = %+v", linear[1])
	}
	lift := dock
	lift[2] += 0.05
	if linear[2].pose != lift || linear[2].vel != 0.1 {
		t.Errorf("lift move = %+v", linear[2])
	}

	if tool := tc.r.CurrentTool(); tool != "gripper" {
		t.Errorf("current tool = %q", tool)
	}
}

func TestPickToolRequiresDock(t *testing.T) {
	tc := newTestCell(t)
	err := tc.r.PickTool(context.Background(), ToolRequest{Name: "gripper"})
	if !errors.Is(err, ErrMissingDock) {
		t.Fatalf("err = %v, want ErrMissingDock", err)
	}
	if n := tc.arm.moveCount(); n != 0 {
		t.Errorf("arm moved %d times", n)
	}
	if len(tc.arm.payloads) != 0 {
		t.Errorf("payload set without a dock: %v", tc.arm.payloads)
	}
}

func TestPlaceToolSequence(t *testing.T) {
	tc := newTestCell(t)
	tc.r.setCurrentTool("pipette")
	dock := urscript.Pose{-0.1, -0.45, 0.2, 1.2, -1.2, 1.2}

	err := tc.r.PlaceTool(context.Background(), ToolRequest{Dock: dock, Name: "pipette"})
	if err != nil {
		t.Fatal(err)
	}

	linear := tc.arm.movesOf("movel")
	if len(linear) != 3 {
		t.Fatalf("movel count = %d", len(linear))
	}

	// Lower in from above, seat, then back out laterally.
	lower := dock
	lower[2] += 0.05
	if linear[0].pose != lower {
		t.Errorf("lower pose = %v, want %v", linear[0].pose, lower)
	}
	if linear[1].pose != dock || linear[1].vel != 0.1 {
		t.Errorf("seat move = %+v", linear[1])
	}
	exit := dock
	exit[1] += 0.05
	if linear[2].pose != exit {
		t.Errorf("exit pose = %v, want %v", linear[2].pose, exit)
	}

	// The payload drops back to the bare coupler and the tool slot clears.
	if len(tc.arm.payloads) != 1 || tc.arm.payloads[0] != 0.12 {
		t.Errorf("payloads = %v", tc.arm.payloads)
	}
	if tool := tc.r.CurrentTool(); tool != "" {
		t.Errorf("current tool = %q after placing", tool)
	}
}

func TestToolRequestCustomAxis(t *testing.T) {
	tc := newTestCell(t)
	dock := urscript.Pose{-0.1, -0.45, 0.2, 1.2, -1.2, 1.2}

	err := tc.r.PickTool(context.Background(), ToolRequest{
		Dock:             dock,
		DockingAxis:      "-x",
		ApproachDistance: 0.08,
	})
	if err != nil {
		t.Fatal(err)
	}

	linear := tc.arm.movesOf("movel")
	staging := dock
	staging[0] -= 0.08
	if linear[0].pose != staging {
		t.Errorf("staging pose = %v, want %v", linear[0].pose, staging)
	}
}
