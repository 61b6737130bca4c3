package urcell

import (
	"context"
	"fmt"
	"time"
)

// Assembly grip registers: the cell body rides in a wide grip, caps and
// the hex bit in a narrow one.
var (
	cellGripOpen   = 190
	cellGripClose  = 240
	smallGripOpen  = 120
	smallGripClose = 200
)

// AssembleCell runs one full test-cell assembly: stage the cell, drive
// the first lid screw, flip the cell, fill the sample with the pipette,
// recap, drive the second screw, and return the cell to its holder. The
// sequence swaps end effectors between phases the same way an operator
// works the deck.
func AssembleCell(ctx context.Context, r *UR) error {
	steps := []struct {
		name string
		fn   func(context.Context, *UR) error
	}{
		{"PickGripper", pickGripper},
		{"StageCell", stageCell},
		{"DriveFirstScrew", driveFirstScrew},
		{"FlipCell", flipCell},
		{"UncapVial", uncapVial},
		{"SwapToPipette", swapToPipette},
		{"TransferSample", transferSample},
		{"SwapToGripper", swapToGripper},
		{"RecapVial", recapVial},
		{"DriveSecondScrew", driveSecondScrew},
		{"ReturnCell", returnCell},
		{"ParkGripper", parkGripper},
	}

	for _, step := range steps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.logger.Infof("=== %s ===", step.name)
		if err := step.fn(ctx, r); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}

	r.logger.Infof("cell assembly complete")
	return nil
}

func pickGripper(ctx context.Context, r *UR) error {
	home := HomeJoints
	return r.PickTool(ctx, ToolRequest{
		Home: &home, Dock: GripperDock, PayloadKG: 1.2, Name: "gripper",
	})
}

func stageCell(ctx context.Context, r *UR) error {
	home := HomeJoints
	return r.GripperTransfer(ctx, TransferRequest{
		Home:               &home,
		Source:             CellHolder,
		Target:             AssemblyDeck,
		SourceApproachAxis: "z",
		TargetApproachAxis: "y",
		GripperOpen:        &cellGripOpen,
		GripperClose:       &cellGripClose,
	})
}

func driveFirstScrew(ctx context.Context, r *UR) error {
	home := HomeJoints
	return r.GripperScrewTransfer(ctx, ScrewTransferRequest{
		Home:         &home,
		Bit:          HexKeyHolder,
		Screw:        CellScrewFirst,
		Target:       AssemblyAbove,
		HexKey:       HexKeyHolder,
		ScrewTime:    10 * time.Second,
		GripperOpen:  &smallGripOpen,
		GripperClose: &smallGripClose,
	})
}

func flipCell(ctx context.Context, r *UR) error {
	home := HomeJoints
	return r.PickAndFlipObject(ctx, FlipRequest{
		Home:         &home,
		Target:       AssemblyDeck,
		ApproachAxis: "y",
		GripperOpen:  &cellGripOpen,
		GripperClose: &cellGripClose,
	})
}

func uncapVial(ctx context.Context, r *UR) error {
	home := HomeJoints
	return r.RemoveCap(ctx, CapRequest{
		Home:         &home,
		Source:       VialCap,
		Target:       VialCapHolder,
		GripperOpen:  &smallGripOpen,
		GripperClose: &smallGripClose,
	})
}

func swapToPipette(ctx context.Context, r *UR) error {
	home := HomeJoints
	if err := r.PlaceTool(ctx, ToolRequest{Home: &home, Dock: GripperDock, Name: "gripper"}); err != nil {
		return err
	}
	return r.PickTool(ctx, ToolRequest{
		Home: &home, Dock: PipetteDock, PayloadKG: 1.2, Name: "pipette",
	})
}

func transferSample(ctx context.Context, r *UR) error {
	home := HomeJoints
	return r.PipetteTransfer(ctx, PipetteRequest{
		Home:     &home,
		TipRack:  TipRackFirst,
		TipTrash: TipTrash,
		Source:   SampleSource,
		Target:   SampleDispense,
		Volume:   9,
	})
}

func swapToGripper(ctx context.Context, r *UR) error {
	home := HomeJoints
	if err := r.PlaceTool(ctx, ToolRequest{Home: &home, Dock: PipetteDock, Name: "pipette"}); err != nil {
		return err
	}
	return r.PickTool(ctx, ToolRequest{
		Home: &home, Dock: GripperDock, PayloadKG: 1.2, Name: "gripper",
	})
}

func recapVial(ctx context.Context, r *UR) error {
	home := HomeJoints
	return r.PlaceCap(ctx, CapRequest{
		Home:         &home,
		Source:       VialCapHolder,
		Target:       VialCap,
		GripperOpen:  &smallGripOpen,
		GripperClose: &smallGripClose,
	})
}

func driveSecondScrew(ctx context.Context, r *UR) error {
	home := HomeJoints
	return r.GripperScrewTransfer(ctx, ScrewTransferRequest{
		Home:         &home,
		Bit:          HexKeyHolder,
		Screw:        CellScrewSecond,
		Target:       AssemblyAbove,
		HexKey:       HexKeyHolder,
		ScrewTime:    10 * time.Second,
		GripperOpen:  &smallGripOpen,
		GripperClose: &smallGripClose,
	})
}

func returnCell(ctx context.Context, r *UR) error {
	home := HomeJoints
	return r.GripperTransfer(ctx, TransferRequest{
		Home:               &home,
		Source:             AssemblyDeck,
		Target:             CellHolder,
		SourceApproachAxis: "y",
		TargetApproachAxis: "z",
		GripperOpen:        &cellGripOpen,
		GripperClose:       &cellGripClose,
	})
}

func parkGripper(ctx context.Context, r *UR) error {
	home := HomeJoints
	return r.PlaceTool(ctx, ToolRequest{Home: &home, Dock: GripperDock, Name: "gripper"})
}
