package urcell

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestAssembleCell(t *testing.T) {
	tc := newTestCell(t)

	if err := AssembleCell(context.Background(), tc.r); err != nil {
		t.Fatal(err)
	}

	// Every phase that needs the finger gripper opens its own session.
	if tc.gripperDials != 7 {
		t.Errorf("gripper sessions = %d, want 7", tc.gripperDials)
	}

	// Three tool pickups at 1.2 kg, each returned to the bare coupler.
	wantPayloads := []float64{1.2, 0.12, 1.2, 0.12, 1.2, 0.12}
	if len(tc.arm.payloads) != len(wantPayloads) {
		t.Fatalf("payloads = %v", tc.arm.payloads)
	}
	for i := range wantPayloads {
		if tc.arm.payloads[i] != wantPayloads[i] {
			t.Errorf("payload %d = %g, want %g", i, tc.arm.payloads[i], wantPayloads[i])
		}
	}

	// Two screws, one uncap, one recap.
	if spins := tc.arm.movesOf("speedl"); len(spins) != 4 {
		t.Errorf("speedl count = %d", len(spins))
	}

	// The sample volume rides through to the pump.
	var sawPickup bool
	for _, op := range tc.pump.log() {
		if op == "pickup 9" {
			sawPickup = true
		}
	}
	if !sawPickup {
		t.Errorf("pump ops = %v, want a 9 increment pickup", tc.pump.log())
	}

	if tool := tc.r.CurrentTool(); tool != "" {
		t.Errorf("tool %q still mounted after the run", tool)
	}
}

func TestAssembleCellStopsOnCancel(t *testing.T) {
	tc := newTestCell(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := AssembleCell(ctx, tc.r); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := tc.arm.moveCount(); n != 0 {
		t.Errorf("arm moved %d times after cancel", n)
	}
}

func TestAssembleCellNamesFailedStep(t *testing.T) {
	tc := newTestCell(t)
	tc.arm.moveErr = errors.New("socket closed")

	err := AssembleCell(context.Background(), tc.r)
	if err == nil || !strings.Contains(err.Error(), "PickGripper") {
		t.Fatalf("err = %v, want the failed step named", err)
	}
}
