package urcell

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benchcell/urcell/urscript"
)

func screwTestRequest() ScrewTransferRequest {
	return ScrewTransferRequest{
		Bit:    urscript.Pose{0.3, 0.2, 0.1, 3.1, 0, 0},
		Screw:  urscript.Pose{0.4, 0.1, 0.05, 3.1, 0, 0},
		Target: urscript.Pose{0.5, -0.1, 0.08, 3.1, 0, 0},
		HexKey: urscript.Pose{0.3, 0.2, 0.1, 3.1, 0, 0},
	}
}

func TestGripperScrewTransferValidation(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*ScrewTransferRequest)
		want error
	}{
		{"bit", func(r *ScrewTransferRequest) { r.Bit = urscript.Pose{} }, ErrMissingBit},
		{"screw", func(r *ScrewTransferRequest) { r.Screw = urscript.Pose{} }, ErrMissingSource},
		{"target", func(r *ScrewTransferRequest) { r.Target = urscript.Pose{} }, ErrMissingTarget},
		{"hex key", func(r *ScrewTransferRequest) { r.HexKey = urscript.Pose{} }, ErrMissingHexKey},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			tc := newTestCell(t)
			req := screwTestRequest()
			c.mod(&req)
			if err := tc.r.GripperScrewTransfer(context.Background(), req); !errors.Is(err, c.want) {
				t.Fatalf("err = %v, want %v", err, c.want)
			}
			if n := tc.arm.moveCount(); n != 0 {
				t.Errorf("arm moved %d times before validation failed", n)
			}
		})
	}
}

func TestGripperScrewTransferSequence(t *testing.T) {
	tc := newTestCell(t)
	home := HomeJoints
	req := screwTestRequest()
	req.Home = &home

	if err := tc.r.GripperScrewTransfer(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	kinds := tc.arm.kinds()
	want := []string{
		"movej",                      // home
		"movel", "movel", "movel",    // pick bit
		"movej",                      // home
		"movel", "movel", "movel",    // collect screw from supply
		"movel", "movel",             // descend onto the hole
		"speedl", "translate",        // drive, lift off
		"movej",                      // home
		"movel", "movel", "movel",    // rack the bit
		"movej",                      // home
	}
	if len(kinds) != len(want) {
		t.Fatalf("moves = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("move %d = %s, want %s (all: %v)", i, kinds[i], want[i], kinds)
		}
	}

	linear := tc.arm.movesOf("movel")
	// Screw supply approach sits 6 cm up, the hole approach 3 cm.
	if got := linear[3].pose[2]; got != req.Screw[2]+0.06 {
		t.Errorf("supply approach z = %g", got)
	}
	if linear[4].pose != req.Screw || linear[4].vel != 0.2 {
		t.Errorf("supply reach = %+v", linear[4])
	}
	if got := linear[6].pose[2]; got != req.Target[2]+0.03 {
		t.Errorf("hole approach z = %g", got)
	}
	if linear[7].pose != req.Target || linear[7].vel != 0.2 {
		t.Errorf("hole reach = %+v", linear[7])
	}

	spins := tc.arm.movesOf("speedl")
	if len(spins) != 1 {
		t.Fatalf("speedl count = %d", len(spins))
	}
	if spins[0].twist != screwDriveTwist {
		t.Errorf("drive twist = %v", spins[0].twist)
	}
	if spins[0].accel != 2 || spins[0].dur != 9*time.Second {
		t.Errorf("drive held for %v at a=%g", spins[0].dur, spins[0].accel)
	}

	lifts := tc.arm.movesOf("translate")
	if len(lifts) != 1 || lifts[0].delta.Z != -0.03 {
		t.Errorf("retreat = %+v", lifts)
	}
}

func TestGripperScrewTransferCustomDuration(t *testing.T) {
	tc := newTestCell(t)
	req := screwTestRequest()
	req.ScrewTime = 10 * time.Second

	if err := tc.r.GripperScrewTransfer(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	spins := tc.arm.movesOf("speedl")
	if len(spins) != 1 || spins[0].dur != 10*time.Second {
		t.Errorf("drive duration = %+v", spins)
	}
}

func TestGripperUnscrewSequence(t *testing.T) {
	tc := newTestCell(t)
	req := screwTestRequest()
	req.Screw = urscript.Pose{}

	if err := tc.r.GripperUnscrew(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	spins := tc.arm.movesOf("speedl")
	if len(spins) != 1 {
		t.Fatalf("speedl count = %d", len(spins))
	}
	if spins[0].twist != screwBackTwist {
		t.Errorf("backout twist = %v", spins[0].twist)
	}
	if spins[0].dur != 10*time.Second {
		t.Errorf("backout held for %v", spins[0].dur)
	}

	// No screw supply visit on the way: pick bit, hole, rack bit.
	linear := tc.arm.movesOf("movel")
	if len(linear) != 8 {
		t.Fatalf("movel count = %d", len(linear))
	}
	if got := linear[3].pose[2]; got != req.Target[2]+0.03 {
		t.Errorf("hole approach z = %g", got)
	}
	if linear[4].pose != req.Target {
		t.Errorf("hole reach = %v", linear[4].pose)
	}
}
