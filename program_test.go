package urcell

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benchcell/urcell/urscript"
)

func repeatJoints(j urscript.Joints, n int) []urscript.Joints {
	out := make([]urscript.Joints, n)
	for i := range out {
		out[i] = j
	}
	return out
}

func TestRunURPProgramRequiresName(t *testing.T) {
	tc := newTestCell(t)
	if _, err := tc.r.RunURPProgram(context.Background(), ProgramRequest{}); !errors.Is(err, ErrMissingProgram) {
		t.Fatalf("err = %v, want ErrMissingProgram", err)
	}
	if entries := tc.dash.entries(); len(entries) != 0 {
		t.Errorf("dashboard commands issued: %v", entries)
	}
}

// The run finishes only after six consecutive unchanged joint snapshots,
// and a single changed snapshot starts the count over.
func TestRunURPProgramWaitsForSettledJoints(t *testing.T) {
	tc := newTestCell(t)
	early := urscript.Joints{0.5, -1.2, 0.3, -2.0, 1.5, -1.0}
	blip := urscript.Joints{0.9, -1.2, 0.3, -2.0, 1.5, -1.0}
	late := urscript.Joints{0.5, -1.6, 0.3, -2.0, 1.5, -1.0}

	// Six identical snapshots only yield five consecutive matches, since
	// the first poll has nothing to compare against. The blip then wipes
	// the streak, and seven late snapshots carry it to six.
	var queue []urscript.Joints
	queue = append(queue, repeatJoints(early, 6)...)
	queue = append(queue, blip)
	queue = append(queue, repeatJoints(late, 7)...)
	tc.arm.jointsQ = queue

	result, err := tc.r.RunURPProgram(context.Background(), ProgramRequest{Name: "mix.urp"})
	if err != nil {
		t.Fatal(err)
	}

	if got := tc.arm.jointReads; got != 14 {
		t.Errorf("joint polls = %d, want 14", got)
	}
	if result.Program != "mix.urp" {
		t.Errorf("result program = %q", result.Program)
	}
	if result.State != "STOPPED" {
		t.Errorf("result state = %q", result.State)
	}
	if result.Elapsed <= 0 {
		t.Errorf("result elapsed = %v", result.Elapsed)
	}

	entries := tc.dash.entries()
	var sawLoad, sawPlay bool
	for _, e := range entries {
		switch e {
		case "load /programs/mix.urp":
			sawLoad = true
		case "play":
			sawPlay = true
		}
	}
	if !sawLoad || !sawPlay {
		t.Errorf("dashboard log = %v", entries)
	}
}

func TestRunURPProgramUploadsLocalFile(t *testing.T) {
	tc := newTestCell(t)
	tc.arm.joints = urscript.Joints{1, 1, 1, 1, 1, 1}

	_, err := tc.r.RunURPProgram(context.Background(), ProgramRequest{
		LocalPath: "testdata/wash.urp",
		Name:      "wash.urp",
	})
	if err != nil {
		t.Fatal(err)
	}

	entries := tc.dash.entries()
	order := map[string]int{}
	for i, e := range entries {
		if strings.HasPrefix(e, "transfer") || strings.HasPrefix(e, "load") || e == "play" {
			if _, seen := order[e]; !seen {
				order[e] = i
			}
		}
	}
	transferAt, ok := order["transfer testdata/wash.urp -> /programs/wash.urp"]
	if !ok {
		t.Fatalf("no upload in dashboard log: %v", entries)
	}
	loadAt, ok := order["load /programs/wash.urp"]
	if !ok {
		t.Fatalf("no load in dashboard log: %v", entries)
	}
	if transferAt > loadAt || loadAt > order["play"] {
		t.Errorf("out of order dashboard log: %v", entries)
	}
}

func TestRunURPProgramChecksLoadedProgram(t *testing.T) {
	tc := newTestCell(t)
	tc.dash.loadedOverride = "/programs/other.urp"

	_, err := tc.r.RunURPProgram(context.Background(), ProgramRequest{Name: "mix.urp"})
	if err == nil || !strings.Contains(err.Error(), "other.urp") {
		t.Fatalf("err = %v, want loaded-program mismatch", err)
	}

	for _, e := range tc.dash.entries() {
		if e == "play" {
			t.Error("play issued for the wrong loaded program")
		}
	}
}

func TestRunURPProgramTimesOut(t *testing.T) {
	tc := newTestCell(t)
	tc.arm.jointErr = errors.New("no state stream")

	_, err := tc.r.RunURPProgram(context.Background(), ProgramRequest{
		Name:    "mix.urp",
		Timeout: 20 * time.Millisecond,
	})
	if !errors.Is(err, ErrProgramTimeout) {
		t.Fatalf("err = %v, want ErrProgramTimeout", err)
	}
}

func TestRunURPProgramHonorsContext(t *testing.T) {
	tc := newTestCell(t)
	tc.arm.jointErr = errors.New("no state stream")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tc.r.RunURPProgram(ctx, ProgramRequest{Name: "mix.urp"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestComposeScrewProgram(t *testing.T) {
	tc := newTestCell(t)
	dir := t.TempDir()
	home := urscript.Joints{0, -1.57, 1.57, -1.57, -1.57, 0}
	target := urscript.Pose{0.3, -0.1, 0.2, 0, 3.14159, 0}

	req, err := tc.r.ComposeScrewProgram(dir, "fasten.urp", &home, target, 250, 100)
	if err != nil {
		t.Fatal(err)
	}
	if req.Name != "fasten.urp" {
		t.Errorf("request name = %q", req.Name)
	}
	if req.LocalPath != filepath.Join(dir, "fasten.urp") {
		t.Errorf("request path = %q", req.LocalPath)
	}

	data, err := os.ReadFile(req.LocalPath)
	if err != nil {
		t.Fatalf("read composed program: %v", err)
	}
	text := string(data)
	for _, want := range []string{
		"movej([0.000000, -1.570000, 1.570000, -1.570000, -1.570000, 0.000000], a=1.20, v=0.75)",
		"movel(p[0.300000, -0.100000, 0.260000, 0.000000, 3.141590, 0.000000], a=1.20, v=0.75, r=0.001)",
		"movel(p[0.300000, -0.100000, 0.200000, 0.000000, 3.141590, 0.000000], a=1.20, v=0.75, r=0)",
		"def activate_tool():",
		"set_analog_out(0, 250)",
		"set_analog_out(1, 100)",
		"def deactivate_tool():",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("composed program missing %q", want)
		}
	}
}

func TestComposeScrewProgramValidation(t *testing.T) {
	tc := newTestCell(t)
	target := urscript.Pose{0.3, -0.1, 0.2, 0, 3.14159, 0}

	if _, err := tc.r.ComposeScrewProgram(t.TempDir(), "", nil, target, 250, 100); !errors.Is(err, ErrMissingProgram) {
		t.Fatalf("err = %v, want ErrMissingProgram", err)
	}
	if _, err := tc.r.ComposeScrewProgram(t.TempDir(), "fasten.urp", nil, urscript.Pose{}, 250, 100); !errors.Is(err, ErrMissingTarget) {
		t.Fatalf("err = %v, want ErrMissingTarget", err)
	}
}
