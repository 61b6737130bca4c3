package urp

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benchcell/urcell/urscript"
)

func TestBuilderRendersBlocks(t *testing.T) {
	b := NewBuilder("assemble.urp")
	b.AddActivateTool()
	b.AddPickAndPlace(
		urscript.Pose{0.1, 0.2, 0.3, 0, 3.14159, 0},
		urscript.Pose{0.4, 0.5, 0.6, 0, 3.14159, 0},
		0.5, 0.5,
	)
	b.AddDriveScrew(250, 100)
	b.AddDeactivateTool()

	text := b.Render()
	for _, want := range []string{
		"def activate_tool():",
		"set_tool_voltage(24)",
		"def pick_and_place():",
		"movel(p[0.100000, 0.200000, 0.300000, 0.000000, 3.141590, 0.000000], a=0.50, v=0.50)",
		"movel(p[0.400000, 0.500000, 0.600000, 0.000000, 3.141590, 0.000000], a=0.50, v=0.50)",
		"def drive_screw():",
		"set_analog_out(0, 250)",
		"set_analog_out(1, 100)",
		"def deactivate_tool():",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("rendered program missing %q", want)
		}
	}
	if !strings.HasSuffix(text, "\n") {
		t.Error("rendered program should end with a newline")
	}
}

func TestBuilderMoveAndSleepLines(t *testing.T) {
	b := NewBuilder("moves.urp")
	b.AddMoveJ(urscript.Joints{0, -1.57, 1.57, 0, 0, 0}, 2, 2)
	b.AddSleep(1.5)

	text := b.Render()
	if !strings.Contains(text, "movej([0.000000, -1.570000, 1.570000, 0.000000, 0.000000, 0.000000], a=2.00, v=2.00)") {
		t.Errorf("movej line missing from %q", text)
	}
	if !strings.Contains(text, "sleep(1.5)") {
		t.Errorf("sleep line missing from %q", text)
	}
}

func TestBuilderPathBlends(t *testing.T) {
	b := NewBuilder("path.urp")
	b.AddPath([]urscript.Pose{
		{0.1, 0.2, 0.35, 0, 3.14159, 0},
		{0.1, 0.2, 0.30, 0, 3.14159, 0},
	}, 1.2, 0.25, 0.001)

	text := b.Render()
	if !strings.Contains(text, "movel(p[0.100000, 0.200000, 0.350000, 0.000000, 3.141590, 0.000000], a=1.20, v=0.25, r=0.001)") {
		t.Errorf("blended waypoint missing from %q", text)
	}
	if !strings.Contains(text, "movel(p[0.100000, 0.200000, 0.300000, 0.000000, 3.141590, 0.000000], a=1.20, v=0.25, r=0)") {
		t.Errorf("final waypoint should not blend in %q", text)
	}
}

func TestBuilderWriteFile(t *testing.T) {
	b := NewBuilder("out.urp")
	b.AddActivateTool()

	path := filepath.Join(t.TempDir(), "out.urp")
	if err := b.WriteFile(path); err != nil {
		t.Fatalf("write file: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != b.Render() {
		t.Error("file contents differ from rendered program")
	}
}
