// Package urp assembles simple URScript program files for transfer to the
// controller and execution through the dashboard. Each Add call appends a
// self-contained function block; Render joins them into the program text.
package urp

import (
	"fmt"
	"os"
	"strings"

	"github.com/benchcell/urcell/urscript"
)

// Builder accumulates URScript blocks for one program file.
type Builder struct {
	name  string
	lines []string
}

// NewBuilder starts an empty program named after its target file,
// e.g. "assemble_plate.urp".
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Name returns the program's file name.
func (b *Builder) Name() string { return b.name }

// AddLine appends one raw line.
func (b *Builder) AddLine(line string) {
	b.lines = append(b.lines, line)
}

func (b *Builder) addBlock(lines ...string) {
	b.lines = append(b.lines, lines...)
	b.lines = append(b.lines, "")
}

// AddMoveL appends a linear move to the given pose.
func (b *Builder) AddMoveL(pose urscript.Pose, accel, vel float64) {
	b.AddLine(fmt.Sprintf("movel(%s, a=%1.2f, v=%1.2f)", pose.Literal(), accel, vel))
}

// AddMoveJ appends a joint move.
func (b *Builder) AddMoveJ(joints urscript.Joints, accel, vel float64) {
	b.AddLine(fmt.Sprintf("movej(%s, a=%1.2f, v=%1.2f)", joints.Literal(), accel, vel))
}

// AddSleep appends a fixed pause.
func (b *Builder) AddSleep(seconds float64) {
	b.AddLine(fmt.Sprintf("sleep(%g)", seconds))
}

// AddPath appends a multi-waypoint linear path, blending through the
// intermediate waypoints with the given radius. The arm stops exactly at
// the final waypoint.
func (b *Builder) AddPath(waypoints []urscript.Pose, accel, vel, blendRadius float64) {
	for i, p := range waypoints {
		radius := blendRadius
		if i == len(waypoints)-1 {
			radius = 0
		}
		b.AddLine(fmt.Sprintf("movel(%s, a=%1.2f, v=%1.2f, r=%g)", p.Literal(), accel, vel, radius))
	}
}

// AddActivateTool appends the screwdriver power-up block: tool voltage,
// activation output, settling wait.
func (b *Builder) AddActivateTool() {
	b.addBlock(
		"def activate_tool():",
		"    textmsg('activating tool')",
		"    set_tool_voltage(24)",
		"    set_tool_digital_out(0, True)",
		"    sleep(2)",
		"    textmsg('tool activated')",
		"end",
	)
}

// AddPickAndPlace appends a linear pick-then-place block.
func (b *Builder) AddPickAndPlace(pick, place urscript.Pose, accel, vel float64) {
	b.addBlock(
		"def pick_and_place():",
		"    textmsg('starting pick and place')",
		fmt.Sprintf("    movel(%s, a=%1.2f, v=%1.2f)", pick.Literal(), accel, vel),
		"    textmsg('reached pick location')",
		fmt.Sprintf("    movel(%s, a=%1.2f, v=%1.2f)", place.Literal(), accel, vel),
		"    textmsg('reached place location')",
		"end",
	)
}

// AddDriveScrew appends a screw-drive block: torque and speed on the
// analog outputs, fixed drive window, stop.
func (b *Builder) AddDriveScrew(torque, rotationSpeed float64) {
	b.addBlock(
		"def drive_screw():",
		"    textmsg('driving screw')",
		"    set_tool_digital_out(1, True)",
		fmt.Sprintf("    set_analog_out(0, %g)", torque),
		fmt.Sprintf("    set_analog_out(1, %g)", rotationSpeed),
		"    sleep(2)",
		"    set_analog_out(1, 0)",
		"    textmsg('screw driven')",
		"end",
	)
}

// AddDeactivateTool appends the tool power-down block.
func (b *Builder) AddDeactivateTool() {
	b.addBlock(
		"def deactivate_tool():",
		"    textmsg('deactivating tool')",
		"    set_tool_digital_out(0, False)",
		"    set_tool_digital_out(1, False)",
		"    set_analog_out(0, 0)",
		"    set_analog_out(1, 0)",
		"    textmsg('tool deactivated')",
		"end",
	)
}

// Render returns the program text.
func (b *Builder) Render() string {
	return strings.Join(b.lines, "\n") + "\n"
}

// WriteFile renders the program to path.
func (b *Builder) WriteFile(path string) error {
	if err := os.WriteFile(path, []byte(b.Render()), 0o644); err != nil {
		return fmt.Errorf("write program %s: %w", b.name, err)
	}
	return nil
}
