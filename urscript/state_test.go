package urscript

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

// statePayload builds the payload of a robot state message (the bytes after
// the message type) carrying robot mode data, joint data, and cartesian info.
func statePayload(t *testing.T, s State) []byte {
	t.Helper()
	var out bytes.Buffer

	writeSub := func(pkgType byte, body []byte) {
		if err := binary.Write(&out, binary.BigEndian, uint32(len(body)+5)); err != nil {
			t.Fatal(err)
		}
		out.WriteByte(pkgType)
		out.Write(body)
	}

	var mode bytes.Buffer
	if err := binary.Write(&mode, binary.BigEndian, robotModePacket{
		Timestamp:          12345,
		RealRobotConnected: true,
		RealRobotEnabled:   true,
		PowerOn:            s.PowerOn,
		EmergencyStopped:   s.EmergencyStopped,
		ProtectiveStopped:  s.ProtectiveStopped,
		ProgramRunning:     s.ProgramRunning,
		ProgramPaused:      s.ProgramPaused,
		RobotMode:          s.RobotMode,
	}); err != nil {
		t.Fatal(err)
	}
	// Trailing control mode and speed fraction fields, which the parser skips.
	mode.Write(make([]byte, 25))
	writeSub(pkgRobotModeData, mode.Bytes())

	var joints bytes.Buffer
	for i := 0; i < 6; i++ {
		if err := binary.Write(&joints, binary.BigEndian, jointPacket{
			QActual:  s.Joints[i],
			QTarget:  s.TargetJoints[i],
			QDActual: s.Speeds[i],
			Mode:     253,
		}); err != nil {
			t.Fatal(err)
		}
	}
	writeSub(pkgJointData, joints.Bytes())

	var cart bytes.Buffer
	for i := 0; i < 6; i++ {
		if err := binary.Write(&cart, binary.BigEndian, s.TCP[i]); err != nil {
			t.Fatal(err)
		}
	}
	// TCP offset doubles follow in real frames; the parser must skip them.
	cart.Write(make([]byte, 48))
	writeSub(pkgCartesianInfo, cart.Bytes())

	// An unknown subpackage the parser should step over.
	writeSub(99, []byte{1, 2, 3, 4})

	return out.Bytes()
}

func TestParseRobotState(t *testing.T) {
	want := State{
		Joints:         Joints{1.5708, -1.5708, 0.0873, 0.1745, 0.2618, 0.3491},
		TargetJoints:   Joints{1.5708, -1.5708, 0.0873, 0.1745, 0.2618, 0.3491},
		Speeds:         Joints{0, 0.01, 0, 0, 0, 0},
		TCP:            Pose{-0.03, 0.36, 0.346, 3.14, 0, 0},
		RobotMode:      RobotModeRunning,
		PowerOn:        true,
		ProgramRunning: true,
	}

	got, err := parseRobotState(statePayload(t, want))
	if err != nil {
		t.Fatalf("parseRobotState: %v", err)
	}

	for i := 0; i < 6; i++ {
		if math.Abs(got.Joints[i]-want.Joints[i]) > 1e-12 {
			t.Errorf("joint %d = %v, want %v", i, got.Joints[i], want.Joints[i])
		}
		if math.Abs(got.TCP[i]-want.TCP[i]) > 1e-12 {
			t.Errorf("tcp %d = %v, want %v", i, got.TCP[i], want.TCP[i])
		}
	}
	if math.Abs(got.Speeds[1]-0.01) > 1e-12 {
		t.Errorf("speed 1 = %v", got.Speeds[1])
	}
	if got.RobotMode != RobotModeRunning {
		t.Errorf("robot mode = %d, want %d", got.RobotMode, RobotModeRunning)
	}
	if !got.PowerOn || !got.ProgramRunning {
		t.Errorf("flags = %+v", got)
	}
	if got.ProtectiveStopped || got.EmergencyStopped {
		t.Errorf("stop flags should be clear: %+v", got)
	}
	if got.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not stamped")
	}
}

func TestParseRobotStateProtectiveStop(t *testing.T) {
	got, err := parseRobotState(statePayload(t, State{
		RobotMode:         RobotModeRunning,
		ProtectiveStopped: true,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !got.ProtectiveStopped {
		t.Error("protective stop flag lost in parsing")
	}
}

func TestParseRobotStateTruncated(t *testing.T) {
	payload := statePayload(t, State{})
	for _, n := range []int{1, 3, len(payload) - 2} {
		if _, err := parseRobotState(payload[:n]); err == nil {
			t.Errorf("expected error for %d-byte payload", n)
		}
	}
}

func TestParseRobotStateBadSize(t *testing.T) {
	var out bytes.Buffer
	if err := binary.Write(&out, binary.BigEndian, uint32(500)); err != nil {
		t.Fatal(err)
	}
	out.WriteByte(pkgJointData)
	if _, err := parseRobotState(out.Bytes()); err == nil {
		t.Error("expected error for subpackage size beyond payload")
	}
}
