package urscript

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
)

// fakeController serves synthetic state frames on one listener and records
// URScript lines arriving on another.
type fakeController struct {
	t       *testing.T
	cmdLn   net.Listener
	stateLn net.Listener

	lineMu sync.Mutex
	lines  []string
	onLine func(line string)

	stateMu sync.Mutex
	state   State

	done chan struct{}
}

func startFakeController(t *testing.T) *fakeController {
	t.Helper()
	cmdLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	stateLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeController{t: t, cmdLn: cmdLn, stateLn: stateLn, done: make(chan struct{})}
	go f.serveCommands()
	go f.serveState()
	t.Cleanup(f.stop)
	return f
}

func (f *fakeController) stop() {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
	f.cmdLn.Close()
	f.stateLn.Close()
}

func (f *fakeController) config() Config {
	return Config{
		Host:        "127.0.0.1",
		CommandPort: f.cmdLn.Addr().(*net.TCPAddr).Port,
		StatePort:   f.stateLn.Addr().(*net.TCPAddr).Port,
	}
}

func (f *fakeController) serveCommands() {
	conn, err := f.cmdLn.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		f.lineMu.Lock()
		f.lines = append(f.lines, line)
		hook := f.onLine
		f.lineMu.Unlock()
		if hook != nil {
			hook(line)
		}
	}
}

func (f *fakeController) serveState() {
	conn, err := f.stateLn.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
		}
		if _, err := conn.Write(f.frame()); err != nil {
			return
		}
	}
}

func (f *fakeController) frame() []byte {
	f.stateMu.Lock()
	payload := statePayload(f.t, f.state)
	f.stateMu.Unlock()

	var out bytes.Buffer
	if err := binary.Write(&out, binary.BigEndian, uint32(len(payload)+5)); err != nil {
		f.t.Error(err)
	}
	out.WriteByte(msgRobotState)
	out.Write(payload)
	return out.Bytes()
}

func (f *fakeController) setState(mutate func(*State)) {
	f.stateMu.Lock()
	mutate(&f.state)
	f.stateMu.Unlock()
}

func (f *fakeController) setOnLine(hook func(string)) {
	f.lineMu.Lock()
	f.onLine = hook
	f.lineMu.Unlock()
}

func (f *fakeController) commandLines() []string {
	f.lineMu.Lock()
	defer f.lineMu.Unlock()
	out := make([]string, len(f.lines))
	copy(out, f.lines)
	return out
}

func (f *fakeController) waitForLine(t *testing.T, substr string) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, line := range f.commandLines() {
			if strings.Contains(line, substr) {
				return line
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no command containing %q; got %v", substr, f.commandLines())
	return ""
}

func dialFake(t *testing.T, f *fakeController) *Client {
	t.Helper()
	c, err := Dial(context.Background(), f.config(), logging.NewTestLogger(t))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Logf("close: %v", err)
		}
	})
	return c
}

func TestDialRequiresHost(t *testing.T) {
	if _, err := Dial(context.Background(), Config{}, logging.NewTestLogger(t)); err == nil {
		t.Fatal("expected error for empty host")
	}
}

func TestDialReportsState(t *testing.T) {
	f := startFakeController(t)
	f.setState(func(s *State) {
		s.Joints = Joints{0.1, -1.5, 1.2, 0, 0.5, 3.0}
		s.TCP = Pose{0.2, 0.3, 0.4, 3.14, 0, 0}
		s.RobotMode = RobotModeRunning
	})
	c := dialFake(t, f)

	joints, err := c.Joints()
	if err != nil {
		t.Fatal(err)
	}
	if joints != (Joints{0.1, -1.5, 1.2, 0, 0.5, 3.0}) {
		t.Errorf("joints = %v", joints)
	}
	tcp, err := c.TCPPose()
	if err != nil {
		t.Fatal(err)
	}
	if tcp != (Pose{0.2, 0.3, 0.4, 3.14, 0, 0}) {
		t.Errorf("tcp = %v", tcp)
	}
}

func TestMoveJCommandAndArrival(t *testing.T) {
	f := startFakeController(t)
	target := Joints{0.1, -1.2, 0.5, 0, 1.0, -0.3}
	f.setOnLine(func(line string) {
		if strings.HasPrefix(line, "movej(") {
			f.setState(func(s *State) { s.Joints = target })
		}
	})
	c := dialFake(t, f)

	if err := c.MoveJ(context.Background(), target, 2, 2); err != nil {
		t.Fatalf("MoveJ: %v", err)
	}

	want := "movej([0.100000, -1.200000, 0.500000, 0.000000, 1.000000, -0.300000], a=2.00, v=2.00, r=0)"
	if got := f.waitForLine(t, "movej"); got != want {
		t.Errorf("command = %q, want %q", got, want)
	}
}

func TestMoveLCommandAndArrival(t *testing.T) {
	f := startFakeController(t)
	target := Pose{0.25, -0.1, 0.3, 3.14, 0, 0}
	f.setOnLine(func(line string) {
		if strings.HasPrefix(line, "movel(p[") {
			f.setState(func(s *State) { s.TCP = target })
		}
	})
	c := dialFake(t, f)

	if err := c.MoveL(context.Background(), target, 0.5, 0.2); err != nil {
		t.Fatalf("MoveL: %v", err)
	}
	line := f.waitForLine(t, "movel(p[")
	if !strings.Contains(line, "a=0.50, v=0.20") {
		t.Errorf("unexpected accel/vel formatting: %q", line)
	}
}

func TestTranslateToolCommand(t *testing.T) {
	f := startFakeController(t)
	c := dialFake(t, f)

	// Speeds are zero throughout, so the stationary wait ends after grace.
	if err := c.TranslateTool(context.Background(), r3.Vector{Z: -0.03}, 0.5, 0.5); err != nil {
		t.Fatalf("TranslateTool: %v", err)
	}
	line := f.waitForLine(t, "pose_trans(get_actual_tcp_pose()")
	if !strings.HasPrefix(line, "movel(pose_trans(get_actual_tcp_pose(), p[") {
		t.Errorf("unexpected command: %q", line)
	}
	if !strings.Contains(line, "-0.030000") {
		t.Errorf("delta missing from command: %q", line)
	}
}

func TestSpeedLToolProgram(t *testing.T) {
	f := startFakeController(t)
	c := dialFake(t, f)

	twist := [6]float64{0, 0, 0.00021, 0, 0, 3.14}
	if err := c.SpeedLTool(context.Background(), twist, 2, 200*time.Millisecond); err != nil {
		t.Fatalf("SpeedLTool: %v", err)
	}
	f.waitForLine(t, "def speedl_tool():")
	speedLine := f.waitForLine(t, "speedl(")
	if !strings.Contains(speedLine, "a=2.00") || !strings.Contains(speedLine, "t=0.200000") {
		t.Errorf("unexpected speedl line: %q", speedLine)
	}
	f.waitForLine(t, "end")
}

func TestSimpleCommandFormats(t *testing.T) {
	f := startFakeController(t)
	c := dialFake(t, f)

	if err := c.SetPayload(1.2); err != nil {
		t.Fatal(err)
	}
	if err := c.SetDigitalOut(0, true); err != nil {
		t.Fatal(err)
	}
	if err := c.SetDigitalOut(4, false); err != nil {
		t.Fatal(err)
	}
	if err := c.SetTCP(Pose{0, 0, 0.05, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		"set_payload(1.2)",
		"set_standard_digital_out(0, True)",
		"set_standard_digital_out(4, False)",
		"set_tcp(p[0.000000, 0.000000, 0.050000, 0.000000, 0.000000, 0.000000])",
		"stopj(2.0)",
	} {
		if got := f.waitForLine(t, want); got != want {
			t.Errorf("command = %q, want %q", got, want)
		}
	}
}

func TestWaitStopped(t *testing.T) {
	f := startFakeController(t)
	f.setState(func(s *State) { s.Speeds = Joints{0.5, 0, 0, 0, 0, 0} })
	c := dialFake(t, f)

	go func() {
		time.Sleep(200 * time.Millisecond)
		f.setState(func(s *State) { s.Speeds = Joints{} })
	}()
	if err := c.WaitStopped(context.Background(), 0, 3*time.Second); err != nil {
		t.Fatalf("WaitStopped: %v", err)
	}
}

func TestWaitStoppedTimeout(t *testing.T) {
	f := startFakeController(t)
	f.setState(func(s *State) { s.Speeds = Joints{0.5, 0, 0, 0, 0, 0} })
	c := dialFake(t, f)

	if err := c.WaitStopped(context.Background(), 0, 300*time.Millisecond); err == nil {
		t.Fatal("expected timeout while arm keeps moving")
	}
}
