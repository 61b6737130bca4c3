package tricont

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// fakePump answers DT frames. Move commands leave the pump busy for a
// fixed number of status queries before it reports idle again.
type fakePump struct {
	ln net.Listener

	mu        sync.Mutex
	frames    []string
	busyPolls int // Q answers reporting busy after each move
	busyLeft  int
	position  int
	responses map[string]string // raw frame overrides
}

func startFakePump(t *testing.T) *fakePump {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakePump{ln: ln, busyPolls: 2, responses: map[string]string{}}
	go f.serve()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakePump) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakePump) handle(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		frame, err := reader.ReadString('\r')
		if err != nil {
			return
		}
		fmt.Fprintf(conn, "%s\x03\r\n", f.respond(strings.TrimRight(frame, "\r")))
	}
}

func (f *fakePump) respond(frame string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)

	if resp, ok := f.responses[frame]; ok {
		return resp
	}
	if len(frame) < 2 || frame[0] != '/' {
		return "/0" + string(rune(0x60|2)) // invalid command, idle
	}

	body := strings.TrimSuffix(frame[2:], "R")
	switch {
	case body == "Q":
		if f.busyLeft > 0 {
			f.busyLeft--
			return "/0@" // busy, no error
		}
		return "/0`" // idle, no error
	case body == "?":
		return fmt.Sprintf("/0`%d", f.position)
	case strings.HasPrefix(body, "Z"):
		f.position = 0
		f.busyLeft = f.busyPolls
		return "/0@"
	case strings.HasPrefix(body, "A"):
		fmt.Sscanf(body, "A%d", &f.position)
		f.busyLeft = f.busyPolls
		return "/0@"
	case strings.HasPrefix(body, "P"):
		var n int
		fmt.Sscanf(body, "P%d", &n)
		f.position += n
		f.busyLeft = f.busyPolls
		return "/0@"
	case strings.HasPrefix(body, "D"):
		var n int
		fmt.Sscanf(body, "D%d", &n)
		f.position -= n
		f.busyLeft = f.busyPolls
		return "/0@"
	case strings.HasPrefix(body, "S"):
		return "/0`"
	}
	return "/0" + string(rune(0x60|2))
}

func (f *fakePump) override(frame, answer string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[frame] = answer
}

func (f *fakePump) frameLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	copy(out, f.frames)
	return out
}

func dialFakePump(t *testing.T, f *fakePump) *Pump {
	t.Helper()
	cfg := Config{
		Host:         "127.0.0.1",
		Port:         f.ln.Addr().(*net.TCPAddr).Port,
		ReadTimeout:  2 * time.Second,
		PollInterval: 5 * time.Millisecond,
		MoveTimeout:  2 * time.Second,
	}
	p, err := Dial(context.Background(), cfg, logging.NewTestLogger(t))
	if err != nil {
		t.Fatalf("dial pump: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPumpInitializeWaitsForIdle(t *testing.T) {
	f := startFakePump(t)
	p := dialFakePump(t, f)

	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	log := f.frameLog()
	if log[0] != "/1ZR" {
		t.Fatalf("first frame = %q, want /1ZR", log[0])
	}
	var queries int
	for _, fr := range log[1:] {
		if fr == "/1Q" {
			queries++
		}
	}
	if queries < 3 {
		t.Fatalf("expected busy polling before idle, got %d queries", queries)
	}
}

func TestPumpPickupDispense(t *testing.T) {
	f := startFakePump(t)
	p := dialFakePump(t, f)
	ctx := context.Background()

	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := p.Pickup(ctx, 150); err != nil {
		t.Fatalf("pickup: %v", err)
	}
	if err := p.Dispense(ctx, 100); err != nil {
		t.Fatalf("dispense: %v", err)
	}

	pos, err := p.Position(ctx)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos != 50 {
		t.Fatalf("plunger position = %d, want 50", pos)
	}

	log := strings.Join(f.frameLog(), "\n")
	for _, want := range []string{"/1P150R", "/1D100R"} {
		if !strings.Contains(log, want) {
			t.Errorf("frame %q never sent", want)
		}
	}
}

func TestPumpErrorStatus(t *testing.T) {
	f := startFakePump(t)
	// Plunger overload: idle bit plus error code 9.
	f.override("/1A3000R", "/0"+string(rune(0x60|9)))
	p := dialFakePump(t, f)

	err := p.MoveAbsolute(context.Background(), 3000)
	if !errors.Is(err, ErrPump) {
		t.Fatalf("err = %v, want ErrPump", err)
	}
	if !strings.Contains(err.Error(), "plunger overload") {
		t.Fatalf("err %q does not name the failure", err)
	}
}

func TestPumpSetSpeedDoesNotPoll(t *testing.T) {
	f := startFakePump(t)
	p := dialFakePump(t, f)

	if err := p.SetSpeed(context.Background(), 10); err != nil {
		t.Fatalf("set speed: %v", err)
	}
	for _, fr := range f.frameLog() {
		if fr == "/1Q" {
			t.Fatal("speed change should not trigger busy polling")
		}
	}
}
