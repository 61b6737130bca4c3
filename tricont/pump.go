// Package tricont drives a Tricontinent C-series syringe pump over a
// TCP serial bridge using the DT protocol: framed command strings
// ("/1<cmds>R\r"), single-frame answers carrying a status byte, and busy
// polling until the plunger finishes.
package tricont

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

// DefaultPort is the usual serial-bridge TCP port for the pump.
const DefaultPort = 4001

const (
	// statusReadyBit is set in the answer status byte when the pump is
	// idle and can accept a new move.
	statusReadyBit = 0x20
	statusErrMask  = 0x0F

	frameEnd = '\x03'
)

// ErrPump reports an error code in a pump answer frame.
var ErrPump = errors.New("pump reported error")

var pumpErrorNames = map[byte]string{
	1:  "initialization failure",
	2:  "invalid command",
	3:  "invalid operand",
	4:  "communication error",
	6:  "eeprom failure",
	7:  "device not initialized",
	9:  "plunger overload",
	10: "valve overload",
	11: "plunger move not allowed",
	15: "command overflow",
}

// Config holds pump connection settings.
type Config struct {
	Host string
	Port int
	// Address is the DT bus address character, almost always '1'.
	Address byte

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	PollInterval time.Duration
	// MoveTimeout bounds WaitIdle; full-stroke moves at low speed codes
	// can take tens of seconds.
	MoveTimeout time.Duration
}

func (c *Config) fill() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Address == 0 {
		c.Address = '1'
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.MoveTimeout == 0 {
		c.MoveTimeout = 60 * time.Second
	}
}

// Pump is a DT-protocol session with one pump.
type Pump struct {
	cfg    Config
	logger logging.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to the pump's serial bridge.
func Dial(ctx context.Context, cfg Config, logger logging.Logger) (*Pump, error) {
	if cfg.Host == "" {
		return nil, errors.New("pump: host is required")
	}
	cfg.fill()

	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn, err := d.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		return nil, errors.Wrap(err, "dial pump")
	}
	return &Pump{cfg: cfg, logger: logger, conn: conn, reader: bufio.NewReader(conn)}, nil
}

// command frames cmds for the pump, optionally appending the R execute
// terminator, and returns the answer's status byte and data field.
func (p *Pump) command(ctx context.Context, cmds string, run bool) (byte, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return 0, "", errors.New("pump: not connected")
	}
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}

	frame := fmt.Sprintf("/%c%s", p.cfg.Address, cmds)
	if run {
		frame += "R"
	}
	frame += "\r"

	if err := p.conn.SetWriteDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
		return 0, "", errors.Wrap(err, "set write deadline")
	}
	if _, err := p.conn.Write([]byte(frame)); err != nil {
		return 0, "", errors.Wrapf(err, "send %q", cmds)
	}

	if err := p.conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
		return 0, "", errors.Wrap(err, "set read deadline")
	}
	answer, err := p.reader.ReadString('\n')
	if err != nil {
		return 0, "", errors.Wrapf(err, "read answer to %q", cmds)
	}

	answer = strings.TrimRight(answer, "\r\n")
	if end := strings.IndexByte(answer, frameEnd); end >= 0 {
		answer = answer[:end]
	}
	if len(answer) < 3 || !strings.HasPrefix(answer, "/0") {
		return 0, "", errors.Errorf("malformed pump answer %q to %q", answer, cmds)
	}

	status := answer[2]
	data := answer[3:]
	if code := status & statusErrMask; code != 0 {
		name, ok := pumpErrorNames[code]
		if !ok {
			name = fmt.Sprintf("code %d", code)
		}
		return status, data, errors.Wrapf(ErrPump, "%s (command %q)", name, cmds)
	}
	return status, data, nil
}

// Ready reports whether the pump is idle.
func (p *Pump) Ready(ctx context.Context) (bool, error) {
	status, _, err := p.command(ctx, "Q", false)
	if err != nil {
		return false, err
	}
	return status&statusReadyBit != 0, nil
}

// WaitIdle polls the pump until it reports ready.
func (p *Pump) WaitIdle(ctx context.Context) error {
	deadline := time.Now().Add(p.cfg.MoveTimeout)
	for {
		ready, err := p.Ready(ctx)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Errorf("pump still busy after %v", p.cfg.MoveTimeout)
		}
		if !goutils.SelectContextOrWait(ctx, p.cfg.PollInterval) {
			return ctx.Err()
		}
	}
}

// run executes a command string and waits for the move to finish.
func (p *Pump) run(ctx context.Context, cmds string) error {
	if _, _, err := p.command(ctx, cmds, true); err != nil {
		return err
	}
	return p.WaitIdle(ctx)
}

// Initialize homes the plunger. Required once after power-up before any
// move command is accepted.
func (p *Pump) Initialize(ctx context.Context) error {
	p.logger.Infof("initializing pump plunger")
	return p.run(ctx, "Z")
}

// SetSpeed selects a plunger speed code (0 fastest, 40 slowest).
func (p *Pump) SetSpeed(ctx context.Context, code int) error {
	_, _, err := p.command(ctx, fmt.Sprintf("S%d", code), true)
	return err
}

// MoveAbsolute drives the plunger to an absolute increment position.
func (p *Pump) MoveAbsolute(ctx context.Context, position int) error {
	return p.run(ctx, fmt.Sprintf("A%d", position))
}

// Pickup aspirates by the given number of increments.
func (p *Pump) Pickup(ctx context.Context, increments int) error {
	return p.run(ctx, fmt.Sprintf("P%d", increments))
}

// Dispense pushes out the given number of increments.
func (p *Pump) Dispense(ctx context.Context, increments int) error {
	return p.run(ctx, fmt.Sprintf("D%d", increments))
}

// Position reads the absolute plunger position.
func (p *Pump) Position(ctx context.Context) (int, error) {
	_, data, err := p.command(ctx, "?", false)
	if err != nil {
		return 0, err
	}
	var pos int
	if _, err := fmt.Sscanf(data, "%d", &pos); err != nil {
		return 0, errors.Errorf("unparseable plunger position %q", data)
	}
	return pos, nil
}

// Close drops the bridge connection.
func (p *Pump) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	p.reader = nil
	return err
}
