// Package robotiq drives Robotiq end effectors mounted on a UR wrist: the
// 2F adaptive gripper through its URCap register socket and the vacuum
// screwdriver through the controller's URScript interpreter.
package robotiq

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

// DefaultGripperPort is the URCap register server for the 2F gripper.
const DefaultGripperPort = 63352

const (
	staActive = 3 // STA register value once activation has completed

	// Register bounds for position, speed, and force.
	regMin = 0
	regMax = 255
)

var (
	// ErrCommandRejected reports a SET that was not acknowledged.
	ErrCommandRejected = errors.New("gripper rejected command")
	// ErrBadReply reports a register reply that could not be parsed.
	ErrBadReply = errors.New("malformed gripper reply")
	// ErrWaitTimeout reports a bounded register poll that never saw the
	// awaited value.
	ErrWaitTimeout = errors.New("gripper wait timed out")
)

// ObjectStatus is the gripper's OBJ register after a commanded move.
type ObjectStatus int

const (
	ObjectMoving         ObjectStatus = 0
	ObjectStoppedOpening ObjectStatus = 1
	ObjectStoppedClosing ObjectStatus = 2
	ObjectAtTarget       ObjectStatus = 3
)

func (s ObjectStatus) String() string {
	switch s {
	case ObjectMoving:
		return "MOVING"
	case ObjectStoppedOpening:
		return "STOPPED_OPENING"
	case ObjectStoppedClosing:
		return "STOPPED_CLOSING"
	case ObjectAtTarget:
		return "AT_TARGET"
	}
	return fmt.Sprintf("OBJ(%d)", int(s))
}

// Detected reports whether the fingers stopped against an object rather
// than reaching the commanded position.
func (s ObjectStatus) Detected() bool {
	return s == ObjectStoppedOpening || s == ObjectStoppedClosing
}

// GripperConfig holds gripper socket settings.
type GripperConfig struct {
	Host string
	Port int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	PollInterval time.Duration
	// MoveTimeout bounds activation and motion waits.
	MoveTimeout time.Duration
}

func (c *GripperConfig) fill() {
	if c.Port == 0 {
		c.Port = DefaultGripperPort
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.MoveTimeout == 0 {
		c.MoveTimeout = 10 * time.Second
	}
}

// Gripper is a session with the 2F URCap register server. Register reads
// and writes are line oriented: "SET POS 100 GTO 1" -> "ack",
// "GET STA" -> "STA 3".
type Gripper struct {
	cfg    GripperConfig
	logger logging.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// DialGripper connects to the gripper register server.
func DialGripper(ctx context.Context, cfg GripperConfig, logger logging.Logger) (*Gripper, error) {
	if cfg.Host == "" {
		return nil, errors.New("gripper: host is required")
	}
	cfg.fill()

	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn, err := d.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		return nil, errors.Wrap(err, "dial gripper")
	}
	return &Gripper{cfg: cfg, logger: logger, conn: conn, reader: bufio.NewReader(conn)}, nil
}

func (g *Gripper) call(ctx context.Context, cmd string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return "", errors.New("gripper: not connected")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := g.conn.SetWriteDeadline(time.Now().Add(g.cfg.ReadTimeout)); err != nil {
		return "", errors.Wrap(err, "set write deadline")
	}
	if _, err := g.conn.Write([]byte(cmd + "\n")); err != nil {
		return "", errors.Wrapf(err, "send %q", cmd)
	}
	if err := g.conn.SetReadDeadline(time.Now().Add(g.cfg.ReadTimeout)); err != nil {
		return "", errors.Wrap(err, "set read deadline")
	}
	resp, err := g.reader.ReadString('\n')
	if err != nil {
		return "", errors.Wrapf(err, "read reply to %q", cmd)
	}
	return strings.TrimSpace(resp), nil
}

func (g *Gripper) setVars(ctx context.Context, assignments string) error {
	resp, err := g.call(ctx, "SET "+assignments)
	if err != nil {
		return err
	}
	if resp != "ack" {
		return errors.Wrapf(ErrCommandRejected, "SET %s answered %q", assignments, resp)
	}
	return nil
}

func (g *Gripper) register(ctx context.Context, name string) (int, error) {
	resp, err := g.call(ctx, "GET "+name)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(resp)
	if len(fields) != 2 || fields[0] != name {
		return 0, errors.Wrapf(ErrBadReply, "GET %s answered %q", name, resp)
	}
	v, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, errors.Wrapf(ErrBadReply, "GET %s answered %q", name, resp)
	}
	return v, nil
}

// waitRegister polls a register until want accepts its value.
func (g *Gripper) waitRegister(ctx context.Context, name string, want func(int) bool) (int, error) {
	deadline := time.Now().Add(g.cfg.MoveTimeout)
	for {
		v, err := g.register(ctx, name)
		if err != nil {
			return 0, err
		}
		if want(v) {
			return v, nil
		}
		if time.Now().After(deadline) {
			return v, errors.Wrapf(ErrWaitTimeout, "register %s stuck at %d", name, v)
		}
		if !goutils.SelectContextOrWait(ctx, g.cfg.PollInterval) {
			return 0, ctx.Err()
		}
	}
}

// Active reports whether the activation routine has completed.
func (g *Gripper) Active(ctx context.Context) (bool, error) {
	sta, err := g.register(ctx, "STA")
	if err != nil {
		return false, err
	}
	return sta == staActive, nil
}

// Activate runs the activation handshake: clear ACT, set ACT, then wait
// for the status register to report active. A gripper that is already
// active is left alone.
func (g *Gripper) Activate(ctx context.Context) error {
	active, err := g.Active(ctx)
	if err != nil {
		return err
	}
	if active {
		g.logger.Debugf("gripper already active")
		return nil
	}

	if err := g.setVars(ctx, "ACT 0"); err != nil {
		return errors.Wrap(err, "reset activation")
	}
	if err := g.setVars(ctx, "ACT 1"); err != nil {
		return errors.Wrap(err, "request activation")
	}
	if _, err := g.waitRegister(ctx, "STA", func(v int) bool { return v == staActive }); err != nil {
		return errors.Wrap(err, "wait for activation")
	}
	g.logger.Infof("gripper activated")
	return nil
}

// Move commands the fingers toward pos (0 open, 255 closed) at the given
// speed and force, returning the clamped target without waiting.
func (g *Gripper) Move(ctx context.Context, pos, speed, force int) (int, error) {
	pos = clamp(pos, regMin, regMax)
	speed = clamp(speed, regMin, regMax)
	force = clamp(force, regMin, regMax)
	err := g.setVars(ctx, fmt.Sprintf("POS %d SPE %d FOR %d GTO 1", pos, speed, force))
	return pos, err
}

// MoveAndWait commands a move, waits for the controller to echo the
// requested position, then waits for the fingers to stop and returns the
// object-detection status.
func (g *Gripper) MoveAndWait(ctx context.Context, pos, speed, force int) (ObjectStatus, error) {
	target, err := g.Move(ctx, pos, speed, force)
	if err != nil {
		return ObjectMoving, err
	}
	if _, err := g.waitRegister(ctx, "PRE", func(v int) bool { return v == target }); err != nil {
		return ObjectMoving, errors.Wrap(err, "wait for position echo")
	}
	obj, err := g.waitRegister(ctx, "OBJ", func(v int) bool { return v != int(ObjectMoving) })
	if err != nil {
		return ObjectMoving, errors.Wrap(err, "wait for fingers to stop")
	}
	return ObjectStatus(obj), nil
}

// Position reads the actual finger position.
func (g *Gripper) Position(ctx context.Context) (int, error) {
	return g.register(ctx, "POS")
}

// Fault reads the fault register; zero means no fault.
func (g *Gripper) Fault(ctx context.Context) (int, error) {
	return g.register(ctx, "FLT")
}

// Close drops the register session.
func (g *Gripper) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return nil
	}
	err := g.conn.Close()
	g.conn = nil
	g.reader = nil
	return err
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
