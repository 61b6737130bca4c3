// Package urscript is the low-level motion connection to a UR e-series
// controller: URScript commands written to the secondary interface and a
// background state reader on the read-only primary interface. Motion calls
// block until the controller reports arrival or a bounded timeout expires.
package urscript

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	rdkutils "go.viam.com/rdk/utils"
	goutils "go.viam.com/utils"
)

const (
	// DefaultCommandPort is the secondary client interface.
	DefaultCommandPort = 30001
	// DefaultStatePort is the read-only primary client interface.
	DefaultStatePort = 30011

	defaultDialTimeout = 5 * time.Second
	defaultStateMaxAge = time.Second

	// arrivalPollInterval paces joint and pose arrival checks.
	arrivalPollInterval = 10 * time.Millisecond
	// minMotionTimeout floors every computed motion deadline.
	minMotionTimeout = 10 * time.Second

	jointArrivalTolRad = 1e-2
	poseArrivalTolM    = 1.5e-3
	stoppedSpeedTolRad = 5e-3
)

// Config holds connection settings for a controller.
type Config struct {
	Host        string
	CommandPort int
	StatePort   int
	DialTimeout time.Duration
	StateMaxAge time.Duration
}

func (c *Config) fill() {
	if c.CommandPort == 0 {
		c.CommandPort = DefaultCommandPort
	}
	if c.StatePort == 0 {
		c.StatePort = DefaultStatePort
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.StateMaxAge == 0 {
		c.StateMaxAge = defaultStateMaxAge
	}
}

// Client owns the command and state sockets for one arm.
type Client struct {
	cfg    Config
	logger logging.Logger

	writeMu sync.Mutex
	conn    net.Conn

	stateMu   sync.Mutex
	stateConn net.Conn

	tracker stateTracker

	cancelCtx               context.Context
	cancel                  context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
}

// setStateConn swaps the tracked state socket, closing it instead when the
// client has already been shut down.
func (c *Client) setStateConn(conn net.Conn) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.stateConn = conn
	if c.cancelCtx.Err() != nil && conn != nil {
		goutils.UncheckedErrorFunc(conn.Close)
	}
}

func (c *Client) closeStateConn() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.stateConn != nil {
		goutils.UncheckedErrorFunc(c.stateConn.Close)
	}
}

// Dial connects to the controller's command and state interfaces and starts
// the state reader. It returns once the first robot state has arrived.
func Dial(ctx context.Context, cfg Config, logger logging.Logger) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("urscript: host is required")
	}
	cfg.fill()

	var d net.Dialer
	dialCtx, dialCancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer dialCancel()

	conn, err := d.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.CommandPort))
	if err != nil {
		return nil, errors.Wrap(err, "dial command interface")
	}
	stateConn, err := d.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.StatePort))
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "dial state interface"), conn.Close())
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:       cfg,
		logger:    logger,
		conn:      conn,
		stateConn: stateConn,
		cancelCtx: cancelCtx,
		cancel:    cancel,
	}

	c.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		c.readStates(cancelCtx, stateConn)
	}, c.activeBackgroundWorkers.Done)

	// The stream runs at 10 Hz; a healthy connection reports within a frame
	// or two.
	deadline := time.Now().Add(cfg.DialTimeout)
	for {
		if _, err := c.tracker.current(cfg.StateMaxAge); err == nil {
			break
		}
		if time.Now().After(deadline) {
			return nil, multierr.Combine(errors.New("no robot state within dial timeout"), c.Close())
		}
		if !goutils.SelectContextOrWait(ctx, arrivalPollInterval) {
			return nil, multierr.Combine(ctx.Err(), c.Close())
		}
	}
	return c, nil
}

// readStates consumes the state stream, reconnecting while the client is open.
func (c *Client) readStates(ctx context.Context, conn net.Conn) {
	c.setStateConn(conn)
	defer func() {
		goutils.UncheckedErrorFunc(conn.Close)
	}()
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.readOneFrame(ctx, conn); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warnw("state stream read failed; reconnecting", "error", err)
			goutils.UncheckedErrorFunc(conn.Close)
			for {
				if !goutils.SelectContextOrWait(ctx, time.Second) {
					return
				}
				var d net.Dialer
				newConn, dialErr := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.StatePort))
				if dialErr == nil {
					conn = newConn
					c.setStateConn(conn)
					break
				}
				c.logger.Debugw("state stream redial failed", "error", dialErr)
			}
		}
	}
}

func (c *Client) readOneFrame(ctx context.Context, conn net.Conn) error {
	sizeBuf, err := goutils.ReadBytes(ctx, conn, 4)
	if err != nil {
		return err
	}
	frameSize := binary.BigEndian.Uint32(sizeBuf)
	if frameSize <= 4 || frameSize > 1<<20 {
		return errors.Errorf("implausible frame size %d", frameSize)
	}
	payload, err := goutils.ReadBytes(ctx, conn, int(frameSize)-4)
	if err != nil {
		return err
	}

	switch payload[0] {
	case msgRobotState:
		state, err := parseRobotState(payload[1:])
		if err != nil {
			c.logger.Debugw("dropping malformed robot state", "error", err)
			return nil
		}
		c.tracker.set(state)
	case msgRobotMessage:
		// Version banners, popups, runtime errors. Informational only.
		c.logger.Debugf("robot message (%d bytes)", len(payload)-1)
	}
	return nil
}

// send writes one URScript payload to the command interface. Commands are
// serialized; the controller executes one program at a time.
func (c *Client) send(script string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !strings.HasSuffix(script, "\n") {
		script += "\r\n"
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.DialTimeout)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	if _, err := c.conn.Write([]byte(script)); err != nil {
		return errors.Wrap(err, "write command")
	}
	return nil
}

// CurrentState returns the latest decoded robot state.
func (c *Client) CurrentState() (State, error) {
	return c.tracker.current(c.cfg.StateMaxAge)
}

// Joints returns the latest actual joint angles in radians.
func (c *Client) Joints() (Joints, error) {
	s, err := c.tracker.current(c.cfg.StateMaxAge)
	if err != nil {
		return Joints{}, err
	}
	return s.Joints, nil
}

// TCPPose returns the latest tool pose.
func (c *Client) TCPPose() (Pose, error) {
	s, err := c.tracker.current(c.cfg.StateMaxAge)
	if err != nil {
		return Pose{}, err
	}
	return s.TCP, nil
}

// MoveJ commands a joint move and blocks until all joints are within
// tolerance of the target or the computed deadline passes.
func (c *Client) MoveJ(ctx context.Context, target Joints, acc, vel float64) error {
	cmd := fmt.Sprintf("movej(%s, a=%1.2f, v=%1.2f, r=0)", target.Literal(), acc, vel)
	if err := c.send(cmd); err != nil {
		return err
	}
	return c.waitForJoints(ctx, target, vel)
}

// MoveJPose commands a joint-space move to a Cartesian pose. The controller
// solves the inverse kinematics, so arrival is detected by the arm coming
// to rest.
func (c *Client) MoveJPose(ctx context.Context, target Pose, acc, vel float64) error {
	cmd := fmt.Sprintf("movej(get_inverse_kin(%s), a=%1.2f, v=%1.2f, r=0)", target.Literal(), acc, vel)
	if err := c.send(cmd); err != nil {
		return err
	}
	return c.WaitStopped(ctx, 500*time.Millisecond, c.motionTimeoutToPose(target, vel))
}

// MoveL commands a linear tool move and blocks until the TCP reaches the
// target position.
func (c *Client) MoveL(ctx context.Context, target Pose, acc, vel float64) error {
	cmd := fmt.Sprintf("movel(%s, a=%1.2f, v=%1.2f, r=0)", target.Literal(), acc, vel)
	if err := c.send(cmd); err != nil {
		return err
	}
	return c.waitForPose(ctx, target, vel)
}

// TranslateTool moves the TCP by delta (meters) in the tool frame, keeping
// orientation. The target is computed on the controller.
func (c *Client) TranslateTool(ctx context.Context, delta r3.Vector, acc, vel float64) error {
	cmd := fmt.Sprintf(
		"movel(pose_trans(get_actual_tcp_pose(), p[%f, %f, %f, 0, 0, 0]), a=%1.2f, v=%1.2f, r=0)",
		delta.X, delta.Y, delta.Z, acc, vel,
	)
	if err := c.send(cmd); err != nil {
		return err
	}
	timeout := minMotionTimeout
	if vel > 0 {
		if t := time.Duration(1.2 * delta.Norm() / vel * float64(time.Second)); t > timeout {
			timeout = t
		}
	}
	return c.WaitStopped(ctx, 500*time.Millisecond, timeout)
}

// SpeedLTool applies a constant tool-frame twist (vx, vy, vz m/s and
// rx, ry, rz rad/s) for the given duration. The generated program rotates
// the twist into the base frame on the controller, where the current tool
// orientation is known exactly.
func (c *Client) SpeedLTool(ctx context.Context, twist [6]float64, acc float64, duration time.Duration) error {
	secs := duration.Seconds()
	var b strings.Builder
	b.WriteString("def speedl_tool():\n")
	b.WriteString("  tcp = get_actual_tcp_pose()\n")
	b.WriteString("  rot = p[0, 0, 0, tcp[3], tcp[4], tcp[5]]\n")
	fmt.Fprintf(&b, "  lin = pose_trans(rot, p[%f, %f, %f, 0, 0, 0])\n", twist[0], twist[1], twist[2])
	fmt.Fprintf(&b, "  ang = pose_trans(rot, p[%f, %f, %f, 0, 0, 0])\n", twist[3], twist[4], twist[5])
	fmt.Fprintf(&b, "  speedl([lin[0], lin[1], lin[2], ang[0], ang[1], ang[2]], a=%1.2f, t=%f)\n", acc, secs)
	b.WriteString("end\n")
	if err := c.send(b.String()); err != nil {
		return err
	}
	// speedl stops on its own when t elapses; wait it out plus settle time.
	if !goutils.SelectContextOrWait(ctx, duration+500*time.Millisecond) {
		return ctx.Err()
	}
	return nil
}

// SetPayload updates the controller's payload mass in kilograms.
func (c *Client) SetPayload(kg float64) error {
	return c.send(fmt.Sprintf("set_payload(%s)", strconv.FormatFloat(kg, 'f', -1, 64)))
}

// SetTCP sets the tool center point offset.
func (c *Client) SetTCP(offset Pose) error {
	return c.send(fmt.Sprintf("set_tcp(%s)", offset.Literal()))
}

// SetDigitalOut drives a standard digital output pin.
func (c *Client) SetDigitalOut(pin int, high bool) error {
	level := "False"
	if high {
		level = "True"
	}
	return c.send(fmt.Sprintf("set_standard_digital_out(%d, %s)", pin, level))
}

// Stop decelerates any running joint motion.
func (c *Client) Stop() error {
	return c.send("stopj(2.0)")
}

// waitForJoints polls the state stream until every joint is within
// tolerance of target. The deadline scales with the largest angle to cover
// at the commanded speed.
func (c *Client) waitForJoints(ctx context.Context, target Joints, vel float64) error {
	var maxDelta float64
	if s, err := c.tracker.current(c.cfg.StateMaxAge); err == nil {
		for i := range target {
			if d := math.Abs(target[i] - s.Joints[i]); d > maxDelta {
				maxDelta = d
			}
		}
	}
	timeout := minMotionTimeout
	if vel > 0 {
		if t := time.Duration(1.2 * maxDelta / vel * float64(time.Second)); t > timeout {
			timeout = t
		}
	}

	deadline := time.Now().Add(timeout)
	for {
		s, err := c.tracker.current(c.cfg.StateMaxAge)
		if err == nil {
			arrived := true
			for i := range target {
				if !rdkutils.Float64AlmostEqual(s.Joints[i], target[i], jointArrivalTolRad) {
					arrived = false
					break
				}
			}
			if arrived {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return errors.Errorf("joint move did not reach target within %v", timeout)
		}
		if !goutils.SelectContextOrWait(ctx, arrivalPollInterval) {
			return ctx.Err()
		}
	}
}

// waitForPose polls until the TCP position is within tolerance of target.
func (c *Client) waitForPose(ctx context.Context, target Pose, vel float64) error {
	timeout := c.motionTimeoutToPose(target, vel)
	deadline := time.Now().Add(timeout)
	for {
		s, err := c.tracker.current(c.cfg.StateMaxAge)
		if err == nil {
			if s.TCP.Point().Sub(target.Point()).Norm() < poseArrivalTolM {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return errors.Errorf("linear move did not reach target within %v", timeout)
		}
		if !goutils.SelectContextOrWait(ctx, arrivalPollInterval) {
			return ctx.Err()
		}
	}
}

// WaitStopped blocks until all joint speeds stay below the rest threshold
// for two consecutive polls. grace gives the controller time to start the
// motion before rest is meaningful.
func (c *Client) WaitStopped(ctx context.Context, grace time.Duration, timeout time.Duration) error {
	if !goutils.SelectContextOrWait(ctx, grace) {
		return ctx.Err()
	}
	deadline := time.Now().Add(timeout)
	stillPolls := 0
	for {
		s, err := c.tracker.current(c.cfg.StateMaxAge)
		if err == nil {
			still := true
			for _, qd := range s.Speeds {
				if math.Abs(qd) > stoppedSpeedTolRad {
					still = false
					break
				}
			}
			if still {
				stillPolls++
				if stillPolls >= 2 {
					return nil
				}
			} else {
				stillPolls = 0
			}
		}
		if time.Now().After(deadline) {
			return errors.Errorf("arm still moving after %v", timeout)
		}
		if !goutils.SelectContextOrWait(ctx, 50*time.Millisecond) {
			return ctx.Err()
		}
	}
}

func (c *Client) motionTimeoutToPose(target Pose, vel float64) time.Duration {
	timeout := minMotionTimeout
	if s, err := c.tracker.current(c.cfg.StateMaxAge); err == nil && vel > 0 {
		dist := s.TCP.Point().Sub(target.Point()).Norm()
		if t := time.Duration(1.2 * dist / vel * float64(time.Second)); t > timeout {
			timeout = t
		}
	}
	return timeout
}

// Close stops the state reader and closes both sockets.
func (c *Client) Close() error {
	c.cancel()
	err := c.conn.Close()
	c.closeStateConn()
	c.activeBackgroundWorkers.Wait()
	return err
}
