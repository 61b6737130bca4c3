// Package dashboard speaks the UR Dashboard Server text protocol on port
// 29999: newline-terminated ASCII commands for controller lifecycle, safety
// recovery, and program control. It also recovers a controller to an
// operational state (Initialize) and copies program files onto it.
package dashboard

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

// DefaultPort is the dashboard server port on every UR controller.
const DefaultPort = 29999

const (
	defaultResponseDelay = 500 * time.Millisecond
	defaultReadTimeout   = 5 * time.Second
	defaultDialTimeout   = 5 * time.Second

	// banner is the greeting the server sends on connect. It is consumed
	// during dialing and never surfaces in command responses.
	banner = "Connected: Universal Robots Dashboard Server"
)

// Mode is the controller state reported by the robotmode command.
type Mode string

const (
	ModeNoController  Mode = "NO_CONTROLLER"
	ModeDisconnected  Mode = "DISCONNECTED"
	ModeConfirmSafety Mode = "CONFIRM_SAFETY"
	ModeBooting       Mode = "BOOTING"
	ModePowerOff      Mode = "POWER_OFF"
	ModePowerOn       Mode = "POWER_ON"
	ModeIdle          Mode = "IDLE"
	ModeBackdrive     Mode = "BACKDRIVE"
	ModeRunning       Mode = "RUNNING"
)

// Safety is the state reported by the safetystatus command.
type Safety string

const (
	SafetyNormal                     Safety = "NORMAL"
	SafetyReduced                    Safety = "REDUCED"
	SafetyProtectiveStop             Safety = "PROTECTIVE_STOP"
	SafetyRecovery                   Safety = "RECOVERY"
	SafetySafeguardStop              Safety = "SAFEGUARD_STOP"
	SafetySystemEmergencyStop        Safety = "SYSTEM_EMERGENCY_STOP"
	SafetyRobotEmergencyStop         Safety = "ROBOT_EMERGENCY_STOP"
	SafetyViolation                  Safety = "VIOLATION"
	SafetyFault                      Safety = "FAULT"
	SafetyAutomaticModeSafeguardStop Safety = "AUTOMATIC_MODE_SAFEGUARD_STOP"
	SafetyThreePositionEnablingStop  Safety = "SYSTEM_THREE_POSITION_ENABLING_STOP"
)

// OperationalMode is the PolyScope operational mode.
type OperationalMode string

const (
	OperationalManual    OperationalMode = "MANUAL"
	OperationalAutomatic OperationalMode = "AUTOMATIC"
	OperationalNone      OperationalMode = "NONE"
)

var (
	// ErrUnexpectedResponse reports a reply that does not match what the
	// dashboard server documents for the command.
	ErrUnexpectedResponse = errors.New("unexpected dashboard response")
	// ErrProgramNotFound reports a load command for a program path the
	// controller does not have.
	ErrProgramNotFound = errors.New("program not found on controller")
	// ErrInitFailed reports that Initialize ran out of recovery attempts.
	ErrInitFailed = errors.New("controller initialization attempts exhausted")
)

// Config holds dashboard connection settings.
type Config struct {
	Host string
	Port int

	// ResponseDelay is how long the server is given to form a reply before
	// the response line is read. The dashboard protocol has no framing
	// beyond newlines, so commands are paced rather than pipelined.
	ResponseDelay time.Duration
	ReadTimeout   time.Duration
	DialTimeout   time.Duration

	// MaxInitAttempts bounds Initialize's recovery loop.
	MaxInitAttempts int
	// RecoveryTimeout bounds each brake-release or safety-restart wait.
	RecoveryTimeout time.Duration
	// AttemptInterval is the pause between recovery passes and polls.
	AttemptInterval time.Duration

	// SSH is used only for TransferProgram.
	SSH SSHConfig
}

func (c *Config) fill() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ResponseDelay == 0 {
		c.ResponseDelay = defaultResponseDelay
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.MaxInitAttempts == 0 {
		c.MaxInitAttempts = 10
	}
	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.AttemptInterval == 0 {
		c.AttemptInterval = time.Second
	}
}

// Client is a persistent dashboard session. Commands are serialized; the
// server answers one line per command.
type Client struct {
	cfg    Config
	logger logging.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to the dashboard server and consumes the greeting banner.
func Dial(ctx context.Context, cfg Config, logger logging.Logger) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("dashboard: host is required")
	}
	cfg.fill()
	c := &Client{cfg: cfg, logger: logger}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, err := d.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port))
	if err != nil {
		return errors.Wrap(err, "dial dashboard")
	}
	reader := bufio.NewReader(conn)

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return multiClose(err, conn)
	}
	greeting, err := reader.ReadString('\n')
	if err != nil {
		return multiClose(errors.Wrap(err, "read dashboard greeting"), conn)
	}
	if !strings.HasPrefix(strings.TrimSpace(greeting), banner) {
		return multiClose(errors.Wrapf(ErrUnexpectedResponse, "greeting %q", strings.TrimSpace(greeting)), conn)
	}

	c.conn = conn
	c.reader = reader
	return nil
}

func multiClose(err error, conn net.Conn) error {
	if cerr := conn.Close(); cerr != nil {
		return errors.Wrapf(err, "also failed to close: %v", cerr)
	}
	return err
}

// Reconnect drops the session and dials again, consuming a fresh banner.
// Safety restarts close the server side, so recovery paths need this.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		goutils.UncheckedErrorFunc(c.conn.Close)
		c.conn = nil
		c.reader = nil
	}
	return c.connect(ctx)
}

// Send writes one raw command and returns the single-line response with
// the trailing newline trimmed. Most callers want the typed wrappers.
func (c *Client) Send(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return "", errors.New("dashboard: not connected")
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return "", errors.Wrap(err, "set write deadline")
	}
	if _, err := c.conn.Write([]byte(cmd + "\n")); err != nil {
		return "", errors.Wrapf(err, "send %q", cmd)
	}

	// Give the server its settling time before reading the reply.
	if !goutils.SelectContextOrWait(ctx, c.cfg.ResponseDelay) {
		return "", ctx.Err()
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return "", errors.Wrap(err, "set read deadline")
	}
	resp, err := c.reader.ReadString('\n')
	if err != nil {
		return "", errors.Wrapf(err, "read response to %q", cmd)
	}
	resp = strings.TrimSpace(resp)
	c.logger.Debugf("dashboard: %q -> %q", cmd, resp)
	return resp, nil
}

// command sends cmd and verifies the response contains wantSubstr
// (case-insensitive). An empty wantSubstr accepts anything.
func (c *Client) command(ctx context.Context, cmd, wantSubstr string) (string, error) {
	resp, err := c.Send(ctx, cmd)
	if err != nil {
		return "", err
	}
	if wantSubstr != "" && !strings.Contains(strings.ToLower(resp), strings.ToLower(wantSubstr)) {
		return resp, errors.Wrapf(ErrUnexpectedResponse, "%q to %q", resp, cmd)
	}
	return resp, nil
}

// secondToken extracts the value from "Label: VALUE" style responses.
func secondToken(resp string) (string, error) {
	fields := strings.Fields(resp)
	if len(fields) < 2 {
		return "", errors.Wrapf(ErrUnexpectedResponse, "%q has no value token", resp)
	}
	return fields[1], nil
}

// RobotMode queries the controller state.
func (c *Client) RobotMode(ctx context.Context) (Mode, error) {
	resp, err := c.command(ctx, "robotmode", "robotmode:")
	if err != nil {
		return "", err
	}
	tok, err := secondToken(resp)
	if err != nil {
		return "", err
	}
	return Mode(strings.ToUpper(tok)), nil
}

// SafetyStatus queries the safety state.
func (c *Client) SafetyStatus(ctx context.Context) (Safety, error) {
	resp, err := c.command(ctx, "safetystatus", "safetystatus:")
	if err != nil {
		return "", err
	}
	tok, err := secondToken(resp)
	if err != nil {
		return "", err
	}
	return Safety(strings.ToUpper(tok)), nil
}

// OperationalMode queries the PolyScope operational mode.
func (c *Client) OperationalMode(ctx context.Context) (OperationalMode, error) {
	resp, err := c.Send(ctx, "get operational mode")
	if err != nil {
		return "", err
	}
	return OperationalMode(strings.ToUpper(strings.TrimSpace(resp))), nil
}

// SetOperationalMode switches between MANUAL and AUTOMATIC.
func (c *Client) SetOperationalMode(ctx context.Context, m OperationalMode) error {
	resp, err := c.Send(ctx, "set operational mode "+strings.ToLower(string(m)))
	if err != nil {
		return err
	}
	if strings.Contains(strings.ToLower(resp), "failed") {
		return errors.Wrapf(ErrUnexpectedResponse, "%q", resp)
	}
	return nil
}

// ClearOperationalMode releases dashboard control of the operational mode.
func (c *Client) ClearOperationalMode(ctx context.Context) error {
	_, err := c.Send(ctx, "clear operational mode")
	return err
}

// IsInRemoteControl reports whether the controller is in remote control.
func (c *Client) IsInRemoteControl(ctx context.Context) (bool, error) {
	resp, err := c.Send(ctx, "is in remote control")
	if err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(resp)))
	if err != nil {
		return false, errors.Wrapf(ErrUnexpectedResponse, "%q", resp)
	}
	return v, nil
}

// UnlockProtectiveStop releases a protective stop. The stop cause must be
// cleared first or the controller will re-enter the stop.
func (c *Client) UnlockProtectiveStop(ctx context.Context) error {
	_, err := c.command(ctx, "unlock protective stop", "releasing")
	return err
}

// CloseSafetyPopup dismisses the safety popup dialog.
func (c *Client) CloseSafetyPopup(ctx context.Context) error {
	_, err := c.command(ctx, "close safety popup", "closing safety popup")
	return err
}

// PowerOn powers the arm without releasing the brakes.
func (c *Client) PowerOn(ctx context.Context) error {
	_, err := c.command(ctx, "power on", "powering on")
	return err
}

// PowerOff powers the arm down.
func (c *Client) PowerOff(ctx context.Context) error {
	_, err := c.command(ctx, "power off", "powering off")
	return err
}

// BrakeRelease powers on and releases the brakes, then polls robotmode
// until the controller reports RUNNING or the recovery timeout passes.
func (c *Client) BrakeRelease(ctx context.Context) error {
	if _, err := c.command(ctx, "brake release", "brake releasing"); err != nil {
		return err
	}
	return c.waitForMode(ctx, ModeRunning, c.cfg.RecoveryTimeout)
}

// waitForMode polls robotmode until want is reported or timeout passes.
func (c *Client) waitForMode(ctx context.Context, want Mode, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		mode, err := c.RobotMode(ctx)
		if err == nil && mode == want {
			return nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return errors.Wrapf(err, "robot mode did not reach %s within %v", want, timeout)
			}
			return errors.Errorf("robot mode %s did not reach %s within %v", mode, want, timeout)
		}
		if !goutils.SelectContextOrWait(ctx, c.cfg.AttemptInterval) {
			return ctx.Err()
		}
	}
}

// RestartSafety restarts the safety subsystem after a fault or violation.
// The controller drops the dashboard session while restarting, so the
// client polls for a fresh connection and then releases the brakes.
func (c *Client) RestartSafety(ctx context.Context) error {
	if _, err := c.Send(ctx, "restart safety"); err != nil {
		// The server may close the socket before answering.
		c.logger.Debugf("restart safety response not read: %v", err)
	}

	deadline := time.Now().Add(c.cfg.RecoveryTimeout)
	for {
		if !goutils.SelectContextOrWait(ctx, c.cfg.AttemptInterval) {
			return ctx.Err()
		}
		if err := c.Reconnect(ctx); err == nil {
			if _, err := c.RobotMode(ctx); err == nil {
				break
			}
		}
		if time.Now().After(deadline) {
			return errors.Errorf("dashboard did not come back within %v of safety restart", c.cfg.RecoveryTimeout)
		}
	}
	return c.BrakeRelease(ctx)
}

// Load loads a program by controller-side path.
func (c *Client) Load(ctx context.Context, path string) error {
	resp, err := c.Send(ctx, "load "+path)
	if err != nil {
		return err
	}
	lower := strings.ToLower(resp)
	switch {
	case strings.Contains(lower, "file not found"):
		return errors.Wrapf(ErrProgramNotFound, "%s", path)
	case strings.Contains(lower, "error while loading"):
		return errors.Wrapf(ErrUnexpectedResponse, "%q", resp)
	}
	return nil
}

// Play starts the loaded program.
func (c *Client) Play(ctx context.Context) error {
	_, err := c.command(ctx, "play", "starting program")
	return err
}

// Pause pauses the running program.
func (c *Client) Pause(ctx context.Context) error {
	_, err := c.command(ctx, "pause", "pausing program")
	return err
}

// StopProgram stops the running program.
func (c *Client) StopProgram(ctx context.Context) error {
	_, err := c.command(ctx, "stop", "stopped")
	return err
}

// Running reports whether a program is executing.
func (c *Client) Running(ctx context.Context) (bool, error) {
	resp, err := c.command(ctx, "running", "program running:")
	if err != nil {
		return false, err
	}
	fields := strings.Fields(resp)
	v, perr := strconv.ParseBool(strings.ToLower(fields[len(fields)-1]))
	if perr != nil {
		return false, errors.Wrapf(ErrUnexpectedResponse, "%q", resp)
	}
	return v, nil
}

// ProgramState returns the raw program state line, e.g. "STOPPED name.urp".
func (c *Client) ProgramState(ctx context.Context) (string, error) {
	return c.Send(ctx, "programState")
}

// LoadedProgram returns the controller-side path of the loaded program.
func (c *Client) LoadedProgram(ctx context.Context) (string, error) {
	resp, err := c.command(ctx, "get loaded program", "loaded program:")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.TrimPrefix(resp, "Loaded program:")), nil
}

// Popup shows a popup with the given message on the pendant.
func (c *Client) Popup(ctx context.Context, msg string) error {
	_, err := c.command(ctx, "popup "+msg, "showing popup")
	return err
}

// ClosePopup dismisses a popup opened with Popup.
func (c *Client) ClosePopup(ctx context.Context) error {
	_, err := c.command(ctx, "close popup", "closing popup")
	return err
}

// Quit asks the server to drop this session, then closes the socket.
func (c *Client) Quit(ctx context.Context) error {
	if _, err := c.Send(ctx, "quit"); err != nil {
		return err
	}
	return c.Close()
}

// Shutdown powers down the controller itself.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.Send(ctx, "shutdown")
	return err
}

// Close drops the session without sending anything.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}
