// Package urcell drives a Universal Robots e-series arm serving a
// laboratory workcell. A UR value owns the controller's dashboard session
// and a URScript motion connection, and sequences them together with the
// workcell's end effectors (finger gripper, screwdriver, pipette pump,
// camera) to run plate-handling tasks.
package urcell

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"github.com/benchcell/urcell/dashboard"
	"github.com/benchcell/urcell/robotiq"
	"github.com/benchcell/urcell/tricont"
	"github.com/benchcell/urcell/urscript"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
)

// Motion defaults shared by the task methods.
const (
	defaultAccel        = 0.5
	defaultVel          = 0.5
	defaultSpeedMS      = 0.750
	defaultSpeedRadS    = 0.750
	defaultAccelMSS     = 1.200
	defaultAccelRadSS   = 1.200
	defaultBlendRadiusM = 0.001

	homeAccel = 2.0
	homeVel   = 2.0
)

// Gripper register defaults for this workcell's labware.
const (
	defaultGripperOpen  = 0
	defaultGripperClose = 130
	defaultGripperSpeed = 150
	defaultGripperForce = 0
)

// Config configures a workcell connection.
type Config struct {
	// Host is the controller address. Required.
	Host string

	DashboardPort   int
	CommandPort     int
	StatePort       int
	GripperPort     int
	InterpreterPort int
	PumpPort        int

	// SSH enables program transfer onto the controller.
	SSH dashboard.SSHConfig

	// ResponseDelay paces dashboard commands.
	ResponseDelay time.Duration

	// Motion defaults applied when a request leaves them zero.
	Accel        float64
	Vel          float64
	SpeedMS      float64
	SpeedRadS    float64
	AccelMSS     float64
	AccelRadSS   float64
	BlendRadiusM float64

	GripperOpen  int
	GripperClose int
	GripperSpeed int
	GripperForce int

	// ProgramPollInterval is the joint-poll spacing while a controller
	// program runs; ProgramTimeout bounds the whole run.
	ProgramPollInterval time.Duration
	ProgramTimeout      time.Duration
}

// DefaultConfig returns the workcell defaults for a controller host.
func DefaultConfig(host string) Config {
	cfg := Config{Host: host}
	cfg.fill()
	return cfg
}

// Validate checks the required fields.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("config: host is required")
	}
	return nil
}

func (c *Config) fill() {
	if c.DashboardPort == 0 {
		c.DashboardPort = dashboard.DefaultPort
	}
	if c.CommandPort == 0 {
		c.CommandPort = urscript.DefaultCommandPort
	}
	if c.StatePort == 0 {
		c.StatePort = urscript.DefaultStatePort
	}
	if c.GripperPort == 0 {
		c.GripperPort = robotiq.DefaultGripperPort
	}
	if c.InterpreterPort == 0 {
		c.InterpreterPort = robotiq.DefaultInterpreterPort
	}
	if c.PumpPort == 0 {
		c.PumpPort = tricont.DefaultPort
	}
	if c.Accel == 0 {
		c.Accel = defaultAccel
	}
	if c.Vel == 0 {
		c.Vel = defaultVel
	}
	if c.SpeedMS == 0 {
		c.SpeedMS = defaultSpeedMS
	}
	if c.SpeedRadS == 0 {
		c.SpeedRadS = defaultSpeedRadS
	}
	if c.AccelMSS == 0 {
		c.AccelMSS = defaultAccelMSS
	}
	if c.AccelRadSS == 0 {
		c.AccelRadSS = defaultAccelRadSS
	}
	if c.BlendRadiusM == 0 {
		c.BlendRadiusM = defaultBlendRadiusM
	}
	if c.GripperClose == 0 {
		c.GripperClose = defaultGripperClose
	}
	if c.GripperSpeed == 0 {
		c.GripperSpeed = defaultGripperSpeed
	}
	if c.ProgramPollInterval == 0 {
		c.ProgramPollInterval = 3 * time.Second
	}
	if c.ProgramTimeout == 0 {
		c.ProgramTimeout = 10 * time.Minute
	}
}

// dashboardAPI is the controller-lifecycle surface the tasks use.
type dashboardAPI interface {
	Initialize(ctx context.Context) error
	Status(ctx context.Context) (dashboard.Status, error)
	Load(ctx context.Context, path string) error
	Play(ctx context.Context) error
	StopProgram(ctx context.Context) error
	Running(ctx context.Context) (bool, error)
	ProgramState(ctx context.Context) (string, error)
	LoadedProgram(ctx context.Context) (string, error)
	TransferProgram(ctx context.Context, localPath, remotePath string) error
	PowerOff(ctx context.Context) error
	Close() error
}

// armAPI is the motion surface the tasks drive.
type armAPI interface {
	MoveJ(ctx context.Context, target urscript.Joints, accel, vel float64) error
	MoveL(ctx context.Context, target urscript.Pose, accel, vel float64) error
	MoveJPose(ctx context.Context, target urscript.Pose, accel, vel float64) error
	TranslateTool(ctx context.Context, delta r3.Vector, accel, vel float64) error
	SpeedLTool(ctx context.Context, twist [6]float64, accel float64, duration time.Duration) error
	SetPayload(kg float64) error
	SetTCP(offset urscript.Pose) error
	SetDigitalOut(pin int, high bool) error
	Joints() (urscript.Joints, error)
	TCPPose() (urscript.Pose, error)
	Stop() error
	Close() error
}

// Tool-client surfaces, satisfied by the robotiq and tricont clients.
// Tasks dial a fresh session per run and close it when done.
type fingerGripper interface {
	Activate(ctx context.Context) error
	MoveAndWait(ctx context.Context, pos, speed, force int) (robotiq.ObjectStatus, error)
	Close() error
}

type screwDriver interface {
	VacuumOn(ctx context.Context) error
	VacuumOff(ctx context.Context) error
	AutoScrew(ctx context.Context, torque int) error
	Turn(ctx context.Context, angleDeg, rpm float64, clockwise bool) error
	Close() error
}

type pipettePump interface {
	Initialize(ctx context.Context) error
	Pickup(ctx context.Context, increments int) error
	Dispense(ctx context.Context, increments int) error
	MoveAbsolute(ctx context.Context, position int) error
	Close() error
}

type objectLocator interface {
	Offset(ctx context.Context, label string) (r3.Vector, error)
}

// UR is the workcell facade. One task owns the motion connection at a
// time; the motion mutex serializes them.
type UR struct {
	logger logging.Logger
	cfg    Config

	dashboard dashboardAPI
	arm       armAPI

	dialGripper func(ctx context.Context) (fingerGripper, error)
	dialDriver  func(ctx context.Context) (screwDriver, error)
	dialPump    func(ctx context.Context) (pipettePump, error)
	locator     objectLocator

	motionMu sync.Mutex

	stateMu    sync.Mutex
	lastJoints urscript.Joints
	haveJoints bool

	toolMu      sync.Mutex
	currentTool string
}

// New connects to the controller's dashboard and motion sockets and
// prepares the workcell facade. The tool clients are dialed lazily, one
// fresh session per task.
func New(ctx context.Context, cfg Config, logger logging.Logger) (*UR, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.fill()

	dash, err := dashboard.Dial(ctx, dashboard.Config{
		Host:          cfg.Host,
		Port:          cfg.DashboardPort,
		ResponseDelay: cfg.ResponseDelay,
		SSH:           cfg.SSH,
	}, logger.Sublogger("dashboard"))
	if err != nil {
		return nil, fmt.Errorf("connect dashboard: %w", err)
	}

	armClient, err := urscript.Dial(ctx, urscript.Config{
		Host:        cfg.Host,
		CommandPort: cfg.CommandPort,
		StatePort:   cfg.StatePort,
	}, logger.Sublogger("urscript"))
	if err != nil {
		return nil, multierr.Combine(fmt.Errorf("connect motion socket: %w", err), dash.Close())
	}

	r := &UR{
		logger:    logger,
		cfg:       cfg,
		dashboard: dash,
		arm:       armClient,
	}
	r.dialGripper = func(ctx context.Context) (fingerGripper, error) {
		return robotiq.DialGripper(ctx, robotiq.GripperConfig{
			Host: cfg.Host,
			Port: cfg.GripperPort,
		}, logger.Sublogger("gripper"))
	}
	r.dialDriver = func(ctx context.Context) (screwDriver, error) {
		return robotiq.DialScrewdriver(ctx, robotiq.ScrewdriverConfig{
			Host: cfg.Host,
			Port: cfg.InterpreterPort,
		}, logger.Sublogger("screwdriver"))
	}
	r.dialPump = func(ctx context.Context) (pipettePump, error) {
		return tricont.Dial(ctx, tricont.Config{
			Host: cfg.Host,
			Port: cfg.PumpPort,
		}, logger.Sublogger("pump"))
	}

	// Work in the flange frame until a task configures a tool offset.
	if err := r.arm.SetTCP(urscript.Pose{}); err != nil {
		return nil, multierr.Combine(fmt.Errorf("clear tcp offset: %w", err), r.Close())
	}
	return r, nil
}

// Initialize drives the controller to an operational state.
func (r *UR) Initialize(ctx context.Context) error {
	return r.dashboard.Initialize(ctx)
}

// Status reads the controller's mode and safety snapshot.
func (r *UR) Status(ctx context.Context) (dashboard.Status, error) {
	return r.dashboard.Status(ctx)
}

// Home moves the arm to the given resting joint configuration.
func (r *UR) Home(ctx context.Context, joints urscript.Joints) error {
	r.motionMu.Lock()
	defer r.motionMu.Unlock()
	return r.homeLocked(ctx, &joints)
}

// homeLocked homes when joints is non-nil. Callers hold the motion mutex.
func (r *UR) homeLocked(ctx context.Context, joints *urscript.Joints) error {
	if joints == nil {
		return nil
	}
	r.logger.Infof("homing the arm")
	if err := r.arm.MoveJ(ctx, *joints, homeAccel, homeVel); err != nil {
		return fmt.Errorf("home: %w", err)
	}
	return nil
}

// MovementState labels whether the arm's joints are settled.
type MovementState string

const (
	MovementReady MovementState = "READY"
	MovementBusy  MovementState = "BUSY"
)

// MovementState compares the current joint snapshot with the previous
// call's snapshot, each joint rounded to two decimals. A snapshot equal
// to the previous one means the arm is READY, anything else BUSY.
func (r *UR) MovementState() (MovementState, error) {
	joints, err := r.arm.Joints()
	if err != nil {
		return MovementBusy, fmt.Errorf("read joints: %w", err)
	}
	rounded := joints.Rounded()

	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	state := MovementBusy
	if r.haveJoints && rounded == r.lastJoints {
		state = MovementReady
	}
	r.lastJoints = rounded
	r.haveJoints = true
	return state, nil
}

// resetMovementState forgets the previous snapshot so the next poll
// starts a fresh comparison.
func (r *UR) resetMovementState() {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.haveJoints = false
}

// CurrentTool names the end effector the facade believes is mounted.
func (r *UR) CurrentTool() string {
	r.toolMu.Lock()
	defer r.toolMu.Unlock()
	return r.currentTool
}

func (r *UR) setCurrentTool(name string) {
	r.toolMu.Lock()
	defer r.toolMu.Unlock()
	r.currentTool = name
}

// Joints reads the live joint positions.
func (r *UR) Joints() (urscript.Joints, error) {
	return r.arm.Joints()
}

// TCPPose reads the live tool pose.
func (r *UR) TCPPose() (urscript.Pose, error) {
	return r.arm.TCPPose()
}

// Stop halts arm motion immediately.
func (r *UR) Stop() error {
	return r.arm.Stop()
}

// PowerOff powers the arm down through the dashboard.
func (r *UR) PowerOff(ctx context.Context) error {
	return r.dashboard.PowerOff(ctx)
}

// Close disconnects the dashboard and motion sessions.
func (r *UR) Close() error {
	return multierr.Combine(r.arm.Close(), r.dashboard.Close())
}
