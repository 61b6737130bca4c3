package urscript

import (
	"bytes"
	"encoding/binary"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Primary interface message and subpackage types, per the UR client
// interface documentation. Everything else on the stream is skipped.
const (
	msgRobotState   = 16
	msgRobotMessage = 20

	pkgRobotModeData = 0
	pkgJointData     = 1
	pkgCartesianInfo = 4
)

// Robot mode values reported in robot mode data. The dashboard's textual
// robotmode is authoritative; these mirror it on the binary stream.
const (
	RobotModeDisconnected  = 0
	RobotModeConfirmSafety = 1
	RobotModeBooting       = 2
	RobotModePowerOff      = 3
	RobotModePowerOn       = 4
	RobotModeIdle          = 5
	RobotModeBackdrive     = 6
	RobotModeRunning       = 7
)

// State is one decoded robot state frame from the primary interface.
type State struct {
	Joints       Joints
	TargetJoints Joints
	Speeds       Joints
	TCP          Pose

	RobotMode         byte
	PowerOn           bool
	EmergencyStopped  bool
	ProtectiveStopped bool
	ProgramRunning    bool
	ProgramPaused     bool

	// ReceivedAt is the local receipt time, used for staleness checks.
	ReceivedAt time.Time
}

type robotModePacket struct {
	Timestamp          uint64
	RealRobotConnected bool
	RealRobotEnabled   bool
	PowerOn            bool
	EmergencyStopped   bool
	ProtectiveStopped  bool
	ProgramRunning     bool
	ProgramPaused      bool
	RobotMode          uint8
}

type jointPacket struct {
	QActual  float64
	QTarget  float64
	QDActual float64
	IActual  float32
	VActual  float32
	TMotor   float32
	TMicro   float32
	Mode     uint8
}

// parseRobotState decodes the payload of a robot state message (the bytes
// following the message type). Unknown subpackages are skipped by their
// declared size.
func parseRobotState(payload []byte) (State, error) {
	s := State{ReceivedAt: time.Now()}
	for len(payload) > 0 {
		if len(payload) < 5 {
			return s, errors.Errorf("truncated subpackage header: %d bytes left", len(payload))
		}
		size := int(binary.BigEndian.Uint32(payload))
		if size < 5 || size > len(payload) {
			return s, errors.Errorf("bad subpackage size %d with %d bytes left", size, len(payload))
		}
		pkgType := payload[4]
		body := payload[5:size]

		switch pkgType {
		case pkgRobotModeData:
			var p robotModePacket
			if err := binary.Read(bytes.NewReader(body), binary.BigEndian, &p); err != nil {
				return s, errors.Wrap(err, "robot mode data")
			}
			s.RobotMode = p.RobotMode
			s.PowerOn = p.PowerOn
			s.EmergencyStopped = p.EmergencyStopped
			s.ProtectiveStopped = p.ProtectiveStopped
			s.ProgramRunning = p.ProgramRunning
			s.ProgramPaused = p.ProgramPaused
		case pkgJointData:
			r := bytes.NewReader(body)
			for i := 0; i < 6; i++ {
				var jp jointPacket
				if err := binary.Read(r, binary.BigEndian, &jp); err != nil {
					return s, errors.Wrapf(err, "joint data %d", i)
				}
				s.Joints[i] = jp.QActual
				s.TargetJoints[i] = jp.QTarget
				s.Speeds[i] = jp.QDActual
			}
		case pkgCartesianInfo:
			r := bytes.NewReader(body)
			for i := 0; i < 6; i++ {
				if err := binary.Read(r, binary.BigEndian, &s.TCP[i]); err != nil {
					return s, errors.Wrapf(err, "cartesian info %d", i)
				}
			}
			// Remaining fields (TCP offset) are not used.
		}
		payload = payload[size:]
	}
	return s, nil
}

// stateTracker holds the most recent decoded state for readers.
type stateTracker struct {
	mu    sync.RWMutex
	last  State
	valid bool
}

func (t *stateTracker) set(s State) {
	t.mu.Lock()
	t.last = s
	t.valid = true
	t.mu.Unlock()
}

// current returns the latest state, or an error if none has arrived yet or
// the newest one is older than maxAge (stream runs at 10 Hz).
func (t *stateTracker) current(maxAge time.Duration) (State, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.valid {
		return State{}, errors.New("no robot state received yet")
	}
	if age := time.Since(t.last.ReceivedAt); age > maxAge {
		return State{}, errors.Errorf("robot state is stale (%.1fs old)", age.Seconds())
	}
	return t.last, nil
}
