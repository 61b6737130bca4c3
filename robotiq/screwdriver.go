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
)

// DefaultInterpreterPort is the URScript interpreter socket. It only
// accepts statements while an interpreter-mode program is running on the
// controller.
const DefaultInterpreterPort = 30020

// defaultAutoScrewTorque is the URCap's stock seating torque setting.
const defaultAutoScrewTorque = 250

// ErrStatementRejected reports an interpreter reply other than "ack".
var ErrStatementRejected = errors.New("interpreter rejected statement")

// ScrewdriverConfig holds interpreter socket settings.
type ScrewdriverConfig struct {
	Host string
	Port int

	DialTimeout time.Duration
	ReadTimeout time.Duration
}

func (c *ScrewdriverConfig) fill() {
	if c.Port == 0 {
		c.Port = DefaultInterpreterPort
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Second
	}
}

// Screwdriver sends Robotiq screwdriver URCap calls through the URScript
// interpreter. Every statement is acknowledged with "ack: <n>" carrying
// the interpreter's sequence number. Screw operations have no feedback
// channel here; completion is time based.
type Screwdriver struct {
	cfg    ScrewdriverConfig
	logger logging.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// DialScrewdriver connects to the interpreter socket. The interpreter-mode
// program must already be playing on the controller.
func DialScrewdriver(ctx context.Context, cfg ScrewdriverConfig, logger logging.Logger) (*Screwdriver, error) {
	if cfg.Host == "" {
		return nil, errors.New("screwdriver: host is required")
	}
	cfg.fill()

	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn, err := d.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		return nil, errors.Wrap(err, "dial interpreter")
	}
	return &Screwdriver{cfg: cfg, logger: logger, conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Statement sends one URScript statement and returns the interpreter's
// sequence number for it.
func (s *Screwdriver) Statement(ctx context.Context, stmt string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return 0, errors.New("screwdriver: not connected")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
		return 0, errors.Wrap(err, "set write deadline")
	}
	if _, err := s.conn.Write([]byte(stmt + "\n")); err != nil {
		return 0, errors.Wrapf(err, "send %q", stmt)
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
		return 0, errors.Wrap(err, "set read deadline")
	}
	reply, err := s.reader.ReadString('\n')
	if err != nil {
		return 0, errors.Wrapf(err, "read reply to %q", stmt)
	}
	reply = strings.TrimSpace(reply)
	s.logger.Debugf("interpreter: %q -> %q", stmt, reply)

	verb, seq, ok := strings.Cut(reply, ":")
	if !ok || verb != "ack" {
		return 0, errors.Wrapf(ErrStatementRejected, "%q to %q", reply, stmt)
	}
	n, err := strconv.Atoi(strings.TrimSpace(seq))
	if err != nil {
		return 0, errors.Wrapf(ErrStatementRejected, "unparseable sequence in %q", reply)
	}
	return n, nil
}

// VacuumOn engages the screw-holding vacuum.
func (s *Screwdriver) VacuumOn(ctx context.Context) error {
	_, err := s.Statement(ctx, "rq_screw_vacuum_on()")
	return err
}

// VacuumOff releases the screw-holding vacuum.
func (s *Screwdriver) VacuumOff(ctx context.Context) error {
	_, err := s.Statement(ctx, "rq_screw_vacuum_off()")
	return err
}

// AutoScrew runs the URCap's torque-seeking drive cycle. A torque of zero
// or less selects the stock setting.
func (s *Screwdriver) AutoScrew(ctx context.Context, torque int) error {
	if torque <= 0 {
		torque = defaultAutoScrewTorque
	}
	_, err := s.Statement(ctx, fmt.Sprintf("rq_auto_screw(%d)", torque))
	return err
}

// Turn drives the bit through angleDeg at rpm, clockwise or counter.
func (s *Screwdriver) Turn(ctx context.Context, angleDeg, rpm float64, clockwise bool) error {
	direction := "False"
	if clockwise {
		direction = "True"
	}
	_, err := s.Statement(ctx, fmt.Sprintf("rq_screw_turn(%s, %s, %s)",
		strconv.FormatFloat(angleDeg, 'f', -1, 64),
		strconv.FormatFloat(rpm, 'f', -1, 64),
		direction))
	return err
}

// Clear flushes statements the interpreter has not executed yet.
func (s *Screwdriver) Clear(ctx context.Context) error {
	_, err := s.Statement(ctx, "clear_interpreter()")
	return err
}

// Close drops the interpreter session.
func (s *Screwdriver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.reader = nil
	return err
}
