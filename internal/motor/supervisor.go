// Package motor owns the actuation state machine for the two wheel
// groups, the command-staleness watchdog, and the emergency stop.
package motor

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/strayline/roverctl/internal/gpio"
	"github.com/strayline/roverctl/internal/observability"
	"github.com/strayline/roverctl/internal/protocol"
)

var (
	ErrNotReady       = errors.New("motor: supervisor not ready")
	ErrActuationFault = errors.New("motor: actuation fault")
)

// State is the supervisor lifecycle state.
type State int

const (
	Uninitialized State = iota
	Ready
	Executing
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Executing:
		return "executing"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// GroupConfig is the pin set for one wheel group. Forward and backward
// pin lists are index-paired per physical wheel.
type GroupConfig struct {
	ForwardPins  []int
	BackwardPins []int
	PWMPins      []int
}

// Config wires the supervisor to the chassis.
type Config struct {
	Left            GroupConfig
	Right           GroupConfig
	PWMFrequencyHz  int
	WatchdogTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Left: GroupConfig{
			ForwardPins:  []int{17, 5},
			BackwardPins: []int{27, 6},
			PWMPins:      []int{12, 18},
		},
		Right: GroupConfig{
			ForwardPins:  []int{22, 16},
			BackwardPins: []int{23, 26},
			PWMPins:      []int{13, 19},
		},
		PWMFrequencyHz:  1000,
		WatchdogTimeout: time.Second,
	}
}

type group struct {
	forward  []gpio.Output
	backward []gpio.Output
	pwm      []gpio.PWM
}

// Supervisor maps motor commands onto direction pins and PWM duty for
// the left and right wheel groups. It is driven from a single control
// loop and is not safe for concurrent use; the watchdog clock has one
// writer (successful Execute) and one reader (CheckWatchdog).
type Supervisor struct {
	cfg    Config
	chip   gpio.Chip
	state  State
	left   group
	right  group
	logger zerolog.Logger

	now   func() time.Time
	sleep func(time.Duration)

	lastCommandTime time.Time
}

func NewSupervisor(chip gpio.Chip, cfg Config) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		chip:   chip,
		logger: log.With().Str("component", "motor").Logger(),
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// SetClock swaps the time sources. Intended for tests.
func (s *Supervisor) SetClock(now func() time.Time, sleep func(time.Duration)) {
	s.now = now
	s.sleep = sleep
}

func (s *Supervisor) State() State {
	return s.state
}

// Setup acquires all pins, drives direction outputs low and starts PWM
// channels at zero duty.
func (s *Supervisor) Setup() error {
	left, err := s.setupGroup(s.cfg.Left)
	if err != nil {
		return err
	}
	right, err := s.setupGroup(s.cfg.Right)
	if err != nil {
		return err
	}
	s.left = left
	s.right = right
	s.state = Ready
	s.lastCommandTime = s.now()
	s.logger.Info().Msg("motor supervisor ready")
	return nil
}

func (s *Supervisor) setupGroup(cfg GroupConfig) (group, error) {
	var g group
	for _, pin := range append(append([]int{}, cfg.ForwardPins...), cfg.BackwardPins...) {
		out, err := s.chip.Output(pin)
		if err != nil {
			return group{}, fmt.Errorf("motor: direction pin %d: %w", pin, err)
		}
		if err := out.Write(gpio.Low); err != nil {
			return group{}, fmt.Errorf("motor: direction pin %d: %w", pin, err)
		}
		if len(g.forward) < len(cfg.ForwardPins) {
			g.forward = append(g.forward, out)
		} else {
			g.backward = append(g.backward, out)
		}
	}
	for _, pin := range cfg.PWMPins {
		pwm, err := s.chip.PWM(pin, s.cfg.PWMFrequencyHz)
		if err != nil {
			return group{}, fmt.Errorf("motor: pwm pin %d: %w", pin, err)
		}
		if err := pwm.Start(); err != nil {
			return group{}, fmt.Errorf("motor: pwm pin %d: %w", pin, err)
		}
		g.pwm = append(g.pwm, pwm)
	}
	return g, nil
}

// Execute applies a command to both wheel groups and stamps the
// watchdog clock. Any hardware failure escalates straight to
// EmergencyStop so a half-applied command never stands.
func (s *Supervisor) Execute(cmd protocol.MotorCommand) error {
	if s.state == Uninitialized {
		s.logger.Error().Str("state", s.state.String()).Msg("execute rejected")
		return nil
	}

	if err := s.applyGroup(s.left, cmd.LeftSpeed, cmd.LeftDir); err != nil {
		s.EmergencyStop()
		return fmt.Errorf("%w: left group: %v", ErrActuationFault, err)
	}
	if err := s.applyGroup(s.right, cmd.RightSpeed, cmd.RightDir); err != nil {
		s.EmergencyStop()
		return fmt.Errorf("%w: right group: %v", ErrActuationFault, err)
	}

	s.lastCommandTime = s.now()
	if cmd.IsStop() {
		s.state = Stopped
	} else {
		s.state = Executing
	}
	s.logger.Debug().Stringer("command", cmd).Msg("executed")
	return nil
}

func (s *Supervisor) applyGroup(g group, speed uint8, dir protocol.Direction) error {
	var fwd, bwd gpio.Level
	switch dir {
	case protocol.Forward:
		fwd, bwd = gpio.High, gpio.Low
	case protocol.Backward:
		fwd, bwd = gpio.Low, gpio.High
	default:
		fwd, bwd = gpio.Low, gpio.Low
		speed = 0
	}
	for _, pin := range g.forward {
		if err := pin.Write(fwd); err != nil {
			return err
		}
	}
	for _, pin := range g.backward {
		if err := pin.Write(bwd); err != nil {
			return err
		}
	}
	duty := float64(speed) / 255.0 * 100.0
	for _, pwm := range g.pwm {
		if err := pwm.SetDuty(duty); err != nil {
			return err
		}
	}
	return nil
}

// EmergencyStop unconditionally drives every direction output low and
// every PWM channel to zero duty. Idempotent and safe from any state;
// pin errors are logged and skipped so the remaining outputs still get
// stopped.
func (s *Supervisor) EmergencyStop() {
	s.logger.Warn().Msg("EMERGENCY STOP")
	observability.RecordEmergencyStop()
	for _, g := range []group{s.left, s.right} {
		for _, pin := range append(append([]gpio.Output{}, g.forward...), g.backward...) {
			if err := pin.Write(gpio.Low); err != nil {
				s.logger.Error().Err(err).Msg("emergency stop: direction pin")
			}
		}
		for _, pwm := range g.pwm {
			if err := pwm.SetDuty(0); err != nil {
				s.logger.Error().Err(err).Msg("emergency stop: pwm channel")
			}
		}
	}
	if s.state != Uninitialized {
		s.state = Stopped
	}
}

// CheckWatchdog stops the motors when no command has been applied
// within the timeout. The clock resets after firing, so a dead link
// yields exactly one stop event per timeout window.
func (s *Supervisor) CheckWatchdog() {
	if s.state == Uninitialized {
		return
	}
	elapsed := s.now().Sub(s.lastCommandTime)
	if elapsed <= s.cfg.WatchdogTimeout {
		return
	}
	s.logger.Warn().Dur("stale", elapsed).Msg("watchdog timeout, stopping motors")
	observability.RecordWatchdogStop()
	s.EmergencyStop()
	s.lastCommandTime = s.now()
}

// TestMotors runs the scripted self-check: forward, backward, rotate
// left, rotate right, each held briefly with a stop and settle between.
// Not part of the control path.
func (s *Supervisor) TestMotors() error {
	if s.state == Uninitialized {
		return ErrNotReady
	}
	const testSpeed = 150
	sequence := []struct {
		name string
		cmd  protocol.MotorCommand
	}{
		{"forward", protocol.ForwardCommand(testSpeed, 0)},
		{"backward", protocol.BackwardCommand(testSpeed, 0)},
		{"rotate left", protocol.RotateLeftCommand(testSpeed, 0)},
		{"rotate right", protocol.RotateRightCommand(testSpeed, 0)},
	}
	for _, step := range sequence {
		s.logger.Info().Str("step", step.name).Msg("motor test")
		if err := s.Execute(step.cmd); err != nil {
			return err
		}
		s.sleep(time.Second)
		s.EmergencyStop()
		s.sleep(500 * time.Millisecond)
	}
	s.logger.Info().Msg("motor test complete")
	return nil
}

// Teardown stops everything and releases the supervisor back to
// Uninitialized. PWM channels are stopped outright.
func (s *Supervisor) Teardown() {
	s.EmergencyStop()
	for _, g := range []group{s.left, s.right} {
		for _, pwm := range g.pwm {
			if err := pwm.Stop(); err != nil {
				s.logger.Error().Err(err).Msg("teardown: pwm stop")
			}
		}
	}
	s.state = Uninitialized
}
