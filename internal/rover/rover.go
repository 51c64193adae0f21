// Package rover runs the hardware-side daemon loop: camera frames out
// to the controller, motor commands back in, with the ranging array
// acting as a local collision guard that no remote decision can
// override.
package rover

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/strayline/roverctl/internal/config"
	"github.com/strayline/roverctl/internal/link"
	"github.com/strayline/roverctl/internal/motor"
	"github.com/strayline/roverctl/internal/protocol"
	"github.com/strayline/roverctl/internal/ranging"
	"github.com/strayline/roverctl/internal/telemetry"
)

// commandWait bounds the per-tick wait for a motor command so frame
// pacing is not starved by a quiet controller.
const commandWait = 50 * time.Millisecond

// FrameProducer supplies camera frames. Implementations may block
// briefly for capture but must respect Close.
type FrameProducer interface {
	Frame() ([]byte, error)
	Close() error
}

// Rover ties the uplink session, the motor supervisor, and the ranging
// array into one control loop.
type Rover struct {
	cfg     config.RoverConfig
	session *link.Session
	motors  *motor.Supervisor
	sensors *ranging.Array
	camera  FrameProducer
	telem   *telemetry.Publisher
}

// New assembles a rover from already-initialized subsystems. sensors
// and telem may be nil; the loop then runs without a collision guard
// or telemetry.
func New(cfg config.RoverConfig, session *link.Session, motors *motor.Supervisor, sensors *ranging.Array, camera FrameProducer, telem *telemetry.Publisher) *Rover {
	return &Rover{
		cfg:     cfg,
		session: session,
		motors:  motors,
		sensors: sensors,
		camera:  camera,
		telem:   telem,
	}
}

// Run drives the control loop until ctx is cancelled. Motors are
// stopped and the link torn down before return; camera and telemetry
// lifetimes belong to the caller.
func (r *Rover) Run(ctx context.Context) error {
	defer r.shutdown()

	if err := r.session.ReconnectLoop(ctx); err != nil {
		return err
	}

	fps := r.cfg.CameraFPS
	if fps <= 0 {
		fps = 10
	}
	framePeriod := time.Second / time.Duration(fps)
	log.Info().Int("fps", fps).Msg("control loop started")

	lastTelem := time.Time{}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		tickStart := time.Now()

		if err := r.tick(); err != nil {
			// Link is gone. Freeze the chassis, then block on
			// reconnect; the watchdog is irrelevant while stopped.
			log.Warn().Err(err).Msg("uplink lost, stopping motors")
			r.motors.EmergencyStop()
			if err := r.session.ReconnectLoop(ctx); err != nil {
				return err
			}
			continue
		}

		r.motors.CheckWatchdog()

		if time.Since(lastTelem) >= time.Second {
			r.publishTelemetry()
			lastTelem = time.Now()
		}

		if rem := framePeriod - time.Since(tickStart); rem > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(rem):
			}
		}
	}
}

// tick sends one frame and applies at most one command. A send failure
// is the only error; everything else degrades locally.
func (r *Rover) tick() error {
	frame, err := r.camera.Frame()
	if err != nil {
		return fmt.Errorf("rover: frame capture: %w", err)
	}
	if err := r.session.SendFrame(frame); err != nil {
		return err
	}

	cmd, ok := r.session.ReceiveCommand(commandWait)
	if !ok {
		return nil
	}
	cmd = r.guardCommand(cmd)
	if err := r.motors.Execute(cmd); err != nil {
		// Execute already escalated to emergency stop; the link is
		// still fine, so keep streaming frames.
		log.Error().Err(err).Msg("command execution failed")
	}
	return nil
}

// guardCommand substitutes a stop when the command would drive into a
// zone the ranging array reports as blocked. Rotations in place and
// stops pass through.
func (r *Rover) guardCommand(cmd protocol.MotorCommand) protocol.MotorCommand {
	if r.sensors == nil || cmd.IsStop() {
		return cmd
	}

	var zone string
	switch {
	case cmd.LeftDir == protocol.Forward && cmd.RightDir == protocol.Forward:
		zone = "front"
	case cmd.LeftDir == protocol.Backward && cmd.RightDir == protocol.Backward:
		zone = "rear"
	default:
		return cmd
	}

	// One sweep per command; every signal below derives from it.
	readings := r.sensors.ReadZone(zone)
	if r.sensors.Blocked(readings) {
		log.Warn().
			Str("zone", zone).
			Float64("distance_cm", r.sensors.MinDistance(readings)).
			Msg("collision guard engaged, substituting stop")
		return protocol.StopCommand()
	}
	return cmd
}

func (r *Rover) publishTelemetry() {
	snap := telemetry.Snapshot{
		Timestamp:     time.Now(),
		LinkConnected: r.session.IsConnected(),
		MotorState:    r.motors.State().String(),
	}
	if r.sensors != nil {
		snap.Ranging = r.sensors.LastReadings()
	}
	r.telem.Publish(snap)
}

func (r *Rover) shutdown() {
	r.motors.EmergencyStop()
	r.session.Disconnect()
	log.Info().Msg("control loop stopped")
}
