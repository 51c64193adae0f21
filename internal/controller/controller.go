// Package controller runs the decision-side daemon: it owns the frame
// link server, feeds frames through the policy decider, and sends the
// resulting motor commands back down the active rover connection.
package controller

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/strayline/roverctl/internal/config"
	"github.com/strayline/roverctl/internal/link"
	"github.com/strayline/roverctl/internal/policy"
	"github.com/strayline/roverctl/internal/protocol"
)

// idleWait paces the loop while no rover is connected or no frame has
// arrived.
const idleWait = 200 * time.Millisecond

// Controller pairs the link server with the policy decider.
type Controller struct {
	cfg     config.ControllerConfig
	server  *link.Server
	decider *policy.Decider

	// paused gates autonomous decisions; manual commands bypass it.
	paused chan bool
}

func New(cfg config.ControllerConfig, server *link.Server, decider *policy.Decider) *Controller {
	return &Controller{
		cfg:     cfg,
		server:  server,
		decider: decider,
		paused:  make(chan bool, 1),
	}
}

func (c *Controller) Server() *link.Server { return c.server }

func (c *Controller) Decider() *policy.Decider { return c.decider }

// Pause suspends or resumes autonomous decisions. The latest request
// wins; the loop observes it on its next iteration.
func (c *Controller) Pause(paused bool) {
	select {
	case <-c.paused:
	default:
	}
	c.paused <- paused
}

// SendManual pushes an operator command to the active rover. Works
// whether or not the autonomous loop is paused.
func (c *Controller) SendManual(cmd protocol.MotorCommand) error {
	conn := c.server.ActiveConn()
	if conn == nil {
		return link.ErrNotConnected
	}
	return conn.SendCommand(cmd)
}

// Run executes decision rounds until ctx is cancelled. Every frame
// that produces a decision results in exactly one command send; the
// decider guarantees that an unusable decision is already the stop
// command.
func (c *Controller) Run(ctx context.Context) error {
	frameTimeout := time.Duration(c.cfg.FrameTimeoutMS) * time.Millisecond
	if frameTimeout <= 0 {
		frameTimeout = time.Second
	}

	paused := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case paused = <-c.paused:
			log.Info().Bool("paused", paused).Msg("autonomy state changed")
		default:
		}

		conn := c.server.ActiveConn()
		if conn == nil || paused {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(idleWait):
			}
			continue
		}

		frame, ok := conn.GetFrame(frameTimeout)
		if !ok {
			continue
		}

		cmd, reasoning := c.decider.Decide(ctx, frame)
		if err := conn.SendCommand(cmd); err != nil {
			// The connection registry prunes dead sessions; just
			// pick up the next active connection on the following
			// round.
			log.Warn().Err(err).Msg("command send failed")
			continue
		}
		log.Info().
			Str("command", cmd.String()).
			Str("reasoning", reasoning).
			Int("step", c.decider.State().Steps()).
			Msg("decision applied")
	}
}
