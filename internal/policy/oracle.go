package policy

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/strayline/roverctl/internal/observability"
	"github.com/strayline/roverctl/internal/protocol"
)

// Oracle is the vision model boundary: one camera frame and a prompt
// in, free text out.
type Oracle interface {
	Decide(ctx context.Context, image []byte, prompt string) (string, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, image []byte, prompt string) (string, error)

func (f OracleFunc) Decide(ctx context.Context, image []byte, prompt string) (string, error) {
	return f(ctx, image, prompt)
}

// Decider runs the full decision round: prompt build, oracle call
// under a deadline, response parse. Every failure path degrades to the
// stop command, so the controller loop never has to special-case a
// bad round.
type Decider struct {
	oracle  Oracle
	state   *ControlState
	timeout time.Duration
}

// NewDecider wires an oracle to mission state. timeout bounds each
// inference call.
func NewDecider(oracle Oracle, state *ControlState, timeout time.Duration) *Decider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Decider{oracle: oracle, state: state, timeout: timeout}
}

func (d *Decider) State() *ControlState { return d.state }

// Decide produces the next motor command for the given frame. The
// returned command is always safe to send: oracle errors, deadline
// expiry, and unparseable output all yield the stop command.
func (d *Decider) Decide(ctx context.Context, image []byte) (protocol.MotorCommand, string) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	prompt := d.state.BuildPrompt()
	start := time.Now()
	response, err := d.oracle.Decide(ctx, image, prompt)
	observability.RecordOracleLatency(time.Since(start))
	if err != nil {
		log.Warn().Err(err).Msg("oracle call failed, substituting stop")
		stop := protocol.StopCommand()
		d.state.Record(stop, "oracle error")
		return stop, ""
	}

	cmd, reasoning, ok := ParseResponse(response)
	if !ok {
		log.Warn().Str("response", truncate(response, 200)).
			Msg("oracle response had no command, substituting stop")
		cmd = protocol.StopCommand()
	}
	d.state.Record(cmd, reasoning)
	return cmd, reasoning
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
