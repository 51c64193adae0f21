package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/strayline/roverctl/internal/protocol"
)

var (
	ErrNotConnected   = errors.New("link: not connected")
	ErrConnectionLost = errors.New("link: connection lost")
)

// SessionConfig holds the rover-side connection settings.
type SessionConfig struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	// WriteTimeout bounds each frame write. A peer that stops reading
	// must surface as a link loss, not freeze the control loop.
	WriteTimeout time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Port:           protocol.DefaultPort,
		ConnectTimeout: 10 * time.Second,
		ReconnectDelay: 5 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

func (c SessionConfig) writeTimeout() time.Duration {
	if c.WriteTimeout > 0 {
		return c.WriteTimeout
	}
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return 10 * time.Second
}

// Session is the rover's single stream to the controller. It is driven
// from one control loop; the stream is replaced wholesale on reconnect,
// never partially mutated.
type Session struct {
	cfg       SessionConfig
	conn      net.Conn
	connected bool
	logger    zerolog.Logger
}

func NewSession(cfg SessionConfig) *Session {
	return &Session{
		cfg:    cfg,
		logger: log.With().Str("component", "link.session").Logger(),
	}
}

func (s *Session) addr() string {
	return net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
}

// Connect opens the stream with the establishment timeout. Any
// previous stream is closed first so a reconnect never strands a
// half-open socket. Failure leaves the session disconnected with any
// partial socket closed.
func (s *Session) Connect() error {
	s.Disconnect()

	addr := s.addr()
	s.logger.Info().Str("addr", addr).Msg("connecting")

	conn, err := net.DialTimeout("tcp", addr, s.cfg.ConnectTimeout)
	if err != nil {
		s.connected = false
		return fmt.Errorf("link: connect %s: %w", addr, err)
	}
	s.conn = conn
	s.connected = true
	s.logger.Info().Str("addr", addr).Msg("connected")
	return nil
}

// Disconnect closes the stream.
func (s *Session) Disconnect() {
	s.connected = false
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) IsConnected() bool {
	return s.connected
}

// SendFrame writes one length-prefixed frame under the write timeout.
// A write failure or expiry closes the stream, marks the session
// disconnected and is surfaced to the caller; there is no retry at
// this layer. The deadline is what keeps a peer that stopped reading
// from wedging the caller with the motors still running.
func (s *Session) SendFrame(payload []byte) error {
	if !s.connected || s.conn == nil {
		return ErrNotConnected
	}
	if len(payload) > protocol.MaxFrameSize {
		return fmt.Errorf("%w: payload %d bytes", protocol.ErrFrameTooLarge, len(payload))
	}
	packet := protocol.EncodeFrame(payload)
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.writeTimeout())); err != nil {
		s.Disconnect()
		return fmt.Errorf("%w: set write deadline: %v", ErrConnectionLost, err)
	}
	if _, err := s.conn.Write(packet); err != nil {
		s.Disconnect()
		return fmt.Errorf("%w: send frame: %v", ErrConnectionLost, err)
	}
	return nil
}

// ReceiveCommand reads exactly one 6-byte command within the timeout.
// A clean timeout with nothing read is the normal no-command-pending
// case and returns ok=false. Any other short read or stream closure
// marks the session disconnected and also returns ok=false. A command
// that arrives malformed degrades to the safe stop rather than being
// dropped silently.
func (s *Session) ReceiveCommand(timeout time.Duration) (protocol.MotorCommand, bool) {
	if !s.connected || s.conn == nil {
		return protocol.MotorCommand{}, false
	}

	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		s.logger.Error().Err(err).Msg("set read deadline")
		s.Disconnect()
		return protocol.MotorCommand{}, false
	}

	buf := make([]byte, protocol.CommandSize)
	n, err := io.ReadFull(s.conn, buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() && n == 0 {
			return protocol.MotorCommand{}, false
		}
		s.logger.Warn().Err(err).Int("read", n).Msg("command read failed")
		s.Disconnect()
		return protocol.MotorCommand{}, false
	}

	cmd, err := protocol.DecodeCommand(buf)
	if err != nil {
		s.logger.Error().Err(err).Msg("malformed command, substituting stop")
		return protocol.StopCommand(), true
	}
	return cmd, true
}

// ReconnectLoop retries Connect at the configured interval until it
// succeeds or the context is cancelled. This is the sole recovery
// mechanism for link loss.
func (s *Session) ReconnectLoop(ctx context.Context) error {
	for !s.connected {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Connect(); err == nil {
			return nil
		}
		s.logger.Info().Dur("retry_in", s.cfg.ReconnectDelay).Msg("reconnect failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
	return nil
}
