package link

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/strayline/roverctl/internal/observability"
	"github.com/strayline/roverctl/internal/protocol"
)

// ServerConfig holds the controller-side listen settings.
type ServerConfig struct {
	Host           string
	Port           int
	MaxConnections int
	// AcceptTimeout bounds each accept call so Stop is responsive.
	AcceptTimeout time.Duration
	// ReadTimeout bounds how long a conn may stall mid-message before
	// it is dropped.
	ReadTimeout time.Duration
	// PollInterval slices blocking reads so the receive goroutine
	// observes the running flag promptly.
	PollInterval time.Duration
	WriteTimeout time.Duration
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "0.0.0.0",
		Port:           protocol.DefaultPort,
		MaxConnections: 1,
		AcceptTimeout:  time.Second,
		ReadTimeout:    10 * time.Second,
		PollInterval:   time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

// Conn is one accepted rover session. The background receive goroutine
// is exclusively owned by the Conn and is joined before the socket is
// released.
type Conn struct {
	ID     string
	Remote string

	cfg       ServerConfig
	sock      net.Conn
	queue     *frameQueue
	running   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	sendMu    sync.Mutex
	logger    zerolog.Logger

	mu            sync.Mutex
	lastFrameTime time.Time
}

func newConn(sock net.Conn, cfg ServerConfig) *Conn {
	id := uuid.NewString()
	c := &Conn{
		ID:     id,
		Remote: sock.RemoteAddr().String(),
		cfg:    cfg,
		sock:   sock,
		done:   make(chan struct{}),
		logger: log.With().Str("component", "link.conn").Str("conn", id).Logger(),
	}
	c.queue = newFrameQueue(func() { observability.RecordFrameDropped(id) })
	return c
}

func (c *Conn) start() {
	c.running.Store(true)
	go c.receiveLoop()
}

// Stop joins the receive goroutine before closing the socket so the
// goroutine never touches a closed stream.
func (c *Conn) Stop() {
	c.running.Store(false)
	<-c.done
	c.closeSock()
	c.logger.Info().Msg("connection closed")
}

// closeSock releases the socket exactly once, whether the receive loop
// exits on its own or Stop drives the shutdown.
func (c *Conn) closeSock() {
	c.closeOnce.Do(func() { _ = c.sock.Close() })
}

func (c *Conn) IsAlive() bool {
	return c.running.Load()
}

// LastFrameTime reports when the latest frame arrived.
func (c *Conn) LastFrameTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFrameTime
}

func (c *Conn) receiveLoop() {
	defer close(c.done)
	defer c.running.Store(false)
	defer c.closeSock()

	header := make([]byte, protocol.FrameHeaderSize)
	for c.running.Load() {
		if err := c.readExact(header, true); err != nil {
			if c.running.Load() && !errors.Is(err, errStopped) {
				c.logger.Warn().Err(err).Msg("header read failed")
			}
			return
		}

		length, err := protocol.DecodeFrameLength(header)
		if err != nil {
			c.logger.Error().Err(err).Msg("malformed frame header")
			return
		}
		if length > protocol.MaxFrameSize {
			c.logger.Error().Err(protocol.ErrFrameTooLarge).Uint32("length", length).Msg("oversize frame, dropping connection")
			return
		}

		payload := make([]byte, length)
		if err := c.readExact(payload, false); err != nil {
			if c.running.Load() && !errors.Is(err, errStopped) {
				c.logger.Warn().Err(err).Msg("payload read failed")
			}
			return
		}

		c.queue.push(payload)
		observability.RecordFrameReceived(c.ID)
		c.mu.Lock()
		c.lastFrameTime = time.Now()
		c.mu.Unlock()
	}
}

var errStopped = errors.New("link: connection stopped")

// readExact fills buf, slicing the blocking read into poll intervals
// so shutdown is observed promptly. With allowIdle the call may wait
// indefinitely for the first byte (a quiet rover between frames);
// without it, a stall longer than ReadTimeout mid-message drops the
// connection.
func (c *Conn) readExact(buf []byte, allowIdle bool) error {
	got := 0
	stallDeadline := time.Now().Add(c.cfg.ReadTimeout)
	for {
		if !c.running.Load() {
			return errStopped
		}
		if err := c.sock.SetReadDeadline(time.Now().Add(c.cfg.PollInterval)); err != nil {
			return err
		}
		n, err := c.sock.Read(buf[got:])
		if n > 0 {
			got += n
			stallDeadline = time.Now().Add(c.cfg.ReadTimeout)
		}
		if got == len(buf) {
			return nil
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if got == 0 && allowIdle {
					continue
				}
				if time.Now().After(stallDeadline) {
					return fmt.Errorf("%w: stalled mid-message", ErrConnectionLost)
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: peer closed", ErrConnectionLost)
			}
			return err
		}
	}
}

// DroppedFrames reports how many frames this connection has shed to
// the drop-oldest policy.
func (c *Conn) DroppedFrames() int64 {
	return c.queue.Dropped()
}

// GetFrame pops the next buffered frame, or ok=false on timeout.
func (c *Conn) GetFrame(timeout time.Duration) ([]byte, bool) {
	return c.queue.pop(timeout)
}

// SendCommand writes one encoded command. Failure is reported but does
// not close the connection; the receive path notices a dead peer.
func (c *Conn) SendCommand(cmd protocol.MotorCommand) error {
	data, err := cmd.Encode()
	if err != nil {
		observability.RecordCommandSent(c.ID, false)
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.sock.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		observability.RecordCommandSent(c.ID, false)
		return err
	}
	if _, err := c.sock.Write(data); err != nil {
		observability.RecordCommandSent(c.ID, false)
		return fmt.Errorf("link: send command: %w", err)
	}
	observability.RecordCommandSent(c.ID, true)
	return nil
}

// Server accepts rover sessions and keeps the connection registry.
type Server struct {
	cfg      ServerConfig
	listener *net.TCPListener
	running  atomic.Bool
	accepted sync.WaitGroup
	logger   zerolog.Logger

	mu    sync.Mutex
	conns []*Conn
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		cfg:    cfg,
		logger: log.With().Str("component", "link.server").Logger(),
	}
}

// Start binds, listens and launches the accept loop.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("link: listen %s: %w", addr, err)
	}
	s.listener = l.(*net.TCPListener)
	s.running.Store(true)
	s.accepted.Add(1)
	go s.acceptLoop()
	s.logger.Info().Str("addr", addr).Msg("listening")
	return nil
}

// Addr reports the bound address, useful when Port was 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes every connection, then the listener, then joins the
// accept loop.
func (s *Server) Stop() {
	s.logger.Info().Msg("stopping server")
	s.running.Store(false)

	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Stop()
	}

	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.accepted.Wait()

	// The accept loop may have admitted a connection after the
	// snapshot above; sweep again now that it has exited.
	s.mu.Lock()
	conns = s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Stop()
	}

	s.logger.Info().Msg("server stopped")
}

func (s *Server) acceptLoop() {
	defer s.accepted.Done()
	for s.running.Load() {
		if err := s.listener.SetDeadline(time.Now().Add(s.cfg.AcceptTimeout)); err != nil {
			s.logger.Error().Err(err).Msg("accept deadline")
			return
		}
		sock, err := s.listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if s.running.Load() {
				s.logger.Error().Err(err).Msg("accept failed")
			}
			continue
		}

		s.mu.Lock()
		s.pruneLocked()
		if s.cfg.MaxConnections > 0 && len(s.conns) >= s.cfg.MaxConnections {
			s.mu.Unlock()
			s.logger.Warn().Str("remote", sock.RemoteAddr().String()).Int("max", s.cfg.MaxConnections).Msg("connection limit reached, refusing rover")
			_ = sock.Close()
			continue
		}
		conn := newConn(sock, s.cfg)
		conn.start()
		s.conns = append(s.conns, conn)
		active := len(s.conns)
		s.mu.Unlock()

		s.logger.Info().Str("conn", conn.ID).Str("remote", conn.Remote).Int("active", active).Msg("rover connected")
	}
}

// pruneLocked drops dead connections. Callers hold s.mu.
func (s *Server) pruneLocked() {
	alive := s.conns[:0]
	for _, c := range s.conns {
		if c.IsAlive() {
			alive = append(alive, c)
		}
	}
	s.conns = alive
}

// ActiveConn returns the first live connection after pruning, or nil.
// One control target at a time is the supported topology.
func (s *Server) ActiveConn() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[0]
}

// ConnCount reports live connections after pruning.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	return len(s.conns)
}

// BroadcastCommand fans a command out to every live connection and
// returns how many accepted it.
func (s *Server) BroadcastCommand(cmd protocol.MotorCommand) int {
	s.mu.Lock()
	s.pruneLocked()
	conns := append([]*Conn(nil), s.conns...)
	s.mu.Unlock()

	count := 0
	for _, c := range conns {
		if err := c.SendCommand(cmd); err != nil {
			s.logger.Warn().Err(err).Str("conn", c.ID).Msg("broadcast send failed")
			continue
		}
		count++
	}
	return count
}
