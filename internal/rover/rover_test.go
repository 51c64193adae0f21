package rover

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/strayline/roverctl/internal/config"
	"github.com/strayline/roverctl/internal/gpio"
	"github.com/strayline/roverctl/internal/link"
	"github.com/strayline/roverctl/internal/motor"
	"github.com/strayline/roverctl/internal/protocol"
	"github.com/strayline/roverctl/internal/ranging"
	"github.com/strayline/roverctl/internal/testutil/testlog"
)

// blockedArray returns an array whose every read times out. With the
// given aggregation policy that makes each zone either fully clear or
// fully blocked.
func blockedArray(t *testing.T, assumeClear bool) *ranging.Array {
	t.Helper()
	specs := []ranging.SensorSpec{
		{Key: "fc", Name: "front center", Trig: 4, Echo: 14, Zone: "front"},
		{Key: "rl", Name: "rear left", Trig: 7, Echo: 9, Zone: "rear"},
	}
	cfg := ranging.DefaultConfig()
	cfg.EchoTimeout = time.Millisecond
	cfg.SettleDelay = 0
	cfg.AssumeClearOnInvalid = assumeClear
	arr, err := ranging.NewArray(gpio.NewSimChip(), specs, cfg)
	if err != nil {
		t.Fatalf("array setup failed: %v", err)
	}
	return arr
}

func testRover(t *testing.T, sensors *ranging.Array) (*Rover, *gpio.SimChip) {
	t.Helper()
	chip := gpio.NewSimChip()
	motors := motor.NewSupervisor(chip, motor.DefaultConfig())
	if err := motors.Setup(); err != nil {
		t.Fatalf("motor setup failed: %v", err)
	}
	cfg := config.DefaultRoverConfig()
	session := link.NewSession(link.SessionConfig{Host: "127.0.0.1", Port: 1})
	return New(cfg, session, motors, sensors, NewSimCamera(), nil), chip
}

func TestGuardCommandBlockedZone(t *testing.T) {
	testlog.Start(t)
	r, _ := testRover(t, blockedArray(t, false))

	cmd := r.guardCommand(protocol.ForwardCommand(200, 0))
	if !cmd.IsStop() {
		t.Fatalf("forward into blocked front zone not stopped: got=%+v", cmd)
	}
	cmd = r.guardCommand(protocol.BackwardCommand(200, 0))
	if !cmd.IsStop() {
		t.Fatalf("backward into blocked rear zone not stopped: got=%+v", cmd)
	}
}

func TestGuardCommandClearZonePasses(t *testing.T) {
	testlog.Start(t)
	r, _ := testRover(t, blockedArray(t, true))

	want := protocol.ForwardCommand(200, 0)
	if got := r.guardCommand(want); got != want {
		t.Fatalf("clear zone altered command: got=%+v want=%+v", got, want)
	}
}

func TestGuardCommandSkipsRotationAndStop(t *testing.T) {
	testlog.Start(t)
	r, _ := testRover(t, blockedArray(t, false))

	rot := protocol.RotateLeftCommand(150, 0)
	if got := r.guardCommand(rot); got != rot {
		t.Fatalf("rotation altered: got=%+v want=%+v", got, rot)
	}
	stop := protocol.StopCommand()
	if got := r.guardCommand(stop); got != stop {
		t.Fatalf("stop altered: got=%+v", got)
	}
}

// countingChip wraps SimChip and counts digital output writes so tests
// can assert how often the ultrasonic triggers actually fired.
type countingChip struct {
	*gpio.SimChip
	writes atomic.Int64
}

func (c *countingChip) Output(pin int) (gpio.Output, error) {
	out, err := c.SimChip.Output(pin)
	if err != nil {
		return nil, err
	}
	return countingOutput{out: out, writes: &c.writes}, nil
}

type countingOutput struct {
	out    gpio.Output
	writes *atomic.Int64
}

func (o countingOutput) Write(l gpio.Level) error {
	o.writes.Add(1)
	return o.out.Write(l)
}

// Each measurement toggles the trigger pin exactly twice, so a guarded
// command over a one-sensor zone must cost exactly two trigger writes.
// More means the guard re-fired the hardware to answer questions one
// sweep already answered, multiplying echo timeouts per command.
func TestGuardCommandSingleSweepPerCommand(t *testing.T) {
	testlog.Start(t)
	chip := &countingChip{SimChip: gpio.NewSimChip()}
	cfg := ranging.DefaultConfig()
	cfg.EchoTimeout = time.Millisecond
	cfg.SettleDelay = 0
	cfg.AssumeClearOnInvalid = false
	arr, err := ranging.NewArray(chip, []ranging.SensorSpec{
		{Key: "fc", Name: "front center", Trig: 4, Echo: 14, Zone: "front"},
	}, cfg)
	if err != nil {
		t.Fatalf("array setup failed: %v", err)
	}
	r, _ := testRover(t, arr)

	if cmd := r.guardCommand(protocol.ForwardCommand(200, 0)); !cmd.IsStop() {
		t.Fatalf("forward into blocked front zone not stopped: got=%+v", cmd)
	}
	if got := chip.writes.Load(); got != 2 {
		t.Fatalf("trigger writes got=%d want=2", got)
	}
}

func TestGuardCommandWithoutSensors(t *testing.T) {
	testlog.Start(t)
	r, _ := testRover(t, nil)

	want := protocol.ForwardCommand(200, 0)
	if got := r.guardCommand(want); got != want {
		t.Fatalf("nil array altered command: got=%+v want=%+v", got, want)
	}
}

// TestTickRoundTrip drives one tick against a raw loopback peer: the
// frame must arrive length-prefixed, and the command written back must
// reach the wheels.
func TestTickRoundTrip(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	type peerResult struct {
		payload []byte
		err     error
	}
	results := make(chan peerResult, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			results <- peerResult{err: err}
			return
		}
		defer conn.Close()
		header := make([]byte, protocol.FrameHeaderSize)
		if _, err := io.ReadFull(conn, header); err != nil {
			results <- peerResult{err: err}
			return
		}
		payload := make([]byte, binary.BigEndian.Uint32(header))
		if _, err := io.ReadFull(conn, payload); err != nil {
			results <- peerResult{err: err}
			return
		}
		wire, err := protocol.ForwardCommand(120, 0).Encode()
		if err != nil {
			results <- peerResult{err: err}
			return
		}
		if _, err := conn.Write(wire); err != nil {
			results <- peerResult{err: err}
			return
		}
		results <- peerResult{payload: payload}
		time.Sleep(200 * time.Millisecond)
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	chip := gpio.NewSimChip()
	motors := motor.NewSupervisor(chip, motor.DefaultConfig())
	if err := motors.Setup(); err != nil {
		t.Fatalf("motor setup failed: %v", err)
	}
	session := link.NewSession(link.SessionConfig{Host: "127.0.0.1", Port: port})
	if err := session.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer session.Disconnect()

	r := New(config.DefaultRoverConfig(), session, motors, nil, NewSimCamera(), nil)
	if err := r.tick(); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	res := <-results
	if res.err != nil {
		t.Fatalf("peer failed: %v", res.err)
	}
	if len(res.payload) == 0 {
		t.Fatalf("empty frame payload")
	}
	if chip.OutputLevel(17) != gpio.High || chip.Duty(12) == 0 {
		t.Fatalf("command did not reach wheels: pin17=%v duty12=%v",
			chip.OutputLevel(17), chip.Duty(12))
	}
	if motors.State() != motor.Executing {
		t.Fatalf("state mismatch: got=%v", motors.State())
	}
}

// TestRunStopsMotorsOnExit cancels the loop while it is blocked in the
// initial reconnect and checks Run returns promptly with the chassis
// stopped.
func TestRunStopsMotorsOnExit(t *testing.T) {
	testlog.Start(t)

	chip := gpio.NewSimChip()
	motors := motor.NewSupervisor(chip, motor.DefaultConfig())
	if err := motors.Setup(); err != nil {
		t.Fatalf("motor setup failed: %v", err)
	}
	session := link.NewSession(link.SessionConfig{
		Host: "127.0.0.1", Port: 1,
		ConnectTimeout: 50 * time.Millisecond,
		ReconnectDelay: 20 * time.Millisecond,
	})
	r := New(config.DefaultRoverConfig(), session, motors, nil, NewSimCamera(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && err != context.Canceled {
			t.Fatalf("run returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
	if motors.State() != motor.Stopped {
		t.Fatalf("motors not stopped on exit: got=%v", motors.State())
	}
}

func TestSimCameraFramesDistinct(t *testing.T) {
	cam := NewSimCamera()
	a, err := cam.Frame()
	if err != nil {
		t.Fatalf("frame failed: %v", err)
	}
	b, err := cam.Frame()
	if err != nil {
		t.Fatalf("frame failed: %v", err)
	}
	if string(a) == string(b) {
		t.Fatalf("frames not distinct: %q", a)
	}
}
