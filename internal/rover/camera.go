package rover

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync/atomic"
	"time"
)

// StillCamera captures one JPEG per call by shelling out to the
// platform capture tool. On a Raspberry Pi the default is
// libcamera-still writing to stdout.
type StillCamera struct {
	command []string
	timeout time.Duration
}

// NewStillCamera builds a camera around the given capture command. An
// empty command selects the libcamera-still default.
func NewStillCamera(command []string) *StillCamera {
	if len(command) == 0 {
		command = []string{"libcamera-still", "-n", "--immediate", "-o", "-"}
	}
	return &StillCamera{command: command, timeout: 5 * time.Second}
}

func (c *StillCamera) Frame() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, c.command[0], c.command[1:]...)
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("rover: capture command %q: %w", c.command[0], err)
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("rover: capture command %q produced no data", c.command[0])
	}
	return out.Bytes(), nil
}

func (c *StillCamera) Close() error { return nil }

// SimCamera produces small counter-stamped payloads for running the
// full stack without camera hardware.
type SimCamera struct {
	seq atomic.Uint64
}

func NewSimCamera() *SimCamera { return &SimCamera{} }

func (c *SimCamera) Frame() ([]byte, error) {
	n := c.seq.Add(1)
	return fmt.Appendf(nil, "simframe %d %d", n, time.Now().UnixMilli()), nil
}

func (c *SimCamera) Close() error { return nil }
