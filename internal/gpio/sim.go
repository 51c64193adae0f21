package gpio

import "sync"

// SimChip is an in-memory chip for simulation mode and tests. Outputs
// record their last written level, inputs read whatever was planted via
// SetInput (Low by default), PWM channels record their last duty.
type SimChip struct {
	mu     sync.Mutex
	levels map[int]Level
	duty   map[int]float64
	closed bool
}

func NewSimChip() *SimChip {
	return &SimChip{
		levels: make(map[int]Level),
		duty:   make(map[int]float64),
	}
}

// SetInput plants the level a simulated input pin will read.
func (c *SimChip) SetInput(pin int, level Level) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levels[pin] = level
}

// OutputLevel reports the last level written to a pin.
func (c *SimChip) OutputLevel(pin int) Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.levels[pin]
}

// Duty reports the last duty percentage set on a PWM pin.
func (c *SimChip) Duty(pin int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duty[pin]
}

func (c *SimChip) Output(pin int) (Output, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	c.levels[pin] = Low
	return simOutput{chip: c, pin: pin}, nil
}

func (c *SimChip) Input(pin int) (Input, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	return simInput{chip: c, pin: pin}, nil
}

func (c *SimChip) PWM(pin int, freqHz int) (PWM, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	c.duty[pin] = 0
	return simPWM{chip: c, pin: pin}, nil
}

func (c *SimChip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type simOutput struct {
	chip *SimChip
	pin  int
}

func (o simOutput) Write(level Level) error {
	o.chip.mu.Lock()
	defer o.chip.mu.Unlock()
	if o.chip.closed {
		return ErrClosed
	}
	o.chip.levels[o.pin] = level
	return nil
}

type simInput struct {
	chip *SimChip
	pin  int
}

func (i simInput) Read() (Level, error) {
	i.chip.mu.Lock()
	defer i.chip.mu.Unlock()
	if i.chip.closed {
		return Low, ErrClosed
	}
	return i.chip.levels[i.pin], nil
}

type simPWM struct {
	chip *SimChip
	pin  int
}

func (p simPWM) Start() error {
	return p.SetDuty(0)
}

func (p simPWM) SetDuty(percent float64) error {
	p.chip.mu.Lock()
	defer p.chip.mu.Unlock()
	if p.chip.closed {
		return ErrClosed
	}
	p.chip.duty[p.pin] = percent
	return nil
}

func (p simPWM) Stop() error {
	return p.SetDuty(0)
}
