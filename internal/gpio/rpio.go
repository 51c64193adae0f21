package gpio

import (
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"
)

// pwmCycleLen is the resolution of one PWM cycle. Duty percentages map
// 1:1 onto cycle steps.
const pwmCycleLen = 100

// OpenPi memory-maps the Raspberry Pi GPIO registers.
func OpenPi() (Chip, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("gpio: open rpio: %w", err)
	}
	return &piChip{}, nil
}

type piChip struct {
	closed bool
}

func (c *piChip) Output(pin int) (Output, error) {
	if c.closed {
		return nil, ErrClosed
	}
	p := rpio.Pin(pin)
	p.Output()
	p.Low()
	return piOutput{p}, nil
}

func (c *piChip) Input(pin int) (Input, error) {
	if c.closed {
		return nil, ErrClosed
	}
	p := rpio.Pin(pin)
	p.Input()
	return piInput{p}, nil
}

func (c *piChip) PWM(pin int, freqHz int) (PWM, error) {
	if c.closed {
		return nil, ErrClosed
	}
	p := rpio.Pin(pin)
	p.Mode(rpio.Pwm)
	// rpio frequency is the step clock, not the cycle rate.
	p.Freq(freqHz * pwmCycleLen)
	return piPWM{p}, nil
}

func (c *piChip) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return rpio.Close()
}

type piOutput struct {
	pin rpio.Pin
}

func (o piOutput) Write(level Level) error {
	if level == High {
		o.pin.High()
	} else {
		o.pin.Low()
	}
	return nil
}

type piInput struct {
	pin rpio.Pin
}

func (i piInput) Read() (Level, error) {
	return i.pin.Read() == rpio.High, nil
}

type piPWM struct {
	pin rpio.Pin
}

func (p piPWM) Start() error {
	p.pin.DutyCycle(0, pwmCycleLen)
	return nil
}

func (p piPWM) SetDuty(percent float64) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("gpio: duty %.1f out of range", percent)
	}
	p.pin.DutyCycle(uint32(percent+0.5), pwmCycleLen)
	return nil
}

func (p piPWM) Stop() error {
	p.pin.DutyCycle(0, pwmCycleLen)
	return nil
}
