// Package gpio is the platform capability boundary for digital pins and
// PWM channels. Core logic depends only on these interfaces; the
// Raspberry Pi backend and the in-memory simulation both satisfy them.
package gpio

import "errors"

var ErrClosed = errors.New("gpio: chip closed")

// Level is a digital pin level.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// Output is a digital output pin.
type Output interface {
	Write(Level) error
}

// Input is a digital input pin.
type Input interface {
	Read() (Level, error)
}

// PWM is one pulse-width channel. Duty is a percentage in [0,100].
type PWM interface {
	Start() error
	SetDuty(percent float64) error
	Stop() error
}

// Chip hands out pins by BCM number. Pin ownership is exclusive: core
// components are wired to disjoint pin sets at construction time and
// never share a pin across goroutines.
type Chip interface {
	Output(pin int) (Output, error)
	Input(pin int) (Input, error)
	PWM(pin int, freqHz int) (PWM, error)
	Close() error
}
