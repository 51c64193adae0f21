package protocol

import (
	"encoding/binary"
	"fmt"
)

// Direction is a motor direction byte on the wire.
type Direction uint8

const (
	Backward Direction = 0
	Forward  Direction = 1
	Stop     Direction = 2
)

func (d Direction) Valid() bool {
	return d <= Stop
}

func (d Direction) String() string {
	switch d {
	case Backward:
		return "backward"
	case Forward:
		return "forward"
	case Stop:
		return "stop"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// CommandSize is the fixed wire size of one motor command:
// 4 bytes motor control + 2 bytes duration.
const CommandSize = 6

// MotorCommand drives the two wheel groups. DurationMS of zero means
// run until the next command. Speed fields are treated as zero when the
// matching direction is Stop.
type MotorCommand struct {
	LeftSpeed  uint8
	RightSpeed uint8
	LeftDir    Direction
	RightDir   Direction
	DurationMS uint16
}

func (c MotorCommand) Validate() error {
	if !c.LeftDir.Valid() {
		return fmt.Errorf("%w: left_dir=%d", ErrOutOfRange, uint8(c.LeftDir))
	}
	if !c.RightDir.Valid() {
		return fmt.Errorf("%w: right_dir=%d", ErrOutOfRange, uint8(c.RightDir))
	}
	return nil
}

// Encode packs the command into its 6-byte wire form. Validation runs
// before any packing so a partially invalid command is never emitted.
func (c MotorCommand) Encode() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, CommandSize)
	buf[0] = c.LeftSpeed
	buf[1] = c.RightSpeed
	buf[2] = byte(c.LeftDir)
	buf[3] = byte(c.RightDir)
	binary.BigEndian.PutUint16(buf[4:6], c.DurationMS)
	return buf, nil
}

// DecodeCommand parses the 6-byte wire form.
func DecodeCommand(data []byte) (MotorCommand, error) {
	if len(data) != CommandSize {
		return MotorCommand{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedCommand, CommandSize, len(data))
	}
	ld := Direction(data[2])
	rd := Direction(data[3])
	if !ld.Valid() {
		return MotorCommand{}, fmt.Errorf("%w: left_dir=%d", ErrMalformedCommand, data[2])
	}
	if !rd.Valid() {
		return MotorCommand{}, fmt.Errorf("%w: right_dir=%d", ErrMalformedCommand, data[3])
	}
	return MotorCommand{
		LeftSpeed:  data[0],
		RightSpeed: data[1],
		LeftDir:    ld,
		RightDir:   rd,
		DurationMS: binary.BigEndian.Uint16(data[4:6]),
	}, nil
}

func (c MotorCommand) String() string {
	return fmt.Sprintf("%d,%d,%d,%d dur=%dms",
		c.LeftSpeed, c.RightSpeed, uint8(c.LeftDir), uint8(c.RightDir), c.DurationMS)
}

// IsStop reports whether the command leaves both wheel groups stopped.
func (c MotorCommand) IsStop() bool {
	return (c.LeftDir == Stop || c.LeftSpeed == 0) &&
		(c.RightDir == Stop || c.RightSpeed == 0)
}

// StopCommand returns the safe all-stop command.
func StopCommand() MotorCommand {
	return MotorCommand{LeftDir: Stop, RightDir: Stop}
}

func ForwardCommand(speed uint8, durationMS uint16) MotorCommand {
	return MotorCommand{LeftSpeed: speed, RightSpeed: speed, LeftDir: Forward, RightDir: Forward, DurationMS: durationMS}
}

func BackwardCommand(speed uint8, durationMS uint16) MotorCommand {
	return MotorCommand{LeftSpeed: speed, RightSpeed: speed, LeftDir: Backward, RightDir: Backward, DurationMS: durationMS}
}

// RotateLeftCommand turns in place: left group backward, right forward.
func RotateLeftCommand(speed uint8, durationMS uint16) MotorCommand {
	return MotorCommand{LeftSpeed: speed, RightSpeed: speed, LeftDir: Backward, RightDir: Forward, DurationMS: durationMS}
}

func RotateRightCommand(speed uint8, durationMS uint16) MotorCommand {
	return MotorCommand{LeftSpeed: speed, RightSpeed: speed, LeftDir: Forward, RightDir: Backward, DurationMS: durationMS}
}
