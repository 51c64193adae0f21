// Package policy turns free-text decisions from the vision oracle into
// validated motor commands, with a guaranteed safe fallback.
package policy

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/strayline/roverctl/internal/protocol"
)

var (
	commandRe   = regexp.MustCompile(`COMMAND:\s*(\d+)\s*,\s*(\d+)\s*,\s*(\d+)\s*,\s*(\d+)`)
	reasoningRe = regexp.MustCompile(`(?i)REASONING:\s*([^\n]+)`)
	integerRe   = regexp.MustCompile(`\b(\d+)\b`)
)

// ParseResponse extracts a motor command and optional reasoning from
// oracle output. Numeric fields are clamped into range, never
// rejected; only the absence of any parseable command yields ok=false,
// and the caller contract then requires substituting the stop command.
func ParseResponse(response string) (protocol.MotorCommand, string, bool) {
	reasoning := ""
	if m := reasoningRe.FindStringSubmatch(response); m != nil {
		reasoning = strings.TrimSpace(m[1])
	}

	if m := commandRe.FindStringSubmatch(response); m != nil {
		return commandFromFields(m[1], m[2], m[3], m[4]), reasoning, true
	}

	// Fallback: the first four standalone integers anywhere in the
	// text, same field order and clamping.
	ints := integerRe.FindAllString(response, 4)
	if len(ints) >= 4 {
		return commandFromFields(ints[0], ints[1], ints[2], ints[3]), reasoning, true
	}

	return protocol.MotorCommand{}, reasoning, false
}

func commandFromFields(ls, rs, ld, rd string) protocol.MotorCommand {
	return protocol.MotorCommand{
		LeftSpeed:  clampSpeed(ls),
		RightSpeed: clampSpeed(rs),
		LeftDir:    clampDirection(ld),
		RightDir:   clampDirection(rd),
	}
}

func clampSpeed(field string) uint8 {
	v, err := strconv.Atoi(field)
	if err != nil || v > 255 {
		// The field is all digits, so a parse failure means overflow.
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}

func clampDirection(field string) protocol.Direction {
	v, err := strconv.Atoi(field)
	if err != nil || v > int(protocol.Stop) {
		return protocol.Stop
	}
	if v < 0 {
		return protocol.Backward
	}
	return protocol.Direction(v)
}

// ParseManual interprets the interactive grammar: short tokens with an
// optional speed, or the raw comma-separated numeric form.
func ParseManual(input string) (protocol.MotorCommand, bool) {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return protocol.MotorCommand{}, false
	}

	if strings.Contains(input, ",") {
		parts := strings.Split(input, ",")
		if len(parts) != 4 {
			return protocol.MotorCommand{}, false
		}
		for i := range parts {
			if _, err := strconv.Atoi(strings.TrimSpace(parts[i])); err != nil {
				return protocol.MotorCommand{}, false
			}
		}
		return commandFromFields(
			strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]),
			strings.TrimSpace(parts[2]), strings.TrimSpace(parts[3]),
		), true
	}

	parts := strings.Fields(input)
	speed := uint8(200)
	if len(parts) > 1 {
		v, err := strconv.Atoi(parts[1])
		if err != nil || v < 0 || v > 255 {
			return protocol.MotorCommand{}, false
		}
		speed = uint8(v)
	}

	switch parts[0] {
	case "stop", "s":
		return protocol.StopCommand(), true
	case "forward", "f", "fwd":
		return protocol.ForwardCommand(speed, 0), true
	case "backward", "b", "back":
		return protocol.BackwardCommand(speed, 0), true
	case "left", "l", "rotate_left":
		return protocol.RotateLeftCommand(speed, 0), true
	case "right", "r", "rotate_right":
		return protocol.RotateRightCommand(speed, 0), true
	default:
		return protocol.MotorCommand{}, false
	}
}
