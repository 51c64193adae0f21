package policy

import (
	"testing"

	"github.com/strayline/roverctl/internal/protocol"
)

func TestParseResponseLabeled(t *testing.T) {
	cmd, reasoning, ok := ParseResponse("COMMAND: 200,150,1,0\nREASONING: turning around")
	if !ok {
		t.Fatalf("expected a command")
	}
	want := protocol.MotorCommand{
		LeftSpeed: 200, RightSpeed: 150,
		LeftDir: protocol.Forward, RightDir: protocol.Backward,
	}
	if cmd != want {
		t.Fatalf("command mismatch: got=%+v want=%+v", cmd, want)
	}
	if reasoning != "turning around" {
		t.Fatalf("reasoning mismatch: got=%q", reasoning)
	}
}

func TestParseResponseClampsOutOfRange(t *testing.T) {
	cmd, _, ok := ParseResponse("COMMAND: 999,100,7,1")
	if !ok {
		t.Fatalf("expected a command")
	}
	if cmd.LeftSpeed != 255 {
		t.Fatalf("left speed not clamped: got=%d", cmd.LeftSpeed)
	}
	if cmd.LeftDir != protocol.Stop {
		t.Fatalf("left direction not clamped: got=%v", cmd.LeftDir)
	}
	if cmd.RightSpeed != 100 || cmd.RightDir != protocol.Forward {
		t.Fatalf("in-range fields altered: got=%+v", cmd)
	}
}

func TestParseResponseIntegerFallback(t *testing.T) {
	cmd, _, ok := ParseResponse("go 180 180 1 1 now")
	if !ok {
		t.Fatalf("expected fallback to find a command")
	}
	want := protocol.MotorCommand{
		LeftSpeed: 180, RightSpeed: 180,
		LeftDir: protocol.Forward, RightDir: protocol.Forward,
	}
	if cmd != want {
		t.Fatalf("command mismatch: got=%+v want=%+v", cmd, want)
	}
}

func TestParseResponseTooFewIntegers(t *testing.T) {
	if _, _, ok := ParseResponse("I think we should move 50 percent faster"); ok {
		t.Fatalf("expected no command from fewer than four integers")
	}
	if _, _, ok := ParseResponse("the path ahead looks clear"); ok {
		t.Fatalf("expected no command from prose")
	}
}

func TestParseResponseReasoningWithoutCommand(t *testing.T) {
	_, reasoning, ok := ParseResponse("REASONING: obstacle everywhere, unsure")
	if ok {
		t.Fatalf("expected no command")
	}
	if reasoning != "obstacle everywhere, unsure" {
		t.Fatalf("reasoning mismatch: got=%q", reasoning)
	}
}

func TestParseManualKeywords(t *testing.T) {
	cases := []struct {
		input string
		want  protocol.MotorCommand
	}{
		{"stop", protocol.StopCommand()},
		{"s", protocol.StopCommand()},
		{"forward", protocol.ForwardCommand(200, 0)},
		{"f 120", protocol.ForwardCommand(120, 0)},
		{"back 90", protocol.BackwardCommand(90, 0)},
		{"left", protocol.RotateLeftCommand(200, 0)},
		{"rotate_right 255", protocol.RotateRightCommand(255, 0)},
	}
	for _, tc := range cases {
		cmd, ok := ParseManual(tc.input)
		if !ok {
			t.Fatalf("%q: expected a command", tc.input)
		}
		if cmd != tc.want {
			t.Fatalf("%q: got=%+v want=%+v", tc.input, cmd, tc.want)
		}
	}
}

func TestParseManualRawForm(t *testing.T) {
	cmd, ok := ParseManual("100, 100, 0, 0")
	if !ok {
		t.Fatalf("expected a command")
	}
	want := protocol.MotorCommand{
		LeftSpeed: 100, RightSpeed: 100,
		LeftDir: protocol.Backward, RightDir: protocol.Backward,
	}
	if cmd != want {
		t.Fatalf("command mismatch: got=%+v want=%+v", cmd, want)
	}
}

func TestParseManualRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "   ", "launch", "1,2,3", "a,b,c,d", "forward fast", "f 999"} {
		if _, ok := ParseManual(input); ok {
			t.Fatalf("%q: expected rejection", input)
		}
	}
}
