package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/strayline/roverctl/internal/protocol"
)

// ControlState is the mission context carried between oracle rounds.
// History is bounded so a long run cannot grow the prompt without
// limit.
type ControlState struct {
	mu sync.Mutex

	goal          string
	lastCommand   *protocol.MotorCommand
	lastReasoning string
	steps         int

	history     []HistoryEntry
	historySize int
}

// HistoryEntry records one completed decision round.
type HistoryEntry struct {
	Command   protocol.MotorCommand
	Reasoning string
}

// NewControlState returns state for the given mission goal, keeping at
// most historySize past decisions.
func NewControlState(goal string, historySize int) *ControlState {
	if historySize <= 0 {
		historySize = 10
	}
	return &ControlState{goal: goal, historySize: historySize}
}

func (s *ControlState) SetGoal(goal string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goal = goal
	s.lastCommand = nil
	s.lastReasoning = ""
	s.steps = 0
	s.history = s.history[:0]
}

func (s *ControlState) Goal() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goal
}

func (s *ControlState) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

// Record notes a completed decision round.
func (s *ControlState) Record(cmd protocol.MotorCommand, reasoning string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cmd
	s.lastCommand = &c
	s.lastReasoning = reasoning
	s.steps++
	s.history = append(s.history, HistoryEntry{Command: cmd, Reasoning: reasoning})
	if len(s.history) > s.historySize {
		s.history = s.history[len(s.history)-s.historySize:]
	}
}

// History returns a copy of the retained decision rounds, oldest first.
func (s *ControlState) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// BuildPrompt renders the instruction text sent to the oracle with the
// current camera frame. The COMMAND/REASONING contract described here
// is what ParseResponse expects back.
func (s *ControlState) BuildPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	b.WriteString("You are driving a two-wheeled rover using its front camera image.\n")
	fmt.Fprintf(&b, "Goal: %s\n\n", s.goal)
	b.WriteString("Respond with exactly two lines:\n")
	b.WriteString("COMMAND: <left_speed>,<right_speed>,<left_dir>,<right_dir>\n")
	b.WriteString("REASONING: <one short sentence>\n\n")
	b.WriteString("Speeds are 0-255. Directions: 0=backward, 1=forward, 2=stop.\n")
	b.WriteString("Examples:\n")
	b.WriteString("COMMAND: 200,200,1,1 drives straight ahead.\n")
	b.WriteString("COMMAND: 150,150,0,1 rotates left in place.\n")
	b.WriteString("COMMAND: 0,0,2,2 stops.\n")

	if s.steps > 0 && s.lastCommand != nil {
		c := s.lastCommand
		fmt.Fprintf(&b, "\nStep %d. Previous command: %d,%d,%d,%d",
			s.steps, c.LeftSpeed, c.RightSpeed, c.LeftDir, c.RightDir)
		if s.lastReasoning != "" {
			fmt.Fprintf(&b, " (%s)", s.lastReasoning)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nIf the goal is reached or the path is blocked, stop.\n")
	return b.String()
}
