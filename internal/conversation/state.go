package conversation

import (
	"fmt"
)

// State is the step of the booking dialogue a session is waiting on.
type State int

const (
	StateIdle State = iota
	StateChooseService
	StateChooseDoctor
	StateChooseDate
	StateChooseBlock
	StateChooseSlot
	StateConfirm
	StateBooked
)

var stateNames = map[State]string{
	StateIdle:          "idle",
	StateChooseService: "choose_service",
	StateChooseDoctor:  "choose_doctor",
	StateChooseDate:    "choose_date",
	StateChooseBlock:   "choose_block",
	StateChooseSlot:    "choose_slot",
	StateConfirm:       "confirm",
	StateBooked:        "booked",
}

// transitions lists the states reachable from each state. Resetting to StateIdle
// is always allowed and is not listed.
var transitions = map[State][]State{
	StateIdle:          {StateChooseService},
	StateChooseService: {StateChooseService, StateChooseDoctor, StateChooseDate},
	StateChooseDoctor:  {StateChooseDoctor, StateChooseDate},
	StateChooseDate:    {StateChooseDate, StateChooseBlock},
	StateChooseBlock:   {StateChooseBlock, StateChooseSlot, StateChooseDate},
	StateChooseSlot:    {StateChooseSlot, StateConfirm, StateChooseBlock, StateChooseDate},
	StateConfirm:       {StateBooked, StateChooseSlot, StateChooseBlock, StateChooseDate},
	StateBooked:        {StateChooseService},
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CanMoveTo reports whether next is a legal successor of s.
func (s State) CanMoveTo(next State) bool {
	if next == StateIdle {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MarshalText stores states by name so persisted sessions survive reordering.
func (s State) MarshalText() ([]byte, error) {
	name, ok := stateNames[s]
	if !ok {
		return nil, fmt.Errorf("conversation: unknown state %d", int(s))
	}
	return []byte(name), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("conversation: unknown state %q", text)
}
