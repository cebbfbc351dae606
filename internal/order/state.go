package order

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of an order. The set of states is closed;
// ParseState rejects anything outside it.
type State uint8

const (
	StatePending State = iota + 1
	StateAbandoned
	StateSubmitted
	StateApproved
	StateRejected
	StateFulfilled
	StateCanceled
)

var stateNames = map[State]string{
	StatePending:   "pending",
	StateAbandoned: "abandoned",
	StateSubmitted: "submitted",
	StateApproved:  "approved",
	StateRejected:  "rejected",
	StateFulfilled: "fulfilled",
	StateCanceled:  "canceled",
}

// String returns the lower-case form used in storage and user-facing messages.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Symbol returns the upper-case form used in API payloads, e.g. SUBMITTED.
func (s State) Symbol() string {
	return strings.ToUpper(s.String())
}

func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

func ParseState(raw string) (State, error) {
	lower := strings.ToLower(strings.TrimSpace(raw))
	for s, name := range stateNames {
		if name == lower {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown order state %q", raw)
}
