// Package funnel implements the sales qualification dialogue as a pure,
// total transition function. Nothing in this package performs I/O.
package funnel

import "fmt"

// State is a closed enumeration of funnel steps.
type State int

const (
	AskGrade State = iota
	AskGoal
	AskSubject
	AskFormat
	SuggestProducts
	AskContact
	Done
)

var stateNames = [...]string{
	AskGrade:        "ask_grade",
	AskGoal:         "ask_goal",
	AskSubject:      "ask_subject",
	AskFormat:       "ask_format",
	SuggestProducts: "suggest_products",
	AskContact:      "ask_contact",
	Done:            "done",
}

// States lists every state in funnel order.
func States() []State {
	return []State{AskGrade, AskGoal, AskSubject, AskFormat, SuggestProducts, AskContact, Done}
}

func (s State) Valid() bool {
	return s >= AskGrade && s <= Done
}

func (s State) String() string {
	if !s.Valid() {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// ParseState maps the stored name back to a State. "start" is accepted as
// an alias of ask_grade for rows written by older deployments.
func ParseState(name string) (State, error) {
	if name == "start" {
		return AskGrade, nil
	}
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return AskGrade, fmt.Errorf("funnel: unknown state %q", name)
}
