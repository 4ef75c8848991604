package funnel

import "strconv"

// Flags are side-effect requests for the caller. The machine never acts on
// them itself.
type Flags struct {
	ShouldSuggestProducts bool
	Completed             bool
}

// Step is the result of one transition.
type Step struct {
	State    State
	Criteria Criteria
	Prompt   string
	Keyboard Keyboard
	Flags    Flags
}

// Machine holds the static inputs of the transition function.
type Machine struct {
	BrandDefault string
}

func NewMachine(brandDefault string) Machine {
	if b := NormalizeBrand(brandDefault); b != "" {
		brandDefault = b
	}
	return Machine{BrandDefault: brandDefault}
}

// Advance is total: every (state, event) pair yields a Step. Input that does
// not fit the current state keeps the state and re-asks.
func (m Machine) Advance(state State, c Criteria, ev Event) Step {
	if ev.Kind == EventRestart {
		return m.restart(ev)
	}
	if c.Brand == "" {
		c.Brand = m.BrandDefault
	}

	switch state {
	case AskGrade:
		grade, ok := gradeFrom(ev)
		if !ok {
			return stay(AskGrade, c, promptBadGrade)
		}
		c.Grade = grade
		return enter(AskGoal, c)

	case AskGoal:
		goal, ok := ParseGoal(valueFrom(ev, "goal"))
		if !ok {
			return stay(AskGoal, c, promptBadGoal)
		}
		c.Goal = goal
		return enter(AskSubject, c)

	case AskSubject:
		subject, ok := ParseSubject(valueFrom(ev, "subject"))
		if !ok {
			return stay(AskSubject, c, promptBadSubject)
		}
		if subject == SubjectAny {
			c.Subject = ""
		} else {
			c.Subject = subject
		}
		return enter(AskFormat, c)

	case AskFormat:
		format, ok := ParseFormat(valueFrom(ev, "format"))
		if !ok {
			return stay(AskFormat, c, promptBadFormat)
		}
		c.Format = format
		step := enter(SuggestProducts, c)
		step.Flags.ShouldSuggestProducts = true
		return step

	case SuggestProducts:
		switch ev.Kind {
		case EventStartContact:
			return enter(AskContact, c)
		case EventText:
			return stay(SuggestProducts, c, promptSuggestFree)
		default:
			return stay(SuggestProducts, c, promptSuggestNudge)
		}

	case AskContact:
		if ev.Kind != EventText {
			return stay(AskContact, c, promptBadContact)
		}
		contact, ok := parseContact(ev.Text)
		if !ok {
			return stay(AskContact, c, promptBadContact)
		}
		c.Contact = contact
		step := enter(Done, c)
		step.Flags.Completed = true
		return step

	case Done:
		return stay(Done, c, promptDoneAfterwards)

	default:
		// Unknown states only come from corrupted storage.
		return enter(AskGrade, Reset(c.Brand))
	}
}

func (m Machine) restart(ev Event) Step {
	brand := m.BrandDefault
	if b := NormalizeBrand(ev.Brand); b != "" {
		brand = b
	}
	return Step{
		State:    AskGrade,
		Criteria: Reset(brand),
		Prompt:   promptGreeting + "\n\n" + promptAskGrade,
		Keyboard: KeyboardFor(AskGrade),
	}
}

func enter(s State, c Criteria) Step {
	return Step{State: s, Criteria: c, Prompt: PromptFor(s), Keyboard: KeyboardFor(s)}
}

func stay(s State, c Criteria, prompt string) Step {
	return Step{State: s, Criteria: c, Prompt: prompt, Keyboard: KeyboardFor(s)}
}

// valueFrom returns the candidate answer for field: the selected value when
// the event targets that field, or the typed text.
func valueFrom(ev Event, field string) string {
	switch ev.Kind {
	case EventSelect:
		if ev.Field == field {
			return ev.Value
		}
	case EventText:
		return ev.Text
	}
	return ""
}

func gradeFrom(ev Event) (int, bool) {
	switch ev.Kind {
	case EventSelect:
		if ev.Field != "grade" {
			return 0, false
		}
		n, err := strconv.Atoi(ev.Value)
		if err != nil || n < 1 || n > 11 {
			return 0, false
		}
		return n, true
	case EventText:
		return parseGrade(ev.Text)
	}
	return 0, false
}
