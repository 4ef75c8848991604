package funnel

import "strings"

type EventKind int

const (
	// EventText is free text typed by the user.
	EventText EventKind = iota
	// EventSelect is a structured keyboard choice ("field:value").
	EventSelect
	// EventStartContact asks to leave contact details.
	EventStartContact
	// EventRestart resets the funnel from any state.
	EventRestart
)

// Event is one user input as seen by the funnel.
type Event struct {
	Kind  EventKind
	Text  string
	Field string
	Value string
	// Brand is set by a /start deep link on restart.
	Brand string
}

const (
	CallbackRestart      = "flow:restart"
	CallbackStartContact = "contact:start"
)

func TextEvent(text string) Event {
	trimmed := strings.TrimSpace(text)
	if trimmed == "/start" || strings.HasPrefix(trimmed, "/start ") {
		arg := strings.TrimSpace(strings.TrimPrefix(trimmed, "/start"))
		return Event{Kind: EventRestart, Text: trimmed, Brand: parseStartPayload(arg)}
	}
	return Event{Kind: EventText, Text: text}
}

func RestartEvent() Event {
	return Event{Kind: EventRestart}
}

func StartContactEvent() Event {
	return Event{Kind: EventStartContact}
}

func SelectEvent(field, value string) Event {
	return Event{Kind: EventSelect, Field: field, Value: value}
}

// CallbackEvent decodes inline keyboard callback data.
func CallbackEvent(data string) Event {
	switch data {
	case CallbackRestart:
		return RestartEvent()
	case CallbackStartContact:
		return StartContactEvent()
	}
	field, value, ok := strings.Cut(data, ":")
	if !ok {
		return Event{Kind: EventSelect, Value: data}
	}
	return SelectEvent(field, value)
}
