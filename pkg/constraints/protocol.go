package constraints

// Action is what happened to a queue entry.
type Action string

const (
	ActionEnqueued Action = "enqueued"
	ActionClaimed  Action = "claimed"
	ActionDone     Action = "done"
	ActionRetry    Action = "retry"
	ActionFailed   Action = "failed"
	ActionRequeued Action = "requeued"
	// ActionPing is a stream heartbeat and never refers to an entry.
	ActionPing Action = "ping"
)
