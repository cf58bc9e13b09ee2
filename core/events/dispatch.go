package events

const (
	// KindDispatchStarted identifies a request sent to the agent.
	KindDispatchStarted Kind = "dispatch.started"
	// KindDispatchCompleted identifies a reply accepted for the current session.
	KindDispatchCompleted Kind = "dispatch.completed"
	// KindDispatchFailed identifies a request that produced no usable reply.
	KindDispatchFailed Kind = "dispatch.failed"
	// KindDispatchDiscarded identifies a reply dropped because the session
	// or turn it belonged to is gone.
	KindDispatchDiscarded Kind = "dispatch.discarded"
)

type DispatchStarted struct {
	Base
	SessionID string
	Text      string
}

func NewDispatchStarted(sessionID, text string) DispatchStarted {
	return DispatchStarted{Base: NewBase(KindDispatchStarted), SessionID: sessionID, Text: text}
}

// DispatchCompleted carries the shape the reply was normalized from.
type DispatchCompleted struct {
	Base
	SessionID string
	Shape     string
}

func NewDispatchCompleted(sessionID, shape string) DispatchCompleted {
	return DispatchCompleted{Base: NewBase(KindDispatchCompleted), SessionID: sessionID, Shape: shape}
}

type DispatchFailed struct {
	Base
	SessionID string
	Err       error
}

func NewDispatchFailed(sessionID string, err error) DispatchFailed {
	return DispatchFailed{Base: NewBase(KindDispatchFailed), SessionID: sessionID, Err: err}
}

type DispatchDiscarded struct {
	Base
	SessionID string
}

func NewDispatchDiscarded(sessionID string) DispatchDiscarded {
	return DispatchDiscarded{Base: NewBase(KindDispatchDiscarded), SessionID: sessionID}
}
