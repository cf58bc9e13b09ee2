package events

const (
	// KindConversationStateChanged identifies orchestrator state transitions.
	KindConversationStateChanged Kind = "conversation.state_changed"
	// KindMessageAppended identifies a new entry in the message log.
	KindMessageAppended Kind = "conversation.message_appended"
	// KindConversationRestarted identifies a new session replacing the old one.
	KindConversationRestarted Kind = "conversation.restarted"
	// KindConversationEnded identifies teardown of the orchestrator.
	KindConversationEnded Kind = "conversation.ended"
	// KindErrorReported identifies an error surfaced to the user.
	KindErrorReported Kind = "conversation.error_reported"
)

type ConversationStateChanged struct {
	Base
	From string
	To   string
}

func NewConversationStateChanged(from, to string) ConversationStateChanged {
	return ConversationStateChanged{Base: NewBase(KindConversationStateChanged), From: from, To: to}
}

type MessageAppended struct {
	Base
	MessageID string
	Role      string
	Text      string
}

func NewMessageAppended(messageID, role, text string) MessageAppended {
	return MessageAppended{Base: NewBase(KindMessageAppended), MessageID: messageID, Role: role, Text: text}
}

type ConversationRestarted struct {
	Base
	SessionID string
}

func NewConversationRestarted(sessionID string) ConversationRestarted {
	return ConversationRestarted{Base: NewBase(KindConversationRestarted), SessionID: sessionID}
}

type ConversationEnded struct{ Base }

func NewConversationEnded() ConversationEnded {
	return ConversationEnded{Base: NewBase(KindConversationEnded)}
}

type ErrorReported struct {
	Base
	Err error
}

func NewErrorReported(err error) ErrorReported {
	return ErrorReported{Base: NewBase(KindErrorReported), Err: err}
}
