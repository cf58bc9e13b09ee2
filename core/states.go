package orchestration

// State is the orchestrator's position in the conversation loop.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateSpeaking   State = "speaking"
	StateMuted      State = "muted"
	// StateStandby is an initialized conversation with nothing active and
	// automatic capture turned off.
	StateStandby State = "standby"
	StateEnded   State = "ended"
)

func (s State) String() string { return string(s) }
