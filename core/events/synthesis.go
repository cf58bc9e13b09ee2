package events

// KindSynthesisStateChanged identifies speech synthesis state snapshots.
const KindSynthesisStateChanged Kind = "synthesis.state_changed"

// SynthesisStateChanged is emitted every time the shared synthesizer
// broadcasts a new state. Err is the last synthesis or playback failure.
type SynthesisStateChanged struct {
	Base
	Generating bool
	Playing    bool
	Paused     bool
	Err        error
}

func NewSynthesisStateChanged(generating, playing, paused bool, err error) SynthesisStateChanged {
	return SynthesisStateChanged{
		Base:       NewBase(KindSynthesisStateChanged),
		Generating: generating,
		Playing:    playing,
		Paused:     paused,
		Err:        err,
	}
}

// Active reports whether audio is being generated, played or held paused.
func (e SynthesisStateChanged) Active() bool {
	return e.Generating || e.Playing || e.Paused
}
