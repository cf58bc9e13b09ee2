package audio

// PlaybackEventKind is reported by a playback element about its own
// lifecycle. Consumers derive "playing" from these rather than from the
// calls they made.
type PlaybackEventKind int

const (
	PlaybackPlaying PlaybackEventKind = iota
	PlaybackPaused
	PlaybackEnded
	PlaybackFailed
)

func (k PlaybackEventKind) String() string {
	switch k {
	case PlaybackPlaying:
		return "playing"
	case PlaybackPaused:
		return "paused"
	case PlaybackEnded:
		return "ended"
	case PlaybackFailed:
		return "error"
	default:
		return "unknown"
	}
}

type PlaybackEvent struct {
	Kind PlaybackEventKind
	// Err is set for PlaybackFailed.
	Err error
}
