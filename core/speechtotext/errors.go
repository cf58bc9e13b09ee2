package speechtotext

import "errors"

var (
	// ErrPermissionDenied means the microphone could not be opened for the
	// session. Text input remains the only way to talk.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrRecognitionUnavailable means speech recognition is not available at
	// all (missing credentials or no capable backend).
	ErrRecognitionUnavailable = errors.New("speech recognition unavailable")
	// ErrNoSpeech is reported when a session ends without any speech. It is
	// expected and frequent.
	ErrNoSpeech = errors.New("no speech detected")
)

// IsSticky reports whether err disables capture until the controller is
// rebuilt.
func IsSticky(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrRecognitionUnavailable)
}
