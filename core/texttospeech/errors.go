package texttospeech

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCredentials = errors.New("missing text-to-speech credentials")
	ErrQuotaExceeded      = errors.New("text-to-speech quota exceeded")
	ErrVoiceNotFound      = errors.New("text-to-speech voice not found")
	ErrPlaybackFailed     = errors.New("speech playback failed")
	ErrUnknown            = errors.New("text-to-speech failed")
)

// ProviderError is a failure reported by a provider in its error payload.
// Err is one of the package sentinel errors.
type ProviderError struct {
	Provider   string
	StatusCode int
	Status     string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (%d %s): %s", e.Provider, e.Err, e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s (%d %s)", e.Provider, e.Err, e.StatusCode, e.Status)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Classify maps err onto the failure taxonomy. Errors that do not wrap one of
// the sentinel errors are reported as ErrUnknown.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrMissingCredentials):
		return ErrMissingCredentials
	case errors.Is(err, ErrQuotaExceeded):
		return ErrQuotaExceeded
	case errors.Is(err, ErrVoiceNotFound):
		return ErrVoiceNotFound
	case errors.Is(err, ErrPlaybackFailed):
		return ErrPlaybackFailed
	default:
		return ErrUnknown
	}
}

// IsSticky reports whether err should suppress further synthesis attempts
// until the voice configuration changes.
func IsSticky(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrVoiceNotFound)
}

// StatusError maps a provider's machine readable status onto the taxonomy.
func StatusError(status string) error {
	switch status {
	case "quota_exceeded", "insufficient_quota", "payment_required":
		return ErrQuotaExceeded
	case "voice_not_found", "invalid_voice", "model_not_found":
		return ErrVoiceNotFound
	case "invalid_api_key", "missing_api_key", "unauthorized":
		return ErrMissingCredentials
	default:
		return ErrUnknown
	}
}
