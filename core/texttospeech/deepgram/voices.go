package deepgram

import (
	"slices"
	"strings"
)

type deepgramVoice string

const defaultVoice deepgramVoice = "aura-2-thalia-en"

var availableVoices = []deepgramVoice{
	"aura-2-thalia-en",
	"aura-2-andromeda-en",
	"aura-2-helena-en",
	"aura-2-apollo-en",
	"aura-2-arcas-en",
	"aura-2-aries-en",
	"aura-asteria-en",
	"aura-luna-en",
	"aura-orion-en",
	"aura-arcas-en",
}

func GetAvailableVoices() []deepgramVoice {
	return slices.Clone(availableVoices)
}

// resolveVoice returns the voice to request. Unknown aura voices are passed
// through so newly released voices work without an update.
func resolveVoice(voiceID string) (deepgramVoice, bool) {
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		return defaultVoice, true
	}
	if slices.Contains(availableVoices, deepgramVoice(voiceID)) || strings.HasPrefix(voiceID, "aura-") {
		return deepgramVoice(voiceID), true
	}
	return "", false
}
