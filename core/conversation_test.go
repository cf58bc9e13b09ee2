package orchestration

import (
	"errors"
	"testing"

	"github.com/koscakluka/ema-voice/core/audio"
)

func TestConversationAttachesAudioOnce(t *testing.T) {
	conversation := NewConversation()
	message := conversation.Append(RoleAssistant, "hello")

	clip := audio.NewPCMClip([]byte{1, 2, 3, 4}, audio.GetDefaultEncodingInfo())
	if err := conversation.AttachAudio(message.ID, clip); err != nil {
		t.Fatalf("expected audio to attach, got %v", err)
	}
	if err := conversation.AttachAudio(message.ID, clip); !errors.Is(err, ErrAudioAlreadyAttached) {
		t.Fatalf("expected already attached error, got %v", err)
	}
	if err := conversation.AttachAudio("missing", clip); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}

	stored, ok := conversation.Message(message.ID)
	if !ok || stored.Audio == nil {
		t.Fatalf("expected stored message to carry audio")
	}
}

func TestConversationSkipsEmptyAudio(t *testing.T) {
	conversation := NewConversation()
	empty := audio.Clip{}
	message := conversation.Append(RoleAssistant, "hello", WithMessageAudio(&empty), WithMessageAudio(nil))

	if message.Audio != nil {
		t.Fatalf("expected empty audio to be ignored")
	}
}

func TestConversationMessagesAreCopies(t *testing.T) {
	conversation := NewConversation()
	clip := audio.NewPCMClip([]byte{1, 2, 3, 4}, audio.GetDefaultEncodingInfo())
	first := conversation.Append(RoleUser, "hi")
	conversation.Append(RoleAssistant, "hello", WithMessageAudio(&clip))

	messages := conversation.Messages()
	if len(messages) != 2 || messages[0].ID != first.ID || messages[1].Role != RoleAssistant {
		t.Fatalf("expected messages in append order, got %+v", messages)
	}

	messages[0].Text = "changed"
	messages[1].Audio.Data[0] = 9

	again := conversation.Messages()
	if again[0].Text != "hi" {
		t.Fatalf("expected stored text to be unchanged, got %q", again[0].Text)
	}
	if again[1].Audio.Data[0] != 1 {
		t.Fatalf("expected stored audio to be unchanged")
	}
}

func TestConversationClear(t *testing.T) {
	conversation := NewConversation()
	message := conversation.Append(RoleUser, "hi")
	conversation.Clear()

	if conversation.Len() != 0 {
		t.Fatalf("expected empty conversation, got %d messages", conversation.Len())
	}
	if _, ok := conversation.Message(message.ID); ok {
		t.Fatalf("expected cleared message to be gone")
	}
}
