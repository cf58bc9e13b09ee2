// Package dispatcher delivers user utterances to a remote conversational
// agent and normalizes whatever the agent answers with into a Reply.
package dispatcher

import (
	"context"

	"github.com/koscakluka/ema-voice/core/audio"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (Reply, error)
}

// SessionEnder is implemented by dispatchers that keep per-session state.
type SessionEnder interface {
	EndSession(sessionID string)
}

type Request struct {
	Text      string
	SessionID string
}

// Shape names the decoder that produced a Reply.
type Shape string

const (
	ShapePlainText Shape = "text"
	ShapeJSON      Shape = "json"
	ShapeMultipart Shape = "multipart"
	ShapeBinary    Shape = "binary"
	ShapeRaw       Shape = "raw"
	ShapeChat      Shape = "chat_completion"
)

type Attachment struct {
	MIMEType string
	Filename string
	Data     []byte
}

// Reply is the normalized answer of the agent. It carries display text, an
// attachment, or both. Audio is set when the attachment is playable audio.
type Reply struct {
	Text       string
	Audio      *audio.Clip
	Attachment *Attachment
	// Diagnostic holds the decoded payload the reply was extracted from.
	Diagnostic any
	Shape      Shape
}

func (r Reply) IsEmpty() bool {
	return r.Text == "" && r.Attachment == nil && r.Audio == nil
}
