package dispatcher

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"testing"
)

func TestNormalizeJSONExtractionPrecedence(t *testing.T) {
	testCases := []struct {
		name string
		body string
		want string
	}{
		{name: "nested content wins over output", body: `{"output":"generic","response":{"content":[{"type":"text","text":"structured"}]}}`, want: "structured"},
		{name: "top level content object", body: `{"content":{"text":"from content"},"message":"ignored"}`, want: "from content"},
		{name: "output before message", body: `{"message":"second","output":"first"}`, want: "first"},
		{name: "message string", body: `{"message":"hello"}`, want: "hello"},
		{name: "message object", body: `{"message":{"role":"assistant","content":"nested message"}}`, want: "nested message"},
		{name: "text field", body: `{"text":"plain field"}`, want: "plain field"},
		{name: "array first output", body: `[{"output":"from array"},{"output":"ignored"}]`, want: "from array"},
		{name: "array first message", body: `[{"message":"array message"}]`, want: "array message"},
		{name: "blank output falls through", body: `{"output":"  ","text":"fallback"}`, want: "fallback"},
		{name: "unrecognized stringified", body: `{"status": "ok", "n": 1}`, want: `{"status":"ok","n":1}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reply, err := Normalize("application/json; charset=utf-8", nil, []byte(tc.body))
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if reply.Text != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, reply.Text)
			}
			if reply.Diagnostic == nil {
				t.Fatalf("expected decoded payload as diagnostic")
			}
		})
	}
}

func TestNormalizePlainText(t *testing.T) {
	reply, err := Normalize("text/plain", nil, []byte("  just words \n"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reply.Text != "just words" || reply.Shape != ShapePlainText {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	reply, err = Normalize("text/plain", nil, []byte(`{"output":"json in disguise"}`))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reply.Text != "json in disguise" || reply.Shape != ShapeJSON {
		t.Fatalf("expected text body holding JSON to be decoded as JSON, got %+v", reply)
	}
}

func TestNormalizeWithoutContentTypeSniffsBody(t *testing.T) {
	reply, err := Normalize("", nil, []byte(`{"message":"sniffed"}`))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reply.Text != "sniffed" {
		t.Fatalf("expected sniffed JSON text, got %q", reply.Text)
	}
}

func TestNormalizeMalformedJSONFallsBackToRawText(t *testing.T) {
	reply, err := Normalize("application/json", nil, []byte(`{"output": "unterminated`))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reply.Shape != ShapeRaw || reply.Text != `{"output": "unterminated` {
		t.Fatalf("expected raw fallback, got %+v", reply)
	}
}

func TestNormalizeEmptyBodyIsMalformed(t *testing.T) {
	if _, err := Normalize("application/json", nil, []byte("  ")); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected malformed response error, got %v", err)
	}
}

func TestNormalizeMultipartWithAudioAttachment(t *testing.T) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	_ = writer.WriteField("message", "second choice")
	_ = writer.WriteField("output", "spoken reply")

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="audio"; filename="reply.wav"`)
	header.Set("Content-Type", "audio/wav")
	part, _ := writer.CreatePart(header)
	_, _ = part.Write([]byte("RIFFdata"))
	_ = writer.Close()

	reply, err := Normalize(writer.FormDataContentType(), nil, body.Bytes())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reply.Text != "spoken reply" {
		t.Fatalf("expected output field to win, got %q", reply.Text)
	}
	if reply.Attachment == nil || reply.Attachment.Filename != "reply.wav" {
		t.Fatalf("expected named attachment, got %+v", reply.Attachment)
	}
	if reply.Audio == nil || string(reply.Audio.Data) != "RIFFdata" {
		t.Fatalf("expected audio clip from attachment, got %+v", reply.Audio)
	}
}

func TestNormalizeMultipartJSONPart(t *testing.T) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="payload"`)
	header.Set("Content-Type", "application/json")
	part, _ := writer.CreatePart(header)
	_, _ = part.Write([]byte(`{"output":"from json part"}`))
	_ = writer.Close()

	reply, err := Normalize(writer.FormDataContentType(), nil, body.Bytes())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reply.Text != "from json part" || reply.Audio != nil {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestNormalizeBinaryAudioUsesHeaderText(t *testing.T) {
	header := http.Header{}
	header.Set("X-Agent-Message", "hello%20there%21")
	header.Set("Content-Disposition", `attachment; filename="answer.mp3"`)

	reply, err := Normalize("audio/mpeg", header, []byte{0xff, 0xfb, 0x90})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reply.Text != "hello there!" {
		t.Fatalf("expected unescaped header text, got %q", reply.Text)
	}
	if reply.Shape != ShapeBinary || reply.Audio == nil || reply.Attachment.Filename != "answer.mp3" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestNormalizeUnplayableAudioFallsBackToText(t *testing.T) {
	header := http.Header{}
	header.Set("X-Agent-Message", "spoken by the client")

	reply, err := Normalize("audio/ogg; codecs=opus", header, []byte("OggS\x00"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reply.Audio != nil {
		t.Fatalf("expected no playable clip for ogg, got %+v", reply.Audio)
	}
	if reply.Attachment == nil || reply.Text != "spoken by the client" {
		t.Fatalf("expected attachment and header text to be kept, got %+v", reply)
	}
}

func TestNormalizeBinaryNonAudioIsPlainAttachment(t *testing.T) {
	reply, err := Normalize("application/pdf", nil, []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reply.Audio != nil || reply.Attachment == nil || reply.Attachment.MIMEType != "application/pdf" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}
