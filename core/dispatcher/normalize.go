package dispatcher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/koscakluka/ema-voice/core/audio"
)

// textHeaders carry the display text of binary replies, in order of
// preference. Values may be URL encoded.
var textHeaders = []string{"X-Response-Text", "X-Agent-Message", "X-Transcript"}

// multipartTextFields are the form fields read from multipart replies, in
// order of preference.
var multipartTextFields = []string{"output", "message", "text", "response"}

// Normalize decodes an agent response body into a Reply. The declared content
// type selects the decoder; bodies without one are sniffed.
func Normalize(contentType string, header http.Header, body []byte) (Reply, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Reply{}, fmt.Errorf("empty response body: %w", ErrMalformedResponse)
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
	}
	if mediaType == "" {
		mediaType, params = sniffMediaType(body)
	}

	switch {
	case isJSONMediaType(mediaType):
		return decodeJSON(body), nil
	case strings.HasPrefix(mediaType, "multipart/"):
		return decodeMultipart(params["boundary"], body)
	case strings.HasPrefix(mediaType, "text/"):
		return decodeText(body), nil
	default:
		return decodeBinary(mime.FormatMediaType(mediaType, params), header, body), nil
	}
}

func sniffMediaType(body []byte) (string, map[string]string) {
	if utf8.Valid(body) {
		return "text/plain", nil
	}
	mediaType, params, err := mime.ParseMediaType(http.DetectContentType(body))
	if err != nil {
		return "application/octet-stream", nil
	}
	return mediaType, params
}

func isJSONMediaType(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// decodeText returns plain text replies as is, unless the text is itself a
// JSON document.
func decodeText(body []byte) Reply {
	trimmed := bytes.TrimSpace(body)
	if (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed) {
		return decodeJSON(trimmed)
	}
	return Reply{Text: string(trimmed), Shape: ShapePlainText}
}

func decodeJSON(body []byte) Reply {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return Reply{Text: strings.TrimSpace(string(body)), Shape: ShapeRaw}
	}

	if text, ok := extractText(payload); ok {
		return Reply{Text: text, Diagnostic: payload, Shape: ShapeJSON}
	}

	return Reply{Text: stringify(payload, body), Diagnostic: payload, Shape: ShapeRaw}
}

type textExtractor func(v any) (string, bool)

// jsonExtractors are tried in order; the first one finding text wins.
var jsonExtractors = []textExtractor{
	structuredContent,
	stringField("output"),
	messageField,
	stringField("text"),
	firstElement,
}

func extractText(v any) (string, bool) {
	for _, extract := range jsonExtractors {
		if text, ok := extract(v); ok {
			return text, true
		}
	}
	return "", false
}

// structuredContent reads a `content` field, either at the top level or
// nested in a response, data or result envelope.
func structuredContent(v any) (string, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	if content, ok := obj["content"]; ok {
		if text, ok := contentText(content); ok {
			return text, true
		}
	}
	for _, envelope := range []string{"response", "data", "result"} {
		if nested, ok := obj[envelope].(map[string]any); ok {
			if text, ok := structuredContent(nested); ok {
				return text, true
			}
		}
	}
	return "", false
}

// contentText flattens a content value: a string, an object holding text, or
// a list of parts.
func contentText(content any) (string, bool) {
	switch c := content.(type) {
	case string:
		return nonEmpty(c)
	case map[string]any:
		for _, key := range []string{"text", "value", "content"} {
			if text, ok := contentText(c[key]); ok {
				return text, true
			}
		}
	case []any:
		var parts []string
		for _, part := range c {
			if text, ok := contentText(part); ok {
				parts = append(parts, text)
			}
		}
		return nonEmpty(strings.Join(parts, "\n"))
	}
	return "", false
}

func stringField(key string) textExtractor {
	return func(v any) (string, bool) {
		obj, ok := v.(map[string]any)
		if !ok {
			return "", false
		}
		text, ok := obj[key].(string)
		if !ok {
			return "", false
		}
		return nonEmpty(text)
	}
}

// messageField reads `message` as a string or as an object with content.
func messageField(v any) (string, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	switch message := obj["message"].(type) {
	case string:
		return nonEmpty(message)
	case map[string]any:
		return contentText(message["content"])
	}
	return "", false
}

// firstElement reads the output, then the message, of the first element of a
// JSON array.
func firstElement(v any) (string, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return "", false
	}
	if text, ok := stringField("output")(arr[0]); ok {
		return text, true
	}
	if text, ok := messageField(arr[0]); ok {
		return text, true
	}
	if text, ok := arr[0].(string); ok {
		return nonEmpty(text)
	}
	return "", false
}

func stringify(payload any, raw []byte) string {
	if text, ok := payload.(string); ok {
		return text
	}
	compact := bytes.Buffer{}
	if err := json.Compact(&compact, raw); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return compact.String()
}

func nonEmpty(text string) (string, bool) {
	text = strings.TrimSpace(text)
	return text, text != ""
}

func decodeMultipart(boundary string, body []byte) (Reply, error) {
	if boundary == "" {
		return Reply{}, fmt.Errorf("multipart response without boundary: %w", ErrMalformedResponse)
	}

	fields := map[string]string{}
	var jsonReply *Reply
	var attachment *Attachment

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Reply{}, fmt.Errorf("failed to read multipart response: %w: %w", ErrMalformedResponse, err)
		}

		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return Reply{}, fmt.Errorf("failed to read multipart part: %w: %w", ErrMalformedResponse, err)
		}

		partType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		switch {
		case isJSONMediaType(partType):
			if jsonReply == nil {
				decoded := decodeJSON(data)
				jsonReply = &decoded
			}
		case partType == "" || strings.HasPrefix(partType, "text/"):
			if part.FileName() == "" {
				fields[part.FormName()] = string(data)
				continue
			}
			fallthrough
		default:
			if attachment == nil {
				attachment = &Attachment{
					MIMEType: part.Header.Get("Content-Type"),
					Filename: part.FileName(),
					Data:     data,
				}
			}
		}
	}

	reply := Reply{Attachment: attachment, Shape: ShapeMultipart, Diagnostic: fields}
	for _, field := range multipartTextFields {
		if text, ok := nonEmpty(fields[field]); ok {
			reply.Text = text
			break
		}
	}
	if reply.Text == "" && jsonReply != nil {
		reply.Text = jsonReply.Text
		reply.Diagnostic = jsonReply.Diagnostic
	}
	reply.Audio = audioFromAttachment(attachment)

	if reply.IsEmpty() {
		return Reply{}, fmt.Errorf("multipart response without text or attachment: %w", ErrMalformedResponse)
	}
	return reply, nil
}

func decodeBinary(contentType string, header http.Header, body []byte) Reply {
	attachment := &Attachment{MIMEType: contentType, Data: body}
	if header != nil {
		if _, params, err := mime.ParseMediaType(header.Get("Content-Disposition")); err == nil {
			attachment.Filename = params["filename"]
		}
	}

	reply := Reply{
		Text:       headerText(header),
		Attachment: attachment,
		Audio:      audioFromAttachment(attachment),
		Shape:      ShapeBinary,
	}
	return reply
}

func headerText(header http.Header) string {
	for _, name := range textHeaders {
		value := header.Get(name)
		if value == "" {
			continue
		}
		if unescaped, err := url.QueryUnescape(value); err == nil {
			value = unescaped
		}
		if text, ok := nonEmpty(value); ok {
			return text
		}
	}
	return ""
}

// audioFromAttachment returns the attachment as a clip only when it can be
// played. Other audio stays on the attachment and the text is synthesized.
func audioFromAttachment(attachment *Attachment) *audio.Clip {
	if attachment == nil || len(attachment.Data) == 0 || !audio.IsAudioMIMEType(attachment.MIMEType) {
		return nil
	}
	clip := &audio.Clip{Data: attachment.Data, MIMEType: attachment.MIMEType}
	if !clip.Playable() {
		logger.Debug("agent audio cannot be played, falling back to text", "mime_type", attachment.MIMEType)
		return nil
	}
	return clip
}
