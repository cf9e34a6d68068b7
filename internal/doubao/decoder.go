// Package doubao speaks the upstream web chat protocol: request construction,
// transport and decoding of the event stream.
package doubao

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	app_errors "doubao-api/internal/errors"
)

// EventKind classifies one decoded upstream line.
type EventKind int

const (
	EventIgnore EventKind = iota
	EventConversationAssigned
	EventMessageDelta
	EventProgressUpdate
	EventImageResult
	EventMalformed
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventIgnore:
		return "ignore"
	case EventConversationAssigned:
		return "conversation_assigned"
	case EventMessageDelta:
		return "message_delta"
	case EventProgressUpdate:
		return "progress_update"
	case EventImageResult:
		return "image_result"
	case EventMalformed:
		return "malformed"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// Upstream event and content type codes.
const (
	EventTypeMessage      = "2001"
	EventTypeConversation = "2002"
	EventTypeProgress     = "2003"

	ContentTypeText       = 2001
	ContentTypeImageInput = 2009
	ContentTypeImage      = "2010"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// Event is the result of decoding one line.
type Event struct {
	Kind           EventKind
	ConversationID string
	Text           string
	Progress       int
	URLs           []string
	// Err is set for EventMalformed.
	Err error
}

// code accepts a JSON string or number and keeps its textual form.
type code string

func (c *code) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = code(strings.TrimSpace(s))
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = code(n.String())
	return nil
}

// envelope is the outer layer of a line.
type envelope struct {
	EventType code            `json:"event_type"`
	EventData json.RawMessage `json:"event_data"`
}

// eventPayload is the decoded event_data layer.
type eventPayload struct {
	ConversationID code          `json:"conversation_id"`
	Progress       *code         `json:"progress"`
	Message        *messageLayer `json:"message"`
}

type messageLayer struct {
	ContentType code            `json:"content_type"`
	Content     json.RawMessage `json:"content"`
}

// messageContent is the innermost layer carried in message.content.
type messageContent struct {
	Text *string        `json:"text"`
	Data []imageElement `json:"data"`
}

type imageElement struct {
	ImageOri *struct {
		URL string `json:"url"`
	} `json:"image_ori"`
}

var errEmptyLayer = errors.New("empty layer")

// unwrapLayer decodes a field that is either a JSON-encoded string holding a
// document or the document itself.
func unwrapLayer(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return errEmptyLayer
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return errEmptyLayer
		}
		raw = json.RawMessage(s)
	}
	return json.Unmarshal(raw, v)
}

// Decode turns one upstream line into an Event.
// Missing fields at any layer yield EventIgnore; undecodable JSON yields EventMalformed.
func Decode(line string) Event {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, dataPrefix) {
		return Event{Kind: EventIgnore}
	}
	data := strings.TrimSpace(line[len(dataPrefix):])
	if data == "" {
		return Event{Kind: EventIgnore}
	}
	if data == doneSentinel {
		return Event{Kind: EventDone}
	}

	var env envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return malformed(line, err)
	}
	if env.EventType == "" {
		return Event{Kind: EventIgnore}
	}

	var payload eventPayload
	switch err := unwrapLayer(env.EventData, &payload); {
	case errors.Is(err, errEmptyLayer):
		return Event{Kind: EventIgnore}
	case err != nil:
		return malformed(line, err)
	}

	switch string(env.EventType) {
	case EventTypeConversation:
		return decodeConversation(&payload)
	case EventTypeMessage:
		return decodeMessage(line, &payload)
	case EventTypeProgress:
		return decodeProgress(&payload)
	default:
		return Event{Kind: EventIgnore}
	}
}

func decodeConversation(p *eventPayload) Event {
	id := string(p.ConversationID)
	if id == "" {
		return Event{Kind: EventIgnore}
	}
	return Event{Kind: EventConversationAssigned, ConversationID: id}
}

func decodeProgress(p *eventPayload) Event {
	if p.Progress == nil || *p.Progress == "" {
		return Event{Kind: EventIgnore}
	}
	f, err := strconv.ParseFloat(string(*p.Progress), 64)
	if err != nil {
		return Event{Kind: EventIgnore}
	}
	return Event{Kind: EventProgressUpdate, Progress: int(f)}
}

func decodeMessage(line string, p *eventPayload) Event {
	if p.Message == nil {
		return Event{Kind: EventIgnore}
	}

	var content messageContent
	switch err := unwrapLayer(p.Message.Content, &content); {
	case errors.Is(err, errEmptyLayer):
		return Event{Kind: EventIgnore}
	case err != nil:
		return malformed(line, err)
	}

	if string(p.Message.ContentType) == ContentTypeImage {
		var urls []string
		for _, el := range content.Data {
			if el.ImageOri == nil {
				continue
			}
			if u := strings.TrimSpace(el.ImageOri.URL); u != "" {
				urls = append(urls, u)
			}
		}
		if len(urls) == 0 {
			return Event{Kind: EventIgnore}
		}
		return Event{Kind: EventImageResult, URLs: urls}
	}

	if content.Text == nil {
		return Event{Kind: EventIgnore}
	}
	return Event{Kind: EventMessageDelta, Text: *content.Text}
}

func malformed(line string, err error) Event {
	return Event{Kind: EventMalformed, Err: &app_errors.DecodeError{Line: line, Err: err}}
}
