package model

import (
	"encoding/json"
	"errors"
	"strings"
)

// ChatCompletionRequest is the OpenAI chat completion request accepted by the service.
type ChatCompletionRequest struct {
	Messages []Message `json:"messages"`
	Model    string    `json:"model"`

	Stream *bool   `json:"stream,omitempty"`
	User   *string `json:"user,omitempty"`

	// Accepted for compatibility; the upstream has no equivalent.
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int64   `json:"max_tokens,omitempty"`
	Stop        *Stop    `json:"stop,omitempty"`
}

// Validate validates the request
func (r *ChatCompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("messages are required")
	}
	return nil
}

// IsStreaming returns whether streaming is enabled
func (r *ChatCompletionRequest) IsStreaming() bool {
	return r.Stream != nil && *r.Stream
}

// UserID returns the trimmed user field.
func (r *ChatCompletionRequest) UserID() string {
	if r.User == nil {
		return ""
	}
	return strings.TrimSpace(*r.User)
}

// Message represents a message in the conversation
type Message struct {
	Role    string         `json:"role,omitempty"`
	Content MessageContent `json:"content,omitzero"`
	Name    *string        `json:"name,omitempty"`
}

// MessageContent represents message content (can be string or array of parts)
type MessageContent struct {
	Content         *string              `json:"content,omitempty"`
	MultipleContent []MessageContentPart `json:"multiple_content,omitempty"`
}

// GetText returns the text content
func (c MessageContent) GetText() string {
	if c.Content != nil {
		return *c.Content
	}
	var text strings.Builder
	for _, part := range c.MultipleContent {
		if part.Type == "text" && part.Text != nil {
			text.WriteString(*part.Text)
		}
	}
	return text.String()
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if len(c.MultipleContent) > 0 {
		// If only one text part, serialize as string
		if len(c.MultipleContent) == 1 && c.MultipleContent[0].Type == "text" && c.MultipleContent[0].Text != nil {
			return json.Marshal(c.MultipleContent[0].Text)
		}
		return json.Marshal(c.MultipleContent)
	}
	return json.Marshal(c.Content)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		c.Content = &str
		return nil
	}

	var parts []MessageContentPart
	if err := json.Unmarshal(data, &parts); err == nil {
		c.MultipleContent = parts
		return nil
	}

	return errors.New("invalid content type: expected string or []MessageContentPart")
}

// MessageContentPart represents a part of message content
type MessageContentPart struct {
	Type     string    `json:"type"`
	Text     *string   `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ChatCompletion is a chat.completion or chat.completion.chunk object.
type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice represents a choice in the response
type Choice struct {
	Index        int      `json:"index"`
	Message      *Message `json:"message,omitempty"`
	Delta        *Message `json:"delta,omitempty"`
	FinishReason *string  `json:"finish_reason,omitempty"`
}

// Object names
const (
	ObjectChatCompletion      = "chat.completion"
	ObjectChatCompletionChunk = "chat.completion.chunk"
	ObjectImageChunk          = "image.generation.chunk"
	ObjectImageResult         = "image.generation.result"
	ObjectImageError          = "image.generation.error"
	ObjectList                = "list"
	ObjectModel               = "model"
)

// Finish reasons
const (
	FinishReasonStop  = "stop"
	FinishReasonError = "error"
)
