package model

import (
	"encoding/json"
	"errors"
	"strings"
)

// Stop represents stop sequences (can be string or []string)
type Stop struct {
	Stop         *string
	MultipleStop []string
}

func (s Stop) MarshalJSON() ([]byte, error) {
	if s.Stop != nil {
		return json.Marshal(s.Stop)
	}
	if len(s.MultipleStop) > 0 {
		return json.Marshal(s.MultipleStop)
	}
	return []byte("null"), nil
}

func (s *Stop) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.Stop = &str
		return nil
	}

	var strs []string
	if err := json.Unmarshal(data, &strs); err == nil {
		s.MultipleStop = strs
		return nil
	}

	return errors.New("invalid stop type: expected string or []string")
}

// Usage represents token usage statistics
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// ResponseError represents an error response
type ResponseError struct {
	StatusCode int         `json:"-"`
	Detail     ErrorDetail `json:"error"`
}

func (e ResponseError) Error() string {
	msg := "request failed"
	if e.Detail.Message != "" {
		msg = e.Detail.Message
	}
	if e.Detail.Code != "" {
		msg += " (code: " + e.Detail.Code + ")"
	}
	return msg
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

// ImageURL represents an image URL with optional detail level
type ImageURL struct {
	URL    string  `json:"url"`
	Detail *string `json:"detail,omitempty"`
}

// ImageGenerationRequest is the image generation request accepted by the service.
type ImageGenerationRequest struct {
	Prompt string  `json:"prompt"`
	Model  string  `json:"model,omitempty"`
	N      *int    `json:"n,omitempty"`
	Size   string  `json:"size,omitempty"`
	Stream *bool   `json:"stream,omitempty"`
	User   *string `json:"user,omitempty"`
}

// Validate validates the request
func (r *ImageGenerationRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("prompt is required")
	}
	return nil
}

// IsStreaming returns whether streaming is enabled
func (r *ImageGenerationRequest) IsStreaming() bool {
	return r.Stream != nil && *r.Stream
}

// UserID returns the trimmed user field.
func (r *ImageGenerationRequest) UserID() string {
	if r.User == nil {
		return ""
	}
	return strings.TrimSpace(*r.User)
}

// ImageData is one generated image.
type ImageData struct {
	URL    string `json:"url"`
	Format string `json:"format"`
}

// ImageGenerationResponse is the non-streaming image result.
type ImageGenerationResponse struct {
	ID      string      `json:"id"`
	Object  string      `json:"object"`
	Created int64       `json:"created"`
	Model   string      `json:"model"`
	Data    []ImageData `json:"data"`
}

// ImageGenerationChunk is one streamed image event.
type ImageGenerationChunk struct {
	ID           string      `json:"id"`
	Object       string      `json:"object"`
	Created      int64       `json:"created"`
	Model        string      `json:"model"`
	Status       string      `json:"status"`
	Progress     *int        `json:"progress,omitempty"`
	Data         []ImageData `json:"data,omitempty"`
	FinishReason *string     `json:"finish_reason,omitempty"`
}

// Image chunk statuses
const (
	ImageStatusGenerating = "generating"
	ImageStatusPartial    = "partial"
	ImageStatusCompleted  = "completed"
)

// StreamError is the payload of an in-band error event.
type StreamError struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ModelInfo is one entry of the model list.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the /models response.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}
