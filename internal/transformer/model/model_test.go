package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageContent_UnmarshalJSON_String(t *testing.T) {
	jsonStr := `"Hello, world!"`
	var content MessageContent
	err := json.Unmarshal([]byte(jsonStr), &content)

	require.NoError(t, err)
	assert.NotNil(t, content.Content)
	assert.Equal(t, "Hello, world!", *content.Content)
	assert.Empty(t, content.MultipleContent)
}

func TestMessageContent_UnmarshalJSON_Array(t *testing.T) {
	jsonStr := `[{"type":"text","text":"Hello"},{"type":"image_url","image_url":{"url":"https://example.com/image.png"}}]`
	var content MessageContent
	err := json.Unmarshal([]byte(jsonStr), &content)

	require.NoError(t, err)
	assert.Nil(t, content.Content)
	assert.Len(t, content.MultipleContent, 2)
	assert.Equal(t, "text", content.MultipleContent[0].Type)
	assert.Equal(t, "Hello", *content.MultipleContent[0].Text)
	assert.Equal(t, "image_url", content.MultipleContent[1].Type)
	assert.Equal(t, "https://example.com/image.png", content.MultipleContent[1].ImageURL.URL)
}

func TestMessageContent_MarshalJSON_String(t *testing.T) {
	text := "Hello, world!"
	content := MessageContent{Content: &text}
	data, err := json.Marshal(content)

	require.NoError(t, err)
	assert.Equal(t, `"Hello, world!"`, string(data))
}

func TestMessageContent_MarshalJSON_SingleTextPart(t *testing.T) {
	// Single text part should be serialized as string
	text := "Hello"
	content := MessageContent{
		MultipleContent: []MessageContentPart{
			{Type: "text", Text: &text},
		},
	}
	data, err := json.Marshal(content)

	require.NoError(t, err)
	assert.Equal(t, `"Hello"`, string(data))
}

func TestMessageContent_MarshalJSON_MultipleParts(t *testing.T) {
	text := "Hello"
	content := MessageContent{
		MultipleContent: []MessageContentPart{
			{Type: "text", Text: &text},
			{Type: "image_url", ImageURL: &ImageURL{URL: "https://example.com/image.png"}},
		},
	}
	data, err := json.Marshal(content)

	require.NoError(t, err)
	var result []map[string]interface{}
	err = json.Unmarshal(data, &result)
	require.NoError(t, err)
	assert.Len(t, result, 2)
}

func TestMessageContent_GetText(t *testing.T) {
	// Test with string content
	text := "Hello"
	content := MessageContent{Content: &text}
	assert.Equal(t, "Hello", content.GetText())

	// Test with multiple parts
	text1 := "Hello "
	text2 := "World"
	content2 := MessageContent{
		MultipleContent: []MessageContentPart{
			{Type: "text", Text: &text1},
			{Type: "text", Text: &text2},
		},
	}
	assert.Equal(t, "Hello World", content2.GetText())
}

// Test Stop JSON serialization/deserialization

func TestStop_UnmarshalJSON_String(t *testing.T) {
	jsonStr := `"stop"`
	var stop Stop
	err := json.Unmarshal([]byte(jsonStr), &stop)

	require.NoError(t, err)
	assert.NotNil(t, stop.Stop)
	assert.Equal(t, "stop", *stop.Stop)
	assert.Empty(t, stop.MultipleStop)
}

func TestStop_UnmarshalJSON_Array(t *testing.T) {
	jsonStr := `["stop1", "stop2"]`
	var stop Stop
	err := json.Unmarshal([]byte(jsonStr), &stop)

	require.NoError(t, err)
	assert.Nil(t, stop.Stop)
	assert.Equal(t, []string{"stop1", "stop2"}, stop.MultipleStop)
}

func TestStop_MarshalJSON_String(t *testing.T) {
	stopStr := "stop"
	stop := Stop{Stop: &stopStr}
	data, err := json.Marshal(stop)

	require.NoError(t, err)
	assert.Equal(t, `"stop"`, string(data))
}

func TestStop_MarshalJSON_Array(t *testing.T) {
	stop := Stop{MultipleStop: []string{"stop1", "stop2"}}
	data, err := json.Marshal(stop)

	require.NoError(t, err)
	assert.Equal(t, `["stop1","stop2"]`, string(data))
}

func TestMessageContent_UnmarshalJSON_Null(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":null}`), &msg))
	assert.Nil(t, msg.Content.Content)
	assert.Empty(t, msg.Content.MultipleContent)
}

func TestChatCompletionRequest_Decode(t *testing.T) {
	body := `{"model":"doubao-pro-chat","stream":true,"user":" alice ","messages":[
		{"role":"system","content":"be brief"},
		{"role":"user","content":[{"type":"text","text":"你好"},{"type":"image_url","image_url":{"url":"https://x/a.png"}}]}
	]}`
	var req ChatCompletionRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	require.NoError(t, req.Validate())
	assert.True(t, req.IsStreaming())
	assert.Equal(t, "alice", req.UserID())
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "你好", req.Messages[1].Content.GetText())
}

func TestChatCompletionRequest_Validate(t *testing.T) {
	req := ChatCompletionRequest{Model: "doubao-pro-chat"}
	assert.Error(t, req.Validate())
	assert.False(t, req.IsStreaming())
	assert.Equal(t, "", req.UserID())
}

func TestImageGenerationRequest_Validate(t *testing.T) {
	assert.Error(t, (&ImageGenerationRequest{Prompt: "   "}).Validate())

	streamTrue := true
	req := ImageGenerationRequest{Prompt: "a cat", Stream: &streamTrue, User: ptrString("bob")}
	assert.NoError(t, req.Validate())
	assert.True(t, req.IsStreaming())
	assert.Equal(t, "bob", req.UserID())
}

func TestChatCompletion_ChunkShape(t *testing.T) {
	finishReason := FinishReasonStop
	chunk := ChatCompletion{
		ID:      "chatcmpl-123",
		Object:  ObjectChatCompletionChunk,
		Created: 1677652288,
		Model:   "doubao-pro-chat",
		Choices: []Choice{
			{
				Index:        0,
				Delta:        &Message{Content: MessageContent{Content: ptrString("")}},
				FinishReason: &finishReason,
			},
		},
	}

	data, err := json.Marshal(chunk)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id":"chatcmpl-123","object":"chat.completion.chunk","created":1677652288,"model":"doubao-pro-chat",
		"choices":[{"index":0,"delta":{"content":""},"finish_reason":"stop"}]
	}`, string(data))
}

func TestImageGenerationChunk_Shape(t *testing.T) {
	progress := 40
	data, err := json.Marshal(ImageGenerationChunk{
		ID:       "img-1",
		Object:   ObjectImageChunk,
		Created:  1,
		Model:    "Seedream 4.0",
		Status:   ImageStatusGenerating,
		Progress: &progress,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"img-1","object":"image.generation.chunk","created":1,"model":"Seedream 4.0","status":"generating","progress":40}`, string(data))
}

func TestResponseError_Error(t *testing.T) {
	err := ResponseError{
		StatusCode: 400,
		Detail: ErrorDetail{
			Code:    "invalid_request",
			Message: "Invalid request",
		},
	}
	assert.Contains(t, err.Error(), "Invalid request")
	assert.Contains(t, err.Error(), "invalid_request")
	assert.Equal(t, "request failed", ResponseError{}.Error())
}

func ptrString(s string) *string {
	return &s
}
