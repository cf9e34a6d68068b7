package transformer

import (
	"strings"
	"time"

	"doubao-api/internal/doubao"
	"doubao-api/internal/transformer/model"
)

// Fallback usage reported when the upstream produced no text.
const (
	fallbackPromptTokens     = 10
	fallbackCompletionTokens = 20
)

// ChatAdapter turns chat events into chat.completion chunks and accumulates the
// full reply for non-streaming calls.
type ChatAdapter struct {
	id             string
	model          string
	prompt         string
	fallback       string
	onConversation func(string)
	now            func() time.Time

	conversationSeen bool
	roleSent         bool
	text             strings.Builder
}

// NewChatAdapter creates a ChatAdapter. onConversation is called once with the
// first conversation id the upstream assigns; it may be nil.
func NewChatAdapter(requestID, modelName, prompt, fallback string, onConversation func(string)) *ChatAdapter {
	return &ChatAdapter{
		id:             requestID,
		model:          modelName,
		prompt:         prompt,
		fallback:       fallback,
		onConversation: onConversation,
		now:            time.Now,
	}
}

// Handle implements Adapter.
func (a *ChatAdapter) Handle(ev doubao.Event) []any {
	switch ev.Kind {
	case doubao.EventConversationAssigned:
		if !a.conversationSeen {
			a.conversationSeen = true
			if a.onConversation != nil {
				a.onConversation(ev.ConversationID)
			}
		}
		return nil
	case doubao.EventMessageDelta:
		if ev.Text == "" {
			return nil
		}
		a.text.WriteString(ev.Text)
		chunk := a.chunk(ev.Text, nil)
		if !a.roleSent {
			a.roleSent = true
			chunk.Choices[0].Delta.Role = "assistant"
		}
		return []any{chunk}
	default:
		return nil
	}
}

// Finish implements Adapter.
func (a *ChatAdapter) Finish() ([]any, error) {
	stop := model.FinishReasonStop
	return []any{a.chunk("", &stop)}, nil
}

// Text returns the reply accumulated so far.
func (a *ChatAdapter) Text() string {
	return a.text.String()
}

// Completion builds the non-streaming response. An empty reply is replaced by the fallback text.
func (a *ChatAdapter) Completion() *model.ChatCompletion {
	text := a.text.String()
	usage := &model.Usage{}
	if text == "" {
		text = a.fallback
		usage.PromptTokens = fallbackPromptTokens
		usage.CompletionTokens = fallbackCompletionTokens
	} else {
		usage.PromptTokens = EstimateTokens(a.prompt)
		usage.CompletionTokens = EstimateTokens(text)
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	stop := model.FinishReasonStop
	return &model.ChatCompletion{
		ID:      a.id,
		Object:  model.ObjectChatCompletion,
		Created: a.now().Unix(),
		Model:   a.model,
		Choices: []model.Choice{{
			Index:        0,
			Message:      &model.Message{Role: "assistant", Content: model.MessageContent{Content: &text}},
			FinishReason: &stop,
		}},
		Usage: usage,
	}
}

// UsedFallback reports whether Completion substitutes the fallback reply.
func (a *ChatAdapter) UsedFallback() bool {
	return a.text.Len() == 0
}

func (a *ChatAdapter) chunk(content string, finishReason *string) *model.ChatCompletion {
	return &model.ChatCompletion{
		ID:      a.id,
		Object:  model.ObjectChatCompletionChunk,
		Created: a.now().Unix(),
		Model:   a.model,
		Choices: []model.Choice{{
			Index:        0,
			Delta:        &model.Message{Content: model.MessageContent{Content: &content}},
			FinishReason: finishReason,
		}},
	}
}

// ChatErrorChunk is the in-band error event of a failed chat stream.
func ChatErrorChunk(requestID, modelName, message string) *model.ChatCompletion {
	reason := model.FinishReasonError
	return &model.ChatCompletion{
		ID:      "error-" + requestID,
		Object:  model.ObjectChatCompletionChunk,
		Created: time.Now().Unix(),
		Model:   modelName,
		Choices: []model.Choice{{
			Index:        0,
			Delta:        &model.Message{Content: model.MessageContent{Content: &message}},
			FinishReason: &reason,
		}},
	}
}
