package transformer

import (
	"net/url"
	"path"
	"strings"
	"time"

	"doubao-api/internal/doubao"
	app_errors "doubao-api/internal/errors"
	"doubao-api/internal/transformer/model"
)

var imageFormats = map[string]bool{
	"png":  true,
	"jpeg": true,
	"jpg":  true,
	"webp": true,
	"avif": true,
}

// ImageFormat infers the image format from the URL suffix, defaulting to png.
func ImageFormat(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if imageFormats[ext] {
		return ext
	}
	return "png"
}

// ImageAdapter turns image flow events into image.generation chunks.
type ImageAdapter struct {
	id             string
	model          string
	onConversation func(string)
	now            func() time.Time

	conversationSeen bool
	seen             map[string]bool
	images           []model.ImageData
}

// NewImageAdapter creates an ImageAdapter.
func NewImageAdapter(requestID, modelName string, onConversation func(string)) *ImageAdapter {
	return &ImageAdapter{
		id:             requestID,
		model:          modelName,
		onConversation: onConversation,
		now:            time.Now,
		seen:           make(map[string]bool),
	}
}

// Handle implements Adapter.
func (a *ImageAdapter) Handle(ev doubao.Event) []any {
	switch ev.Kind {
	case doubao.EventConversationAssigned:
		if !a.conversationSeen {
			a.conversationSeen = true
			if a.onConversation != nil {
				a.onConversation(ev.ConversationID)
			}
		}
		return nil
	case doubao.EventProgressUpdate:
		progress := ev.Progress
		chunk := a.chunk(model.ImageStatusGenerating, nil)
		chunk.Progress = &progress
		return []any{chunk}
	case doubao.EventImageResult:
		var fresh []model.ImageData
		for _, u := range ev.URLs {
			if a.seen[u] {
				continue
			}
			a.seen[u] = true
			img := model.ImageData{URL: u, Format: ImageFormat(u)}
			a.images = append(a.images, img)
			fresh = append(fresh, img)
		}
		if len(fresh) == 0 {
			return nil
		}
		chunk := a.chunk(model.ImageStatusPartial, nil)
		chunk.Data = fresh
		return []any{chunk}
	default:
		return nil
	}
}

// Finish implements Adapter. A stream without any image is an error.
func (a *ImageAdapter) Finish() ([]any, error) {
	if len(a.images) == 0 {
		return nil, app_errors.ErrEmptyResult
	}
	stop := model.FinishReasonStop
	chunk := a.chunk(model.ImageStatusCompleted, &stop)
	chunk.Data = append([]model.ImageData(nil), a.images...)
	return []any{chunk}, nil
}

// Result builds the non-streaming response.
func (a *ImageAdapter) Result() (*model.ImageGenerationResponse, error) {
	if len(a.images) == 0 {
		return nil, app_errors.ErrEmptyResult
	}
	return &model.ImageGenerationResponse{
		ID:      a.id,
		Object:  model.ObjectImageResult,
		Created: a.now().Unix(),
		Model:   a.model,
		Data:    append([]model.ImageData(nil), a.images...),
	}, nil
}

func (a *ImageAdapter) chunk(status string, finishReason *string) *model.ImageGenerationChunk {
	return &model.ImageGenerationChunk{
		ID:           a.id,
		Object:       model.ObjectImageChunk,
		Created:      a.now().Unix(),
		Model:        a.model,
		Status:       status,
		FinishReason: finishReason,
	}
}

// ImageErrorChunk is the in-band error event of a failed image stream.
func ImageErrorChunk(requestID, message string) *model.StreamError {
	return &model.StreamError{
		ID:      "error-" + requestID,
		Object:  model.ObjectImageError,
		Message: message,
	}
}
