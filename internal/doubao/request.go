package doubao

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"doubao-api/internal/models"

	"github.com/google/uuid"
)

// CompletionPath is the upstream completion endpoint path.
const CompletionPath = "/samantha/chat/completion"

// Bot ids of the supported chat models.
const (
	ModelPro  = "doubao-pro-chat"
	ModelLite = "doubao-lite-chat"

	botPro  = "7338286299411103781"
	botLite = "7338286299411103782"
)

var botIDs = map[string]string{
	ModelPro:  botPro,
	ModelLite: botLite,
}

// ChatModels lists the chat models exposed by the service.
var ChatModels = []string{ModelPro, ModelLite}

// BotID maps a model name to the upstream bot id, defaulting to the pro bot.
func BotID(model string) string {
	if id, ok := botIDs[model]; ok {
		return id
	}
	return botPro
}

// Endpoint returns the completion URL for base.
func Endpoint(base string) string {
	return strings.TrimSuffix(base, "/") + CompletionPath
}

type queryParam struct {
	key, value string
}

// BuildQuery builds the ordered query string for an account. Empty values are
// dropped. The fp parameter is sent by the chat flow only.
func BuildQuery(acc *models.Account, msToken, flow string) string {
	params := []queryParam{
		{"aid", "4978"},
		{"device_platform", "web"},
		{"language", "zh"},
		{"pc_version", ""},
		{"pkg_type", "release"},
		{"real_aid", "4978"},
		{"region", "CN"},
		{"samantha_web", "1"},
		{"sys_region", "CN"},
		{"use-olympus-account", "1"},
		{"version_code", "180"},
		{"device_id", acc.DeviceID},
	}
	if flow == models.FlowChat {
		params = append(params, queryParam{"fp", acc.Fp})
	}
	params = append(params,
		queryParam{"tea_uuid", acc.TeaUUID},
		queryParam{"web_id", acc.WebID},
		queryParam{"web_tab_id", uuid.NewString()},
		queryParam{"msToken", msToken},
	)

	var b strings.Builder
	for _, p := range params {
		if p.value == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}

// SetBrowserHeaders sets the headers of a logged-in browser tab.
func SetBrowserHeaders(h http.Header, cookie, userAgent string) {
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	h.Set("Content-Type", "application/json")
	h.Set("Cookie", cookie)
	h.Set("Origin", "https://www.doubao.com")
	h.Set("Referer", "https://www.doubao.com/chat/")
	h.Set("User-Agent", userAgent)
	h.Set("agw-js-conv", "str, str")
	h.Set("sec-ch-ua", `"Google Chrome";v="141", "Not?A_Brand";v="8", "Chromium";v="141"`)
	h.Set("sec-ch-ua-mobile", "?0")
	h.Set("sec-ch-ua-platform", `"Windows"`)
	h.Set("sec-fetch-dest", "empty")
	h.Set("sec-fetch-mode", "cors")
	h.Set("sec-fetch-site", "same-origin")
}

// Message is one conversation turn sent upstream.
type Message struct {
	Role string
	Text string
}

type payloadMessage struct {
	Content     string `json:"content"`
	ContentType int    `json:"content_type"`
	Attachments []any  `json:"attachments"`
	References  []any  `json:"references"`
	Role        string `json:"role"`
}

type completionOption struct {
	IsRegen              bool   `json:"is_regen"`
	WithSuggest          bool   `json:"with_suggest"`
	NeedCreateConv       bool   `json:"need_create_conversation"`
	LaunchStage          int    `json:"launch_stage"`
	IsReplace            bool   `json:"is_replace"`
	IsDelete             bool   `json:"is_delete"`
	MessageFrom          int    `json:"message_from"`
	ActionBarSkillID     int    `json:"action_bar_skill_id"`
	UseDeepThink         bool   `json:"use_deep_think"`
	UseAutoCot           bool   `json:"use_auto_cot"`
	ResendForRegen       bool   `json:"resend_for_regen"`
	EnableCommerceCredit bool   `json:"enable_commerce_credit"`
	EventID              string `json:"event_id"`
}

type evaluateOption struct {
	WebABParams string `json:"web_ab_params"`
}

type completionPayload struct {
	Messages            []payloadMessage `json:"messages"`
	CompletionOption    completionOption `json:"completion_option"`
	EvaluateOption      evaluateOption   `json:"evaluate_option"`
	ConversationID      string           `json:"conversation_id"`
	LocalConversationID string           `json:"local_conversation_id"`
	LocalMessageID      string           `json:"local_message_id"`
	BotID               string           `json:"bot_id,omitempty"`
}

func newPayload(conversationID string, messages []payloadMessage) completionPayload {
	if conversationID == "" {
		conversationID = models.ConversationPending
	}
	return completionPayload{
		Messages: messages,
		CompletionOption: completionOption{
			WithSuggest:    true,
			NeedCreateConv: conversationID == models.ConversationPending,
			LaunchStage:    1,
			UseAutoCot:     true,
			EventID:        "0",
		},
		ConversationID:      conversationID,
		LocalConversationID: "local_" + uuid.NewString(),
		LocalMessageID:      uuid.NewString(),
	}
}

func textMessage(role, text string, contentType int) (payloadMessage, error) {
	content, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	if err != nil {
		return payloadMessage{}, err
	}
	return payloadMessage{
		Content:     string(content),
		ContentType: contentType,
		Attachments: []any{},
		References:  []any{},
		Role:        role,
	}, nil
}

// BuildChatBody serializes a chat completion request for the conversation.
func BuildChatBody(conversationID, model string, messages []Message) ([]byte, error) {
	out := make([]payloadMessage, 0, len(messages))
	for _, m := range messages {
		pm, err := textMessage(m.Role, m.Text, ContentTypeText)
		if err != nil {
			return nil, err
		}
		out = append(out, pm)
	}

	payload := newPayload(conversationID, out)
	payload.BotID = BotID(model)
	return json.Marshal(payload)
}

// BuildImageBody serializes an image generation request for the conversation.
func BuildImageBody(conversationID, prompt string) ([]byte, error) {
	pm, err := textMessage("user", prompt, ContentTypeImageInput)
	if err != nil {
		return nil, err
	}
	return json.Marshal(newPayload(conversationID, []payloadMessage{pm}))
}
