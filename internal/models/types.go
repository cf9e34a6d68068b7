package models

import (
	"crypto/md5"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Account is one configured credential set impersonating a browser session.
type Account struct {
	Cookie   string `json:"cookie"`
	DeviceID string `json:"device_id"`
	Fp       string `json:"fp"`
	TeaUUID  string `json:"tea_uuid"`
	WebID    string `json:"web_id"`
	MsToken  string `json:"ms_token"`
}

// Key returns the stable identity of the account: the device id when configured,
// otherwise a name-based (version 3) UUID of the cookie.
func (a Account) Key() string {
	if id := strings.TrimSpace(a.DeviceID); id != "" {
		return id
	}
	h := md5.Sum([]byte(a.Cookie))
	h[6] = (h[6] & 0x0f) | 0x30
	h[8] = (h[8] & 0x3f) | 0x80
	return uuid.UUID(h).String()
}

// ConversationPending marks a session that has no upstream conversation yet.
const ConversationPending = "0"

// Flow names
const (
	FlowChat  = "chat"
	FlowImage = "image"
)

// Request log outcomes
const (
	OutcomeSuccess = "success"
	OutcomeAborted = "aborted"
	OutcomeFailed  = "failed"
)

// RequestLog records one routed call.
type RequestLog struct {
	ID             uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID      string            `gorm:"type:varchar(64);index" json:"request_id"`
	Timestamp      time.Time         `gorm:"not null;index" json:"timestamp"`
	Flow           string            `gorm:"type:varchar(16);index" json:"flow"`
	SessionKey     string            `gorm:"type:varchar(128);index" json:"session_key"`
	AccountKey     string            `gorm:"type:varchar(64);index" json:"account_key"`
	ConversationID string            `gorm:"type:varchar(64)" json:"conversation_id"`
	Model          string            `gorm:"type:varchar(64)" json:"model"`
	IsStream       bool              `json:"is_stream"`
	Outcome        string            `gorm:"type:varchar(16)" json:"outcome"`
	UpstreamStatus int               `gorm:"-:migration" json:"upstream_status,omitempty"`
	Duration       int64             `json:"duration_ms"`
	ErrorMessage   string            `gorm:"type:text" json:"error_message"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
}
