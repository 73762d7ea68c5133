package history

import (
	"time"

	"github.com/zhenw77/chat-history/internal/common"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session is one conversation thread owned by a wallet. WalletAddress may
// be the empty string ("no wallet"), which is a valid partition of its own.
// ProviderAddress is kept for record-shape compatibility but always written
// empty: sessions are shared across providers.
type Session struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID       string `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	WalletAddress   string `gorm:"type:varchar(42);index;not null" json:"wallet_address"`
	ProviderAddress string `gorm:"type:varchar(42);not null;default:''" json:"provider_address"`
	Title           string `gorm:"type:varchar(255)" json:"title,omitempty"`
	// Unix ms of the last message append or title auto-set. Title edits do
	// not count as activity, so gorm's auto-tracking is disabled.
	UpdatedAt int64 `gorm:"index;not null;autoUpdateTime:false" json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }

// Message is one turn in a session. IsVerified is tri-state: nil means
// verification was never attempted.
type Message struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID       string `gorm:"type:varchar(26);not null;index" json:"session_id"`
	Role            string `gorm:"type:varchar(16);not null" json:"role"`
	Content         string `gorm:"type:text;not null" json:"content"`
	Timestamp       int64  `gorm:"not null;index" json:"timestamp"`
	ProviderAddress string `gorm:"type:varchar(42)" json:"provider_address,omitempty"`
	IsVerified      *bool  `json:"is_verified,omitempty"`
	IsVerifying     bool   `json:"is_verifying,omitempty"`
}

func (Message) TableName() string { return "chat_messages" }

func NewSessionID() (string, error) {
	return common.NewULID()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// resetStaleVerifying clears is_verifying on restored messages: after a
// reload nothing is actually verifying, so a persisted true is stale.
// Only the in-memory copies are touched.
func resetStaleVerifying(msgs []Message) {
	for i := range msgs {
		msgs[i].IsVerifying = false
	}
}
