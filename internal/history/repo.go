package history

import (
	"context"
	"strings"

	"gorm.io/gorm"
)

// Repo is the only component that touches the store.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// CreateSession inserts a new session and returns it. providerAddress is
// accepted for API compatibility but stored empty: sessions are shared
// across providers.
func (r *Repo) CreateSession(ctx context.Context, providerAddress, walletAddress, title string) (*Session, error) {
	_ = providerAddress

	sid, err := NewSessionID()
	if err != nil {
		return nil, err
	}

	s := &Session{
		SessionID:       sid,
		WalletAddress:   walletAddress,
		ProviderAddress: "",
		Title:           title,
		UpdatedAt:       nowMillis(),
	}
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Repo) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns a wallet's sessions, most recently updated first.
func (r *Repo) ListSessions(ctx context.Context, walletAddress string) ([]Session, error) {
	var sessions []Session
	if err := r.db.WithContext(ctx).
		Where("wallet_address = ?", walletAddress).
		Order("updated_at DESC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListAllSessions is for single-user/demo contexts with no wallet scoping.
func (r *Repo) ListAllSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if err := r.db.WithContext(ctx).
		Order("updated_at DESC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetMessages returns a session's messages in insertion order. A deleted
// or unknown session yields an empty slice, not an error.
func (r *Repo) GetMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListRecentMessagesDesc returns the most recent messages in DESC id order
// (newest -> oldest), for building a bounded provider context window.
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// SaveMessage appends a message and bumps the parent session's updated_at
// to the message timestamp, so the session re-sorts to the top of the
// list. Fails with gorm.ErrRecordNotFound when the session does not exist.
func (r *Repo) SaveMessage(ctx context.Context, m *Message) error {
	if m.Timestamp == 0 {
		m.Timestamp = nowMillis()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess Session
		if err := tx.Where("session_id = ?", m.SessionID).
			First(&sess).Error; err != nil {
			return err
		}
		if err := tx.Model(&Session{}).
			Where("session_id = ?", m.SessionID).
			Update("updated_at", m.Timestamp).Error; err != nil {
			return err
		}
		return tx.Create(m).Error
	})
}

// DeleteSession removes the session and all of its messages.
func (r *Repo) DeleteSession(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).
			Delete(&Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("session_id = ?", sessionID).Delete(&Session{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// UpdateSessionTitle overwrites the title. It deliberately leaves
// updated_at alone: renaming a chat is not activity for recency sorting.
func (r *Repo) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	if _, err := r.GetSession(ctx, sessionID); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ?", sessionID).
		Update("title", title).Error
}

// UpdateMessageVerification updates only the two verification fields.
// Callers treat failures as best-effort.
func (r *Repo) UpdateMessageVerification(ctx context.Context, messageID uint64, isVerified *bool, isVerifying bool) error {
	return r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", messageID).
		Updates(map[string]any{
			"is_verified":  isVerified,
			"is_verifying": isVerifying,
		}).Error
}

// ClearMessages deletes a session's messages but keeps the session row,
// distinguishing "clear chat" from "delete chat".
func (r *Repo) ClearMessages(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&Message{}).Error
}

// CountUserMessages reports how many user-role messages a session has
// persisted. Title generation keys off this after a save.
func (r *Repo) CountUserMessages(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Message{}).
		Where("session_id = ? AND role = ?", sessionID, RoleUser).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "!", "!!")
	s = strings.ReplaceAll(s, "%", "!%")
	s = strings.ReplaceAll(s, "_", "!_")
	return s
}

// SearchMessages does a case-insensitive substring search over message
// content, scoped to sessions owned by walletAddress (nil = all wallets)
// and optionally narrowed to one provider. Results come back in natural
// storage order with enough context to jump to the owning session.
func (r *Repo) SearchMessages(ctx context.Context, query string, walletAddress, providerAddress *string) ([]Message, error) {
	pattern := "%" + strings.ToLower(escapeLike(query)) + "%"

	q := r.db.WithContext(ctx).Model(&Message{}).
		Select("chat_messages.*").
		Joins("JOIN chat_sessions ON chat_sessions.session_id = chat_messages.session_id").
		Where("LOWER(chat_messages.content) LIKE ? ESCAPE '!'", pattern)

	if walletAddress != nil {
		q = q.Where("chat_sessions.wallet_address = ?", *walletAddress)
	}
	if providerAddress != nil {
		q = q.Where("chat_messages.provider_address = ?", *providerAddress)
	}

	var msgs []Message
	if err := q.Order("chat_messages.id ASC").Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// VerifyJob CRUD

func (r *Repo) CreateVerifyJob(ctx context.Context, job *VerifyJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetVerifyJob(ctx context.Context, id string) (*VerifyJob, error) {
	var j VerifyJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) MarkVerifyJobRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&VerifyJob{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkVerifyJobSucceeded(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&VerifyJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobSucceeded,
			"error":  nil,
		}).Error
}

func (r *Repo) MarkVerifyJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&VerifyJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobFailed,
			"error":  errMsg,
		}).Error
}
