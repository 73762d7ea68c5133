package history

import (
	"context"
	"sync"
)

// MessageUpdate is a partial in-place edit of one message. Nil fields are
// left untouched. SetVerified distinguishes "set is_verified to the given
// tri-state value" from "don't touch it".
type MessageUpdate struct {
	Content     *string
	SetVerified bool
	IsVerified  *bool
	IsVerifying *bool
}

// Controller owns the "current session" of one conversation view: the
// in-memory message projection, the wallet's session list, and transient
// loading/error flags. All mutations go through the Repo; the mutex keeps
// the projection consistent when operations overlap.
type Controller struct {
	mu   sync.Mutex
	repo *Repo

	walletAddress   string
	providerAddress string
	autoSave        bool

	currentSessionID string
	messages         []Message
	sessions         []Session
	loading          bool
	lastErr          string
}

// NewController builds a controller scoped to one wallet/provider context.
// With autoSave disabled, AddMessage keeps messages in memory only.
func NewController(repo *Repo, walletAddress, providerAddress string, autoSave bool) *Controller {
	return &Controller{
		repo:            repo,
		walletAddress:   walletAddress,
		providerAddress: providerAddress,
		autoSave:        autoSave,
	}
}

func (c *Controller) CurrentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSessionID
}

func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

func (c *Controller) Sessions() []Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Session(nil), c.sessions...)
}

func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Err returns the last operation error, or "" after a successful one.
func (c *Controller) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// RefreshSessions reloads the wallet's session list. Called on startup and
// whenever the wallet context changes.
func (c *Controller) RefreshSessions(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshSessionsLocked(ctx)
}

func (c *Controller) refreshSessionsLocked(ctx context.Context) error {
	c.loading = true
	sessions, err := c.repo.ListSessions(ctx, c.walletAddress)
	c.loading = false
	if err != nil {
		c.lastErr = err.Error()
		return err
	}
	c.sessions = sessions
	c.lastErr = ""
	return nil
}

// CreateNewSession starts a fresh session, makes it current and empties
// the message projection.
func (c *Controller) CreateNewSession(ctx context.Context, title string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.repo.CreateSession(ctx, c.providerAddress, c.walletAddress, title)
	if err != nil {
		c.lastErr = err.Error()
		return "", err
	}
	c.currentSessionID = s.SessionID
	c.messages = nil
	if err := c.refreshSessionsLocked(ctx); err != nil {
		return s.SessionID, err
	}
	return s.SessionID, nil
}

// LoadSession makes sessionID current and replaces the message projection
// with its persisted history. Restored is_verifying flags are stale after
// a reload and are presented as false.
func (c *Controller) LoadSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loading = true
	msgs, err := c.repo.GetMessages(ctx, sessionID)
	c.loading = false
	if err != nil {
		c.lastErr = err.Error()
		return err
	}
	resetStaleVerifying(msgs)
	c.currentSessionID = sessionID
	c.messages = msgs
	c.lastErr = ""
	return nil
}

// DeleteSession removes a session and its messages. When the deleted
// session was current, the controller drops back to the no-session state.
func (c *Controller) DeleteSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.repo.DeleteSession(ctx, sessionID); err != nil {
		c.lastErr = err.Error()
		return err
	}
	if c.currentSessionID == sessionID {
		c.currentSessionID = ""
		c.messages = nil
	}
	return c.refreshSessionsLocked(ctx)
}

func (c *Controller) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.repo.UpdateSessionTitle(ctx, sessionID, title); err != nil {
		c.lastErr = err.Error()
		return err
	}
	return c.refreshSessionsLocked(ctx)
}

// AddMessage is the central write path. With no current session one is
// created first. The message timestamp is stamped here. Persistence
// happens only when autoSave is on; the first durably saved user message
// triggers the one-time title derivation. Returns the (possibly new)
// session id, or "" on failure.
func (c *Controller) AddMessage(ctx context.Context, m Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m.ID = 0
	m.Timestamp = nowMillis()
	if m.ProviderAddress == "" {
		m.ProviderAddress = c.providerAddress
	}

	if c.currentSessionID == "" {
		s, err := c.repo.CreateSession(ctx, c.providerAddress, c.walletAddress, "")
		if err != nil {
			c.lastErr = err.Error()
			return "", err
		}
		c.currentSessionID = s.SessionID
		c.messages = nil
	}
	m.SessionID = c.currentSessionID

	if c.autoSave {
		if err := c.repo.SaveMessage(ctx, &m); err != nil {
			c.lastErr = err.Error()
			return "", err
		}

		// The "first user message" check runs after the save, so two rapid
		// sends cannot both observe an empty history and both set a title.
		if m.Role == RoleUser {
			n, err := c.repo.CountUserMessages(ctx, m.SessionID)
			if err == nil && n == 1 {
				_ = c.repo.UpdateSessionTitle(ctx, m.SessionID, DeriveTitle(m.Content))
			}
		}
		c.messages = append(c.messages, m)
		if err := c.refreshSessionsLocked(ctx); err != nil {
			return m.SessionID, err
		}
		return m.SessionID, nil
	}

	c.messages = append(c.messages, m)
	c.lastErr = ""
	return m.SessionID, nil
}

// UpdateMessage edits messages[index] in place. When the edit touches
// verification flags of a persisted message, the flags are written back
// asynchronously; that write is best-effort and its failure is discarded.
func (c *Controller) UpdateMessage(index int, update MessageUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.messages) {
		return
	}
	msg := &c.messages[index]

	if update.Content != nil {
		msg.Content = *update.Content
	}
	touchedVerification := false
	if update.SetVerified {
		msg.IsVerified = update.IsVerified
		touchedVerification = true
	}
	if update.IsVerifying != nil {
		msg.IsVerifying = *update.IsVerifying
		touchedVerification = true
	}

	if touchedVerification && msg.ID != 0 {
		id, verified, verifying := msg.ID, msg.IsVerified, msg.IsVerifying
		go func() {
			_ = c.repo.UpdateMessageVerification(context.Background(), id, verified, verifying)
		}()
	}
}

// ClearCurrentSession empties the current conversation. The session row
// survives; only its messages go. With no current session there is
// nothing persisted to touch.
func (c *Controller) ClearCurrentSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentSessionID != "" {
		if err := c.repo.ClearMessages(ctx, c.currentSessionID); err != nil {
			c.lastErr = err.Error()
			return err
		}
	}
	c.messages = nil
	c.lastErr = ""
	return nil
}

// SearchMessages is a pure read scoped to the controller's wallet (and
// provider, when it has one). It never mutates controller state.
func (c *Controller) SearchMessages(ctx context.Context, query string) ([]Message, error) {
	c.mu.Lock()
	wallet := c.walletAddress
	provider := c.providerAddress
	c.mu.Unlock()

	var providerFilter *string
	if provider != "" {
		providerFilter = &provider
	}
	return c.repo.SearchMessages(ctx, query, &wallet, providerFilter)
}
