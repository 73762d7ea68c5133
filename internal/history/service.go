package history

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/zhenw77/chat-history/internal/broker"
	"github.com/zhenw77/chat-history/internal/common"
	"gorm.io/gorm"
)

// JobPublisher enqueues verification job ids for the worker.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

// Service is the server-side write path: it owns session bootstrap,
// ownership checks, the provider round-trip and verification enqueue.
// Wallet-scoped CRUD for the HTTP handlers also lives here.
type Service struct {
	repo              *Repo
	registry          *broker.Registry
	publisher         JobPublisher // nil disables verification enqueue
	contextWindowSize int
}

func NewService(repo *Repo, registry *broker.Registry, publisher JobPublisher, contextWindowSize int) *Service {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	return &Service{
		repo:              repo,
		registry:          registry,
		publisher:         publisher,
		contextWindowSize: contextWindowSize,
	}
}

// ValidateSessionOwner hides other wallets' sessions behind a not-found.
func (s *Service) ValidateSessionOwner(ctx context.Context, walletAddress, sessionID string) error {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.WalletAddress != walletAddress {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Service) CreateSession(ctx context.Context, walletAddress, title string) (*Session, error) {
	return s.repo.CreateSession(ctx, "", walletAddress, title)
}

func (s *Service) ListSessions(ctx context.Context, walletAddress string) ([]Session, error) {
	return s.repo.ListSessions(ctx, walletAddress)
}

func (s *Service) GetSessionMessages(ctx context.Context, walletAddress, sessionID string) ([]Message, error) {
	if err := s.ValidateSessionOwner(ctx, walletAddress, sessionID); err != nil {
		return nil, err
	}
	msgs, err := s.repo.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	resetStaleVerifying(msgs)
	return msgs, nil
}

func (s *Service) DeleteSession(ctx context.Context, walletAddress, sessionID string) error {
	if err := s.ValidateSessionOwner(ctx, walletAddress, sessionID); err != nil {
		return err
	}
	return s.repo.DeleteSession(ctx, sessionID)
}

func (s *Service) UpdateSessionTitle(ctx context.Context, walletAddress, sessionID, title string) error {
	if err := s.ValidateSessionOwner(ctx, walletAddress, sessionID); err != nil {
		return err
	}
	return s.repo.UpdateSessionTitle(ctx, sessionID, title)
}

func (s *Service) ClearMessages(ctx context.Context, walletAddress, sessionID string) error {
	if err := s.ValidateSessionOwner(ctx, walletAddress, sessionID); err != nil {
		return err
	}
	return s.repo.ClearMessages(ctx, sessionID)
}

func (s *Service) SearchMessages(ctx context.Context, walletAddress, query, providerAddress string) ([]Message, error) {
	var providerFilter *string
	if providerAddress != "" {
		providerFilter = &providerAddress
	}
	return s.repo.SearchMessages(ctx, query, &walletAddress, providerFilter)
}

// ensureSession resolves sessionID for the wallet, creating a fresh
// session when the caller passes none.
func (s *Service) ensureSession(ctx context.Context, walletAddress, sessionID string) (*Session, error) {
	if sessionID == "" {
		return s.repo.CreateSession(ctx, "", walletAddress, "")
	}
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.WalletAddress != walletAddress {
		return nil, gorm.ErrRecordNotFound
	}
	return sess, nil
}

// saveUserMessage persists the user turn and runs the one-time title
// derivation when it turns out to be the session's first user message.
func (s *Service) saveUserMessage(ctx context.Context, sess *Session, providerAddress, content string) (*Message, error) {
	userMsg := &Message{
		SessionID:       sess.SessionID,
		Role:            RoleUser,
		Content:         content,
		ProviderAddress: providerAddress,
	}
	if err := s.repo.SaveMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	n, err := s.repo.CountUserMessages(ctx, sess.SessionID)
	if err == nil && n == 1 {
		_ = s.repo.UpdateSessionTitle(ctx, sess.SessionID, DeriveTitle(content))
	}
	return userMsg, nil
}

// contextWindow builds the provider input: the most recent messages,
// oldest first.
func (s *Service) contextWindow(ctx context.Context, sessionID string) ([]broker.Message, error) {
	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, sessionID, s.contextWindowSize)
	if err != nil {
		return nil, err
	}
	providerMsgs := make([]broker.Message, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		providerMsgs = append(providerMsgs, broker.Message{Role: m.Role, Content: m.Content})
	}
	return providerMsgs, nil
}

// enqueueVerification records a verify job and hands it to the queue.
// Best-effort: on any failure the message's is_verifying flag is lowered
// again so no reader waits on a verification that will never run.
func (s *Service) enqueueVerification(ctx context.Context, msg *Message) {
	if s.publisher == nil {
		return
	}

	jobID, err := common.NewULID()
	if err != nil {
		log.Printf("verify enqueue: ulid failed msg=%d err=%v", msg.ID, err)
		_ = s.repo.UpdateMessageVerification(ctx, msg.ID, nil, false)
		return
	}
	job := &VerifyJob{
		ID:              jobID,
		MessageID:       msg.ID,
		SessionID:       msg.SessionID,
		ProviderAddress: msg.ProviderAddress,
		Status:          JobQueued,
	}
	if err := s.repo.CreateVerifyJob(ctx, job); err != nil {
		log.Printf("verify enqueue: create job failed msg=%d err=%v", msg.ID, err)
		_ = s.repo.UpdateMessageVerification(ctx, msg.ID, nil, false)
		return
	}
	if err := s.publisher.PublishJob(ctx, jobID); err != nil {
		log.Printf("verify enqueue: publish failed job=%s err=%v", jobID, err)
		_ = s.repo.MarkVerifyJobFailed(ctx, jobID, err.Error())
		_ = s.repo.UpdateMessageVerification(ctx, msg.ID, nil, false)
	}
}

// SendMessage persists the user turn, asks the provider for a reply with
// a bounded context window, persists the assistant turn and queues its
// verification. An empty sessionID starts a new session; its id comes back
// to the caller.
func (s *Service) SendMessage(ctx context.Context, walletAddress, sessionID, providerAddress, content string) (sessID string, reply string, assistantMsgID uint64, err error) {
	sess, err := s.ensureSession(ctx, walletAddress, sessionID)
	if err != nil {
		return "", "", 0, err
	}

	provider, err := s.registry.Get(ctx, providerAddress, "")
	if err != nil {
		return "", "", 0, err
	}

	if _, err := s.saveUserMessage(ctx, sess, providerAddress, content); err != nil {
		return "", "", 0, err
	}

	providerMsgs, err := s.contextWindow(ctx, sess.SessionID)
	if err != nil {
		return "", "", 0, err
	}

	reply, err = provider.Chat(ctx, providerMsgs)
	if err != nil {
		return "", "", 0, err
	}

	assistantMsg := &Message{
		SessionID:       sess.SessionID,
		Role:            RoleAssistant,
		Content:         reply,
		ProviderAddress: providerAddress,
		IsVerifying:     s.publisher != nil,
	}
	if err := s.repo.SaveMessage(ctx, assistantMsg); err != nil {
		return "", "", 0, err
	}

	s.enqueueVerification(ctx, assistantMsg)

	return sess.SessionID, reply, assistantMsg.ID, nil
}

// SendMessageStream mirrors SendMessage but forwards assistant chunks as
// they arrive. The assistant turn is persisted once streaming completes.
func (s *Service) SendMessageStream(ctx context.Context, walletAddress, sessionID, providerAddress, content string) (sessIDc <-chan string, chunks <-chan string, done <-chan struct{}, assistantMsgID <-chan uint64, errs <-chan error) {
	outSessID := make(chan string, 1)
	outChunks := make(chan string, 16)
	outDone := make(chan struct{})
	outMsgID := make(chan uint64, 1)
	outErrs := make(chan error, 1)

	go func() {
		defer close(outSessID)
		defer close(outChunks)
		defer close(outDone)
		defer close(outMsgID)
		defer close(outErrs)

		sess, err := s.ensureSession(ctx, walletAddress, sessionID)
		if err != nil {
			outErrs <- err
			return
		}
		outSessID <- sess.SessionID

		provider, err := s.registry.Get(ctx, providerAddress, "")
		if err != nil {
			outErrs <- err
			return
		}
		sp, ok := provider.(broker.StreamProvider)
		if !ok {
			outErrs <- errors.New("provider does not support streaming")
			return
		}

		if _, err := s.saveUserMessage(ctx, sess, providerAddress, content); err != nil {
			outErrs <- err
			return
		}

		providerMsgs, err := s.contextWindow(ctx, sess.SessionID)
		if err != nil {
			outErrs <- err
			return
		}

		pChunks, pErrs := sp.StreamChat(ctx, providerMsgs)

		var b strings.Builder
		for c := range pChunks {
			b.WriteString(c)
			outChunks <- c
		}

		select {
		case err := <-pErrs:
			if err != nil {
				outErrs <- err
				return
			}
		default:
			// no error sent
		}

		assistantMsg := &Message{
			SessionID:       sess.SessionID,
			Role:            RoleAssistant,
			Content:         b.String(),
			ProviderAddress: providerAddress,
			IsVerifying:     s.publisher != nil,
		}
		if err := s.repo.SaveMessage(ctx, assistantMsg); err != nil {
			outErrs <- err
			return
		}

		s.enqueueVerification(ctx, assistantMsg)

		outMsgID <- assistantMsg.ID
	}()

	return outSessID, outChunks, outDone, outMsgID, outErrs
}
