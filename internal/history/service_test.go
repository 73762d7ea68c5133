package history

import (
	"context"
	"errors"
	"testing"

	"github.com/zhenw77/chat-history/internal/broker"
	"gorm.io/gorm"
)

type recordingProvider struct {
	last []broker.Message
}

func (p *recordingProvider) Chat(ctx context.Context, messages []broker.Message) (string, error) {
	_ = ctx
	// copy to avoid mutations
	p.last = append([]broker.Message(nil), messages...)
	return "ok", nil
}

type recordingPublisher struct {
	jobIDs []string
}

func (p *recordingPublisher) PublishJob(_ context.Context, jobID string) error {
	p.jobIDs = append(p.jobIDs, jobID)
	return nil
}

func newTestService(t *testing.T, db *gorm.DB, pub JobPublisher, window int) (*Service, *recordingProvider) {
	t.Helper()
	prov := &recordingProvider{}
	reg := broker.NewRegistry()
	reg.Register("", func(ctx context.Context, model string) (broker.Provider, error) {
		_ = ctx
		_ = model
		return prov, nil
	})
	return NewService(NewRepo(db), reg, pub, window), prov
}

func TestSendMessage_WritesUserAndAssistant(t *testing.T) {
	db := openTestDB(t)
	pub := &recordingPublisher{}
	svc, _ := newTestService(t, db, pub, 20)
	repo := NewRepo(db)
	ctx := context.Background()

	wallet := "0xSvcBasic"
	// empty session id starts a new session
	sessID, reply, assistantID, err := svc.SendMessage(ctx, wallet, "", "0xprov1", "Hello")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if reply != "ok" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if sessID == "" || assistantID == 0 {
		t.Fatalf("expected session and assistant ids, got %q %d", sessID, assistantID)
	}

	msgs, err := repo.GetMessages(ctx, sessID)
	if err != nil {
		t.Fatalf("query messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "Hello" {
		t.Fatalf("unexpected user msg: role=%q content=%q", msgs[0].Role, msgs[0].Content)
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "ok" {
		t.Fatalf("unexpected assistant msg: role=%q content=%q", msgs[1].Role, msgs[1].Content)
	}
	if !msgs[1].IsVerifying {
		t.Fatalf("assistant message should be marked verifying while the job is queued")
	}

	// the first user message titled the session
	s, err := repo.GetSession(ctx, sessID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if s.Title != "Hello" {
		t.Fatalf("expected derived title, got %q", s.Title)
	}

	// one verification job was recorded and published
	if len(pub.jobIDs) != 1 {
		t.Fatalf("expected 1 published job, got %d", len(pub.jobIDs))
	}
	job, err := repo.GetVerifyJob(ctx, pub.jobIDs[0])
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.MessageID != assistantID || job.Status != JobQueued {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestSendMessage_UsesContextWindow(t *testing.T) {
	db := openTestDB(t)
	window := 3
	svc, prov := newTestService(t, db, nil, window)
	repo := NewRepo(db)
	ctx := context.Background()

	wallet := "0xSvcWindow"
	sess, err := repo.CreateSession(ctx, "", wallet, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	// seed messages: 5 messages already in history
	for i := 0; i < 5; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := repo.SaveMessage(ctx, &Message{
			SessionID: sess.SessionID,
			Role:      role,
			Content:   "seed",
		}); err != nil {
			t.Fatalf("seed msg %d: %v", i, err)
		}
	}

	// sending a new message: history grows, but the provider should get
	// only `window` most recent msgs
	_, _, _, err = svc.SendMessage(ctx, wallet, sess.SessionID, "", "new")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}

	if len(prov.last) != window {
		t.Fatalf("expected provider to receive %d messages, got %d", window, len(prov.last))
	}
	last := prov.last[len(prov.last)-1]
	if last.Role != RoleUser || last.Content != "new" {
		t.Fatalf("expected last provider msg to be new user msg, got role=%q content=%q",
			last.Role, last.Content)
	}
}

func TestSendMessage_HidesForeignSessions(t *testing.T) {
	db := openTestDB(t)
	svc, _ := newTestService(t, db, nil, 20)
	repo := NewRepo(db)
	ctx := context.Background()

	sess, err := repo.CreateSession(ctx, "", "0xSvcOwner", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	_, _, _, err = svc.SendMessage(ctx, "0xSvcIntruder", sess.SessionID, "", "hi")
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record not found, got %v", err)
	}
}

func TestSendMessage_NoPublisherSkipsVerification(t *testing.T) {
	db := openTestDB(t)
	svc, _ := newTestService(t, db, nil, 20)
	repo := NewRepo(db)
	ctx := context.Background()

	sessID, _, _, err := svc.SendMessage(ctx, "0xSvcNoVerify", "", "", "hi")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}

	msgs, err := repo.GetMessages(ctx, sessID)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if msgs[1].IsVerifying {
		t.Fatalf("no queue wired, assistant message must not claim verification")
	}
	if msgs[1].IsVerified != nil {
		t.Fatalf("is_verified should stay unset, got %v", *msgs[1].IsVerified)
	}
}

func TestGetSessionMessages_ScopedAndNormalized(t *testing.T) {
	db := openTestDB(t)
	svc, _ := newTestService(t, db, nil, 20)
	repo := NewRepo(db)
	ctx := context.Background()

	wallet := "0xSvcRead"
	sess, err := repo.CreateSession(ctx, "", wallet, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := repo.SaveMessage(ctx, &Message{
		SessionID: sess.SessionID, Role: RoleAssistant, Content: "a", IsVerifying: true,
	}); err != nil {
		t.Fatalf("save message: %v", err)
	}

	msgs, err := svc.GetSessionMessages(ctx, wallet, sess.SessionID)
	if err != nil {
		t.Fatalf("get session messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].IsVerifying {
		t.Fatalf("stale is_verifying not normalized: %+v", msgs)
	}

	if _, err := svc.GetSessionMessages(ctx, "0xSvcOther", sess.SessionID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record not found for foreign wallet, got %v", err)
	}
}
