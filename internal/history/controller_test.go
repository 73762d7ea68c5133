package history

import (
	"context"
	"testing"
	"time"
)

func TestController_AddMessage_AutoCreatesSession(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctl := NewController(repo, "0xCtlAuto", "", true)
	ctx := context.Background()

	sid1, err := ctl.AddMessage(ctx, Message{Role: RoleUser, Content: "first"})
	if err != nil {
		t.Fatalf("add message: %v", err)
	}
	if sid1 == "" {
		t.Fatalf("expected session id")
	}
	if ctl.CurrentSessionID() != sid1 {
		t.Fatalf("current session not set")
	}

	sid2, err := ctl.AddMessage(ctx, Message{Role: RoleUser, Content: "second"})
	if err != nil {
		t.Fatalf("add message: %v", err)
	}
	if sid2 != sid1 {
		t.Fatalf("expected same session, got %s and %s", sid1, sid2)
	}

	sessions, err := repo.ListSessions(ctx, "0xCtlAuto")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected exactly one session, got %d", len(sessions))
	}
	msgs, err := repo.GetMessages(ctx, sid1)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(msgs))
	}
}

func TestController_TitleSetOnceFromFirstUserMessage(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctl := NewController(repo, "0xCtlTitle", "", true)
	ctx := context.Background()

	// an assistant message never produces a title
	sid, err := ctl.AddMessage(ctx, Message{Role: RoleAssistant, Content: "welcome, ask me anything about pricing"})
	if err != nil {
		t.Fatalf("add assistant message: %v", err)
	}
	s, err := repo.GetSession(ctx, sid)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if s.Title != "" {
		t.Fatalf("assistant message produced a title: %q", s.Title)
	}

	// the first user message does
	if _, err := ctl.AddMessage(ctx, Message{Role: RoleUser, Content: "Hi"}); err != nil {
		t.Fatalf("add user message: %v", err)
	}
	s, err = repo.GetSession(ctx, sid)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if s.Title != "Hi" {
		t.Fatalf("expected title %q, got %q", "Hi", s.Title)
	}

	// later user messages never overwrite it
	if _, err := ctl.AddMessage(ctx, Message{Role: RoleUser, Content: "a much longer follow-up question that would truncate"}); err != nil {
		t.Fatalf("add user message: %v", err)
	}
	s, err = repo.GetSession(ctx, sid)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if s.Title != "Hi" {
		t.Fatalf("title overwritten: %q", s.Title)
	}
}

func TestController_NoAutosaveKeepsMessagesInMemoryOnly(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctl := NewController(repo, "0xCtlMem", "", false)
	ctx := context.Background()

	sid, err := ctl.AddMessage(ctx, Message{Role: RoleUser, Content: "ephemeral"})
	if err != nil {
		t.Fatalf("add message: %v", err)
	}

	if got := ctl.Messages(); len(got) != 1 || got[0].Content != "ephemeral" {
		t.Fatalf("in-memory projection wrong: %+v", got)
	}

	msgs, err := repo.GetMessages(ctx, sid)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("message persisted despite autosave off: %d", len(msgs))
	}

	// no durable save means no title either
	s, err := repo.GetSession(ctx, sid)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if s.Title != "" {
		t.Fatalf("unexpected title: %q", s.Title)
	}
}

func TestController_DeleteCurrentSessionResetsState(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctl := NewController(repo, "0xCtlDelete", "", true)
	ctx := context.Background()

	sid, err := ctl.AddMessage(ctx, Message{Role: RoleUser, Content: "doomed"})
	if err != nil {
		t.Fatalf("add message: %v", err)
	}

	if err := ctl.DeleteSession(ctx, sid); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if ctl.CurrentSessionID() != "" {
		t.Fatalf("current session not reset")
	}
	if len(ctl.Messages()) != 0 {
		t.Fatalf("messages not cleared")
	}
	if len(ctl.Sessions()) != 0 {
		t.Fatalf("session list still has the deleted session")
	}
}

func TestController_ClearKeepsSession(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctl := NewController(repo, "0xCtlClear", "", true)
	ctx := context.Background()

	sid, err := ctl.AddMessage(ctx, Message{Role: RoleUser, Content: "Hi"})
	if err != nil {
		t.Fatalf("add message: %v", err)
	}

	if err := ctl.ClearCurrentSession(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(ctl.Messages()) != 0 {
		t.Fatalf("messages not emptied")
	}
	if ctl.CurrentSessionID() != sid {
		t.Fatalf("current session changed on clear")
	}

	sessions, err := repo.ListSessions(ctx, "0xCtlClear")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Title != "Hi" {
		t.Fatalf("session or its title lost on clear: %+v", sessions)
	}
}

func TestController_LoadSessionResetsStaleVerifying(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	s, err := repo.CreateSession(ctx, "", "0xCtlStale", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := repo.SaveMessage(ctx, &Message{
		SessionID: s.SessionID, Role: RoleAssistant, Content: "answer", IsVerifying: true,
	}); err != nil {
		t.Fatalf("save message: %v", err)
	}

	ctl := NewController(repo, "0xCtlStale", "", true)
	if err := ctl.LoadSession(ctx, s.SessionID); err != nil {
		t.Fatalf("load session: %v", err)
	}
	msgs := ctl.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].IsVerifying {
		t.Fatalf("stale is_verifying not reset on load")
	}
}

func TestController_ErrorClearedByNextSuccess(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctl := NewController(repo, "0xCtlErr", "", true)
	ctx := context.Background()

	if err := ctl.DeleteSession(ctx, "01NOSUCHSESSION0000000000N"); err == nil {
		t.Fatalf("expected delete of unknown session to fail")
	}
	if ctl.Err() == "" {
		t.Fatalf("error not surfaced")
	}

	if err := ctl.RefreshSessions(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if ctl.Err() != "" {
		t.Fatalf("error not cleared by next success: %q", ctl.Err())
	}
}

func TestController_UpdateMessageEditsContentInMemoryOnly(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctl := NewController(repo, "0xCtlEdit", "", true)
	ctx := context.Background()

	sid, err := ctl.AddMessage(ctx, Message{Role: RoleUser, Content: "original"})
	if err != nil {
		t.Fatalf("add message: %v", err)
	}

	edited := "edited"
	ctl.UpdateMessage(0, MessageUpdate{Content: &edited})

	if got := ctl.Messages(); got[0].Content != "edited" {
		t.Fatalf("in-memory edit lost: %q", got[0].Content)
	}
	msgs, err := repo.GetMessages(ctx, sid)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if msgs[0].Content != "original" {
		t.Fatalf("content edit must not persist, got %q", msgs[0].Content)
	}

	// out-of-range indices are ignored
	ctl.UpdateMessage(99, MessageUpdate{Content: &edited})
}

func TestController_UpdateMessagePersistsVerificationFlags(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctl := NewController(repo, "0xCtlVerify", "", true)
	ctx := context.Background()

	sid, err := ctl.AddMessage(ctx, Message{Role: RoleAssistant, Content: "answer"})
	if err != nil {
		t.Fatalf("add message: %v", err)
	}

	verified := true
	notVerifying := false
	ctl.UpdateMessage(0, MessageUpdate{
		SetVerified: true,
		IsVerified:  &verified,
		IsVerifying: &notVerifying,
	})

	// the write-back is async and best-effort
	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs, err := repo.GetMessages(ctx, sid)
		if err != nil {
			t.Fatalf("get messages: %v", err)
		}
		if len(msgs) == 1 && msgs[0].IsVerified != nil && *msgs[0].IsVerified {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("verification flags never persisted: %+v", msgs)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestController_SearchDoesNotMutateState(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctl := NewController(repo, "0xCtlSearch", "", true)
	ctx := context.Background()

	sid, err := ctl.AddMessage(ctx, Message{Role: RoleUser, Content: "find the needle here"})
	if err != nil {
		t.Fatalf("add message: %v", err)
	}

	matches, err := ctl.SearchMessages(ctx, "needle")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 || matches[0].SessionID != sid {
		t.Fatalf("unexpected matches: %+v", matches)
	}
	if ctl.CurrentSessionID() != sid || len(ctl.Messages()) != 1 {
		t.Fatalf("search mutated controller state")
	}
}
