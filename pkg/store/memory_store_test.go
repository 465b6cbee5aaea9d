package store

import (
	"fmt"
	"testing"
	"time"

	"sprintplanner/pkg/domain"
)

func seedMemProject(t *testing.T, m *MemoryStore, id, key string) domain.Project {
	t.Helper()
	p := domain.Project{ID: id, Key: key, Name: key, Status: domain.ProjectActive, CreatedAt: time.Now().UTC()}
	if err := m.SaveProject(p); err != nil {
		t.Fatalf("save project: %v", err)
	}
	return p
}

func TestMemoryStoreTaskKeyUnique(t *testing.T) {
	m := NewMemoryStore()
	seedMemProject(t, m, "p1", "P1")

	base := domain.Task{ID: "t1", ProjectID: "p1", Key: "P1-1", Title: "a", CreatedAt: time.Now().UTC()}
	if err := m.SaveTask(base); err != nil {
		t.Fatalf("save: %v", err)
	}
	dup := base
	dup.ID = "t2"
	if err := m.SaveTask(dup); err == nil {
		t.Fatalf("duplicate key accepted")
	}

	// Updating the same task keeps key and creation time immutable.
	changed := base
	changed.Key = "P1-77"
	changed.Title = "renamed"
	changed.CreatedAt = base.CreatedAt.Add(time.Hour)
	if err := m.SaveTask(changed); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, ok, err := m.GetTask("t1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Key != "P1-1" || !got.CreatedAt.Equal(base.CreatedAt) {
		t.Fatalf("immutable fields changed: %+v", got)
	}
	if got.Title != "renamed" {
		t.Fatalf("title not updated")
	}
}

func TestMemoryStoreDeleteTaskCascades(t *testing.T) {
	m := NewMemoryStore()
	seedMemProject(t, m, "p1", "P1")
	now := time.Now().UTC()
	for i, id := range []string{"t1", "t2"} {
		task := domain.Task{ID: id, ProjectID: "p1", Key: fmt.Sprintf("P1-%d", i+1), Title: id, CreatedAt: now.Add(time.Duration(i) * time.Second)}
		if err := m.SaveTask(task); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if err := m.AddDependency(domain.Dependency{TaskID: "t2", DependsOnID: "t1"}); err != nil {
		t.Fatalf("dep: %v", err)
	}
	if err := m.AppendComment(domain.Comment{ID: "c1", TaskID: "t1", Body: "note"}); err != nil {
		t.Fatalf("comment: %v", err)
	}

	if err := m.DeleteTask("t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	deps, err := m.ListDependenciesByProject("p1")
	if err != nil {
		t.Fatalf("list deps: %v", err)
	}
	if len(deps) != 0 {
		t.Fatalf("dangling dependencies: %+v", deps)
	}
	comments, err := m.ListCommentsByTask("t1")
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 0 {
		t.Fatalf("dangling comments: %+v", comments)
	}
}

func TestMemoryStoreChatMessagesNewestWithinLimit(t *testing.T) {
	m := NewMemoryStore()
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		msg := domain.ChatMessage{
			ID:        fmt.Sprintf("m%d", i),
			SessionID: "s1",
			Role:      "user",
			Content:   fmt.Sprintf("msg %d", i),
			Stage:     1,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := m.AppendChatMessage(msg); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, err := m.ListChatMessages("s1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// Newest two, returned oldest first.
	if len(got) != 2 || got[0].ID != "m2" || got[1].ID != "m3" {
		t.Fatalf("messages = %+v", got)
	}
}

func TestMemoryStoreDeleteSessionData(t *testing.T) {
	m := NewMemoryStore()
	if err := m.UpsertIdeaState(domain.IdeaState{SessionID: "s1", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := m.AppendChatMessage(domain.ChatMessage{ID: "m1", SessionID: "s1", Role: "user", Content: "x", Stage: 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := m.DeleteSessionData("s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := m.GetIdeaState("s1"); ok {
		t.Fatalf("idea state survived")
	}
	msgs, _ := m.ListChatMessages("s1", 0)
	if len(msgs) != 0 {
		t.Fatalf("messages survived: %+v", msgs)
	}
}
