package app

import (
	"errors"
	"testing"

	"sprintplanner/pkg/domain"
)

func TestCreateProjectValidation(t *testing.T) {
	a, _ := newTestApp(t)
	user, err := a.EnsureUser("ext-1", "a@example.com", "A")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	if _, err := a.CreateProject(user, CreateProjectParams{Name: "no key"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing key: %v", err)
	}
	if _, err := a.CreateProject(user, CreateProjectParams{Key: "pk"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing name: %v", err)
	}

	project, err := a.CreateProject(user, CreateProjectParams{Key: "pk", Name: "First"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if project.Key != "PK" || project.LeadUserID != user.ID || project.Status != domain.ProjectActive {
		t.Fatalf("project = %+v", project)
	}

	if _, err := a.CreateProject(user, CreateProjectParams{Key: "PK", Name: "Second"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("duplicate key: %v", err)
	}
}

func TestListProjectsVisibility(t *testing.T) {
	a, _ := newTestApp(t)
	lead, err := a.EnsureUser("ext-1", "lead@example.com", "Lead")
	if err != nil {
		t.Fatalf("ensure lead: %v", err)
	}
	member, err := a.EnsureUser("ext-2", "member@example.com", "Member")
	if err != nil {
		t.Fatalf("ensure member: %v", err)
	}
	outsider, err := a.EnsureUser("ext-3", "out@example.com", "Out")
	if err != nil {
		t.Fatalf("ensure outsider: %v", err)
	}

	if _, err := a.CreateProject(lead, CreateProjectParams{Key: "sh", Name: "Shared", TeamMembers: []string{member.ID}}); err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, tc := range []struct {
		user domain.User
		want int
	}{
		{lead, 1},
		{member, 1},
		{outsider, 0},
		{domain.User{ID: "anyone", Role: domain.RoleAdmin}, 1},
	} {
		got, err := a.ListProjects(tc.user)
		if err != nil {
			t.Fatalf("list for %s: %v", tc.user.ID, err)
		}
		if len(got) != tc.want {
			t.Fatalf("visible projects for %s = %d, want %d", tc.user.ID, len(got), tc.want)
		}
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	a, memStore := newTestApp(t)
	lead, project := seedProject(t, a)
	task := seedTask(t, a, lead, project.ID, CreateTaskParams{Title: "doomed"})
	if _, err := a.AddDocument(lead, project.ID, "Notes", "scratch"); err != nil {
		t.Fatalf("add document: %v", err)
	}

	member, err := a.EnsureUser("ext-9", "m@example.com", "M")
	if err != nil {
		t.Fatalf("ensure member: %v", err)
	}
	if err := a.DeleteProject(member, project.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider delete: %v", err)
	}

	if err := a.DeleteProject(lead, project.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := memStore.GetProject(project.ID); ok {
		t.Fatalf("project survived")
	}
	if _, ok, _ := memStore.GetTask(task.ID); ok {
		t.Fatalf("task survived project delete")
	}
	docs, _ := memStore.ListDocumentsByProject(project.ID)
	if len(docs) != 0 {
		t.Fatalf("documents survived: %+v", docs)
	}
}

func TestDocumentsRoundTrip(t *testing.T) {
	a, _ := newTestApp(t)
	lead, project := seedProject(t, a)

	if _, err := a.AddDocument(lead, project.ID, "  ", "x"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank title: %v", err)
	}
	if _, err := a.AddDocument(lead, project.ID, "Pitch", "v1 narrative"); err != nil {
		t.Fatalf("add: %v", err)
	}
	docs, err := a.ListDocuments(lead, project.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 || docs[0].Title != "Pitch" {
		t.Fatalf("docs = %+v", docs)
	}
}
