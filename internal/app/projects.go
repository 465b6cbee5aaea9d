package app

import (
	"fmt"
	"strings"
	"time"

	"sprintplanner/internal/util"
	"sprintplanner/pkg/domain"
)

// CreateProjectParams carries the fields needed to open a workspace.
type CreateProjectParams struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	TeamMembers []string `json:"teamMembers,omitempty"`
}

// CreateProject opens a workspace led by the calling user. The key must
// be globally unique.
func (a *App) CreateProject(lead domain.User, params CreateProjectParams) (domain.Project, error) {
	key := strings.ToUpper(strings.TrimSpace(params.Key))
	if key == "" {
		return domain.Project{}, fmt.Errorf("%w: project key required", ErrInvalidInput)
	}
	if strings.TrimSpace(params.Name) == "" {
		return domain.Project{}, fmt.Errorf("%w: project name required", ErrInvalidInput)
	}
	if _, taken, err := a.store.GetProjectByKey(key); err != nil {
		return domain.Project{}, fmt.Errorf("check project key: %w", err)
	} else if taken {
		return domain.Project{}, fmt.Errorf("%w: project key %q already taken", ErrInvalidInput, key)
	}
	now := time.Now().UTC()
	project := domain.Project{
		ID:            util.NewID(),
		Key:           key,
		Name:          strings.TrimSpace(params.Name),
		Description:   params.Description,
		Status:        domain.ProjectActive,
		LeadUserID:    lead.ID,
		TeamMemberIDs: params.TeamMembers,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.store.SaveProject(project); err != nil {
		return domain.Project{}, fmt.Errorf("save project: %w", err)
	}
	return project, nil
}

// ListProjects returns the projects visible to the user: everything for
// admins, otherwise projects the user leads or belongs to.
func (a *App) ListProjects(user domain.User) ([]domain.Project, error) {
	projects, err := a.store.ListProjects()
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	if user.Role == domain.RoleAdmin {
		return projects, nil
	}
	visible := make([]domain.Project, 0, len(projects))
	for _, p := range projects {
		if p.Member(user.ID) {
			visible = append(visible, p)
		}
	}
	return visible, nil
}

// DeleteProject removes a project and everything it owns. Only the lead
// or an admin may delete.
func (a *App) DeleteProject(user domain.User, projectID string) error {
	project, err := a.projectForUser(user, projectID)
	if err != nil {
		return err
	}
	if user.Role != domain.RoleAdmin && project.LeadUserID != user.ID {
		return ErrForbidden
	}
	if err := a.store.DeleteProject(project.ID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

// AddDocument attaches a text document to the project.
func (a *App) AddDocument(user domain.User, projectID, title, content string) (domain.Document, error) {
	project, err := a.projectForUser(user, projectID)
	if err != nil {
		return domain.Document{}, err
	}
	if strings.TrimSpace(title) == "" {
		return domain.Document{}, fmt.Errorf("%w: document title required", ErrInvalidInput)
	}
	now := time.Now().UTC()
	doc := domain.Document{
		ID:        util.NewID(),
		ProjectID: project.ID,
		Title:     strings.TrimSpace(title),
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.SaveDocument(doc); err != nil {
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns the project's documents.
func (a *App) ListDocuments(user domain.User, projectID string) ([]domain.Document, error) {
	project, err := a.projectForUser(user, projectID)
	if err != nil {
		return nil, err
	}
	docs, err := a.store.ListDocumentsByProject(project.ID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// projectForUser loads a project and checks read access. Access control
// is enforced on the project read path; task-level mutations trust the
// caller once the project was readable.
func (a *App) projectForUser(user domain.User, projectID string) (domain.Project, error) {
	project, ok, err := a.store.GetProject(projectID)
	if err != nil {
		return domain.Project{}, fmt.Errorf("load project: %w", err)
	}
	if !ok {
		return domain.Project{}, ErrProjectNotFound
	}
	if user.Role != domain.RoleAdmin && !project.Member(user.ID) {
		return domain.Project{}, ErrForbidden
	}
	return project, nil
}
