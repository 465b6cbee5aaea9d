package app

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sprintplanner/internal/util"
	"sprintplanner/pkg/domain"
)

// NullableString distinguishes three JSON states: absent (leave the
// field unchanged), null (clear it), and a value.
type NullableString struct {
	Set   bool
	Valid bool
	Value string
}

func (n *NullableString) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		n.Valid = false
		n.Value = ""
		return nil
	}
	if err := json.Unmarshal(data, &n.Value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// NullableTime is the tri-state counterpart for timestamps.
type NullableTime struct {
	Set   bool
	Valid bool
	Value time.Time
}

func (n *NullableTime) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		n.Valid = false
		n.Value = time.Time{}
		return nil
	}
	if err := json.Unmarshal(data, &n.Value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// UpdateTaskParams is a partial task record: nil / unset fields are left
// untouched.
type UpdateTaskParams struct {
	Title       *string            `json:"title,omitempty"`
	Status      *domain.TaskStatus `json:"status,omitempty"`
	Priority    *string            `json:"priority,omitempty"`
	Description NullableString     `json:"description"`
	DueDate     NullableTime       `json:"dueDate"`
}

// UpdateTask mutates only the supplied fields. Priority arrives in the
// lowercase editing representation and is normalized to the capitalized
// storage form here, not by the caller.
func (a *App) UpdateTask(taskID string, params UpdateTaskParams) (domain.Task, error) {
	task, ok, err := a.store.GetTask(taskID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("load task: %w", err)
	}
	if !ok {
		return domain.Task{}, ErrTaskNotFound
	}
	if params.Title != nil {
		title := strings.TrimSpace(*params.Title)
		if title == "" {
			return domain.Task{}, fmt.Errorf("%w: title cannot be blank", ErrInvalidInput)
		}
		task.Title = title
	}
	if params.Status != nil {
		if !domain.ValidTaskStatus(*params.Status) {
			return domain.Task{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *params.Status)
		}
		task.Status = *params.Status
	}
	if params.Priority != nil {
		task.Priority = domain.StoragePriority(*params.Priority)
	}
	if params.Description.Set {
		if params.Description.Valid {
			task.Description = params.Description.Value
		} else {
			task.Description = ""
		}
	}
	if params.DueDate.Set {
		if params.DueDate.Valid {
			due := params.DueDate.Value.UTC()
			task.DueDate = &due
		} else {
			task.DueDate = nil
		}
	}
	task.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveTask(task); err != nil {
		return domain.Task{}, fmt.Errorf("save task: %w", err)
	}
	return task, nil
}

// DeleteTask hard-deletes a task. AI-generated tasks are protected here
// regardless of what the client shows.
func (a *App) DeleteTask(taskID string) error {
	task, ok, err := a.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if !ok {
		return ErrTaskNotFound
	}
	if task.GeneratedBy == domain.GeneratedByAI {
		return ErrTaskProtected
	}
	if err := a.store.DeleteTask(taskID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// UpdateSubtaskStatus is the narrow inline mutation path: status only,
// no editor round trip.
func (a *App) UpdateSubtaskStatus(taskID string, status domain.TaskStatus) (domain.Task, error) {
	if !domain.ValidTaskStatus(status) {
		return domain.Task{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return a.UpdateTask(taskID, UpdateTaskParams{Status: &status})
}

// CreateTaskParams carries the fields needed to open a task.
type CreateTaskParams struct {
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	Status       domain.TaskStatus `json:"status,omitempty"`
	Priority     string            `json:"priority,omitempty"`
	AssigneeID   string            `json:"assigneeId,omitempty"`
	ParentTaskID string            `json:"parentTaskId,omitempty"`
	DueDate      *time.Time        `json:"dueDate,omitempty"`
	GeneratedBy  string            `json:"generatedBy,omitempty"`
}

// CreateTask creates a task in the project with an allocated key of the
// form "<PROJECT-KEY>-<n>". A parent, when supplied, must be an existing
// task in the same project.
func (a *App) CreateTask(user domain.User, projectID string, params CreateTaskParams) (domain.Task, error) {
	project, err := a.projectForUser(user, projectID)
	if err != nil {
		return domain.Task{}, err
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return domain.Task{}, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	status := params.Status
	if status == "" {
		status = domain.StatusBacklog
	}
	if !domain.ValidTaskStatus(status) {
		return domain.Task{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	if params.ParentTaskID != "" {
		parent, ok, err := a.store.GetTask(params.ParentTaskID)
		if err != nil {
			return domain.Task{}, fmt.Errorf("load parent task: %w", err)
		}
		if !ok {
			return domain.Task{}, fmt.Errorf("%w: parent task", ErrTaskNotFound)
		}
		if parent.ProjectID != project.ID {
			return domain.Task{}, fmt.Errorf("%w: parent task belongs to another project", ErrInvalidInput)
		}
	}
	generatedBy := params.GeneratedBy
	if generatedBy == "" {
		generatedBy = domain.GeneratedByUser
	}
	count, err := a.store.CountTasksByProject(project.ID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("count tasks: %w", err)
	}
	now := time.Now().UTC()
	task := domain.Task{
		ID:           util.NewID(),
		ProjectID:    project.ID,
		Key:          fmt.Sprintf("%s-%d", project.Key, count+1),
		Title:        title,
		Description:  params.Description,
		Status:       status,
		Priority:     domain.StoragePriority(params.Priority),
		AssigneeID:   params.AssigneeID,
		ReporterID:   user.ID,
		ParentTaskID: params.ParentTaskID,
		DueDate:      params.DueDate,
		GeneratedBy:  generatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveTask(task); err != nil {
		return domain.Task{}, fmt.Errorf("save task: %w", err)
	}
	return task, nil
}

// TasksByProject returns the project's full task set with its dependency
// edges. This is the access-controlled read path feeding board assembly.
func (a *App) TasksByProject(user domain.User, projectID string) ([]domain.Task, []domain.Dependency, error) {
	project, err := a.projectForUser(user, projectID)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := a.store.ListTasksByProject(project.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list tasks: %w", err)
	}
	deps, err := a.store.ListDependenciesByProject(project.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list dependencies: %w", err)
	}
	return tasks, deps, nil
}

// AddDependency inserts the edge taskID -> dependsOnID after checking
// both endpoints exist in the same project and the edge closes no cycle.
func (a *App) AddDependency(taskID, dependsOnID string) (domain.Dependency, error) {
	if taskID == dependsOnID {
		return domain.Dependency{}, ErrDependencyCycle
	}
	task, ok, err := a.store.GetTask(taskID)
	if err != nil {
		return domain.Dependency{}, fmt.Errorf("load task: %w", err)
	}
	if !ok {
		return domain.Dependency{}, ErrTaskNotFound
	}
	target, ok, err := a.store.GetTask(dependsOnID)
	if err != nil {
		return domain.Dependency{}, fmt.Errorf("load dependency target: %w", err)
	}
	if !ok {
		return domain.Dependency{}, ErrTaskNotFound
	}
	if task.ProjectID != target.ProjectID {
		return domain.Dependency{}, fmt.Errorf("%w: dependency crosses projects", ErrInvalidInput)
	}
	deps, err := a.store.ListDependenciesByProject(task.ProjectID)
	if err != nil {
		return domain.Dependency{}, fmt.Errorf("list dependencies: %w", err)
	}
	if reaches(adjacency(deps), dependsOnID, taskID) {
		return domain.Dependency{}, ErrDependencyCycle
	}
	edge := domain.Dependency{
		TaskID:      taskID,
		DependsOnID: dependsOnID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.store.AddDependency(edge); err != nil {
		return domain.Dependency{}, fmt.Errorf("add dependency: %w", err)
	}
	return edge, nil
}

// adjacency builds task id -> depends-on id set from the edge list.
func adjacency(deps []domain.Dependency) map[string]map[string]struct{} {
	adj := make(map[string]map[string]struct{}, len(deps))
	for _, d := range deps {
		set, ok := adj[d.TaskID]
		if !ok {
			set = make(map[string]struct{})
			adj[d.TaskID] = set
		}
		set[d.DependsOnID] = struct{}{}
	}
	return adj
}

// reaches reports whether `to` is reachable from `from` over the edges.
func reaches(adj map[string]map[string]struct{}, from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]struct{}{from: {}}
	stack := []string{from}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range adj[current] {
			if next == to {
				return true
			}
			if _, visited := seen[next]; visited {
				continue
			}
			seen[next] = struct{}{}
			stack = append(stack, next)
		}
	}
	return false
}

// AddComment records a comment on a task. Role is "user" unless the
// entry came from the AI side.
func (a *App) AddComment(author domain.User, taskID, role, body string) (domain.Comment, error) {
	if strings.TrimSpace(body) == "" {
		return domain.Comment{}, fmt.Errorf("%w: comment body required", ErrInvalidInput)
	}
	if role != "ai" && role != "user" {
		return domain.Comment{}, fmt.Errorf("%w: unknown comment role %q", ErrInvalidInput, role)
	}
	if _, ok, err := a.store.GetTask(taskID); err != nil {
		return domain.Comment{}, fmt.Errorf("load task: %w", err)
	} else if !ok {
		return domain.Comment{}, ErrTaskNotFound
	}
	now := time.Now().UTC()
	comment := domain.Comment{
		ID:        util.NewID(),
		TaskID:    taskID,
		AuthorID:  author.ID,
		Role:      role,
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.AppendComment(comment); err != nil {
		return domain.Comment{}, fmt.Errorf("save comment: %w", err)
	}
	return comment, nil
}

// ListComments returns a task's comments in chronological order.
func (a *App) ListComments(taskID string) ([]domain.Comment, error) {
	if _, ok, err := a.store.GetTask(taskID); err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	} else if !ok {
		return nil, ErrTaskNotFound
	}
	comments, err := a.store.ListCommentsByTask(taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}
