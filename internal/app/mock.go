package app

import (
	"fmt"
	"time"

	"sprintplanner/pkg/domain"
)

// BoardMock returns a fixture dataset used by the test-data route for
// seeding and demos. It is not part of the invariant surface.
func BoardMock() ([]domain.Task, []domain.Dependency) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	projectID := "00000000-0000-0000-0000-00000000d3a0"
	mk := func(n int, title string, status domain.TaskStatus, priority, parent string) domain.Task {
		return domain.Task{
			ID:           fmt.Sprintf("00000000-0000-0000-0000-%012d", n),
			ProjectID:    projectID,
			Key:          fmt.Sprintf("SP-%d", n),
			Title:        title,
			Status:       status,
			Priority:     priority,
			ParentTaskID: parent,
			GeneratedBy:  domain.GeneratedByUser,
			CreatedAt:    base.Add(time.Duration(n) * time.Minute),
			UpdatedAt:    base.Add(time.Duration(n) * time.Minute),
		}
	}
	tasks := []domain.Task{
		mk(1, "Validate problem statement", domain.StatusDone, "High", ""),
		mk(2, "Interview five target customers", domain.StatusDone, "High", "00000000-0000-0000-0000-000000000001"),
		mk(3, "Draft positioning one-pager", domain.StatusInProgress, "Medium", "00000000-0000-0000-0000-000000000001"),
		mk(4, "Build landing page", domain.StatusTodo, "Medium", ""),
		mk(5, "Set up analytics", domain.StatusBacklog, "Low", "00000000-0000-0000-0000-000000000004"),
		mk(6, "Prepare investor narrative", domain.StatusBacklog, "High", ""),
	}
	deps := []domain.Dependency{
		{TaskID: tasks[3].ID, DependsOnID: tasks[0].ID, CreatedAt: base},
		{TaskID: tasks[5].ID, DependsOnID: tasks[2].ID, CreatedAt: base},
	}
	return tasks, deps
}

// SeedBoardMock installs the fixture dataset for the user, creating a
// demo project when it does not already exist.
func (a *App) SeedBoardMock(user domain.User) (domain.Board, error) {
	tasks, deps := BoardMock()
	projectID := tasks[0].ProjectID
	if _, ok, err := a.store.GetProject(projectID); err != nil {
		return domain.Board{}, fmt.Errorf("load demo project: %w", err)
	} else if !ok {
		now := time.Now().UTC()
		project := domain.Project{
			ID:         projectID,
			Key:        "SP",
			Name:       "SprintPlanner Demo",
			Status:     domain.ProjectActive,
			LeadUserID: user.ID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := a.store.SaveProject(project); err != nil {
			return domain.Board{}, fmt.Errorf("save demo project: %w", err)
		}
	}
	for _, t := range tasks {
		if err := a.store.SaveTask(t); err != nil {
			return domain.Board{}, fmt.Errorf("save demo task %s: %w", t.Key, err)
		}
	}
	for _, d := range deps {
		if err := a.store.AddDependency(d); err != nil {
			return domain.Board{}, fmt.Errorf("save demo dependency: %w", err)
		}
	}
	return AssembleBoard(projectID, tasks, deps), nil
}
