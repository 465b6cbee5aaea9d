package app

import (
	"sort"

	"sprintplanner/pkg/domain"
)

// AssembleBoard turns a flat task set into the hierarchical board view:
// top-level tasks (no parent) each carrying their direct subtasks.
// Ordering is creation order with task id as tiebreaker, which keeps the
// output deterministic for equal timestamps. Dependency edges ride
// alongside the tree; a task may depend on a task outside its own
// parent/child chain, so they are never folded in.
func AssembleBoard(projectID string, tasks []domain.Task, deps []domain.Dependency) domain.Board {
	ordered := append([]domain.Task(nil), tasks...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	subtasks := make(map[string][]domain.Task)
	var topLevel []domain.Task
	for _, t := range ordered {
		if t.ParentTaskID == "" {
			topLevel = append(topLevel, t)
			continue
		}
		subtasks[t.ParentTaskID] = append(subtasks[t.ParentTaskID], t)
	}
	entries := make([]domain.BoardEntry, 0, len(topLevel))
	for _, parent := range topLevel {
		children := subtasks[parent.ID]
		if children == nil {
			children = []domain.Task{}
		}
		entries = append(entries, domain.BoardEntry{Task: parent, Subtasks: children})
	}
	if deps == nil {
		deps = []domain.Dependency{}
	}
	return domain.Board{
		ProjectID:    projectID,
		Entries:      entries,
		Dependencies: deps,
	}
}

// Board loads the project's tasks and assembles the hierarchical view.
func (a *App) Board(user domain.User, projectID string) (domain.Board, error) {
	tasks, deps, err := a.TasksByProject(user, projectID)
	if err != nil {
		return domain.Board{}, err
	}
	return AssembleBoard(projectID, tasks, deps), nil
}
