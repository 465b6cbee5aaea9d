// Package editor holds the task detail editing state machine: local
// edits buffered against the last-saved server state, a value-diff dirty
// predicate, and an atomic full-record save.
package editor

import (
	"strings"
	"time"

	"sprintplanner/internal/app"
	"sprintplanner/pkg/domain"
)

// TaskSaver commits the editable field set. Satisfied by *app.App.
type TaskSaver interface {
	UpdateTask(taskID string, params app.UpdateTaskParams) (domain.Task, error)
}

// Fields is the editable slice of a task. Priority uses the lowercase
// editing representation; the service normalizes it on save.
type Fields struct {
	Title       string
	Status      domain.TaskStatus
	Priority    string
	Description string
	DueDate     *time.Time
}

func fieldsFromTask(t domain.Task) Fields {
	return Fields{
		Title:       t.Title,
		Status:      t.Status,
		Priority:    domain.EditPriority(t.Priority),
		Description: t.Description,
		DueDate:     copyTime(t.DueDate),
	}
}

// Editor buffers local edits for one task at a time.
type Editor struct {
	taskID string
	loaded domain.Task
	saved  Fields
	local  Fields
}

// New returns an empty editor; call Load before editing.
func New() *Editor {
	return &Editor{}
}

// Load resets all local fields from the incoming record. This happens
// unconditionally, even when unsaved edits exist: switching tasks
// discards them.
func (e *Editor) Load(task domain.Task) {
	e.taskID = task.ID
	e.loaded = task
	e.saved = fieldsFromTask(task)
	e.local = fieldsFromTask(task)
}

// TaskID returns the identity of the loaded task.
func (e *Editor) TaskID() string {
	return e.taskID
}

// Local returns the current local field values.
func (e *Editor) Local() Fields {
	out := e.local
	out.DueDate = copyTime(e.local.DueDate)
	return out
}

func (e *Editor) SetTitle(title string)                  { e.local.Title = title }
func (e *Editor) SetStatus(status domain.TaskStatus)     { e.local.Status = status }
func (e *Editor) SetPriority(priority string)            { e.local.Priority = priority }
func (e *Editor) SetDescription(description string)      { e.local.Description = description }
func (e *Editor) SetDueDate(due *time.Time)              { e.local.DueDate = copyTime(due) }

// Dirty reports whether local state diverges from the last-saved state.
// All editable fields participate, priority included; due dates compare
// by instant, not string form.
func (e *Editor) Dirty() bool {
	if e.local.Title != e.saved.Title {
		return true
	}
	if e.local.Status != e.saved.Status {
		return true
	}
	if e.local.Priority != e.saved.Priority {
		return true
	}
	if e.local.Description != e.saved.Description {
		return true
	}
	return !sameInstant(e.local.DueDate, e.saved.DueDate)
}

// Save commits the full editable field set. A blanked title falls back
// to the saved one; an empty description is sent as null to mean "no
// description"; the due date goes out as an absolute instant or null.
// On success the baseline resets to exactly the values that were sent,
// not to whatever the server echoes back, so there is no flicker and no
// refetch. On failure local edits are preserved for retry.
func (e *Editor) Save(saver TaskSaver) (domain.Task, error) {
	title := strings.TrimSpace(e.local.Title)
	if title == "" {
		title = e.saved.Title
	}
	status := e.local.Status
	priority := e.local.Priority
	description := app.NullableString{Set: true, Valid: e.local.Description != "", Value: e.local.Description}
	dueDate := app.NullableTime{Set: true}
	if e.local.DueDate != nil {
		dueDate.Valid = true
		dueDate.Value = e.local.DueDate.UTC()
	}
	params := app.UpdateTaskParams{
		Title:       &title,
		Status:      &status,
		Priority:    &priority,
		Description: description,
		DueDate:     dueDate,
	}
	task, err := saver.UpdateTask(e.taskID, params)
	if err != nil {
		return domain.Task{}, err
	}
	sent := Fields{
		Title:       title,
		Status:      status,
		Priority:    priority,
		Description: e.local.Description,
		DueDate:     copyTime(e.local.DueDate),
	}
	e.saved = sent
	e.local = sent
	e.local.DueDate = copyTime(sent.DueDate)
	return task, nil
}

// Cancel discards local edits, resetting to the current baseline (the
// last load, or the last successful save if one happened since).
func (e *Editor) Cancel() {
	e.local = e.saved
	e.local.DueDate = copyTime(e.saved.DueDate)
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := *t
	return &value
}
