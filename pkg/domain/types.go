package domain

import "time"

type TaskStatus string

const (
	StatusBacklog    TaskStatus = "backlog"
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
	StatusCancelled  TaskStatus = "cancelled"
)

// ValidTaskStatus reports whether s belongs to the closed status set.
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case StatusBacklog, StatusTodo, StatusInProgress, StatusDone, StatusCancelled:
		return true
	}
	return false
}

type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectInactive ProjectStatus = "inactive"
	ProjectArchived ProjectStatus = "archived"
)

type UserRole string

const (
	RoleIndividual UserRole = "individual"
	RoleInvestor   UserRole = "investor"
	RoleAdmin      UserRole = "admin"
)

// Task origin markers. AI-generated tasks are not user-deletable.
const (
	GeneratedByAI   = "ai"
	GeneratedByUser = "user"
)

type User struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"externalId"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Role        UserRole  `json:"role"`
	Description string    `json:"description,omitempty"`
	Profession  string    `json:"profession,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Project struct {
	ID            string        `json:"id"`
	Key           string        `json:"key"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Status        ProjectStatus `json:"status"`
	LeadUserID    string        `json:"leadUserId"`
	TeamMemberIDs []string      `json:"teamMemberIds"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Member reports whether userID leads or belongs to the project team.
func (p Project) Member(userID string) bool {
	if p.LeadUserID == userID {
		return true
	}
	for _, id := range p.TeamMemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type Task struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"projectId"`
	Key          string     `json:"key"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       TaskStatus `json:"status"`
	Priority     string     `json:"priority,omitempty"`
	AssigneeID   string     `json:"assigneeId,omitempty"`
	ReporterID   string     `json:"reporterId,omitempty"`
	ParentTaskID string     `json:"parentTaskId,omitempty"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	GeneratedBy  string     `json:"generatedBy"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Dependency is a directed edge: TaskID depends on DependsOnID.
type Dependency struct {
	TaskID      string    `json:"taskId"`
	DependsOnID string    `json:"dependsOnId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	AuthorID  string    `json:"authorId"`
	Role      string    `json:"role"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ChatMessage struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionId"`
	UserID    string            `json:"userId,omitempty"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Stage     int               `json:"stage"`
	CreatedAt time.Time         `json:"createdAt"`
}

// IdeaState is the external AI service's working memory for a session.
// The payload is opaque to this application.
type IdeaState struct {
	SessionID string    `json:"sessionId"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Document struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BoardEntry is one top-level task with its direct subtasks in order.
type BoardEntry struct {
	Task     Task   `json:"task"`
	Subtasks []Task `json:"subtasks"`
}

// Board is the hierarchical view of a project's tasks. Dependency edges
// are carried alongside the tree, never folded into it.
type Board struct {
	ProjectID    string       `json:"projectId"`
	Entries      []BoardEntry `json:"entries"`
	Dependencies []Dependency `json:"dependencies"`
}
