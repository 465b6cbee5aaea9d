package store

import "sprintplanner/pkg/domain"

// Store defines persistence operations for the planner entities.
type Store interface {
	// users
	SaveUser(domain.User) error
	GetUserByID(id string) (domain.User, bool, error)
	GetUserByExternalID(externalID string) (domain.User, bool, error)

	// projects
	SaveProject(domain.Project) error
	GetProject(id string) (domain.Project, bool, error)
	GetProjectByKey(key string) (domain.Project, bool, error)
	ListProjects() ([]domain.Project, error)
	DeleteProject(id string) error

	// tasks
	SaveTask(domain.Task) error
	GetTask(id string) (domain.Task, bool, error)
	ListTasksByProject(projectID string) ([]domain.Task, error)
	CountTasksByProject(projectID string) (int, error)
	DeleteTask(id string) error

	// dependencies
	AddDependency(domain.Dependency) error
	ListDependenciesByProject(projectID string) ([]domain.Dependency, error)

	// comments
	AppendComment(domain.Comment) error
	ListCommentsByTask(taskID string) ([]domain.Comment, error)

	// chat log
	AppendChatMessage(domain.ChatMessage) error
	ListChatMessages(sessionID string, limit int) ([]domain.ChatMessage, error)

	// idea state
	UpsertIdeaState(domain.IdeaState) error
	GetIdeaState(sessionID string) (domain.IdeaState, bool, error)
	DeleteSessionData(sessionID string) error

	// documents
	SaveDocument(domain.Document) error
	ListDocumentsByProject(projectID string) ([]domain.Document, error)
}
