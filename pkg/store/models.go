package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID          string `gorm:"primaryKey"`
	ExternalID  string `gorm:"uniqueIndex;not null"`
	Email       string `gorm:"not null"`
	Name        string
	Role        string `gorm:"not null"`
	Description string
	Profession  string
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time
}

type ProjectModel struct {
	ID            string `gorm:"primaryKey"`
	Key           string `gorm:"uniqueIndex;not null"`
	Name          string `gorm:"not null"`
	Description   string
	Status        string         `gorm:"not null"`
	LeadUserID    string         `gorm:"not null;index"`
	TeamMemberIDs datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt     time.Time      `gorm:"not null"`
	UpdatedAt     time.Time
}

type TaskModel struct {
	ID           string `gorm:"primaryKey"`
	ProjectID    string `gorm:"not null;index"`
	Key          string `gorm:"uniqueIndex;not null"`
	Title        string `gorm:"not null"`
	Description  string `gorm:"type:text"`
	Status       string `gorm:"not null;index"`
	Priority     string
	AssigneeID   *string
	ReporterID   *string
	ParentTaskID *string `gorm:"index"`
	DueDate      *time.Time
	GeneratedBy  string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;index"`
	UpdatedAt    time.Time `gorm:"not null"`
}

type DependencyModel struct {
	TaskID      string    `gorm:"primaryKey"`
	DependsOnID string    `gorm:"primaryKey"`
	CreatedAt   time.Time `gorm:"not null"`
}

type CommentModel struct {
	ID        string    `gorm:"primaryKey"`
	TaskID    string    `gorm:"not null;index"`
	AuthorID  string    `gorm:"not null"`
	Role      string    `gorm:"not null"`
	Body      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time
}

type ChatMessageModel struct {
	ID        string  `gorm:"primaryKey"`
	SessionID string  `gorm:"not null;index"`
	UserID    *string
	Role      string         `gorm:"not null"`
	Content   string         `gorm:"type:text;not null"`
	Metadata  datatypes.JSON `gorm:"type:jsonb"`
	Stage     int            `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null;index"`
}

type IdeaStateModel struct {
	SessionID string         `gorm:"primaryKey"`
	Payload   datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

type DocumentModel struct {
	ID        string    `gorm:"primaryKey"`
	ProjectID string    `gorm:"not null;index"`
	Title     string    `gorm:"not null"`
	Content   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}
