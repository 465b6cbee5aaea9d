package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"sprintplanner/pkg/domain"
)

const migrateLockID int64 = 52815281

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{}, &ProjectModel{}, &TaskModel{}, &DependencyModel{},
			&CommentModel{}, &ChatMessageModel{}, &IdeaStateModel{}, &DocumentModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		// Ownership cascades are enforced uniformly: deleting a project
		// removes its tasks and documents, deleting a task removes its
		// dependency edges and comments.
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'task_models'
					AND constraint_name = 'task_models_project_id_fkey'
				) THEN
					ALTER TABLE task_models
					ADD CONSTRAINT task_models_project_id_fkey
					FOREIGN KEY (project_id) REFERENCES project_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'document_models'
					AND constraint_name = 'document_models_project_id_fkey'
				) THEN
					ALTER TABLE document_models
					ADD CONSTRAINT document_models_project_id_fkey
					FOREIGN KEY (project_id) REFERENCES project_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'dependency_models'
					AND constraint_name = 'dependency_models_task_id_fkey'
				) THEN
					ALTER TABLE dependency_models
					ADD CONSTRAINT dependency_models_task_id_fkey
					FOREIGN KEY (task_id) REFERENCES task_models(id) ON DELETE CASCADE;
					ALTER TABLE dependency_models
					ADD CONSTRAINT dependency_models_depends_on_id_fkey
					FOREIGN KEY (depends_on_id) REFERENCES task_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'comment_models'
					AND constraint_name = 'comment_models_task_id_fkey'
				) THEN
					ALTER TABLE comment_models
					ADD CONSTRAINT comment_models_task_id_fkey
					FOREIGN KEY (task_id) REFERENCES task_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user. The external identity binding is
// immutable, so conflicts never reassign external_id.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "role", "description", "profession", "updated_at"}),
	}).Create(&model).Error
}

// GetUserByID returns a user by internal ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByExternalID looks up a user by identity-provider ID.
func (s *GormStore) GetUserByExternalID(externalID string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "external_id = ?", externalID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveProject stores or updates a project.
func (s *GormStore) SaveProject(p domain.Project) error {
	model, err := projectToModel(p)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "status", "lead_user_id", "team_member_ids", "updated_at"}),
	}).Create(&model).Error
}

// GetProject retrieves a project by ID.
func (s *GormStore) GetProject(id string) (domain.Project, bool, error) {
	var model ProjectModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Project{}, false, nil
		}
		return domain.Project{}, false, err
	}
	return projectFromModel(model), true, nil
}

// GetProjectByKey retrieves a project by its human-readable key.
func (s *GormStore) GetProjectByKey(key string) (domain.Project, bool, error) {
	var model ProjectModel
	if err := s.db.First(&model, "key = ?", key).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Project{}, false, nil
		}
		return domain.Project{}, false, err
	}
	return projectFromModel(model), true, nil
}

// ListProjects returns all projects ordered by created_at.
func (s *GormStore) ListProjects() ([]domain.Project, error) {
	var models []ProjectModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Project, 0, len(models))
	for _, m := range models {
		res = append(res, projectFromModel(m))
	}
	return res, nil
}

// DeleteProject removes a project; tasks and documents go with it via FK cascade.
func (s *GormStore) DeleteProject(id string) error {
	return s.db.Delete(&ProjectModel{}, "id = ?", id).Error
}

// SaveTask stores or updates a task. Key and created_at are immutable
// after creation.
func (s *GormStore) SaveTask(t domain.Task) error {
	model := taskToModel(t)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "description", "status", "priority",
			"assignee_id", "reporter_id", "parent_task_id", "due_date", "updated_at",
		}),
	}).Create(&model).Error
}

// GetTask retrieves a task.
func (s *GormStore) GetTask(id string) (domain.Task, bool, error) {
	var model TaskModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Task{}, false, nil
		}
		return domain.Task{}, false, err
	}
	return taskFromModel(model), true, nil
}

// ListTasksByProject returns the project's tasks in creation order.
func (s *GormStore) ListTasksByProject(projectID string) ([]domain.Task, error) {
	var models []TaskModel
	if err := s.db.Where("project_id = ?", projectID).
		Order("created_at ASC").Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Task, 0, len(models))
	for _, m := range models {
		res = append(res, taskFromModel(m))
	}
	return res, nil
}

// CountTasksByProject returns how many tasks a project holds, used for
// key allocation.
func (s *GormStore) CountTasksByProject(projectID string) (int, error) {
	var count int64
	if err := s.db.Model(&TaskModel{}).Where("project_id = ?", projectID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// DeleteTask removes a task; dependency edges and comments cascade.
func (s *GormStore) DeleteTask(id string) error {
	return s.db.Delete(&TaskModel{}, "id = ?", id).Error
}

// AddDependency inserts a directed edge; duplicate pairs are idempotent.
func (s *GormStore) AddDependency(d domain.Dependency) error {
	model := DependencyModel{TaskID: d.TaskID, DependsOnID: d.DependsOnID, CreatedAt: d.CreatedAt}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
}

// ListDependenciesByProject returns all edges whose source task belongs to the project.
func (s *GormStore) ListDependenciesByProject(projectID string) ([]domain.Dependency, error) {
	var models []DependencyModel
	if err := s.db.
		Joins("JOIN task_models ON task_models.id = dependency_models.task_id").
		Where("task_models.project_id = ?", projectID).
		Order("dependency_models.created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Dependency, 0, len(models))
	for _, m := range models {
		res = append(res, domain.Dependency{TaskID: m.TaskID, DependsOnID: m.DependsOnID, CreatedAt: m.CreatedAt})
	}
	return res, nil
}

// AppendComment records a comment on a task.
func (s *GormStore) AppendComment(c domain.Comment) error {
	model := commentToModel(c)
	return s.db.Create(&model).Error
}

// ListCommentsByTask returns comments in chronological order.
func (s *GormStore) ListCommentsByTask(taskID string) ([]domain.Comment, error) {
	var models []CommentModel
	if err := s.db.Where("task_id = ?", taskID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Comment, 0, len(models))
	for _, m := range models {
		res = append(res, commentFromModel(m))
	}
	return res, nil
}

// AppendChatMessage records a session chat log entry.
func (s *GormStore) AppendChatMessage(msg domain.ChatMessage) error {
	model := chatMessageToModel(msg)
	return s.db.Create(&model).Error
}

// ListChatMessages returns the most recent session messages (newest
// first in the query, then reversed to chronological order).
func (s *GormStore) ListChatMessages(sessionID string, limit int) ([]domain.ChatMessage, error) {
	query := s.db.Where("session_id = ?", sessionID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []ChatMessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.ChatMessage, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msgs = append(msgs, chatMessageFromModel(models[i]))
	}
	return msgs, nil
}

// UpsertIdeaState writes the opaque per-session payload.
func (s *GormStore) UpsertIdeaState(state domain.IdeaState) error {
	model := IdeaStateModel{
		SessionID: state.SessionID,
		Payload:   append([]byte(nil), state.Payload...),
		CreatedAt: state.CreatedAt,
		UpdatedAt: state.UpdatedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&model).Error
}

// GetIdeaState reads the per-session payload.
func (s *GormStore) GetIdeaState(sessionID string) (domain.IdeaState, bool, error) {
	var model IdeaStateModel
	if err := s.db.First(&model, "session_id = ?", sessionID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.IdeaState{}, false, nil
		}
		return domain.IdeaState{}, false, err
	}
	return domain.IdeaState{
		SessionID: model.SessionID,
		Payload:   append([]byte(nil), model.Payload...),
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}, true, nil
}

// DeleteSessionData purges idea state and chat log rows for a session.
func (s *GormStore) DeleteSessionData(sessionID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChatMessageModel{}, "session_id = ?", sessionID).Error; err != nil {
			return err
		}
		return tx.Delete(&IdeaStateModel{}, "session_id = ?", sessionID).Error
	})
}

// SaveDocument stores or updates a project document.
func (s *GormStore) SaveDocument(d domain.Document) error {
	model := DocumentModel{
		ID:        d.ID,
		ProjectID: d.ProjectID,
		Title:     d.Title,
		Content:   d.Content,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "content", "updated_at"}),
	}).Create(&model).Error
}

// ListDocumentsByProject returns documents in creation order.
func (s *GormStore) ListDocumentsByProject(projectID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Where("project_id = ?", projectID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, domain.Document{
			ID:        m.ID,
			ProjectID: m.ProjectID,
			Title:     m.Title,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		})
	}
	return res, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:          u.ID,
		ExternalID:  u.ExternalID,
		Email:       u.Email,
		Name:        u.Name,
		Role:        string(u.Role),
		Description: u.Description,
		Profession:  u.Profession,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	role := domain.UserRole(m.Role)
	if role == "" {
		role = domain.RoleIndividual
	}
	return domain.User{
		ID:          m.ID,
		ExternalID:  m.ExternalID,
		Email:       m.Email,
		Name:        m.Name,
		Role:        role,
		Description: m.Description,
		Profession:  m.Profession,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func projectToModel(p domain.Project) (ProjectModel, error) {
	members := p.TeamMemberIDs
	if members == nil {
		members = []string{}
	}
	raw, err := json.Marshal(members)
	if err != nil {
		return ProjectModel{}, fmt.Errorf("marshal team members: %w", err)
	}
	return ProjectModel{
		ID:            p.ID,
		Key:           p.Key,
		Name:          p.Name,
		Description:   p.Description,
		Status:        string(p.Status),
		LeadUserID:    p.LeadUserID,
		TeamMemberIDs: raw,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}, nil
}

func projectFromModel(m ProjectModel) domain.Project {
	var members []string
	if len(m.TeamMemberIDs) > 0 {
		_ = json.Unmarshal(m.TeamMemberIDs, &members)
	}
	return domain.Project{
		ID:            m.ID,
		Key:           m.Key,
		Name:          m.Name,
		Description:   m.Description,
		Status:        domain.ProjectStatus(m.Status),
		LeadUserID:    m.LeadUserID,
		TeamMemberIDs: members,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func taskToModel(t domain.Task) TaskModel {
	return TaskModel{
		ID:           t.ID,
		ProjectID:    t.ProjectID,
		Key:          t.Key,
		Title:        t.Title,
		Description:  t.Description,
		Status:       string(t.Status),
		Priority:     t.Priority,
		AssigneeID:   optionalString(t.AssigneeID),
		ReporterID:   optionalString(t.ReporterID),
		ParentTaskID: optionalString(t.ParentTaskID),
		DueDate:      t.DueDate,
		GeneratedBy:  t.GeneratedBy,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func taskFromModel(m TaskModel) domain.Task {
	return domain.Task{
		ID:           m.ID,
		ProjectID:    m.ProjectID,
		Key:          m.Key,
		Title:        m.Title,
		Description:  m.Description,
		Status:       domain.TaskStatus(m.Status),
		Priority:     m.Priority,
		AssigneeID:   derefString(m.AssigneeID),
		ReporterID:   derefString(m.ReporterID),
		ParentTaskID: derefString(m.ParentTaskID),
		DueDate:      m.DueDate,
		GeneratedBy:  m.GeneratedBy,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func commentToModel(c domain.Comment) CommentModel {
	return CommentModel{
		ID:        c.ID,
		TaskID:    c.TaskID,
		AuthorID:  c.AuthorID,
		Role:      c.Role,
		Body:      c.Body,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func commentFromModel(m CommentModel) domain.Comment {
	return domain.Comment{
		ID:        m.ID,
		TaskID:    m.TaskID,
		AuthorID:  m.AuthorID,
		Role:      m.Role,
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func chatMessageToModel(msg domain.ChatMessage) ChatMessageModel {
	meta, _ := json.Marshal(msg.Metadata)
	return ChatMessageModel{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		UserID:    optionalString(msg.UserID),
		Role:      msg.Role,
		Content:   msg.Content,
		Metadata:  meta,
		Stage:     msg.Stage,
		CreatedAt: msg.CreatedAt,
	}
}

func chatMessageFromModel(m ChatMessageModel) domain.ChatMessage {
	var meta map[string]string
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.ChatMessage{
		ID:        m.ID,
		SessionID: m.SessionID,
		UserID:    derefString(m.UserID),
		Role:      m.Role,
		Content:   m.Content,
		Metadata:  meta,
		Stage:     m.Stage,
		CreatedAt: m.CreatedAt,
	}
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
