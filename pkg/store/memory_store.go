package store

import (
	"fmt"
	"sort"
	"sync"

	"sprintplanner/pkg/domain"
)

// MemoryStore keeps everything in-process; used by tests and local runs
// without Postgres.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]domain.User
	byExternal map[string]string // external id -> user id
	projects   map[string]domain.Project
	projOrder  []string
	tasks      map[string]domain.Task
	taskOrder  []string
	taskKeys   map[string]struct{}
	deps       map[string]map[string]domain.Dependency // task id -> depends-on id -> edge
	comments   map[string][]domain.Comment             // task id -> comments
	chat       map[string][]domain.ChatMessage         // session id -> messages
	ideaState  map[string]domain.IdeaState
	documents  map[string][]domain.Document // project id -> documents
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]domain.User),
		byExternal: make(map[string]string),
		projects:   make(map[string]domain.Project),
		tasks:      make(map[string]domain.Task),
		taskKeys:   make(map[string]struct{}),
		deps:       make(map[string]map[string]domain.Dependency),
		comments:   make(map[string][]domain.Comment),
		chat:       make(map[string][]domain.ChatMessage),
		ideaState:  make(map[string]domain.IdeaState),
		documents:  make(map[string][]domain.Document),
	}
}

// SaveUser registers or updates a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[u.ID]; ok && existing.ExternalID != u.ExternalID {
		return fmt.Errorf("external id is immutable")
	}
	m.users[u.ID] = u
	m.byExternal[u.ExternalID] = u.ID
	return nil
}

// GetUserByID returns a user by internal ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByExternalID looks up a user by identity-provider ID.
func (m *MemoryStore) GetUserByExternalID(externalID string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byExternal[externalID]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// SaveProject stores or replaces a project and tracks insertion order.
func (m *MemoryStore) SaveProject(p domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.projects {
		if existing.Key == p.Key && id != p.ID {
			return fmt.Errorf("project key %q already taken", p.Key)
		}
	}
	if _, exists := m.projects[p.ID]; !exists {
		m.projOrder = append(m.projOrder, p.ID)
	}
	m.projects[p.ID] = p
	return nil
}

// GetProject retrieves a project by ID.
func (m *MemoryStore) GetProject(id string) (domain.Project, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	return p, ok, nil
}

// GetProjectByKey retrieves a project by key.
func (m *MemoryStore) GetProjectByKey(key string) (domain.Project, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.projects {
		if p.Key == key {
			return p, true, nil
		}
	}
	return domain.Project{}, false, nil
}

// ListProjects returns projects in insertion order.
func (m *MemoryStore) ListProjects() ([]domain.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Project, 0, len(m.projOrder))
	for _, id := range m.projOrder {
		if p, ok := m.projects[id]; ok {
			res = append(res, p)
		}
	}
	return res, nil
}

// DeleteProject removes a project and cascades to its tasks and documents.
func (m *MemoryStore) DeleteProject(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, id)
	m.projOrder = removeID(m.projOrder, id)
	for taskID, task := range m.tasks {
		if task.ProjectID == id {
			m.deleteTaskLocked(taskID)
		}
	}
	delete(m.documents, id)
	return nil
}

// SaveTask stores or replaces a task and tracks insertion order.
func (m *MemoryStore) SaveTask(t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, exists := m.tasks[t.ID]
	if !exists {
		if _, taken := m.taskKeys[t.Key]; taken {
			return fmt.Errorf("task key %q already taken", t.Key)
		}
		m.taskOrder = append(m.taskOrder, t.ID)
		m.taskKeys[t.Key] = struct{}{}
	} else {
		// Key and creation time are immutable after creation.
		t.Key = existing.Key
		t.CreatedAt = existing.CreatedAt
	}
	m.tasks[t.ID] = t
	return nil
}

// GetTask retrieves a task.
func (m *MemoryStore) GetTask(id string) (domain.Task, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	return t, ok, nil
}

// ListTasksByProject returns the project's tasks in creation order.
func (m *MemoryStore) ListTasksByProject(projectID string) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Task, 0)
	for _, id := range m.taskOrder {
		if t, ok := m.tasks[id]; ok && t.ProjectID == projectID {
			res = append(res, t)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

// CountTasksByProject returns how many tasks a project holds.
func (m *MemoryStore) CountTasksByProject(projectID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, t := range m.tasks {
		if t.ProjectID == projectID {
			count++
		}
	}
	return count, nil
}

// DeleteTask removes a task, its dependency edges, and its comments.
func (m *MemoryStore) DeleteTask(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteTaskLocked(id)
	return nil
}

func (m *MemoryStore) deleteTaskLocked(id string) {
	if t, ok := m.tasks[id]; ok {
		delete(m.taskKeys, t.Key)
	}
	delete(m.tasks, id)
	m.taskOrder = removeID(m.taskOrder, id)
	delete(m.deps, id)
	for taskID, edges := range m.deps {
		delete(edges, id)
		if len(edges) == 0 {
			delete(m.deps, taskID)
		}
	}
	delete(m.comments, id)
}

// AddDependency inserts a directed edge; duplicate pairs are idempotent.
func (m *MemoryStore) AddDependency(d domain.Dependency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	edges, ok := m.deps[d.TaskID]
	if !ok {
		edges = make(map[string]domain.Dependency)
		m.deps[d.TaskID] = edges
	}
	if _, exists := edges[d.DependsOnID]; !exists {
		edges[d.DependsOnID] = d
	}
	return nil
}

// ListDependenciesByProject returns edges sourced from the project's tasks.
func (m *MemoryStore) ListDependenciesByProject(projectID string) ([]domain.Dependency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Dependency, 0)
	for taskID, edges := range m.deps {
		t, ok := m.tasks[taskID]
		if !ok || t.ProjectID != projectID {
			continue
		}
		for _, edge := range edges {
			res = append(res, edge)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].TaskID == res[j].TaskID {
			return res[i].DependsOnID < res[j].DependsOnID
		}
		return res[i].TaskID < res[j].TaskID
	})
	return res, nil
}

// AppendComment records a comment linked to a task.
func (m *MemoryStore) AppendComment(c domain.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comments[c.TaskID] = append(m.comments[c.TaskID], c)
	return nil
}

// ListCommentsByTask returns comments in append order.
func (m *MemoryStore) ListCommentsByTask(taskID string) ([]domain.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Comment(nil), m.comments[taskID]...), nil
}

// AppendChatMessage records a session chat log entry.
func (m *MemoryStore) AppendChatMessage(msg domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chat[msg.SessionID] = append(m.chat[msg.SessionID], msg)
	return nil
}

// ListChatMessages returns session messages in append order.
func (m *MemoryStore) ListChatMessages(sessionID string, limit int) ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.chat[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.ChatMessage(nil), msgs...), nil
}

// UpsertIdeaState writes the opaque per-session payload.
func (m *MemoryStore) UpsertIdeaState(state domain.IdeaState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.ideaState[state.SessionID]; ok {
		state.CreatedAt = existing.CreatedAt
	}
	state.Payload = append([]byte(nil), state.Payload...)
	m.ideaState[state.SessionID] = state
	return nil
}

// GetIdeaState reads the per-session payload.
func (m *MemoryStore) GetIdeaState(sessionID string) (domain.IdeaState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.ideaState[sessionID]
	return state, ok, nil
}

// DeleteSessionData purges idea state and chat log rows for a session.
func (m *MemoryStore) DeleteSessionData(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ideaState, sessionID)
	delete(m.chat, sessionID)
	return nil
}

// SaveDocument stores or updates a project document.
func (m *MemoryStore) SaveDocument(d domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.documents[d.ProjectID]
	for i, existing := range docs {
		if existing.ID == d.ID {
			docs[i] = d
			return nil
		}
	}
	m.documents[d.ProjectID] = append(docs, d)
	return nil
}

// ListDocumentsByProject returns documents in append order.
func (m *MemoryStore) ListDocumentsByProject(projectID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Document(nil), m.documents[projectID]...), nil
}

func removeID(ids []string, id string) []string {
	filtered := ids[:0]
	for _, item := range ids {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	return filtered
}
