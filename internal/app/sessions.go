package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"sprintplanner/internal/util"
	"sprintplanner/pkg/domain"
)

// Stage bounds for the onboarding/idea-development flow.
const (
	MinStage = 1
	MaxStage = 9
)

// StageCache mirrors each session's current stage to Redis so the relay
// path can read it without touching Postgres. Best effort only.
type StageCache struct {
	client *redis.Client
}

// NewStageCache builds a Redis-backed stage cache.
func NewStageCache(addr, password string) *StageCache {
	return &StageCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

func (c *StageCache) key(sessionID string) string {
	return "sprintplanner:session:stage:" + sessionID
}

// Set records the stage for a session.
func (c *StageCache) Set(sessionID string, stage int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.client.Set(ctx, c.key(sessionID), stage, 0).Err()
}

// Get returns the cached stage, or false when absent.
func (c *StageCache) Get(sessionID string) (int, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stage, err := c.client.Get(ctx, c.key(sessionID)).Int()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return stage, true, nil
}

// Delete drops the cached stage for a session.
func (c *StageCache) Delete(sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.client.Del(ctx, c.key(sessionID)).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

// NewSessionID mints a collision-resistant session identifier.
func NewSessionID() string {
	return util.NewID()
}

// ClearSession mints a replacement session id and purges the old
// session's idea state and chat log. Returns the new id.
func (a *App) ClearSession(oldSessionID string) (string, error) {
	oldSessionID = strings.TrimSpace(oldSessionID)
	if oldSessionID != "" {
		if err := a.store.DeleteSessionData(oldSessionID); err != nil {
			return "", fmt.Errorf("purge session data: %w", err)
		}
		if a.stages != nil {
			_ = a.stages.Delete(oldSessionID)
		}
	}
	return NewSessionID(), nil
}

// IdeaState reads the opaque per-session payload.
func (a *App) IdeaState(sessionID string) (domain.IdeaState, bool, error) {
	state, ok, err := a.store.GetIdeaState(sessionID)
	if err != nil {
		return domain.IdeaState{}, false, fmt.Errorf("load idea state: %w", err)
	}
	return state, ok, nil
}

// SaveIdeaState upserts the per-session payload. The payload is opaque
// but must be valid JSON since it lands in a jsonb column.
func (a *App) SaveIdeaState(sessionID string, payload []byte) (domain.IdeaState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.IdeaState{}, fmt.Errorf("%w: session id required", ErrInvalidInput)
	}
	if !json.Valid(payload) {
		return domain.IdeaState{}, fmt.Errorf("%w: idea state payload must be JSON", ErrInvalidInput)
	}
	now := time.Now().UTC()
	state := domain.IdeaState{
		SessionID: sessionID,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.UpsertIdeaState(state); err != nil {
		return domain.IdeaState{}, fmt.Errorf("save idea state: %w", err)
	}
	return state, nil
}

// AppendChatMessage records a session chat log entry after checking the
// stage range.
func (a *App) AppendChatMessage(sessionID, userID, role, content string, metadata map[string]string, stage int) (domain.ChatMessage, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.ChatMessage{}, fmt.Errorf("%w: session id required", ErrInvalidInput)
	}
	switch role {
	case "user", "assistant", "system":
	default:
		return domain.ChatMessage{}, fmt.Errorf("%w: unknown message role %q", ErrInvalidInput, role)
	}
	if stage < MinStage || stage > MaxStage {
		return domain.ChatMessage{}, fmt.Errorf("%w: stage %d outside [%d, %d]", ErrInvalidInput, stage, MinStage, MaxStage)
	}
	msg := domain.ChatMessage{
		ID:        util.NewID(),
		SessionID: sessionID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		Stage:     stage,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.AppendChatMessage(msg); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("save chat message: %w", err)
	}
	if a.stages != nil {
		_ = a.stages.Set(sessionID, stage)
	}
	return msg, nil
}

// ChatHistory returns the session's chat log in chronological order.
func (a *App) ChatHistory(sessionID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	msgs, err := a.store.ListChatMessages(sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	return msgs, nil
}

// SessionStage returns the session's latest stage, preferring the cache
// and falling back to the newest chat log entry.
func (a *App) SessionStage(sessionID string) (int, error) {
	if a.stages != nil {
		if stage, ok, err := a.stages.Get(sessionID); err == nil && ok {
			return stage, nil
		}
	}
	msgs, err := a.store.ListChatMessages(sessionID, 1)
	if err != nil {
		return 0, fmt.Errorf("list chat messages: %w", err)
	}
	if len(msgs) == 0 {
		return MinStage, nil
	}
	return msgs[len(msgs)-1].Stage, nil
}
