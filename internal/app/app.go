package app

import (
	"fmt"
	"strings"
	"time"

	"sprintplanner/internal/util"
	"sprintplanner/pkg/domain"
	"sprintplanner/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL   string
	Store         store.Store
	RedisAddr     string
	RedisPassword string
}

// App is the core application service wiring together storage and
// task-board logic.
type App struct {
	store  store.Store
	stages *StageCache
}

// New constructs the application with database-backed storage.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	var stages *StageCache
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		stages = NewStageCache(cfg.RedisAddr, cfg.RedisPassword)
	}
	return &App{store: dataStore, stages: stages}, nil
}

// EnsureUser returns the account bound to the external identity,
// creating it on first successful authentication. The external id
// binding is immutable; email and name refresh on later logins.
func (a *App) EnsureUser(externalID, email, name string) (domain.User, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return domain.User{}, fmt.Errorf("%w: external id required", ErrInvalidInput)
	}
	existing, ok, err := a.store.GetUserByExternalID(externalID)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	now := time.Now().UTC()
	if ok {
		changed := false
		if email != "" && existing.Email != email {
			existing.Email = email
			changed = true
		}
		if name != "" && existing.Name != name {
			existing.Name = name
			changed = true
		}
		if changed {
			existing.UpdatedAt = now
			if err := a.store.SaveUser(existing); err != nil {
				return domain.User{}, fmt.Errorf("refresh user: %w", err)
			}
		}
		return existing, nil
	}
	user := domain.User{
		ID:         util.NewID(),
		ExternalID: externalID,
		Email:      email,
		Name:       name,
		Role:       domain.RoleIndividual,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// GetUser returns a user by internal id.
func (a *App) GetUser(id string) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}
