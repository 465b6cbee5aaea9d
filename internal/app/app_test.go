package app

import (
	"errors"
	"testing"

	"sprintplanner/pkg/domain"
)

func TestEnsureUserProvisionsOnce(t *testing.T) {
	a, _ := newTestApp(t)

	first, err := a.EnsureUser("ext-42", "a@example.com", "Alice")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if first.ExternalID != "ext-42" || first.Role != domain.RoleIndividual {
		t.Fatalf("user = %+v", first)
	}

	// Same external identity, refreshed profile fields, same account.
	second, err := a.EnsureUser("ext-42", "new@example.com", "Alice B")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("new account minted for the same identity")
	}
	if second.Email != "new@example.com" || second.Name != "Alice B" {
		t.Fatalf("profile not refreshed: %+v", second)
	}

	if _, err := a.EnsureUser("", "x@example.com", "X"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty external id: %v", err)
	}
}

func TestGetUser(t *testing.T) {
	a, _ := newTestApp(t)
	user, err := a.EnsureUser("ext-1", "a@example.com", "A")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	got, err := a.GetUser(user.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("got = %+v", got)
	}
	if _, err := a.GetUser("44444444-4444-4444-4444-444444444444"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("missing user: %v", err)
	}
}
