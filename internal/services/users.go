package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"expensetracker/internal/core"
	"expensetracker/internal/storage"
)

// EnsureUser creates or updates the user record. An empty name or email
// keeps the stored value.
func EnsureUser(ctx context.Context, store storage.UserStore, u core.User) (*core.User, error) {
	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return nil, fmt.Errorf("ensure user: %w", core.ErrUserNotFound)
	}
	prev, err := store.GetUser(ctx, u.ID)
	switch {
	case err == nil:
		if u.Name == "" {
			u.Name = prev.Name
		}
		if u.Email == "" {
			u.Email = prev.Email
		}
	case !errors.Is(err, core.ErrUserNotFound):
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	if err := store.SaveUser(ctx, u); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return &u, nil
}
