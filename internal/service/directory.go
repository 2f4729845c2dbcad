package service

import (
	"context"
	"errors"

	"github.com/noah-isme/upskill-api/internal/models"
	"github.com/noah-isme/upskill-api/internal/repository"
)

// Directory resolves principals. It is the engine's only view of identity.
type Directory interface {
	ResolveUser(ctx context.Context, id string) (models.User, error)
	// RankedUsers lists the leaderboard population, optionally limited to one team.
	RankedUsers(ctx context.Context, teamID *string) ([]models.User, error)
}

type directory struct {
	users repository.UserRepository
}

// NewDirectory wraps the read-only user repository.
func NewDirectory(users repository.UserRepository) Directory {
	return &directory{users: users}
}

func (d *directory) ResolveUser(ctx context.Context, id string) (models.User, error) {
	user, err := d.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.User{}, notFoundError("user " + id)
		}
		return models.User{}, storageError("", err)
	}

	return user, nil
}

func (d *directory) RankedUsers(ctx context.Context, teamID *string) ([]models.User, error) {
	users, err := d.users.List(ctx, repository.UserFilter{
		TeamID: teamID,
		Roles:  []string{models.RoleEmployee, models.RoleLead},
	})
	if err != nil {
		return nil, storageError("", err)
	}

	return users, nil
}
