package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/upskill-api/internal/models"
)

// UserFilter narrows directory listings.
type UserFilter struct {
	TeamID *string
	Roles  []string
}

// UserRepository reads identities from the directory table. It never writes.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (models.User, error)
	List(ctx context.Context, filter UserFilter) ([]models.User, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository constructs a read-only directory repository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return models.User{}, translate(err, "load user")
	}

	return user, nil
}

func (r *userRepository) List(ctx context.Context, filter UserFilter) ([]models.User, error) {
	query := r.db.WithContext(ctx).Model(&models.User{})

	if filter.TeamID != nil {
		query = query.Where("team_id = ?", *filter.TeamID)
	}

	if len(filter.Roles) > 0 {
		query = query.Where("role IN ?", filter.Roles)
	}

	var users []models.User
	if err := query.Order("id ASC").Find(&users).Error; err != nil {
		return nil, translate(err, "list users")
	}

	return users, nil
}
