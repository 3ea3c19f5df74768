package repository

import (
	"context"
	"errors"
	"strings"

	"tracehub/internal/models"
	"tracehub/internal/observability"

	"gorm.io/gorm"
)

// UserRepository stores accounts. Emails are kept lowercase.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a gorm-backed UserRepository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	defer observability.TrackQuery("get", "users")()
	u := new(models.User)
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(u).Error
	if err != nil {
		return nil, classifyError(err, "User", id)
	}
	return u, nil
}

// GetByEmail returns (nil, nil) when no account uses the address.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	defer observability.TrackQuery("get_by_email", "users")()
	email = strings.ToLower(strings.TrimSpace(email))
	u := new(models.User)
	err := r.db.WithContext(ctx).Where("email = ?", email).Take(u).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, classifyError(err, "User", email)
	}
	return u, nil
}

// Create inserts user. A taken email is a validation error, not a conflict,
// so sign-up can show it next to the field.
func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	defer observability.TrackQuery("create", "users")()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	err := r.db.WithContext(ctx).Create(user).Error
	if err == nil {
		return nil
	}
	if isUniqueConstraintError(err) {
		return models.NewValidationError("An account with this email already exists")
	}
	return classifyError(err, "User", user.Email)
}
