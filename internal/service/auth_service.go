package service

import (
	"context"

	"tracehub/internal/models"
	"tracehub/internal/repository"
	"tracehub/internal/validation"

	"golang.org/x/crypto/bcrypt"
)

// AuthService registers and authenticates accounts.
type AuthService struct {
	users      repository.UserRepository
	domain     string
	bcryptCost int
}

// NewAuthService restricts sign-up to addresses ending in domain (e.g. "@saividya.ac.in").
func NewAuthService(users repository.UserRepository, domain string) *AuthService {
	return &AuthService{users: users, domain: domain, bcryptCost: bcrypt.DefaultCost}
}

// Register creates an account. The domain rule is checked before anything else.
func (s *AuthService) Register(ctx context.Context, email, password string) (*models.User, error) {
	if err := validation.ValidateInstitutionalEmail(email, s.domain); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePassword(password); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	email = validation.NormalizeEmail(email)

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, models.NewValidationError("An account with this email already exists")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	user := &models.User{Email: email, Password: string(hashed)}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate returns the user for valid credentials. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.users.GetByEmail(ctx, validation.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, models.NewUnauthorizedError("Invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, models.NewUnauthorizedError("Invalid credentials")
	}
	return user, nil
}

// User loads an account by id.
func (s *AuthService) User(ctx context.Context, id uint) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}
