package service

import (
	"context"
	"testing"

	"tracehub/internal/config"
	"tracehub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newAuthService(users *userRepoStub) *AuthService {
	svc := NewAuthService(users, config.DefaultInstitutionDomain)
	svc.bcryptCost = bcrypt.MinCost
	return svc
}

func TestAuthService_Register_DomainCheckedFirst(t *testing.T) {
	t.Parallel()

	users := noopUserRepo()
	users.getByEmailFn = func(context.Context, string) (*models.User, error) {
		t.Error("domain rejection must happen before any lookup")
		return nil, nil
	}
	svc := newAuthService(users)

	_, err := svc.Register(context.Background(), "someone@gmail.com", "secret1")
	assertCode(t, err, models.CodeValidation)
}

func TestAuthService_Register(t *testing.T) {
	var stored *models.User
	users := noopUserRepo()
	users.createFn = func(_ context.Context, u *models.User) error { u.ID = 7; stored = u; return nil }
	svc := newAuthService(users)

	_, err := svc.Register(context.Background(), "kiran@saividya.ac.in", "123")
	assertCode(t, err, models.CodeValidation)

	u, err := svc.Register(context.Background(), " Kiran@SaiVidya.ac.in ", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "kiran@saividya.ac.in", u.Email)
	require.NotNil(t, stored)
	assert.NotEqual(t, "secret1", stored.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("secret1")))
}

func TestAuthService_Register_Duplicate(t *testing.T) {
	users := noopUserRepo()
	users.getByEmailFn = func(_ context.Context, email string) (*models.User, error) {
		return &models.User{ID: 2, Email: email}, nil
	}
	_, err := newAuthService(users).Register(context.Background(), "kiran@saividya.ac.in", "secret1")
	assertCode(t, err, models.CodeValidation)
}

func TestAuthService_Authenticate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	require.NoError(t, err)
	users := noopUserRepo()
	users.getByEmailFn = func(_ context.Context, email string) (*models.User, error) {
		if email == "kiran@saividya.ac.in" {
			return &models.User{ID: 3, Email: email, Password: string(hash)}, nil
		}
		return nil, nil
	}
	svc := newAuthService(users)

	u, err := svc.Authenticate(context.Background(), "KIRAN@saividya.ac.in", "secret1")
	require.NoError(t, err)
	assert.Equal(t, uint(3), u.ID)

	_, err = svc.Authenticate(context.Background(), "kiran@saividya.ac.in", "wrong")
	assertCode(t, err, models.CodeUnauthorized)

	_, err = svc.Authenticate(context.Background(), "ghost@saividya.ac.in", "secret1")
	assertCode(t, err, models.CodeUnauthorized)
}
