package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"tracehub/internal/config"
	"tracehub/internal/models"
	"tracehub/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockUserRepository is a mock of the UserRepository interface
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func TestSignup(t *testing.T) {
	tests := []struct {
		name           string
		body           map[string]string
		mockSetup      func(*MockUserRepository)
		expectedStatus int
		expectedCode   string
	}{
		{
			name: "Successful signup",
			body: map[string]string{"email": "Priya@SaiVidya.ac.in", "password": "hunter22"},
			mockSetup: func(m *MockUserRepository) {
				m.On("GetByEmail", mock.Anything, "priya@saividya.ac.in").Return(nil, nil)
				m.On("Create", mock.Anything, mock.AnythingOfType("*models.User")).
					Run(func(args mock.Arguments) { args.Get(1).(*models.User).ID = 7 }).
					Return(nil)
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Outside institution domain",
			body:           map[string]string{"email": "priya@gmail.com", "password": "hunter22"},
			mockSetup:      func(*MockUserRepository) {},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   models.CodeValidation,
		},
		{
			name:           "Weak password",
			body:           map[string]string{"email": "priya@saividya.ac.in", "password": "123"},
			mockSetup:      func(*MockUserRepository) {},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   models.CodeValidation,
		},
		{
			name: "User already exists",
			body: map[string]string{"email": "priya@saividya.ac.in", "password": "hunter22"},
			mockSetup: func(m *MockUserRepository) {
				m.On("GetByEmail", mock.Anything, "priya@saividya.ac.in").
					Return(&models.User{ID: 1, Email: "priya@saividya.ac.in"}, nil)
			},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   models.CodeValidation,
		},
		{
			name: "Database unavailable",
			body: map[string]string{"email": "priya@saividya.ac.in", "password": "hunter22"},
			mockSetup: func(m *MockUserRepository) {
				m.On("GetByEmail", mock.Anything, "priya@saividya.ac.in").
					Return(nil, models.NewUnavailableError(errors.New("connection refused")))
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   models.CodeUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockUserRepository)
			tt.mockSetup(mockRepo)

			s := &Server{
				config:      &config.Config{JWTSecret: testSecret},
				authService: service.NewAuthService(mockRepo, config.DefaultInstitutionDomain),
			}
			app := fiber.New()
			app.Post("/signup", s.Signup)

			raw, _ := json.Marshal(tt.body)
			req := httptest.NewRequest(http.MethodPost, "/signup", bytes.NewReader(raw))
			req.Header.Set("Content-Type", "application/json")
			resp, err := app.Test(req, 5000)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedCode != "" {
				var out models.ErrorResponse
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
				assert.Equal(t, tt.expectedCode, out.Code)
			}
			mockRepo.AssertExpectations(t)
		})
	}
}

func TestSignup_DomainCheckedBeforeLookup(t *testing.T) {
	mockRepo := new(MockUserRepository)
	s := &Server{
		config:      &config.Config{JWTSecret: testSecret},
		authService: service.NewAuthService(mockRepo, config.DefaultInstitutionDomain),
	}
	app := fiber.New()
	app.Post("/signup", s.Signup)

	req := httptest.NewRequest(http.MethodPost, "/signup",
		bytes.NewBufferString(`{"email":"x@saividya.ac.in.evil.com","password":"hunter22"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	mockRepo.AssertNotCalled(t, "GetByEmail", mock.Anything, mock.Anything)
	mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, false)
	env.signup(t, "kiran@saividya.ac.in")

	resp, body := env.do(t, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "kiran@saividya.ac.in", "password": "wrong-pass"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, models.CodeUnauthorized, decodeError(t, body).Code)

	resp, body = env.do(t, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "nobody@saividya.ac.in", "password": "hunter22"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid credentials", decodeError(t, body).Error)

	resp, body = env.do(t, http.MethodPost, "/api/auth/login",
		map[string]string{"email": " KIRAN@saividya.ac.in", "password": "hunter22"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out authResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.NotEmpty(t, out.Token)
	assert.Equal(t, "kiran@saividya.ac.in", out.User.Email)
	assert.True(t, out.ExpiresAt.After(out.User.CreatedAt))

	claims, err := env.srv.parseToken(out.Token)
	require.NoError(t, err)
	assert.Equal(t, "kiran@saividya.ac.in", claims["email"])
	assert.NotEmpty(t, claims["jti"])
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t, true)
	token, user := env.signup(t, "dev@saividya.ac.in")

	resp, body := env.do(t, http.MethodGet, "/api/auth/me", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me struct {
		User models.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(body, &me))
	assert.Equal(t, user.ID, me.User.ID)

	resp, _ = env.do(t, http.MethodPost, "/api/auth/logout", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/auth/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, decodeError(t, body).Error, "revoked")

	claims, err := env.srv.parseToken(token)
	require.NoError(t, err)
	ttl := env.mr.TTL("blacklist:" + claims["jti"].(string))
	assert.Greater(t, ttl.Hours(), float64(24))
}

func TestMe_DeletedAccount(t *testing.T) {
	env := newTestEnv(t, false)
	token, user := env.signup(t, "gone@saividya.ac.in")
	require.NoError(t, env.db.Unscoped().Delete(&models.User{}, user.ID).Error)

	resp, _ := env.do(t, http.MethodGet, "/api/auth/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
