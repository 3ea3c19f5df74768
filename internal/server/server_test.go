package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tracehub/internal/config"
	"tracehub/internal/models"
	"tracehub/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

type testEnv struct {
	srv *Server
	app *fiber.App
	db  *gorm.DB
	mr  *miniredis.Miniredis
	rdb *redis.Client
	cfg *config.Config
}

// newTestEnv builds a server on sqlite. withRedis adds a miniredis instance.
func newTestEnv(t *testing.T, withRedis bool, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	env := &testEnv{db: testutil.NewTestDB(t)}
	if withRedis {
		env.mr, env.rdb = testutil.NewRedis(t)
	}
	env.cfg = &config.Config{
		JWTSecret:            testSecret,
		InstitutionDomain:    config.DefaultInstitutionDomain,
		ImageUploadDir:       t.TempDir(),
		ImageMaxUploadSizeMB: 2,
		PublicMediaURL:       "/media",
	}
	for _, m := range mutate {
		m(env.cfg)
	}

	srv, err := NewServerWithDeps(env.cfg, env.db, env.rdb)
	require.NoError(t, err)
	env.srv = srv
	env.app = srv.App()
	return env
}

// do sends a JSON request through the app. body may be nil.
func (e *testEnv) do(t *testing.T, method, path string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.app.Test(req, 5000)
	require.NoError(t, err)
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

// signup registers email and returns its token and user.
func (e *testEnv) signup(t *testing.T, email string) (string, models.User) {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/auth/signup",
		map[string]string{"email": email, "password": "hunter22"}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var out authResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.Token)
	return out.Token, *out.User
}

func decodeError(t *testing.T, body []byte) models.ErrorResponse {
	t.Helper()
	var out models.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return out
}

func TestHealthChecks(t *testing.T) {
	env := newTestEnv(t, true)

	resp, body := env.do(t, http.MethodGet, "/health/live", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"up"`)

	resp, body = env.do(t, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	env.mr.Close()
	resp, body = env.do(t, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), `"redis":"unhealthy"`)
}

func TestHealthChecks_RedisOptional(t *testing.T) {
	env := newTestEnv(t, false)

	resp, body := env.do(t, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"redis":"disabled"`)
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, true)
	user := testutil.CreateUser(t, env.db, "asha@saividya.ac.in", "hunter22")

	valid := func() jwt.MapClaims {
		return jwt.MapClaims{
			"sub": "1",
			"iss": tokenIssuer,
			"aud": tokenAudience,
			"exp": time.Now().Add(time.Hour).Unix(),
			"jti": "test-jti",
		}
	}
	require.Equal(t, uint(1), user.ID)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Token abc", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other", valid()), http.StatusUnauthorized},
		{"wrong audience", "Bearer " + func() string {
			c := valid()
			c["aud"] = "someone-else"
			return signToken(t, testSecret, c)
		}(), http.StatusUnauthorized},
		{"expired", "Bearer " + func() string {
			c := valid()
			c["exp"] = time.Now().Add(-time.Minute).Unix()
			return signToken(t, testSecret, c)
		}(), http.StatusUnauthorized},
		{"bad subject", "Bearer " + func() string {
			c := valid()
			c["sub"] = "abc"
			return signToken(t, testSecret, c)
		}(), http.StatusUnauthorized},
		{"valid", "Bearer " + signToken(t, testSecret, valid()), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := env.app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	t.Run("revoked jti", func(t *testing.T) {
		require.NoError(t, env.mr.Set("blacklist:test-jti", "1"))
		_, body := env.do(t, http.MethodGet, "/api/auth/me", nil, signToken(t, testSecret, valid()))
		assert.Contains(t, decodeError(t, body).Error, "revoked")
	})
}

func TestAuthRequired_WSTicket(t *testing.T) {
	env := newTestEnv(t, true)
	token, user := env.signup(t, "ravi@saividya.ac.in")

	app := fiber.New()
	app.Get("/api/ws/test", env.srv.AuthRequired(), func(c *fiber.Ctx) error {
		return c.JSON(currentIdentity(c))
	})
	app.Get("/api/other", env.srv.AuthRequired(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp, body := env.do(t, http.MethodPost, "/api/ws/ticket", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var issued struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(body, &issued))
	assert.Equal(t, 30, issued.ExpiresIn)

	t.Run("ticket is ignored off socket paths", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/other?ticket="+issued.Ticket, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("ticket authenticates once", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/ws/test?ticket="+issued.Ticket, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var who models.Identity
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&who))
		assert.Equal(t, user.ID, who.ID)
		assert.Equal(t, user.Email, who.Email)

		resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/ws/test?ticket="+issued.Ticket, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("expired ticket", func(t *testing.T) {
		_, body := env.do(t, http.MethodPost, "/api/ws/ticket", nil, token)
		require.NoError(t, json.Unmarshal(body, &issued))
		env.mr.FastForward(31 * time.Second)
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/ws/test?ticket="+issued.Ticket, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestIssueWSTicket_NoRedis(t *testing.T) {
	env := newTestEnv(t, false)
	token, _ := env.signup(t, "meera@saividya.ac.in")

	resp, body := env.do(t, http.MethodPost, "/api/ws/ticket", nil, token)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, models.CodeUnavailable, decodeError(t, body).Code)
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	env := newTestEnv(t, false, func(c *config.Config) {
		c.AllowedOrigins = "https://board.saividya.ac.in"
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/items", nil)
	req.Header.Set("Origin", "https://board.saividya.ac.in")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "https://board.saividya.ac.in", resp.Header.Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/items", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err = env.app.Test(req)
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
