package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tracehub/internal/middleware"
	"tracehub/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTTL       = 7 * 24 * time.Hour
	wsTicketTTL    = 30 * time.Second
	wsTicketPrefix = "ws_ticket:"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token     string       `json:"token"`
	User      *models.User `json:"user"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Signup handles POST /api/auth/signup
// @Summary User signup
// @Description Register an account. Only institutional addresses are accepted.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{email=string,password=string} true "Signup request"
// @Success 201 {object} object{token=string,user=models.User,expires_at=string}
// @Failure 400 {object} models.ErrorResponse
// @Router /auth/signup [post]
func (s *Server) Signup(c *fiber.Ctx) error {
	var req credentials
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	user, err := s.authService.Register(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return respond(c, err)
	}
	return s.issueSession(c, fiber.StatusCreated, user)
}

// Login handles POST /api/auth/login
// @Summary User login
// @Description Authenticate user and return JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{email=string,password=string} true "Login credentials"
// @Success 200 {object} object{token=string,user=models.User,expires_at=string}
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/login [post]
func (s *Server) Login(c *fiber.Ctx) error {
	var req credentials
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	user, err := s.authService.Authenticate(c.UserContext(), req.Email, req.Password)
	if err != nil {
		if models.HasCode(err, models.CodeUnauthorized) {
			return models.RespondWithError(c, fiber.StatusUnauthorized, err)
		}
		return respond(c, err)
	}
	return s.issueSession(c, fiber.StatusOK, user)
}

// Logout handles POST /api/auth/logout
// @Summary User logout
// @Description Revoke the current token
// @Tags auth
// @Security BearerAuth
// @Success 200 {object} object{message=string}
// @Router /auth/logout [post]
func (s *Server) Logout(c *fiber.Ctx) error {
	jti, _ := c.Locals("jti").(string)
	expiry, _ := c.Locals("tokenExpiry").(time.Time)

	if jti != "" && s.redis != nil {
		ttl := time.Until(expiry)
		if ttl <= 0 {
			ttl = tokenTTL
		}
		if err := s.redis.Set(c.Context(), revokedPrefix+jti, "1", ttl).Err(); err != nil {
			middleware.RedisErrors.WithLabelValues("blacklist").Inc()
			middleware.Logger.WarnContext(c.UserContext(), "failed to revoke token", "error", err)
		}
	}

	return c.JSON(fiber.Map{"message": "Logged out"})
}

// Me handles GET /api/auth/me
// @Summary Current user
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} object{user=models.User}
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/me [get]
func (s *Server) Me(c *fiber.Ctx) error {
	user, err := s.authService.User(c.UserContext(), currentIdentity(c).ID)
	if err != nil {
		if models.HasCode(err, models.CodeNotFound) {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Account no longer exists"))
		}
		return respond(c, err)
	}
	return c.JSON(fiber.Map{"user": user})
}

// IssueWSTicket handles POST /api/ws/ticket
// @Summary WebSocket ticket
// @Description Issue a short-lived single-use ticket for browsers that cannot send headers on upgrade
// @Tags realtime
// @Security BearerAuth
// @Produce json
// @Success 200 {object} object{ticket=string,expires_in=int}
// @Failure 503 {object} models.ErrorResponse
// @Router /ws/ticket [post]
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	if s.redis == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewUnavailableError(fmt.Errorf("ticket store not configured")))
	}
	who := currentIdentity(c)
	ticket := uuid.NewString()
	value := strconv.FormatUint(uint64(who.ID), 10) + ":" + who.Email
	if err := s.redis.Set(c.Context(), wsTicketPrefix+ticket, value, wsTicketTTL).Err(); err != nil {
		middleware.RedisErrors.WithLabelValues("ws_ticket").Inc()
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewUnavailableError(err))
	}
	return c.JSON(fiber.Map{
		"ticket":     ticket,
		"expires_in": int(wsTicketTTL.Seconds()),
	})
}

// redeemWSTicket consumes a ticket. A ticket works once.
func (s *Server) redeemWSTicket(ctx context.Context, ticket string) (uint, string, bool) {
	if s.redis == nil {
		return 0, "", false
	}
	value, err := s.redis.GetDel(ctx, wsTicketPrefix+ticket).Result()
	if err != nil {
		return 0, "", false
	}
	rawID, email, _ := strings.Cut(value, ":")
	id, err := strconv.ParseUint(rawID, 10, 32)
	if err != nil || id == 0 {
		return 0, "", false
	}
	return uint(id), email, true
}

func (s *Server) issueSession(c *fiber.Ctx, status int, user *models.User) error {
	token, expiresAt, err := s.generateToken(user)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.Status(status).JSON(authResponse{
		Token:     token,
		User:      user,
		ExpiresAt: expiresAt,
	})
}

// generateToken creates a JWT for the user
func (s *Server) generateToken(user *models.User) (string, time.Time, error) {
	if s.config.JWTSecret == "" {
		return "", time.Time{}, fmt.Errorf("JWT secret not configured")
	}

	now := time.Now()
	expiresAt := now.Add(tokenTTL)
	claims := jwt.MapClaims{
		"sub":   strconv.FormatUint(uint64(user.ID), 10),
		"email": user.Email, // authors messages without a lookup
		"iss":   tokenIssuer,
		"aud":   tokenAudience,
		"exp":   expiresAt.Unix(),
		"iat":   now.Unix(),
		"nbf":   now.Unix(),
		"jti":   s.generateJTI(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, time.Unix(expiresAt.Unix(), 0).UTC(), nil
}

// generateJTI creates a unique JWT ID so single tokens can be revoked
func (s *Server) generateJTI() string {
	return fmt.Sprintf("%d-%s", time.Now().Unix(), uuid.New().String()[:8])
}
