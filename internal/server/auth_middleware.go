package server

import (
	"context"
	"strconv"
	"strings"
	"time"

	"tracehub/internal/middleware"
	"tracehub/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer   = "tracehub-api"
	tokenAudience = "tracehub-client"
	revokedPrefix = "blacklist:"
)

// AuthRequired resolves the caller from a bearer token, or from a one-shot
// ticket on socket paths where browsers cannot set headers. Chained use is a
// no-op once an identity is set.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id, ok := c.Locals("userID").(uint); ok && id != 0 {
			return c.Next()
		}

		if ticket := c.Query("ticket"); ticket != "" && acceptsTicket(c.Path()) {
			id, email, ok := s.redeemWSTicket(c.Context(), ticket)
			if !ok {
				return unauthorized(c, "Invalid or expired WebSocket ticket")
			}
			s.setIdentity(c, id, email)
			return c.Next()
		}

		raw, found := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if !found || strings.TrimSpace(raw) == "" {
			return unauthorized(c, "Authorization required")
		}
		claims, err := s.parseToken(strings.TrimSpace(raw))
		if err != nil {
			return unauthorized(c, err.Error())
		}

		sub, _ := claims.GetSubject()
		id, err := strconv.ParseUint(sub, 10, 32)
		if err != nil || id == 0 {
			return unauthorized(c, "Invalid user ID in token")
		}

		if jti, _ := claims["jti"].(string); jti != "" {
			c.Locals("jti", jti)
			if s.revoked(c.Context(), jti) {
				return unauthorized(c, "Token has been revoked")
			}
		}
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			c.Locals("tokenExpiry", exp.Time)
		}

		email, _ := claims["email"].(string)
		s.setIdentity(c, uint(id), email)
		return c.Next()
	}
}

// acceptsTicket reports whether path is a socket route. The ticket endpoint
// itself needs a bearer token.
func acceptsTicket(path string) bool {
	return strings.HasPrefix(path, "/api/ws/") && path != "/api/ws/ticket"
}

// revoked reports whether jti was logged out. Without Redis nothing is.
func (s *Server) revoked(ctx context.Context, jti string) bool {
	if s.redis == nil {
		return false
	}
	n, err := s.redis.Exists(ctx, revokedPrefix+jti).Result()
	if err != nil {
		middleware.RedisErrors.WithLabelValues("blacklist").Inc()
		return false
	}
	return n > 0
}

func (s *Server) setIdentity(c *fiber.Ctx, id uint, email string) {
	c.Locals("userID", id)
	c.Locals("userEmail", email)
	c.SetUserContext(context.WithValue(c.UserContext(), middleware.UserIDKey, id))
}

// parseToken verifies signature, issuer, audience and expiry.
func (s *Server) parseToken(raw string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(s.config.JWTSecret), nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil || !token.Valid {
		return nil, models.NewUnauthorizedError("Invalid or expired token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, models.NewUnauthorizedError("Invalid token claims")
	}
	return claims, nil
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{
		Error: msg,
		Code:  models.CodeUnauthorized,
	})
}
