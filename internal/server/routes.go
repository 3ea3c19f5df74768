package server

import (
	"strings"
	"time"

	"tracehub/internal/middleware"
	"tracehub/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
)

const devOrigins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"

// SetupMiddleware installs the global chain. Request ids come before tracing
// and logging so both can read them.
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New(recover.Config{EnableStackTrace: s.config.Env != "production"}))
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}
	// Item photos are embedded by the web client from another origin.
	app.Use(helmet.New(helmet.Config{CrossOriginResourcePolicy: "cross-origin"}))
	app.Use(middleware.StructuredLogger())

	origins := strings.TrimSpace(s.config.AllowedOrigins)
	if origins == "" {
		origins = devOrigins
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: strings.Join([]string{
			fiber.HeaderOrigin,
			fiber.HeaderContentType,
			fiber.HeaderAccept,
			fiber.HeaderAuthorization,
			"Sec-WebSocket-Protocol",
			"Sec-WebSocket-Version",
			"Sec-WebSocket-Key",
			"Sec-WebSocket-Extensions",
		}, ","),
		ExposeHeaders:    "X-Request-ID,X-Trace-ID,X-RateLimit-Limit,X-RateLimit-Remaining,Retry-After",
		AllowCredentials: origins != "*",
		MaxAge:           int((24 * time.Hour).Seconds()),
	}))

	// Coarse per-IP ceiling in front of the named Redis budgets.
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Error: "Too many requests",
				Code:  models.CodeUnavailable,
			})
		},
	}))
}

// SetupRoutes mounts the API. Reads are public; writes, the feature flag
// view and sockets need an identity.
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	if strings.HasPrefix(s.config.PublicMediaURL, "/") && s.config.ImageUploadDir != "" {
		app.Static(s.config.PublicMediaURL, s.config.ImageUploadDir, fiber.Static{
			MaxAge: int((24 * time.Hour).Seconds()),
		})
	}

	api := app.Group("/api")
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{Title: "TraceHub API"}))
	api.Get("/swagger/*", swagger.HandlerDefault)

	auth := api.Group("/auth")
	auth.Post("/signup", middleware.RateLimit(s.redis, 3, 10*time.Minute, "signup"), s.Signup)
	auth.Post("/login", middleware.RateLimit(s.redis, 10, 5*time.Minute, "login"), s.Login)
	auth.Post("/logout", s.AuthRequired(), s.Logout)
	auth.Get("/me", s.AuthRequired(), s.Me)

	items := api.Group("/items")
	items.Get("/", s.GetItems)
	items.Get("/:id/messages", s.GetMessages)
	items.Get("/:id", s.GetItem)

	api.Post("/ws/ticket", s.AuthRequired(), s.IssueWSTicket)
	ws := api.Group("/ws", s.AuthRequired())
	ws.Get("/discussions", s.DiscussionSocketHandler())

	protected := api.Group("", s.AuthRequired())
	protected.Get("/feature-flags", s.GetFeatureFlags)
	protected.Post("/items", middleware.RateLimit(s.redis, 10, 5*time.Minute, "create_item"), s.CreateItem)
	protected.Post("/items/:id/messages", middleware.RateLimit(s.redis, 15, time.Minute, "send_message"), s.PostMessage)
	protected.Delete("/items/:id", s.DeleteItem)
}
