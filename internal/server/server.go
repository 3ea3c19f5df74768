// Package server is the board's HTTP and websocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	_ "tracehub/docs" // registers the swagger spec
	"tracehub/internal/cache"
	"tracehub/internal/config"
	"tracehub/internal/database"
	"tracehub/internal/featureflags"
	"tracehub/internal/middleware"
	"tracehub/internal/models"
	"tracehub/internal/notifications"
	"tracehub/internal/repository"
	"tracehub/internal/service"
	"tracehub/internal/storage"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// realtimeHub is a socket hub fed from Redis pub/sub.
type realtimeHub interface {
	Name() string
	StartWiring(ctx context.Context, n *notifications.Notifier) error
	Shutdown(ctx context.Context) error
}

// Server owns the API's dependencies. Redis may be nil.
type Server struct {
	config  *config.Config
	db      *gorm.DB
	redis   *redis.Client
	started time.Time

	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus

	stopCtx context.Context
	stop    context.CancelFunc

	notifier *notifications.Notifier
	itemHub  *notifications.ItemHub
	hubs     []realtimeHub

	featureFlags *featureflags.Manager
	objects      storage.ObjectStore

	authService       *service.AuthService
	itemService       *service.ItemService
	discussionService *service.DiscussionService
}

// NewServer connects the database and, when reachable, Redis.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	// Without Redis, events only reach sockets on this instance.
	cache.InitRedis(cfg.RedisURL)
	return NewServerWithDeps(cfg, db, cache.GetClient())
}

// NewServerWithDeps builds a Server on connections the caller already holds.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*Server, error) {
	if cfg == nil || db == nil {
		return nil, errors.New("server needs a config and a database")
	}

	users := repository.NewUserRepository(db)
	items := repository.NewItemRepository(db)
	messages := repository.NewMessageRepository(db)

	notifier := notifications.NewNotifier(rdb)
	hub := notifications.NewItemHub()
	events := notifications.NewFanout(notifier, hub)
	flags := featureflags.NewManager(cfg.FeatureFlags)
	objects := storage.NewDiskStore(cfg.ImageUploadDir, cfg.PublicMediaURL)

	stopCtx, stop := context.WithCancel(context.Background())
	return &Server{
		config:            cfg,
		db:                db,
		redis:             rdb,
		started:           time.Now(),
		promMiddleware:    middleware.InitMetrics("tracehub-api"),
		stopCtx:           stopCtx,
		stop:              stop,
		notifier:          notifier,
		itemHub:           hub,
		hubs:              []realtimeHub{hub},
		featureFlags:      flags,
		objects:           objects,
		authService:       service.NewAuthService(users, cfg.InstitutionDomain),
		itemService:       service.NewItemService(items, objects, flags, events, cfg),
		discussionService: service.NewDiscussionService(items, messages, events),
	}, nil
}

// App builds the fiber app once. Start serves it; tests call app.Test on it.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	maxMB := s.config.ImageMaxUploadSizeMB
	if maxMB <= 0 {
		maxMB = storage.DefaultImageMaxUploadSizeMB
	}
	app := fiber.New(fiber.Config{
		AppName: "TraceHub API",
		// One photo plus the text fields of the form.
		BodyLimit:    (maxMB + 1) << 20,
		ErrorHandler: s.handleError,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// handleError answers errors no handler turned into a response.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return models.RespondWithError(c, models.StatusFor(err), err)
	}
	middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", "error", err)
	return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
}

// Start connects the hubs to Redis and serves until Shutdown.
func (s *Server) Start() error {
	app := s.App()
	if s.notifier.Enabled() {
		for _, h := range s.hubs {
			go func(h realtimeHub) {
				if err := h.StartWiring(s.stopCtx, s.notifier); err != nil {
					log.Printf("%s: redis wiring stopped: %v", h.Name(), err)
				}
			}(h)
		}
	}
	log.Printf("TraceHub API listening on :%s", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// Shutdown stops accepting requests, tells socket peers, and closes the
// database and Redis. Errors are joined; every step runs regardless.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stop != nil {
		s.stop()
	}

	var errs []error
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}
	for _, h := range s.hubs {
		if err := h.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.Name(), err))
		}
	}
	if sqlDB, err := s.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	log.Println("TraceHub API stopped")
	return errors.Join(errs...)
}

// shutdownContext is cancelled by Shutdown.
func (s *Server) shutdownContext() context.Context {
	if s.stopCtx == nil {
		return context.Background()
	}
	return s.stopCtx
}
