package main

import (
	"planewars/config"
	"planewars/handlers"
	"planewars/middleware"
	"planewars/models"
	"planewars/repository"
	"planewars/routes"
	"planewars/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	// Auto-migrate database models
	err = db.AutoMigrate(
		&models.User{},
		&models.Room{},
		&models.RoomMember{},
		&models.Game{},
		&models.AttackRecord{},
	)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to migrate database")
	}

	// Initialize Redis
	redisClient := config.InitRedis(cfg)

	// Repositories
	userRepo := repository.NewUserRepository(db)
	roomRepo := repository.NewRoomRepository(db)
	gameRepo := repository.NewGameRepository(db)
	sessionStore := repository.NewSessionStore(redisClient, cfg.SessionTTL)

	// Cache is advisory; CACHE_DISABLED=true runs the same code paths
	// against the no-op implementation.
	var cache repository.Cache
	if cfg.CacheOff {
		cache = repository.NewDisabledCache()
		logrus.Info("View cache disabled")
	} else {
		cache = repository.NewCache(redisClient)
	}

	// Services
	locks := services.NewRoomLocks()
	authService := services.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiry)
	roomService := services.NewRoomService(roomRepo, gameRepo, sessionStore, cache, cfg.CacheTTL, locks)
	gameService := services.NewGameService(roomRepo, gameRepo, cache, cfg.CacheTTL, locks)
	resolver := services.NewReconnectionResolver(sessionStore, roomService, gameService)

	// Session gateway
	registry := services.NewConnectionRegistry()
	hub := services.NewHub(registry, authService, roomService, gameService, resolver, sessionStore, services.HubConfig{
		AuthDeadline:    cfg.AuthDeadline,
		HeartbeatWindow: cfg.HeartbeatWindow,
		DisconnectGrace: cfg.DisconnectGrace,
	})
	go hub.Run()

	// Handlers
	authHandler := handlers.NewAuthHandler(authService)
	roomHandler := handlers.NewRoomHandler(roomService, hub)

	// Setup Gin router
	router := gin.Default()
	router.Use(middleware.CORS())

	routes.SetupRoutes(router, authHandler, roomHandler, hub, authService)

	// Start server
	logrus.WithField("port", cfg.Port).Info("Server starting")
	if err := router.Run(":" + cfg.Port); err != nil {
		logrus.WithError(err).Fatal("Failed to start server")
	}
}
