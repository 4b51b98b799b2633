package routes

import (
	"net/http"

	"planewars/handlers"
	"planewars/middleware"
	"planewars/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

func SetupRoutes(
	router *gin.Engine,
	authHandler *handlers.AuthHandler,
	roomHandler *handlers.RoomHandler,
	hub *services.Hub,
	authService *services.AuthService,
) {
	// API routes
	api := router.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		// Protected routes
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(authService))
		{
			protected.GET("/auth/profile", authHandler.GetProfile)

			rooms := protected.Group("/rooms")
			{
				rooms.GET("", roomHandler.ListRooms)
				rooms.POST("", roomHandler.CreateRoom)
				rooms.GET("/:id", roomHandler.GetRoom)
				rooms.POST("/:id/join", roomHandler.JoinRoom)
				rooms.POST("/:id/leave", roomHandler.LeaveRoom)
				rooms.POST("/:id/kick/:userId", roomHandler.KickMember)
				rooms.DELETE("/:id", roomHandler.DeleteRoom)
			}
		}
	}

	// Realtime endpoint. The connection is anonymous until it presents a
	// credential over the socket; the hub enforces the auth deadline.
	router.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logrus.WithError(err).Warn("WebSocket upgrade failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upgrade connection"})
			return
		}
		hub.RegisterClient(conn)
	})

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
