package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/qbox-app/backend/docs"
	"github.com/qbox-app/backend/internal/analytics"
	"github.com/qbox-app/backend/internal/auth"
	"github.com/qbox-app/backend/internal/middleware"
	"github.com/qbox-app/backend/internal/questions"
	"github.com/qbox-app/backend/internal/realtime"
	"github.com/qbox-app/backend/internal/rooms"
	"github.com/qbox-app/backend/pkg/response"
)

// routes carries everything the router binds.
type routes struct {
	jwt         *auth.JWTService
	hub         *realtime.Hub
	rooms       *rooms.Handler
	questions   *questions.Handler
	analytics   *analytics.Handler
	corsOrigins string
	logger      *zap.Logger
}

func newRouter(rt routes) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(rt.corsOrigins))
	router.Use(middleware.Logger(rt.logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// API docs at /swagger/index.html
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Students are anonymous; a lecturer token, when present, unlocks the owner's view.
	open := router.Group("")
	open.Use(middleware.OptionalJWT(rt.jwt))
	{
		open.POST("/rooms/join", rt.rooms.Join)
		open.GET("/rooms/:id", rt.rooms.Get)

		open.GET("/rooms/:id/questions", rt.questions.ListByRoom)
		open.POST("/rooms/:id/questions", rt.questions.Create)
		open.POST("/questions/:id/upvote", rt.questions.Upvote)
		open.POST("/questions/:id/report", rt.questions.Report)
	}

	// Lecturer API (JWT required); handlers also check room ownership.
	lecturer := router.Group("")
	lecturer.Use(middleware.JWT(rt.jwt), middleware.RequireLecturer())
	{
		lecturer.POST("/rooms", rt.rooms.Create)
		lecturer.GET("/rooms", rt.rooms.ListMine)
		lecturer.PATCH("/rooms/:id/visibility", rt.rooms.ToggleVisibility)
		lecturer.PATCH("/rooms/:id/close", rt.rooms.Close)
		lecturer.GET("/rooms/:id/archive", rt.rooms.Archive)
		lecturer.GET("/rooms/:id/analytics", rt.analytics.GetByRoom)
		lecturer.GET("/rooms/:id/reports", rt.questions.ListReported)

		lecturer.PATCH("/questions/:id/answer", rt.questions.Answer)
		lecturer.DELETE("/questions/:id", rt.questions.SoftDelete)
		lecturer.PATCH("/questions/:id/restore", rt.questions.Restore)
		lecturer.DELETE("/questions/:id/permanent", rt.questions.PermanentDelete)
	}

	// WebSocket event channel (room id in query); the owner's token makes the socket a moderator's
	router.GET("/ws", middleware.OptionalJWT(rt.jwt), realtime.ServeWs(rt.hub, rt.logger, rt.rooms.Lookup))

	return router
}
