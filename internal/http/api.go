package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"caption-api/internal/caption"
	"caption-api/internal/service"
)

// Handler wires HTTP routes to domain services.
type Handler struct {
	users     service.UserService
	captions  *caption.Service
	maxUpload int64
	logger    logrus.FieldLogger
}

// NewHandler builds the route handler. captions may be nil, in which case
// the /model routes are not registered.
func NewHandler(users service.UserService, captions *caption.Service, maxUpload int64, logger logrus.FieldLogger) *Handler {
	registerValidation()
	return &Handler{
		users:     users,
		captions:  captions,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(h.requestLogger(), corsMiddleware())

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"running": true})
	})

	users := router.Group("/auth")
	{
		users.GET("/user/:id", h.getUser)
		users.GET("/user", h.listUsers)
		users.POST("/register", h.register)
		users.POST("/login", h.login)
		users.PUT("/:id", h.updateUser)
		users.PUT("/password/:id", h.updatePassword)
		users.DELETE("/:id", h.deleteUser)
		users.GET("/", h.requireIdentity(), h.currentUser)
	}

	if h.captions == nil {
		return
	}
	models := router.Group("/model", h.requireIdentity())
	{
		models.POST("/caption", h.captionImage)
		models.POST("/caption/pdf", h.captionPDF)
		models.GET("/uploads", h.listUploads)
		models.DELETE("/uploads", h.deleteUploads)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		h.logger.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"latency":   time.Since(start).String(),
			"client_ip": c.ClientIP(),
		}).Info("request")
	}
}
