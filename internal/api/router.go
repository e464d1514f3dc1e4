package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/enrollflow/internal/api/handler"
	"github.com/timmy/enrollflow/internal/api/middleware"
	"github.com/timmy/enrollflow/internal/config"
)

// RouterDeps carries everything the HTTP layer needs.
type RouterDeps struct {
	Enroller handler.Enroller
	Logs     handler.LogReader
	// Uploads is nil when the CRM integration is disabled.
	Uploads          handler.UploadCoordinator
	ApprovalField    string
	PaymentSlipField string
	Health           handler.Pinger
	Mode             string
	CORS             config.CORSConfig
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps RouterDeps) *gin.Engine {
	// Set Gin mode
	switch deps.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORS(deps.CORS))

	healthHandler := handler.NewHealthHandler(deps.Health)
	enrollHandler := handler.NewEnrollmentHandler(deps.Enroller)
	logHandler := handler.NewLogHandler(deps.Logs)

	uploadHandler := handler.NewUploadHandler(deps.Uploads, deps.ApprovalField, deps.PaymentSlipField)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		// Enrollment
		v1.POST("/enroll", enrollHandler.Enroll)
		v1.POST("/enroll/sync/:category", enrollHandler.EnrollSync)
		v1.GET("/status", enrollHandler.Status)

		// Execution logs
		v1.GET("/logs", logHandler.ListLogs)
		v1.GET("/logs/:id", logHandler.GetLog)
		v1.GET("/stats", logHandler.GetStats)

		// CRM attachments
		v1.POST("/upload", uploadHandler.Upload)
	}

	return r
}
