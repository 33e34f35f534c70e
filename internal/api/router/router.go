package router

import (
	"net/http"

	"github.com/cuongbtq/pythia/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes. The
// returned handler owns the served session.
func SetupRouter(deps *handler.Dependencies) (*gin.Engine, *handler.SessionHandler) {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	service := deps.ServiceName
	if service == "" {
		service = "pythia-session-service"
	}
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": service,
		})
	})

	sessionHandler := handler.NewSessionHandler(deps)

	v1 := r.Group("/api/v1")
	{
		s := v1.Group("/session")
		{
			s.GET("", sessionHandler.GetSession)
			s.DELETE("", sessionHandler.DeleteSession)

			// POST /api/v1/session/jobs - multipart counts, metadata, design_col
			s.POST("/jobs", sessionHandler.CreateJob)

			s.PUT("/params", sessionHandler.UpdateParams)
			s.GET("/volcano", sessionHandler.GetVolcano)
			s.GET("/pca", sessionHandler.GetPCA)
			s.GET("/top-table", sessionHandler.GetTopTable)
			s.GET("/downloads", sessionHandler.GetDownloads)

			s.POST("/enrich/:kind", sessionHandler.FetchEnrichment)
			s.GET("/enrich/:kind", sessionHandler.GetEnrichment)
			s.POST("/enrich/:kind/sort", sessionHandler.SortEnrichment)
		}
	}

	return r, sessionHandler
}
