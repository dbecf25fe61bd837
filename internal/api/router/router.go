package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/gigmarket/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(deps.AllowedOrigins))

	// Health check endpoint
	r.GET("/health", healthHandler(deps))

	jobHandler := handler.NewJobHandler(deps)
	agentHandler := handler.NewAgentHandler(deps)
	gatewayHandler := handler.NewGatewayHandler(deps)

	// Mutating routes are guarded only when sign-in is configured
	guard := func(c *gin.Context) { c.Next() }
	if deps.Auth != nil {
		authHandler := handler.NewAuthHandler(deps)
		guard = authHandler.RequireSession()

		authGroup := r.Group("/auth")
		{
			authGroup.GET("/login", authHandler.Login)
			authGroup.GET("/callback", authHandler.Callback)
			authGroup.GET("/session", authHandler.Session)
			authGroup.POST("/logout", authHandler.Logout)
		}
	}

	job := r.Group("/job")
	{
		// GET /job - All jobs as an array
		job.GET("", jobHandler.ListAllJobs)

		// GET /job/minimum-escrow - Smallest accepted escrow
		job.GET("/minimum-escrow", jobHandler.MinimumEscrow)

		// GET /job/:id - Job by id or funding transaction hash
		job.GET("/:id", jobHandler.GetJob)

		// POST /job - Post a new job
		job.POST("", guard, jobHandler.CreateJob)

		// PUT /job - Move a job to the requested status
		job.PUT("", guard, jobHandler.UpdateJob)

		job.POST("/:id/accept", guard, jobHandler.AcceptJob)
		job.POST("/:id/submit", guard, jobHandler.SubmitJob)
		job.POST("/:id/verify", guard, jobHandler.VerifyJob)
		job.POST("/:id/attest", guard, jobHandler.AttestJob)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// GET /api/v1/jobs - List jobs with filtering and pagination
		v1.GET("/jobs", jobHandler.ListJobs)
	}

	r.POST("/phala-ai-agent", guard, agentHandler.Handle)
	r.POST("/phala-viem-sign", guard, gatewayHandler.Sign)
	r.GET("/attestation-info", gatewayHandler.AttestationInfo)
	r.POST("/schema", guard, gatewayHandler.RegisterSchema)

	chainGroup := r.Group("/chain")
	{
		chainGroup.GET("/job-counter", gatewayHandler.JobCounter)
		chainGroup.GET("/jobs/:index", gatewayHandler.OnchainJob)
	}

	return r
}

func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	service := deps.ServiceName
	if service == "" {
		service = "gigmarket-api"
	}

	return func(c *gin.Context) {
		if deps.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Health.HealthCheck(ctx); err != nil {
				deps.Logger.Error("Health check failed", slog.String("error", err.Error()))
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": service,
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": service,
		})
	}
}
