package api

import (
	"batchdl/config"
	"batchdl/queue"
	"github.com/gin-gonic/gin"
)

func SetupRouter(qm *queue.Manager, execute queue.ExecuteFunc, cfg *config.Config) *gin.Engine {
	r := gin.Default()
	h := NewHandler(qm, execute, cfg)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		// Enqueue and inspect tasks
		v1.POST("/tasks", h.handleEnqueue)
		v1.POST("/tasks/batch", h.handleEnqueueBatch)
		v1.GET("/tasks", h.handleListTasks)
		v1.GET("/tasks/:taskId", h.handleGetTask)

		// Queue operations
		v1.POST("/queue/process", h.handleProcess)
		v1.GET("/queue/stats", h.handleStats)
		v1.GET("/queue/counters", h.handleCounters)
		v1.POST("/queue/counters/reset", h.handleResetCounters)
		v1.DELETE("/queue/pending", h.handleClearPending)
	}
	return r
}
