package api

import (
	"net/http"

	"batchdl/config"
	"batchdl/fetch"
	"batchdl/queue"
	"github.com/gin-gonic/gin"
)

type Handler struct {
	queue   *queue.Manager
	execute queue.ExecuteFunc
	cfg     *config.Config
}

func NewHandler(qm *queue.Manager, execute queue.ExecuteFunc, cfg *config.Config) *Handler {
	return &Handler{
		queue:   qm,
		execute: execute,
		cfg:     cfg,
	}
}

type BatchRequest struct {
	Items []fetch.Media `json:"items" binding:"required,dive"`
}

// handleEnqueue adds a single item to the download queue.
func (h *Handler) handleEnqueue(c *gin.Context) {
	var media fetch.Media
	if err := c.ShouldBindJSON(&media); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := h.queue.Enqueue(media)
	c.JSON(http.StatusAccepted, gin.H{"taskId": id})
}

// handleEnqueueBatch adds several items at once, returning their ids in
// input order.
func (h *Handler) handleEnqueueBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items := make([]queue.Item, len(req.Items))
	for i, media := range req.Items {
		items[i] = media
	}

	ids := h.queue.EnqueueBatch(items)
	c.JSON(http.StatusAccepted, gin.H{"taskIds": ids})
}

// handleListTasks returns a snapshot of every tracked task.
func (h *Handler) handleListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Snapshot())
}

// handleGetTask retrieves one task record.
func (h *Handler) handleGetTask(c *gin.Context) {
	taskID := c.Param("taskId")
	t, found := h.queue.Status(taskID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	c.JSON(http.StatusOK, t)
}

// handleProcess drains the pending queue and blocks until every launched
// task reaches a terminal state, then returns the per-task results.
func (h *Handler) handleProcess(c *gin.Context) {
	results := h.queue.Run(c.Request.Context(), h.execute)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// handleStats returns per-status counts recomputed from live records.
func (h *Handler) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Stats())
}

// handleCounters returns the run-level totals.
func (h *Handler) handleCounters(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Counters())
}

// handleResetCounters zeroes the run-level totals.
func (h *Handler) handleResetCounters(c *gin.Context) {
	h.queue.ResetCounters()
	c.JSON(http.StatusOK, gin.H{"message": "Counters reset"})
}

// handleClearPending discards identifiers still waiting for a worker.
func (h *Handler) handleClearPending(c *gin.Context) {
	n := h.queue.ClearPending()
	c.JSON(http.StatusOK, gin.H{"discarded": n})
}
