package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"clearci/pkg/models"
	"clearci/pkg/storage"
)

// lookupExecution resolves the :id path parameter and writes the error
// response itself on failure.
func (s *Server) lookupExecution(c *gin.Context) (*models.Execution, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid execution ID"})
		return nil, false
	}

	exec, err := s.execStore.GetExecution(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load execution: " + err.Error()})
		}
		return nil, false
	}
	return exec, true
}

// getExecution handles GET /api/v1/executions/:id.
func (s *Server) getExecution(c *gin.Context) {
	exec, ok := s.lookupExecution(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, exec)
}

// getExecutionLog handles GET /api/v1/executions/:id/log. It streams the
// archived console log as plain text.
func (s *Server) getExecutionLog(c *gin.Context) {
	exec, ok := s.lookupExecution(c)
	if !ok {
		return
	}

	if exec.OutputURI == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no log stored for this execution"})
		return
	}

	data, err := s.logStore.Retrieve(c.Request.Context(), exec.OutputURI)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to retrieve log: " + err.Error()})
		return
	}

	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}

// cancelExecution handles POST /api/v1/executions/:id/cancel. It marks the
// row cancelled; a node already running the build finishes anyway and
// overwrites the result. True preemption needs a signal channel to the
// executor.
func (s *Server) cancelExecution(c *gin.Context) {
	exec, ok := s.lookupExecution(c)
	if !ok {
		return
	}

	switch exec.Status {
	case models.ExecutionSuccess, models.ExecutionFailed, models.ExecutionCancelled:
		c.JSON(http.StatusConflict, gin.H{"error": "execution already finished", "status": exec.Status})
		return
	}

	err := s.execStore.UpdateResult(c.Request.Context(), exec.ID,
		models.ExecutionCancelled, -1, "", "cancelled via API")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel execution: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "execution cancelled", "id": exec.ID})
}
