package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// listNodes handles GET /api/v1/cluster/nodes. It lists executor nodes
// whose registry leases are alive.
func (s *Server) listNodes(c *gin.Context) {
	nodes, err := s.coordinator.GetActiveNodes(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get nodes: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"nodes": nodes,
		"count": len(nodes),
	})
}

// getLeader handles GET /api/v1/cluster/leader. It reports which scheduler
// instance currently holds the election.
func (s *Server) getLeader(c *gin.Context) {
	if s.leaderElection == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "coordinator not configured"})
		return
	}

	leader, err := s.leaderElection.Leader(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no leader elected"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"leader": leader})
}
