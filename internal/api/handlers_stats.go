package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/kiwi/internal/storage"
	"evalgo.org/kiwi/models"
)

// getStatistics handles GET /api/v1/stats
func (s *Server) getStatistics(c echo.Context) error {
	jobs, err := s.orch.Jobs(c.Request().Context(), models.JobFilter{})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "failed to get statistics",
			Details: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"jobs":             storage.ComputeStatistics(jobs),
		"activePolls":      len(s.orch.Watching()),
		"openSessions":     len(s.orch.Sessions()),
		"installations":    len(s.orch.Tracker().All()),
		"connectedClients": s.wsHub.ClientCount(),
	})
}
