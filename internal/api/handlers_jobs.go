package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"evalgo.org/kiwi/models"
)

// jobFilter builds a filter from query parameters checked by ValidateJobQuery.
func jobFilter(c echo.Context) models.JobFilter {
	var f models.JobFilter
	if status := c.QueryParam("status"); status != "" {
		f.Status, _ = models.ParseJobStatus(status)
	}
	f.Kind = models.JobKind(c.QueryParam("kind"))
	f.InfraID, _ = strconv.Atoi(c.QueryParam("infra"))
	f.Active = c.QueryParam("active") == "true"
	return f
}

// listJobs handles GET /api/v1/jobs
func (s *Server) listJobs(c echo.Context) error {
	jobs, err := s.orch.Jobs(c.Request().Context(), jobFilter(c))
	if err != nil {
		return err
	}

	limit, offset := parsePagination(c)
	page := paginate(jobs, limit, offset)
	return c.JSON(http.StatusOK, JobsResponse{
		Count:  len(page),
		Total:  len(jobs),
		Limit:  limit,
		Offset: offset,
		Jobs:   page,
	})
}

// getJob handles GET /api/v1/jobs/:id
func (s *Server) getJob(c echo.Context) error {
	job, err := s.orch.Job(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

// watchJob handles POST /api/v1/jobs/:id/watch
func (s *Server) watchJob(c echo.Context) error {
	job, err := s.orch.Watch(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

// stopWatchingJob handles DELETE /api/v1/jobs/:id/watch. The backend job
// keeps running.
func (s *Server) stopWatchingJob(c echo.Context) error {
	stopped := s.orch.StopWatching(c.Param("id"))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"jobId":   c.Param("id"),
		"stopped": stopped,
	})
}
