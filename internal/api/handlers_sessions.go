package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// listSessions handles GET /api/v1/auth-sessions
func (s *Server) listSessions(c echo.Context) error {
	views := s.orch.Sessions()
	return c.JSON(http.StatusOK, SessionsResponse{Count: len(views), Sessions: views})
}

// getSession handles GET /api/v1/auth-sessions/:id
func (s *Server) getSession(c echo.Context) error {
	sess, err := s.orch.Credentials().Get(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.View())
}

// submitSession handles POST /api/v1/auth-sessions/:id/submit. The parked
// operation runs once the credentials are accepted.
func (s *Server) submitSession(c echo.Context) error {
	var req SubmitCredentialsRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}

	res, err := s.orch.Continue(c.Request().Context(), c.Param("id"), req.Credentials)
	if err != nil {
		return err
	}
	return respond(c, res)
}

// cancelSession handles DELETE /api/v1/auth-sessions/:id
func (s *Server) cancelSession(c echo.Context) error {
	if err := s.orch.Cancel(c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
