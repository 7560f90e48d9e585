package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/kiwi/internal/orchestration"
)

// infraID returns the id stored by ValidateInfraID.
func infraID(c echo.Context) int {
	id, _ := c.Get("infraId").(int)
	return id
}

// bindOperation decodes the body into req and pins req's infrastructure to
// the path id.
func bindOperation[T any](c echo.Context, req *T, pin func(*T, int)) error {
	if err := c.Bind(req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	pin(req, infraID(c))
	return nil
}

// respond writes 202 when a remote job was accepted and 200 otherwise.
func respond(c echo.Context, res *orchestration.Result) error {
	if res.Accepted != nil {
		return c.JSON(http.StatusAccepted, res)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) run(c echo.Context, op func(ctx context.Context) (*orchestration.Result, error)) error {
	res, err := op(c.Request().Context())
	if err != nil {
		return err
	}
	return respond(c, res)
}

// refreshInstallation handles POST /api/v1/infras/:id/installation/refresh
func (s *Server) refreshInstallation(c echo.Context) error {
	var req orchestration.CheckRequest
	if err := bindOperation(c, &req, func(r *orchestration.CheckRequest, id int) { r.Infra.ID = id }); err != nil {
		return err
	}
	return s.run(c, func(ctx context.Context) (*orchestration.Result, error) {
		return s.orch.CheckInstallation(ctx, req)
	})
}

// getInstallation handles GET /api/v1/infras/:id/installation
func (s *Server) getInstallation(c echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.Status(infraID(c)))
}

// listInstallations handles GET /api/v1/installations
func (s *Server) listInstallations(c echo.Context) error {
	all := s.orch.Tracker().All()
	return c.JSON(http.StatusOK, InstallationsResponse{Count: len(all), Installations: all})
}

// install handles POST /api/v1/infras/:id/install
func (s *Server) install(c echo.Context) error {
	var req orchestration.InstallRequest
	if err := bindOperation(c, &req, func(r *orchestration.InstallRequest, id int) { r.Infra.ID = id }); err != nil {
		return err
	}
	return s.run(c, func(ctx context.Context) (*orchestration.Result, error) {
		return s.orch.Install(ctx, req)
	})
}

// installMinio handles POST /api/v1/infras/:id/install-minio
func (s *Server) installMinio(c echo.Context) error {
	var req orchestration.MinioInstallRequest
	if err := bindOperation(c, &req, func(r *orchestration.MinioInstallRequest, id int) { r.Infra.ID = id }); err != nil {
		return err
	}
	return s.run(c, func(ctx context.Context) (*orchestration.Result, error) {
		return s.orch.InstallMinio(ctx, req)
	})
}

// uninstall handles POST /api/v1/infras/:id/uninstall
func (s *Server) uninstall(c echo.Context) error {
	var req orchestration.UninstallRequest
	if err := bindOperation(c, &req, func(r *orchestration.UninstallRequest, id int) { r.Infra.ID = id }); err != nil {
		return err
	}
	return s.run(c, func(ctx context.Context) (*orchestration.Result, error) {
		return s.orch.Uninstall(ctx, req)
	})
}

// createBackup handles POST /api/v1/infras/:id/backups
func (s *Server) createBackup(c echo.Context) error {
	var req orchestration.BackupRequest
	if err := bindOperation(c, &req, func(r *orchestration.BackupRequest, id int) { r.Infra.ID = id }); err != nil {
		return err
	}
	return s.run(c, func(ctx context.Context) (*orchestration.Result, error) {
		return s.orch.CreateBackup(ctx, req)
	})
}

// deleteBackup handles POST /api/v1/infras/:id/backups/delete
func (s *Server) deleteBackup(c echo.Context) error {
	var req orchestration.DeleteBackupRequest
	if err := bindOperation(c, &req, func(r *orchestration.DeleteBackupRequest, id int) { r.Infra.ID = id }); err != nil {
		return err
	}
	return s.run(c, func(ctx context.Context) (*orchestration.Result, error) {
		return s.orch.DeleteBackup(ctx, req)
	})
}

// createRestore handles POST /api/v1/infras/:id/restores
func (s *Server) createRestore(c echo.Context) error {
	var req orchestration.RestoreRequest
	if err := bindOperation(c, &req, func(r *orchestration.RestoreRequest, id int) { r.Infra.ID = id }); err != nil {
		return err
	}
	return s.run(c, func(ctx context.Context) (*orchestration.Result, error) {
		return s.orch.Restore(ctx, req)
	})
}

// fetchNamespaces handles POST /api/v1/infras/:id/namespaces
func (s *Server) fetchNamespaces(c echo.Context) error {
	var req orchestration.NamespacesRequest
	if err := bindOperation(c, &req, func(r *orchestration.NamespacesRequest, id int) { r.Infra.ID = id }); err != nil {
		return err
	}
	return s.run(c, func(ctx context.Context) (*orchestration.Result, error) {
		return s.orch.FetchNamespaces(ctx, req)
	})
}
