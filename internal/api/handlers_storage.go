package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"evalgo.org/kiwi/internal/mappings"
)

// listMappings handles GET /api/v1/infras/:id/storages
func (s *Server) listMappings(c echo.Context) error {
	id := infraID(c)
	list, err := s.orch.Registry().ListForInfra(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MappingsResponse{InfraID: id, Count: len(list), Mappings: list})
}

// linkStorage handles POST /api/v1/infras/:id/storages
func (s *Server) linkStorage(c echo.Context) error {
	var req LinkStorageRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	if err := s.validator.Struct(&req).Err(); err != nil {
		return err
	}

	m, err := s.orch.Registry().Link(c.Request().Context(), infraID(c), req.StorageID, mappings.LinkOptions{
		BSLName:   req.BSLName,
		IsDefault: req.IsDefault,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

// unlinkStorage handles DELETE /api/v1/infras/:id/storages/:storageId
func (s *Server) unlinkStorage(c echo.Context) error {
	storageID, err := strconv.Atoi(c.Param("storageId"))
	if err != nil || storageID <= 0 {
		return BadRequestError("Invalid storage id", "storageId must be a positive integer. Got: "+c.Param("storageId"))
	}
	if err := s.orch.Registry().Unlink(c.Request().Context(), infraID(c), storageID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// batchMappings handles POST /api/v1/storage-mappings/batch
func (s *Server) batchMappings(c echo.Context) error {
	var req InfraIDsRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	if err := s.validator.Struct(&req).Err(); err != nil {
		return err
	}

	byInfra, err := s.orch.Registry().BatchListForInfras(c.Request().Context(), req.InfraIDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, byInfra)
}

// disconnectedInfras handles POST /api/v1/storage-mappings/disconnected
func (s *Server) disconnectedInfras(c echo.Context) error {
	var req InfraIDsRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	if err := s.validator.Struct(&req).Err(); err != nil {
		return err
	}

	ids, err := s.orch.Registry().Disconnected(c.Request().Context(), req.InfraIDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"infraIds": ids})
}

// listStorages handles GET /api/v1/storages
func (s *Server) listStorages(c echo.Context) error {
	list, err := s.orch.Registry().ListExternalStorages(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, StoragesResponse{Count: len(list), Storages: list})
}

// getStorage handles GET /api/v1/storages/:id
func (s *Server) getStorage(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return BadRequestError("Invalid storage id", "id must be a positive integer. Got: "+c.Param("id"))
	}
	st, err := s.orch.Registry().ExternalStorage(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}
