package api

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"evalgo.org/kiwi/models"
)

// ValidateContentType middleware ensures that requests with a body have the correct Content-Type
func ValidateContentType(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		method := c.Request().Method

		// Only check POST, PUT, PATCH requests
		if method == "POST" || method == "PUT" || method == "PATCH" {
			contentType := c.Request().Header.Get("Content-Type")

			// Allow empty body for cancel and uninstall style requests
			if c.Request().ContentLength == 0 {
				return next(c)
			}

			// Check if Content-Type is application/json
			if !strings.HasPrefix(contentType, "application/json") {
				return BadRequestError(
					"Invalid Content-Type",
					"Content-Type must be 'application/json'. Got: "+contentType,
				)
			}
		}

		return next(c)
	}
}

// ValidateAcceptHeader middleware ensures that clients can accept JSON responses
func ValidateAcceptHeader(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		accept := c.Request().Header.Get("Accept")

		// If no Accept header, assume */*
		if accept == "" {
			return next(c)
		}

		// Check if Accept includes application/json or */*
		if !strings.Contains(accept, "application/json") &&
			!strings.Contains(accept, "*/*") &&
			!strings.Contains(accept, "application/*") {
			return BadRequestError(
				"Invalid Accept header",
				"API only returns JSON. Accept header must include 'application/json' or '*/*'. Got: "+accept,
			)
		}

		return next(c)
	}
}

// ValidateIDFormat middleware validates job and session ids
func ValidateIDFormat(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")

		// If no ID param, skip validation
		if id == "" {
			return next(c)
		}

		// Check for invalid characters
		if strings.Contains(id, " ") {
			return BadRequestError("Invalid ID format", "ID cannot contain spaces")
		}
		// Job ids look like job:backup:5:b-1, session ids are uuids
		if len(id) < 3 {
			return BadRequestError("Invalid ID format", "ID must be at least 3 characters long")
		}
		if len(id) > 256 {
			return BadRequestError("Invalid ID format", "ID must not exceed 256 characters")
		}

		return next(c)
	}
}

// ValidateInfraID middleware requires a positive integer :id and stores it
// under "infraId".
func ValidateInfraID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			return BadRequestError("Invalid infrastructure id", "id must be a positive integer. Got: "+c.Param("id"))
		}
		// Handlers read it back with c.Get("infraId").(int)
		c.Set("infraId", id)
		return next(c)
	}
}

// ValidateJobQuery middleware validates job list filters
func ValidateJobQuery(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Validate status parameter if present
		if status := c.QueryParam("status"); status != "" {
			if _, err := models.ParseJobStatus(status); err != nil {
				return BadRequestError(
					"Invalid status parameter",
					"Status must be one of: New, Pending, InProgress, Completed, Failed, PartiallyFailed. Got: "+status,
				)
			}
		}

		// Validate kind parameter if present
		if kind := c.QueryParam("kind"); kind != "" {
			if k := models.JobKind(kind); k != models.JobKindBackup && k != models.JobKindRestore {
				return BadRequestError("Invalid kind parameter", "Kind must be backup or restore. Got: "+kind)
			}
		}

		// Validate infra parameter if present
		if infra := c.QueryParam("infra"); infra != "" {
			if id, err := strconv.Atoi(infra); err != nil || id <= 0 {
				return BadRequestError("Invalid infra parameter", "infra must be a positive integer. Got: "+infra)
			}
		}

		return next(c)
	}
}

// SecurityHeaders middleware adds security headers to responses
func SecurityHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Add security headers
		c.Response().Header().Set("X-Content-Type-Options", "nosniff")
		c.Response().Header().Set("X-Frame-Options", "DENY")
		c.Response().Header().Set("X-XSS-Protection", "1; mode=block")
		c.Response().Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		// Responses can carry hop usernames, never cache them
		c.Response().Header().Set("Cache-Control", "no-store")

		return next(c)
	}
}
