package api

import (
	"evalgo.org/kiwi/models"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// MessageResponse represents a simple message response.
type MessageResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// JobsResponse represents a page of recorded jobs.
type JobsResponse struct {
	Count  int           `json:"count"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
	Jobs   []*models.Job `json:"jobs"`
}

// MappingsResponse lists the storages linked to one infrastructure.
type MappingsResponse struct {
	InfraID  int                     `json:"infraId"`
	Count    int                     `json:"count"`
	Mappings []models.StorageMapping `json:"mappings"`
}

// StoragesResponse lists external storages.
type StoragesResponse struct {
	Count    int                      `json:"count"`
	Storages []models.ExternalStorage `json:"storages"`
}

// InstallationsResponse lists every known installation status.
type InstallationsResponse struct {
	Count         int                         `json:"count"`
	Installations []models.InstallationStatus `json:"installations"`
}

// SessionsResponse lists open auth sessions.
type SessionsResponse struct {
	Count    int                      `json:"count"`
	Sessions []models.AuthSessionView `json:"sessions"`
}

// LinkStorageRequest links an external storage to an infrastructure.
type LinkStorageRequest struct {
	StorageID int     `json:"storageId" validate:"required,gt=0"`
	BSLName   *string `json:"bslName,omitempty"`
	IsDefault bool    `json:"isDefault"`
}

// InfraIDsRequest carries a batch of infrastructure ids.
type InfraIDsRequest struct {
	InfraIDs []int `json:"infraIds" validate:"required,min=1,dive,gt=0"`
}

// SubmitCredentialsRequest completes an auth session.
type SubmitCredentialsRequest struct {
	Credentials []models.CredentialInput `json:"credentials"`
}
