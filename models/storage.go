package models

import "strings"

// StorageType is the kind of object store behind an external storage.
type StorageType string

const (
	StorageMinio StorageType = "minio"
	StorageS3    StorageType = "s3"
	StorageOther StorageType = "other"
)

// StorageStatus is the operational status of an external storage.
type StorageStatus string

const (
	StorageActive   StorageStatus = "active"
	StorageInactive StorageStatus = "inactive"
	StorageError    StorageStatus = "error"
)

// ExternalStorage is an object-storage endpoint that receives backup artifacts.
type ExternalStorage struct {
	ID        int           `json:"id"`
	Name      string        `json:"name"`
	Type      StorageType   `json:"type"`
	Endpoint  string        `json:"endpoint"`
	AccessKey string        `json:"access_key,omitempty"`
	SecretKey string        `json:"secret_key,omitempty"`
	Bucket    string        `json:"bucket"`
	Region    string        `json:"region,omitempty"`
	UseSSL    bool          `json:"use_ssl"`
	Status    StorageStatus `json:"status"`
}

// Usable reports whether the record has everything an engine install needs.
func (s ExternalStorage) Usable() bool {
	return s.Endpoint != "" && s.Bucket != "" && s.AccessKey != "" && s.SecretKey != ""
}

// NormalizedEndpoint returns the endpoint with a scheme derived from UseSSL when missing.
func (s ExternalStorage) NormalizedEndpoint() string {
	ep := strings.TrimSpace(s.Endpoint)
	if strings.HasPrefix(ep, "http://") || strings.HasPrefix(ep, "https://") {
		return ep
	}
	if s.UseSSL {
		return "https://" + ep
	}
	return "http://" + ep
}

// Redacted returns a copy without access and secret keys.
func (s ExternalStorage) Redacted() ExternalStorage {
	s.AccessKey = ""
	s.SecretKey = ""
	return s
}

// StorageMapping links one infrastructure to one external storage.
type StorageMapping struct {
	InfraID           int     `json:"infra_id"`
	ExternalStorageID int     `json:"external_storage_id"`
	BSLName           *string `json:"bsl_name,omitempty"`
	IsDefault         bool    `json:"is_default"`
}
