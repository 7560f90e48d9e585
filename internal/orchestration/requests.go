package orchestration

import (
	"evalgo.org/kiwi/models"
)

// InstallRequest installs the backup engine wired to an external storage.
type InstallRequest struct {
	Infra     models.Infrastructure `json:"infra"`
	StorageID int                   `json:"storageId" validate:"required,gt=0"`
	Hops      []models.Hop          `json:"hops" validate:"required,min=1"`
}

// MinioInstallRequest deploys an object store inside a cluster.
type MinioInstallRequest struct {
	Infra     models.Infrastructure `json:"infra"`
	Hops      []models.Hop          `json:"hops" validate:"required,min=1"`
	Bucket    string                `json:"bucket" validate:"required"`
	AccessKey string                `json:"accessKey" validate:"required"`
	SecretKey string                `json:"secretKey" validate:"required"`
	Namespace string                `json:"namespace,omitempty"`
}

// UninstallRequest removes the backup engine.
type UninstallRequest struct {
	Infra models.Infrastructure `json:"infra"`
	Hops  []models.Hop          `json:"hops" validate:"required,min=1"`
}

// BackupRequest starts a backup. Namespace applies to Kubernetes
// infrastructure, BackupType and ComposeProject to container runtimes.
type BackupRequest struct {
	Infra       models.Infrastructure `json:"infra"`
	Hops        []models.Hop          `json:"hops" validate:"required,min=1"`
	Name        string                `json:"name,omitempty"`
	StorageType models.StorageType    `json:"storageType,omitempty" validate:"omitempty,oneof=minio s3 other"`
	Storage     StorageRef            `json:"storage"`

	Namespace string `json:"namespace,omitempty"`
	Selector  string `json:"selector,omitempty"`
	Schedule  string `json:"schedule,omitempty"`
	Retention string `json:"retention,omitempty"`

	BackupType     string `json:"backupType,omitempty" validate:"omitempty,oneof=full volumes config"`
	ComposeProject string `json:"composeProject,omitempty"`
}

// RestoreRequest restores a backup. When NamespaceMapping is empty a
// Kubernetes restore maps every namespace of the backup onto itself.
type RestoreRequest struct {
	Infra      models.Infrastructure `json:"infra"`
	Hops       []models.Hop          `json:"hops" validate:"required,min=1"`
	BackupName string                `json:"backupName" validate:"required"`
	Name       string                `json:"name,omitempty"`

	NamespaceMapping map[string]string `json:"namespaceMapping,omitempty"`
	Namespaces       []string          `json:"namespaces,omitempty"`

	RestoreVolumes  bool     `json:"restoreVolumes"`
	RestoreConfig   bool     `json:"restoreConfig"`
	RedeployCompose bool     `json:"redeployCompose"`
	StopExisting    bool     `json:"stopExisting"`
	Containers      []string `json:"containers,omitempty"`
}

// DeleteBackupRequest removes a backup.
type DeleteBackupRequest struct {
	Infra      models.Infrastructure `json:"infra"`
	Hops       []models.Hop          `json:"hops" validate:"required,min=1"`
	BackupName string                `json:"backupName" validate:"required"`
}

// CheckRequest refreshes the installation status of an infrastructure.
type CheckRequest struct {
	Infra models.Infrastructure `json:"infra"`
	Hops  []models.Hop          `json:"hops"`
}

// NamespacesRequest lists the namespaces of a cluster.
type NamespacesRequest struct {
	Infra models.Infrastructure `json:"infra"`
	Hops  []models.Hop          `json:"hops" validate:"required,min=1"`
}

// Accepted confirms that the backend took a job. It does not mean the job succeeded.
type Accepted struct {
	JobID    string         `json:"jobId"`
	RemoteID string         `json:"remoteId"`
	Kind     models.JobKind `json:"kind"`
	InfraID  int            `json:"infraId"`
	Name     string         `json:"name"`
}

// Result is what an operation returns once it ran, directly or after Continue.
type Result struct {
	Purpose    models.AuthPurpose         `json:"purpose"`
	Accepted   *Accepted                  `json:"accepted,omitempty"`
	Status     *models.InstallationStatus `json:"status,omitempty"`
	Namespaces []string                   `json:"namespaces,omitempty"`
	Message    string                     `json:"message,omitempty"`
}
