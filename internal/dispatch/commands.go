// Package dispatch implements the action dispatch protocol: one RPC endpoint
// that accepts {action, parameters} and answers {success, data, error}.
//
// Every action is a distinct Command type, so parameter shapes are checked
// at compile time instead of being assembled as loose maps at call sites.
package dispatch

import "evalgo.org/kiwi/models"

// Action is the wire name of a backend action.
type Action string

const (
	ActionCheckInstallation    Action = "check-installation"
	ActionInstallMinio         Action = "install-minio"
	ActionInstallVelero        Action = "install-velero"
	ActionUninstallVelero      Action = "uninstall-velero"
	ActionCreateBackup         Action = "create-backup"
	ActionDeleteBackup         Action = "delete-backup"
	ActionCreateRestore        Action = "create-restore"
	ActionFetchNamespaces      Action = "fetch-namespaces"
	ActionListExternalStorages Action = "list-external-storages"
	ActionLinkStorage          Action = "link-infra-to-external-storage"
	ActionUnlinkStorage        Action = "unlink-infra-from-external-storage"
	ActionBatchStorageMappings Action = "get-batch-infra-storage-mappings"
	ActionBatchBackups         Action = "get-batch-backups"
	ActionBatchRestores        Action = "get-batch-restores"
)

// Command is a single backend action with its parameters.
// The set of implementations is closed to this package.
type Command interface {
	Action() Action
	command()
}

// Request is the wire envelope sent to the backend.
type Request struct {
	Action     Action  `json:"action"`
	Parameters Command `json:"parameters"`
}

// NewRequest wraps a command into its wire envelope.
func NewRequest(cmd Command) Request {
	return Request{Action: cmd.Action(), Parameters: cmd}
}

// StorageTarget carries exactly one of the two storage id fields.
type StorageTarget struct {
	StorageID         *int `json:"storage_id,omitempty"`
	ExternalStorageID *int `json:"external_storage_id,omitempty"`
}

// CheckInstallation asks for the engine and storage status of an infrastructure.
type CheckInstallation struct {
	InfraID   int              `json:"infra_id"`
	InfraType models.InfraType `json:"infra_type"`
	Hops      []models.Hop     `json:"hops"`
}

// InstallMinio deploys an in-cluster object store.
type InstallMinio struct {
	InfraID   int          `json:"infra_id"`
	Hops      []models.Hop `json:"hops"`
	Bucket    string       `json:"bucket"`
	AccessKey string       `json:"access_key"`
	SecretKey string       `json:"secret_key"`
	Namespace string       `json:"namespace,omitempty"`
}

// InstallVelero installs the backup engine wired to an external storage.
type InstallVelero struct {
	InfraID           int                `json:"infra_id"`
	Hops              []models.Hop       `json:"hops"`
	ExternalStorageID int                `json:"external_storage_id"`
	StorageType       models.StorageType `json:"storage_type"`
	Endpoint          string             `json:"endpoint"`
	Bucket            string             `json:"bucket"`
	Region            string             `json:"region,omitempty"`
	AccessKey         string             `json:"access_key"`
	SecretKey         string             `json:"secret_key"`
	UseSSL            bool               `json:"use_ssl"`
}

// UninstallVelero removes the backup engine.
type UninstallVelero struct {
	InfraID int          `json:"infra_id"`
	Hops    []models.Hop `json:"hops"`
}

// CreateKubernetesBackup starts an engine backup of one namespace.
type CreateKubernetesBackup struct {
	InfraID     int                `json:"infra_id"`
	InfraType   models.InfraType   `json:"infra_type"`
	Hops        []models.Hop       `json:"hops"`
	BackupName  string             `json:"backup_name"`
	Namespace   string             `json:"namespace"`
	Selector    string             `json:"selector,omitempty"`
	Schedule    string             `json:"schedule,omitempty"`
	Retention   string             `json:"retention,omitempty"`
	StorageType models.StorageType `json:"storage_type"`
	StorageTarget
}

// CreateContainerBackup starts a host-level backup on a Docker or Podman host.
type CreateContainerBackup struct {
	InfraID        int                `json:"infra_id"`
	InfraType      models.InfraType   `json:"infra_type"`
	Hops           []models.Hop       `json:"hops"`
	BackupName     string             `json:"backup_name"`
	BackupType     string             `json:"backup_type"`
	ComposeProject string             `json:"compose_project,omitempty"`
	StorageType    models.StorageType `json:"storage_type"`
	StorageTarget
}

// DeleteBackup removes a backup.
type DeleteBackup struct {
	InfraID    int              `json:"infra_id"`
	InfraType  models.InfraType `json:"infra_type"`
	Hops       []models.Hop     `json:"hops"`
	BackupName string           `json:"backup_name"`
}

// CreateKubernetesRestore restores a backup with a namespace mapping.
type CreateKubernetesRestore struct {
	InfraID          int               `json:"infra_id"`
	InfraType        models.InfraType  `json:"infra_type"`
	Hops             []models.Hop      `json:"hops"`
	BackupName       string            `json:"backup_name"`
	RestoreName      string            `json:"restore_name"`
	NamespaceMapping map[string]string `json:"namespace_mapping"`
}

// CreateContainerRestore restores a host-level backup.
type CreateContainerRestore struct {
	InfraID         int              `json:"infra_id"`
	InfraType       models.InfraType `json:"infra_type"`
	Hops            []models.Hop     `json:"hops"`
	BackupName      string           `json:"backup_name"`
	RestoreName     string           `json:"restore_name"`
	RestoreVolumes  bool             `json:"restore_volumes"`
	RestoreConfig   bool             `json:"restore_config"`
	RedeployCompose bool             `json:"redeploy_compose"`
	StopExisting    bool             `json:"stop_existing"`
	Containers      []string         `json:"containers,omitempty"`
}

// FetchNamespaces lists the namespaces of a cluster.
type FetchNamespaces struct {
	InfraID int          `json:"infra_id"`
	Hops    []models.Hop `json:"hops"`
}

// ListExternalStorages lists all configured external storages.
type ListExternalStorages struct{}

// LinkInfraToExternalStorage creates a storage mapping.
type LinkInfraToExternalStorage struct {
	InfraID           int     `json:"infra_id"`
	ExternalStorageID int     `json:"external_storage_id"`
	BSLName           *string `json:"bsl_name,omitempty"`
	IsDefault         bool    `json:"is_default"`
}

// UnlinkInfraFromExternalStorage removes a storage mapping.
type UnlinkInfraFromExternalStorage struct {
	InfraID           int `json:"infra_id"`
	ExternalStorageID int `json:"external_storage_id"`
}

// GetBatchInfraStorageMappings fetches the mappings of many infrastructures at once.
type GetBatchInfraStorageMappings struct {
	InfraIDs []int `json:"infra_ids"`
}

// GetBatchBackups fetches backup jobs of many infrastructures at once.
type GetBatchBackups struct {
	InfraIDs []int    `json:"infra_ids"`
	Names    []string `json:"names,omitempty"`
}

// GetBatchRestores fetches restore jobs of many infrastructures at once.
type GetBatchRestores struct {
	InfraIDs []int    `json:"infra_ids"`
	Names    []string `json:"names,omitempty"`
}

func (CheckInstallation) Action() Action              { return ActionCheckInstallation }
func (InstallMinio) Action() Action                   { return ActionInstallMinio }
func (InstallVelero) Action() Action                  { return ActionInstallVelero }
func (UninstallVelero) Action() Action                { return ActionUninstallVelero }
func (CreateKubernetesBackup) Action() Action         { return ActionCreateBackup }
func (CreateContainerBackup) Action() Action          { return ActionCreateBackup }
func (DeleteBackup) Action() Action                   { return ActionDeleteBackup }
func (CreateKubernetesRestore) Action() Action        { return ActionCreateRestore }
func (CreateContainerRestore) Action() Action         { return ActionCreateRestore }
func (FetchNamespaces) Action() Action                { return ActionFetchNamespaces }
func (ListExternalStorages) Action() Action           { return ActionListExternalStorages }
func (LinkInfraToExternalStorage) Action() Action     { return ActionLinkStorage }
func (UnlinkInfraFromExternalStorage) Action() Action { return ActionUnlinkStorage }
func (GetBatchInfraStorageMappings) Action() Action   { return ActionBatchStorageMappings }
func (GetBatchBackups) Action() Action                { return ActionBatchBackups }
func (GetBatchRestores) Action() Action               { return ActionBatchRestores }

func (CheckInstallation) command()              {}
func (InstallMinio) command()                   {}
func (InstallVelero) command()                  {}
func (UninstallVelero) command()                {}
func (CreateKubernetesBackup) command()         {}
func (CreateContainerBackup) command()          {}
func (DeleteBackup) command()                   {}
func (CreateKubernetesRestore) command()        {}
func (CreateContainerRestore) command()         {}
func (FetchNamespaces) command()                {}
func (ListExternalStorages) command()           {}
func (LinkInfraToExternalStorage) command()     {}
func (UnlinkInfraFromExternalStorage) command() {}
func (GetBatchInfraStorageMappings) command()   {}
func (GetBatchBackups) command()                {}
func (GetBatchRestores) command()               {}
