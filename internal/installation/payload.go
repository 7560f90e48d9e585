// Package installation tracks whether the backup engine is installed and
// storage is connected on each infrastructure, and derives the backup gate.
package installation

import (
	"strings"
	"time"

	"evalgo.org/kiwi/models"
)

// Payload is the raw status returned by the check-installation action.
// Older backends report the engine under "velero", newer ones under "engine".
type Payload struct {
	Summary         *Summary              `json:"summary,omitempty"`
	Velero          *EngineBlock          `json:"velero,omitempty"`
	Engine          *EngineBlock          `json:"engine,omitempty"`
	ExternalStorage *ExternalStorageBlock `json:"external_storage,omitempty"`
}

// Summary holds the flags precomputed by the backend.
type Summary struct {
	CanCreateBackup    bool `json:"can_create_backup"`
	HasExternalStorage bool `json:"has_external_storage"`
}

// EngineBlock describes the backup engine deployment.
type EngineBlock struct {
	Installed        bool   `json:"installed"`
	Status           string `json:"status"`
	ConnectedMinioID *int   `json:"connected_minio_id,omitempty"`
}

// ExternalStorageBlock describes the storage the engine writes to.
type ExternalStorageBlock struct {
	Connected bool `json:"connected"`
}

// engine returns the engine block, preferring "velero" when both are present.
func (p Payload) engine() *EngineBlock {
	if p.Velero != nil {
		return p.Velero
	}
	return p.Engine
}

// Interpret maps a payload to an engine state. A payload without an engine
// block means nothing is installed.
func Interpret(p Payload) models.EngineState {
	e := p.engine()
	if e == nil {
		return models.EngineNotInstalled
	}

	status := strings.ToLower(strings.TrimSpace(e.Status))
	switch {
	case status == "installing":
		return models.EngineInstalling
	case e.Installed:
		return models.EngineActive
	case status == "error" || status == "failed":
		return models.EngineError
	}
	return models.EngineNotInstalled
}

// FromPayload builds the status of Kubernetes-class infrastructure.
func FromPayload(infra models.Infrastructure, p Payload, now time.Time) models.InstallationStatus {
	st := models.InstallationStatus{
		InfraID:     infra.ID,
		InfraType:   infra.Type,
		EngineState: Interpret(p),
		CheckedAt:   now,
	}
	if e := p.engine(); e != nil {
		st.EngineInstalled = e.Installed
		st.ConnectedStorageID = e.ConnectedMinioID
	}
	if p.Summary != nil {
		st.SummaryCanCreateBackup = p.Summary.CanCreateBackup
		st.StorageConnected = p.Summary.HasExternalStorage
	}
	if p.ExternalStorage != nil && p.ExternalStorage.Connected {
		st.StorageConnected = true
	}
	return st
}

// FromMappings builds the status of container-runtime infrastructure, which
// has no cluster engine. Storage is connected when at least one mapping exists.
func FromMappings(infra models.Infrastructure, mappings []models.StorageMapping, now time.Time) models.InstallationStatus {
	st := models.InstallationStatus{
		InfraID:          infra.ID,
		InfraType:        infra.Type,
		EngineInstalled:  true,
		EngineState:      models.EngineActive,
		StorageConnected: len(mappings) > 0,
		CheckedAt:        now,
	}
	if id, ok := preferredStorage(mappings); ok {
		st.ConnectedStorageID = &id
	}
	return st
}

// preferredStorage picks the default mapping, or the first one.
func preferredStorage(mappings []models.StorageMapping) (int, bool) {
	for _, m := range mappings {
		if m.IsDefault {
			return m.ExternalStorageID, true
		}
	}
	if len(mappings) > 0 {
		return mappings[0].ExternalStorageID, true
	}
	return 0, false
}

// failed is the fail-closed status stored when a fetch errors.
func failed(infra models.Infrastructure, err error, now time.Time) models.InstallationStatus {
	return models.InstallationStatus{
		InfraID:     infra.ID,
		InfraType:   infra.Type,
		EngineState: models.EngineError,
		CheckedAt:   now,
		LastError:   err.Error(),
	}
}
