package models

import "time"

// EngineState is the lifecycle state of the backup engine on an infrastructure.
type EngineState string

const (
	EngineUnknown      EngineState = "unknown"
	EngineNotInstalled EngineState = "not_installed"
	EngineInstalling   EngineState = "installing"
	EngineActive       EngineState = "active"
	EngineError        EngineState = "error"
)

// Settled reports whether an installation poll can stop at this state.
func (s EngineState) Settled() bool {
	return s == EngineActive || s == EngineError
}

// InstallationStatus is the per-infrastructure view of engine and storage readiness.
//
// SummaryCanCreateBackup mirrors the backend's precomputed flag. The combined gate
// is exposed through CanCreateBackup and is never stored.
type InstallationStatus struct {
	InfraID                int         `json:"infraId"`
	InfraType              InfraType   `json:"infraType"`
	EngineInstalled        bool        `json:"engineInstalled"`
	EngineState            EngineState `json:"engineState"`
	StorageConnected       bool        `json:"storageConnected"`
	SummaryCanCreateBackup bool        `json:"summaryCanCreateBackup"`
	ConnectedStorageID     *int        `json:"connectedStorageId,omitempty"`
	CheckedAt              time.Time   `json:"checkedAt"`
	LastError              string      `json:"lastError,omitempty"`
}

// UnknownStatus returns the status of an infrastructure that was never fetched.
func UnknownStatus(infraID int) InstallationStatus {
	return InstallationStatus{InfraID: infraID, EngineState: EngineUnknown}
}

// CanCreateBackup is the backup gate: the backend's summary flag, or an active
// engine with connected storage.
func (s InstallationStatus) CanCreateBackup() bool {
	return s.SummaryCanCreateBackup || (s.EngineState == EngineActive && s.StorageConnected)
}
