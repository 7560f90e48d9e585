package models

import "fmt"

// InfraType is the kind of infrastructure a backup runs against.
type InfraType string

const (
	InfraKubernetes         InfraType = "kubernetes"
	InfraExternalKubernetes InfraType = "external_kubernetes"
	InfraDocker             InfraType = "docker"
	InfraExternalDocker     InfraType = "external_docker"
	InfraPodman             InfraType = "podman"
	InfraExternalPodman     InfraType = "external_podman"
)

// InfraClass groups infrastructure types by how backups are performed.
type InfraClass string

const (
	// ClassKubernetes infrastructure is backed up by a cluster-side engine.
	ClassKubernetes InfraClass = "kubernetes"
	// ClassContainerRuntime infrastructure is backed up by host-level tooling.
	ClassContainerRuntime InfraClass = "container_runtime"
)

// Class returns the infrastructure class, or an empty string for unknown types.
func (t InfraType) Class() InfraClass {
	switch t {
	case InfraKubernetes, InfraExternalKubernetes:
		return ClassKubernetes
	case InfraDocker, InfraExternalDocker, InfraPodman, InfraExternalPodman:
		return ClassContainerRuntime
	}
	return ""
}

// Runtime returns the container runtime name (docker or podman) for container infra.
func (t InfraType) Runtime() string {
	switch t {
	case InfraDocker, InfraExternalDocker:
		return "docker"
	case InfraPodman, InfraExternalPodman:
		return "podman"
	}
	return ""
}

// ParseInfraType validates an infrastructure type string.
func ParseInfraType(s string) (InfraType, error) {
	t := InfraType(s)
	if t.Class() == "" {
		return "", fmt.Errorf("unknown infrastructure type %q", s)
	}
	return t, nil
}

// Infrastructure identifies a target of backup operations.
type Infrastructure struct {
	ID   int       `json:"id" validate:"required,gt=0"`
	Type InfraType `json:"type" validate:"required"`
	Name string    `json:"name,omitempty"`
}
