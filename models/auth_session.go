package models

import (
	"fmt"
	"time"
)

// AuthPurpose names the operation an authentication request is collected for.
type AuthPurpose string

const (
	PurposeNamespace    AuthPurpose = "namespace"
	PurposeSetup        AuthPurpose = "setup"
	PurposeBackup       AuthPurpose = "backup"
	PurposeRestore      AuthPurpose = "restore"
	PurposeDelete       AuthPurpose = "delete"
	PurposeInstall      AuthPurpose = "install"
	PurposeUninstall    AuthPurpose = "uninstall"
	PurposeBucketConfig AuthPurpose = "bucket-config"
)

var authPurposes = map[AuthPurpose]bool{
	PurposeNamespace:    true,
	PurposeSetup:        true,
	PurposeBackup:       true,
	PurposeRestore:      true,
	PurposeDelete:       true,
	PurposeInstall:      true,
	PurposeUninstall:    true,
	PurposeBucketConfig: true,
}

// Valid reports whether p is a known purpose.
func (p AuthPurpose) Valid() bool {
	return authPurposes[p]
}

// ParseAuthPurpose converts a string into an AuthPurpose.
func ParseAuthPurpose(s string) (AuthPurpose, error) {
	p := AuthPurpose(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown auth purpose %q", s)
	}
	return p, nil
}

// RequiresPasswordCheck reports whether typed passwords must match the dispatched hops.
func (p AuthPurpose) RequiresPasswordCheck() bool {
	return p == PurposeDelete || p == PurposeUninstall
}

// AuthState is the state of an authentication session.
type AuthState string

const (
	AuthIdle                AuthState = "idle"
	AuthAwaitingCredentials AuthState = "awaiting_credentials"
	AuthResolved            AuthState = "resolved"
	AuthCancelled           AuthState = "cancelled"
)

// AuthSessionView is the externally visible snapshot of a pending authentication request.
// Passwords are never part of it; Prefill only carries usernames found in the store.
type AuthSessionView struct {
	ID        string            `json:"id"`
	Purpose   AuthPurpose       `json:"purpose"`
	State     AuthState         `json:"state"`
	Hops      []Hop             `json:"hops"`
	Prefill   []CredentialInput `json:"prefill"`
	CreatedAt time.Time         `json:"createdAt"`
}
