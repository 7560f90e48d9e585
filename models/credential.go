package models

import "time"

// Credential is a cached username/password pair for one (host, port).
type Credential struct {
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Key returns the normalized lookup key of the credential.
func (c Credential) Key() HopKey {
	return NewHopKey(c.Host, c.Port)
}

// Complete reports whether both username and password are set.
func (c Credential) Complete() bool {
	return c.Username != "" && c.Password != ""
}

// CredentialFromHop extracts the credential part of a hop.
func CredentialFromHop(h Hop) Credential {
	k := h.Key()
	return Credential{
		Host:     k.Host,
		Port:     k.Port,
		Username: h.Username,
		Password: h.Password,
	}
}

// CredentialInput is one row of manually entered credentials, matched to a hop by index.
type CredentialInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}
