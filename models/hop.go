package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSSHPort is used for hops that do not carry an explicit port.
const DefaultSSHPort = 22

// Port is an SSH port that accepts both JSON numbers and numeric strings.
// Backends are inconsistent here, so 22 and "22" must decode to the same value.
type Port int

// UnmarshalJSON decodes a port from a number, a numeric string, or null.
func (p *Port) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*p = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			*p = 0
			return nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid port %s: %w", string(data), err)
	}
	*p = Port(n)
	return nil
}

// UnmarshalYAML accepts the same forms as UnmarshalJSON.
func (p *Port) UnmarshalYAML(value *yaml.Node) error {
	s := strings.TrimSpace(value.Value)
	if s == "" || value.Tag == "!!null" {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", value.Value, err)
	}
	*p = Port(n)
	return nil
}

// Normalized returns the effective port, substituting 22 for unset values.
func (p Port) Normalized() int {
	if p <= 0 {
		return DefaultSSHPort
	}
	return int(p)
}

// Hop is one SSH-reachable host in a chained connection path.
// The first hop of a chain is the gateway, the last one is the final target.
//
// Example JSON representation:
//
//	{
//	  "host": "10.0.0.5",
//	  "port": 22,
//	  "username": "ops",
//	  "password": "secret"
//	}
type Hop struct {
	// Host is the hostname or IP address of the hop
	Host string `json:"host" yaml:"host" validate:"required"`

	// Port is the SSH port (default: 22)
	Port Port `json:"port" yaml:"port"`

	// Username used to authenticate at this hop
	Username string `json:"username" yaml:"username"`

	// Password used to authenticate at this hop. Write-only: never returned by read endpoints.
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// Key returns the normalized credential lookup key for the hop.
func (h Hop) Key() HopKey {
	return NewHopKey(h.Host, h.Port.Normalized())
}

// Complete reports whether the hop carries both a username and a password.
func (h Hop) Complete() bool {
	return h.Username != "" && h.Password != ""
}

// Address returns host:port suitable for dialing.
func (h Hop) Address() string {
	return h.Key().String()
}

// Redacted returns a copy of the hop without its password.
func (h Hop) Redacted() Hop {
	h.Password = ""
	return h
}

// RedactHops returns copies of the hops without passwords, in the same order.
func RedactHops(hops []Hop) []Hop {
	out := make([]Hop, len(hops))
	for i, h := range hops {
		out[i] = h.Redacted()
	}
	return out
}

// HopKey identifies a credential by normalized host and port.
type HopKey struct {
	Host string
	Port int
}

// NewHopKey builds a key with the host trimmed and lower-cased and the port defaulted.
func NewHopKey(host string, port int) HopKey {
	if port <= 0 {
		port = DefaultSSHPort
	}
	return HopKey{
		Host: strings.ToLower(strings.TrimSpace(host)),
		Port: port,
	}
}

// String renders the key as host:port.
func (k HopKey) String() string {
	if strings.Contains(k.Host, ":") {
		return fmt.Sprintf("[%s]:%d", k.Host, k.Port)
	}
	return fmt.Sprintf("%s:%d", k.Host, k.Port)
}
