package orchestration

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"evalgo.org/kiwi/internal/dispatch"
)

// ErrInvalidStorageRef is returned for storage references that are not
// "ext-<id>" or "infra-<id>" with a positive id.
var ErrInvalidStorageRef = errors.New("invalid storage reference")

const (
	externalPrefix = "ext-"
	infraPrefix    = "infra-"
)

// StorageRef selects the storage a backup is written to. Exactly one of the
// fields is set: ExternalStorageID for a shared external storage ("ext-42"),
// StorageID for storage hosted on the infrastructure itself ("infra-7").
type StorageRef struct {
	StorageID         int
	ExternalStorageID int
}

// ParseStorageRef decodes "ext-<n>" or "infra-<n>".
func ParseStorageRef(s string) (StorageRef, error) {
	var (
		rest     string
		external bool
	)
	switch {
	case strings.HasPrefix(s, externalPrefix):
		rest, external = s[len(externalPrefix):], true
	case strings.HasPrefix(s, infraPrefix):
		rest = s[len(infraPrefix):]
	default:
		return StorageRef{}, fmt.Errorf("%w: %q", ErrInvalidStorageRef, s)
	}

	id, err := strconv.Atoi(rest)
	if err != nil || id <= 0 || strconv.Itoa(id) != rest {
		return StorageRef{}, fmt.Errorf("%w: %q", ErrInvalidStorageRef, s)
	}
	if external {
		return StorageRef{ExternalStorageID: id}, nil
	}
	return StorageRef{StorageID: id}, nil
}

// String encodes the reference back to its prefixed form.
func (r StorageRef) String() string {
	if r.ExternalStorageID > 0 {
		return externalPrefix + strconv.Itoa(r.ExternalStorageID)
	}
	if r.StorageID > 0 {
		return infraPrefix + strconv.Itoa(r.StorageID)
	}
	return ""
}

// IsZero reports whether no storage is selected.
func (r StorageRef) IsZero() bool {
	return r.StorageID <= 0 && r.ExternalStorageID <= 0
}

// Target converts the reference to dispatch parameters carrying exactly one id.
func (r StorageRef) Target() dispatch.StorageTarget {
	var t dispatch.StorageTarget
	switch {
	case r.ExternalStorageID > 0:
		id := r.ExternalStorageID
		t.ExternalStorageID = &id
	case r.StorageID > 0:
		id := r.StorageID
		t.StorageID = &id
	}
	return t
}

// MarshalText implements encoding.TextMarshaler.
func (r StorageRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty string is the zero reference.
func (r *StorageRef) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*r = StorageRef{}
		return nil
	}
	parsed, err := ParseStorageRef(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
