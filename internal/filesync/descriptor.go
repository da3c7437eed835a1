// Package filesync reconciles a local file set against a remote storage
// folder. Compare classifies every file into disjoint action buckets and
// Service executes those buckets against a StorageBackend and a
// LocalDataHandler.
package filesync

import (
	"fmt"
	"time"
)

// FileState is the lifecycle state of a file as seen by one side.
type FileState int

const (
	// StateNew is a local file that has never been synced.
	StateNew FileState = iota

	// StateNormal is a file that has been synced at least once.
	StateNormal

	// StateDeleted is a tombstone. Its timestamp is ignored for
	// upload/download decisions.
	StateDeleted
)

func (s FileState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNormal:
		return "normal"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText lets states appear by name in YAML and JSON output.
func (s FileState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *FileState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "new":
		*s = StateNew
	case "normal":
		*s = StateNormal
	case "deleted":
		*s = StateDeleted
	default:
		return fmt.Errorf("unknown file state %q", string(b))
	}

	return nil
}

// Descriptor is the synchronization record of one file. Filename is the
// identity: two descriptors with the same filename are the same logical
// file regardless of which side produced them. The namespace is flat
// and case-sensitive.
type Descriptor struct {
	Filename  string    `json:"filename" yaml:"filename"`
	State     FileState `json:"state" yaml:"state"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`

	// Dirty is set after a fresh download so the local store knows the
	// bytes on disk changed underneath it.
	Dirty bool `json:"dirty,omitempty" yaml:"dirty,omitempty"`

	// Size in bytes, zero when unknown.
	Size int64 `json:"size,omitempty" yaml:"size,omitempty"`

	LocalLocator  string `json:"local_locator,omitempty" yaml:"local_locator,omitempty"`
	RemoteLocator string `json:"remote_locator,omitempty" yaml:"remote_locator,omitempty"`

	// Metadata is opaque to the engine and must be treated as read-only
	// once the descriptor has been handed over.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// WithState returns a copy of d with the given state.
func (d Descriptor) WithState(s FileState) Descriptor {
	d.State = s
	return d
}

// WithLocalLocator returns a copy of d pointing at local data.
func (d Descriptor) WithLocalLocator(locator string) Descriptor {
	d.LocalLocator = locator
	return d
}

// WithRemoteLocator returns a copy of d pointing at remote data.
func (d Descriptor) WithRemoteLocator(locator string) Descriptor {
	d.RemoteLocator = locator
	return d
}

// IsDeleted reports whether d is a tombstone.
func (d Descriptor) IsDeleted() bool {
	return d.State == StateDeleted
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s[%s @ %s]", d.Filename, d.State, d.UpdatedAt.UTC().Format(time.RFC3339))
}

// Rename is one entry of a rename batch.
type Rename struct {
	Source      Descriptor
	Destination Descriptor
}

// ServiceType identifies a storage backend implementation. Values are
// stable and may be persisted.
type ServiceType int

const (
	ServiceNone ServiceType = iota
	ServiceFolder
	ServiceHTTP
	ServiceS3
	ServiceGCS
)

func (t ServiceType) String() string {
	switch t {
	case ServiceNone:
		return "none"
	case ServiceFolder:
		return "folder"
	case ServiceHTTP:
		return "http"
	case ServiceS3:
		return "s3"
	case ServiceGCS:
		return "gcs"
	default:
		return fmt.Sprintf("service(%d)", int(t))
	}
}
