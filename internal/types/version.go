package types

import "time"

// VersionRecord is the metadata tagged onto one rule-set snapshot. The
// checksum covers the serialized rules and is used for integrity checks and
// rollback target identification.
type VersionRecord struct {
	Version       string    `json:"version"`
	Description   string    `json:"description"`
	Checksum      string    `json:"checksum"`
	ParentVersion string    `json:"parent_version,omitempty"`
	IsStable      bool      `json:"is_stable"`
	CreatedAt     time.Time `json:"created_at"`
}
