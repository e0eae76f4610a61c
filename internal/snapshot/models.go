package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrChecksumMismatch means downloaded bytes do not hash to the descriptor's checksum.
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")
	// ErrEmptySnapshot means the service returned no bytes.
	ErrEmptySnapshot = errors.New("empty snapshot")
)

// Priority selects whose data wins when recovering onto existing shards.
type Priority string

const (
	PriorityDefault  Priority = ""
	PriorityNoSync   Priority = "no_sync"
	PrioritySnapshot Priority = "snapshot"
	PriorityReplica  Priority = "replica"
)

// ParsePriority validates a configured priority. Empty means the service default.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case PriorityDefault, PriorityNoSync, PrioritySnapshot, PriorityReplica:
		return p, nil
	}
	return "", fmt.Errorf("unknown snapshot priority %q", s)
}

// Descriptor identifies a snapshot. Name is opaque and assigned by the service.
type Descriptor struct {
	Name         string `json:"name"`
	Collection   string `json:"collection,omitempty"`
	CreationTime string `json:"creation_time,omitempty"`
	Size         int64  `json:"size,omitempty"`
	Checksum     string `json:"checksum,omitempty"`
}

// Blob is the raw content of a snapshot. It is never parsed.
type Blob []byte

// Checksum returns the SHA-256 hex digest of the blob.
func (b Blob) Checksum() string {
	return ContentHash(b)
}

// ContentHash computes SHA-256 of content.
func ContentHash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// RecoveryRequest restores a snapshot into Target from exactly one source.
type RecoveryRequest struct {
	Target   string
	Location string
	Blob     Blob
	// BlobName is the multipart filename for uploads.
	BlobName string
	Priority Priority
}

// Validate checks that exactly one source is set.
func (r RecoveryRequest) Validate() error {
	if r.Target == "" {
		return errors.New("recovery target is empty")
	}
	hasLocation, hasBlob := r.Location != "", len(r.Blob) > 0
	if hasLocation == hasBlob {
		return errors.New("recovery needs exactly one of location or blob")
	}
	return nil
}
