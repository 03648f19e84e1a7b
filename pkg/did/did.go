// Package did provides parsing, validation, and generation for the did:cos
// identifier scheme used by the AgentVault registry.
//
// Format: did:cos:[id]
//
// Examples:
//
//	did:cos:7c9e6679-7425-40de-944b-e07fc1f90ae7   (registry-assigned agent)
//	did:cos:treasury                                (well-known system account)
//
// The id segment is a UUID for registry-assigned agents, or a reserved
// lowercase name for system accounts. DIDs are opaque to callers: no meaning
// may be derived from the id segment beyond equality.
package did

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const prefix = "did:cos:"

// Treasury is the well-known DID of the registry treasury account.
// Fees accrue here and rewards are paid from here.
const Treasury = "did:cos:treasury"

// DID represents a parsed did:cos identifier.
type DID struct {
	Method string // always "cos"
	ID     string // UUID or reserved system name
	raw    string
}

// New generates a fresh registry-assigned DID backed by a random UUID.
func New() string {
	return prefix + uuid.New().String()
}

// Parse parses and validates a did:cos identifier string.
func Parse(raw string) (*DID, error) {
	if !strings.HasPrefix(raw, "did:") {
		return nil, fmt.Errorf("invalid DID %q: missing did: prefix", raw)
	}
	rest := strings.TrimPrefix(raw, "did:")

	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid DID %q: expected did:cos:[id]", raw)
	}
	if parts[0] != "cos" {
		return nil, fmt.Errorf("unsupported DID method %q: expected \"cos\"", parts[0])
	}

	id := parts[1]
	if !validID(id) {
		return nil, fmt.Errorf("invalid DID id segment %q", id)
	}

	return &DID{Method: "cos", ID: id, raw: raw}, nil
}

// IsValid reports whether raw is a well-formed did:cos identifier.
func IsValid(raw string) bool {
	_, err := Parse(raw)
	return err == nil
}

// IsSystem reports whether the DID names a reserved system account
// (non-UUID id segment, e.g. the treasury).
func (d *DID) IsSystem() bool {
	_, err := uuid.Parse(d.ID)
	return err != nil
}

// IsSystemDID reports whether raw is a well-formed DID naming a reserved
// system account.
func IsSystemDID(raw string) bool {
	d, err := Parse(raw)
	return err == nil && d.IsSystem()
}

// String returns the canonical did:cos string form.
func (d *DID) String() string {
	return prefix + d.ID
}

// validID accepts UUIDs and lowercase alphanumeric system names.
func validID(id string) bool {
	if _, err := uuid.Parse(id); err == nil {
		return true
	}
	if len(id) == 0 || len(id) > 64 {
		return false
	}
	for _, r := range id {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' && r != '_' {
			return false
		}
	}
	return true
}
