// Package registry manages the catalog of named vector stores: creation,
// lazy loading, concurrent access, and atomic persistence.
package registry

import (
	"regexp"
	"time"

	"github.com/ivansantander-hub/docuchat/internal/errors"
)

// Scope says who owns a store.
type Scope string

const (
	// ScopeSystem is for shared stores visible to every user.
	ScopeSystem Scope = "system"
	// ScopeUser is for stores owned by a single user.
	ScopeUser Scope = "user"
)

// nameRegex constrains store names and owner IDs to filesystem-safe tokens.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// maxNameLength bounds store names and owner IDs.
const maxNameLength = 128

// StoreKey uniquely identifies a vector store.
type StoreKey struct {
	Scope Scope  `json:"scope"`
	Owner string `json:"owner,omitempty"`
	Name  string `json:"name"`
}

// UserStore returns the key of a user-owned store.
func UserStore(owner, name string) StoreKey {
	return StoreKey{Scope: ScopeUser, Owner: owner, Name: name}
}

// SystemStore returns the key of a shared system store.
func SystemStore(name string) StoreKey {
	return StoreKey{Scope: ScopeSystem, Name: name}
}

// Validate checks the key for structural problems.
func (k StoreKey) Validate() error {
	switch k.Scope {
	case ScopeSystem:
		if k.Owner != "" {
			return errors.Newf(errors.ErrCodeInvalidName,
				"system store %q must not have an owner", k.Name)
		}
	case ScopeUser:
		if !validToken(k.Owner) {
			return errors.Newf(errors.ErrCodeInvalidName, "invalid owner ID %q", k.Owner)
		}
	default:
		return errors.Newf(errors.ErrCodeInvalidName, "unknown store scope %q", k.Scope)
	}

	if !validToken(k.Name) {
		return errors.Newf(errors.ErrCodeInvalidName, "invalid store name %q", k.Name)
	}
	return nil
}

// ID returns the filesystem identifier for the key.
func (k StoreKey) ID() string {
	if k.Scope == ScopeSystem {
		return "system__" + k.Name
	}
	return "user__" + k.Owner + "__" + k.Name
}

func validToken(s string) bool {
	return s != "" && len(s) <= maxNameLength && nameRegex.MatchString(s)
}

// DocumentInfo records one member document of a store.
type DocumentInfo struct {
	ChunkCount int       `json:"chunk_count"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Descriptor is the durable metadata of a store. It is persisted inside the
// store file and mirrored to a JSON sidecar for cheap listing.
type Descriptor struct {
	Name           string                  `json:"name"`
	Scope          Scope                   `json:"scope"`
	Owner          string                  `json:"owner,omitempty"`
	Dimensions     int                     `json:"dimensions"`
	EmbeddingModel string                  `json:"embedding_model"`
	Documents      map[string]DocumentInfo `json:"documents"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// Key returns the store key of the descriptor.
func (d Descriptor) Key() StoreKey {
	return StoreKey{Scope: d.Scope, Owner: d.Owner, Name: d.Name}
}

// ChunkCount returns the total live chunks across all member documents.
func (d Descriptor) ChunkCount() int {
	total := 0
	for _, info := range d.Documents {
		total += info.ChunkCount
	}
	return total
}

// clone returns a deep copy so callers cannot mutate registry state.
func (d Descriptor) clone() Descriptor {
	out := d
	out.Documents = make(map[string]DocumentInfo, len(d.Documents))
	for name, info := range d.Documents {
		out.Documents[name] = info
	}
	return out
}
