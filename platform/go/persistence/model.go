package persistence

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// ResourceKind selects which versioned table an operation targets.
type ResourceKind string

const (
	KindEntity ResourceKind = "entity"
	KindLink   ResourceKind = "link"
)

// Table returns the backing table name for the kind.
func (k ResourceKind) Table() string {
	if k == KindLink {
		return "links"
	}
	return "entities"
}

// TypeCategory mirrors ResourceKind on type records.
type TypeCategory string

const (
	CategoryEntity TypeCategory = "entity"
	CategoryLink   TypeCategory = "link"
)

// Permission levels on ACL entries. Write implies read during authorization
// checks; an explicit read entry is not required for writers.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
)

// Satisfies reports whether holding p satisfies the required level.
func (p Permission) Satisfies(required Permission) bool {
	if p == PermissionWrite {
		return true
	}
	return required == PermissionRead
}

// PrincipalType discriminates ACL entries and group members.
type PrincipalType string

const (
	PrincipalUser  PrincipalType = "user"
	PrincipalGroup PrincipalType = "group"
)

// Sentinel errors shared across the persistence stores.
var (
	ErrResourceNotFound = errors.New("resource not found")
	ErrTypeNotFound     = errors.New("type not found")
	ErrTypeConflict     = errors.New("type already exists")
	ErrInvalidVersion   = errors.New("invalid version")
	ErrAlreadyDeleted   = errors.New("resource already deleted")
	ErrNotDeleted       = errors.New("resource is not deleted")
	ErrResourceDeleted  = errors.New("resource is deleted")
	ErrWriteConflict    = errors.New("concurrent write conflict")
	ErrGroupNotFound    = errors.New("group not found")
	ErrGroupConflict    = errors.New("group already exists")
	ErrGroupCycle       = errors.New("group membership cycle")
	ErrMemberNotFound   = errors.New("group member not found")
	ErrACLNotFound      = errors.New("acl not found")
	ErrInvalidFilter    = errors.New("invalid filter")
)

// ResourceRecord mirrors one row of the entities or links table. Every
// mutation of a logical resource appends a new row; ID changes per version
// while the chain is threaded through PreviousVersionID.
type ResourceRecord struct {
	ID                uuid.UUID       `json:"id"`
	TypeID            uuid.UUID       `json:"typeId"`
	Properties        json.RawMessage `json:"properties"`
	Version           int             `json:"version"`
	PreviousVersionID *uuid.UUID      `json:"previousVersionId,omitempty"`
	CreatedAt         int64           `json:"createdAt"`
	CreatedBy         string          `json:"createdBy"`
	IsDeleted         bool            `json:"isDeleted"`
	IsLatest          bool            `json:"isLatest"`
	ACLID             *int64          `json:"aclId,omitempty"`

	// Link-only columns; nil on entity rows. They hold chain identifiers,
	// which may point at any historical row of the far-side chain.
	SourceEntityID *uuid.UUID `json:"sourceEntityId,omitempty"`
	TargetEntityID *uuid.UUID `json:"targetEntityId,omitempty"`
}

// TypeRecord describes an entity or link type. Types are immutable once
// created; schema evolution happens by creating a new type.
type TypeRecord struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Category    TypeCategory    `json:"category"`
	Description string          `json:"description"`
	JSONSchema  json.RawMessage `json:"jsonSchema,omitempty"`
	CreatedAt   int64           `json:"createdAt"`
}

// ACLEntry names a principal and the permission granted to it.
type ACLEntry struct {
	PrincipalType PrincipalType `json:"principalType"`
	PrincipalID   string        `json:"principalId"`
	Permission    Permission    `json:"permission"`
}

// GroupRecord is a named principal container. Members may be users or other
// groups; the membership relation forms a DAG.
type GroupRecord struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   int64     `json:"createdAt"`
}

// GroupMember is one membership edge.
type GroupMember struct {
	GroupID    uuid.UUID     `json:"groupId"`
	MemberType PrincipalType `json:"memberType"`
	MemberID   string        `json:"memberId"`
}

// rowScanner abstracts pgx.Row and pgx.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}
