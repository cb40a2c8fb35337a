// Package service manages groups and the membership DAG behind group-typed
// ACL principals.
package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-graph/platform/go/persistence"
)

// ValidationError captures input problems surfaced to the API as 400s.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Domain-level errors surfaced by the service.
var (
	ErrNotFound       = errors.New("group not found")
	ErrConflict       = errors.New("group already exists")
	ErrCycle          = errors.New("membership edge would create a cycle")
	ErrMemberNotFound = errors.New("membership edge not found")
)

// Store is the persistence slice the service needs.
type Store interface {
	Create(ctx context.Context, params persistence.CreateGroupParams) (persistence.GroupRecord, error)
	Get(ctx context.Context, id uuid.UUID) (persistence.GroupRecord, error)
	List(ctx context.Context) ([]persistence.GroupRecord, error)
	Members(ctx context.Context, groupID uuid.UUID) ([]persistence.GroupMember, error)
	AddMember(ctx context.Context, member persistence.GroupMember) error
	RemoveMember(ctx context.Context, member persistence.GroupMember) error
}

// PrincipalInvalidator drops cached principal closures after membership
// changes. The ACL engine satisfies this.
type PrincipalInvalidator interface {
	InvalidatePrincipals(ctx context.Context)
}

// GroupDetail is a group with its direct members expanded.
type GroupDetail struct {
	persistence.GroupRecord
	Members []persistence.GroupMember `json:"members"`
}

// Service exposes group administration.
type Service interface {
	Create(ctx context.Context, name, description string) (persistence.GroupRecord, error)
	Get(ctx context.Context, id uuid.UUID) (GroupDetail, error)
	List(ctx context.Context) ([]persistence.GroupRecord, error)
	ListMembers(ctx context.Context, groupID uuid.UUID) ([]persistence.GroupMember, error)
	AddMember(ctx context.Context, groupID uuid.UUID, memberType, memberID string) error
	RemoveMember(ctx context.Context, groupID uuid.UUID, memberType, memberID string) error
}

type service struct {
	store       Store
	invalidator PrincipalInvalidator
}

// New constructs a Service instance.
func New(store Store, invalidator PrincipalInvalidator) Service {
	if store == nil {
		panic("groups store is required")
	}
	if invalidator == nil {
		panic("principal invalidator is required")
	}
	return &service{store: store, invalidator: invalidator}
}

func (s *service) Create(ctx context.Context, name, description string) (persistence.GroupRecord, error) {
	if strings.TrimSpace(name) == "" {
		return persistence.GroupRecord{}, &ValidationError{Reason: "name is required"}
	}

	record, err := s.store.Create(ctx, persistence.CreateGroupParams{Name: name, Description: description})
	if err != nil {
		return persistence.GroupRecord{}, translateError(err)
	}
	return record, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (GroupDetail, error) {
	if id == uuid.Nil {
		return GroupDetail{}, &ValidationError{Reason: "group id is required"}
	}

	record, err := s.store.Get(ctx, id)
	if err != nil {
		return GroupDetail{}, translateError(err)
	}

	members, err := s.store.Members(ctx, id)
	if err != nil {
		return GroupDetail{}, translateError(err)
	}
	if members == nil {
		members = []persistence.GroupMember{}
	}

	return GroupDetail{GroupRecord: record, Members: members}, nil
}

func (s *service) List(ctx context.Context) ([]persistence.GroupRecord, error) {
	return s.store.List(ctx)
}

func (s *service) ListMembers(ctx context.Context, groupID uuid.UUID) ([]persistence.GroupMember, error) {
	if groupID == uuid.Nil {
		return nil, &ValidationError{Reason: "group id is required"}
	}

	if _, err := s.store.Get(ctx, groupID); err != nil {
		return nil, translateError(err)
	}

	members, err := s.store.Members(ctx, groupID)
	if err != nil {
		return nil, translateError(err)
	}
	if members == nil {
		members = []persistence.GroupMember{}
	}
	return members, nil
}

func (s *service) AddMember(ctx context.Context, groupID uuid.UUID, memberType, memberID string) error {
	member, err := buildMember(groupID, memberType, memberID)
	if err != nil {
		return err
	}

	if err := s.store.AddMember(ctx, member); err != nil {
		return translateError(err)
	}

	// Closures cached before this edge existed are now stale.
	s.invalidator.InvalidatePrincipals(ctx)
	return nil
}

func (s *service) RemoveMember(ctx context.Context, groupID uuid.UUID, memberType, memberID string) error {
	member, err := buildMember(groupID, memberType, memberID)
	if err != nil {
		return err
	}

	if err := s.store.RemoveMember(ctx, member); err != nil {
		return translateError(err)
	}

	s.invalidator.InvalidatePrincipals(ctx)
	return nil
}

func buildMember(groupID uuid.UUID, memberType, memberID string) (persistence.GroupMember, error) {
	if groupID == uuid.Nil {
		return persistence.GroupMember{}, &ValidationError{Reason: "group id is required"}
	}

	kind := persistence.PrincipalType(memberType)
	if kind != persistence.PrincipalUser && kind != persistence.PrincipalGroup {
		return persistence.GroupMember{}, &ValidationError{Reason: "member_type must be user or group"}
	}
	if strings.TrimSpace(memberID) == "" {
		return persistence.GroupMember{}, &ValidationError{Reason: "member_id is required"}
	}
	if kind == persistence.PrincipalGroup {
		if _, err := uuid.Parse(memberID); err != nil {
			return persistence.GroupMember{}, &ValidationError{Reason: "member_id must be a group id"}
		}
	}

	return persistence.GroupMember{GroupID: groupID, MemberType: kind, MemberID: memberID}, nil
}

func translateError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrGroupNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrGroupConflict):
		return ErrConflict
	case errors.Is(err, persistence.ErrGroupCycle):
		return ErrCycle
	case errors.Is(err, persistence.ErrMemberNotFound):
		return ErrMemberNotFound
	default:
		return err
	}
}
