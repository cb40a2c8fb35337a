// Package service implements ACL decisions: principal resolution with KV
// memoization, point permission checks, and the list-filter shapes injected
// into entity and link queries.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-graph/platform/go/kv"
	"github.com/zenGate-Global/palmyra-graph/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-graph/platform/go/requesttrace"
)

// ErrInvalidPrincipals is returned when ACL entries reference groups that do
// not exist.
var ErrInvalidPrincipals = errors.New("acl entries reference unknown principals")

// generationKey versions every cached principal closure. Rotating the
// generation invalidates all closures at once, which is the only sound option
// after a group-membership change: a nested-group edge can widen the closure
// of users we cannot enumerate from here.
const generationKey = "principals:generation"

// DefaultFilterCutoff is the accessible-set size above which list filtering
// switches from the in-query shape to post-query row filtering.
const DefaultFilterCutoff = 200

// PrincipalSet is the resolved identity of a caller: the user plus every
// group reachable through the membership DAG.
type PrincipalSet struct {
	UserID        string      `json:"user_id"`
	Groups        []uuid.UUID `json:"groups"`
	Authenticated bool        `json:"authenticated"`
}

// GroupStore is the slice of the persistence layer the ACL engine reads
// membership from.
type GroupStore interface {
	MembershipClosure(ctx context.Context, userID string) ([]uuid.UUID, error)
	Exists(ctx context.Context, ids []uuid.UUID) (bool, error)
}

// ACLStore persists content-addressed ACL records.
type ACLStore interface {
	GetOrCreate(ctx context.Context, entries []persistence.ACLEntry) (*int64, error)
	Entries(ctx context.Context, aclID int64) ([]persistence.ACLEntry, error)
	AccessibleACLIDs(ctx context.Context, userID string, groupIDs []uuid.UUID, required persistence.Permission) ([]int64, error)
}

// Service exposes ACL decisions to the resource and group domains.
type Service interface {
	ResolvePrincipals(ctx context.Context, audit requesttrace.AuditInfo) (PrincipalSet, error)
	HasPermission(ctx context.Context, audit requesttrace.AuditInfo, aclID *int64, required persistence.Permission) (bool, error)
	BuildFilter(ctx context.Context, audit requesttrace.AuditInfo, required persistence.Permission) (persistence.ACLFilter, error)
	GetOrCreate(ctx context.Context, entries []persistence.ACLEntry) (*int64, error)
	Entries(ctx context.Context, aclID int64) ([]persistence.ACLEntry, error)
	InvalidatePrincipals(ctx context.Context)
}

// Config tunes the ACL engine.
type Config struct {
	// PrincipalTTL bounds how stale a cached closure may be. Default 120s.
	PrincipalTTL time.Duration
	// FilterCutoff switches the list-filter shape. Default DefaultFilterCutoff.
	FilterCutoff int
}

type service struct {
	acls   ACLStore
	groups GroupStore
	cache  kv.Store
	logger *zap.Logger

	principalTTL time.Duration
	filterCutoff int
}

// New constructs the ACL engine.
func New(acls ACLStore, groups GroupStore, cache kv.Store, logger *zap.Logger, cfg Config) Service {
	if acls == nil {
		panic("acl store is required")
	}
	if groups == nil {
		panic("group store is required")
	}
	if cache == nil {
		panic("kv cache is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	ttl := cfg.PrincipalTTL
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	cutoff := cfg.FilterCutoff
	if cutoff <= 0 {
		cutoff = DefaultFilterCutoff
	}

	return &service{
		acls:         acls,
		groups:       groups,
		cache:        cache,
		logger:       logger,
		principalTTL: ttl,
		filterCutoff: cutoff,
	}
}

// ResolvePrincipals returns the caller's principal set, serving from the KV
// cache when a fresh closure exists. Cache failures fall back to the database.
func (s *service) ResolvePrincipals(ctx context.Context, audit requesttrace.AuditInfo) (PrincipalSet, error) {
	if !audit.Authenticated() {
		return PrincipalSet{}, nil
	}
	userID := *audit.UserID

	key := s.principalKey(ctx, userID)
	if cached, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn("principal cache read", zap.Error(err))
	} else if ok {
		var set PrincipalSet
		if err := json.Unmarshal(cached, &set); err == nil {
			return set, nil
		}
		s.logger.Warn("principal cache entry corrupt", zap.String("key", key))
	}

	groups, err := s.groups.MembershipClosure(ctx, userID)
	if err != nil {
		return PrincipalSet{}, fmt.Errorf("resolve principals: %w", err)
	}

	set := PrincipalSet{UserID: userID, Groups: groups, Authenticated: true}
	if encoded, err := json.Marshal(set); err == nil {
		if err := s.cache.Set(ctx, key, encoded, s.principalTTL); err != nil {
			s.logger.Warn("principal cache write", zap.Error(err))
		}
	}
	return set, nil
}

// HasPermission decides a point access check against a single acl_id. A null
// acl_id grants read to every caller and write to nobody.
func (s *service) HasPermission(ctx context.Context, audit requesttrace.AuditInfo, aclID *int64, required persistence.Permission) (bool, error) {
	if aclID == nil {
		return required == persistence.PermissionRead, nil
	}
	if !audit.Authenticated() {
		return false, nil
	}

	set, err := s.ResolvePrincipals(ctx, audit)
	if err != nil {
		return false, err
	}

	entries, err := s.acls.Entries(ctx, *aclID)
	if err != nil {
		if errors.Is(err, persistence.ErrACLNotFound) {
			return false, nil
		}
		return false, err
	}

	groups := make(map[string]struct{}, len(set.Groups))
	for _, g := range set.Groups {
		groups[g.String()] = struct{}{}
	}

	for _, entry := range entries {
		if !entry.Permission.Satisfies(required) {
			continue
		}
		switch entry.PrincipalType {
		case persistence.PrincipalUser:
			if entry.PrincipalID == set.UserID {
				return true, nil
			}
		case persistence.PrincipalGroup:
			if _, ok := groups[entry.PrincipalID]; ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// BuildFilter produces the ACL filter for a list query. Small accessible sets
// yield the in-query shape; past the cutoff the caller oversamples and filters
// rows against the in-memory set.
func (s *service) BuildFilter(ctx context.Context, audit requesttrace.AuditInfo, required persistence.Permission) (persistence.ACLFilter, error) {
	includeNull := required == persistence.PermissionRead

	if !audit.Authenticated() {
		return persistence.ACLFilter{InQuery: true, IncludeNull: includeNull}, nil
	}

	set, err := s.ResolvePrincipals(ctx, audit)
	if err != nil {
		return persistence.ACLFilter{}, err
	}

	ids, err := s.acls.AccessibleACLIDs(ctx, set.UserID, set.Groups, required)
	if err != nil {
		return persistence.ACLFilter{}, fmt.Errorf("accessible acl ids: %w", err)
	}

	if len(ids) <= s.filterCutoff {
		return persistence.ACLFilter{InQuery: true, IDs: ids, IncludeNull: includeNull}, nil
	}

	accessible := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		accessible[id] = struct{}{}
	}
	return persistence.ACLFilter{Accessible: accessible, IncludeNull: includeNull}, nil
}

// GetOrCreate canonicalizes and persists an entry set, first checking that
// every group-typed principal exists. User principals are opaque external ids
// and are accepted as-is.
func (s *service) GetOrCreate(ctx context.Context, entries []persistence.ACLEntry) (*int64, error) {
	var groupIDs []uuid.UUID
	for _, entry := range entries {
		if entry.PrincipalType != persistence.PrincipalGroup {
			continue
		}
		id, err := uuid.Parse(entry.PrincipalID)
		if err != nil {
			return nil, fmt.Errorf("%w: bad group id %q", ErrInvalidPrincipals, entry.PrincipalID)
		}
		groupIDs = append(groupIDs, id)
	}

	if len(groupIDs) > 0 {
		ok, err := s.groups.Exists(ctx, groupIDs)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrInvalidPrincipals
		}
	}

	return s.acls.GetOrCreate(ctx, entries)
}

// Entries returns the canonical entry set of an ACL.
func (s *service) Entries(ctx context.Context, aclID int64) ([]persistence.ACLEntry, error) {
	return s.acls.Entries(ctx, aclID)
}

// InvalidatePrincipals drops every cached closure by rotating the generation.
// Called after any group-membership change. Failures are logged; the TTL
// bounds staleness either way.
func (s *service) InvalidatePrincipals(ctx context.Context) {
	if err := s.cache.Set(ctx, generationKey, []byte(uuid.NewString()), 0); err != nil {
		s.logger.Warn("rotate principal cache generation", zap.Error(err))
	}
}

func (s *service) principalKey(ctx context.Context, userID string) string {
	generation := "0"
	if raw, ok, err := s.cache.Get(ctx, generationKey); err == nil && ok {
		generation = string(raw)
	}
	return fmt.Sprintf("principals:%s:%s", generation, userID)
}
