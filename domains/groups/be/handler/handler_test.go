package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-graph/domains/groups/be/service"
	"github.com/zenGate-Global/palmyra-graph/platform/go/persistence"
)

type mockService struct {
	createFn       func(ctx context.Context, name, description string) (persistence.GroupRecord, error)
	getFn          func(ctx context.Context, id uuid.UUID) (service.GroupDetail, error)
	listFn         func(ctx context.Context) ([]persistence.GroupRecord, error)
	listMembersFn  func(ctx context.Context, groupID uuid.UUID) ([]persistence.GroupMember, error)
	addMemberFn    func(ctx context.Context, groupID uuid.UUID, memberType, memberID string) error
	removeMemberFn func(ctx context.Context, groupID uuid.UUID, memberType, memberID string) error
}

func (m *mockService) Create(ctx context.Context, name, description string) (persistence.GroupRecord, error) {
	return m.createFn(ctx, name, description)
}

func (m *mockService) Get(ctx context.Context, id uuid.UUID) (service.GroupDetail, error) {
	return m.getFn(ctx, id)
}

func (m *mockService) List(ctx context.Context) ([]persistence.GroupRecord, error) {
	return m.listFn(ctx)
}

func (m *mockService) ListMembers(ctx context.Context, groupID uuid.UUID) ([]persistence.GroupMember, error) {
	return m.listMembersFn(ctx, groupID)
}

func (m *mockService) AddMember(ctx context.Context, groupID uuid.UUID, memberType, memberID string) error {
	return m.addMemberFn(ctx, groupID, memberType, memberID)
}

func (m *mockService) RemoveMember(ctx context.Context, groupID uuid.UUID, memberType, memberID string) error {
	return m.removeMemberFn(ctx, groupID, memberType, memberID)
}

func newRouter(svc service.Service) http.Handler {
	r := chi.NewRouter()
	New(svc, zap.NewNop()).Routes(r)
	return r
}

func TestCreateGroup(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		createFn: func(ctx context.Context, name, description string) (persistence.GroupRecord, error) {
			return persistence.GroupRecord{ID: uuid.New(), Name: name}, nil
		},
	}

	r := httptest.NewRequest(http.MethodPost, "/groups", strings.NewReader(`{"name":"admins"}`))
	w := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Contains(t, w.Body.String(), `"admins"`)
}

func TestAddMemberCycleConflict(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		addMemberFn: func(ctx context.Context, groupID uuid.UUID, memberType, memberID string) error {
			return service.ErrCycle
		},
	}

	body := `{"member_type":"group","member_id":"` + uuid.NewString() + `"}`
	r := httptest.NewRequest(http.MethodPost, "/groups/"+uuid.NewString()+"/members", strings.NewReader(body))
	w := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, w.Body.String(), "cycle")
}

func TestRemoveMemberNoContent(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		removeMemberFn: func(ctx context.Context, groupID uuid.UUID, memberType, memberID string) error {
			return nil
		},
	}

	body := `{"member_type":"user","member_id":"user-1"}`
	r := httptest.NewRequest(http.MethodDelete, "/groups/"+uuid.NewString()+"/members", strings.NewReader(body))
	w := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestListMembers(t *testing.T) {
	t.Parallel()

	groupID := uuid.New()
	svc := &mockService{
		listMembersFn: func(ctx context.Context, id uuid.UUID) ([]persistence.GroupMember, error) {
			require.Equal(t, groupID, id)
			return []persistence.GroupMember{
				{GroupID: id, MemberType: persistence.PrincipalUser, MemberID: "user-1"},
			}, nil
		},
	}

	r := httptest.NewRequest(http.MethodGet, "/groups/"+groupID.String()+"/members", nil)
	w := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"user-1"`)
}

func TestGetGroupBadID(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/groups/oops", nil)
	w := httptest.NewRecorder()
	newRouter(&mockService{}).ServeHTTP(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetGroupNotFound(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		getFn: func(ctx context.Context, id uuid.UUID) (service.GroupDetail, error) {
			return service.GroupDetail{}, service.ErrNotFound
		},
	}

	r := httptest.NewRequest(http.MethodGet, "/groups/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusNotFound, w.Code)
}
