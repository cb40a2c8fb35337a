package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-graph/domains/resources/be/service"
	"github.com/zenGate-Global/palmyra-graph/platform/go/persistence"
)

type mockService struct {
	createFn     func(ctx context.Context, params service.CreateParams) (persistence.ResourceRecord, error)
	getFn        func(ctx context.Context, id uuid.UUID) (persistence.ResourceRecord, error)
	getVersionFn func(ctx context.Context, id uuid.UUID, version int) (persistence.ResourceRecord, error)
	listFn       func(ctx context.Context, params service.ListParams) (service.ListResult, error)
	searchFn     func(ctx context.Context, params service.SearchParams) (service.ListResult, error)
	updateFn     func(ctx context.Context, id uuid.UUID, properties json.RawMessage) (persistence.ResourceRecord, error)
	deleteFn     func(ctx context.Context, id uuid.UUID) (persistence.ResourceRecord, error)
	restoreFn    func(ctx context.Context, id uuid.UUID) (persistence.ResourceRecord, error)
	setACLFn     func(ctx context.Context, id uuid.UUID, entries []persistence.ACLEntry) (persistence.ResourceRecord, error)
	getACLFn     func(ctx context.Context, id uuid.UUID) ([]persistence.ACLEntry, error)
	versionsFn   func(ctx context.Context, id uuid.UUID) ([]persistence.ResourceRecord, error)
	historyFn    func(ctx context.Context, id uuid.UUID) ([]service.HistoryEntry, error)
	traverseFn   func(ctx context.Context, id uuid.UUID, direction persistence.Direction, params service.TraverseParams) ([]service.TraversalItem, error)
	neighborsFn  func(ctx context.Context, id uuid.UUID, params service.TraverseParams) ([]service.Neighbor, error)
}

func (m *mockService) Create(ctx context.Context, params service.CreateParams) (persistence.ResourceRecord, error) {
	return m.createFn(ctx, params)
}

func (m *mockService) Get(ctx context.Context, id uuid.UUID) (persistence.ResourceRecord, error) {
	return m.getFn(ctx, id)
}

func (m *mockService) GetVersion(ctx context.Context, id uuid.UUID, version int) (persistence.ResourceRecord, error) {
	return m.getVersionFn(ctx, id, version)
}

func (m *mockService) List(ctx context.Context, params service.ListParams) (service.ListResult, error) {
	return m.listFn(ctx, params)
}

func (m *mockService) Search(ctx context.Context, params service.SearchParams) (service.ListResult, error) {
	return m.searchFn(ctx, params)
}

func (m *mockService) Update(ctx context.Context, id uuid.UUID, properties json.RawMessage) (persistence.ResourceRecord, error) {
	return m.updateFn(ctx, id, properties)
}

func (m *mockService) Delete(ctx context.Context, id uuid.UUID) (persistence.ResourceRecord, error) {
	return m.deleteFn(ctx, id)
}

func (m *mockService) Restore(ctx context.Context, id uuid.UUID) (persistence.ResourceRecord, error) {
	return m.restoreFn(ctx, id)
}

func (m *mockService) SetACL(ctx context.Context, id uuid.UUID, entries []persistence.ACLEntry) (persistence.ResourceRecord, error) {
	return m.setACLFn(ctx, id, entries)
}

func (m *mockService) GetACL(ctx context.Context, id uuid.UUID) ([]persistence.ACLEntry, error) {
	return m.getACLFn(ctx, id)
}

func (m *mockService) Versions(ctx context.Context, id uuid.UUID) ([]persistence.ResourceRecord, error) {
	return m.versionsFn(ctx, id)
}

func (m *mockService) History(ctx context.Context, id uuid.UUID) ([]service.HistoryEntry, error) {
	return m.historyFn(ctx, id)
}

func (m *mockService) Traverse(ctx context.Context, id uuid.UUID, direction persistence.Direction, params service.TraverseParams) ([]service.TraversalItem, error) {
	return m.traverseFn(ctx, id, direction, params)
}

func (m *mockService) Neighbors(ctx context.Context, id uuid.UUID, params service.TraverseParams) ([]service.Neighbor, error) {
	return m.neighborsFn(ctx, id, params)
}

func newEntityRouter(svc service.Service) http.Handler {
	r := chi.NewRouter()
	New(svc, persistence.KindEntity, zap.NewNop()).Routes(r)
	return r
}

func TestCreateEntity(t *testing.T) {
	t.Parallel()

	typeID := uuid.New()
	svc := &mockService{
		createFn: func(ctx context.Context, params service.CreateParams) (persistence.ResourceRecord, error) {
			require.Equal(t, typeID, params.TypeID)
			require.Len(t, params.ACLEntries, 1)
			return persistence.ResourceRecord{ID: uuid.New(), TypeID: typeID, Version: 1}, nil
		},
	}

	body := `{"type_id":"` + typeID.String() + `","properties":{"name":"x"},"acl":[{"principal_type":"user","principal_id":"u1","permission":"write"}]}`
	r := httptest.NewRequest(http.MethodPost, "/entities", strings.NewReader(body))
	w := httptest.NewRecorder()
	newEntityRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Contains(t, w.Body.String(), `"version":1`)
}

func TestCreateBadACLEntry(t *testing.T) {
	t.Parallel()

	body := `{"type_id":"` + uuid.NewString() + `","acl":[{"principal_type":"robot","principal_id":"u1","permission":"write"}]}`
	r := httptest.NewRequest(http.MethodPost, "/entities", strings.NewReader(body))
	w := httptest.NewRecorder()
	newEntityRouter(&mockService{}).ServeHTTP(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "principal_type")
}

func TestCreateUnauthenticated(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		createFn: func(ctx context.Context, params service.CreateParams) (persistence.ResourceRecord, error) {
			return persistence.ResourceRecord{}, service.ErrUnauthorized
		},
	}

	body := `{"type_id":"` + uuid.NewString() + `"}`
	r := httptest.NewRequest(http.MethodPost, "/entities", strings.NewReader(body))
	w := httptest.NewRecorder()
	newEntityRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "unauthorized")
}

func TestGetEntityBadID(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/entities/not-a-uuid", nil)
	w := httptest.NewRecorder()
	newEntityRouter(&mockService{}).ServeHTTP(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetEntityNotFound(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		getFn: func(ctx context.Context, id uuid.UUID) (persistence.ResourceRecord, error) {
			return persistence.ResourceRecord{}, service.ErrNotFound
		},
	}

	r := httptest.NewRequest(http.MethodGet, "/entities/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	newEntityRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetEntityFieldsProjection(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	svc := &mockService{
		getFn: func(ctx context.Context, got uuid.UUID) (persistence.ResourceRecord, error) {
			return persistence.ResourceRecord{ID: id, Version: 3, CreatedBy: "u1", Properties: json.RawMessage(`{"a":1}`)}, nil
		},
	}

	r := httptest.NewRequest(http.MethodGet, "/entities/"+id.String()+"?fields=id,version", nil)
	w := httptest.NewRecorder()
	newEntityRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 2)
	require.Equal(t, float64(3), envelope.Data["version"])
	require.NotContains(t, envelope.Data, "createdBy")
}

func TestGetEntityUnknownField(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		getFn: func(ctx context.Context, id uuid.UUID) (persistence.ResourceRecord, error) {
			return persistence.ResourceRecord{ID: id}, nil
		},
	}

	r := httptest.NewRequest(http.MethodGet, "/entities/"+uuid.NewString()+"?fields=password", nil)
	w := httptest.NewRecorder()
	newEntityRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListPassesFiltersAndPaginates(t *testing.T) {
	t.Parallel()

	typeID := uuid.New()
	cursor := persistence.Cursor{Key: 500, ID: uuid.New()}
	next := persistence.Cursor{Key: 400, ID: uuid.New()}.Encode()
	svc := &mockService{
		listFn: func(ctx context.Context, params service.ListParams) (service.ListResult, error) {
			require.NotNil(t, params.TypeID)
			require.Equal(t, typeID, *params.TypeID)
			require.Equal(t, 5, params.Limit)
			require.NotNil(t, params.Cursor)
			require.Equal(t, cursor.Key, params.Cursor.Key)
			require.Equal(t, map[string]string{"age": "30"}, params.PropertyEquals)
			return service.ListResult{
				Items:      []persistence.ResourceRecord{{ID: uuid.New()}},
				NextCursor: &next,
				HasMore:    true,
			}, nil
		},
	}

	url := "/entities?type_id=" + typeID.String() + "&limit=5&cursor=" + cursor.Encode() + "&property_age=30"
	r := httptest.NewRequest(http.MethodGet, url, nil)
	w := httptest.NewRecorder()
	newEntityRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"has_more":true`)
	require.Contains(t, w.Body.String(), next)
}

func TestListShowAllVersionsParam(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		listFn: func(ctx context.Context, params service.ListParams) (service.ListResult, error) {
			require.True(t, params.ShowAllVersions)
			return service.ListResult{}, nil
		},
	}

	r := httptest.NewRequest(http.MethodGet, "/entities?show_all_versions=true", nil)
	w := httptest.NewRecorder()
	newEntityRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestListIgnoresMalformedCursor(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		listFn: func(ctx context.Context, params service.ListParams) (service.ListResult, error) {
			require.Nil(t, params.Cursor)
			return service.ListResult{}, nil
		},
	}

	r := httptest.NewRequest(http.MethodGet, "/entities?cursor=garbage", nil)
	w := httptest.NewRecorder()
	newEntityRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"data":[]`)
}

func TestUpdateForbidden(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		updateFn: func(ctx context.Context, id uuid.UUID, properties json.RawMessage) (persistence.ResourceRecord, error) {
			return persistence.ResourceRecord{}, service.ErrForbidden
		},
	}

	r := httptest.NewRequest(http.MethodPut, "/entities/"+uuid.NewString(), strings.NewReader(`{"properties":{}}`))
	w := httptest.NewRecorder()
	newEntityRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestDeleteNoContent(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		deleteFn: func(ctx context.Context, id uuid.UUID) (persistence.ResourceRecord, error) {
			return persistence.ResourceRecord{ID: uuid.New(), IsDeleted: true}, nil
		},
	}

	r := httptest.NewRequest(http.MethodDelete, "/entities/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	newEntityRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestDeleteAlreadyDeletedConflict(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		deleteFn: func(ctx context.Context, id uuid.UUID) (persistence.ResourceRecord, error) {
			return persistence.ResourceRecord{}, service.ErrAlreadyDeleted
		},
	}

	r := httptest.NewRequest(http.MethodDelete, "/entities/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	newEntityRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusConflict, w.Code)
}

func TestWriteConflict(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		updateFn: func(ctx context.Context, id uuid.UUID, properties json.RawMessage) (persistence.ResourceRecord, error) {
			return persistence.ResourceRecord{}, service.ErrWriteConflict
		},
	}

	r := httptest.NewRequest(http.MethodPut, "/entities/"+uuid.NewString(), strings.NewReader(`{"properties":{}}`))
	w := httptest.NewRecorder()
	newEntityRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, w.Body.String(), "write_conflict")
}

func TestGetVersionRoute(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		getVersionFn: func(ctx context.Context, id uuid.UUID, version int) (persistence.ResourceRecord, error) {
			require.Equal(t, 2, version)
			return persistence.ResourceRecord{ID: uuid.New(), Version: 2}, nil
		},
	}

	r := httptest.NewRequest(http.MethodGet, "/entities/"+uuid.NewString()+"/versions/2", nil)
	w := httptest.NewRecorder()
	newEntityRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestGetVersionBadNumber(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/entities/"+uuid.NewString()+"/versions/zero", nil)
	w := httptest.NewRecorder()
	newEntityRouter(&mockService{}).ServeHTTP(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTraversalRoutes(t *testing.T) {
	t.Parallel()

	linkTypeID := uuid.New()
	svc := &mockService{
		traverseFn: func(ctx context.Context, id uuid.UUID, direction persistence.Direction, params service.TraverseParams) ([]service.TraversalItem, error) {
			require.Equal(t, persistence.DirectionInbound, direction)
			require.NotNil(t, params.LinkTypeID)
			require.Equal(t, linkTypeID, *params.LinkTypeID)
			return nil, nil
		},
	}

	r := httptest.NewRequest(http.MethodGet, "/entities/"+uuid.NewString()+"/inbound?link_type_id="+linkTypeID.String(), nil)
	w := httptest.NewRecorder()
	newEntityRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"data":[]`)
}

func TestNeighborsRoute(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		neighborsFn: func(ctx context.Context, id uuid.UUID, params service.TraverseParams) ([]service.Neighbor, error) {
			return []service.Neighbor{
				{
					Entity: persistence.ResourceRecord{ID: uuid.New()},
					Connections: []service.Connection{
						{Link: persistence.ResourceRecord{ID: uuid.New()}, Direction: persistence.DirectionOutbound},
						{Link: persistence.ResourceRecord{ID: uuid.New()}, Direction: persistence.DirectionInbound},
					},
				},
			}, nil
		},
	}

	r := httptest.NewRequest(http.MethodGet, "/entities/"+uuid.NewString()+"/neighbors", nil)
	w := httptest.NewRecorder()
	newEntityRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"connections"`)
}

func TestSetACLRoute(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		setACLFn: func(ctx context.Context, id uuid.UUID, entries []persistence.ACLEntry) (persistence.ResourceRecord, error) {
			require.Len(t, entries, 1)
			require.Equal(t, persistence.PermissionRead, entries[0].Permission)
			return persistence.ResourceRecord{ID: uuid.New(), Version: 2}, nil
		},
	}

	body := `{"entries":[{"principal_type":"group","principal_id":"` + uuid.NewString() + `","permission":"read"}]}`
	r := httptest.NewRequest(http.MethodPut, "/entities/"+uuid.NewString()+"/acl", strings.NewReader(body))
	w := httptest.NewRecorder()
	newEntityRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestLinksPrefix(t *testing.T) {
	t.Parallel()

	called := false
	svc := &mockService{
		getFn: func(ctx context.Context, id uuid.UUID) (persistence.ResourceRecord, error) {
			called = true
			return persistence.ResourceRecord{ID: id}, nil
		},
	}

	r := chi.NewRouter()
	New(svc, persistence.KindLink, zap.NewNop()).Routes(r)

	req := httptest.NewRequest(http.MethodGet, "/links/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, called)
}
