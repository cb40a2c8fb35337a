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

	"github.com/zenGate-Global/palmyra-graph/domains/types/be/service"
	"github.com/zenGate-Global/palmyra-graph/platform/go/persistence"
)

type mockService struct {
	createFn func(ctx context.Context, params service.CreateParams) (persistence.TypeRecord, error)
	getFn    func(ctx context.Context, id uuid.UUID) (persistence.TypeRecord, error)
	listFn   func(ctx context.Context, category string) ([]persistence.TypeRecord, error)
}

func (m *mockService) Create(ctx context.Context, params service.CreateParams) (persistence.TypeRecord, error) {
	return m.createFn(ctx, params)
}

func (m *mockService) Get(ctx context.Context, id uuid.UUID) (persistence.TypeRecord, error) {
	return m.getFn(ctx, id)
}

func (m *mockService) List(ctx context.Context, category string) ([]persistence.TypeRecord, error) {
	return m.listFn(ctx, category)
}

func newRouter(svc service.Service) http.Handler {
	r := chi.NewRouter()
	New(svc, zap.NewNop()).Routes(r)
	return r
}

func TestCreateTypeCreated(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		createFn: func(ctx context.Context, params service.CreateParams) (persistence.TypeRecord, error) {
			require.Equal(t, "person", params.Name)
			return persistence.TypeRecord{ID: uuid.New(), Name: params.Name, Category: persistence.CategoryEntity}, nil
		},
	}

	body := `{"name":"person","category":"entity","json_schema":{"type":"object"}}`
	r := httptest.NewRequest(http.MethodPost, "/types", strings.NewReader(body))
	w := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusCreated, w.Code)

	var envelope struct {
		Data persistence.TypeRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Equal(t, "person", envelope.Data.Name)
}

func TestCreateTypeConflict(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		createFn: func(ctx context.Context, params service.CreateParams) (persistence.TypeRecord, error) {
			return persistence.TypeRecord{}, service.ErrConflict
		},
	}

	r := httptest.NewRequest(http.MethodPost, "/types", strings.NewReader(`{"name":"person","category":"entity"}`))
	w := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, w.Body.String(), `"code":"conflict"`)
}

func TestGetTypeBadID(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/types/not-a-uuid", nil)
	w := httptest.NewRecorder()
	newRouter(&mockService{}).ServeHTTP(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), `"code":"validation_error"`)
}

func TestGetTypeNotFound(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		getFn: func(ctx context.Context, id uuid.UUID) (persistence.TypeRecord, error) {
			return persistence.TypeRecord{}, service.ErrNotFound
		},
	}

	r := httptest.NewRequest(http.MethodGet, "/types/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListTypesEmpty(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		listFn: func(ctx context.Context, category string) ([]persistence.TypeRecord, error) {
			return nil, nil
		},
	}

	r := httptest.NewRequest(http.MethodGet, "/types", nil)
	w := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"data":[]}`, w.Body.String())
}
