package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/cellmesh/cellmesh/internal/application/broadcast"
	"github.com/cellmesh/cellmesh/internal/application/coordinator"
	"github.com/cellmesh/cellmesh/internal/application/notebooksvc"
	"github.com/cellmesh/cellmesh/internal/config"
	"github.com/cellmesh/cellmesh/internal/domain/model"
	"github.com/cellmesh/cellmesh/internal/infrastructure/logger"
	"github.com/cellmesh/cellmesh/internal/infrastructure/store"
)

// memStore is a minimal in-memory store.NotebookStore fake for routing
// tests, mirroring the fakes used in the application-layer test suites.
type memStore struct {
	mu   sync.Mutex
	data map[string]*model.Notebook
}

func newMemStore() *memStore { return &memStore{data: make(map[string]*model.Notebook)} }

func (s *memStore) Create(_ context.Context, nb *model.Notebook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[nb.ID]; ok {
		return store.ErrAlreadyExists
	}
	s.data[nb.ID] = nb
	return nil
}
func (s *memStore) Get(_ context.Context, id string) (*model.Notebook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nb, ok := s.data[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return nb, nil
}
func (s *memStore) Save(_ context.Context, nb *model.Notebook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[nb.ID] = nb
	return nil
}
func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.data, id)
	return nil
}
func (s *memStore) ListByOwner(_ context.Context, owner string) ([]*model.Notebook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Notebook
	for _, nb := range s.data {
		if nb.OwnerPrincipal == owner {
			out = append(out, nb)
		}
	}
	return out, nil
}

// fakeBroker treats any non-empty token as the principal name itself, so
// tests can authenticate as "alice" by sending "Bearer alice".
type fakeBroker struct{}

func (fakeBroker) Authenticate(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", errUnauthenticated
	}
	return token, nil
}
func (fakeBroker) IssueToken(_ context.Context, principal string) (string, error) {
	return principal, nil
}

var errUnauthenticated = errors.New("missing token")

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := notebooksvc.New(newMemStore())
	log := logger.New(config.LoggingConfig{Level: "error", Format: "text"})
	b := broadcast.New(log)
	coord := coordinator.New(svc, b, log, nil, 1000)

	router := gin.New()
	authMiddleware := NewAuthMiddleware(fakeBroker{})
	notebookHandler := NewNotebookHandler(svc, coord)
	cellHandler := NewCellHandler(svc, coord)

	apiV1 := router.Group("/api/v1")
	apiV1.Use(authMiddleware.RequireAuth())
	{
		apiV1.POST("/notebooks", notebookHandler.Create)
		apiV1.GET("/notebooks/:notebook_id", notebookHandler.Get)
		apiV1.PATCH("/notebooks/:notebook_id", notebookHandler.Rename)
		apiV1.DELETE("/notebooks/:notebook_id", notebookHandler.Delete)
		apiV1.POST("/notebooks/:notebook_id/cells", cellHandler.Create)
		apiV1.PUT("/notebooks/:notebook_id/cells/:cell_id", cellHandler.Update)
		apiV1.DELETE("/notebooks/:notebook_id/cells/:cell_id", cellHandler.Delete)
	}
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRESTFlow_CreateNotebookCreateCellRunFlow(t *testing.T) {
	router := newTestRouter()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/notebooks", "alice", map[string]string{"name": "nb1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Data model.Notebook `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	nbID := created.Data.ID

	rec = doJSON(t, router, http.MethodPost, "/api/v1/notebooks/"+nbID+"/cells", "alice",
		map[string]string{"type": "IMPERATIVE", "code": "x = 1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating cell, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/notebooks/"+nbID, "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 get, got %d: %s", rec.Code, rec.Body.String())
	}
	var got struct {
		Data model.Notebook `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got.Data.Cells) != 2 {
		t.Fatalf("expected the seed cell plus the created cell, got %d", len(got.Data.Cells))
	}
	if got.Data.Revision == 0 {
		t.Fatalf("expected revision to advance past 0 after cell create")
	}
}

func TestRESTFlow_MissingAuthRejected(t *testing.T) {
	router := newTestRouter()
	rec := doJSON(t, router, http.MethodPost, "/api/v1/notebooks", "", map[string]string{"name": "nb1"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRESTFlow_GetUnknownNotebookNotFound(t *testing.T) {
	router := newTestRouter()
	rec := doJSON(t, router, http.MethodGet, "/api/v1/notebooks/ghost", "alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRESTFlow_UpdateCellRevisionConflict(t *testing.T) {
	router := newTestRouter()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/notebooks", "alice", map[string]string{"name": "nb1"})
	var created struct {
		Data model.Notebook `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &created)
	nbID := created.Data.ID

	rec = doJSON(t, router, http.MethodPost, "/api/v1/notebooks/"+nbID+"/cells", "alice",
		map[string]string{"type": "IMPERATIVE", "code": "x = 1"})
	var cellResp struct {
		Data struct {
			Cell     model.Cell `json:"cell"`
			Revision int64      `json:"revision"`
		} `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &cellResp)
	cellID := cellResp.Data.Cell.ID
	if cellResp.Data.Revision == 0 {
		t.Fatalf("expected cell-create response to carry the new revision")
	}

	rec = doJSON(t, router, http.MethodPut, "/api/v1/notebooks/"+nbID+"/cells/"+cellID, "alice",
		map[string]any{"code": "x = 2", "expected_revision": 999})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 revision conflict, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRESTFlow_DeleteCellThenNotFoundOnSecondDelete(t *testing.T) {
	router := newTestRouter()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/notebooks", "alice", map[string]string{"name": "nb1"})
	var created struct {
		Data model.Notebook `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &created)
	nbID := created.Data.ID

	rec = doJSON(t, router, http.MethodPost, "/api/v1/notebooks/"+nbID+"/cells", "alice",
		map[string]string{"type": "IMPERATIVE", "code": "x = 1"})
	var cellResp struct {
		Data struct {
			Cell model.Cell `json:"cell"`
		} `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &cellResp)
	cellID := cellResp.Data.Cell.ID

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/notebooks/"+nbID+"/cells/"+cellID, "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with revision payload, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/notebooks/"+nbID+"/cells/"+cellID, "alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on repeat delete, got %d: %s", rec.Code, rec.Body.String())
	}
}
