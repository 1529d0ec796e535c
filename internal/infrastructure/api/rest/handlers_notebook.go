package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cellmesh/cellmesh/internal/application/coordinator"
	"github.com/cellmesh/cellmesh/internal/application/notebooksvc"
	"github.com/cellmesh/cellmesh/internal/domain/model"
)

// NotebookHandler exposes notebook-level CRUD: create, list, get, rename,
// set_db_connection, delete (spec.md §6).
type NotebookHandler struct {
	svc   *notebooksvc.Service
	coord *coordinator.Coordinator
}

func NewNotebookHandler(svc *notebooksvc.Service, coord *coordinator.Coordinator) *NotebookHandler {
	return &NotebookHandler{svc: svc, coord: coord}
}

type createNotebookRequest struct {
	Name string `json:"name"`
}

func (h *NotebookHandler) Create(c *gin.Context) {
	principal, _ := Principal(c)
	var req createNotebookRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}
	nb, err := h.svc.CreateNotebook(c.Request.Context(), principal, req.Name)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, nb)
}

func (h *NotebookHandler) List(c *gin.Context) {
	principal, _ := Principal(c)
	notebooks, err := h.svc.ListByOwner(c.Request.Context(), principal)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, notebooks)
}

func (h *NotebookHandler) Get(c *gin.Context) {
	id, ok := getParam(c, "notebook_id")
	if !ok {
		return
	}
	nb, err := h.svc.GetNotebook(c.Request.Context(), id)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, nb)
}

type renameNotebookRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *NotebookHandler) Rename(c *gin.Context) {
	id, ok := getParam(c, "notebook_id")
	if !ok {
		return
	}
	var req renameNotebookRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}
	revision, err := h.svc.RenameNotebook(c.Request.Context(), id, req.Name)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"revision": revision})
}

type setDBConnectionRequest struct {
	ConnectionString string `json:"connection_string" binding:"required"`
}

func (h *NotebookHandler) SetDBConnection(c *gin.Context) {
	id, ok := getParam(c, "notebook_id")
	if !ok {
		return
	}
	var req setDBConnectionRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}
	revision, err := h.svc.SetDBConnectionString(c.Request.Context(), id, req.ConnectionString)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	h.coord.SetDBConfig(id, req.ConnectionString)
	respondJSON(c, http.StatusOK, gin.H{"revision": revision})
}

func (h *NotebookHandler) Delete(c *gin.Context) {
	id, ok := getParam(c, "notebook_id")
	if !ok {
		return
	}
	if err := h.svc.DeleteNotebook(c.Request.Context(), id); err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CellHandler exposes per-cell structural CRUD: create, update, delete
// (spec.md §6). Running a cell happens over the live channel, not here.
type CellHandler struct {
	svc   *notebooksvc.Service
	coord *coordinator.Coordinator
}

func NewCellHandler(svc *notebooksvc.Service, coord *coordinator.Coordinator) *CellHandler {
	return &CellHandler{svc: svc, coord: coord}
}

type createCellRequest struct {
	Type  model.CellType `json:"type" binding:"required"`
	Code  string         `json:"code"`
	Index *int           `json:"index"`
}

func (h *CellHandler) Create(c *gin.Context) {
	notebookID, ok := getParam(c, "notebook_id")
	if !ok {
		return
	}
	var req createCellRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}

	index := notebooksvc.AppendCell
	if req.Index != nil {
		index = *req.Index
	}

	cellID := uuid.NewString()
	cell, revision, err := h.svc.LockedCreateCell(c.Request.Context(), notebookID, cellID, req.Type, req.Code, index)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	h.coord.CellCreated(notebookID, cell)
	respondJSON(c, http.StatusCreated, gin.H{"cell": cell, "revision": revision})
}

type updateCellRequest struct {
	Code             string `json:"code"`
	ExpectedRevision *int64 `json:"expected_revision"`
}

func (h *CellHandler) Update(c *gin.Context) {
	notebookID, ok := getParam(c, "notebook_id")
	if !ok {
		return
	}
	cellID, ok := getParam(c, "cell_id")
	if !ok {
		return
	}
	var req updateCellRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}

	expected := notebooksvc.NoRevisionCheck
	if req.ExpectedRevision != nil {
		expected = *req.ExpectedRevision
	}

	cell, revision, err := h.svc.LockedUpdateCell(c.Request.Context(), notebookID, cellID, req.Code, expected)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	h.coord.CellUpdated(notebookID, cell)
	respondJSON(c, http.StatusOK, gin.H{"cell": cell, "revision": revision})
}

func (h *CellHandler) Delete(c *gin.Context) {
	notebookID, ok := getParam(c, "notebook_id")
	if !ok {
		return
	}
	cellID, ok := getParam(c, "cell_id")
	if !ok {
		return
	}
	revision, err := h.svc.LockedDeleteCell(c.Request.Context(), notebookID, cellID)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	h.coord.CellDeleted(notebookID, cellID)
	respondJSON(c, http.StatusOK, gin.H{"revision": revision})
}
