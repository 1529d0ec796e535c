package rest

import (
	"net/http"
	"testing"

	"github.com/cellmesh/cellmesh/internal/domain/model"
	"github.com/cellmesh/cellmesh/pkg/depgraph"
)

func TestTranslateError_APIErrorPassesThrough(t *testing.T) {
	want := NewAPIError("CUSTOM", "custom message", http.StatusTeapot)
	got := TranslateError(want)
	if got != want {
		t.Fatalf("expected the same *APIError to pass through unchanged, got %+v", got)
	}
}

func TestTranslateError_EngineErrorMapsByKind(t *testing.T) {
	err := &model.EngineError{Kind: model.ErrorKindCycleDetected, CellID: "c1", Message: "would cycle"}
	got := TranslateError(err)
	if got.HTTPStatus != http.StatusConflict {
		t.Fatalf("expected 409, got %d", got.HTTPStatus)
	}
	if got.Details["cell_id"] != "c1" {
		t.Fatalf("expected cell_id detail, got %+v", got.Details)
	}
}

func TestTranslateError_EngineErrorUnknownKindFallsBackTo500(t *testing.T) {
	err := &model.EngineError{Kind: model.ErrorKind("SOMETHING_NEW"), Message: "mystery"}
	got := TranslateError(err)
	if got.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unmapped kind, got %d", got.HTTPStatus)
	}
}

func TestTranslateError_CycleErrorMapsTo409WithCellID(t *testing.T) {
	err := &depgraph.CycleError{CellID: "c2"}
	got := TranslateError(err)
	if got.HTTPStatus != http.StatusConflict {
		t.Fatalf("expected 409, got %d", got.HTTPStatus)
	}
	if got.Details["cell_id"] != "c2" {
		t.Fatalf("expected cell_id detail, got %+v", got.Details)
	}
}

func TestTranslateError_ValidationErrorMapsTo400WithField(t *testing.T) {
	err := &model.ValidationError{Field: "name", Message: "must not be empty"}
	got := TranslateError(err)
	if got.HTTPStatus != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", got.HTTPStatus)
	}
	if got.Details["field"] != "name" {
		t.Fatalf("expected field detail, got %+v", got.Details)
	}
}

func TestTranslateError_SentinelErrorsMapToExpectedStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{model.ErrNotebookNotFound, http.StatusNotFound},
		{model.ErrCellNotFound, http.StatusNotFound},
		{model.ErrRevisionConflict, http.StatusConflict},
		{model.ErrCycleDetected, http.StatusConflict},
		{model.ErrForbidden, http.StatusForbidden},
	}
	for _, tc := range cases {
		got := TranslateError(tc.err)
		if got.HTTPStatus != tc.status {
			t.Errorf("%v: expected status %d, got %d", tc.err, tc.status, got.HTTPStatus)
		}
	}
}

func TestTranslateError_UnknownErrorFallsBackTo500(t *testing.T) {
	got := TranslateError(errUnmappedTest)
	if got.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unmapped error, got %d", got.HTTPStatus)
	}
	if got.Code != "INTERNAL_ERROR" {
		t.Fatalf("expected INTERNAL_ERROR code, got %s", got.Code)
	}
}

func TestTranslateError_NilReturnsNil(t *testing.T) {
	if got := TranslateError(nil); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

var errUnmappedTest = &unmappedErr{}

type unmappedErr struct{}

func (*unmappedErr) Error() string { return "boom" }
