package outputconv

import (
	"image"
	"image/color"
	"testing"
)

func TestConvert_Fallback(t *testing.T) {
	r := NewRegistry()
	out, err := r.Convert(42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.MimeType != "text/plain" || out.Data != "42" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestConvert_Table(t *testing.T) {
	r := NewRegistry()
	out, err := r.Convert(Table{
		Columns: []string{"id", "name"},
		Rows:    [][]any{{1, "a"}, {2, "b"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.MimeType != "application/json" {
		t.Fatalf("expected application/json, got %s", out.MimeType)
	}
	data := out.Data.(map[string]any)
	if len(data["rows"].([][]any)) != 2 {
		t.Fatalf("expected 2 rows, got %v", data["rows"])
	}
}

func TestConvert_TableTruncatedNoticeSurvives(t *testing.T) {
	r := NewRegistry()
	out, _ := r.Convert(Table{Columns: []string{"x"}, Rows: [][]any{{1}}, Truncated: "showing 1000 of 5000 rows"})
	data := out.Data.(map[string]any)
	if data["truncated"] != "showing 1000 of 5000 rows" {
		t.Fatalf("expected truncated notice, got %v", data["truncated"])
	}
}

func TestConvert_Image(t *testing.T) {
	r := NewRegistry()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	out, err := r.Convert(img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.MimeType != "image/png" {
		t.Fatalf("expected image/png, got %s", out.MimeType)
	}
	if out.Data.(string) == "" {
		t.Fatalf("expected non-empty base64 data")
	}
}

func TestConvert_ChartSpecs(t *testing.T) {
	r := NewRegistry()
	vl, _ := r.Convert(ChartSpec{Kind: "vegalite", Spec: map[string]any{"mark": "bar"}})
	if vl.MimeType != "application/vnd.vegalite.v6+json" {
		t.Fatalf("unexpected mime: %s", vl.MimeType)
	}
	pl, _ := r.Convert(ChartSpec{Kind: "plotly", Spec: map[string]any{"data": []any{}}})
	if pl.MimeType != "application/vnd.plotly.v1+json" {
		t.Fatalf("unexpected mime: %s", pl.MimeType)
	}
}

func TestConvert_NilIsError(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Convert(nil); err == nil {
		t.Fatalf("expected error for nil value")
	}
}
