// Package outputconv implements the pluggable object-to-MIME-bundle
// converter registry the Kernel uses to turn a captured expression value,
// or a QUERY result set, into zero or more notebook Outputs.
//
// Probes are tried in registration order; the first whose Matches
// reports true renders the value. A Registry with no matching probe never
// happens in practice because the last built-in probe matches everything.
package outputconv

import (
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"bytes"
	"time"

	"github.com/itchyny/gojq"

	"github.com/cellmesh/cellmesh/internal/domain/model"
)

// Probe is one (matcher, renderer) pair in the registry.
type Probe struct {
	Name    string
	Matches func(value any) bool
	Render  func(value any) (model.Output, error)
}

// Registry is an ordered sequence of probes.
type Registry struct {
	probes []Probe
}

// NewRegistry returns a registry pre-loaded with the built-in probes
// documented in spec.md §6: tabular-object -> table bundle, image-figure ->
// PNG bundle, declarative-chart -> Vega-Lite JSON, interactive-chart ->
// Plotly JSON, fallback -> text/plain.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(tableProbe())
	r.Register(imageProbe())
	r.Register(vegaLiteProbe())
	r.Register(plotlyProbe())
	r.Register(fallbackProbe())
	return r
}

// Register appends a probe to the end of the registry, just before any
// probe already guaranteed to match everything. Callers that need a probe
// to run before the built-ins should construct their own Registry and call
// Register in the desired order instead.
func (r *Registry) Register(p Probe) {
	r.probes = append(r.probes, p)
}

// Convert runs the value through the first matching probe and returns its
// rendered Output. Because the fallback probe matches any value, Convert
// only returns an error if a matching probe's Render itself fails.
func (r *Registry) Convert(value any) (model.Output, error) {
	if value == nil {
		return model.Output{}, errNilValue
	}
	for _, p := range r.probes {
		if p.Matches(value) {
			return p.Render(value)
		}
	}
	return fallbackRender(value)
}

var errNilValue = fmt.Errorf("outputconv: nil has no renderable output")

// --- tabular ---

// TableRow is a generic row shape QUERY results and IMPERATIVE cell values
// alike may produce: either a slice of scalars (column order from Columns)
// or, for the fallback single-row case, an entire value normalized as one
// row's worth of data.
type Table struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated string   `json:"truncated,omitempty"`
}

func tableProbe() Probe {
	return Probe{
		Name: "table",
		Matches: func(value any) bool {
			_, ok := value.(Table)
			return ok
		},
		Render: func(value any) (model.Output, error) {
			t := value.(Table)
			normalized, err := flattenTable(t)
			if err != nil {
				return model.Output{}, err
			}
			return model.Output{MimeType: "application/json", Data: normalized}, nil
		},
	}
}

// flattenTable normalizes non-serializable scalar types (temporal values,
// decimals represented as fmt.Stringer) to string/float form, and uses
// gojq to flatten any row cell that is itself a nested map/slice into a
// JSON-safe shape rather than hand-rolling a reflection walker.
func flattenTable(t Table) (map[string]any, error) {
	query, err := gojq.Parse(".")
	if err != nil {
		return nil, err
	}
	rows := make([][]any, len(t.Rows))
	for i, row := range t.Rows {
		out := make([]any, len(row))
		for j, cell := range row {
			out[j] = normalizeScalar(cell, query)
		}
		rows[i] = out
	}
	result := map[string]any{
		"columns": t.Columns,
		"rows":    rows,
	}
	if t.Truncated != "" {
		result["truncated"] = t.Truncated
	}
	return result, nil
}

func normalizeScalar(v any, query *gojq.Query) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	case map[string]any, []any:
		iter := query.Run(x)
		if val, ok := iter.Next(); ok {
			if _, isErr := val.(error); !isErr {
				return val
			}
		}
		return x
	default:
		return x
	}
}

// --- image ---

func imageProbe() Probe {
	return Probe{
		Name: "image",
		Matches: func(value any) bool {
			_, ok := value.(image.Image)
			return ok
		},
		Render: func(value any) (model.Output, error) {
			img := value.(image.Image)
			var buf bytes.Buffer
			if err := png.Encode(&buf, img); err != nil {
				return model.Output{}, err
			}
			return model.Output{
				MimeType: "image/png",
				Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
			}, nil
		},
	}
}

// --- declarative / interactive charts ---

// ChartSpec is produced by a cell that wants to emit a Vega-Lite or Plotly
// figure: Kind picks the MIME type, Spec is handed through untouched since
// the rendering client consumes the raw chart grammar.
type ChartSpec struct {
	Kind string // "vegalite" or "plotly"
	Spec any
}

func vegaLiteProbe() Probe {
	return Probe{
		Name: "vegalite",
		Matches: func(value any) bool {
			c, ok := value.(ChartSpec)
			return ok && c.Kind == "vegalite"
		},
		Render: func(value any) (model.Output, error) {
			c := value.(ChartSpec)
			return model.Output{MimeType: "application/vnd.vegalite.v6+json", Data: c.Spec}, nil
		},
	}
}

func plotlyProbe() Probe {
	return Probe{
		Name: "plotly",
		Matches: func(value any) bool {
			c, ok := value.(ChartSpec)
			return ok && c.Kind == "plotly"
		},
		Render: func(value any) (model.Output, error) {
			c := value.(ChartSpec)
			return model.Output{MimeType: "application/vnd.plotly.v1+json", Data: c.Spec}, nil
		},
	}
}

// --- fallback ---

func fallbackProbe() Probe {
	return Probe{
		Name:    "fallback",
		Matches: func(value any) bool { return true },
		Render:  fallbackRender,
	}
}

func fallbackRender(value any) (model.Output, error) {
	return model.Output{MimeType: "text/plain", Data: fmt.Sprintf("%v", value)}, nil
}
