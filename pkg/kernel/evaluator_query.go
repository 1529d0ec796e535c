package kernel

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/cellmesh/cellmesh/pkg/outputconv"
)

// queryPlaceholder matches a "{identifier}" template placeholder, matching
// depextract.ExtractQuery's contract exactly.
var queryPlaceholder = regexp.MustCompile(`\{(\w+)\}`)

// QueryExecutor runs a rewritten query with positional parameters against
// the notebook's configured backend and returns the raw result set. It is
// the seam a Postgres (or any database/sql) backend plugs into; the kernel
// itself only does placeholder rewriting and row-cap truncation.
type QueryExecutor interface {
	Query(ctx context.Context, query string, args []any) (columns []string, rows [][]any, err error)
}

// ErrBackendNotConfigured is returned by a QueryExecutor implementation
// (or synthesized by the kernel) when no backend has been configured yet.
var ErrBackendNotConfigured = fmt.Errorf("BACKEND_NOT_CONFIGURED: no database connection configured")

// queryEvaluator evaluates a QUERY cell per spec.md §4.3: rewrite
// placeholders to the backend's positional markers, pull values from the
// IMPERATIVE namespace, execute, and serialize as a table bundle with a
// soft row cap.
type queryEvaluator struct {
	rowCap int
}

func newQueryEvaluator(rowCap int) *queryEvaluator {
	if rowCap <= 0 {
		rowCap = 1000
	}
	return &queryEvaluator{rowCap: rowCap}
}

func (qe *queryEvaluator) run(ctx context.Context, exec QueryExecutor, g *Globals, source string) ExecResult {
	if exec == nil {
		return ExecResult{Err: ErrBackendNotConfigured}
	}

	rewritten, args, err := qe.rewrite(g, source)
	if err != nil {
		return ExecResult{Err: err}
	}

	columns, rows, err := exec.Query(ctx, rewritten, args)
	if err != nil {
		return ExecResult{Err: fmt.Errorf("RUNTIME_ERROR: %w", err)}
	}

	if len(rows) == 0 {
		return ExecResult{Stdout: "Query returned 0 rows"}
	}

	truncated := ""
	if len(rows) > qe.rowCap {
		truncated = fmt.Sprintf("showing first %d of %d rows", qe.rowCap, len(rows))
		rows = rows[:qe.rowCap]
	}

	return ExecResult{
		Value: outputconv.Table{Columns: columns, Rows: rows, Truncated: truncated},
	}
}

// rewrite replaces each "{name}" placeholder with the dialect's positional
// marker ($1, $2, ...), returning the argument slice in matching order.
// Repeated uses of the same name reuse the same positional index.
func (qe *queryEvaluator) rewrite(g *Globals, source string) (string, []any, error) {
	var args []any
	index := make(map[string]int)
	var missing string

	out := queryPlaceholder.ReplaceAllStringFunc(source, func(match string) string {
		name := queryPlaceholder.FindStringSubmatch(match)[1]
		if i, ok := index[name]; ok {
			return "$" + strconv.Itoa(i)
		}
		val, ok := g.get(name)
		if !ok {
			missing = name
			return match
		}
		args = append(args, val)
		i := len(args)
		index[name] = i
		return "$" + strconv.Itoa(i)
	})

	if missing != "" {
		return "", nil, fmt.Errorf("TEMPLATE_VARIABLE_MISSING: %s", missing)
	}
	return out, args, nil
}
