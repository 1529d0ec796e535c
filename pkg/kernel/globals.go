package kernel

import (
	"fmt"
	"strings"
)

// Globals is the mutable top-level namespace shared by every IMPERATIVE
// cell in one notebook (spec.md §9 "Interpreter globals"). It is owned
// exclusively by the Kernel goroutine that holds it.
type Globals struct {
	values map[string]any
	stdout strings.Builder
}

func newGlobals() *Globals {
	return &Globals{values: make(map[string]any)}
}

func (g *Globals) get(name string) (any, bool) {
	v, ok := g.values[name]
	return v, ok
}

func (g *Globals) set(name string, value any) {
	g.values[name] = value
}

// delete evicts a name from the namespace — used when a cell that wrote
// it is deleted from the notebook (spec.md §4.6 locked_delete_cell).
func (g *Globals) delete(name string) {
	delete(g.values, name)
}

// env returns a snapshot suitable as an expr-lang evaluation environment,
// plus the print() builtin that redirects to this Globals' stdout buffer.
func (g *Globals) env() map[string]any {
	env := make(map[string]any, len(g.values)+1)
	for k, v := range g.values {
		env[k] = v
	}
	env["print"] = func(args ...any) any {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = toDisplayString(a)
		}
		g.stdout.WriteString(strings.Join(parts, " "))
		g.stdout.WriteByte('\n')
		return nil
	}
	return env
}

func (g *Globals) drainStdout() string {
	s := g.stdout.String()
	g.stdout.Reset()
	return s
}

func toDisplayString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return "None"
	}
	return fmt.Sprint(v)
}
