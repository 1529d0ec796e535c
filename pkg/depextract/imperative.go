// Package depextract implements static dependency extraction for notebook
// cells: given a cell's source and type it computes the set of top-level
// identifiers the cell reads from and writes into the notebook's shared
// namespace.
//
// The IMPERATIVE walker mirrors the scope-tracking algorithm of a classic
// AST-visitor dependency extractor: a stack of scopes, where only the
// outermost (top-level) scope's assignments and reads matter. Nested
// function and class bodies are skipped entirely — only the name they bind
// is a top-level write.
package depextract

import (
	"fmt"
)

// builtins are identifiers that are never reported as reads because they
// name language or library builtins rather than notebook-level values.
var builtins = map[string]bool{
	"true": true, "false": true, "nil": true, "null": true, "none": true,
	"len": true, "print": true, "range": true, "str": true, "int": true,
	"float": true, "bool": true, "list": true, "dict": true, "set": true,
	"abs": true, "min": true, "max": true, "sum": true, "sorted": true,
	"enumerate": true, "zip": true, "map": true, "filter": true, "type": true,
}

// Extract computes (reads, writes) for an IMPERATIVE cell's source.
// On a syntax error both sets are empty, matching the "cell not yet
// analyzable" contract — the cell's own execution will surface the error.
func Extract(source string) (reads, writes []string) {
	stmts, err := parseTopLevel(source)
	if err != nil {
		return nil, nil
	}

	ex := &extractor{
		scopes: []scope{newScope()},
	}
	for _, s := range stmts {
		ex.visitStmt(s)
	}
	return ex.sortedReads(), ex.sortedWrites()
}

// scope tracks names bound in one lexical level. Only scopes[0] (top level)
// contributes to the cell's reported reads/writes.
type scope map[string]bool

func newScope() scope { return make(scope) }

type extractor struct {
	scopes     []scope
	topReads   map[string]bool
	topWrites  map[string]bool
}

func (e *extractor) top() scope { return e.scopes[0] }

func (e *extractor) ensureSets() {
	if e.topReads == nil {
		e.topReads = make(map[string]bool)
	}
	if e.topWrites == nil {
		e.topWrites = make(map[string]bool)
	}
}

func (e *extractor) addRead(name string) {
	if builtins[name] {
		return
	}
	if e.isLocal(name) {
		return
	}
	// A name already assigned at top level earlier in the cell is the
	// cell's own value, not a dependency on another cell.
	if e.topWrites[name] {
		return
	}
	e.ensureSets()
	e.topReads[name] = true
}

// isLocal reports whether name is bound in any enclosing non-top scope,
// mirroring ast_parser.py's _is_local (checks scopes[1:]).
func (e *extractor) isLocal(name string) bool {
	for _, s := range e.scopes[1:] {
		if s[name] {
			return true
		}
	}
	return false
}

func (e *extractor) addWrite(name string) {
	if len(e.scopes) == 1 {
		e.ensureSets()
		e.topWrites[name] = true
	}
	e.top0or(name)
}

// top0or binds name in the current innermost scope so nested reads of the
// same name resolve as local rather than leaking out as a notebook read.
func (e *extractor) top0or(name string) {
	e.scopes[len(e.scopes)-1][name] = true
}

func (e *extractor) pushScope() { e.scopes = append(e.scopes, newScope()) }
func (e *extractor) popScope()  { e.scopes = e.scopes[:len(e.scopes)-1] }

func (e *extractor) sortedReads() []string  { return sortedKeys(e.topReads) }
func (e *extractor) sortedWrites() []string { return sortedKeys(e.topWrites) }

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// simple insertion sort keeps this dependency-free and deterministic
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func (e *extractor) visitStmt(s stmt) {
	switch n := s.(type) {
	case *assignStmt:
		e.visitExpr(n.value)
		for _, target := range n.targets {
			e.addWrite(target)
		}
	case *augAssignStmt:
		// Augmented assignment is both a read and a write of the target.
		e.addRead(n.target)
		e.visitExpr(n.value)
		e.addWrite(n.target)
	case *funcDefStmt:
		// The function name itself is a top-level write; the body is not
		// descended into, matching ast_parser.py's visit_FunctionDef.
		e.addWrite(n.name)
	case *classDefStmt:
		e.addWrite(n.name)
	case *importStmt:
		e.addWrite(n.boundName)
	case *importFromStmt:
		for _, boundName := range n.boundNames {
			e.addWrite(boundName)
		}
	case *exprStmt:
		e.visitExpr(n.value)
	}
}

func (e *extractor) visitExpr(x expr) {
	if x == nil {
		return
	}
	switch n := x.(type) {
	case *identExpr:
		e.addRead(n.name)
	case *literalExpr:
		// no identifiers
	case *unaryExpr:
		e.visitExpr(n.operand)
	case *binaryExpr:
		e.visitExpr(n.left)
		e.visitExpr(n.right)
	case *callExpr:
		e.visitExpr(n.fn)
		for _, a := range n.args {
			e.visitExpr(a)
		}
		// keyword argument names are not reads; only their values are.
		for _, kw := range n.kwargs {
			e.visitExpr(kw.value)
		}
	case *attributeExpr:
		// Only the base object is a read; the attribute name is not.
		e.visitExpr(n.base)
	case *indexExpr:
		e.visitExpr(n.base)
		e.visitExpr(n.index)
	case *listExpr:
		for _, el := range n.elements {
			e.visitExpr(el)
		}
	case *dictExpr:
		for _, kv := range n.pairs {
			e.visitExpr(kv.key)
			e.visitExpr(kv.value)
		}
	case *lambdaExpr:
		e.pushScope()
		for _, p := range n.params {
			e.top0or(p)
		}
		e.visitExpr(n.body)
		e.popScope()
	}
}

// String renders a debug form, used only in tests.
func (e *extractor) String() string {
	return fmt.Sprintf("reads=%v writes=%v", e.sortedReads(), e.sortedWrites())
}
