package kernel

import (
	"fmt"

	"github.com/expr-lang/expr/vm"

	"github.com/cellmesh/cellmesh/pkg/depextract"
)

// ExecResult is the outcome of evaluating one cell's source.
type ExecResult struct {
	Stdout string
	Value  any // captured value of a trailing expression-statement, or nil
	Err    error
}

// imperativeEvaluator runs a cell's source against a Globals namespace,
// per spec.md §4.3's IMPERATIVE evaluation contract: parse into top-level
// statements, execute all but a trailing bare expression for effect,
// compile and capture the trailing expression's value separately, and
// redirect stdout to a buffer.
type imperativeEvaluator struct {
	programs *programCache
}

func newImperativeEvaluator() *imperativeEvaluator {
	return &imperativeEvaluator{programs: newProgramCache(512)}
}

func (ev *imperativeEvaluator) run(g *Globals, source string) ExecResult {
	stmts, err := depextract.Parse(source)
	if err != nil {
		return ExecResult{Err: fmt.Errorf("PARSE_ERROR: %w", err)}
	}

	var captured any
	for i, st := range stmts {
		isTrailingExpr := i == len(stmts)-1 && st.Kind == depextract.StatementExpr
		val, err := ev.execStatement(g, st)
		if err != nil {
			return ExecResult{Stdout: g.drainStdout(), Err: err}
		}
		if isTrailingExpr {
			captured = val
		}
	}
	return ExecResult{Stdout: g.drainStdout(), Value: captured}
}

func (ev *imperativeEvaluator) execStatement(g *Globals, st depextract.Statement) (any, error) {
	switch st.Kind {
	case depextract.StatementAssign:
		val, err := ev.eval(g, st.ValueSrc)
		if err != nil {
			return nil, err
		}
		g.set(st.Target, val)
		return val, nil

	case depextract.StatementAugAssign:
		rhs, err := ev.eval(g, st.ValueSrc)
		if err != nil {
			return nil, err
		}
		cur, _ := g.get(st.Target)
		combined, err := combineAug(cur, st.Op, rhs)
		if err != nil {
			return nil, err
		}
		g.set(st.Target, combined)
		return combined, nil

	case depextract.StatementFuncDef:
		// The interpreter does not execute nested bodies (spec.md §4.1); a
		// callable placeholder is bound so later reads of the name resolve
		// rather than fail, but invoking it is not supported.
		g.set(st.Name, newCallablePlaceholder(st.Name))
		return nil, nil

	case depextract.StatementClassDef:
		g.set(st.Name, newCallablePlaceholder(st.Name))
		return nil, nil

	case depextract.StatementImport:
		if st.BoundName != "" {
			g.set(st.BoundName, nil)
		}
		return nil, nil

	case depextract.StatementImportFrom:
		for _, name := range st.BoundNames {
			g.set(name, nil)
		}
		return nil, nil

	case depextract.StatementExpr:
		val, err := ev.eval(g, st.ValueSrc)
		return val, err

	default:
		return nil, fmt.Errorf("RUNTIME_ERROR: unsupported statement kind %v", st.Kind)
	}
}

func (ev *imperativeEvaluator) eval(g *Globals, src string) (any, error) {
	if src == "" {
		return nil, nil
	}
	env := g.env()
	program, err := ev.programs.compile(src, env)
	if err != nil {
		return nil, fmt.Errorf("PARSE_ERROR: %w", err)
	}
	val, err := runProgram(program, env)
	if err != nil {
		return nil, fmt.Errorf("RUNTIME_ERROR: %w", err)
	}
	return val, nil
}

func runProgram(program *vm.Program, env map[string]any) (any, error) {
	return vm.Run(program, env)
}

type callablePlaceholder struct {
	Name string
}

func newCallablePlaceholder(name string) callablePlaceholder {
	return callablePlaceholder{Name: name}
}

func (c callablePlaceholder) String() string {
	return fmt.Sprintf("<function %s>", c.Name)
}

// combineAug applies an augmented-assignment operator (+=, -=, *=, /=, //=,
// %=) to the current value and the evaluated right-hand side. Only numeric
// and string operands are supported, which covers every augmented
// assignment depextract can statically recognize.
func combineAug(cur any, op string, rhs any) (any, error) {
	base := op
	if len(base) > 0 && base[len(base)-1] == '=' {
		base = base[:len(base)-1]
	}
	switch c := cur.(type) {
	case nil:
		// No prior writer: spec.md §8 boundary behavior — still a write,
		// evaluated as if starting from the rhs's zero value for +=,
		// otherwise an error.
		if base == "+" {
			return rhs, nil
		}
		return nil, fmt.Errorf("RUNTIME_ERROR: augmented assignment on undefined variable")
	case string:
		r, ok := rhs.(string)
		if !ok || base != "+" {
			return nil, fmt.Errorf("RUNTIME_ERROR: unsupported augmented assignment on string")
		}
		return c + r, nil
	default:
		cf, ok1 := toFloat(cur)
		rf, ok2 := toFloat(rhs)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("RUNTIME_ERROR: unsupported operand types for %s", op)
		}
		result, err := arith(cf, base, rf)
		if err != nil {
			return nil, err
		}
		if isInt(cur) && isInt(rhs) && base != "/" {
			return int(result), nil
		}
		return result, nil
	}
}

func arith(a float64, op string, b float64) (float64, error) {
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, fmt.Errorf("RUNTIME_ERROR: division by zero")
		}
		return a / b, nil
	case "//":
		if b == 0 {
			return 0, fmt.Errorf("RUNTIME_ERROR: division by zero")
		}
		return float64(int(a / b)), nil
	case "%":
		if b == 0 {
			return 0, fmt.Errorf("RUNTIME_ERROR: modulo by zero")
		}
		return float64(int(a) % int(b)), nil
	default:
		return 0, fmt.Errorf("RUNTIME_ERROR: unsupported operator %s", op)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

func isInt(v any) bool {
	switch v.(type) {
	case int, int64:
		return true
	default:
		return false
	}
}
