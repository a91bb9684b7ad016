package form

// cel.go lets schema files express predicates, option lists and custom checks
// as CEL expressions instead of Go functions.
//
// Expressions see two variables:
//
//	value   the source (or validated) field's value
//	values  map of every field name to its current value
//
// Numbers are doubles, dates are timestamps, files are maps with name, size,
// mimeType and contentRef, and empty fields are null.

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/JonMunkholm/erpshell/internal/value"
)

var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error

	prgMu    sync.RWMutex
	prgCache = make(map[string]cel.Program)
)

func exprEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("value", cel.DynType),
			cel.Variable("values", cel.MapType(cel.StringType, cel.DynType)),
			cel.CrossTypeNumericComparisons(true),
		)
		if celEnvErr != nil {
			celEnvErr = fmt.Errorf("create CEL environment: %w", celEnvErr)
		}
	})
	return celEnv, celEnvErr
}

// program compiles src once per process.
func program(src string) (cel.Program, error) {
	prgMu.RLock()
	prg, hit := prgCache[src]
	prgMu.RUnlock()
	if hit {
		return prg, nil
	}

	env, err := exprEnv()
	if err != nil {
		return nil, err
	}

	prgMu.Lock()
	defer prgMu.Unlock()
	if prg, hit = prgCache[src]; hit {
		return prg, nil
	}

	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", src, issues.Err())
	}
	prg, err = env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", src, err)
	}
	prgCache[src] = prg
	return prg, nil
}

// Expr is a compiled CEL expression usable as a Predicate, an
// OptionsProvider or a Check.
type Expr struct {
	src string
	prg cel.Program
}

// CompileExpr compiles src.
func CompileExpr(src string) (*Expr, error) {
	prg, err := program(src)
	if err != nil {
		return nil, err
	}
	return &Expr{src: src, prg: prg}, nil
}

// MustExpr is CompileExpr that panics on error. For static expressions.
func MustExpr(src string) *Expr {
	x, err := CompileExpr(src)
	if err != nil {
		panic(err)
	}
	return x
}

// String returns the expression source.
func (x *Expr) String() string { return x.src }

func (x *Expr) eval(v value.Value, s State) (any, error) {
	vars := map[string]any{
		"value":  plainValue(v),
		"values": plainValues(s.Values),
	}
	out, _, err := x.prg.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", x.src, err)
	}
	if out.Type() == types.NullType {
		return nil, nil
	}
	return out.Value(), nil
}

// Eval implements Predicate. Evaluation errors and non-bool results are false.
func (x *Expr) Eval(v value.Value, s State) bool {
	out, err := x.eval(v, s)
	if err != nil {
		s.logger().Debug("expression failed", "expr", x.src, "error", err)
		return false
	}
	b, _ := out.(bool)
	return b
}

// Options implements OptionsProvider. The expression yields a list of
// strings (value and label alike) or of maps with value and label keys.
func (x *Expr) Options(v value.Value, s State) []Option {
	vars := map[string]any{
		"value":  plainValue(v),
		"values": plainValues(s.Values),
	}
	out, _, err := x.prg.Eval(vars)
	if err != nil {
		s.logger().Debug("expression failed", "expr", x.src, "error", err)
		return []Option{}
	}

	if strs, err := out.ConvertToNative(reflect.TypeOf([]string{})); err == nil {
		list := strs.([]string)
		opts := make([]Option, len(list))
		for i, s := range list {
			opts[i] = Option{Value: s, Label: s}
		}
		return opts
	}

	maps, err := out.ConvertToNative(reflect.TypeOf([]map[string]string{}))
	if err != nil {
		s.logger().Debug("expression is not an option list", "expr", x.src, "type", out.Type())
		return []Option{}
	}
	list := maps.([]map[string]string)
	opts := make([]Option, 0, len(list))
	for _, m := range list {
		o := Option{Value: m["value"], Label: m["label"]}
		if o.Label == "" {
			o.Label = o.Value
		}
		opts = append(opts, o)
	}
	return opts
}

// Check implements Check. A bool result fails with MsgCustom when false; a
// string result is the message itself ("" passes).
func (x *Expr) Check(v value.Value, s State) string {
	out, err := x.eval(v, s)
	if err != nil {
		s.logger().Debug("expression failed", "expr", x.src, "error", err)
		return MsgCustom
	}
	switch r := out.(type) {
	case bool:
		if r {
			return ""
		}
		return MsgCustom
	case string:
		return r
	case nil:
		return ""
	default:
		return MsgCustom
	}
}

// plainValue converts v into a CEL-friendly native value.
func plainValue(v value.Value) any {
	if f, ok := v.File(); ok {
		return map[string]any{
			"name":       f.Name,
			"size":       f.Size,
			"mimeType":   f.MimeType,
			"contentRef": f.ContentRef,
		}
	}
	return v.Interface()
}
