package expression

import (
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	ngsi "ngsi-gateway/internal/ngsi/domain"
)

// JEXLEvaluator evaluates JEXL-style expressions such as `temperature * 2` or
// `name|toUpperCase`.
type JEXLEvaluator struct {
	options []expr.Option

	mu       sync.RWMutex
	programs map[string]compiled
}

type compiled struct {
	program *vm.Program
	refs    []string
}

// NewJEXLEvaluator constructs the jexl dialect evaluator.
func NewJEXLEvaluator() *JEXLEvaluator {
	var options []expr.Option
	for name, fn := range jexlTransforms() {
		options = append(options, expr.Function(name, fn))
	}
	return &JEXLEvaluator{
		options:  options,
		programs: make(map[string]compiled),
	}
}

// Evaluate implements Evaluator.
func (e *JEXLEvaluator) Evaluate(source string, ctx Context) (any, error) {
	c, err := e.compile(source)
	if err != nil {
		return nil, err
	}
	if missing(ctx, c.refs) {
		return nil, nil
	}
	env := make(map[string]any, len(ctx))
	for k, v := range ctx {
		env[k] = v
	}
	result, err := expr.Run(c.program, env)
	if err != nil {
		return nil, ngsi.Wrap(ngsi.KindBadRequest, err, "expression "+source)
	}
	return result, nil
}

func (e *JEXLEvaluator) compile(source string) (compiled, error) {
	e.mu.RLock()
	c, ok := e.programs[source]
	e.mu.RUnlock()
	if ok {
		return c, nil
	}

	rewritten := rewritePipes(strings.TrimSpace(source))
	if rewritten == "" {
		return compiled{}, ngsi.NewError(ngsi.KindBadRequest, "empty expression")
	}
	tree, err := parser.Parse(rewritten)
	if err != nil {
		return compiled{}, ngsi.Wrap(ngsi.KindBadRequest, err, "expression "+source)
	}
	program, err := expr.Compile(rewritten, e.options...)
	if err != nil {
		return compiled{}, ngsi.Wrap(ngsi.KindBadRequest, err, "expression "+source)
	}
	c = compiled{program: program, refs: references(tree.Node)}

	e.mu.Lock()
	e.programs[source] = c
	e.mu.Unlock()
	return c, nil
}

// rewritePipes turns JEXL transforms `value|name` and `value|name(arg)` into
// the engine's pipe calls `value | name()` and `value | name(arg)`.
func rewritePipes(source string) string {
	var out strings.Builder
	for i := 0; i < len(source); i++ {
		ch := source[i]
		switch {
		case ch == '"' || ch == '\'' || ch == '`':
			end := strings.IndexByte(source[i+1:], ch)
			if end < 0 {
				out.WriteString(source[i:])
				return out.String()
			}
			out.WriteString(source[i : i+end+2])
			i += end + 1
		case ch == '|' && i+1 < len(source) && source[i+1] == '|':
			out.WriteString("||")
			i++
		case ch == '|':
			j := i + 1
			for j < len(source) && source[j] == ' ' {
				j++
			}
			k := j
			for k < len(source) && isNameChar(source[k]) {
				k++
			}
			name := source[j:k]
			if name == "" {
				out.WriteByte(ch)
				continue
			}
			out.WriteString(" | " + name)
			p := k
			for p < len(source) && source[p] == ' ' {
				p++
			}
			if p >= len(source) || source[p] != '(' {
				out.WriteString("()")
			}
			i = k - 1
		default:
			out.WriteByte(ch)
		}
	}
	return out.String()
}

type refCollector struct {
	idents []string
	funcs  map[string]bool
}

func (r *refCollector) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		r.idents = append(r.idents, n.Value)
	case *ast.CallNode:
		if id, ok := n.Callee.(*ast.IdentifierNode); ok {
			r.funcs[id.Value] = true
		}
	}
}

// references lists identifiers used as values, not as function names.
func references(node ast.Node) []string {
	collector := &refCollector{funcs: map[string]bool{}}
	ast.Walk(&node, collector)
	seen := map[string]bool{}
	var refs []string
	for _, id := range collector.idents {
		if collector.funcs[id] || seen[id] {
			continue
		}
		seen[id] = true
		refs = append(refs, id)
	}
	return refs
}
