package expression

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"

	ngsi "ngsi-gateway/internal/ngsi/domain"
)

// LegacyEvaluator evaluates the `${@attr * 2}` arithmetic dialect.
type LegacyEvaluator struct {
	functions map[string]govaluate.ExpressionFunction
}

// NewLegacyEvaluator constructs the legacy dialect evaluator.
func NewLegacyEvaluator() *LegacyEvaluator {
	return &LegacyEvaluator{functions: legacyFunctions()}
}

// Evaluate implements Evaluator.
func (e *LegacyEvaluator) Evaluate(source string, ctx Context) (any, error) {
	translated, refs, err := translateLegacy(source)
	if err != nil {
		return nil, err
	}
	if missing(ctx, refs) {
		return nil, nil
	}
	compiled, err := govaluate.NewEvaluableExpressionWithFunctions(translated, e.functions)
	if err != nil {
		return nil, ngsi.Wrap(ngsi.KindBadRequest, err, "expression "+source)
	}
	params := make(map[string]interface{}, len(refs))
	for _, ref := range refs {
		params[ref] = legacyValue(ctx[ref])
	}
	result, err := compiled.Evaluate(params)
	if err != nil {
		return nil, ngsi.Wrap(ngsi.KindBadRequest, err, "expression "+source)
	}
	return result, nil
}

// translateLegacy rewrites the dialect into govaluate syntax and lists the
// referenced attributes: `@name` becomes `[name]`, `#` concatenates.
func translateLegacy(source string) (string, []string, error) {
	s := strings.TrimSpace(source)
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		s = strings.TrimSpace(s[2 : len(s)-1])
	}
	if s == "" {
		return "", nil, ngsi.NewError(ngsi.KindBadRequest, "empty expression")
	}

	var (
		out  strings.Builder
		refs []string
		seen = map[string]bool{}
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"' || ch == '\'':
			end := strings.IndexByte(s[i+1:], ch)
			if end < 0 {
				return "", nil, ngsi.NewError(ngsi.KindBadRequest, fmt.Sprintf("unterminated string in %q", source))
			}
			out.WriteByte('\'')
			out.WriteString(s[i+1 : i+1+end])
			out.WriteByte('\'')
			i += end + 1
		case ch == '@':
			j := i + 1
			for j < len(s) && isNameChar(s[j]) {
				j++
			}
			name := s[i+1 : j]
			if name == "" {
				return "", nil, ngsi.NewError(ngsi.KindBadRequest, fmt.Sprintf("dangling @ in %q", source))
			}
			if !seen[name] {
				seen[name] = true
				refs = append(refs, name)
			}
			out.WriteString("[" + name + "]")
			i = j - 1
		case ch == '#':
			out.WriteByte('+')
		default:
			out.WriteByte(ch)
		}
	}
	return out.String(), refs, nil
}

func isNameChar(ch byte) bool {
	return ch == '_' ||
		(ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

// legacyValue normalises numbers to float64, the only numeric type govaluate accepts.
func legacyValue(value any) any {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	default:
		return value
	}
}

func legacyFunctions() map[string]govaluate.ExpressionFunction {
	return map[string]govaluate.ExpressionFunction{
		"trim": func(args ...interface{}) (interface{}, error) {
			s, err := stringArg("trim", args, 0)
			if err != nil {
				return nil, err
			}
			return strings.TrimSpace(s), nil
		},
		"length": func(args ...interface{}) (interface{}, error) {
			s, err := stringArg("length", args, 0)
			if err != nil {
				return nil, err
			}
			return float64(len([]rune(s))), nil
		},
		"substr": func(args ...interface{}) (interface{}, error) {
			s, err := stringArg("substr", args, 0)
			if err != nil {
				return nil, err
			}
			return substring(s, args[1:]...)
		},
		"indexOf": func(args ...interface{}) (interface{}, error) {
			s, err := stringArg("indexOf", args, 0)
			if err != nil {
				return nil, err
			}
			sub, err := stringArg("indexOf", args, 1)
			if err != nil {
				return nil, err
			}
			return float64(strings.Index(s, sub)), nil
		},
		"toUpperCase": func(args ...interface{}) (interface{}, error) {
			s, err := stringArg("toUpperCase", args, 0)
			if err != nil {
				return nil, err
			}
			return strings.ToUpper(s), nil
		},
		"toLowerCase": func(args ...interface{}) (interface{}, error) {
			s, err := stringArg("toLowerCase", args, 0)
			if err != nil {
				return nil, err
			}
			return strings.ToLower(s), nil
		},
	}
}
