package expression

import (
	"fmt"
	"strconv"
	"strings"
)

func stringArg(fn string, args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%s: missing argument %d", fn, i+1)
	}
	switch v := args[i].(type) {
	case string:
		return v, nil
	case nil:
		return "", fmt.Errorf("%s: nil argument %d", fn, i+1)
	default:
		return fmt.Sprint(v), nil
	}
}

func intArg(fn string, args []any, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("%s: missing argument %d", fn, i+1)
	}
	switch v := args[i].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%s: argument %d: %w", fn, i+1, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s: argument %d is %T", fn, i+1, args[i])
	}
}

// substring follows substr(start[, length]) semantics on runes.
func substring(s string, args ...any) (any, error) {
	runes := []rune(s)
	start, err := intArg("substr", args, 0)
	if err != nil {
		return nil, err
	}
	if start < 0 {
		start += len(runes)
	}
	if start < 0 {
		start = 0
	}
	if start > len(runes) {
		return "", nil
	}
	end := len(runes)
	if len(args) > 1 {
		n, err := intArg("substr", args, 1)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			n = 0
		}
		if start+n < end {
			end = start + n
		}
	}
	return string(runes[start:end]), nil
}

// jexlTransforms are the transforms available to the jexl dialect beyond the
// builtins of the underlying engine (trim, round, indexOf, len, ...).
func jexlTransforms() map[string]func(params ...any) (any, error) {
	return map[string]func(params ...any) (any, error){
		"toUpperCase": func(params ...any) (any, error) {
			s, err := stringArg("toUpperCase", params, 0)
			if err != nil {
				return nil, err
			}
			return strings.ToUpper(s), nil
		},
		"toLowerCase": func(params ...any) (any, error) {
			s, err := stringArg("toLowerCase", params, 0)
			if err != nil {
				return nil, err
			}
			return strings.ToLower(s), nil
		},
		"substr": func(params ...any) (any, error) {
			s, err := stringArg("substr", params, 0)
			if err != nil {
				return nil, err
			}
			return substring(s, params[1:]...)
		},
		"length": func(params ...any) (any, error) {
			if len(params) == 0 {
				return nil, fmt.Errorf("length: missing argument")
			}
			switch v := params[0].(type) {
			case string:
				return len([]rune(v)), nil
			case []any:
				return len(v), nil
			case map[string]any:
				return len(v), nil
			default:
				return len(fmt.Sprint(v)), nil
			}
		},
		"parseint": func(params ...any) (any, error) {
			s, err := stringArg("parseint", params, 0)
			if err != nil {
				return nil, err
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, nil
			}
			return int(f), nil
		},
		"parsefloat": func(params ...any) (any, error) {
			s, err := stringArg("parsefloat", params, 0)
			if err != nil {
				return nil, err
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, nil
			}
			return f, nil
		},
	}
}
