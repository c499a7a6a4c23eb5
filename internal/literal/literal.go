// Package literal decodes string-encoded literal structures such as
// "{'oauth_consumer_key': 'k1', 'attempts': [1, 2]}".
//
// The source is parsed into an expression tree and only literal nodes are
// accepted: mappings, lists, tuples, strings (single or double quoted),
// numbers, True, False and None. Anything else (names, calls, operators,
// comprehensions) is rejected, so decoding never evaluates the input.
// Python repr forms are tolerated: u-prefixed strings and \xNN escapes of
// Latin-1 characters.
package literal

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"go.starlark.net/syntax"
)

var (
	// ErrSyntax is returned when the source is not a well-formed expression.
	ErrSyntax = errors.New("literal syntax error")

	// ErrUnsupported is returned when the expression contains a node outside
	// the literal grammar.
	ErrUnsupported = errors.New("unsupported literal")

	// ErrNotMapping is returned by DecodeMap for non-mapping values.
	ErrNotMapping = errors.New("literal is not a mapping")
)

// Decode parses src and returns the value it denotes. Mappings decode to
// map[string]any, lists and tuples to []any, integers to int64 (or *big.Int
// when they overflow), floats to float64, True/False to bool and None to nil.
func Decode(src string) (any, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("%w: empty input", ErrSyntax)
	}

	src, err := prepare(src)
	if err != nil {
		return nil, err
	}

	expr, err := syntax.ParseExpr("literal", src, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return convert(expr)
}

// DecodeMap decodes src and requires the result to be a mapping.
func DecodeMap(src string) (map[string]any, error) {
	v, err := Decode(src)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrNotMapping, typeName(v))
	}
	return m, nil
}

func convert(expr syntax.Expr) (any, error) {
	switch e := expr.(type) {
	case *syntax.Literal:
		return literalValue(e)
	case *syntax.Ident:
		switch e.Name {
		case "True":
			return true, nil
		case "False":
			return false, nil
		case "None":
			return nil, nil
		}
		return nil, fmt.Errorf("%w: name %q", ErrUnsupported, e.Name)
	case *syntax.ParenExpr:
		return convert(e.X)
	case *syntax.UnaryExpr:
		return signed(e)
	case *syntax.ListExpr:
		return convertList(e.List)
	case *syntax.TupleExpr:
		return convertList(e.List)
	case *syntax.DictExpr:
		return convertDict(e)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupported, expr)
}

func literalValue(lit *syntax.Literal) (any, error) {
	switch lit.Token {
	case syntax.STRING, syntax.BYTES:
		s, ok := lit.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: string literal %s", ErrUnsupported, lit.Raw)
		}
		return s, nil
	case syntax.INT:
		switch v := lit.Value.(type) {
		case int64:
			return v, nil
		case *big.Int:
			return v, nil
		}
	case syntax.FLOAT:
		if v, ok := lit.Value.(float64); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: literal %s", ErrUnsupported, lit.Raw)
}

// signed accepts a leading + or - on a numeric operand only.
func signed(e *syntax.UnaryExpr) (any, error) {
	if e.Op != syntax.MINUS && e.Op != syntax.PLUS {
		return nil, fmt.Errorf("%w: operator %s", ErrUnsupported, e.Op)
	}
	operand, err := convert(e.X)
	if err != nil {
		return nil, err
	}
	neg := e.Op == syntax.MINUS
	switch v := operand.(type) {
	case int64:
		if neg {
			return -v, nil
		}
		return v, nil
	case *big.Int:
		if !neg {
			return v, nil
		}
		return new(big.Int).Neg(v), nil
	case float64:
		if neg {
			return -v, nil
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w: sign applied to %s", ErrUnsupported, typeName(operand))
}

func convertList(items []syntax.Expr) ([]any, error) {
	out := make([]any, 0, len(items))
	for _, item := range items {
		v, err := convert(item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func convertDict(d *syntax.DictExpr) (map[string]any, error) {
	out := make(map[string]any, len(d.List))
	for _, item := range d.List {
		entry, ok := item.(*syntax.DictEntry)
		if !ok {
			return nil, fmt.Errorf("%w: %T in mapping", ErrUnsupported, item)
		}
		k, err := convert(entry.Key)
		if err != nil {
			return nil, err
		}
		key, err := keyString(k)
		if err != nil {
			return nil, err
		}
		v, err := convert(entry.Value)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// keyString renders a scalar mapping key. Containers are not hashable.
func keyString(k any) (string, error) {
	switch v := k.(type) {
	case string:
		return v, nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case *big.Int:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case bool:
		if v {
			return "True", nil
		}
		return "False", nil
	case nil:
		return "None", nil
	}
	return "", fmt.Errorf("%w: unhashable key of type %s", ErrUnsupported, typeName(k))
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "None"
	case map[string]any:
		return "mapping"
	case []any:
		return "list"
	case string:
		return "string"
	case bool:
		return "bool"
	case int64, *big.Int:
		return "int"
	case float64:
		return "float"
	}
	return fmt.Sprintf("%T", v)
}
