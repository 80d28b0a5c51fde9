package authkit

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParsePredicate parses a textual policy predicate into the native Expr AST.
// The grammar is deliberately small and deterministic:
//
//	<predicate> := <clause> { "||" <clause> }
//	<clause>    := <term>   { "&&" <term> }
//	<term>      := <attr> "==" <value>
//	             | <attr> "contains" <value>
//	             | <attr> "within" <value>
//
// where <value> is a JSON literal (string, number, bool, array, object) or a
// bare word taken as a string. "||" binds loosest, so the result is a
// disjunction of conjunctions; Expr.String output parses back to an
// equivalent tree, which is how policies round-trip through SQL storage.
func ParsePredicate(s string) (Expr, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty predicate: %w", ErrInvalid)
	}
	clauses, err := splitTopLevel(s, "||")
	if err != nil {
		return nil, err
	}
	if len(clauses) > 1 {
		subs := make([]Expr, 0, len(clauses))
		for _, clause := range clauses {
			sub, err := parseClause(clause)
			if err != nil {
				return nil, err
			}
			subs = append(subs, sub)
		}
		return &OrExpr{Exprs: subs}, nil
	}
	return parseClause(s)
}

func parseClause(s string) (Expr, error) {
	terms, err := splitTopLevel(s, "&&")
	if err != nil {
		return nil, err
	}
	if len(terms) > 1 {
		subs := make([]Expr, 0, len(terms))
		for _, term := range terms {
			sub, err := parseTerm(term)
			if err != nil {
				return nil, err
			}
			subs = append(subs, sub)
		}
		return &AndExpr{Exprs: subs}, nil
	}
	return parseTerm(s)
}

func parseTerm(s string) (Expr, error) {
	s = strings.TrimSpace(s)
	for _, op := range []string{"==", " contains ", " within "} {
		idx, err := indexTopLevel(s, op)
		if err != nil {
			return nil, err
		}
		if idx < 0 {
			continue
		}
		attr := strings.TrimSpace(s[:idx])
		if attr == "" || strings.ContainsAny(attr, " \t\"[]{}") {
			return nil, fmt.Errorf("bad attribute name %q: %w", attr, ErrInvalid)
		}
		value, err := parseValue(s[idx+len(op):])
		if err != nil {
			return nil, err
		}
		switch strings.TrimSpace(op) {
		case "==":
			return &AttrEqualsExpr{Attr: attr, Value: value}, nil
		case "contains":
			return &AttrContainsExpr{Attr: attr, Value: value}, nil
		case "within":
			return &AttrContainedByExpr{Attr: attr, Value: value}, nil
		}
	}
	return nil, fmt.Errorf("unsupported predicate term %q: %w", s, ErrInvalid)
}

// parseValue decodes the right-hand side as JSON, falling back to a bare
// string so `dept == engineering` means the same as `dept == "engineering"`.
func parseValue(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("missing predicate value: %w", ErrInvalid)
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v, nil
	}
	if strings.ContainsAny(s, "\"[]{}") {
		return nil, fmt.Errorf("malformed predicate value %q: %w", s, ErrInvalid)
	}
	return s, nil
}

// splitTopLevel splits on sep wherever it occurs outside JSON strings,
// arrays and objects.
func splitTopLevel(s, sep string) ([]string, error) {
	var out []string
	rest := s
	for {
		idx, err := indexTopLevel(rest, sep)
		if err != nil {
			return nil, err
		}
		if idx < 0 {
			out = append(out, rest)
			return out, nil
		}
		out = append(out, rest[:idx])
		rest = rest[idx+len(sep):]
	}
}

// indexTopLevel finds the first occurrence of sep at bracket depth zero and
// outside string literals. Returns -1 when absent, an error on unbalanced
// input.
func indexTopLevel(s, sep string) (int, error) {
	depth := 0
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth < 0 {
				return 0, fmt.Errorf("unbalanced brackets in predicate %q: %w", s, ErrInvalid)
			}
		default:
			if depth == 0 && strings.HasPrefix(s[i:], sep) {
				return i, nil
			}
		}
	}
	if inString || depth != 0 {
		return 0, fmt.Errorf("unterminated predicate %q: %w", s, ErrInvalid)
	}
	return -1, nil
}
